// Package project resolves the on-disk layout of a fraudcrew project.
package project

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/metalagman/fraudcrew/internal/config"
)

const (
	// StateDirName holds fraudcrew state inside the project root.
	StateDirName = ".fraudcrew"
	dbFileName   = "fraudcrew.db"
	configName   = "config.yaml"
)

// Layout holds absolute project paths.
type Layout struct {
	Root        string
	Dataset     string
	FeaturesDir string
	ModelsDir   string
	ReportsDir  string
	StateDir    string
	RunsDir     string
	DBPath      string
}

// Resolve builds the layout for root using the configured data paths.
func Resolve(root string, data config.DataConfig) (Layout, error) {
	if root == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return Layout{}, fmt.Errorf("resolve project root: %w", err)
	}
	stateDir := filepath.Join(abs, StateDirName)
	return Layout{
		Root:        abs,
		Dataset:     join(abs, data.Dataset),
		FeaturesDir: join(abs, data.FeaturesDir),
		ModelsDir:   join(abs, data.ModelsDir),
		ReportsDir:  join(abs, data.ReportsDir),
		StateDir:    stateDir,
		RunsDir:     filepath.Join(stateDir, "runs"),
		DBPath:      filepath.Join(stateDir, dbFileName),
	}, nil
}

// DefaultConfigPath returns the default config file location under root.
func DefaultConfigPath(root string) string {
	return filepath.Join(root, StateDirName, configName)
}

// EnsureOutputDirs creates the features, models and reports directories.
func (l Layout) EnsureOutputDirs() error {
	for _, dir := range []string{l.FeaturesDir, l.ModelsDir, l.ReportsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// EnsureStateDirs creates the .fraudcrew state directories.
func (l Layout) EnsureStateDirs() error {
	if err := os.MkdirAll(l.RunsDir, 0o755); err != nil {
		return fmt.Errorf("create runs dir: %w", err)
	}
	return nil
}

// DatasetInfo describes the input dataset.
type DatasetInfo struct {
	Path string
	Size int64
}

// SizeGB returns the dataset size in gigabytes.
func (d DatasetInfo) SizeGB() float64 {
	return float64(d.Size) / (1 << 30)
}

// ErrDatasetMissing is returned when the dataset file does not exist.
var ErrDatasetMissing = errors.New("dataset not found")

// StatDataset stats the dataset file.
func (l Layout) StatDataset() (DatasetInfo, error) {
	info, err := os.Stat(l.Dataset)
	if errors.Is(err, fs.ErrNotExist) {
		return DatasetInfo{}, fmt.Errorf("%s: %w", l.Dataset, ErrDatasetMissing)
	}
	if err != nil {
		return DatasetInfo{}, fmt.Errorf("stat dataset: %w", err)
	}
	if info.IsDir() {
		return DatasetInfo{}, fmt.Errorf("%s is a directory: %w", l.Dataset, ErrDatasetMissing)
	}
	return DatasetInfo{Path: l.Dataset, Size: info.Size()}, nil
}

// Rel returns path relative to the project root when possible.
func (l Layout) Rel(path string) string {
	rel, err := filepath.Rel(l.Root, path)
	if err != nil {
		return path
	}
	return rel
}

// StepDir returns the directory of one task execution of a run.
func (l Layout) StepDir(runID string, index int, task string) string {
	return filepath.Join(l.RunsDir, runID, "steps", fmt.Sprintf("%03d-%s", index+1, task))
}

// RunDir returns the directory of a run.
func (l Layout) RunDir(runID string) string {
	return filepath.Join(l.RunsDir, runID)
}

func join(root, path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(root, path)
}
