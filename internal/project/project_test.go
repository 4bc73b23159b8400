package project

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/metalagman/fraudcrew/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testData() config.DataConfig {
	return config.DataConfig{
		Dataset:     "data/processed/train_merged.csv",
		FeaturesDir: "data/features",
		ModelsDir:   "data/models",
		ReportsDir:  "data/reports",
	}
}

func TestResolve(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	l, err := Resolve(root, testData())
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(root, "data/processed/train_merged.csv"), l.Dataset)
	assert.Equal(t, filepath.Join(root, ".fraudcrew", "fraudcrew.db"), l.DBPath)
	assert.Equal(t, "data/reports", l.Rel(l.ReportsDir))
	assert.Equal(t, filepath.Join(root, ".fraudcrew", "runs", "r1", "steps", "003-feature_engineering_task"),
		l.StepDir("r1", 2, "feature_engineering_task"))

	abs := testData()
	abs.Dataset = "/srv/data/train.csv"
	l, err = Resolve(root, abs)
	require.NoError(t, err)
	assert.Equal(t, "/srv/data/train.csv", l.Dataset)
}

func TestEnsureOutputDirs_Idempotent(t *testing.T) {
	t.Parallel()

	l, err := Resolve(t.TempDir(), testData())
	require.NoError(t, err)

	require.NoError(t, l.EnsureOutputDirs())
	require.NoError(t, l.EnsureOutputDirs())
	for _, dir := range []string{l.FeaturesDir, l.ModelsDir, l.ReportsDir} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestDataset(t *testing.T) {
	t.Parallel()

	l, err := Resolve(t.TempDir(), testData())
	require.NoError(t, err)

	_, err = l.StatDataset()
	require.True(t, errors.Is(err, ErrDatasetMissing), "err = %v", err)

	require.NoError(t, os.MkdirAll(filepath.Dir(l.Dataset), 0o755))
	content := []byte("TransactionID,isFraud\n1,0\n")
	require.NoError(t, os.WriteFile(l.Dataset, content, 0o644))

	info, err := l.StatDataset()
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), info.Size)
	assert.Greater(t, info.SizeGB(), 0.0)
}

func TestTryLock_Exclusive(t *testing.T) {
	t.Parallel()

	l, err := Resolve(t.TempDir(), testData())
	require.NoError(t, err)

	first, err := l.TryLock()
	require.NoError(t, err)

	_, err = l.TryLock()
	require.ErrorIs(t, err, ErrLocked)

	require.NoError(t, first.Release())

	again, err := l.TryLock()
	require.NoError(t, err)
	require.NoError(t, again.Release())
}
