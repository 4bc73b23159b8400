package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/metalagman/fraudcrew/internal/config"
	"github.com/metalagman/fraudcrew/internal/project"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a fraudcrew project",
		Long:  "Create the .fraudcrew state directory, the data output directories and a default config.yaml.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			root, err := projectDir()
			if err != nil {
				return err
			}
			path, written, err := initProject(root, force)
			if err != nil {
				return err
			}
			if written {
				fmt.Fprintf(cmd.OutOrStdout(), "fraudcrew initialized, edit %s to tune the crew\n", path)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "fraudcrew already initialized (%s)\n", path)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config.yaml")
	return cmd
}

// initProject creates the project directories and writes the default config.
// It reports whether the config file was written.
func initProject(root string, force bool) (string, bool, error) {
	cfg, err := config.Load("")
	if err != nil {
		return "", false, err
	}
	layout, err := project.Resolve(root, cfg.Data)
	if err != nil {
		return "", false, err
	}
	log.Info().Str("dir", layout.StateDir).Msg("creating fraudcrew directory")
	if err := layout.EnsureStateDirs(); err != nil {
		return "", false, err
	}
	if err := layout.EnsureOutputDirs(); err != nil {
		return "", false, err
	}
	if err := os.MkdirAll(filepath.Dir(layout.Dataset), 0o755); err != nil {
		return "", false, fmt.Errorf("create dataset dir: %w", err)
	}

	path := project.DefaultConfigPath(layout.Root)
	if _, err := os.Stat(path); err == nil && !force {
		log.Info().Msg("config.yaml already exists, skipping")
		return path, false, nil
	} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", false, fmt.Errorf("stat config: %w", err)
	}

	data, err := defaultConfigYAML()
	if err != nil {
		return "", false, err
	}
	log.Info().Str("path", path).Msg("installing default config")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", false, fmt.Errorf("write default config: %w", err)
	}
	return path, true, nil
}

// defaultConfigYAML re-encodes the built-in defaults so the written file is
// normalized and known to parse.
func defaultConfigYAML() ([]byte, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(config.DefaultsYAML(), &doc); err != nil {
		return nil, fmt.Errorf("parse default config: %w", err)
	}
	data, err := yaml.Marshal(&doc)
	if err != nil {
		return nil, fmt.Errorf("marshal default config: %w", err)
	}
	return data, nil
}
