package main

import (
	"os"
	"path/filepath"

	"github.com/metalagman/fraudcrew/internal/config"
	"github.com/metalagman/fraudcrew/internal/project"
	"github.com/spf13/viper"
)

func projectDir() (string, error) {
	if projectRoot != "" {
		return filepath.Abs(projectRoot)
	}
	return os.Getwd()
}

func resolveConfigPath(root, path string) string {
	if path == "" {
		return project.DefaultConfigPath(root)
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}

// loadConfig reads the configured file over the built-in defaults. A missing
// file is not an error.
func loadConfig(root string) (config.Config, error) {
	return config.Load(resolveConfigPath(root, viper.GetString("config")))
}
