package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/metalagman/fraudcrew/internal/logging"
	"github.com/metalagman/fraudcrew/internal/project"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile     string
	projectRoot string
	debug       bool
	rootCmd     = &cobra.Command{
		Use:   "fraudcrew",
		Short: "fraudcrew runs a sequential crew of LLM agents over a fraud detection dataset",
		Long: "fraudcrew drives five LLM agents (research, data analysis, feature engineering, " +
			"model development and evaluation) one after another and writes a Markdown evaluation report.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

// Execute runs the root command.
func Execute() error {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", filepath.Join(project.StateDirName, "config.yaml"), "config file path")
	rootCmd.PersistentFlags().StringVar(&projectRoot, "project-root", "", "project root (defaults to the current directory)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	if err := viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config")); err != nil {
		return fmt.Errorf("bind config flag: %w", err)
	}
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		logging.Init(debug)
	}

	def := runCmd()
	rootCmd.Flags().AddFlagSet(def.Flags())
	rootCmd.RunE = def.RunE

	rootCmd.AddCommand(def)
	rootCmd.AddCommand(trainCmd())
	rootCmd.AddCommand(testCmd())
	rootCmd.AddCommand(replayCmd())
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(runsCmd())
	rootCmd.AddCommand(uiCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fatal(err)
		return err
	}
	return nil
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
}
