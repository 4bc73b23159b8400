package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func trainCmd() *cobra.Command {
	var flags crewFlags
	cmd := &cobra.Command{
		Use:          "train <n_iterations> <filename>",
		Short:        "Run the crew repeatedly and save every task output",
		SilenceUsage: true,
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) < 2 {
				return fmt.Errorf("n_iterations and filename are required")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := parseIterations(args[0])
			if err != nil {
				return err
			}
			opts, err := flags.options(cmd)
			if err != nil {
				return err
			}
			app, err := newCrewApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer app.Close()

			path, err := app.runner.Train(cmd.Context(), n, args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Training data written to %s\n", path)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func parseIterations(raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("n_iterations must be an integer: %w", err)
	}
	return n, nil
}
