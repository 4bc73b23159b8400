package main

import (
	"fmt"

	"github.com/metalagman/fraudcrew/internal/evaluate"
	"github.com/spf13/cobra"
)

func testCmd() *cobra.Command {
	var flags crewFlags
	cmd := &cobra.Command{
		Use:          "test <n_iterations> <eval_model>",
		Short:        "Run the crew repeatedly and score every task output with an evaluation model",
		SilenceUsage: true,
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) < 2 {
				return fmt.Errorf("n_iterations and eval_model are required")
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

			judge, err := app.evalClient(cmd.Context(), args[1])
			if err != nil {
				return fmt.Errorf("eval model: %w", err)
			}
			_, err = app.runner.Test(cmd.Context(), n, evaluate.New(judge))
			return err
		},
	}
	flags.register(cmd)
	return cmd
}
