package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func replayCmd() *cobra.Command {
	var flags crewFlags
	cmd := &cobra.Command{
		Use:          "replay <task_name>",
		Short:        "Re-run the latest run starting from the given task",
		Long:         "Reload the latest stored run, reuse the outputs of the tasks before task_name and execute the crew from that task.",
		SilenceUsage: true,
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) < 1 {
				return fmt.Errorf("task_name is required")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := flags.options(cmd)
			if err != nil {
				return err
			}
			app, err := newCrewApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer app.Close()

			_, err = app.runner.Replay(cmd.Context(), args[0])
			return err
		},
	}
	flags.register(cmd)
	return cmd
}
