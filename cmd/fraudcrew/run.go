package main

import (
	"github.com/metalagman/fraudcrew/internal/run"
	"github.com/spf13/cobra"
)

type crewFlags struct {
	full          bool
	showReport    bool
	markdownStyle string
}

func (f *crewFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.full, "full", false, "run on the full dataset instead of the development sample")
	cmd.Flags().BoolVar(&f.showReport, "show-report", false, "render the final report in the terminal")
	cmd.Flags().StringVar(&f.markdownStyle, "style", "auto", "glamour style used by --show-report")
}

func (f *crewFlags) options(cmd *cobra.Command) (appOptions, error) {
	root, err := projectDir()
	if err != nil {
		return appOptions{}, err
	}
	return appOptions{
		root: root,
		full: f.full,
		run: run.Options{
			Out:           cmd.OutOrStdout(),
			ShowReport:    f.showReport,
			MarkdownStyle: f.markdownStyle,
		},
	}, nil
}

func runCmd() *cobra.Command {
	var flags crewFlags
	cmd := &cobra.Command{
		Use:          "run",
		Short:        "Run the fraud detection crew once",
		Long:         "Run research, data analysis, feature engineering, model development and evaluation in order and write the evaluation report.",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts, err := flags.options(cmd)
			if err != nil {
				return err
			}
			app, err := newCrewApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer app.Close()

			_, err = app.runner.Run(cmd.Context())
			return err
		},
	}
	flags.register(cmd)
	return cmd
}
