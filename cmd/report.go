package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/tamarack-research/surveyqc/internal/pipeline"
	"github.com/tamarack-research/surveyqc/internal/report"
)

var (
	reportOut       string
	reportNoPublish bool
	reportFormat    string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Run the full QC pass and print the run report",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if reportOut != "" {
			cfg.Export.OutDir = reportOut
		}
		if err := cfg.Validate("report"); err != nil {
			return err
		}

		st := openHistory(ctx)
		if st != nil {
			defer st.Close() //nolint:errcheck
		}

		p := pipeline.New(cfg, st,
			newSurveyClient(),
			newLocator(),
			newAnalyticsClient(),
			newSheetsClient(),
			newNotionClient(),
		)

		data, err := p.Run(ctx, pipeline.Options{NoPublish: reportNoPublish})
		if err != nil {
			return eris.Wrap(err, "report")
		}

		return report.Render(os.Stdout, *data, reportFormat)
	},
}

func init() {
	reportCmd.Flags().StringVar(&reportOut, "out", "", "snapshot output directory (overrides export.out_dir)")
	reportCmd.Flags().BoolVar(&reportNoPublish, "no-publish", false, "skip the spreadsheet publish")
	reportCmd.Flags().StringVar(&reportFormat, "format", "tables", "report format: tables, json, md")
	rootCmd.AddCommand(reportCmd)
}
