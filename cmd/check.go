package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate configuration and integration credentials",
	Long:  "Checks the configuration for the report command, probes the configured geo and analytics credentials, and opens the run-history store.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		failed := runChecks(cmd.Context(), os.Stdout)
		if failed > 0 {
			return eris.Errorf("check: %d check(s) failed", failed)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

// runChecks executes every check, writes one result line each, and returns
// the number of failures. Unconfigured integrations are reported as skipped,
// never as failures.
func runChecks(ctx context.Context, out io.Writer) int {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	failed := 0

	check := func(name string, err error) {
		if err != nil {
			failed++
			_, _ = fmt.Fprintf(w, "%s\tFAILED\t%v\n", name, err)
			return
		}
		_, _ = fmt.Fprintf(w, "%s\tok\t\n", name)
	}
	skip := func(name string) {
		_, _ = fmt.Fprintf(w, "%s\tskipped\tnot configured\n", name)
	}

	check("config", cfg.Validate("report"))

	if locator := newLocator(); locator != nil {
		check("geo credential", locator.Validate(ctx))
	} else {
		skip("geo credential")
	}

	if ac := newAnalyticsClient(); ac != nil {
		check("analytics credential", ac.Validate(ctx))
	} else {
		skip("analytics credential")
	}

	st, err := initStore(ctx)
	if err == nil {
		err = st.Migrate(ctx)
		_ = st.Close()
	}
	check("run history store", err)

	_ = w.Flush()
	return failed
}
