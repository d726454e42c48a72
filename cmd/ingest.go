package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/portfolio-metrics/internal/ingest"
	"github.com/sells-group/portfolio-metrics/internal/ingest/source"
	"github.com/sells-group/portfolio-metrics/internal/model"
	"github.com/sells-group/portfolio-metrics/internal/store"
)

var ingestCmd = &cobra.Command{
	Use:         "ingest",
	Short:       "Run and inspect daily ingestion",
	Annotations: map[string]string{modeAnnotation: "ingest"},
}

// -- ingest run --

var ingestRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Ingest one day of metrics from every configured provider",
	Long:  "Runs the selected sources for a date (default yesterday, UTC). Re-running a date overwrites that date's rows.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		dateFlag, _ := cmd.Flags().GetString("date")
		sources, _ := cmd.Flags().GetStringSlice("sources")
		asJSON, _ := cmd.Flags().GetBool("json")

		date, err := parseDateFlag(dateFlag, time.Now().UTC().AddDate(0, 0, -1))
		if err != nil {
			return err
		}

		env, err := initIngest(ctx, nil)
		if err != nil {
			return err
		}
		defer env.Close()

		summary, err := env.Engine.Run(ctx, ingest.RunOpts{Date: date, Sources: sources})
		if err != nil {
			return eris.Wrap(err, "ingest run")
		}

		if asJSON {
			if err := writeJSON(os.Stdout, summary); err != nil {
				return err
			}
		} else {
			formatRunSummary(os.Stdout, summary)
		}

		if failed := summary.Failed(); len(failed) > 0 {
			return eris.Errorf("ingest run: %d of %d source(s) failed", len(failed), len(summary.Results))
		}
		return nil
	},
}

// -- ingest status --

var ingestStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the latest ingestion log entry per source",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		src, _ := cmd.Flags().GetString("source")
		limit, _ := cmd.Flags().GetInt("limit")

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		var entries []model.IngestionLogEntry
		if src != "" {
			entries, err = st.ListLogs(ctx, store.LogFilter{Source: src, Limit: limit})
		} else {
			entries, err = ingest.LastRuns(ctx, st, sourceNames())
		}
		if err != nil {
			return eris.Wrap(err, "ingest status")
		}

		if len(entries) == 0 {
			fmt.Fprintln(os.Stderr, "No ingestion runs found.")
			return nil
		}
		formatLogEntries(os.Stdout, entries)
		return nil
	},
}

// sourceNames lists every registered source without building provider
// clients.
func sourceNames() []string {
	return source.NewRegistry(&source.Clients{}, nil, 0, source.Deps{}).Names()
}

// parseDateFlag parses a YYYY-MM-DD flag value; empty returns def.
func parseDateFlag(v string, def time.Time) (time.Time, error) {
	if v == "" {
		return model.Day(def), nil
	}
	d, err := model.ParseDay(v)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "invalid date %q (want YYYY-MM-DD)", v)
	}
	return d, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// formatRunSummary writes one line per source result to w.
func formatRunSummary(out io.Writer, s *ingest.RunSummary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Run %s for %s\n", truncateID(s.RunID), s.Date.Format(model.DateLayout))
	_, _ = fmt.Fprintln(w, "SOURCE\tSTATUS\tRECORDS\tDURATION\tERROR")
	_, _ = fmt.Fprintln(w, "------\t------\t-------\t--------\t-----")
	for _, r := range s.Results {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			r.Source,
			resultStatus(r.Result),
			r.Result.RecordsProcessed,
			r.Elapsed.Round(time.Millisecond),
			truncate(r.Result.Error, 60),
		)
	}
	_, _ = fmt.Fprintf(w, "Total records:\t%d\n", s.Records())
	_ = w.Flush()
}

func resultStatus(r ingest.Result) string {
	switch {
	case r.NotConfigured:
		return "not configured"
	case r.Success:
		return "success"
	default:
		return "failed"
	}
}

// formatLogEntries writes a tabular list of ingestion log entries to w.
func formatLogEntries(out io.Writer, entries []model.IngestionLogEntry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SOURCE\tDATE\tSTATUS\tRECORDS\tSTARTED\tDURATION\tERROR")
	_, _ = fmt.Fprintln(w, "------\t----\t------\t-------\t-------\t--------\t-----")
	for _, e := range entries {
		dur := "-"
		if e.CompletedAt != nil {
			dur = e.Duration().Round(time.Second).String()
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			e.Source,
			e.Date.Format(model.DateLayout),
			e.Status,
			e.RecordsProcessed,
			e.StartedAt.Format("2006-01-02 15:04"),
			dur,
			truncate(e.ErrorMessage, 60),
		)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n-3] + "..."
	}
	return s
}

func init() {
	ingestRunCmd.Flags().String("date", "", "date to ingest, YYYY-MM-DD (default yesterday UTC)")
	ingestRunCmd.Flags().StringSlice("sources", nil, "comma-separated source names (default all)")
	ingestRunCmd.Flags().Bool("json", false, "print the run summary as JSON")

	ingestStatusCmd.Flags().String("source", "", "show history for one source")
	ingestStatusCmd.Flags().Int("limit", 20, "max entries with --source")

	ingestCmd.AddCommand(ingestRunCmd, ingestStatusCmd)
	rootCmd.AddCommand(ingestCmd)
}
