package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/portfolio-metrics/internal/metrics"
	"github.com/sells-group/portfolio-metrics/internal/model"
	"github.com/sells-group/portfolio-metrics/internal/notify"
)

var reportCmd = &cobra.Command{
	Use:         "report",
	Short:       "Portfolio reports computed from stored metrics",
	Annotations: map[string]string{modeAnnotation: "report"},
}

func yesterday() time.Time { return time.Now().UTC().AddDate(0, 0, -1) }

// -- report snapshot --

var reportSnapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Portfolio totals, per-app metrics and provider costs for one day",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		dateFlag, _ := cmd.Flags().GetString("date")
		asJSON, _ := cmd.Flags().GetBool("json")
		date, err := parseDateFlag(dateFlag, yesterday())
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		snap, err := metrics.NewAggregator(st, st).Snapshot(ctx, date)
		if err != nil {
			return eris.Wrap(err, "report snapshot")
		}
		if asJSON {
			return writeJSON(os.Stdout, snap)
		}
		formatSnapshot(os.Stdout, snap)
		return nil
	},
}

// -- report trend --

var reportTrendCmd = &cobra.Command{
	Use:   "trend",
	Short: "Daily portfolio totals ending at a date",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		dateFlag, _ := cmd.Flags().GetString("end")
		days, _ := cmd.Flags().GetInt("days")
		asJSON, _ := cmd.Flags().GetBool("json")
		end, err := parseDateFlag(dateFlag, yesterday())
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		points, err := metrics.NewAggregator(st, st).Trend(ctx, end, days)
		if err != nil {
			return eris.Wrap(err, "report trend")
		}
		if asJSON {
			return writeJSON(os.Stdout, points)
		}
		formatTrend(os.Stdout, points)
		return nil
	},
}

// -- report top --

var reportTopCmd = &cobra.Command{
	Use:   "top",
	Short: "Rank apps by revenue, dau, installs or growth",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		dateFlag, _ := cmd.Flags().GetString("date")
		metricFlag, _ := cmd.Flags().GetString("metric")
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")

		date, err := parseDateFlag(dateFlag, yesterday())
		if err != nil {
			return err
		}
		metric, err := metrics.ParseRankMetric(metricFlag)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		top, err := metrics.NewAggregator(st, st).TopPerformers(ctx, date, metric, limit)
		if err != nil {
			return eris.Wrap(err, "report top")
		}
		if asJSON {
			return writeJSON(os.Stdout, top)
		}
		formatPerformers(os.Stdout, metric, top)
		return nil
	},
}

// -- report daily --

var reportDailyCmd = &cobra.Command{
	Use:   "daily",
	Short: "Compute the day's snapshot and send it to the configured notifiers",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		dateFlag, _ := cmd.Flags().GetString("date")
		date, err := parseDateFlag(dateFlag, yesterday())
		if err != nil {
			return err
		}

		manager := notify.FromConfig(cfg.Notify, nil)
		if !manager.HasNotifiers() {
			return eris.New("report daily: no notifiers configured (PORTFOLIO_NOTIFY_SLACK_WEBHOOK_URL or PORTFOLIO_NOTIFY_WEBHOOK_URL)")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		snap, err := metrics.NewAggregator(st, st).Snapshot(ctx, date)
		if err != nil {
			return eris.Wrap(err, "report daily")
		}

		if err := manager.Broadcast(ctx, notify.RenderSnapshot(snap)); err != nil {
			return eris.Wrap(err, "report daily: broadcast")
		}
		zap.L().Info("daily report sent", zap.String("date", date.Format(model.DateLayout)))
		return nil
	},
}

// formatSnapshot writes totals, apps and provider costs to w.
func formatSnapshot(out io.Writer, s *metrics.Snapshot) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	t, d := s.Totals, s.Deltas
	_, _ = fmt.Fprintf(w, "Portfolio %s\n\n", s.Date.Format(model.DateLayout))
	_, _ = fmt.Fprintf(w, "Revenue:\t%s\t%s\n", notify.Money(t.Revenue, "USD"), notify.Percent(d.Revenue))
	_, _ = fmt.Fprintf(w, "Net revenue:\t%s\t%s\n", notify.Money(t.NetRevenue, "USD"), notify.Percent(d.NetRevenue))
	_, _ = fmt.Fprintf(w, "MRR:\t%s\t%s\n", notify.Money(t.MRR, "USD"), notify.Percent(d.MRR))
	_, _ = fmt.Fprintf(w, "Active subscriptions:\t%s\t%s\n", notify.Count(t.ActiveSubscriptions), notify.Percent(d.ActiveSubscriptions))
	_, _ = fmt.Fprintf(w, "DAU:\t%s\t%s\n", notify.Count(t.DAU), notify.Percent(d.DAU))
	_, _ = fmt.Fprintf(w, "Installs:\t%s\t%s\n", notify.Count(t.Installs), notify.Percent(d.Installs))
	_, _ = fmt.Fprintf(w, "Costs:\t%s\t%s\n", notify.Money(t.Costs, "USD"), notify.Percent(d.Costs))
	_, _ = fmt.Fprintf(w, "  Overhead:\t%s\n", notify.Money(t.OverheadCost, "USD"))
	_, _ = fmt.Fprintf(w, "Cost per user:\t%s\n", notify.Money(t.CostPerUser, "USD"))

	if len(s.Apps) > 0 {
		_, _ = fmt.Fprintln(w, "\nAPP\tREVENUE\tMRR\tSUBS\tCHURN\tDAU\tINSTALLS\tCOST")
		for _, a := range s.Apps {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%.1f%%\t%d\t%d\t%s\n",
				a.Slug,
				notify.Money(a.Revenue.Gross, "USD"),
				notify.Money(a.MRR, "USD"),
				a.Subscriptions.Active,
				a.ChurnRate,
				a.Users.DAU,
				a.Growth.Installs,
				notify.Money(a.Cost, "USD"),
			)
		}
	}

	if len(s.Providers) > 0 {
		_, _ = fmt.Fprintln(w, "\nPROVIDER\tCATEGORY\tCOST\tCHANGE")
		for _, p := range s.Providers {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.Slug, p.Category, notify.Money(p.CostUSD, "USD"), notify.Percent(p.Delta))
		}
	}
	_ = w.Flush()
}

// formatTrend writes one line per day to w.
func formatTrend(out io.Writer, points []metrics.TrendPoint) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "DATE\tREVENUE\tDAU\tINSTALLS\tCOSTS")
	for _, p := range points {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n",
			p.Date.Format(model.DateLayout), notify.Money(p.Revenue, "USD"), p.DAU, p.Installs, notify.Money(p.Costs, "USD"))
	}
	_ = w.Flush()
}

// formatPerformers writes a ranked table to w.
func formatPerformers(out io.Writer, metric metrics.RankMetric, top []metrics.Performer) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "RANK\tAPP\t%s\n", metricHeader(metric))
	for _, p := range top {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\n", p.Rank, p.Slug, formatRankValue(metric, p.Value))
	}
	_ = w.Flush()
}

func metricHeader(m metrics.RankMetric) string {
	switch m {
	case metrics.RankGrowth:
		return "GROWTH"
	case metrics.RankDAU:
		return "DAU"
	case metrics.RankInstalls:
		return "INSTALLS"
	default:
		return "REVENUE"
	}
}

func formatRankValue(m metrics.RankMetric, v float64) string {
	switch m {
	case metrics.RankRevenue:
		return notify.Money(v, "USD")
	case metrics.RankGrowth:
		return notify.Percent(v)
	default:
		return notify.Count(int64(v))
	}
}

func init() {
	reportSnapshotCmd.Flags().String("date", "", "report date, YYYY-MM-DD (default yesterday UTC)")
	reportSnapshotCmd.Flags().Bool("json", false, "print JSON")

	reportTrendCmd.Flags().String("end", "", "last day of the series, YYYY-MM-DD (default yesterday UTC)")
	reportTrendCmd.Flags().Int("days", 30, "number of days (1-366)")
	reportTrendCmd.Flags().Bool("json", false, "print JSON")

	reportTopCmd.Flags().String("date", "", "report date, YYYY-MM-DD (default yesterday UTC)")
	reportTopCmd.Flags().String("metric", string(metrics.RankRevenue), "revenue, dau, installs or growth")
	reportTopCmd.Flags().Int("limit", 10, "max apps (0 for all)")
	reportTopCmd.Flags().Bool("json", false, "print JSON")

	reportDailyCmd.Flags().String("date", "", "report date, YYYY-MM-DD (default yesterday UTC)")

	reportCmd.AddCommand(reportSnapshotCmd, reportTrendCmd, reportTopCmd, reportDailyCmd)
	rootCmd.AddCommand(reportCmd)
}
