package notify

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/sells-group/portfolio-metrics/internal/metrics"
	"github.com/sells-group/portfolio-metrics/internal/model"
)

// Message kinds.
const (
	KindEvent    = "revenuecat_event"
	KindSnapshot = "daily_snapshot"
	KindHealth   = "ingestion_health"
)

var printer = message.NewPrinter(language.English)

var eventTitles = map[string]string{
	"INITIAL_PURCHASE":      "New subscription",
	"RENEWAL":               "Subscription renewed",
	"CANCELLATION":          "Subscription cancelled",
	"UNCANCELLATION":        "Subscription reactivated",
	"NON_RENEWING_PURCHASE": "One-time purchase",
	"PRODUCT_CHANGE":        "Product changed",
	"BILLING_ISSUE":         "Billing issue",
	"EXPIRATION":            "Subscription expired",
	"REFUND":                "Refund issued",
}

// Money formats an amount with thousands separators, e.g. "$1,234.50".
// Non-USD amounts carry their currency code.
func Money(v float64, currency string) string {
	if currency == "" || strings.EqualFold(currency, "USD") {
		if v < 0 {
			return printer.Sprintf("-$%.2f", -v)
		}
		return printer.Sprintf("$%.2f", v)
	}
	return printer.Sprintf("%.2f %s", v, strings.ToUpper(currency))
}

// Count formats an integer with thousands separators.
func Count(v int64) string { return printer.Sprintf("%d", v) }

// Percent formats a signed percentage, e.g. "+12.5%".
func Percent(v float64) string { return printer.Sprintf("%+.1f%%", v) }

// RenderEvent renders a subscription event. appName may be empty when the
// event did not match a tracked app.
func RenderEvent(ev *model.RevenueCatEvent, appName string) *Message {
	title, ok := eventTitles[ev.EventType]
	if !ok {
		title = ev.EventType
	}
	if appName == "" {
		appName = ev.RCAppID
	}
	if appName != "" {
		title += ": " + appName
	}

	severity := SeverityInfo
	switch ev.EventType {
	case "BILLING_ISSUE", "REFUND":
		severity = SeverityWarning
	}

	fields := []Field{{Label: "Product", Value: orDash(ev.ProductID)}}
	if ev.Price != 0 {
		fields = append(fields, Field{Label: "Price", Value: Money(ev.Price, ev.Currency)})
	}
	fields = append(fields,
		Field{Label: "Customer", Value: orDash(ev.AppUserID)},
		Field{Label: "At", Value: ev.EventAt.UTC().Format("2006-01-02 15:04 MST")},
	)

	return &Message{
		Kind:      KindEvent,
		Title:     title,
		Severity:  severity,
		Fields:    fields,
		Details:   map[string]any{"event_id": ev.EventID, "event_type": ev.EventType, "app_id": ev.AppID},
		Timestamp: ev.EventAt,
	}
}

// RenderSnapshot renders the daily portfolio report.
func RenderSnapshot(s *metrics.Snapshot) *Message {
	t, d := s.Totals, s.Deltas
	fields := []Field{
		{Label: "Revenue", Value: Money(t.Revenue, "") + " (" + Percent(d.Revenue) + ")"},
		{Label: "Net revenue", Value: Money(t.NetRevenue, "") + " (" + Percent(d.NetRevenue) + ")"},
		{Label: "MRR", Value: Money(t.MRR, "") + " (" + Percent(d.MRR) + ")"},
		{Label: "Active subscriptions", Value: Count(t.ActiveSubscriptions) + " (" + Percent(d.ActiveSubscriptions) + ")"},
		{Label: "DAU", Value: Count(t.DAU) + " (" + Percent(d.DAU) + ")"},
		{Label: "Installs", Value: Count(t.Installs) + " (" + Percent(d.Installs) + ")"},
		{Label: "Costs", Value: Money(t.Costs, "") + " (" + Percent(d.Costs) + ")"},
		{Label: "Cost per user", Value: printer.Sprintf("$%.4f", t.CostPerUser)},
	}

	var lines []string
	for _, a := range s.Apps {
		if a.Revenue.Gross == 0 && a.Users.DAU == 0 && a.Growth.Installs == 0 {
			continue
		}
		lines = append(lines, printer.Sprintf("• *%s*: %s revenue, %d DAU, %d installs",
			a.Name, Money(a.Revenue.Gross, ""), a.Users.DAU, a.Growth.Installs))
	}

	return &Message{
		Kind:     KindSnapshot,
		Title:    "Portfolio report " + s.Date.Format(model.DateLayout),
		Text:     strings.Join(lines, "\n"),
		Severity: SeverityInfo,
		Fields:   fields,
		Details:  map[string]any{"totals": t, "deltas": d},
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
