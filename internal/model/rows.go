package model

import "time"

// Kind identifies a normalized metric row variant.
type Kind string

const (
	KindRevenue      Kind = "revenue"
	KindSubscription Kind = "subscription"
	KindInstall      Kind = "install"
	KindActiveUsers  Kind = "active_users"
	KindFeatureUsage Kind = "feature_usage"
	KindSearch       Kind = "search"
	KindTraffic      Kind = "traffic"
	KindProviderCost Kind = "provider_cost"
	KindEmail        Kind = "email"
	KindAnalytics    Kind = "analytics"
)

// Aggregate is the dimension value for "all platforms / all sources / all
// queries". It is a concrete value so unique constraints treat it like any
// other dimension.
const Aggregate = ""

// Pooled is the app reference on provider cost rows that are portfolio-wide
// overhead rather than attributed to one app.
const Pooled = ""

// Row is one normalized per-day measurement. Values and ScanTargets follow
// the column order of the variant's TableSpec.
type Row interface {
	Kind() Kind
	Day() time.Time
	Values() []any
	ScanTargets() []any
}

// TableSpec describes how a row variant is stored.
type TableSpec struct {
	Kind     Kind
	Table    string
	Key      []string // natural key, date first
	Measures []string
	New      func() Row
}

// Columns returns the full insert column list: key, measures, then raw.
func (s TableSpec) Columns() []string {
	cols := make([]string, 0, len(s.Key)+len(s.Measures)+1)
	cols = append(cols, s.Key...)
	cols = append(cols, s.Measures...)
	return append(cols, "raw")
}

var kindOrder = []Kind{
	KindRevenue, KindSubscription, KindInstall, KindActiveUsers, KindFeatureUsage,
	KindSearch, KindTraffic, KindProviderCost, KindEmail, KindAnalytics,
}

var specs = map[Kind]TableSpec{
	KindRevenue: {
		Kind: KindRevenue, Table: "revenue_daily",
		Key:      []string{"date", "app_id", "platform"},
		Measures: []string{"gross_revenue", "net_revenue", "refunds", "transactions", "currency"},
		New:      func() Row { return &RevenueRow{} },
	},
	KindSubscription: {
		Kind: KindSubscription, Table: "subscriptions_daily",
		Key:      []string{"date", "app_id", "platform"},
		Measures: []string{"active_subscriptions", "active_trials", "new_subscriptions", "cancellations", "mrr"},
		New:      func() Row { return &SubscriptionRow{} },
	},
	KindInstall: {
		Kind: KindInstall, Table: "installs_daily",
		Key:      []string{"date", "app_id", "platform"},
		Measures: []string{"installs", "uninstalls", "updates"},
		New:      func() Row { return &InstallRow{} },
	},
	KindActiveUsers: {
		Kind: KindActiveUsers, Table: "active_users_daily",
		Key:      []string{"date", "app_id", "platform"},
		Measures: []string{"dau", "wau", "mau", "new_users"},
		New:      func() Row { return &ActiveUsersRow{} },
	},
	KindFeatureUsage: {
		Kind: KindFeatureUsage, Table: "feature_usage_daily",
		Key:      []string{"date", "app_id", "feature"},
		Measures: []string{"event_count", "unique_users"},
		New:      func() Row { return &FeatureUsageRow{} },
	},
	KindSearch: {
		Kind: KindSearch, Table: "search_performance_daily",
		Key:      []string{"date", "app_id", "query", "page"},
		Measures: []string{"clicks", "impressions", "ctr", "position"},
		New:      func() Row { return &SearchRow{} },
	},
	KindTraffic: {
		Kind: KindTraffic, Table: "website_traffic_daily",
		Key:      []string{"date", "app_id", "source", "medium"},
		Measures: []string{"sessions", "users", "pageviews", "bounce_rate"},
		New:      func() Row { return &TrafficRow{} },
	},
	KindProviderCost: {
		Kind: KindProviderCost, Table: "provider_costs_daily",
		Key:      []string{"date", "provider_id", "app_id"},
		Measures: []string{"cost_usd", "usage_units", "usage_unit"},
		New:      func() Row { return &ProviderCostRow{} },
	},
	KindEmail: {
		Kind: KindEmail, Table: "email_metrics_daily",
		Key:      []string{"date", "provider_id"},
		Measures: []string{"sent", "delivered", "opens", "clicks", "bounces", "spam_reports", "unsubscribes"},
		New:      func() Row { return &EmailRow{} },
	},
	KindAnalytics: {
		Kind: KindAnalytics, Table: "analytics_stats_daily",
		Key:      []string{"date", "app_id"},
		Measures: []string{"sessions", "pageviews", "avg_session_duration", "bounce_rate", "engagement_rate"},
		New:      func() Row { return &AnalyticsRow{} },
	},
}

// Spec returns the storage description of a row variant.
func Spec(k Kind) (TableSpec, bool) {
	s, ok := specs[k]
	return s, ok
}

// Kinds returns every row variant in a stable order.
func Kinds() []Kind {
	out := make([]Kind, len(kindOrder))
	copy(out, kindOrder)
	return out
}

// RevenueRow is daily revenue for one app and platform.
type RevenueRow struct {
	Date         time.Time `json:"date"`
	AppID        string    `json:"app_id"`
	Platform     string    `json:"platform"`
	GrossRevenue float64   `json:"gross_revenue"`
	NetRevenue   float64   `json:"net_revenue"`
	Refunds      float64   `json:"refunds"`
	Transactions int64     `json:"transactions"`
	Currency     string    `json:"currency"`
	Raw          []byte    `json:"-"`
}

func (r *RevenueRow) Kind() Kind     { return KindRevenue }
func (r *RevenueRow) Day() time.Time { return r.Date }
func (r *RevenueRow) Values() []any {
	return []any{r.Date, r.AppID, r.Platform, r.GrossRevenue, r.NetRevenue, r.Refunds, r.Transactions, r.Currency, r.Raw}
}
func (r *RevenueRow) ScanTargets() []any {
	return []any{&r.Date, &r.AppID, &r.Platform, &r.GrossRevenue, &r.NetRevenue, &r.Refunds, &r.Transactions, &r.Currency, &r.Raw}
}

// SubscriptionRow is the daily subscription state for one app and platform.
type SubscriptionRow struct {
	Date                time.Time `json:"date"`
	AppID               string    `json:"app_id"`
	Platform            string    `json:"platform"`
	ActiveSubscriptions int64     `json:"active_subscriptions"`
	ActiveTrials        int64     `json:"active_trials"`
	NewSubscriptions    int64     `json:"new_subscriptions"`
	Cancellations       int64     `json:"cancellations"`
	MRR                 float64   `json:"mrr"`
	Raw                 []byte    `json:"-"`
}

func (r *SubscriptionRow) Kind() Kind     { return KindSubscription }
func (r *SubscriptionRow) Day() time.Time { return r.Date }
func (r *SubscriptionRow) Values() []any {
	return []any{r.Date, r.AppID, r.Platform, r.ActiveSubscriptions, r.ActiveTrials, r.NewSubscriptions, r.Cancellations, r.MRR, r.Raw}
}
func (r *SubscriptionRow) ScanTargets() []any {
	return []any{&r.Date, &r.AppID, &r.Platform, &r.ActiveSubscriptions, &r.ActiveTrials, &r.NewSubscriptions, &r.Cancellations, &r.MRR, &r.Raw}
}

// InstallRow is daily install activity for one app and platform.
type InstallRow struct {
	Date       time.Time `json:"date"`
	AppID      string    `json:"app_id"`
	Platform   string    `json:"platform"`
	Installs   int64     `json:"installs"`
	Uninstalls int64     `json:"uninstalls"`
	Updates    int64     `json:"updates"`
	Raw        []byte    `json:"-"`
}

func (r *InstallRow) Kind() Kind     { return KindInstall }
func (r *InstallRow) Day() time.Time { return r.Date }
func (r *InstallRow) Values() []any {
	return []any{r.Date, r.AppID, r.Platform, r.Installs, r.Uninstalls, r.Updates, r.Raw}
}
func (r *InstallRow) ScanTargets() []any {
	return []any{&r.Date, &r.AppID, &r.Platform, &r.Installs, &r.Uninstalls, &r.Updates, &r.Raw}
}

// ActiveUsersRow holds DAU/WAU/MAU for one app and platform.
type ActiveUsersRow struct {
	Date     time.Time `json:"date"`
	AppID    string    `json:"app_id"`
	Platform string    `json:"platform"`
	DAU      int64     `json:"dau"`
	WAU      int64     `json:"wau"`
	MAU      int64     `json:"mau"`
	NewUsers int64     `json:"new_users"`
	Raw      []byte    `json:"-"`
}

func (r *ActiveUsersRow) Kind() Kind     { return KindActiveUsers }
func (r *ActiveUsersRow) Day() time.Time { return r.Date }
func (r *ActiveUsersRow) Values() []any {
	return []any{r.Date, r.AppID, r.Platform, r.DAU, r.WAU, r.MAU, r.NewUsers, r.Raw}
}
func (r *ActiveUsersRow) ScanTargets() []any {
	return []any{&r.Date, &r.AppID, &r.Platform, &r.DAU, &r.WAU, &r.MAU, &r.NewUsers, &r.Raw}
}

// FeatureUsageRow counts one tracked event for one app.
type FeatureUsageRow struct {
	Date        time.Time `json:"date"`
	AppID       string    `json:"app_id"`
	Feature     string    `json:"feature"`
	EventCount  int64     `json:"event_count"`
	UniqueUsers int64     `json:"unique_users"`
	Raw         []byte    `json:"-"`
}

func (r *FeatureUsageRow) Kind() Kind     { return KindFeatureUsage }
func (r *FeatureUsageRow) Day() time.Time { return r.Date }
func (r *FeatureUsageRow) Values() []any {
	return []any{r.Date, r.AppID, r.Feature, r.EventCount, r.UniqueUsers, r.Raw}
}
func (r *FeatureUsageRow) ScanTargets() []any {
	return []any{&r.Date, &r.AppID, &r.Feature, &r.EventCount, &r.UniqueUsers, &r.Raw}
}

// SearchRow is search performance for an app's site. Query and Page are
// Aggregate on the site-wide row.
type SearchRow struct {
	Date        time.Time `json:"date"`
	AppID       string    `json:"app_id"`
	Query       string    `json:"query"`
	Page        string    `json:"page"`
	Clicks      int64     `json:"clicks"`
	Impressions int64     `json:"impressions"`
	CTR         float64   `json:"ctr"`
	Position    float64   `json:"position"`
	Raw         []byte    `json:"-"`
}

func (r *SearchRow) Kind() Kind     { return KindSearch }
func (r *SearchRow) Day() time.Time { return r.Date }
func (r *SearchRow) Values() []any {
	return []any{r.Date, r.AppID, r.Query, r.Page, r.Clicks, r.Impressions, r.CTR, r.Position, r.Raw}
}
func (r *SearchRow) ScanTargets() []any {
	return []any{&r.Date, &r.AppID, &r.Query, &r.Page, &r.Clicks, &r.Impressions, &r.CTR, &r.Position, &r.Raw}
}

// TrafficRow is website traffic for an app. Source and Medium are Aggregate
// on the total-traffic row.
type TrafficRow struct {
	Date       time.Time `json:"date"`
	AppID      string    `json:"app_id"`
	Source     string    `json:"source"`
	Medium     string    `json:"medium"`
	Sessions   int64     `json:"sessions"`
	Users      int64     `json:"users"`
	Pageviews  int64     `json:"pageviews"`
	BounceRate float64   `json:"bounce_rate"`
	Raw        []byte    `json:"-"`
}

func (r *TrafficRow) Kind() Kind     { return KindTraffic }
func (r *TrafficRow) Day() time.Time { return r.Date }
func (r *TrafficRow) Values() []any {
	return []any{r.Date, r.AppID, r.Source, r.Medium, r.Sessions, r.Users, r.Pageviews, r.BounceRate, r.Raw}
}
func (r *TrafficRow) ScanTargets() []any {
	return []any{&r.Date, &r.AppID, &r.Source, &r.Medium, &r.Sessions, &r.Users, &r.Pageviews, &r.BounceRate, &r.Raw}
}

// ProviderCostRow is one provider's daily cost. AppID is Pooled for
// portfolio-wide overhead.
type ProviderCostRow struct {
	Date       time.Time `json:"date"`
	ProviderID string    `json:"provider_id"`
	AppID      string    `json:"app_id"`
	CostUSD    float64   `json:"cost_usd"`
	UsageUnits float64   `json:"usage_units"`
	UsageUnit  string    `json:"usage_unit"`
	Raw        []byte    `json:"-"`
}

func (r *ProviderCostRow) Kind() Kind     { return KindProviderCost }
func (r *ProviderCostRow) Day() time.Time { return r.Date }
func (r *ProviderCostRow) Values() []any {
	return []any{r.Date, r.ProviderID, r.AppID, r.CostUSD, r.UsageUnits, r.UsageUnit, r.Raw}
}
func (r *ProviderCostRow) ScanTargets() []any {
	return []any{&r.Date, &r.ProviderID, &r.AppID, &r.CostUSD, &r.UsageUnits, &r.UsageUnit, &r.Raw}
}

// EmailRow is daily delivery statistics for an email provider.
type EmailRow struct {
	Date         time.Time `json:"date"`
	ProviderID   string    `json:"provider_id"`
	Sent         int64     `json:"sent"`
	Delivered    int64     `json:"delivered"`
	Opens        int64     `json:"opens"`
	Clicks       int64     `json:"clicks"`
	Bounces      int64     `json:"bounces"`
	SpamReports  int64     `json:"spam_reports"`
	Unsubscribes int64     `json:"unsubscribes"`
	Raw          []byte    `json:"-"`
}

func (r *EmailRow) Kind() Kind     { return KindEmail }
func (r *EmailRow) Day() time.Time { return r.Date }
func (r *EmailRow) Values() []any {
	return []any{r.Date, r.ProviderID, r.Sent, r.Delivered, r.Opens, r.Clicks, r.Bounces, r.SpamReports, r.Unsubscribes, r.Raw}
}
func (r *EmailRow) ScanTargets() []any {
	return []any{&r.Date, &r.ProviderID, &r.Sent, &r.Delivered, &r.Opens, &r.Clicks, &r.Bounces, &r.SpamReports, &r.Unsubscribes, &r.Raw}
}

// AnalyticsRow is the site-level engagement summary for one app.
type AnalyticsRow struct {
	Date               time.Time `json:"date"`
	AppID              string    `json:"app_id"`
	Sessions           int64     `json:"sessions"`
	Pageviews          int64     `json:"pageviews"`
	AvgSessionDuration float64   `json:"avg_session_duration"`
	BounceRate         float64   `json:"bounce_rate"`
	EngagementRate     float64   `json:"engagement_rate"`
	Raw                []byte    `json:"-"`
}

func (r *AnalyticsRow) Kind() Kind     { return KindAnalytics }
func (r *AnalyticsRow) Day() time.Time { return r.Date }
func (r *AnalyticsRow) Values() []any {
	return []any{r.Date, r.AppID, r.Sessions, r.Pageviews, r.AvgSessionDuration, r.BounceRate, r.EngagementRate, r.Raw}
}
func (r *AnalyticsRow) ScanTargets() []any {
	return []any{&r.Date, &r.AppID, &r.Sessions, &r.Pageviews, &r.AvgSessionDuration, &r.BounceRate, &r.EngagementRate, &r.Raw}
}
