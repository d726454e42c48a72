// Package metrics derives business metrics from stored daily rows. The
// calculator functions are pure; the Aggregator reads rows through a
// store.Reader and composes them into snapshots, trends and rankings.
package metrics

import (
	"math"
	"time"

	"github.com/sells-group/portfolio-metrics/internal/model"
)

// PercentChange returns the change from previous to current in percent.
// A zero or non-finite baseline yields 0.
func PercentChange(current, previous float64) float64 {
	if previous == 0 || !finite(previous) || !finite(current) {
		return 0
	}
	return finiteOrZero((current - previous) / math.Abs(previous) * 100)
}

// SafeDivide returns num/den, or 0 when den is zero or the result is not
// finite.
func SafeDivide(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return finiteOrZero(num / den)
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func finiteOrZero(v float64) float64 {
	if !finite(v) {
		return 0
	}
	return v
}

// preferAggregate returns the aggregate rows when any are present and the
// platform rows otherwise, so an app reported both ways is not counted
// twice.
func preferAggregate[T any](rows []T, platform func(T) string) []T {
	var agg, split []T
	for _, r := range rows {
		if platform(r) == model.Aggregate {
			agg = append(agg, r)
		} else {
			split = append(split, r)
		}
	}
	if len(agg) > 0 {
		return agg
	}
	return split
}

// MRR sums monthly recurring revenue across one app's subscription rows.
func MRR(rows []*model.SubscriptionRow) float64 {
	var total float64
	for _, r := range preferAggregate(rows, func(r *model.SubscriptionRow) string { return r.Platform }) {
		total += r.MRR
	}
	return total
}

// Subscriptions holds one app's subscription counts for a day.
type Subscriptions struct {
	Active        int64 `json:"active"`
	Trials        int64 `json:"trials"`
	New           int64 `json:"new"`
	Cancellations int64 `json:"cancellations"`
}

// SubscriptionCounts sums one app's subscription counts.
func SubscriptionCounts(rows []*model.SubscriptionRow) Subscriptions {
	var s Subscriptions
	for _, r := range preferAggregate(rows, func(r *model.SubscriptionRow) string { return r.Platform }) {
		s.Active += r.ActiveSubscriptions
		s.Trials += r.ActiveTrials
		s.New += r.NewSubscriptions
		s.Cancellations += r.Cancellations
	}
	return s
}

// ChurnRate is cancellations as a percentage of the prior period's active
// base, capped at 100. A zero base yields 0.
func ChurnRate(cancellations, priorActive int64) float64 {
	if priorActive <= 0 || cancellations <= 0 {
		return 0
	}
	return math.Min(100, SafeDivide(float64(cancellations), float64(priorActive))*100)
}

// RetentionRate is the complement of ChurnRate. A zero base yields 0.
func RetentionRate(cancellations, priorActive int64) float64 {
	if priorActive <= 0 {
		return 0
	}
	return 100 - ChurnRate(cancellations, priorActive)
}

// RevenueSplit is gross and net revenue for a day.
type RevenueSplit struct {
	Gross        float64 `json:"gross"`
	Net          float64 `json:"net"`
	Refunds      float64 `json:"refunds"`
	Transactions int64   `json:"transactions"`
}

// Revenue sums one app's revenue rows.
func Revenue(rows []*model.RevenueRow) RevenueSplit {
	var s RevenueSplit
	for _, r := range preferAggregate(rows, func(r *model.RevenueRow) string { return r.Platform }) {
		s.Gross += r.GrossRevenue
		s.Net += r.NetRevenue
		s.Refunds += r.Refunds
		s.Transactions += r.Transactions
	}
	return s
}

// GrowthSplit is install movement for a day.
type GrowthSplit struct {
	Installs   int64 `json:"installs"`
	Uninstalls int64 `json:"uninstalls"`
	Net        int64 `json:"net"`
}

// Growth sums one app's install rows into net growth.
func Growth(rows []*model.InstallRow) GrowthSplit {
	var g GrowthSplit
	for _, r := range preferAggregate(rows, func(r *model.InstallRow) string { return r.Platform }) {
		g.Installs += r.Installs
		g.Uninstalls += r.Uninstalls
	}
	g.Net = g.Installs - g.Uninstalls
	return g
}

// Users holds one app's active user counts.
type Users struct {
	DAU      int64 `json:"dau"`
	WAU      int64 `json:"wau"`
	MAU      int64 `json:"mau"`
	NewUsers int64 `json:"new_users"`
}

// ActiveUsers sums one app's active user rows.
func ActiveUsers(rows []*model.ActiveUsersRow) Users {
	var u Users
	for _, r := range preferAggregate(rows, func(r *model.ActiveUsersRow) string { return r.Platform }) {
		u.DAU += r.DAU
		u.WAU += r.WAU
		u.MAU += r.MAU
		u.NewUsers += r.NewUsers
	}
	return u
}

// CostAllocation splits provider costs into app-attributed spend and
// pooled overhead.
type CostAllocation struct {
	ByApp      map[string]float64 `json:"by_app"`
	ByProvider map[string]float64 `json:"by_provider"`
	Pooled     float64            `json:"pooled"`
	Total      float64            `json:"total"`
}

// Attributed is the spend assigned to apps.
func (c CostAllocation) Attributed() float64 { return c.Total - c.Pooled }

// AllocateCosts attributes each cost row to its app, or to pooled overhead
// when the row has no app reference.
func AllocateCosts(rows []*model.ProviderCostRow) CostAllocation {
	c := CostAllocation{ByApp: make(map[string]float64), ByProvider: make(map[string]float64)}
	for _, r := range rows {
		c.Total += r.CostUSD
		c.ByProvider[r.ProviderID] += r.CostUSD
		if r.AppID == model.Pooled {
			c.Pooled += r.CostUSD
			continue
		}
		c.ByApp[r.AppID] += r.CostUSD
	}
	return c
}

// CostPerUser is cost divided by DAU; 0 when DAU is 0.
func CostPerUser(cost float64, dau int64) float64 {
	return SafeDivide(cost, float64(dau))
}

// DayRows is every row of the families the calculator reads, for one day.
type DayRows struct {
	Date          time.Time
	Revenue       []*model.RevenueRow
	Subscriptions []*model.SubscriptionRow
	Installs      []*model.InstallRow
	ActiveUsers   []*model.ActiveUsersRow
	Costs         []*model.ProviderCostRow
}

// ForApp returns the subset of rows referencing appID. Pooled cost rows
// are excluded.
func (d DayRows) ForApp(appID string) DayRows {
	return DayRows{
		Date:          d.Date,
		Revenue:       filterApp(d.Revenue, appID, func(r *model.RevenueRow) string { return r.AppID }),
		Subscriptions: filterApp(d.Subscriptions, appID, func(r *model.SubscriptionRow) string { return r.AppID }),
		Installs:      filterApp(d.Installs, appID, func(r *model.InstallRow) string { return r.AppID }),
		ActiveUsers:   filterApp(d.ActiveUsers, appID, func(r *model.ActiveUsersRow) string { return r.AppID }),
		Costs:         filterApp(d.Costs, appID, func(r *model.ProviderCostRow) string { return r.AppID }),
	}
}

func filterApp[T any](rows []T, appID string, id func(T) string) []T {
	var out []T
	for _, r := range rows {
		if id(r) == appID {
			out = append(out, r)
		}
	}
	return out
}

// AppMetrics is the derived metric bundle for one app and day.
type AppMetrics struct {
	AppID         string        `json:"app_id"`
	Slug          string        `json:"slug"`
	Name          string        `json:"name"`
	Revenue       RevenueSplit  `json:"revenue"`
	MRR           float64       `json:"mrr"`
	Subscriptions Subscriptions `json:"subscriptions"`
	ChurnRate     float64       `json:"churn_rate"`
	RetentionRate float64       `json:"retention_rate"`
	Users         Users         `json:"users"`
	Growth        GrowthSplit   `json:"growth"`
	Cost          float64       `json:"cost"`
	CostPerUser   float64       `json:"cost_per_user"`
}

// ForApp derives an app's metrics for cur.Date. prior is the previous
// day's rows and supplies the active base for churn. Both may contain
// rows of other apps.
func ForApp(app model.App, cur, prior DayRows) AppMetrics {
	c := cur.ForApp(app.ID)
	p := prior.ForApp(app.ID)

	subs := SubscriptionCounts(c.Subscriptions)
	priorActive := SubscriptionCounts(p.Subscriptions).Active
	users := ActiveUsers(c.ActiveUsers)
	cost := AllocateCosts(c.Costs).Total

	return AppMetrics{
		AppID:         app.ID,
		Slug:          app.Slug,
		Name:          app.Name,
		Revenue:       Revenue(c.Revenue),
		MRR:           MRR(c.Subscriptions),
		Subscriptions: subs,
		ChurnRate:     ChurnRate(subs.Cancellations, priorActive),
		RetentionRate: RetentionRate(subs.Cancellations, priorActive),
		Users:         users,
		Growth:        Growth(c.Installs),
		Cost:          cost,
		CostPerUser:   CostPerUser(cost, users.DAU),
	}
}
