package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/portfolio-metrics/internal/model"
)

var (
	// ErrNotFound is returned when a keyed lookup matches nothing.
	ErrNotFound = eris.New("store: not found")
	// ErrLogFinalized is returned when finalizing a log entry that is no
	// longer running.
	ErrLogFinalized = eris.New("store: ingestion log entry already finalized")
)

// RowFilter scopes a metric row query. From and To are inclusive days.
// Empty ID lists match every entity.
type RowFilter struct {
	From        time.Time `json:"from"`
	To          time.Time `json:"to"`
	AppIDs      []string  `json:"app_ids,omitempty"`
	ProviderIDs []string  `json:"provider_ids,omitempty"`
}

// OnDay returns a filter covering a single day.
func OnDay(d time.Time) RowFilter {
	d = model.Day(d)
	return RowFilter{From: d, To: d}
}

// LogFilter specifies criteria for listing ingestion log entries.
type LogFilter struct {
	Source string          `json:"source,omitempty"`
	RunID  string          `json:"run_id,omitempty"`
	Status model.LogStatus `json:"status,omitempty"`
	Date   *time.Time      `json:"date,omitempty"`
	Limit  int             `json:"limit,omitempty"`
}

// Reader reads normalized metric rows.
type Reader interface {
	Query(ctx context.Context, kind model.Kind, filter RowFilter) ([]model.Row, error)
}

// Writer persists normalized metric rows by natural key. Rows of mixed
// kinds may be passed together; the returned count is the number of
// distinct natural keys written.
type Writer interface {
	Upsert(ctx context.Context, rows ...model.Row) (int64, error)
}

// LogStore is the append-only ingestion audit trail.
type LogStore interface {
	StartLog(ctx context.Context, entry model.IngestionLogEntry) (int64, error)
	CompleteLog(ctx context.Context, id int64, records int64) error
	FailLog(ctx context.Context, id int64, records int64, msg string) error
	ListLogs(ctx context.Context, filter LogFilter) ([]model.IngestionLogEntry, error)
}

// EventStore holds webhook events. InsertEvent reports false without error
// when the event id already exists.
type EventStore interface {
	InsertEvent(ctx context.Context, ev *model.RevenueCatEvent) (bool, error)
	MarkEventNotified(ctx context.Context, eventID string) error
	GetEvent(ctx context.Context, eventID string) (*model.RevenueCatEvent, error)
}

// RosterStore manages the app and provider reference data.
type RosterStore interface {
	ListApps(ctx context.Context, activeOnly bool) ([]model.App, error)
	ListProviders(ctx context.Context, activeOnly bool) ([]model.Provider, error)
	UpsertApp(ctx context.Context, app model.App) error
	UpsertProvider(ctx context.Context, p model.Provider) error
}

// Store defines the persistence interface for the metrics pipeline.
type Store interface {
	Reader
	Writer
	LogStore
	EventStore
	RosterStore

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// QueryAs runs a Query for the row variant T and returns typed rows.
func QueryAs[T model.Row](ctx context.Context, r Reader, filter RowFilter) ([]T, error) {
	var zero T
	rows, err := r.Query(ctx, zero.Kind(), filter)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(rows))
	for _, row := range rows {
		t, ok := row.(T)
		if !ok {
			return nil, eris.Errorf("store: unexpected row type %T for %s", row, zero.Kind())
		}
		out = append(out, t)
	}
	return out, nil
}

// groupByKind splits rows by variant, preserving input order within a kind
// and the order kinds first appear.
func groupByKind(rows []model.Row) ([]model.Kind, map[model.Kind][]model.Row) {
	var order []model.Kind
	groups := make(map[model.Kind][]model.Row)
	for _, r := range rows {
		if r == nil {
			continue
		}
		k := r.Kind()
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], r)
	}
	return order, groups
}

func hasColumn(spec model.TableSpec, col string) bool {
	for _, c := range spec.Key {
		if c == col {
			return true
		}
	}
	return false
}
