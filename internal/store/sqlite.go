package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/portfolio-metrics/internal/db"
	"github.com/sells-group/portfolio-metrics/internal/model"
)

// sqliteTimeLayout is fixed width so timestamps stored as TEXT sort
// lexically in time order.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements Store using modernc.org/sqlite. Dates are stored
// as YYYY-MM-DD text so range filters compare lexically.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// One writer at a time; adapters run concurrently.
	conn.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: conn, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, migrationSQL(sqliteDialect))
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Metric rows ---

func (s *SQLiteStore) Upsert(ctx context.Context, rows ...model.Row) (int64, error) {
	order, groups := groupByKind(rows)
	if len(order) == 0 {
		return 0, nil
	}
	now := s.now().UTC().Format(sqliteTimeLayout)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	var total int64
	for _, k := range order {
		spec, ok := model.Spec(k)
		if !ok {
			return 0, eris.Errorf("sqlite: unknown row kind %q", k)
		}
		cfg := db.UpsertConfig{
			Table:        spec.Table,
			Columns:      append(spec.Columns(), "updated_at"),
			ConflictKeys: spec.Key,
		}
		stmt, err := tx.PrepareContext(ctx, sqliteUpsertSQL(cfg))
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: prepare upsert %s", spec.Table)
		}

		batch := make([][]any, 0, len(groups[k]))
		for _, r := range groups[k] {
			batch = append(batch, append(sqliteValues(r.Values()), now))
		}
		keyIdx := make([]int, len(spec.Key))
		for i := range keyIdx {
			keyIdx[i] = i
		}
		batch = db.DedupeByKey(batch, keyIdx)

		for _, args := range batch {
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				stmt.Close() //nolint:errcheck
				return 0, eris.Wrapf(err, "sqlite: upsert %s", spec.Table)
			}
		}
		stmt.Close() //nolint:errcheck
		total += int64(len(batch))
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert: commit tx")
	}
	return total, nil
}

// sqliteUpsertSQL renders a single-row INSERT ... ON CONFLICT DO UPDATE.
func sqliteUpsertSQL(cfg db.UpsertConfig) string {
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(cfg.Columns)), ", ")
	sets := make([]string, 0, len(cfg.Columns))
	for _, c := range cfg.UpdateColumns() {
		sets = append(sets, c+" = excluded."+c)
	}
	return "INSERT INTO " + cfg.Table + " (" + strings.Join(cfg.Columns, ", ") + ") VALUES (" + marks +
		") ON CONFLICT (" + strings.Join(cfg.ConflictKeys, ", ") + ") DO UPDATE SET " + strings.Join(sets, ", ")
}

// sqliteValues converts row values to SQLite storage representations.
func sqliteValues(vals []any) []any {
	out := make([]any, len(vals))
	for i, v := range vals {
		switch x := v.(type) {
		case time.Time:
			out[i] = model.Day(x).Format(model.DateLayout)
		case []byte:
			if len(x) == 0 {
				out[i] = nil
			} else {
				out[i] = string(x)
			}
		default:
			out[i] = v
		}
	}
	return out
}

func (s *SQLiteStore) Query(ctx context.Context, kind model.Kind, filter RowFilter) ([]model.Row, error) {
	spec, ok := model.Spec(kind)
	if !ok {
		return nil, eris.Errorf("sqlite: unknown row kind %q", kind)
	}
	query, args := selectRowsSQL(spec, filter,
		func(int) string { return "?" },
		func(col string, _ int, ids []string) (string, []any) {
			a := make([]any, len(ids))
			for i, id := range ids {
				a[i] = id
			}
			return col + " IN (" + strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ") + ")", a
		},
	)
	args = sqliteValues(args)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: query %s", spec.Table)
	}
	defer rows.Close()

	var out []model.Row
	for rows.Next() {
		r := spec.New()
		if err := rows.Scan(sqliteTargets(r.ScanTargets())...); err != nil {
			return nil, eris.Wrapf(err, "sqlite: scan %s", spec.Table)
		}
		out = append(out, r)
	}
	return out, eris.Wrapf(rows.Err(), "sqlite: iterate %s", spec.Table)
}

func sqliteTargets(targets []any) []any {
	out := make([]any, len(targets))
	for i, t := range targets {
		if tp, ok := t.(*time.Time); ok {
			out[i] = &sqliteTime{dst: tp}
			continue
		}
		out[i] = t
	}
	return out
}

// sqliteTime scans a date or timestamp stored as text.
type sqliteTime struct {
	dst *time.Time
}

func (t *sqliteTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*t.dst = time.Time{}
		return nil
	case time.Time:
		*t.dst = v.UTC()
		return nil
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	default:
		return eris.Errorf("sqlite: cannot scan %T into time", src)
	}
}

func (t *sqliteTime) parse(s string) error {
	for _, layout := range []string{model.DateLayout, sqliteTimeLayout, time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if v, err := time.Parse(layout, s); err == nil {
			*t.dst = v.UTC()
			return nil
		}
	}
	return eris.Errorf("sqlite: unrecognized time %q", s)
}

// sqliteNullTime scans a nullable timestamp into a *time.Time pointer.
type sqliteNullTime struct {
	dst **time.Time
}

func (t *sqliteNullTime) Scan(src any) error {
	if src == nil {
		*t.dst = nil
		return nil
	}
	var v time.Time
	if err := (&sqliteTime{dst: &v}).Scan(src); err != nil {
		return err
	}
	*t.dst = &v
	return nil
}

// --- Ingestion log ---

func (s *SQLiteStore) StartLog(ctx context.Context, e model.IngestionLogEntry) (int64, error) {
	started := e.StartedAt
	if started.IsZero() {
		started = s.now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO ingestion_log (run_id, source, date, provider_id, started_at, status)
		 VALUES (?, ?, ?, ?, ?, 'running')`,
		e.RunID, e.Source, model.Day(e.Date).Format(model.DateLayout), e.ProviderID,
		started.UTC().Format(sqliteTimeLayout),
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: start log for %s", e.Source)
	}
	id, err := res.LastInsertId()
	return id, eris.Wrap(err, "sqlite: start log id")
}

func (s *SQLiteStore) CompleteLog(ctx context.Context, id int64, records int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE ingestion_log SET status = 'success', completed_at = ?, records_processed = ?
		 WHERE id = ? AND status = 'running'`,
		s.now().UTC().Format(sqliteTimeLayout), records, id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete log %d", id)
	}
	return finalized(res, id)
}

func (s *SQLiteStore) FailLog(ctx context.Context, id int64, records int64, msg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE ingestion_log SET status = 'failed', completed_at = ?, records_processed = ?, error_message = ?
		 WHERE id = ? AND status = 'running'`,
		s.now().UTC().Format(sqliteTimeLayout), records, msg, id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail log %d", id)
	}
	return finalized(res, id)
}

func finalized(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrLogFinalized, "log %d", id)
	}
	return nil
}

func (s *SQLiteStore) ListLogs(ctx context.Context, filter LogFilter) ([]model.IngestionLogEntry, error) {
	query := `SELECT id, run_id, source, date, provider_id, started_at, completed_at, status, records_processed, error_message
		FROM ingestion_log WHERE 1=1`
	var args []any

	if filter.Source != "" {
		query += ` AND source = ?`
		args = append(args, filter.Source)
	}
	if filter.RunID != "" {
		query += ` AND run_id = ?`
		args = append(args, filter.RunID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Date != nil {
		query += ` AND date = ?`
		args = append(args, model.Day(*filter.Date).Format(model.DateLayout))
	}
	query += ` ORDER BY started_at DESC, id DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list logs")
	}
	defer rows.Close()

	var entries []model.IngestionLogEntry
	for rows.Next() {
		var e model.IngestionLogEntry
		var status string
		if err := rows.Scan(&e.ID, &e.RunID, &e.Source, &sqliteTime{dst: &e.Date}, &e.ProviderID,
			&sqliteTime{dst: &e.StartedAt}, &sqliteNullTime{dst: &e.CompletedAt}, &status,
			&e.RecordsProcessed, &e.ErrorMessage); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan log entry")
		}
		e.Status = model.LogStatus(status)
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: list logs iterate")
}

// --- Events ---

func (s *SQLiteStore) InsertEvent(ctx context.Context, ev *model.RevenueCatEvent) (bool, error) {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = s.now()
	}
	var raw any
	if len(ev.Raw) > 0 {
		raw = string(ev.Raw)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO revenuecat_events
		 (event_id, event_type, app_id, rc_app_id, app_user_id, product_id, price, currency, environment, event_at, raw, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (event_id) DO NOTHING`,
		ev.EventID, ev.EventType, ev.AppID, ev.RCAppID, ev.AppUserID, ev.ProductID,
		ev.Price, ev.Currency, ev.Environment, ev.EventAt.UTC().Format(sqliteTimeLayout), raw,
		ev.CreatedAt.UTC().Format(sqliteTimeLayout),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: insert event %s", ev.EventID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n == 1, nil
}

func (s *SQLiteStore) MarkEventNotified(ctx context.Context, eventID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE revenuecat_events SET notified = 1 WHERE event_id = ?`, eventID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark event notified %s", eventID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "event %s", eventID)
	}
	return nil
}

func (s *SQLiteStore) GetEvent(ctx context.Context, eventID string) (*model.RevenueCatEvent, error) {
	var ev model.RevenueCatEvent
	var raw sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT event_id, event_type, app_id, rc_app_id, app_user_id, product_id, price, currency,
		 environment, event_at, raw, notified, created_at
		 FROM revenuecat_events WHERE event_id = ?`, eventID,
	).Scan(&ev.EventID, &ev.EventType, &ev.AppID, &ev.RCAppID, &ev.AppUserID, &ev.ProductID,
		&ev.Price, &ev.Currency, &ev.Environment, &sqliteTime{dst: &ev.EventAt}, &raw, &ev.Notified,
		&sqliteTime{dst: &ev.CreatedAt})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "event %s", eventID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get event %s", eventID)
	}
	if raw.Valid {
		ev.Raw = []byte(raw.String)
	}
	return &ev, nil
}

// --- Roster ---

func (s *SQLiteStore) ListApps(ctx context.Context, activeOnly bool) ([]model.App, error) {
	query := `SELECT ` + appColumns + ` FROM apps`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY name, id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list apps")
	}
	defer rows.Close()

	var apps []model.App
	for rows.Next() {
		var a model.App
		var appType string
		var platforms sql.NullString
		if err := rows.Scan(&a.ID, &a.Slug, &a.Name, &appType, &platforms, &a.Active,
			&a.GA4PropertyID, &a.SearchConsoleSite, &a.RevenueCatProjectID, &a.RevenueCatAppID,
			&a.AppStoreAppID, &a.AppStoreSKU, &a.OpenAIProjectID); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan app")
		}
		a.Type = model.AppType(appType)
		if platforms.Valid && platforms.String != "" {
			if err := json.Unmarshal([]byte(platforms.String), &a.Platforms); err != nil {
				return nil, eris.Wrapf(err, "sqlite: unmarshal platforms for %s", a.Slug)
			}
		}
		apps = append(apps, a)
	}
	return apps, eris.Wrap(rows.Err(), "sqlite: list apps iterate")
}

func (s *SQLiteStore) UpsertApp(ctx context.Context, a model.App) error {
	platforms, err := json.Marshal(a.Platforms)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal platforms")
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO apps (`+appColumns+`, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			slug = excluded.slug, name = excluded.name, type = excluded.type,
			platforms = excluded.platforms, active = excluded.active,
			ga4_property_id = excluded.ga4_property_id, search_console_site = excluded.search_console_site,
			revenuecat_project_id = excluded.revenuecat_project_id, revenuecat_app_id = excluded.revenuecat_app_id,
			appstore_app_id = excluded.appstore_app_id, appstore_sku = excluded.appstore_sku,
			openai_project_id = excluded.openai_project_id, updated_at = excluded.updated_at`,
		a.ID, a.Slug, a.Name, string(a.Type), string(platforms), a.Active,
		a.GA4PropertyID, a.SearchConsoleSite, a.RevenueCatProjectID, a.RevenueCatAppID,
		a.AppStoreAppID, a.AppStoreSKU, a.OpenAIProjectID, s.now().UTC().Format(sqliteTimeLayout),
	)
	return eris.Wrapf(err, "sqlite: upsert app %s", a.Slug)
}

func (s *SQLiteStore) ListProviders(ctx context.Context, activeOnly bool) ([]model.Provider, error) {
	query := `SELECT id, slug, name, category, active FROM providers`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY name, id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list providers")
	}
	defer rows.Close()

	var out []model.Provider
	for rows.Next() {
		var p model.Provider
		var category string
		if err := rows.Scan(&p.ID, &p.Slug, &p.Name, &category, &p.Active); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan provider")
		}
		p.Category = model.ProviderCategory(category)
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list providers iterate")
}

func (s *SQLiteStore) UpsertProvider(ctx context.Context, p model.Provider) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO providers (id, slug, name, category, active, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			slug = excluded.slug, name = excluded.name, category = excluded.category,
			active = excluded.active, updated_at = excluded.updated_at`,
		p.ID, p.Slug, p.Name, string(p.Category), p.Active, s.now().UTC().Format(sqliteTimeLayout),
	)
	return eris.Wrapf(err, "sqlite: upsert provider %s", p.Slug)
}
