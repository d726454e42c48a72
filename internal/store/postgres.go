package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/portfolio-metrics/internal/db"
	"github.com/sells-group/portfolio-metrics/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
	now     func() time.Time
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists the per-invocation statements prepared on each
// new connection.
var preparedStatements = map[string]string{
	"start_log":     sqlStartLog,
	"complete_log":  sqlCompleteLog,
	"fail_log":      sqlFailLog,
	"insert_event":  sqlInsertEvent,
	"mark_notified": sqlMarkNotified,
	"get_event":     sqlGetEvent,
}

const (
	sqlStartLog = `INSERT INTO ingestion_log (run_id, source, date, provider_id, started_at, status)
		VALUES ($1, $2, $3, $4, $5, 'running') RETURNING id`
	sqlCompleteLog = `UPDATE ingestion_log
		SET status = 'success', completed_at = $1, records_processed = $2
		WHERE id = $3 AND status = 'running'`
	sqlFailLog = `UPDATE ingestion_log
		SET status = 'failed', completed_at = $1, records_processed = $2, error_message = $3
		WHERE id = $4 AND status = 'running'`
	sqlInsertEvent = `INSERT INTO revenuecat_events
		(event_id, event_type, app_id, rc_app_id, app_user_id, product_id, price, currency, environment, event_at, raw, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (event_id) DO NOTHING`
	sqlMarkNotified = `UPDATE revenuecat_events SET notified = TRUE WHERE event_id = $1`
	sqlGetEvent = `SELECT event_id, event_type, app_id, rc_app_id, app_user_id, product_id, price, currency,
		environment, event_at, raw, notified, created_at
		FROM revenuecat_events WHERE event_id = $1`
)

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				// Tables may not exist before the first migrate.
				if strings.Contains(err.Error(), "does not exist") {
					continue
				}
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return NewPostgresFromPool(pool, pool.Close), nil
}

// NewPostgresFromPool wraps an existing pool. closeFn may be nil.
func NewPostgresFromPool(pool db.Pool, closeFn func()) *PostgresStore {
	return &PostgresStore{pool: pool, closeFn: closeFn, now: func() time.Time { return time.Now().UTC() }}
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, migrationSQL(postgresDialect))
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Metric rows ---

func (s *PostgresStore) Upsert(ctx context.Context, rows ...model.Row) (int64, error) {
	order, groups := groupByKind(rows)
	now := s.now()

	var total int64
	for _, k := range order {
		spec, ok := model.Spec(k)
		if !ok {
			return total, eris.Errorf("postgres: unknown row kind %q", k)
		}
		batch := make([][]any, 0, len(groups[k]))
		for _, r := range groups[k] {
			batch = append(batch, append(r.Values(), now))
		}
		n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
			Table:        spec.Table,
			Columns:      append(spec.Columns(), "updated_at"),
			ConflictKeys: spec.Key,
		}, batch)
		if err != nil {
			return total, eris.Wrapf(err, "postgres: upsert %s", spec.Table)
		}
		total += n
	}
	return total, nil
}

func (s *PostgresStore) Query(ctx context.Context, kind model.Kind, filter RowFilter) ([]model.Row, error) {
	spec, ok := model.Spec(kind)
	if !ok {
		return nil, eris.Errorf("postgres: unknown row kind %q", kind)
	}
	query, args := selectRowsSQL(spec, filter,
		func(n int) string { return fmt.Sprintf("$%d", n) },
		func(col string, n int, ids []string) (string, []any) {
			return fmt.Sprintf("%s = ANY($%d)", col, n), []any{ids}
		},
	)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: query %s", spec.Table)
	}
	defer rows.Close()

	var out []model.Row
	for rows.Next() {
		r := spec.New()
		if err := rows.Scan(r.ScanTargets()...); err != nil {
			return nil, eris.Wrapf(err, "postgres: scan %s", spec.Table)
		}
		out = append(out, r)
	}
	return out, eris.Wrapf(rows.Err(), "postgres: iterate %s", spec.Table)
}

// --- Ingestion log ---

func (s *PostgresStore) StartLog(ctx context.Context, e model.IngestionLogEntry) (int64, error) {
	started := e.StartedAt
	if started.IsZero() {
		started = s.now()
	}
	var id int64
	err := s.pool.QueryRow(ctx, sqlStartLog,
		e.RunID, e.Source, model.Day(e.Date), e.ProviderID, started,
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: start log for %s", e.Source)
	}
	return id, nil
}

func (s *PostgresStore) CompleteLog(ctx context.Context, id int64, records int64) error {
	tag, err := s.pool.Exec(ctx, sqlCompleteLog, s.now(), records, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete log %d", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrLogFinalized, "log %d", id)
	}
	return nil
}

func (s *PostgresStore) FailLog(ctx context.Context, id int64, records int64, msg string) error {
	tag, err := s.pool.Exec(ctx, sqlFailLog, s.now(), records, msg, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail log %d", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrLogFinalized, "log %d", id)
	}
	return nil
}

func (s *PostgresStore) ListLogs(ctx context.Context, filter LogFilter) ([]model.IngestionLogEntry, error) {
	query := `SELECT id, run_id, source, date, provider_id, started_at, completed_at, status, records_processed, error_message
		FROM ingestion_log WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Source != "" {
		query += fmt.Sprintf(` AND source = $%d`, argIdx)
		args = append(args, filter.Source)
		argIdx++
	}
	if filter.RunID != "" {
		query += fmt.Sprintf(` AND run_id = $%d`, argIdx)
		args = append(args, filter.RunID)
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.Date != nil {
		query += fmt.Sprintf(` AND date = $%d`, argIdx)
		args = append(args, model.Day(*filter.Date))
		argIdx++
	}
	query += ` ORDER BY started_at DESC, id DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list logs")
	}
	defer rows.Close()

	var entries []model.IngestionLogEntry
	for rows.Next() {
		var e model.IngestionLogEntry
		var status string
		if err := rows.Scan(&e.ID, &e.RunID, &e.Source, &e.Date, &e.ProviderID, &e.StartedAt,
			&e.CompletedAt, &status, &e.RecordsProcessed, &e.ErrorMessage); err != nil {
			return nil, eris.Wrap(err, "postgres: scan log entry")
		}
		e.Status = model.LogStatus(status)
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: list logs iterate")
}

// --- Events ---

func (s *PostgresStore) InsertEvent(ctx context.Context, ev *model.RevenueCatEvent) (bool, error) {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = s.now()
	}
	var raw any
	if len(ev.Raw) > 0 {
		raw = ev.Raw
	}
	tag, err := s.pool.Exec(ctx, sqlInsertEvent,
		ev.EventID, ev.EventType, ev.AppID, ev.RCAppID, ev.AppUserID, ev.ProductID,
		ev.Price, ev.Currency, ev.Environment, ev.EventAt, raw, ev.CreatedAt,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: insert event %s", ev.EventID)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) MarkEventNotified(ctx context.Context, eventID string) error {
	tag, err := s.pool.Exec(ctx, sqlMarkNotified, eventID)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark event notified %s", eventID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "event %s", eventID)
	}
	return nil
}

func (s *PostgresStore) GetEvent(ctx context.Context, eventID string) (*model.RevenueCatEvent, error) {
	var ev model.RevenueCatEvent
	err := s.pool.QueryRow(ctx, sqlGetEvent, eventID).Scan(
		&ev.EventID, &ev.EventType, &ev.AppID, &ev.RCAppID, &ev.AppUserID, &ev.ProductID,
		&ev.Price, &ev.Currency, &ev.Environment, &ev.EventAt, &ev.Raw, &ev.Notified, &ev.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "event %s", eventID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get event %s", eventID)
	}
	return &ev, nil
}

// --- Roster ---

const appColumns = `id, slug, name, type, platforms, active, ga4_property_id, search_console_site,
	revenuecat_project_id, revenuecat_app_id, appstore_app_id, appstore_sku, openai_project_id`

func (s *PostgresStore) ListApps(ctx context.Context, activeOnly bool) ([]model.App, error) {
	query := `SELECT ` + appColumns + ` FROM apps`
	if activeOnly {
		query += ` WHERE active`
	}
	query += ` ORDER BY name, id`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list apps")
	}
	defer rows.Close()

	var apps []model.App
	for rows.Next() {
		var a model.App
		var appType string
		var platforms []byte
		if err := rows.Scan(&a.ID, &a.Slug, &a.Name, &appType, &platforms, &a.Active,
			&a.GA4PropertyID, &a.SearchConsoleSite, &a.RevenueCatProjectID, &a.RevenueCatAppID,
			&a.AppStoreAppID, &a.AppStoreSKU, &a.OpenAIProjectID); err != nil {
			return nil, eris.Wrap(err, "postgres: scan app")
		}
		a.Type = model.AppType(appType)
		if len(platforms) > 0 {
			if err := json.Unmarshal(platforms, &a.Platforms); err != nil {
				return nil, eris.Wrapf(err, "postgres: unmarshal platforms for %s", a.Slug)
			}
		}
		apps = append(apps, a)
	}
	return apps, eris.Wrap(rows.Err(), "postgres: list apps iterate")
}

func (s *PostgresStore) UpsertApp(ctx context.Context, a model.App) error {
	platforms, err := json.Marshal(a.Platforms)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal platforms")
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO apps (`+appColumns+`, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			slug = EXCLUDED.slug, name = EXCLUDED.name, type = EXCLUDED.type,
			platforms = EXCLUDED.platforms, active = EXCLUDED.active,
			ga4_property_id = EXCLUDED.ga4_property_id, search_console_site = EXCLUDED.search_console_site,
			revenuecat_project_id = EXCLUDED.revenuecat_project_id, revenuecat_app_id = EXCLUDED.revenuecat_app_id,
			appstore_app_id = EXCLUDED.appstore_app_id, appstore_sku = EXCLUDED.appstore_sku,
			openai_project_id = EXCLUDED.openai_project_id, updated_at = EXCLUDED.updated_at`,
		a.ID, a.Slug, a.Name, string(a.Type), platforms, a.Active,
		a.GA4PropertyID, a.SearchConsoleSite, a.RevenueCatProjectID, a.RevenueCatAppID,
		a.AppStoreAppID, a.AppStoreSKU, a.OpenAIProjectID, s.now(),
	)
	return eris.Wrapf(err, "postgres: upsert app %s", a.Slug)
}

func (s *PostgresStore) ListProviders(ctx context.Context, activeOnly bool) ([]model.Provider, error) {
	query := `SELECT id, slug, name, category, active FROM providers`
	if activeOnly {
		query += ` WHERE active`
	}
	query += ` ORDER BY name, id`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list providers")
	}
	defer rows.Close()

	var out []model.Provider
	for rows.Next() {
		var p model.Provider
		var category string
		if err := rows.Scan(&p.ID, &p.Slug, &p.Name, &category, &p.Active); err != nil {
			return nil, eris.Wrap(err, "postgres: scan provider")
		}
		p.Category = model.ProviderCategory(category)
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list providers iterate")
}

func (s *PostgresStore) UpsertProvider(ctx context.Context, p model.Provider) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO providers (id, slug, name, category, active, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			slug = EXCLUDED.slug, name = EXCLUDED.name, category = EXCLUDED.category,
			active = EXCLUDED.active, updated_at = EXCLUDED.updated_at`,
		p.ID, p.Slug, p.Name, string(p.Category), p.Active, s.now(),
	)
	return eris.Wrapf(err, "postgres: upsert provider %s", p.Slug)
}
