package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/sells-group/portfolio-metrics/internal/model"
)

type dialect struct {
	name      string
	serialPK  string
	date      string
	text      string
	integer   string
	real      string
	json      string
	boolean   string
	timestamp string
	now       string
}

var postgresDialect = dialect{
	name:      "postgres",
	serialPK:  "BIGSERIAL PRIMARY KEY",
	date:      "DATE",
	text:      "TEXT",
	integer:   "BIGINT",
	real:      "DOUBLE PRECISION",
	json:      "JSONB",
	boolean:   "BOOLEAN",
	timestamp: "TIMESTAMPTZ",
	now:       "now()",
}

var sqliteDialect = dialect{
	name:      "sqlite",
	serialPK:  "INTEGER PRIMARY KEY AUTOINCREMENT",
	date:      "TEXT",
	text:      "TEXT",
	integer:   "INTEGER",
	real:      "REAL",
	json:      "TEXT",
	boolean:   "INTEGER",
	timestamp: "TEXT",
	now:       "CURRENT_TIMESTAMP",
}

// columnType maps a Go value from a row's Values slice to a column type.
func (d dialect) columnType(v any) string {
	switch v.(type) {
	case time.Time:
		return d.date + " NOT NULL"
	case int64:
		return d.integer + " NOT NULL DEFAULT 0"
	case float64:
		return d.real + " NOT NULL DEFAULT 0"
	case []byte:
		return d.json
	default:
		return d.text + " NOT NULL DEFAULT ''"
	}
}

// metricTableDDL derives the CREATE TABLE for a row variant from its
// TableSpec so the unique constraint always equals the natural key.
func metricTableDDL(d dialect, spec model.TableSpec) string {
	cols := spec.Columns()
	vals := spec.New().Values()

	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", spec.Table)
	fmt.Fprintf(&b, "\tid %s,\n", d.serialPK)
	for i, c := range cols {
		fmt.Fprintf(&b, "\t%s %s,\n", c, d.columnType(vals[i]))
	}
	fmt.Fprintf(&b, "\tupdated_at %s NOT NULL DEFAULT %s,\n", d.timestamp, d.now)
	fmt.Fprintf(&b, "\tUNIQUE (%s)\n);\n", strings.Join(spec.Key, ", "))
	fmt.Fprintf(&b, "CREATE INDEX IF NOT EXISTS idx_%s_date ON %s(date);\n", spec.Table, spec.Table)
	return b.String()
}

func referenceDDL(d dialect) string {
	r := strings.NewReplacer(
		"{{serial}}", d.serialPK,
		"{{date}}", d.date,
		"{{real}}", d.real,
		"{{int}}", d.integer,
		"{{json}}", d.json,
		"{{bool}}", d.boolean,
		"{{ts}}", d.timestamp,
		"{{now}}", d.now,
	)
	return r.Replace(`
CREATE TABLE IF NOT EXISTS apps (
	id                    TEXT PRIMARY KEY,
	slug                  TEXT NOT NULL UNIQUE,
	name                  TEXT NOT NULL,
	type                  TEXT NOT NULL,
	platforms             {{json}},
	active                {{bool}} NOT NULL DEFAULT TRUE,
	ga4_property_id       TEXT NOT NULL DEFAULT '',
	search_console_site   TEXT NOT NULL DEFAULT '',
	revenuecat_project_id TEXT NOT NULL DEFAULT '',
	revenuecat_app_id     TEXT NOT NULL DEFAULT '',
	appstore_app_id       TEXT NOT NULL DEFAULT '',
	appstore_sku          TEXT NOT NULL DEFAULT '',
	openai_project_id     TEXT NOT NULL DEFAULT '',
	created_at            {{ts}} NOT NULL DEFAULT {{now}},
	updated_at            {{ts}} NOT NULL DEFAULT {{now}}
);

CREATE TABLE IF NOT EXISTS providers (
	id         TEXT PRIMARY KEY,
	slug       TEXT NOT NULL UNIQUE,
	name       TEXT NOT NULL,
	category   TEXT NOT NULL,
	active     {{bool}} NOT NULL DEFAULT TRUE,
	created_at {{ts}} NOT NULL DEFAULT {{now}},
	updated_at {{ts}} NOT NULL DEFAULT {{now}}
);

CREATE TABLE IF NOT EXISTS ingestion_log (
	id                {{serial}},
	run_id            TEXT NOT NULL DEFAULT '',
	source            TEXT NOT NULL,
	date              {{date}} NOT NULL,
	provider_id       TEXT NOT NULL DEFAULT '',
	started_at        {{ts}} NOT NULL,
	completed_at      {{ts}},
	status            TEXT NOT NULL DEFAULT 'running',
	records_processed {{int}} NOT NULL DEFAULT 0,
	error_message     TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_ingestion_log_source_date ON ingestion_log(source, date);
CREATE INDEX IF NOT EXISTS idx_ingestion_log_run_id ON ingestion_log(run_id);

CREATE TABLE IF NOT EXISTS revenuecat_events (
	event_id    TEXT PRIMARY KEY,
	event_type  TEXT NOT NULL,
	app_id      TEXT NOT NULL DEFAULT '',
	rc_app_id   TEXT NOT NULL DEFAULT '',
	app_user_id TEXT NOT NULL DEFAULT '',
	product_id  TEXT NOT NULL DEFAULT '',
	price       {{real}} NOT NULL DEFAULT 0,
	currency    TEXT NOT NULL DEFAULT '',
	environment TEXT NOT NULL DEFAULT '',
	event_at    {{ts}} NOT NULL,
	raw         {{json}},
	notified    {{bool}} NOT NULL DEFAULT FALSE,
	created_at  {{ts}} NOT NULL DEFAULT {{now}}
);

CREATE INDEX IF NOT EXISTS idx_revenuecat_events_app ON revenuecat_events(app_id, event_at);
`)
}

// migrationSQL returns the full idempotent schema for a dialect.
func migrationSQL(d dialect) string {
	var b strings.Builder
	b.WriteString(referenceDDL(d))
	for _, k := range model.Kinds() {
		spec, _ := model.Spec(k)
		b.WriteString("\n")
		b.WriteString(metricTableDDL(d, spec))
	}
	return b.String()
}

// selectRowsSQL builds the filtered read for a row variant. placeholder
// renders the n-th (1-based) bind parameter; inList renders an IN/ANY test
// of column against the n-th parameter and returns how many parameters it
// consumed.
func selectRowsSQL(spec model.TableSpec, f RowFilter, placeholder func(n int) string, inList func(col string, n int, ids []string) (string, []any)) (string, []any) {
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s WHERE date >= %s AND date <= %s",
		strings.Join(spec.Columns(), ", "), spec.Table, placeholder(1), placeholder(2))
	args := []any{model.Day(f.From), model.Day(f.To)}

	if len(f.AppIDs) > 0 && hasColumn(spec, "app_id") {
		clause, a := inList("app_id", len(args)+1, f.AppIDs)
		b.WriteString(" AND " + clause)
		args = append(args, a...)
	}
	if len(f.ProviderIDs) > 0 && hasColumn(spec, "provider_id") {
		clause, a := inList("provider_id", len(args)+1, f.ProviderIDs)
		b.WriteString(" AND " + clause)
		args = append(args, a...)
	}
	fmt.Fprintf(&b, " ORDER BY %s", strings.Join(spec.Key, ", "))
	return b.String(), args
}
