package store

import (
	"context"

	"github.com/rotisserie/eris"
)

// Open returns a Store for the named driver ("postgres" or "sqlite").
func Open(ctx context.Context, driver, dsn string, poolCfg *PoolConfig) (Store, error) {
	switch driver {
	case "postgres", "":
		if dsn == "" {
			return nil, eris.New("store: database_url is required for postgres")
		}
		return NewPostgres(ctx, dsn, poolCfg)
	case "sqlite":
		if dsn == "" {
			dsn = "portfolio.db"
		}
		return NewSQLite(dsn)
	default:
		return nil, eris.Errorf("store: unknown driver %q", driver)
	}
}
