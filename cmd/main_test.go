package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/portfolio-metrics/internal/config"
	"github.com/sells-group/portfolio-metrics/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// testConfig installs a sqlite-backed config for the duration of a test.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	prev := cfg
	cfg = &config.Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = filepath.Join(t.TempDir(), "cmd.db")
	cfg.Ingest.MaxConcurrentSources = 2
	cfg.Ingest.TopN = 10
	cfg.Server.Port = 8080
	cfg.Server.CORSOrigins = []string{"*"}
	t.Cleanup(func() { cfg = prev })
	return cfg
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	testConfig(t)
	st, err := initStore(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	return st
}
