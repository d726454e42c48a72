package config

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Validate checks the settings a command mode depends on. Modes are
// "migrate", "ingest", "report" and "serve".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "migrate", "ingest", "report", "serve":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "", "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for the postgres driver")
		}
	case "sqlite":
	default:
		errs = append(errs, "store.driver must be postgres or sqlite")
	}

	if mode == "ingest" || mode == "serve" {
		if c.Ingest.MaxConcurrentSources < 1 || c.Ingest.MaxConcurrentSources > 32 {
			errs = append(errs, "ingest.max_concurrent_sources must be between 1 and 32")
		}
		if c.Ingest.EntityDelayMs < 0 {
			errs = append(errs, "ingest.entity_delay_ms must be >= 0")
		}
		if c.AppStore.IssuerID != "" && (c.AppStore.KeyID == "" || c.AppStore.KeyPath == "" || c.AppStore.VendorNumber == "") {
			errs = append(errs, "appstore.key_id, key_path and vendor_number are required with issuer_id")
		}
	}

	if mode == "serve" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be > 0 and <= 65535")
		}
	}

	for model, p := range c.Pricing.Anthropic {
		if p.Input < 0 || p.Output < 0 || p.CacheWriteMul < 0 || p.CacheReadMul < 0 || p.BatchDiscount < 0 {
			errs = append(errs, "pricing.anthropic."+model+" rates must be >= 0")
		}
	}

	if len(errs) > 0 {
		return eris.New("config: " + strings.Join(errs, "; "))
	}
	return nil
}
