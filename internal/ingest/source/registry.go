package source

import (
	"net/http"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/portfolio-metrics/internal/config"
	"github.com/sells-group/portfolio-metrics/internal/cost"
	"github.com/sells-group/portfolio-metrics/internal/ingest"
	"github.com/sells-group/portfolio-metrics/pkg/anthropic"
	"github.com/sells-group/portfolio-metrics/pkg/appstore"
	"github.com/sells-group/portfolio-metrics/pkg/digitalocean"
	"github.com/sells-group/portfolio-metrics/pkg/google"
	"github.com/sells-group/portfolio-metrics/pkg/openai"
	"github.com/sells-group/portfolio-metrics/pkg/revenuecat"
	"github.com/sells-group/portfolio-metrics/pkg/sendgrid"
)

// Clients holds one API client per provider. A nil client leaves its
// adapter registered but not configured.
type Clients struct {
	RevenueCat     revenuecat.Client
	AppStore       appstore.Client
	AppStoreVendor string
	Google         google.Client
	Anthropic      anthropic.Client
	OpenAI         openai.Client
	DigitalOcean   digitalocean.Client
	SendGrid       sendgrid.Client
}

// NewClients builds clients for every provider with credentials in cfg.
// Unreadable key files are errors; absent credentials are not.
func NewClients(cfg *config.Config) (*Clients, error) {
	var c Clients
	log := zap.L().With(zap.String("component", "ingest.source"))

	if cfg.RevenueCat.APIKey != "" {
		var opts []revenuecat.Option
		if cfg.RevenueCat.BaseURL != "" {
			opts = append(opts, revenuecat.WithBaseURL(cfg.RevenueCat.BaseURL))
		}
		c.RevenueCat = revenuecat.NewClient(cfg.RevenueCat.APIKey, opts...)
	}

	if cfg.AppStore.IssuerID != "" && cfg.AppStore.KeyPath != "" {
		pemBytes, err := os.ReadFile(cfg.AppStore.KeyPath)
		if err != nil {
			return nil, eris.Wrap(err, "source: read appstore key")
		}
		var opts []appstore.Option
		if cfg.AppStore.BaseURL != "" {
			opts = append(opts, appstore.WithBaseURL(cfg.AppStore.BaseURL))
		}
		client, err := appstore.NewClient(cfg.AppStore.IssuerID, cfg.AppStore.KeyID, pemBytes, opts...)
		if err != nil {
			return nil, eris.Wrap(err, "source: appstore client")
		}
		c.AppStore = client
		c.AppStoreVendor = cfg.AppStore.VendorNumber
	}

	if cfg.Google.CredentialsFile != "" {
		sa, err := google.LoadServiceAccount(cfg.Google.CredentialsFile)
		if err != nil {
			return nil, eris.Wrap(err, "source: google credentials")
		}
		ts, err := google.NewServiceAccountSource(sa, &http.Client{Timeout: 30 * time.Second},
			google.ScopeAnalyticsReadonly, google.ScopeWebmastersReadonly)
		if err != nil {
			return nil, eris.Wrap(err, "source: google token source")
		}
		var opts []google.Option
		if cfg.Google.AnalyticsURL != "" {
			opts = append(opts, google.WithAnalyticsURL(cfg.Google.AnalyticsURL))
		}
		if cfg.Google.SearchConsoleURL != "" {
			opts = append(opts, google.WithSearchConsoleURL(cfg.Google.SearchConsoleURL))
		}
		c.Google = google.NewClient(ts, opts...)
	}

	if cfg.Anthropic.AdminKey != "" {
		var opts []anthropic.Option
		if cfg.Anthropic.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.Anthropic.BaseURL))
		}
		c.Anthropic = anthropic.NewClient(cfg.Anthropic.AdminKey, opts...)
	}

	if cfg.OpenAI.AdminKey != "" {
		var opts []openai.Option
		if cfg.OpenAI.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.OpenAI.BaseURL))
		}
		if cfg.OpenAI.Organization != "" {
			opts = append(opts, openai.WithOrganization(cfg.OpenAI.Organization))
		}
		c.OpenAI = openai.NewClient(cfg.OpenAI.AdminKey, opts...)
	}

	if cfg.DigitalOcean.Token != "" {
		var opts []digitalocean.Option
		if cfg.DigitalOcean.BaseURL != "" {
			opts = append(opts, digitalocean.WithBaseURL(cfg.DigitalOcean.BaseURL))
		}
		c.DigitalOcean = digitalocean.NewClient(cfg.DigitalOcean.Token, opts...)
	}

	if cfg.SendGrid.APIKey != "" {
		var opts []sendgrid.Option
		if cfg.SendGrid.BaseURL != "" {
			opts = append(opts, sendgrid.WithBaseURL(cfg.SendGrid.BaseURL))
		}
		c.SendGrid = sendgrid.NewClient(cfg.SendGrid.APIKey, opts...)
	}

	log.Debug("provider clients built",
		zap.Bool("revenuecat", c.RevenueCat != nil),
		zap.Bool("appstore", c.AppStore != nil),
		zap.Bool("google", c.Google != nil),
		zap.Bool("anthropic", c.Anthropic != nil),
		zap.Bool("openai", c.OpenAI != nil),
		zap.Bool("digitalocean", c.DigitalOcean != nil),
		zap.Bool("sendgrid", c.SendGrid != nil),
	)
	return &c, nil
}

// NewRegistry registers every adapter in a fixed order.
func NewRegistry(c *Clients, calc *cost.Calculator, topN int, deps Deps) *ingest.Registry {
	reg := ingest.NewRegistry()
	reg.Register(NewRevenueCat(c.RevenueCat, deps))
	reg.Register(NewAppStore(c.AppStore, c.AppStoreVendor, deps))
	reg.Register(NewGA4(c.Google, topN, deps))
	reg.Register(NewSearchConsole(c.Google, topN, deps))
	reg.Register(NewAnthropicUsage(c.Anthropic, calc, deps))
	reg.Register(NewOpenAIUsage(c.OpenAI, deps))
	reg.Register(NewCloudBilling(c.DigitalOcean, deps))
	reg.Register(NewSendGrid(c.SendGrid, deps))
	return reg
}
