package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/portfolio-metrics/internal/model"
	"github.com/sells-group/portfolio-metrics/internal/store"
)

// rosterFile is the on-disk roster. Entries without an "active" key are
// active; an entry without an id uses its slug.
type rosterFile struct {
	Apps      []rosterApp      `yaml:"apps"`
	Providers []rosterProvider `yaml:"providers"`
}

type rosterApp struct {
	ID                  string   `yaml:"id"`
	Slug                string   `yaml:"slug"`
	Name                string   `yaml:"name"`
	Type                string   `yaml:"type"`
	Platforms           []string `yaml:"platforms"`
	Active              *bool    `yaml:"active"`
	GA4PropertyID       string   `yaml:"ga4_property_id"`
	SearchConsoleSite   string   `yaml:"search_console_site"`
	RevenueCatProjectID string   `yaml:"revenuecat_project_id"`
	RevenueCatAppID     string   `yaml:"revenuecat_app_id"`
	AppStoreAppID       string   `yaml:"appstore_app_id"`
	AppStoreSKU         string   `yaml:"appstore_sku"`
	OpenAIProjectID     string   `yaml:"openai_project_id"`
}

type rosterProvider struct {
	ID       string `yaml:"id"`
	Slug     string `yaml:"slug"`
	Name     string `yaml:"name"`
	Category string `yaml:"category"`
	Active   *bool  `yaml:"active"`
}

func orDefault(b *bool) bool { return b == nil || *b }

func (a rosterApp) toModel() model.App {
	id := a.ID
	if id == "" {
		id = a.Slug
	}
	platforms := make([]string, 0, len(a.Platforms))
	for _, p := range a.Platforms {
		platforms = append(platforms, strings.ToLower(strings.TrimSpace(p)))
	}
	return model.App{
		ID:                  id,
		Slug:                a.Slug,
		Name:                a.Name,
		Type:                model.AppType(strings.ToLower(a.Type)),
		Platforms:           platforms,
		Active:              orDefault(a.Active),
		GA4PropertyID:       a.GA4PropertyID,
		SearchConsoleSite:   a.SearchConsoleSite,
		RevenueCatProjectID: a.RevenueCatProjectID,
		RevenueCatAppID:     a.RevenueCatAppID,
		AppStoreAppID:       a.AppStoreAppID,
		AppStoreSKU:         a.AppStoreSKU,
		OpenAIProjectID:     a.OpenAIProjectID,
	}
}

func (p rosterProvider) toModel() model.Provider {
	id := p.ID
	if id == "" {
		id = p.Slug
	}
	category := model.ProviderCategory(strings.ToLower(p.Category))
	if category == "" {
		category = model.ProviderCategoryOther
	}
	return model.Provider{ID: id, Slug: p.Slug, Name: p.Name, Category: category, Active: orDefault(p.Active)}
}

// parseRoster decodes and validates a roster document.
func parseRoster(r io.Reader) ([]model.App, []model.Provider, error) {
	var f rosterFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return nil, nil, eris.Wrap(err, "roster: decode")
	}

	var problems []string
	seen := map[string]bool{}
	apps := make([]model.App, 0, len(f.Apps))
	for i, ra := range f.Apps {
		a := ra.toModel()
		switch {
		case a.Slug == "":
			problems = append(problems, fmt.Sprintf("apps[%d]: slug is required", i))
		case a.Name == "":
			problems = append(problems, fmt.Sprintf("apps[%d] %s: name is required", i, a.Slug))
		case !a.Type.Valid():
			problems = append(problems, fmt.Sprintf("apps[%d] %s: unknown type %q", i, a.Slug, a.Type))
		case seen["app:"+a.Slug]:
			problems = append(problems, fmt.Sprintf("apps[%d]: duplicate slug %s", i, a.Slug))
		}
		seen["app:"+a.Slug] = true
		apps = append(apps, a)
	}

	providers := make([]model.Provider, 0, len(f.Providers))
	for i, rp := range f.Providers {
		p := rp.toModel()
		switch {
		case p.Slug == "":
			problems = append(problems, fmt.Sprintf("providers[%d]: slug is required", i))
		case !validCategory(p.Category):
			problems = append(problems, fmt.Sprintf("providers[%d] %s: unknown category %q", i, p.Slug, p.Category))
		case seen["provider:"+p.Slug]:
			problems = append(problems, fmt.Sprintf("providers[%d]: duplicate slug %s", i, p.Slug))
		}
		if p.Name == "" {
			p.Name = p.Slug
		}
		seen["provider:"+p.Slug] = true
		providers = append(providers, p)
	}

	if len(problems) > 0 {
		return nil, nil, eris.New("roster: " + strings.Join(problems, "; "))
	}
	return apps, providers, nil
}

func validCategory(c model.ProviderCategory) bool {
	switch c {
	case model.ProviderCategoryAI, model.ProviderCategoryCloud, model.ProviderCategoryEmail, model.ProviderCategoryOther:
		return true
	default:
		return false
	}
}

// importRoster upserts every app and provider. Entries absent from the file
// are left untouched.
func importRoster(ctx context.Context, st store.RosterStore, apps []model.App, providers []model.Provider) error {
	for _, a := range apps {
		if err := st.UpsertApp(ctx, a); err != nil {
			return eris.Wrapf(err, "roster: upsert app %s", a.Slug)
		}
	}
	for _, p := range providers {
		if err := st.UpsertProvider(ctx, p); err != nil {
			return eris.Wrapf(err, "roster: upsert provider %s", p.Slug)
		}
	}
	return nil
}

var rosterCmd = &cobra.Command{
	Use:         "roster",
	Short:       "Manage the app and provider roster",
	Annotations: map[string]string{modeAnnotation: "migrate"},
}

var rosterImportCmd = &cobra.Command{
	Use:   "import [file.yaml]",
	Short: "Upsert apps and providers from a YAML roster file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		path := cfg.Ingest.RosterFile
		if len(args) == 1 {
			path = args[0]
		}

		f, err := os.Open(path)
		if err != nil {
			return eris.Wrap(err, "roster: open file")
		}
		defer f.Close() //nolint:errcheck

		apps, providers, err := parseRoster(f)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := importRoster(ctx, st, apps, providers); err != nil {
			return err
		}

		zap.L().Info("roster import complete",
			zap.String("file", path),
			zap.Int("apps", len(apps)),
			zap.Int("providers", len(providers)),
		)
		return nil
	},
}

func init() {
	rosterCmd.AddCommand(rosterImportCmd)
	rootCmd.AddCommand(rosterCmd)
}
