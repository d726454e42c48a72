package model

import "time"

// AppType classifies a tracked product.
type AppType string

const (
	AppTypeMobile  AppType = "mobile"
	AppTypeWeb     AppType = "web"
	AppTypeDesktop AppType = "desktop"
	AppTypeAPI     AppType = "api"
)

// Valid reports whether t is a known app type.
func (t AppType) Valid() bool {
	switch t {
	case AppTypeMobile, AppTypeWeb, AppTypeDesktop, AppTypeAPI:
		return true
	default:
		return false
	}
}

// App is a tracked product. Apps are reference data: ingestion reads them
// but never writes them.
type App struct {
	ID        string   `json:"id" yaml:"id"`
	Slug      string   `json:"slug" yaml:"slug"`
	Name      string   `json:"name" yaml:"name"`
	Type      AppType  `json:"type" yaml:"type"`
	Platforms []string `json:"platforms,omitempty" yaml:"platforms"`
	Active    bool     `json:"active" yaml:"active"`

	// Provider references. Empty means the app is not tracked by that provider.
	GA4PropertyID       string `json:"ga4_property_id,omitempty" yaml:"ga4_property_id"`
	SearchConsoleSite   string `json:"search_console_site,omitempty" yaml:"search_console_site"`
	RevenueCatProjectID string `json:"revenuecat_project_id,omitempty" yaml:"revenuecat_project_id"`
	RevenueCatAppID     string `json:"revenuecat_app_id,omitempty" yaml:"revenuecat_app_id"`
	AppStoreAppID       string `json:"appstore_app_id,omitempty" yaml:"appstore_app_id"`
	AppStoreSKU         string `json:"appstore_sku,omitempty" yaml:"appstore_sku"`
	OpenAIProjectID     string `json:"openai_project_id,omitempty" yaml:"openai_project_id"`
}

// HasPlatform reports whether the app ships on the given platform.
func (a App) HasPlatform(p string) bool {
	for _, x := range a.Platforms {
		if x == p {
			return true
		}
	}
	return false
}

// ProviderCategory groups cost/usage providers.
type ProviderCategory string

const (
	ProviderCategoryAI    ProviderCategory = "ai"
	ProviderCategoryCloud ProviderCategory = "cloud"
	ProviderCategoryEmail ProviderCategory = "email"
	ProviderCategoryOther ProviderCategory = "other"
)

// Provider is an external cost or usage source.
type Provider struct {
	ID       string           `json:"id" yaml:"id"`
	Slug     string           `json:"slug" yaml:"slug"`
	Name     string           `json:"name" yaml:"name"`
	Category ProviderCategory `json:"category" yaml:"category"`
	Active   bool             `json:"active" yaml:"active"`
}

// Day truncates t to midnight UTC of its calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DateLayout is the wire and storage layout for calendar dates.
const DateLayout = "2006-01-02"

// ParseDay parses a YYYY-MM-DD string into a UTC day.
func ParseDay(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	return Day(t), nil
}
