package model

import "time"

// Event environments reported by RevenueCat.
const (
	EnvironmentProduction = "PRODUCTION"
	EnvironmentSandbox    = "SANDBOX"
)

// RevenueCatEvent is a subscription lifecycle event received over the
// webhook. EventID is the idempotency key; rows are insert-only apart from
// the Notified flag.
type RevenueCatEvent struct {
	EventID     string    `json:"event_id"`
	EventType   string    `json:"event_type"`
	AppID       string    `json:"app_id,omitempty"`
	RCAppID     string    `json:"rc_app_id,omitempty"`
	AppUserID   string    `json:"app_user_id,omitempty"`
	ProductID   string    `json:"product_id,omitempty"`
	Price       float64   `json:"price"`
	Currency    string    `json:"currency,omitempty"`
	Environment string    `json:"environment"`
	EventAt     time.Time `json:"event_at"`
	Raw         []byte    `json:"-"`
	Notified    bool      `json:"notified"`
	CreatedAt   time.Time `json:"created_at"`
}

// IsProduction reports whether the event came from the production store
// environment. Missing environment is treated as non-production.
func (e RevenueCatEvent) IsProduction() bool {
	return e.Environment == EnvironmentProduction
}
