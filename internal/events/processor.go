// Package events receives RevenueCat webhook deliveries, stores each event
// once and notifies operators about production lifecycle events.
package events

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/portfolio-metrics/internal/model"
	"github.com/sells-group/portfolio-metrics/internal/notify"
	"github.com/sells-group/portfolio-metrics/internal/store"
	"github.com/sells-group/portfolio-metrics/internal/telemetry"
)

// Outcome is the processing result reported back to the sender.
type Outcome string

const (
	OutcomeOK        Outcome = "ok"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeError     Outcome = "error"
)

// notifyTypes are the event types operators are told about.
var notifyTypes = map[string]bool{
	"INITIAL_PURCHASE":      true,
	"RENEWAL":               true,
	"CANCELLATION":          true,
	"UNCANCELLATION":        true,
	"NON_RENEWING_PURCHASE": true,
	"PRODUCT_CHANGE":        true,
	"BILLING_ISSUE":         true,
	"EXPIRATION":            true,
}

// Notifiable reports whether an event type triggers a notification.
func Notifiable(eventType string) bool { return notifyTypes[eventType] }

// Envelope is the webhook request body.
type Envelope struct {
	APIVersion string          `json:"api_version"`
	Event      json.RawMessage `json:"event"`
}

// Payload is the subset of the event object that is stored.
type Payload struct {
	ID                       string   `json:"id"`
	Type                     string   `json:"type"`
	AppID                    string   `json:"app_id"`
	AppUserID                string   `json:"app_user_id"`
	ProductID                string   `json:"product_id"`
	Price                    *float64 `json:"price"`
	PriceInPurchasedCurrency *float64 `json:"price_in_purchased_currency"`
	Currency                 string   `json:"currency"`
	Environment              string   `json:"environment"`
	EventTimestampMs         int64    `json:"event_timestamp_ms"`
	CancelReason             string   `json:"cancel_reason"`
}

// Dispatcher delivers rendered messages.
type Dispatcher interface {
	HasNotifiers() bool
	Broadcast(ctx context.Context, msg *notify.Message) error
}

// AppLister resolves RevenueCat app ids to tracked apps.
type AppLister interface {
	ListApps(ctx context.Context, activeOnly bool) ([]model.App, error)
}

// Processor runs one delivery through parse, store and notify.
type Processor struct {
	events   store.EventStore
	apps     AppLister
	notifier Dispatcher
	metrics  *telemetry.Metrics
	now      func() time.Time
}

// NewProcessor creates a Processor. notifier and metrics may be nil.
func NewProcessor(events store.EventStore, apps AppLister, notifier Dispatcher, metrics *telemetry.Metrics) *Processor {
	return &Processor{
		events:   events,
		apps:     apps,
		notifier: notifier,
		metrics:  metrics,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Parse decodes a delivery. It returns false for bodies missing an event
// id or type.
func Parse(body []byte) (*Payload, json.RawMessage, bool) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil || len(env.Event) == 0 {
		return nil, nil, false
	}
	var p Payload
	if err := json.Unmarshal(env.Event, &p); err != nil {
		return nil, nil, false
	}
	p.ID = strings.TrimSpace(p.ID)
	p.Type = strings.ToUpper(strings.TrimSpace(p.Type))
	if p.ID == "" || p.Type == "" {
		return nil, nil, false
	}
	return &p, env.Event, true
}

// Process handles one delivery body. An error is returned only when the
// event could not be stored; every other outcome is final.
func (p *Processor) Process(ctx context.Context, body []byte) (Outcome, error) {
	payload, raw, ok := Parse(body)
	if !ok {
		zap.L().Warn("events: ignoring malformed delivery", zap.Int("bytes", len(body)))
		p.metrics.RecordWebhook(string(OutcomeIgnored))
		return OutcomeIgnored, nil
	}
	log := zap.L().With(zap.String("event_id", payload.ID), zap.String("event_type", payload.Type))

	app := p.resolveApp(ctx, payload.AppID)
	ev := p.toEvent(payload, raw, app)

	inserted, err := p.events.InsertEvent(ctx, ev)
	if err != nil {
		p.metrics.RecordWebhook(string(OutcomeError))
		return OutcomeError, eris.Wrapf(err, "events: store %s", payload.ID)
	}
	if !inserted {
		log.Debug("events: duplicate delivery")
		p.metrics.RecordWebhook(string(OutcomeDuplicate))
		return OutcomeDuplicate, nil
	}

	p.metrics.RecordWebhook(string(OutcomeOK))
	if !ev.IsProduction() || !Notifiable(ev.EventType) || p.notifier == nil || !p.notifier.HasNotifiers() {
		return OutcomeOK, nil
	}

	shown := *ev
	if ev.EventType == "CANCELLATION" && payload.CancelReason == "CUSTOMER_SUPPORT" {
		shown.EventType = "REFUND"
	}
	if err := p.notifier.Broadcast(ctx, notify.RenderEvent(&shown, app.Name)); err != nil {
		log.Warn("events: notification not delivered", zap.Error(err))
		return OutcomeOK, nil
	}
	if err := p.events.MarkEventNotified(ctx, ev.EventID); err != nil {
		log.Warn("events: mark notified", zap.Error(err))
	}
	return OutcomeOK, nil
}

func (p *Processor) resolveApp(ctx context.Context, rcAppID string) model.App {
	if rcAppID == "" || p.apps == nil {
		return model.App{}
	}
	apps, err := p.apps.ListApps(ctx, false)
	if err != nil {
		zap.L().Warn("events: roster lookup failed", zap.Error(err))
		return model.App{}
	}
	for _, a := range apps {
		if a.RevenueCatAppID == rcAppID {
			return a
		}
	}
	return model.App{}
}

func (p *Processor) toEvent(pl *Payload, raw json.RawMessage, app model.App) *model.RevenueCatEvent {
	at := p.now()
	if pl.EventTimestampMs > 0 {
		at = time.UnixMilli(pl.EventTimestampMs).UTC()
	}

	price, currency := 0.0, pl.Currency
	switch {
	case pl.PriceInPurchasedCurrency != nil && pl.Currency != "":
		price = *pl.PriceInPurchasedCurrency
	case pl.Price != nil:
		price, currency = *pl.Price, "USD"
	}

	return &model.RevenueCatEvent{
		EventID:     pl.ID,
		EventType:   pl.Type,
		AppID:       app.ID,
		RCAppID:     pl.AppID,
		AppUserID:   pl.AppUserID,
		ProductID:   pl.ProductID,
		Price:       price,
		Currency:    currency,
		Environment: strings.ToUpper(pl.Environment),
		EventAt:     at,
		Raw:         raw,
	}
}
