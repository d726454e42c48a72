// Package notify delivers rendered messages to operator channels.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/portfolio-metrics/internal/config"
	"github.com/sells-group/portfolio-metrics/internal/resilience"
	"github.com/sells-group/portfolio-metrics/internal/telemetry"
)

// Severity levels.
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
	SeverityHigh    = "high"
)

// Field is a labelled value shown with a message.
type Field struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Message is a rendered notification.
type Message struct {
	Kind      string         `json:"kind"`
	Title     string         `json:"title"`
	Text      string         `json:"text"`
	Severity  string         `json:"severity"`
	Fields    []Field        `json:"fields,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Notifier delivers messages to one destination.
type Notifier interface {
	Name() string
	Send(ctx context.Context, msg *Message) error
}

// Manager broadcasts messages to every configured notifier.
type Manager struct {
	notifiers []Notifier
	metrics   *telemetry.Metrics
	retry     resilience.RetryConfig
}

// NewManager creates a Manager. metrics may be nil.
func NewManager(metrics *telemetry.Metrics, notifiers ...Notifier) *Manager {
	return &Manager{notifiers: notifiers, metrics: metrics, retry: resilience.DefaultRetryConfig()}
}

// WithRetry replaces the per-notifier retry policy for transient failures.
func (m *Manager) WithRetry(cfg resilience.RetryConfig) *Manager {
	m.retry = cfg
	return m
}

// FromConfig builds a Manager with a notifier per configured URL.
func FromConfig(cfg config.NotifyConfig, metrics *telemetry.Metrics) *Manager {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	var ns []Notifier
	if cfg.SlackWebhookURL != "" {
		ns = append(ns, NewSlack(cfg.SlackWebhookURL, timeout))
	}
	if cfg.WebhookURL != "" {
		ns = append(ns, NewWebhook(cfg.WebhookURL, cfg.WebhookSecret, timeout))
	}
	m := NewManager(metrics, ns...)
	if cfg.MaxAttempts > 0 {
		m.retry.MaxAttempts = cfg.MaxAttempts
	}
	return m
}

// HasNotifiers reports whether at least one notifier is configured.
func (m *Manager) HasNotifiers() bool {
	return m != nil && len(m.notifiers) > 0
}

// Broadcast sends msg to every notifier, retrying transient failures. It
// returns the joined errors of the notifiers that failed; the others still
// receive the message.
func (m *Manager) Broadcast(ctx context.Context, msg *Message) error {
	if !m.HasNotifiers() {
		return ErrNoNotifiers
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	var errs []error
	for _, n := range m.notifiers {
		retry := m.retry
		retry.OnRetry = func(attempt int, err error) {
			zap.L().Debug("notify: retrying delivery",
				zap.String("notifier", n.Name()),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		}
		err := resilience.Do(ctx, retry, func(ctx context.Context) error {
			return n.Send(ctx, msg)
		})
		m.metrics.RecordNotify(n.Name(), err)
		if err != nil {
			zap.L().Warn("notify: delivery failed",
				zap.String("notifier", n.Name()),
				zap.String("kind", msg.Kind),
				zap.Error(err),
			)
			errs = append(errs, eris.Wrapf(err, "notify: %s", n.Name()))
		}
	}
	return errors.Join(errs...)
}

// ErrNoNotifiers is returned by Broadcast when nothing is configured.
var ErrNoNotifiers = eris.New("notify: no notifiers configured")
