package monitoring

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/portfolio-metrics/internal/model"
	"github.com/sells-group/portfolio-metrics/internal/notify"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertSourceFailed AlertType = "source_failed"
	AlertSourceStale  AlertType = "source_stale"
	AlertSourceStuck  AlertType = "source_stuck"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Dispatcher delivers rendered messages.
type Dispatcher interface {
	HasNotifiers() bool
	Broadcast(ctx context.Context, msg *notify.Message) error
}

// Alerter turns a HealthSnapshot into alerts and delivers them.
type Alerter struct {
	notifier Dispatcher
}

// NewAlerter creates an Alerter. A nil notifier evaluates but never sends.
func NewAlerter(notifier Dispatcher) *Alerter {
	return &Alerter{notifier: notifier}
}

// Evaluate returns at most one alert per condition, listing the affected
// sources.
func (a *Alerter) Evaluate(snap *HealthSnapshot) []Alert {
	var failed, stale, stuck []string
	errs := map[string]any{}
	for _, s := range snap.Sources {
		if s.LastStatus == model.LogStatusFailed {
			failed = append(failed, s.Source)
			errs[s.Source] = s.LastError
		}
		if s.Stale {
			stale = append(stale, s.Source)
		}
		if s.Stuck {
			stuck = append(stuck, s.Source)
		}
	}

	now := snap.CollectedAt
	var alerts []Alert
	if len(failed) > 0 {
		alerts = append(alerts, Alert{
			Type:      AlertSourceFailed,
			Severity:  notify.SeverityHigh,
			Message:   fmt.Sprintf("%d source(s) failed their last run: %s", len(failed), strings.Join(failed, ", ")),
			Details:   errs,
			Timestamp: now,
		})
	}
	if len(stale) > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertSourceStale,
			Severity: notify.SeverityWarning,
			Message: fmt.Sprintf("%d source(s) without a successful run in %dh: %s",
				len(stale), snap.StaleAfterHours, strings.Join(stale, ", ")),
			Details:   map[string]any{"sources": stale},
			Timestamp: now,
		})
	}
	if len(stuck) > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertSourceStuck,
			Severity: notify.SeverityHigh,
			Message: fmt.Sprintf("%d source(s) running for more than %dh: %s",
				len(stuck), snap.StaleAfterHours, strings.Join(stuck, ", ")),
			Details:   map[string]any{"sources": stuck},
			Timestamp: now,
		})
	}
	return alerts
}

// SendAlerts delivers alerts through the notifier. Returns the number of
// alerts delivered to every channel.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.notifier == nil || !a.notifier.HasNotifiers() || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		msg := &notify.Message{
			Kind:      notify.KindHealth,
			Title:     "Ingestion " + strings.ReplaceAll(string(alert.Type), "_", " "),
			Text:      alert.Message,
			Severity:  alert.Severity,
			Details:   alert.Details,
			Timestamp: alert.Timestamp,
		}
		if err := a.notifier.Broadcast(ctx, msg); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}
