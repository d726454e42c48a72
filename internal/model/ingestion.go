package model

import "time"

// LogStatus is the lifecycle state of an ingestion log entry.
type LogStatus string

const (
	LogStatusRunning LogStatus = "running"
	LogStatusSuccess LogStatus = "success"
	LogStatusFailed  LogStatus = "failed"
)

// Terminal reports whether the status is final.
func (s LogStatus) Terminal() bool {
	return s == LogStatusSuccess || s == LogStatusFailed
}

// IngestionLogEntry records one adapter invocation for one date. It is
// created in the running state and finalized exactly once.
type IngestionLogEntry struct {
	ID               int64      `json:"id"`
	RunID            string     `json:"run_id,omitempty"`
	Source           string     `json:"source"`
	Date             time.Time  `json:"date"`
	ProviderID       string     `json:"provider_id,omitempty"`
	StartedAt        time.Time  `json:"started_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	Status           LogStatus  `json:"status"`
	RecordsProcessed int64      `json:"records_processed"`
	ErrorMessage     string     `json:"error_message,omitempty"`
}

// Duration returns how long the invocation took, or zero while running.
func (e IngestionLogEntry) Duration() time.Duration {
	if e.CompletedAt == nil {
		return 0
	}
	return e.CompletedAt.Sub(e.StartedAt)
}
