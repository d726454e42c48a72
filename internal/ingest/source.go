package ingest

import "context"

// Result is the outcome of one adapter invocation.
type Result struct {
	RecordsProcessed int64  `json:"records_processed"`
	Success          bool   `json:"success"`
	Error            string `json:"error,omitempty"`
	NotConfigured    bool   `json:"not_configured,omitempty"`
}

// NotConfigured is the result of an adapter whose credentials are absent.
// It is a success with no records.
func NotConfigured() Result {
	return Result{Success: true, NotConfigured: true}
}

// Succeeded reports a successful run.
func Succeeded(records int64) Result {
	return Result{RecordsProcessed: records, Success: true}
}

// Failed reports a failed run. Rows already written stay written, so
// records may be non-zero.
func Failed(records int64, err error) Result {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return Result{RecordsProcessed: records, Error: msg}
}

// Source is one provider-family adapter. Run must not panic for expected
// provider errors; the Runner recovers panics anyway.
type Source interface {
	// Name is the unique adapter name recorded in the ingestion log.
	Name() string

	// Run fetches data for ic.Date() and writes normalized rows.
	Run(ctx context.Context, ic Context) Result
}

// ProviderScoped is implemented by sources that report costs or usage for a
// single provider. The provider reference is recorded on the log entry.
type ProviderScoped interface {
	ProviderSlug() string
}
