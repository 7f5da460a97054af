package poller

import (
	"context"

	"github.com/hangwatch/backend/internal/session"
)

// Searcher is the upstream source of live hangouts (the HTTP search API, or
// the mock generator). Implementations are called from one search at a
// time and do not need to be safe for concurrent use beyond that.
type Searcher interface {
	// Name returns a short lowercase identifier used in logs and health
	// reports, e.g. "http" or "mock".
	Name() string

	// Search runs query against the source and returns the raw batch.
	// A failed upstream response (including a non-ok status flag) must be
	// returned as an error; the poller's back-off policy handles it.
	Search(ctx context.Context, query string, opts SearchOptions) ([]session.RawResult, error)

	// Reinit refreshes the upstream search session (credentials, tokens).
	// Called after a run of consecutive failures.
	Reinit(ctx context.Context) error
}

// SearchOptions carries per-request parameters.
type SearchOptions struct {
	// Limit caps the number of results. Zero means the source default.
	Limit int
}
