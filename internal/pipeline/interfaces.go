package pipeline

import (
	"context"
	"time"
)

// FetchClass is the two-way split of successful fetches. Failures are the
// third class and travel as errors so they keep their cause.
type FetchClass string

// Fetch classifications.
const (
	// FetchContent is a 200 markup response, decoded to UTF-8 text.
	FetchContent FetchClass = "content"
	// FetchSoftSkip is a 200 non-markup response. Re-fetching will not change
	// the content type, so the item is final rather than retryable.
	FetchSoftSkip FetchClass = "soft_skip"
)

// FetchResult is the outcome of a successful retrieval.
type FetchResult struct {
	Class       FetchClass
	StatusCode  int
	ContentType string
	Text        string
	Duration    time.Duration
}

// Fetcher retrieves a URL within a bounded timeout. A returned error is
// always retryable: transport failure, timeout, or a non-200 status.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (FetchResult, error)
}

// Delivery is the handle that confirms-and-removes a queue message.
// Withholding Ack causes redelivery.
type Delivery interface {
	ID() string
	Ack() error
}

// BlobStore reads and writes objects at object granularity. Put is
// idempotent: writing the same key twice leaves one object.
type BlobStore interface {
	Put(ctx context.Context, key string, contentType string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, key string) error
}

// Extractor turns raw markup into plain text. Parse failure yields an empty
// string plus a diagnostic, never a hard error: an empty result downstream
// is "nothing to chunk".
type Extractor interface {
	Extract(markup string) (text string, diag error)
}

// Chunker splits text into an ordered sequence of bounded, overlapping
// segments. Identical input always yields an identical sequence.
type Chunker interface {
	Split(text string) []string
}

// Ledger records per-item history for observability. Implementations must
// tolerate being skipped entirely: the pipeline runs without one.
type Ledger interface {
	RecordCrawl(ctx context.Context, rec CrawlRecord) error
	RecordTransform(ctx context.Context, rec TransformRecord) error
	Close()
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
