package pipeline

import "time"

// Outcome classifies the terminal state of a single processed item.
type Outcome string

// Outcome values recorded per item.
const (
	// OutcomeStored means the item's artifact was durably written.
	OutcomeStored Outcome = "stored"
	// OutcomeSoftSkip is final: reprocessing the item cannot change the result,
	// so it is acknowledged without producing an artifact.
	OutcomeSoftSkip Outcome = "soft_skip"
	// OutcomeRetryable leaves the item unacknowledged so the queue redelivers it.
	OutcomeRetryable Outcome = "retryable"
)

// WorkItem is one queued crawl unit: a URL plus the delivery handle that
// acknowledges (and thereby removes) the underlying queue message.
type WorkItem struct {
	URL      string
	Attempt  int
	Delivery Delivery
}

// RawDocument is the persisted form of a crawled page. It is written
// idempotently: re-crawling a URL overwrites the same key.
type RawDocument struct {
	Key         string
	ContentType string
	Body        []byte
}

// Chunk is one bounded, overlapping segment of a document's extracted text.
// Ordinals are 1-based and contiguous within a run; a rerun replaces the
// whole chunk set for the source.
type Chunk struct {
	SourceKey string `json:"-"`
	Ordinal   int    `json:"-"`
	Text      string `json:"text"`
}

// ChunkMetadata is embedded in every chunk object body so downstream
// consumers can reassemble a source without listing the bucket.
type ChunkMetadata struct {
	SourceKey   string `json:"source_key"`
	ChunkNumber int    `json:"chunk_number"`
}

// ObjectCreated is a storage-created notification: a new or overwritten
// object in the raw bucket, identified by its decoded key.
type ObjectCreated struct {
	Bucket   string
	Key      string
	Delivery Delivery
}

// BatchOutcome summarizes one stage invocation. FailedIDs lists exactly the
// delivery IDs left retryable; the queue boundary redelivers only those.
type BatchOutcome struct {
	Processed int
	FailedIDs []string
}

// Failed reports whether any item in the batch was left retryable.
func (b BatchOutcome) Failed() bool {
	return len(b.FailedIDs) > 0
}

// CrawlRecord is the ledger row written for each crawl-stage item.
type CrawlRecord struct {
	URL        string
	StorageKey string
	Outcome    Outcome
	ErrorText  string
	AckAnomaly bool
	FetchedAt  time.Time
}

// TransformRecord is the ledger row written for each transform-stage source.
type TransformRecord struct {
	SourceKey   string
	Outcome     Outcome
	ChunkCount  int
	ErrorText   string
	ProcessedAt time.Time
}
