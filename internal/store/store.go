// Package store defines the Tracking Store contract of §4.5: the
// persistence boundary the Delivery Pipeline drives TrackingRows through.
// Concrete adapters live in store/postgres and store/sqlite.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/jwalitptl/campaignsched/internal/model"
)

// ErrDuplicateRow is returned by InsertBatch when a row would violate the
// (contact_id, email_type, scheduled_date) uniqueness invariant of §8.
var ErrDuplicateRow = errors.New("store: duplicate (contact_id, email_type, scheduled_date) in batch")

// ErrNotFound is returned when a batch or row id does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrInvalidTransition is returned by Finalize when the requested
// transition would violate the state machine of §4.5/§4.6.
var ErrInvalidTransition = errors.New("store: invalid status transition")

// FinalizeOutcome carries the terminal (or retry-eligible) state a claimed
// row moves to when a processing attempt concludes.
type FinalizeOutcome struct {
	Status         model.SendStatus
	MessageID      *string
	Error          *string
	DeliveryStatus *string
	StatusDetails  *string
}

// Store is the Tracking Store interface of §4.5. Every operation acts on
// a single organization's data; the caller is responsible for routing to
// the correct adapter/connection for that organization.
type Store interface {
	// EnsureSchema idempotently creates the tracking table and its
	// indexes. Called once at pipeline start, per Design Note "SQL
	// migrations attached to org databases".
	EnsureSchema(ctx context.Context) error

	// Ping verifies the underlying connection is reachable, for the
	// operator-facing readiness check.
	Ping(ctx context.Context) error

	// InsertBatch persists rows atomically, assigning CreatedAt/UpdatedAt;
	// each row's BatchID is stored as given. Fails the whole call
	// (ErrDuplicateRow) if any row collides with an existing (contact_id,
	// email_type, scheduled_date) tuple.
	InsertBatch(ctx context.Context, rows []model.TrackingRow) error

	// ListBatches returns the batches matching filter, most recent first.
	ListBatches(ctx context.Context, filter model.BatchFilter) ([]model.BatchSummary, error)

	// GetBatch returns the aggregate view of a single batch.
	GetBatch(ctx context.Context, batchID string) (model.BatchSummary, error)

	// ClaimChunk atomically selects up to n pending rows for batchID and
	// transitions them to processing, returning the claimed rows and a
	// lease identifier that increases monotonically across every claim
	// made against this store, per §4.5. Every row claimed by the same
	// call shares that lease id. Safe for concurrent callers claiming
	// disjoint chunks of the same batch.
	ClaimChunk(ctx context.Context, batchID string, n int) (rows []model.TrackingRow, leaseID int64, err error)

	// Finalize transitions a processing row to its terminal (or
	// retry-eligible failed) outcome, recording attempt metadata.
	Finalize(ctx context.Context, rowID int64, outcome FinalizeOutcome) error

	// MarkFailedAsRetryable atomically moves up to n failed rows for
	// batchID back to pending, only rows with attempt_count <
	// model.MaxAttempts. The attempt count is not changed here; Finalize
	// increments it. Returns the number moved.
	MarkFailedAsRetryable(ctx context.Context, batchID string, n int) (int, error)

	// ListStaleDeliveries returns rows in {sent, deferred} whose
	// status_checked_at is older than staleBefore (or never set), for
	// updateDeliveryStatus polling.
	ListStaleDeliveries(ctx context.Context, batchID string, staleBefore time.Time) ([]model.TrackingRow, error)

	// UpdateDeliveryStatus records a polled terminal delivery outcome
	// against an already-sent row, without touching send_status.
	UpdateDeliveryStatus(ctx context.Context, rowID int64, status string, details *string, checkedAt time.Time) error

	// FindByMessageID looks up the row owning an external message id, for
	// the push-status webhook receiver (mailgateway.WebhookHandler), which
	// only ever learns a message id, never a row id.
	FindByMessageID(ctx context.Context, messageID string) (model.TrackingRow, error)

	// Close releases the underlying connection/client.
	Close() error
}
