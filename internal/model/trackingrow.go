package model

import "time"

// SendStatus is the lifecycle state of a TrackingRow.
type SendStatus string

const (
	SendStatusPending    SendStatus = "pending"
	SendStatusProcessing SendStatus = "processing"
	SendStatusAccepted   SendStatus = "accepted"
	SendStatusDelivered  SendStatus = "delivered"
	SendStatusSent       SendStatus = "sent"
	SendStatusDeferred   SendStatus = "deferred"
	SendStatusBounced    SendStatus = "bounced"
	SendStatusDropped    SendStatus = "dropped"
	SendStatusFailed     SendStatus = "failed"
	SendStatusSkipped    SendStatus = "skipped"
)

// TerminalSuccess reports whether s counts toward the "sent" aggregate
// bucket of GetBatch (sent ∪ delivered, per §4.5).
func (s SendStatus) TerminalSuccess() bool {
	return s == SendStatusSent || s == SendStatusDelivered
}

// SendMode selects whether a row's recipient is overridden with a test
// address or uses the contact's own address.
type SendMode string

const (
	SendModeTest       SendMode = "test"
	SendModeProduction SendMode = "production"
)

// TrackingRow is the persisted state of a Scheduled Intent progressing
// through the Delivery Pipeline. Column tags mirror the
// email_send_tracking schema of spec §6.
type TrackingRow struct {
	ID                int64      `db:"id" json:"id"`
	OrganizationID    int        `db:"org_id" json:"org_id"`
	ContactID         string     `db:"contact_id" json:"contact_id"`
	EmailType         IntentKind `db:"email_type" json:"email_type"`
	ScheduledDate     time.Time  `db:"scheduled_date" json:"scheduled_date"`
	SendStatus        SendStatus `db:"send_status" json:"send_status"`
	SendMode          SendMode   `db:"send_mode" json:"send_mode"`
	TestEmail         *string    `db:"test_email" json:"test_email,omitempty"`
	SendAttemptCount  int        `db:"send_attempt_count" json:"send_attempt_count"`
	LastAttemptDate   *time.Time `db:"last_attempt_date" json:"last_attempt_date,omitempty"`
	LastError         *string    `db:"last_error" json:"last_error,omitempty"`
	BatchID           string     `db:"batch_id" json:"batch_id"`
	MessageID         *string    `db:"message_id" json:"message_id,omitempty"`
	DeliveryStatus    *string    `db:"delivery_status" json:"delivery_status,omitempty"`
	StatusCheckedAt   *time.Time `db:"status_checked_at" json:"status_checked_at,omitempty"`
	StatusDetails     *string    `db:"status_details" json:"status_details,omitempty"`
	LeaseID           *int64     `db:"lease_id" json:"lease_id,omitempty"`
	AuditFields
}

// MaxAttempts is the default cap used by MarkFailedAsRetryable.
const MaxAttempts = 5
