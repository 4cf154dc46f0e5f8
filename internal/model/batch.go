package model

// BatchStatus is the derived lifecycle phase of a Batch, computed from its
// rows rather than stored directly.
type BatchStatus string

const (
	BatchCreated    BatchStatus = "created"
	BatchProcessing BatchStatus = "processing"
	BatchComplete   BatchStatus = "complete"
)

// BatchCounts is the aggregate view over a batch's rows returned by
// GetBatch. It is always derived by query, never cached, per §5.
type BatchCounts struct {
	Total    int `json:"total"`
	Pending  int `json:"pending"`
	Sent     int `json:"sent"` // sent ∪ delivered
	Failed   int `json:"failed"`
	Deferred int `json:"deferred"`
	Bounced  int `json:"bounced"`
	Dropped  int `json:"dropped"`
	Skipped  int `json:"skipped"`
}

// Status derives the batch's lifecycle phase from its counts: Complete once
// no row remains pending, Created for an empty batch, Processing otherwise.
func (c BatchCounts) Status() BatchStatus {
	switch {
	case c.Total == 0:
		return BatchCreated
	case c.Pending == 0:
		return BatchComplete
	default:
		return BatchProcessing
	}
}

// BatchSummary is the external view of GetBatch: aggregate counts plus the
// send mode the batch was created with.
type BatchSummary struct {
	BatchID  string      `json:"batch_id"`
	SendMode SendMode    `json:"send_mode"`
	Counts   BatchCounts `json:"counts"`
	Status   BatchStatus `json:"status"`
}

// BatchFilter narrows ListBatches per §4.5.
type BatchFilter struct {
	Status    SendStatus
	SendMode  SendMode
	StartDate *string
	EndDate   *string
}
