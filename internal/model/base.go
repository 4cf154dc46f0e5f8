package model

import "time"

// AuditFields carries the created/updated timestamps shared by persisted
// records.
type AuditFields struct {
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// DateRange is an inclusive [Start, End] window over civil dates.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether d falls within [r.Start, r.End] inclusive.
func (r DateRange) Contains(d time.Time) bool {
	return !d.Before(r.Start) && !d.After(r.End)
}
