package model

import "time"

// IntentKind identifies which rule produced an Intent.
type IntentKind string

const (
	IntentBirthday      IntentKind = "birthday"
	IntentEffectiveDate IntentKind = "effective_date"
	IntentAEP           IntentKind = "aep"
	IntentPostWindow    IntentKind = "post_window"
)

// kindPriority orders intents on the same date per §4.3 Step 5.
var kindPriority = map[IntentKind]int{
	IntentBirthday:      0,
	IntentEffectiveDate: 1,
	IntentAEP:           2,
	IntentPostWindow:    3,
}

// KindPriority returns the tie-break ordinal for k.
func KindPriority(k IntentKind) int {
	return kindPriority[k]
}

// IntentStatus is Scheduled or Skipped.
type IntentStatus string

const (
	IntentScheduled IntentStatus = "scheduled"
	IntentSkipped   IntentStatus = "skipped"
)

// Intent is a candidate message produced by the Scheduling Engine. It is
// transient: owned by whoever requested it, never persisted directly (a
// Scheduled intent becomes a TrackingRow when it is inserted into a batch).
type Intent struct {
	ContactID   string
	Kind        IntentKind
	Date        time.Time
	DefaultDate *time.Time // present for Birthday and EffectiveDate only
	Status      IntentStatus
	Reason      string // mandatory when Status == Skipped
	Link        string // optional tracking link
}
