package pipeline

import (
	"time"

	"github.com/jwalitptl/campaignsched/internal/calendar"
	"github.com/jwalitptl/campaignsched/internal/model"
)

// Scope narrows Scheduled intents to a sendable subset before insertBatch,
// per §4.6's "Scope selection".
type Scope string

const (
	ScopeToday      Scope = "today"
	ScopeNext7Days  Scope = "next_7_days"
	ScopeNext30Days Scope = "next_30_days"
	ScopeNext90Days Scope = "next_90_days"
	ScopeBulk       Scope = "bulk"
)

// FilterByScope applies scope to intents, evaluated as-of now. ScopeBulk
// additionally requires bulkKind: one message of that kind per contact,
// regardless of its scheduled date, keeping only the earliest such
// intent per contact.
func FilterByScope(intents []model.Intent, scope Scope, now time.Time, bulkKind model.IntentKind) []model.Intent {
	if scope == ScopeBulk {
		return filterBulk(intents, bulkKind)
	}

	var upperBound time.Time
	today := calendar.Date(now)
	switch scope {
	case ScopeToday:
		upperBound = today
	case ScopeNext7Days:
		upperBound = calendar.AddDays(today, 7)
	case ScopeNext30Days:
		upperBound = calendar.AddDays(today, 30)
	case ScopeNext90Days:
		upperBound = calendar.AddDays(today, 90)
	default:
		return intents
	}

	out := make([]model.Intent, 0, len(intents))
	for _, in := range intents {
		d := calendar.Date(in.Date)
		if !d.Before(today) && !d.After(upperBound) {
			out = append(out, in)
		}
	}
	return out
}

func filterBulk(intents []model.Intent, kind model.IntentKind) []model.Intent {
	earliest := make(map[string]model.Intent)
	for _, in := range intents {
		if in.Kind != kind {
			continue
		}
		existing, ok := earliest[in.ContactID]
		if !ok || in.Date.Before(existing.Date) {
			earliest[in.ContactID] = in
		}
	}
	out := make([]model.Intent, 0, len(earliest))
	for _, in := range earliest {
		out = append(out, in)
	}
	return out
}
