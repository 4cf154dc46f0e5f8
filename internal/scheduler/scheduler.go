// Package scheduler implements the Scheduling Engine: resolving a
// contact's Birthday, EffectiveDate, AEP, and PostWindow intents against
// the exclusion windows imposed by their jurisdiction, for a date range.
package scheduler

import (
	"fmt"
	"sort"
	"time"

	"github.com/jwalitptl/campaignsched/internal/calendar"
	"github.com/jwalitptl/campaignsched/internal/model"
	"github.com/jwalitptl/campaignsched/internal/ruleengine"
)

// Schedule resolves every Intent for contact across [start, end] and
// returns the Scheduled and Skipped sequences of §4.3. The result is
// deterministic for identical inputs and does not depend on the order in
// which a caller processes contacts.
func Schedule(contact model.Contact, eng *ruleengine.Engine, start, end time.Time) (scheduled, skipped []model.Intent) {
	start, end = calendar.Date(start), calendar.Date(end)

	if !contact.HasAnchor() {
		return nil, []model.Intent{{
			ContactID: contact.ID,
			Status:    model.IntentSkipped,
			Reason:    "missing anchor dates",
		}}
	}
	if invalidAnchor(contact) {
		return nil, []model.Intent{{
			ContactID: contact.ID,
			Kind:      model.IntentBirthday,
			Status:    model.IntentSkipped,
			Reason:    "invalid anchor",
		}}
	}

	jurisdiction := contact.ResolvedJurisdiction()
	rule := eng.StateRule(jurisdiction)
	forceAEP := eng.ForceAEP(contact.ID)

	windows := buildWindows(contact, eng, rule, jurisdiction, start, end)
	candidates := generateCandidates(contact, eng, rule, windows, start, end)

	for _, c := range candidates {
		intent := model.Intent{
			ContactID:   contact.ID,
			Kind:        c.kind,
			Date:        c.date,
			DefaultDate: c.defaultDate,
		}

		if c.date.Before(start) || c.date.After(end) {
			continue // dropped silently, per Step 4
		}

		if rule.Type == model.StateRuleYearRound {
			skipped = append(skipped, skip(intent, "year-round enrollment state"))
			continue
		}

		if isLeadKind(c.kind) {
			if w, ok := matchingPreWindow(windows, c.date); ok {
				skipped = append(skipped, skip(intent, fmt.Sprintf("within pre-window exclusion (anchor=%s)", w.anchor.Format("2006-01-02"))))
				continue
			}
		}

		if w, ok := matchingWindow(windows, c.date); ok {
			if c.kind == model.IntentAEP {
				if forceAEP {
					scheduled = append(scheduled, schedule(intent))
					continue
				}
				skipped = append(skipped, skip(intent, "AEP suppressed by exclusion window"))
				continue
			}
			skipped = append(skipped, skip(intent, fmt.Sprintf("inside exclusion window of kind %s (anchor=%s)", w.kind, w.anchor.Format("2006-01-02"))))
			continue
		}

		scheduled = append(scheduled, schedule(intent))
	}

	sortIntents(scheduled)
	sortIntents(skipped)
	return scheduled, skipped
}

func skip(intent model.Intent, reason string) model.Intent {
	intent.Status = model.IntentSkipped
	intent.Reason = reason
	return intent
}

func schedule(intent model.Intent) model.Intent {
	intent.Status = model.IntentScheduled
	return intent
}

// invalidAnchor reports a malformed anchor date: a non-nil pointer to the
// zero time.Time, which cannot arise from a correctly parsed date.
func invalidAnchor(contact model.Contact) bool {
	if contact.BirthDate != nil && contact.BirthDate.IsZero() {
		return true
	}
	if contact.EffectiveDate != nil && contact.EffectiveDate.IsZero() {
		return true
	}
	return false
}

// sortIntents orders by target date ascending, then kind priority, then
// contact-id, per §4.3 Step 5.
func sortIntents(intents []model.Intent) {
	sort.SliceStable(intents, func(i, j int) bool {
		a, b := intents[i], intents[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if model.KindPriority(a.Kind) != model.KindPriority(b.Kind) {
			return model.KindPriority(a.Kind) < model.KindPriority(b.Kind)
		}
		return a.ContactID < b.ContactID
	})
}
