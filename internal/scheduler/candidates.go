package scheduler

import (
	"time"

	"github.com/jwalitptl/campaignsched/internal/calendar"
	"github.com/jwalitptl/campaignsched/internal/model"
	"github.com/jwalitptl/campaignsched/internal/ruleengine"
)

// candidate is a pre-classification proposal produced by §4.3 Steps 1 and 3,
// before exclusion-window intersection is applied.
type candidate struct {
	kind        model.IntentKind
	date        time.Time
	defaultDate *time.Time
	year        int
}

// isLeadKind reports whether k is subject to the pre-window exclusion
// prefix (Step 2's last paragraph applies only to pre-anchor lead emails).
func isLeadKind(k model.IntentKind) bool {
	return k == model.IntentBirthday || k == model.IntentEffectiveDate
}

// generateCandidates produces every Birthday, EffectiveDate, AEP, and
// PostWindow candidate for contact across the years touched by [start, end].
func generateCandidates(contact model.Contact, eng *ruleengine.Engine, rule model.StateRule, windows map[int]*exclusionWindow, start, end time.Time) []candidate {
	var out []candidate
	timing := eng.TimingConstants()

	for year := start.Year(); year <= end.Year(); year++ {
		if contact.BirthDate != nil {
			anniv := calendar.AnniversaryIn(year, *contact.BirthDate)
			target := calendar.AddDays(anniv, -timing.BirthdayLeadDays)
			d := anniv
			out = append(out, candidate{kind: model.IntentBirthday, date: target, defaultDate: &d, year: year})
		}
		if contact.EffectiveDate != nil {
			anniv := calendar.AnniversaryIn(year, *contact.EffectiveDate)
			target := calendar.AddDays(anniv, -timing.EffectiveLeadDays)
			d := anniv
			out = append(out, candidate{kind: model.IntentEffectiveDate, date: target, defaultDate: &d, year: year})
		}
		if rule.Type != model.StateRuleYearRound && eng.IsAEPYear(year) {
			slot := eng.AEPSlot(contact, year)
			out = append(out, candidate{kind: model.IntentAEP, date: calendar.New(year, time.Month(slot.Month), slot.Day), year: year})
		}
		if w := windows[year]; w != nil && w.hasPostWindow {
			out = append(out, candidate{kind: model.IntentPostWindow, date: w.postWindowDate, year: year})
		}
	}
	return out
}
