package scheduler

import (
	"time"

	"github.com/jwalitptl/campaignsched/internal/calendar"
	"github.com/jwalitptl/campaignsched/internal/model"
	"github.com/jwalitptl/campaignsched/internal/ruleengine"
)

// exclusionWindow is one year's instance of a jurisdiction's enrollment
// exclusion window, built from the contact's relevant anchor date, per
// §4.3 Step 2.
type exclusionWindow struct {
	kind           model.StateRuleType
	year           int
	anchor         time.Time
	start          time.Time
	end            time.Time
	preWindowStart time.Time
	suppressed     bool // age_limit held at window start
	hasPostWindow  bool
	postWindowDate time.Time
}

// contains reports whether d falls inside the window, inclusive.
func (w *exclusionWindow) contains(d time.Time) bool {
	return !d.Before(w.start) && !d.After(w.end)
}

// inPreWindowPrefix reports whether d falls in [preWindowStart, start), the
// extra lead-email exclusion prefix of §4.3 Step 2.
func (w *exclusionWindow) inPreWindowPrefix(d time.Time) bool {
	return !d.Before(w.preWindowStart) && d.Before(w.start)
}

// buildExclusionWindow constructs the year-y exclusion window for contact
// under rule, or nil when the contact lacks the anchor the rule variant
// needs (year_round has no per-anchor window and is handled separately by
// the caller).
func buildExclusionWindow(contact model.Contact, eng *ruleengine.Engine, rule model.StateRule, jurisdiction string, year int) *exclusionWindow {
	switch rule.Type {
	case model.StateRuleBirthdayWindow:
		if contact.BirthDate == nil {
			return nil
		}
		anchor := calendar.AnniversaryIn(year, *contact.BirthDate)
		if rule.UseMonthStart {
			anchor = calendar.MonthStart(year, *contact.BirthDate)
		}
		w := buildWindowBounds(rule, eng, contact, jurisdiction, year, anchor)
		if rule.AgeLimit > 0 && calendar.AgeOn(*contact.BirthDate, w.start) >= rule.AgeLimit {
			w.suppressed = true
			w.hasPostWindow = false
		}
		return w

	case model.StateRuleEffectiveDateWindow:
		if contact.EffectiveDate == nil {
			return nil
		}
		anchor := calendar.AnniversaryIn(year, *contact.EffectiveDate)
		if rule.UseMonthStart {
			anchor = calendar.MonthStart(year, *contact.EffectiveDate)
		}
		return buildWindowBounds(rule, eng, contact, jurisdiction, year, anchor)

	default:
		return nil
	}
}

func buildWindowBounds(rule model.StateRule, eng *ruleengine.Engine, contact model.Contact, jurisdiction string, year int, anchor time.Time) *exclusionWindow {
	timing := eng.TimingConstants()
	start := calendar.AddDays(anchor, -rule.WindowBefore)
	end := calendar.AddDays(anchor, rule.WindowAfter)

	w := &exclusionWindow{
		kind:           rule.Type,
		year:           year,
		anchor:         anchor,
		start:          start,
		end:            end,
		preWindowStart: calendar.AddDays(start, -timing.PreWindowExclusionDays),
		hasPostWindow:  true,
	}
	w.postWindowDate = resolvePostWindowDate(contact, eng, rule, jurisdiction, year, anchor, end)
	return w
}

// resolvePostWindowDate applies §4.3 Step 3's precedence: a contact-level
// post_window_rules override wins first (the most specific, operator-made
// carve-out); then a leap-year pivot when the anchor is Feb 29 in a leap
// year; then a state's post_window_period_days (substituting for
// window_after in the "+1" formula); else the default anchor+window_after+1.
func resolvePostWindowDate(contact model.Contact, eng *ruleengine.Engine, rule model.StateRule, jurisdiction string, year int, anchor, end time.Time) time.Time {
	if override := eng.PostWindowOverride(contact, jurisdiction); override != nil {
		return calendar.New(year, time.Month(override.Month), override.Day)
	}

	if anchor.Month() == time.February && anchor.Day() == 29 && calendar.IsLeapYear(year) {
		if override := eng.LeapYearOverride(jurisdiction); override != nil {
			return calendar.New(year, time.Month(override.Month), override.Day)
		}
	}

	if days, ok := eng.PostWindowPeriodDays(jurisdiction); ok {
		return calendar.AddDays(anchor, days+1)
	}

	return calendar.AddDays(end, 1)
}

// buildWindows constructs every exclusion window touching [start, end],
// including a one-year buffer on each side so windows that span a calendar
// year boundary are still found by matchingWindow/matchingPreWindow.
func buildWindows(contact model.Contact, eng *ruleengine.Engine, rule model.StateRule, jurisdiction string, start, end time.Time) map[int]*exclusionWindow {
	windows := make(map[int]*exclusionWindow)
	for year := start.Year() - 1; year <= end.Year()+1; year++ {
		if w := buildExclusionWindow(contact, eng, rule, jurisdiction, year); w != nil {
			windows[year] = w
		}
	}
	return windows
}

func matchingWindow(windows map[int]*exclusionWindow, d time.Time) (*exclusionWindow, bool) {
	for _, w := range windows {
		if w.suppressed {
			continue
		}
		if w.contains(d) {
			return w, true
		}
	}
	return nil, false
}

func matchingPreWindow(windows map[int]*exclusionWindow, d time.Time) (*exclusionWindow, bool) {
	for _, w := range windows {
		if w.suppressed {
			continue
		}
		if w.inPreWindowPrefix(d) {
			return w, true
		}
	}
	return nil, false
}
