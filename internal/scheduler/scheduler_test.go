package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/campaignsched/internal/model"
	"github.com/jwalitptl/campaignsched/internal/ruleengine"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func datePtr(y int, m time.Month, d int) *time.Time {
	t := date(y, m, d)
	return &t
}

func baseConfig() *model.RuleConfig {
	return &model.RuleConfig{
		TimingConstants: model.DefaultTimingConstants(),
		AEPConfig:       model.AEPConfig{DefaultDates: nil, Years: nil},
		StateRules:      map[string]model.StateRule{},
		ContactRules:    map[string]model.ContactOverride{},
		GlobalRules:     model.GlobalRules{},
	}
}

// Scenario 1: CA December birthday, year-spanning exclusion (§8.1).
func TestScenarioCADecemberBirthdayYearSpanning(t *testing.T) {
	cfg := baseConfig()
	cfg.StateRules["CA"] = model.StateRule{Type: model.StateRuleBirthdayWindow, WindowBefore: 0, WindowAfter: 30}
	cfg.GlobalRules.StateSpecialRules = map[string]model.StateSpecialRule{
		"CA": {PostWindowPeriodDays: 30},
	}
	eng := ruleengine.New(cfg, nil)

	contact := model.Contact{
		ID:            "101",
		Jurisdiction:  "CA",
		BirthDate:     datePtr(1960, time.December, 15),
		EffectiveDate: datePtr(2000, time.December, 20),
	}

	scheduled, skipped := Schedule(contact, eng, date(2023, time.October, 15), date(2024, time.December, 31))

	foundBirthdaySkip := false
	for _, i := range skipped {
		if i.Kind == model.IntentBirthday && i.Date.Equal(date(2024, time.December, 1)) {
			foundBirthdaySkip = true
			assert.Contains(t, i.Reason, "pre-window exclusion")
		}
	}
	assert.True(t, foundBirthdaySkip, "expected the 2024 birthday lead candidate to be skipped")

	for _, i := range scheduled {
		assert.False(t, i.Date.Equal(date(2025, time.January, 15)), "post-window intent outside [start,end] must be dropped silently, not scheduled")
	}
	for _, i := range skipped {
		assert.False(t, i.Date.Equal(date(2025, time.January, 15)), "post-window intent outside [start,end] must be dropped silently, not recorded as skipped")
	}
}

// Scenario 2: IL age cutoff (§8.2).
func TestScenarioILAgeCutoff(t *testing.T) {
	cfg := baseConfig()
	cfg.StateRules["IL"] = model.StateRule{Type: model.StateRuleBirthdayWindow, WindowBefore: 60, WindowAfter: 45, AgeLimit: 76}
	eng := ruleengine.New(cfg, nil)

	suppressed := model.Contact{ID: "201", Jurisdiction: "IL", BirthDate: datePtr(1947, time.June, 15)}
	active := model.Contact{ID: "202", Jurisdiction: "IL", BirthDate: datePtr(1948, time.June, 15)}

	start, end := date(2024, time.January, 1), date(2024, time.December, 31)

	scheduledSuppressed, _ := Schedule(suppressed, eng, start, end)
	require.True(t, containsScheduled(scheduledSuppressed, model.IntentBirthday, date(2024, time.June, 1)), "age_limit reached: window suppressed, birthday lead scheduled")

	scheduledActive, _ := Schedule(active, eng, start, end)
	require.True(t, containsScheduled(scheduledActive, model.IntentPostWindow, date(2024, time.July, 31)), "age_limit not reached: window active, post-window scheduled at end+1")
}

// Scenario 3: NV month-start anchoring (§8.3).
func TestScenarioNVMonthStart(t *testing.T) {
	cfg := baseConfig()
	cfg.StateRules["NV"] = model.StateRule{Type: model.StateRuleBirthdayWindow, WindowBefore: 0, WindowAfter: 59, UseMonthStart: true}
	eng := ruleengine.New(cfg, nil)

	contact := model.Contact{ID: "301", Jurisdiction: "NV", BirthDate: datePtr(1960, time.March, 15)}
	scheduled, _ := Schedule(contact, eng, date(2024, time.January, 1), date(2024, time.December, 31))

	assert.True(t, containsScheduled(scheduled, model.IntentPostWindow, date(2024, time.April, 30)))
}

// Scenario 4: year-round enrollment state (§8.4).
func TestScenarioYearRoundState(t *testing.T) {
	cfg := baseConfig()
	cfg.StateRules["CT"] = model.StateRule{Type: model.StateRuleYearRound}
	eng := ruleengine.New(cfg, nil)

	contact := model.Contact{ID: "401", Jurisdiction: "CT", BirthDate: datePtr(1970, time.May, 1)}
	scheduled, skipped := Schedule(contact, eng, date(2024, time.January, 1), date(2024, time.December, 31))

	assert.Empty(t, scheduled)
	require.NotEmpty(t, skipped)
	for _, i := range skipped {
		assert.Equal(t, "year-round enrollment state", i.Reason)
	}
}

// Scenario 5: AEP suppression vs. force_aep (§8.5).
func TestScenarioAEPSuppressionVsForce(t *testing.T) {
	cfg := baseConfig()
	cfg.StateRules["CA"] = model.StateRule{Type: model.StateRuleBirthdayWindow, WindowBefore: 30, WindowAfter: 30}
	cfg.AEPConfig = model.DefaultAEPConfig([]int{2024})
	eng := ruleengine.New(cfg, nil)

	contact := model.Contact{ID: "501", Jurisdiction: "CA", BirthDate: datePtr(1960, time.August, 30)}
	_, skipped := Schedule(contact, eng, date(2024, time.January, 1), date(2024, time.December, 31))
	assert.True(t, containsSkipReason(skipped, model.IntentAEP, "AEP suppressed by exclusion window"))

	cfg.ContactRules["501"] = model.ContactOverride{ForceAEP: true}
	eng = ruleengine.New(cfg, nil)
	scheduled, _ := Schedule(contact, eng, date(2024, time.January, 1), date(2024, time.December, 31))
	found := false
	for _, i := range scheduled {
		if i.Kind == model.IntentAEP {
			found = true
		}
	}
	assert.True(t, found, "force_aep must bypass the exclusion window")
}

// Scenario 6: leap-year anchor and leap_year_override (§8.6).
func TestScenarioLeapYearAnchor(t *testing.T) {
	cfg := baseConfig()
	override := model.MonthDay{Month: 3, Day: 30}
	cfg.StateRules["CA"] = model.StateRule{
		Type: model.StateRuleBirthdayWindow, WindowBefore: 30, WindowAfter: 29,
		LeapYearOverride: &override,
	}
	eng := ruleengine.New(cfg, nil)

	contact := model.Contact{ID: "701", Jurisdiction: "CA", BirthDate: datePtr(1960, time.February, 29)}
	scheduled, skipped := Schedule(contact, eng, date(2024, time.January, 1), date(2025, time.December, 31))

	// window_before (30) exceeds the birthday lead (14), so both years' lead
	// candidates fall inside their own window and are excluded, not scheduled.
	assert.True(t, containsSkippedDate(skipped, model.IntentBirthday, date(2024, time.February, 15)))
	assert.True(t, containsScheduled(scheduled, model.IntentPostWindow, date(2024, time.March, 30)))

	// 2025 is not a leap year: the anniversary falls back to Feb 28.
	assert.True(t, containsSkippedDate(skipped, model.IntentBirthday, date(2025, time.February, 14)))
}

// Determinism invariant (§8): repeated calls return equal sequences.
func TestScheduleIsDeterministic(t *testing.T) {
	cfg := baseConfig()
	cfg.StateRules["CA"] = model.StateRule{Type: model.StateRuleBirthdayWindow, WindowBefore: 30, WindowAfter: 30}
	eng := ruleengine.New(cfg, nil)
	contact := model.Contact{ID: "901", Jurisdiction: "CA", BirthDate: datePtr(1975, time.May, 10)}

	s1, k1 := Schedule(contact, eng, date(2024, time.January, 1), date(2024, time.December, 31))
	s2, k2 := Schedule(contact, eng, date(2024, time.January, 1), date(2024, time.December, 31))

	assert.Equal(t, s1, s2)
	assert.Equal(t, k1, k2)
}

// Uniqueness invariant (§8): no two scheduled rows share (kind, date).
func TestScheduleUniqueness(t *testing.T) {
	cfg := baseConfig()
	cfg.StateRules["CA"] = model.StateRule{Type: model.StateRuleBirthdayWindow, WindowBefore: 10, WindowAfter: 10}
	eng := ruleengine.New(cfg, nil)
	contact := model.Contact{
		ID:            "902",
		Jurisdiction:  "CA",
		BirthDate:     datePtr(1980, time.May, 10),
		EffectiveDate: datePtr(2010, time.June, 1),
	}

	scheduled, _ := Schedule(contact, eng, date(2023, time.January, 1), date(2026, time.December, 31))

	seen := make(map[string]bool)
	for _, i := range scheduled {
		key := string(i.Kind) + "|" + i.Date.Format("2006-01-02")
		require.False(t, seen[key], "duplicate scheduled intent %s", key)
		seen[key] = true
	}
}

// Invalid anchor handling produces a single skip, never a panic.
func TestScheduleInvalidAnchor(t *testing.T) {
	cfg := baseConfig()
	eng := ruleengine.New(cfg, nil)
	zero := time.Time{}
	contact := model.Contact{ID: "903", BirthDate: &zero}

	scheduled, skipped := Schedule(contact, eng, date(2024, time.January, 1), date(2024, time.December, 31))
	assert.Empty(t, scheduled)
	require.Len(t, skipped, 1)
	assert.Equal(t, "invalid anchor", skipped[0].Reason)
}

// A contact with neither anchor produces a single skip, not silence.
func TestScheduleNoAnchor(t *testing.T) {
	cfg := baseConfig()
	eng := ruleengine.New(cfg, nil)
	contact := model.Contact{ID: "904"}

	scheduled, skipped := Schedule(contact, eng, date(2024, time.January, 1), date(2024, time.December, 31))
	assert.Empty(t, scheduled)
	require.Len(t, skipped, 1)
	assert.Equal(t, "missing anchor dates", skipped[0].Reason)
}

func containsScheduled(intents []model.Intent, kind model.IntentKind, d time.Time) bool {
	for _, i := range intents {
		if i.Kind == kind && i.Date.Equal(d) && i.Status == model.IntentScheduled {
			return true
		}
	}
	return false
}

func containsSkippedDate(intents []model.Intent, kind model.IntentKind, d time.Time) bool {
	for _, i := range intents {
		if i.Kind == kind && i.Date.Equal(d) && i.Status == model.IntentSkipped {
			return true
		}
	}
	return false
}

func containsSkipReason(intents []model.Intent, kind model.IntentKind, reason string) bool {
	for _, i := range intents {
		if i.Kind == kind && i.Reason == reason {
			return true
		}
	}
	return false
}
