package ruleengine

import (
	"testing"
	"time"

	"github.com/jwalitptl/campaignsched/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func birthDate(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func testConfig() *model.RuleConfig {
	return &model.RuleConfig{
		TimingConstants: model.DefaultTimingConstants(),
		AEPConfig:       model.DefaultAEPConfig([]int{2026}),
		StateRules: map[string]model.StateRule{
			"CA": {Type: model.StateRuleBirthdayWindow, WindowBefore: 30, WindowAfter: 60},
			"NY": {Type: model.StateRuleYearRound},
		},
		ContactRules: map[string]model.ContactOverride{
			"force-aep": {ForceAEP: true},
			"slot-override": {
				AEPSlotOverride: &model.MonthDay{Month: 10, Day: 15},
			},
		},
		GlobalRules: model.GlobalRules{
			OctoberBirthdayAEP: &model.MonthDay{Month: 10, Day: 1},
		},
	}
}

func TestStateRuleFallsBackToNeutralForUnknownJurisdiction(t *testing.T) {
	e := New(testConfig(), nil)
	rule := e.StateRule("ZZ")
	assert.Equal(t, neutralStateRule, rule)
}

func TestStateRuleKnownJurisdiction(t *testing.T) {
	e := New(testConfig(), nil)
	rule := e.StateRule("CA")
	assert.Equal(t, model.StateRuleBirthdayWindow, rule.Type)
	assert.Equal(t, 30, rule.WindowBefore)
}

func TestForceAEP(t *testing.T) {
	e := New(testConfig(), nil)
	assert.True(t, e.ForceAEP("force-aep"))
	assert.False(t, e.ForceAEP("nobody"))
}

func TestAEPSlotContactOverrideWins(t *testing.T) {
	e := New(testConfig(), nil)
	contact := model.Contact{ID: "slot-override", BirthDate: birthDate(1980, time.October, 5)}
	slot := e.AEPSlot(contact, 2026)
	require.Equal(t, model.MonthDay{Month: 10, Day: 15}, slot)
}

func TestAEPSlotOctoberBirthdayWins(t *testing.T) {
	e := New(testConfig(), nil)
	contact := model.Contact{ID: "plain-contact", BirthDate: birthDate(1980, time.October, 5)}
	slot := e.AEPSlot(contact, 2026)
	require.Equal(t, model.MonthDay{Month: 10, Day: 1}, slot)
}

func TestAEPSlotDistributedDeterministic(t *testing.T) {
	e := New(testConfig(), nil)
	contact := model.Contact{ID: "contact-123", BirthDate: birthDate(1980, time.March, 5)}
	first := e.AEPSlot(contact, 2026)
	second := e.AEPSlot(contact, 2026)
	assert.Equal(t, first, second)

	found := false
	for _, slot := range e.cfg.AEPConfig.DefaultDates {
		if slot == first {
			found = true
		}
	}
	assert.True(t, found, "distributed slot must come from the configured slot table")
}

func TestPostWindowOverrideFirstMatchWins(t *testing.T) {
	cfg := testConfig()
	cfg.ContactRules["contact-pw"] = model.ContactOverride{
		PostWindowRules: []model.PostWindowRule{
			{
				Condition:    model.PostWindowCondition{BirthMonth: int(time.March), States: []string{"CA"}},
				OverrideDate: model.MonthDay{Month: 4, Day: 1},
			},
			{
				Condition:    model.PostWindowCondition{BirthMonth: int(time.March)},
				OverrideDate: model.MonthDay{Month: 5, Day: 1},
			},
		},
	}
	e := New(cfg, nil)
	contact := model.Contact{ID: "contact-pw", BirthDate: birthDate(1980, time.March, 10)}
	got := e.PostWindowOverride(contact, "CA")
	require.NotNil(t, got)
	assert.Equal(t, model.MonthDay{Month: 4, Day: 1}, *got)
}

func TestPostWindowOverrideNoMatch(t *testing.T) {
	e := New(testConfig(), nil)
	contact := model.Contact{ID: "no-override", BirthDate: birthDate(1980, time.March, 10)}
	got := e.PostWindowOverride(contact, "CA")
	assert.Nil(t, got)
}

func TestPostWindowPeriodDaysFallback(t *testing.T) {
	cfg := testConfig()
	cfg.GlobalRules.StateSpecialRules = map[string]model.StateSpecialRule{
		"NY": {PostWindowPeriodDays: 45},
	}
	e := New(cfg, nil)
	days, ok := e.PostWindowPeriodDays("NY")
	require.True(t, ok)
	assert.Equal(t, 45, days)

	_, ok = e.PostWindowPeriodDays("CA")
	assert.False(t, ok)
}

func TestIsAEPYear(t *testing.T) {
	e := New(testConfig(), nil)
	assert.True(t, e.IsAEPYear(2026))
	assert.False(t, e.IsAEPYear(2027))
}
