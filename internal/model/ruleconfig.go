package model

// MonthDay is a (month, day) pair used for AEP slots and date overrides,
// independent of any particular year.
type MonthDay struct {
	Month int `yaml:"month" json:"month" validate:"required,min=1,max=12"`
	Day   int `yaml:"day" json:"day" validate:"required,min=1,max=31"`
}

// TimingConstants are the global lead-time and exclusion constants of §3.
type TimingConstants struct {
	BirthdayLeadDays      int `yaml:"birthday_lead_days" json:"birthday_lead_days"`
	EffectiveLeadDays     int `yaml:"effective_lead_days" json:"effective_lead_days"`
	PreWindowExclusionDays int `yaml:"pre_window_exclusion_days" json:"pre_window_exclusion_days"`
}

// DefaultTimingConstants returns the spec's documented defaults.
func DefaultTimingConstants() TimingConstants {
	return TimingConstants{
		BirthdayLeadDays:       14,
		EffectiveLeadDays:      30,
		PreWindowExclusionDays: 60,
	}
}

// AEPConfig describes the annual enrollment period slot table and the
// years it applies to.
type AEPConfig struct {
	DefaultDates []MonthDay `yaml:"default_dates" json:"default_dates"`
	Years        []int      `yaml:"years" json:"years"`
}

// DefaultAEPConfig returns the spec's documented four-slot default table.
func DefaultAEPConfig(years []int) AEPConfig {
	return AEPConfig{
		DefaultDates: []MonthDay{
			{Month: 8, Day: 18},
			{Month: 8, Day: 25},
			{Month: 9, Day: 1},
			{Month: 9, Day: 7},
		},
		Years: years,
	}
}

// StateRuleType is the tagged variant of a jurisdiction's enrollment rule.
type StateRuleType string

const (
	StateRuleBirthdayWindow      StateRuleType = "birthday"
	StateRuleEffectiveDateWindow StateRuleType = "effective_date"
	StateRuleYearRound           StateRuleType = "year_round"
)

// StateRule is the per-jurisdiction enrollment rule, one of the three
// variants above, carrying the window/flags only the window variants use.
type StateRule struct {
	Type         StateRuleType `yaml:"type" json:"type"`
	WindowBefore int           `yaml:"window_before" json:"window_before"`
	WindowAfter  int           `yaml:"window_after" json:"window_after"`
	// AgeLimit, when > 0, suppresses the window once the contact's age at
	// window start is at or above this value.
	AgeLimit int `yaml:"age_limit,omitempty" json:"age_limit,omitempty"`
	// UseMonthStart anchors the window to the first day of the anchor
	// month instead of the anchor day itself.
	UseMonthStart bool `yaml:"use_month_start,omitempty" json:"use_month_start,omitempty"`
	// PostWindowPeriodDays, when set, overrides window_after+1 as the
	// post-window offset for this state (see Open Questions in DESIGN.md).
	PostWindowPeriodDays int `yaml:"post_window_period_days,omitempty" json:"post_window_period_days,omitempty"`
	// LeapYearOverride repoints the post-window date for a Feb-29 anchor
	// in a leap year onto this fixed (month, day).
	LeapYearOverride *MonthDay `yaml:"leap_year_override,omitempty" json:"leap_year_override,omitempty"`
}

// PostWindowCondition is a conjunction over birth-month and jurisdiction
// set; the first matching condition in a contact's post_window_rules wins.
type PostWindowCondition struct {
	BirthMonth int      `yaml:"birth_month,omitempty" json:"birth_month,omitempty"`
	States     []string `yaml:"states,omitempty" json:"states,omitempty"`
}

// Matches reports whether the condition holds for the given birth month and
// jurisdiction. A zero BirthMonth or empty States list is treated as "don't
// care" for that clause.
func (c PostWindowCondition) Matches(birthMonth int, jurisdiction string) bool {
	if c.BirthMonth != 0 && c.BirthMonth != birthMonth {
		return false
	}
	if len(c.States) > 0 && !containsState(c.States, jurisdiction) {
		return false
	}
	return true
}

func containsState(states []string, s string) bool {
	for _, st := range states {
		if st == s {
			return true
		}
	}
	return false
}

// PostWindowRule pairs a condition with the override date to use when it
// matches.
type PostWindowRule struct {
	Condition    PostWindowCondition `yaml:"condition" json:"condition"`
	OverrideDate MonthDay            `yaml:"override_date" json:"override_date"`
}

// ContactOverride is the per-contact carve-out of §3.
type ContactOverride struct {
	ForceAEP         bool             `yaml:"force_aep,omitempty" json:"force_aep,omitempty"`
	AEPSlotOverride  *MonthDay        `yaml:"aep_date_override,omitempty" json:"aep_date_override,omitempty"`
	PostWindowRules  []PostWindowRule `yaml:"post_window_rules,omitempty" json:"post_window_rules,omitempty"`
}

// StateSpecialRule carries per-state special overrides referenced from
// GlobalRules.
type StateSpecialRule struct {
	PostWindowPeriodDays int       `yaml:"post_window_period_days,omitempty" json:"post_window_period_days,omitempty"`
	LeapYearOverride     *MonthDay `yaml:"leap_year_override,omitempty" json:"leap_year_override,omitempty"`
}

// GlobalRules are the cross-jurisdiction rules of §3.
type GlobalRules struct {
	OctoberBirthdayAEP  *MonthDay                   `yaml:"october_birthday_aep,omitempty" json:"october_birthday_aep,omitempty"`
	StateSpecialRules   map[string]StateSpecialRule `yaml:"state_specific_rules,omitempty" json:"state_specific_rules,omitempty"`
}

// RuleConfig is the global, read-only-after-load rule document of §3/§6.
type RuleConfig struct {
	TimingConstants TimingConstants            `yaml:"timing_constants" json:"timing_constants"`
	AEPConfig       AEPConfig                  `yaml:"aep_config" json:"aep_config"`
	StateRules      map[string]StateRule       `yaml:"state_rules" json:"state_rules"`
	ContactRules    map[string]ContactOverride `yaml:"contact_rules" json:"contact_rules"`
	GlobalRules     GlobalRules                `yaml:"global_rules" json:"global_rules"`
}
