// Package ruleengine resolves a contact's effective rule set from the
// global RuleConfig plus any per-contact overrides, following the
// dispatch-on-data-not-code shape of contact_rule_engine.py.
package ruleengine

import (
	"hash/fnv"
	"time"

	"github.com/jwalitptl/campaignsched/internal/model"
	"github.com/jwalitptl/campaignsched/pkg/logger"
)

// neutralStateRule is substituted for unknown jurisdiction codes: an empty
// YearRound-free, window-free variant that excludes nothing and suppresses
// nothing, so scheduling degrades gracefully instead of crashing. Its empty
// Type matches no window-building variant, so no exclusion window is built.
var neutralStateRule = model.StateRule{}

// Engine resolves effective per-contact rules against a loaded RuleConfig.
type Engine struct {
	cfg *model.RuleConfig
	log *logger.Logger
}

// New builds an Engine over the given (already validated) RuleConfig.
func New(cfg *model.RuleConfig, log *logger.Logger) *Engine {
	return &Engine{cfg: cfg, log: log}
}

// Config returns the underlying RuleConfig.
func (e *Engine) Config() *model.RuleConfig {
	return e.cfg
}

// StateRule returns the effective state rule for jurisdiction, falling
// through to a neutral variant (with a logged warning) when the
// jurisdiction is not recognized.
func (e *Engine) StateRule(jurisdiction string) model.StateRule {
	if rule, ok := e.cfg.StateRules[jurisdiction]; ok {
		return rule
	}
	if e.log != nil {
		e.log.Warn("unknown jurisdiction, falling back to neutral rule", "jurisdiction", jurisdiction)
	}
	return neutralStateRule
}

// ContactOverride returns the override record for a contact, or the zero
// value when none is configured.
func (e *Engine) ContactOverride(contactID string) model.ContactOverride {
	return e.cfg.ContactRules[contactID]
}

// ForceAEP reports whether the contact's AEP intent bypasses exclusion
// windows.
func (e *Engine) ForceAEP(contactID string) bool {
	return e.ContactOverride(contactID).ForceAEP
}

// IsAEPYear reports whether AEP intents are generated for year at all.
func (e *Engine) IsAEPYear(year int) bool {
	for _, y := range e.cfg.AEPConfig.Years {
		if y == year {
			return true
		}
	}
	return false
}

// AEPSlot resolves the (month, day) AEP slot for a contact in a given year,
// applying the precedence of §4.2: contact override > October-birthday
// global rule > deterministic hash distribution across the slot table.
func (e *Engine) AEPSlot(contact model.Contact, year int) model.MonthDay {
	override := e.ContactOverride(contact.ID)
	if override.AEPSlotOverride != nil {
		return *override.AEPSlotOverride
	}
	if contact.BirthDate != nil && contact.BirthDate.Month() == time.October {
		if r := e.cfg.GlobalRules.OctoberBirthdayAEP; r != nil {
			return *r
		}
	}
	return e.distributedSlot(contact.ID)
}

// distributedSlot maps a contact-id to a slot index via a stable,
// process-independent hash (FNV-1a), satisfying the spec's requirement
// that the distribution be deterministic across runs.
func (e *Engine) distributedSlot(contactID string) model.MonthDay {
	slots := e.cfg.AEPConfig.DefaultDates
	if len(slots) == 0 {
		return model.MonthDay{Month: 9, Day: 1}
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(contactID))
	idx := int(h.Sum32()) % len(slots)
	if idx < 0 {
		idx += len(slots)
	}
	return slots[idx]
}

// PostWindowOverride returns the overriding (month, day) from the contact's
// post_window_rules, if any condition matches the contact's birth month and
// jurisdiction. The first match wins.
func (e *Engine) PostWindowOverride(contact model.Contact, jurisdiction string) *model.MonthDay {
	if contact.BirthDate == nil {
		return nil
	}
	override := e.ContactOverride(contact.ID)
	birthMonth := int(contact.BirthDate.Month())
	for _, rule := range override.PostWindowRules {
		if rule.Condition.Matches(birthMonth, jurisdiction) {
			d := rule.OverrideDate
			return &d
		}
	}
	return nil
}

// LeapYearOverride returns the per-state leap-year post-window override, if
// configured either on the state rule directly or via GlobalRules'
// state-specific table (the state rule wins when both are present).
func (e *Engine) LeapYearOverride(jurisdiction string) *model.MonthDay {
	rule := e.StateRule(jurisdiction)
	if rule.LeapYearOverride != nil {
		return rule.LeapYearOverride
	}
	if special, ok := e.cfg.GlobalRules.StateSpecialRules[jurisdiction]; ok {
		return special.LeapYearOverride
	}
	return nil
}

// PostWindowPeriodDays returns the state's post-window period override, if
// any. See DESIGN.md for the precedence decision against window_after+1.
func (e *Engine) PostWindowPeriodDays(jurisdiction string) (int, bool) {
	rule := e.StateRule(jurisdiction)
	if rule.PostWindowPeriodDays > 0 {
		return rule.PostWindowPeriodDays, true
	}
	if special, ok := e.cfg.GlobalRules.StateSpecialRules[jurisdiction]; ok && special.PostWindowPeriodDays > 0 {
		return special.PostWindowPeriodDays, true
	}
	return 0, false
}

// TimingConstants returns the global timing constants.
func (e *Engine) TimingConstants() model.TimingConstants {
	return e.cfg.TimingConstants
}
