package template

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/osteele/liquid"

	"github.com/jwalitptl/campaignsched/internal/model"
	appErrors "github.com/jwalitptl/campaignsched/pkg/errors"
)

// set is the three source templates one message kind renders from.
type set struct {
	subject string
	html    string
	text    string
}

// defaultSets are the built-in templates used when no override directory
// is configured or a kind is missing from it, grounded on the teacher
// pack's osteele/liquid usage (DrisanJames-project-jarvis's TemplateService).
var defaultSets = map[model.IntentKind]set{
	model.IntentBirthday: {
		subject: `Happy Birthday, {{ first_name | default: "there" }}!`,
		html:    `<p>Happy birthday, {{ first_name }}! From all of us at {{ org_name }}.</p>`,
		text:    `Happy birthday, {{ first_name }}! From all of us at {{ org_name }}.`,
	},
	model.IntentEffectiveDate: {
		subject: `Your plan anniversary with {{ org_name }}`,
		html:    `<p>{{ first_name | default: "Hello" }}, your plan's effective-date anniversary is here. <a href="{{ action_url }}">Review your plan</a>.</p>`,
		text:    `{{ first_name | default: "Hello" }}, your plan's effective-date anniversary is here. Review your plan: {{ action_url }}`,
	},
	model.IntentAEP: {
		subject: `Annual Enrollment is open — {{ org_name }}`,
		html:    `<p>{{ first_name | default: "Hello" }}, Annual Enrollment is open. <a href="{{ action_url }}">See your options</a>.</p>`,
		text:    `{{ first_name | default: "Hello" }}, Annual Enrollment is open. See your options: {{ action_url }}`,
	},
	model.IntentPostWindow: {
		subject: `Following up from {{ org_name }}`,
		html:    `<p>{{ first_name | default: "Hello" }}, checking in after your enrollment window. <a href="{{ action_url }}">Contact us</a>.</p>`,
		text:    `{{ first_name | default: "Hello" }}, checking in after your enrollment window. Contact us: {{ action_url }}`,
	},
}

// LiquidRenderer renders via osteele/liquid, parsing each kind's three
// templates once and caching the compiled form, matching the teacher
// pack's template_engine.go caching strategy.
type LiquidRenderer struct {
	engine *liquid.Engine
	mu     sync.RWMutex
	cache  map[cacheKey]*liquid.Template
	sets   map[model.IntentKind]set
}

type cacheKey struct {
	kind  model.IntentKind
	field string // "subject" | "html" | "text"
}

// NewLiquidRenderer builds a renderer. If overrideDir is non-empty, files
// named "<kind>.subject.liquid", "<kind>.html.liquid", "<kind>.text.liquid"
// are read from it and replace the corresponding built-in default; a
// missing file for a given kind/field falls back to the built-in.
func NewLiquidRenderer(overrideDir string) (*LiquidRenderer, error) {
	engine := liquid.NewEngine()
	registerFilters(engine)

	sets := make(map[model.IntentKind]set, len(defaultSets))
	for k, v := range defaultSets {
		sets[k] = v
	}

	if overrideDir != "" {
		for kind, s := range sets {
			s := s
			if v, ok, err := readOverride(overrideDir, kind, "subject"); err != nil {
				return nil, err
			} else if ok {
				s.subject = v
			}
			if v, ok, err := readOverride(overrideDir, kind, "html"); err != nil {
				return nil, err
			} else if ok {
				s.html = v
			}
			if v, ok, err := readOverride(overrideDir, kind, "text"); err != nil {
				return nil, err
			} else if ok {
				s.text = v
			}
			sets[kind] = s
		}
	}

	return &LiquidRenderer{
		engine: engine,
		cache:  make(map[cacheKey]*liquid.Template),
		sets:   sets,
	}, nil
}

func readOverride(dir string, kind model.IntentKind, field string) (string, bool, error) {
	path := filepath.Join(dir, fmt.Sprintf("%s.%s.liquid", kind, field))
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, appErrors.NewDomainError(appErrors.KindConfiguration,
			fmt.Sprintf("read template override %s", path), err)
	}
	return string(b), true, nil
}

func registerFilters(engine *liquid.Engine) {
	engine.RegisterFilter("default", func(value interface{}, defaultVal string) interface{} {
		if value == nil {
			return defaultVal
		}
		s := fmt.Sprintf("%v", value)
		if s == "" || s == "<nil>" {
			return defaultVal
		}
		return value
	})
}

func (r *LiquidRenderer) Render(kind model.IntentKind, contact model.Contact, org model.Organization, links Links) (Rendered, error) {
	s, ok := r.sets[kind]
	if !ok {
		return Rendered{}, appErrors.NewDomainError(appErrors.KindTemplate,
			fmt.Sprintf("no template set for kind %q", kind), nil)
	}

	bindings := map[string]interface{}{
		"first_name":      contact.FirstName,
		"last_name":       contact.LastName,
		"email":           contact.Email,
		"org_name":        org.Name,
		"org_phone":       org.Phone,
		"org_website":     org.Website,
		"action_url":      links.ActionURL,
		"unsubscribe_url": links.UnsubscribeURL,
	}

	subject, err := r.render(kind, "subject", s.subject, bindings)
	if err != nil {
		return Rendered{}, err
	}
	html, err := r.render(kind, "html", s.html, bindings)
	if err != nil {
		return Rendered{}, err
	}
	text, err := r.render(kind, "text", s.text, bindings)
	if err != nil {
		return Rendered{}, err
	}

	return Rendered{Subject: strings.TrimSpace(subject), HTMLBody: html, TextBody: text}, nil
}

func (r *LiquidRenderer) render(kind model.IntentKind, field, src string, bindings map[string]interface{}) (string, error) {
	key := cacheKey{kind: kind, field: field}

	r.mu.RLock()
	tpl, cached := r.cache[key]
	r.mu.RUnlock()

	if !cached {
		parsed, err := r.engine.ParseString(src)
		if err != nil {
			return "", appErrors.NewDomainError(appErrors.KindTemplate,
				fmt.Sprintf("parse %s/%s template", kind, field), err)
		}
		r.mu.Lock()
		r.cache[key] = parsed
		r.mu.Unlock()
		tpl = parsed
	}

	out, err := tpl.RenderString(bindings)
	if err != nil {
		return "", appErrors.NewDomainError(appErrors.KindTemplate,
			fmt.Sprintf("render %s/%s template", kind, field), err)
	}
	return out, nil
}

var _ Renderer = (*LiquidRenderer)(nil)
