// Package template implements the template renderer adapter of §6: a pure,
// side-effect-free render(kind, contact, organization, links) the pipeline
// calls before every gateway send.
package template

import (
	"github.com/jwalitptl/campaignsched/internal/model"
)

// Links carries the tracking/action URLs a rendered message may reference
// (e.g. an unsubscribe link, a scheduling portal link).
type Links struct {
	ActionURL      string
	UnsubscribeURL string
}

// Rendered is the output of one render call.
type Rendered struct {
	Subject  string
	HTMLBody string
	TextBody string
}

// Renderer is the interface the Delivery Pipeline consumes. It must be
// pure: the same (kind, contact, organization, links) always produces the
// same Rendered value, and a failure must return an error rather than
// panic, since the caller turns it into a scheduled-row skip with reason
// "template error" (§6).
type Renderer interface {
	Render(kind model.IntentKind, contact model.Contact, org model.Organization, links Links) (Rendered, error)
}
