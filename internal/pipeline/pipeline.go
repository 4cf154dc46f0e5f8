// Package pipeline implements the Delivery Pipeline of §4.6: the state
// machine that carries a batch of TrackingRows from pending through
// processing to a terminal outcome, with retry, resume, and delivery
// status polling.
package pipeline

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/jwalitptl/campaignsched/internal/mailgateway"
	"github.com/jwalitptl/campaignsched/internal/model"
	"github.com/jwalitptl/campaignsched/internal/store"
	"github.com/jwalitptl/campaignsched/internal/template"
	"github.com/jwalitptl/campaignsched/pkg/circuitbreaker"
	appErrors "github.com/jwalitptl/campaignsched/pkg/errors"
	"github.com/jwalitptl/campaignsched/pkg/logger"
	"github.com/jwalitptl/campaignsched/pkg/metrics"
)

// DefaultInterMessageDelay is §4.6.6's default pacing between sends.
const DefaultInterMessageDelay = 500 * time.Millisecond

// DefaultStaleAfter is the staleness threshold updateDeliveryStatus uses
// to decide a row needs a fresh status poll.
const DefaultStaleAfter = 10 * time.Minute

// DefaultGatewayTimeout bounds a single gateway call, per §5.
const DefaultGatewayTimeout = 15 * time.Second

// Config configures one Pipeline instance.
type Config struct {
	ChunkSize         int
	TestAddresses     []string
	InterMessageDelay time.Duration
	StaleAfter        time.Duration
}

func (c Config) delay() time.Duration {
	if c.InterMessageDelay > 0 || c.InterMessageDelay == 0 {
		return c.InterMessageDelay
	}
	return DefaultInterMessageDelay
}

func (c Config) staleAfter() time.Duration {
	if c.StaleAfter <= 0 {
		return DefaultStaleAfter
	}
	return c.StaleAfter
}

// Gateways holds the mail gateway used for each send_mode. Either field may
// itself be a DryRunGateway: the "control environment" gates real sending
// per-mode (§6), and that decision is made once, at construction, by
// whoever builds the Pipeline — the pipeline itself just dispatches on
// row.SendMode.
type Gateways struct {
	Test       mailgateway.Gateway
	Production mailgateway.Gateway
}

func (g Gateways) forMode(mode model.SendMode) mailgateway.Gateway {
	if mode == model.SendModeTest {
		return g.Test
	}
	return g.Production
}

// Pipeline drives TrackingRows through processChunk/retryFailed/resume/
// updateDeliveryStatus, calling out to a mail Gateway (behind a
// per-organization circuit breaker) and a template Renderer.
type Pipeline struct {
	store    store.Store
	gateways Gateways
	renderer template.Renderer
	breakers *circuitbreaker.Registry
	limiter  *rate.Limiter
	cfg      Config
	metrics  *metrics.Metrics
	log      *logger.Logger

	testAddrIdx int64
}

// New builds a Pipeline. metrics/log may be nil.
func New(st store.Store, gateways Gateways, renderer template.Renderer, breakers *circuitbreaker.Registry, cfg Config, m *metrics.Metrics, log *logger.Logger) *Pipeline {
	delay := cfg.delay()
	var limiter *rate.Limiter
	if delay <= 0 {
		limiter = rate.NewLimiter(rate.Inf, 1)
	} else {
		limiter = rate.NewLimiter(rate.Every(delay), 1)
	}
	return &Pipeline{
		store: st, gateways: gateways, renderer: renderer, breakers: breakers,
		limiter: limiter, cfg: cfg, metrics: m, log: log,
	}
}

// ChunkOutcome summarizes one processChunk/retryFailed/resume call.
type ChunkOutcome struct {
	Claimed int
	Sent    int
	Failed  int
	Skipped int
	// LeaseID is the claim's lease identifier (zero if nothing was
	// claimed), for correlating this call's finalize/log entries.
	LeaseID int64
}

// ProcessChunk implements §4.6's processChunk: claim up to size pending
// rows, and for each, resolve the contact, render the message, and call
// the gateway, finalizing the row's outcome. contacts indexes the
// contacts eligible for this batch by id; org and links are shared across
// every row in the batch.
func (p *Pipeline) ProcessChunk(ctx context.Context, batchID string, size int, contacts map[string]model.Contact, org model.Organization, links template.Links) (ChunkOutcome, error) {
	rows, leaseID, err := p.store.ClaimChunk(ctx, batchID, size)
	if err != nil {
		return ChunkOutcome{}, fmt.Errorf("claim chunk: %w", err)
	}

	var out ChunkOutcome
	out.Claimed = len(rows)
	out.LeaseID = leaseID

	for i, row := range rows {
		// An in-flight gateway call must be allowed to complete and
		// finalized before cancellation takes effect (§5); only the gap
		// between rows is a cancellation point.
		if i > 0 {
			if err := ctx.Err(); err != nil {
				return out, err
			}
		}

		outcome, err := p.processRow(ctx, row, contacts, org, links)
		if err != nil {
			return out, err
		}
		switch outcome.Status {
		case model.SendStatusSent:
			out.Sent++
		case model.SendStatusFailed:
			out.Failed++
		case model.SendStatusSkipped:
			out.Skipped++
		}
	}
	return out, nil
}

func (p *Pipeline) processRow(ctx context.Context, row model.TrackingRow, contacts map[string]model.Contact, org model.Organization, links template.Links) (store.FinalizeOutcome, error) {
	// The row is already claimed: its gateway call and Finalize run to
	// completion even if ctx is cancelled meanwhile.
	ctx = context.WithoutCancel(ctx)
	finalize := func(o store.FinalizeOutcome) (store.FinalizeOutcome, error) {
		if err := p.store.Finalize(ctx, row.ID, o); err != nil {
			return o, fmt.Errorf("finalize row %d: %w", row.ID, err)
		}
		p.recordOutcome(o)
		return o, nil
	}

	contact, ok := contacts[row.ContactID]
	if !ok {
		errMsg := "contact not found for row"
		return finalize(store.FinalizeOutcome{Status: model.SendStatusFailed, Error: &errMsg})
	}

	to := p.resolveRecipient(row, contact)
	if to == "" {
		reason := "missing recipient"
		return finalize(store.FinalizeOutcome{Status: model.SendStatusSkipped, Error: &reason})
	}

	rendered, err := p.renderer.Render(row.EmailType, contact, org, links)
	if err != nil {
		msg := "template error"
		if p.log != nil {
			p.log.Error(err, "pipeline: template render failed", "contact_id", contact.ID, "kind", row.EmailType)
		}
		return finalize(store.FinalizeOutcome{Status: model.SendStatusSkipped, Error: &msg})
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return store.FinalizeOutcome{}, err
	}

	envelope := mailgateway.Envelope{To: to, Subject: rendered.Subject, HTMLBody: rendered.HTMLBody, TextBody: rendered.TextBody}
	sendCtx, cancel := context.WithTimeout(ctx, DefaultGatewayTimeout)
	defer cancel()

	gw := p.gateways.forMode(row.SendMode)
	var result mailgateway.SendResult
	breaker := p.breakers.For(row.OrganizationID)
	start := time.Now()
	breakErr := breaker.Execute(func() error {
		r, sendErr := gw.Send(sendCtx, envelope)
		if sendErr != nil {
			return sendErr
		}
		result = r
		if !r.Accepted && r.Transient {
			return appErrors.NewDomainError(appErrors.KindGatewayTransient, r.Error, nil)
		}
		return nil
	})
	if p.metrics != nil {
		p.metrics.GatewayLatency.Observe(time.Since(start).Seconds())
	}

	if breakErr != nil {
		msg := breakErr.Error()
		return finalize(store.FinalizeOutcome{Status: model.SendStatusFailed, Error: &msg})
	}
	if !result.Accepted {
		msg := result.Error
		return finalize(store.FinalizeOutcome{Status: model.SendStatusFailed, Error: &msg})
	}

	id := result.ExternalMessageID
	return finalize(store.FinalizeOutcome{Status: model.SendStatusSent, MessageID: &id})
}

// resolveRecipient applies §4.6's send-mode rule: test mode always routes
// to a round-robin test address; production mode uses the contact's own
// address, or none if absent.
func (p *Pipeline) resolveRecipient(row model.TrackingRow, contact model.Contact) string {
	if row.SendMode == model.SendModeTest {
		if len(p.cfg.TestAddresses) == 0 {
			return ""
		}
		idx := atomic.AddInt64(&p.testAddrIdx, 1) - 1
		return p.cfg.TestAddresses[int(idx)%len(p.cfg.TestAddresses)]
	}
	return contact.Email
}

func (p *Pipeline) recordOutcome(o store.FinalizeOutcome) {
	if p.metrics == nil {
		return
	}
	p.metrics.SendAttempts.WithLabelValues(string(o.Status)).Inc()
}

// RetryFailed implements §4.6's retryFailed: move up to size failed rows
// (under model.MaxAttempts) back to pending, then process a chunk.
func (p *Pipeline) RetryFailed(ctx context.Context, batchID string, size int, contacts map[string]model.Contact, org model.Organization, links template.Links) (ChunkOutcome, error) {
	moved, err := p.store.MarkFailedAsRetryable(ctx, batchID, size)
	if err != nil {
		return ChunkOutcome{}, fmt.Errorf("mark failed as retryable: %w", err)
	}
	if p.metrics != nil {
		p.metrics.RetryAttempts.Add(float64(moved))
	}
	return p.ProcessChunk(ctx, batchID, size, contacts, org, links)
}

// Resume implements §4.6's resume: equivalent to ProcessChunk, picking up
// whatever remains pending.
func (p *Pipeline) Resume(ctx context.Context, batchID string, size int, contacts map[string]model.Contact, org model.Organization, links template.Links) (ChunkOutcome, error) {
	return p.ProcessChunk(ctx, batchID, size, contacts, org, links)
}

// UpdateDeliveryStatus implements §4.6's updateDeliveryStatus: poll the
// gateway for rows in {sent, deferred} whose status was last checked more
// than cfg.StaleAfter ago (10 minutes by default), applying any reported
// terminal outcome.
func (p *Pipeline) UpdateDeliveryStatus(ctx context.Context, batchID string) (int, error) {
	stale, err := p.store.ListStaleDeliveries(ctx, batchID, time.Now().Add(-p.cfg.staleAfter()))
	if err != nil {
		return 0, fmt.Errorf("list stale deliveries: %w", err)
	}

	updated := 0
	for _, row := range stale {
		if row.MessageID == nil || *row.MessageID == "" {
			continue
		}
		result, err := p.gateways.forMode(row.SendMode).QueryStatus(ctx, *row.MessageID)
		if err != nil {
			if p.log != nil {
				p.log.Error(err, "pipeline: query delivery status failed", "row_id", row.ID)
			}
			continue
		}
		if result.Status == mailgateway.StatusUnknown {
			continue
		}
		details := result.Details
		if err := p.store.UpdateDeliveryStatus(ctx, row.ID, string(result.Status), &details, time.Now()); err != nil {
			return updated, fmt.Errorf("update delivery status for row %d: %w", row.ID, err)
		}
		updated++
	}
	return updated, nil
}
