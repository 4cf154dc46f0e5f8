package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/jwalitptl/campaignsched/internal/config"
	"github.com/jwalitptl/campaignsched/internal/mailgateway"
	"github.com/jwalitptl/campaignsched/internal/model"
	"github.com/jwalitptl/campaignsched/internal/pipeline"
	"github.com/jwalitptl/campaignsched/internal/template"
	"github.com/jwalitptl/campaignsched/pkg/circuitbreaker"
	"github.com/jwalitptl/campaignsched/pkg/logger"
	"github.com/jwalitptl/campaignsched/pkg/metrics"
)

// sendContext gathers what processChunk/retryFailed/resume all need beyond
// the batch id and chunk size: the contact records a TrackingRow's
// contact_id resolves against (the store only ever persists the id, per
// §4.5), and the organization identity rendered into every message.
type sendContext struct {
	store    openedStore
	pipeline *pipeline.Pipeline
	contacts map[string]model.Contact
	org      model.Organization
	links    template.Links
}

type openedStore interface {
	Close() error
}

func runSend(args []string, lg *logger.Logger) error {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	batchID := fs.String("batch", "", "batch id from `schedule`'s output")
	orgID := fs.Int("org", 0, "organization id")
	chunk := fs.Int("chunk", 50, "rows to claim per chunk")
	live := fs.Bool("live", false, "send through the real gateway instead of dry-run")
	delaySec := fs.Float64("delay", pipeline.DefaultInterMessageDelay.Seconds(), "inter-message delay in seconds")
	contactsPath := fs.String("contacts", "", "path to the JSON contacts file used for `schedule`")
	orgFile := fs.String("org-file", "", "optional path to a JSON model.Organization used for template rendering")
	actionURL := fs.String("action-url", "", "link rendered as {{ action_url }}")
	unsubscribeURL := fs.String("unsubscribe-url", "", "link rendered as {{ unsubscribe_url }}")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *batchID == "" || *orgID == 0 || *contactsPath == "" {
		return fmt.Errorf("send: --batch, --org, and --contacts are required")
	}

	ctx := context.Background()
	delay := time.Duration(*delaySec * float64(time.Second))
	sc, err := buildSendContext(ctx, *orgID, *contactsPath, *orgFile, delay, *live, lg)
	if err != nil {
		return err
	}
	defer sc.store.Close()
	sc.links = template.Links{ActionURL: *actionURL, UnsubscribeURL: *unsubscribeURL}

	out, err := sc.pipeline.ProcessChunk(ctx, *batchID, *chunk, sc.contacts, sc.org, sc.links)
	if err != nil {
		return fmt.Errorf("process chunk: %w", err)
	}
	fmt.Printf("batch %s: claimed %d, sent %d, failed %d, skipped %d\n", *batchID, out.Claimed, out.Sent, out.Failed, out.Skipped)
	return nil
}

func buildSendContext(ctx context.Context, orgID int, contactsPath, orgFile string, delay time.Duration, live bool, lg *logger.Logger) (*sendContext, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	m := metrics.NewMetrics("campaignsched", "pipeline")

	st, err := openStore(ctx, cfg.Database, orgID, m)
	if err != nil {
		return nil, err
	}

	contactList, err := loadContacts(contactsPath)
	if err != nil {
		st.Close()
		return nil, err
	}
	contacts := make(map[string]model.Contact, len(contactList))
	for _, c := range contactList {
		contacts[c.ID] = c
	}

	org := model.Organization{ID: orgID, Name: "Organization", FromEmail: cfg.Gateway.FromEmail}
	if orgFile != "" {
		b, err := os.ReadFile(orgFile)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("read org file %s: %w", orgFile, err)
		}
		if err := json.Unmarshal(b, &org); err != nil {
			st.Close()
			return nil, fmt.Errorf("parse org file %s: %w", orgFile, err)
		}
	}

	renderer, err := template.NewLiquidRenderer(cfg.Pipeline.TemplateOverrideDir)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("build template renderer: %w", err)
	}

	gateways, err := buildGateways(cfg.Gateway, live, lg)
	if err != nil {
		st.Close()
		return nil, err
	}

	breakers := circuitbreaker.NewRegistry(func(int) circuitbreaker.Settings {
		return circuitbreaker.Settings{
			Name:                "mailgateway",
			MaxRequests:         cfg.Pipeline.CircuitBreaker.MaxRequests,
			Interval:            cfg.Pipeline.CircuitBreaker.Interval,
			Timeout:             cfg.Pipeline.CircuitBreaker.Timeout,
			ConsecutiveFailures: cfg.Pipeline.CircuitBreaker.ConsecutiveFailures,
		}
	})

	pc := pipeline.Config{
		ChunkSize:         cfg.Pipeline.ChunkSize,
		TestAddresses:     cfg.Pipeline.TestAddresses,
		InterMessageDelay: delay,
		StaleAfter:        cfg.Pipeline.StaleAfter,
	}
	p := pipeline.New(st, gateways, renderer, breakers, pc, m, lg)

	return &sendContext{store: st, pipeline: p, contacts: contacts, org: org}, nil
}

// buildGateways implements §6's "control environment": TestSendingEnabled
// and ProductionSendingEnabled independently gate real sending for their
// own send_mode, each falling back to the dry-run sender when its gate is
// off. --live is an additional manual confirmation required on top of
// ProductionSendingEnabled before any real customer inbox is touched; test
// mode has no such extra gate since it only ever reaches the configured
// test addresses. Enabling either mode for real sending requires SMTP
// credentials to be configured; their absence is a configuration error,
// not a silent fallback to dry-run.
func buildGateways(cfg config.GatewayConfig, live bool, lg *logger.Logger) (pipeline.Gateways, error) {
	var gateways pipeline.Gateways

	if cfg.TestSendingEnabled {
		gw, err := realGateway(cfg)
		if err != nil {
			return pipeline.Gateways{}, fmt.Errorf("test sending enabled but gateway is misconfigured: %w", err)
		}
		gateways.Test = gw
	} else {
		gateways.Test = mailgateway.NewDryRunGateway(lg)
	}

	if cfg.ProductionSendingEnabled && live {
		gw, err := realGateway(cfg)
		if err != nil {
			return pipeline.Gateways{}, fmt.Errorf("production sending enabled but gateway is misconfigured: %w", err)
		}
		gateways.Production = gw
	} else {
		gateways.Production = mailgateway.NewDryRunGateway(lg)
	}

	return gateways, nil
}

func realGateway(cfg config.GatewayConfig) (mailgateway.Gateway, error) {
	if cfg.SMTPHost == "" {
		return nil, fmt.Errorf("gateway.smtp_host is required for non-dry-run sending")
	}
	return mailgateway.NewSMTPGateway(mailgateway.SMTPConfig{
		Host:      cfg.SMTPHost,
		Port:      cfg.SMTPPort,
		Username:  cfg.SMTPUsername,
		Password:  cfg.SMTPPassword,
		FromEmail: cfg.FromEmail,
		FromName:  cfg.FromName,
		Timeout:   cfg.Timeout,
	})
}
