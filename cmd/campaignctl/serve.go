package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jwalitptl/campaignsched/internal/config"
	"github.com/jwalitptl/campaignsched/internal/handler/prometheus"
	"github.com/jwalitptl/campaignsched/internal/mailgateway"
	"github.com/jwalitptl/campaignsched/internal/server"
	"github.com/jwalitptl/campaignsched/pkg/logger"
	"github.com/jwalitptl/campaignsched/pkg/metrics"
)

// runServe starts the operator HTTP status surface and, optionally, a
// cron schedule that reruns `schedule` (not `send`) on a fixed cadence,
// supplementing the CLI surface with the one long-running mode operators
// need to not invoke every subcommand by hand.
func runServe(args []string, lg *logger.Logger) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := fs.String("addr", ":8080", "listen address")
	orgID := fs.Int("org", 0, "organization id whose store backs /batches")
	cronSpec := fs.String("cron", "", "optional cron spec to run `schedule` on a cadence (`send` is not run), e.g. \"0 6 * * *\"")
	contactsPath := fs.String("contacts", "", "contacts file the cron cadence schedules over (required with --cron)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *orgID == 0 {
		return fmt.Errorf("serve: --org is required")
	}

	ctx := context.Background()
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	st, err := openStore(ctx, cfg.Database, *orgID, metrics.NewMetrics("campaignsched", "serve"))
	if err != nil {
		return err
	}
	defer st.Close()

	var webhook *mailgateway.WebhookHandler
	if cfg.Gateway.WebhookSigningKey != "" {
		webhook = mailgateway.NewWebhookHandler(cfg.Gateway.WebhookSigningKey, st, lg)
	}

	promHandler := prometheus.New()
	engine := server.New(st, promHandler, webhook)
	httpServer := &http.Server{Addr: *addr, Handler: engine}

	var c *cron.Cron
	if *cronSpec != "" {
		if *contactsPath == "" {
			return fmt.Errorf("serve: --contacts is required with --cron")
		}
		c = cron.New()
		_, err := c.AddFunc(*cronSpec, func() {
			if err := runSchedule([]string{"--input", *contactsPath, "--org", fmt.Sprint(*orgID), "--start", time.Now().Format(dateOnly), "--end", time.Now().AddDate(0, 0, 1).Format(dateOnly)}, lg); err != nil {
				lg.Error(err, "cron: scheduled schedule run failed")
			}
		})
		if err != nil {
			return fmt.Errorf("register cron schedule: %w", err)
		}
		c.Start()
		defer c.Stop()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		lg.Info("serve: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	lg.Info("serve: listening", "addr", *addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}
