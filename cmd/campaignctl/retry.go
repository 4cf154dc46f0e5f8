package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/jwalitptl/campaignsched/internal/pipeline"
	"github.com/jwalitptl/campaignsched/internal/template"
	"github.com/jwalitptl/campaignsched/pkg/logger"
)

func runRetry(args []string, lg *logger.Logger) error {
	fs := flag.NewFlagSet("retry", flag.ExitOnError)
	batchID := fs.String("batch", "", "batch id")
	orgID := fs.Int("org", 0, "organization id")
	chunk := fs.Int("chunk", 50, "rows to move and reprocess per call")
	live := fs.Bool("live", false, "send through the real gateway instead of dry-run")
	delay := fs.Duration("delay", pipeline.DefaultInterMessageDelay, "inter-message delay")
	contactsPath := fs.String("contacts", "", "path to the JSON contacts file used for `schedule`")
	orgFile := fs.String("org-file", "", "optional path to a JSON model.Organization used for template rendering")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *batchID == "" || *orgID == 0 || *contactsPath == "" {
		return fmt.Errorf("retry: --batch, --org, and --contacts are required")
	}

	ctx := context.Background()
	sc, err := buildSendContext(ctx, *orgID, *contactsPath, *orgFile, *delay, *live, lg)
	if err != nil {
		return err
	}
	defer sc.store.Close()

	out, err := sc.pipeline.RetryFailed(ctx, *batchID, *chunk, sc.contacts, sc.org, template.Links{})
	if err != nil {
		return fmt.Errorf("retry failed rows: %w", err)
	}
	fmt.Printf("batch %s: claimed %d, sent %d, failed %d, skipped %d\n", *batchID, out.Claimed, out.Sent, out.Failed, out.Skipped)
	return nil
}
