package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/jwalitptl/campaignsched/internal/config"
	"github.com/jwalitptl/campaignsched/pkg/logger"
	"github.com/jwalitptl/campaignsched/pkg/metrics"
)

func runStatus(args []string, lg *logger.Logger) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	batchID := fs.String("batch", "", "batch id")
	orgID := fs.Int("org", 0, "organization id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *batchID == "" || *orgID == 0 {
		return fmt.Errorf("status: --batch and --org are required")
	}

	ctx := context.Background()
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	st, err := openStore(ctx, cfg.Database, *orgID, metrics.NewMetrics("campaignsched", "status"))
	if err != nil {
		return err
	}
	defer st.Close()

	summary, err := st.GetBatch(ctx, *batchID)
	if err != nil {
		return fmt.Errorf("get batch: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}
