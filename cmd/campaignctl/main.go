// Command campaignctl is the operator CLI for the scheduling/delivery
// engine: schedule, send, retry, status, and serve, per spec §6.
package main

import (
	"fmt"
	"os"

	"github.com/jwalitptl/campaignsched/pkg/logger"
)

func main() {
	lg := logger.NewLogger(nil)

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "schedule":
		err = runSchedule(os.Args[2:], lg)
	case "send":
		err = runSend(os.Args[2:], lg)
	case "retry":
		err = runRetry(os.Args[2:], lg)
	case "status":
		err = runStatus(os.Args[2:], lg)
	case "serve":
		err = runServe(os.Args[2:], lg)
	default:
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "campaignctl:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `campaignctl subcommands:
  schedule --input <contacts.json> --output <out.json> --start YYYY-MM-DD --end YYYY-MM-DD --org N [--parallel N] [--scope today|next_7_days|next_30_days|next_90_days|bulk] [--mode test|production]
  send     --batch <batch-id> --org N --contacts <contacts.json> --chunk N [--live] [--delay SEC]
  retry    --batch <batch-id> --org N --contacts <contacts.json> --chunk N
  status   --batch <batch-id> --org N
  serve    --addr :8080 --org N`)
}
