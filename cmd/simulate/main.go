// simulate runs one dry-run cycle against the live data APIs and prints
// every decision. No transaction is ever sent.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"go.uber.org/multierr"

	"github.com/cookfi/cookfi-agent/internal/config"
	"github.com/cookfi/cookfi-agent/internal/logging"
	"github.com/cookfi/cookfi-agent/pkg/agent"
)

func main() {
	configPath := flag.String("config", "", "config file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := run(ctx, *configPath, os.Stdout)
	stop()
	if err != nil {
		log.Fatalf("Simulation failed: %v", err)
	}
}

func run(ctx context.Context, configPath string, out io.Writer) (err error) {
	// 1. Load config, forcing dry-run
	cfg, err := config.Load(configPath)
	if err != nil {
		return errors.Wrap(err, "load config")
	}
	forceDryRun(cfg)

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return errors.Wrap(err, "build logger")
	}
	defer func() { _ = logger.Sync() }()

	// 2. Wire the agent
	r, err := agent.New(cfg, logger)
	if err != nil {
		return errors.Wrap(err, "init agent")
	}
	defer func() { err = multierr.Append(err, r.Close()) }()

	// 3. Run one cycle
	log.Printf("Simulating one cycle for wallet %s...", cfg.Solana.PublicKey)
	report, cycleErr := r.RunOnce(ctx)
	if cycleErr != nil {
		log.Printf("Cycle failed: %v", cycleErr)
	}
	if report == nil {
		return errors.Wrap(cycleErr, "no cycle report")
	}

	// 4. Print Output
	if err := printReport(out, report); err != nil {
		return err
	}
	return nil
}

func forceDryRun(cfg *config.Config) {
	cfg.Agent.DryRun = true
	cfg.Telegram.DryRun = true
	cfg.Control.Addr = ""
}

func printReport(w io.Writer, report any) error {
	output, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode report")
	}
	_, err = fmt.Fprintln(w, string(output))
	return err
}
