package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/go-faster/errors"
	"github.com/spf13/cobra"

	"github.com/cookfi/cookfi-agent/internal/core/domain"
	"github.com/cookfi/cookfi-agent/pkg/agent"
	"github.com/cookfi/cookfi-agent/pkg/journal"
	"github.com/cookfi/cookfi-agent/pkg/version"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the trading loop until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			fmt.Fprintln(cmd.ErrOrStderr(), version.GetBanner())
			r, err := agent.New(cfg, logger)
			if err != nil {
				return err
			}
			return r.Run(cmd.Context())
		},
	}
}

func onceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Run a single cycle and print its report",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			r, err := agent.New(cfg, logger)
			if err != nil {
				return err
			}
			defer r.Close()

			report, err := r.RunOnce(cmd.Context())
			if report != nil {
				if perr := printJSON(cmd.OutOrStdout(), report); perr != nil {
					return perr
				}
			}
			return err
		},
	}
}

func journalCmd() *cobra.Command {
	var pendingOnly bool
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "List journaled swap attempts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := setup()
			if err != nil {
				return err
			}
			j, err := journal.Open(cfg.Journal.Path)
			if err != nil {
				return err
			}
			defer j.Close()

			var records []*journal.SwapRecord
			if pendingOnly {
				records, err = j.Pending()
			} else {
				records, err = j.List(nil)
			}
			if err != nil {
				return err
			}
			return printRecords(cmd.OutOrStdout(), records)
		},
	}
	cmd.Flags().BoolVar(&pendingOnly, "pending", false, "Only show swaps whose outcome is unknown")
	return cmd
}

func printRecords(w io.Writer, records []*journal.SwapRecord) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CREATED\tCHAIN\tINPUT\tOUTPUT\tAMOUNT\tSLIPPAGE\tATTEMPT\tSTATE\tSIGNATURE")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%g\t%g%%\t%d\t%s\t%s\n",
			r.CreatedAt.Format(time.RFC3339), r.Chain, short(r.InputMint), short(r.OutputMint),
			r.Amount, r.Slippage, r.Attempt, r.State, short(r.Signature))
	}
	return tw.Flush()
}

func positionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "positions",
		Short: "Show PnL of every traded token at current prices",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			r, err := agent.New(cfg, logger)
			if err != nil {
				return err
			}
			defer r.Close()

			positions, err := r.Positions(cmd.Context())
			if err != nil {
				return err
			}
			return printPositions(cmd.OutOrStdout(), positions)
		},
	}
}

func printPositions(w io.Writer, positions []domain.WalletPnL) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "TOKEN\tBALANCE\tAVG BUY\tREALIZED\tUNREALIZED\tTOTAL\tROI\t")
	for _, p := range positions {
		name := p.Symbol
		if name == "" {
			name = short(p.Address)
		}
		fmt.Fprintf(tw, "%s\t%.4f\t%.6f\t%.2f\t%.2f\t%.2f\t%.1f%%\t\n",
			name, p.CurrentBalance, p.AverageBuyPrice, p.RealizedPnL, p.UnrealizedPnL, p.TotalPnL, p.ROI)
	}
	return tw.Flush()
}

func transferCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "transfer <recipient> <amount>",
		Short: "Send SOL from the agent wallet",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseAmount(args[1])
			if err != nil {
				return err
			}
			return withWallet(cmd.Context(), func(ctx context.Context, r *agent.Runner) error {
				wallet, err := r.Wallet()
				if err != nil {
					return err
				}
				sig, err := wallet.Transfer(ctx, args[0], amount)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"recipient": args[0],
					"amount":    amount,
					"signature": sig,
				})
			})
		},
	}
}

func stakeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stake <amount>",
		Short: "Stake SOL into jupSOL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseAmount(args[0])
			if err != nil {
				return err
			}
			return withWallet(cmd.Context(), func(ctx context.Context, r *agent.Runner) error {
				wallet, err := r.Wallet()
				if err != nil {
					return err
				}
				res, err := wallet.Stake(ctx, amount)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
}

func tokenCmd() *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the control API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := setup()
			if err != nil {
				return err
			}
			tok, err := agent.IssueToken(cfg.Control.JWTSecret, subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "operator", "Token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	return cmd
}

func withWallet(ctx context.Context, fn func(context.Context, *agent.Runner) error) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	r, err := agent.New(cfg, logger)
	if err != nil {
		return err
	}
	defer r.Close()
	return fn(ctx, r)
}

func parseAmount(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid amount %q", s)
	}
	if v <= 0 {
		return 0, errors.Errorf("amount must be positive, got %g", v)
	}
	return v, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func short(s string) string {
	if len(s) <= 12 {
		return s
	}
	return s[:5] + "…" + s[len(s)-4:]
}
