package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/sawpanic/tradecore/internal/application/engine"
	"github.com/sawpanic/tradecore/internal/persistence"
	"github.com/sawpanic/tradecore/internal/sellability"
)

type checkOptions struct {
	mint        string
	amount      string
	slippageBps int
}

func addCheckFlags(fs *pflag.FlagSet, opts *checkOptions) {
	fs.StringVar(&opts.mint, "mint", "", "Token mint to vet (required)")
	fs.StringVar(&opts.amount, "amount", "", "Buy amount in native smallest units; defaults to sellability.probe_lamports")
	fs.IntVar(&opts.slippageBps, "slippage-bps", 0, "Buy-leg slippage in basis points; defaults to sellability.slippage_bps")
}

func newCheckCmd(flags *globalFlags) *cobra.Command {
	opts := &checkOptions{}

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run one round-trip sellability check",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.mint == "" {
				return fmt.Errorf("--mint is required")
			}

			a, err := bootstrap(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer a.close()

			amount := decimal.NewFromInt(a.cfg.Sellability.ProbeLamports)
			if opts.amount != "" {
				amount, err = decimal.NewFromString(opts.amount)
				if err != nil {
					return fmt.Errorf("invalid --amount: %w", err)
				}
			}
			slippage := a.cfg.Sellability.SlippageBps
			if opts.slippageBps > 0 {
				slippage = opts.slippageBps
			}

			var claims persistence.ClaimsRepo
			if repos := a.db.Repository(); repos != nil {
				claims = repos.Claims
			}

			rep := runCheck(cmd.Context(), a.checker, claims, opts.mint, amount, slippage)
			out, _ := json.MarshalIndent(rep, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			if !rep.Result.Pass {
				return fmt.Errorf("%s failed sellability: %s", opts.mint, rep.Result.FailReason)
			}
			return nil
		},
	}
	addCheckFlags(cmd.Flags(), opts)
	return cmd
}

// checkReport is the check result plus the mint's work-queue row, when one exists
type checkReport struct {
	Result     sellability.Result `json:"result"`
	Claim      *persistence.Claim `json:"claim,omitempty"`
	ClaimError string             `json:"claim_error,omitempty"`
}

func runCheck(ctx context.Context, checker engine.SellabilityChecker, claims persistence.ClaimsRepo, mint string, amount decimal.Decimal, slippageBps int) checkReport {
	rep := checkReport{Result: checker.Check(ctx, mint, amount, slippageBps)}
	if claims == nil {
		return rep
	}
	claim, err := claims.Get(ctx, mint)
	if err != nil {
		rep.ClaimError = err.Error()
		return rep
	}
	rep.Claim = claim
	return rep
}
