package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sawpanic/tradecore/internal/domain/ramp"
	"github.com/sawpanic/tradecore/internal/domain/signal"
)

func newSignalCmd(flags *globalFlags) *cobra.Command {
	var (
		mint   string
		rawPct float64
	)

	cmd := &cobra.Command{
		Use:   "signal",
		Short: "Print the signal and ramp outcome for stored bars",
		RunE: func(cmd *cobra.Command, args []string) error {
			if mint == "" {
				return fmt.Errorf("--mint is required")
			}

			a, err := bootstrap(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer a.close()

			history, err := a.bars.Recent(cmd.Context(), mint, a.cfg.Schedule.BarsLimit)
			if err != nil {
				return err
			}
			ticks, err := a.bars.Len(cmd.Context(), mint)
			if err != nil {
				return err
			}

			out := struct {
				Mint   string        `json:"mint"`
				Ticks  int           `json:"ticks"`
				Signal signal.Signal `json:"signal"`
				Ramp   ramp.Result   `json:"ramp"`
			}{
				Mint:   mint,
				Ticks:  ticks,
				Signal: signal.Compute(history, a.cfg.Signal),
				Ramp:   ramp.Calculate(rawPct, ticks, a.cfg.Ramp),
			}

			data, _ := json.MarshalIndent(out, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}

	cmd.Flags().StringVar(&mint, "mint", "", "Token mint (required)")
	cmd.Flags().Float64Var(&rawPct, "raw-pct", 0.10, "Raw target fraction to run through the ramp")
	return cmd
}
