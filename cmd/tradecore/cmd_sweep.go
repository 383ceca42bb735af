package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newSweepCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one stale-claim watchdog sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer a.close()

			wd := a.watchdog()
			if wd == nil {
				return fmt.Errorf("sweep needs the work queue database (set database.dsn or PG_DSN)")
			}

			res, err := wd.Sweep(cmd.Context())
			out, _ := json.MarshalIndent(res, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return err
		},
	}
}
