package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sawpanic/tradecore/internal/application/engine"
	"github.com/sawpanic/tradecore/internal/config"
	diag "github.com/sawpanic/tradecore/internal/interfaces/http"
	"github.com/sawpanic/tradecore/internal/scheduler"
)

func newRunCmd(flags *globalFlags) *cobra.Command {
	var (
		mode      string
		noHTTP    bool
		immediate bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the decision loop and the stale-claim watchdog",
		Long:  "Starts both periodic loops and the read-only diagnostics server until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := ossignal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := bootstrap(ctx, flags)
			if err != nil {
				return err
			}
			defer a.close()

			if mode != "" {
				a.cfg.App.Mode = mode
			}
			if a.cfg.App.Mode != config.ModePaper && a.cfg.App.Mode != config.ModeLive {
				return fmt.Errorf("unknown mode %q", a.cfg.App.Mode)
			}

			run := engine.NewRunContext(a.cfg.App.Mode, nil)
			eng := a.engine(run)

			var sweeper scheduler.Sweeper
			if wd := a.watchdog(); wd != nil {
				sweeper = wd
			}

			sched := scheduler.New(scheduler.Config{
				TickInterval:   a.cfg.Schedule.TickInterval,
				SweepInterval:  a.cfg.Schedule.SweepInterval,
				RunImmediately: immediate,
			}, eng, sweeper, a.logger)

			if !noHTTP && a.cfg.App.HTTPAddr != "" {
				srvCfg := diag.DefaultServerConfig()
				srvCfg.Addr = a.cfg.App.HTTPAddr
				srv := diag.NewServer(srvCfg, diag.Sources{
					Health:    a.db.Health(),
					Bars:      a.bars,
					Metrics:   a.metrics.Handler(),
					Runs:      map[string]*engine.RunContext{run.Mode: run},
					Scheduler: sched.GetStatus,
				}, a.logger)

				go func() {
					if err := srv.Start(); err != nil {
						a.logger.Error().Err(err).Msg("diagnostics server stopped")
					}
				}()
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
			}

			err = sched.Start(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "", "Trading context (paper|live); defaults to app.mode")
	cmd.Flags().BoolVar(&noHTTP, "no-http", false, "Disable the diagnostics server")
	cmd.Flags().BoolVar(&immediate, "immediate", true, "Run a cycle and a sweep right away")
	return cmd
}
