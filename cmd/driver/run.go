package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/unclebandit/outreach-driver/internal/config"
	"github.com/unclebandit/outreach-driver/internal/service"
)

func runCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run one campaign pass and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := runOnce(cmd.Context(), a.cfg)
			return err
		},
	}
}

// runOnce performs a single pass. The database pool lives exactly as long
// as the pass.
func runOnce(ctx context.Context, cfg *config.Config) (*service.RunResult, error) {
	return runAt(ctx, cfg, time.Now())
}

func runAt(ctx context.Context, cfg *config.Config, now time.Time) (*service.RunResult, error) {
	if err := cfg.ValidateSending(); err != nil {
		return nil, err
	}
	opts, err := driverOptions(cfg)
	if err != nil {
		return nil, err
	}
	if !opts.GateOpen(now) {
		// The gated pass only logs; no connections are needed. It is pinned to
		// the instant the gate was checked.
		return service.New(service.Deps{Now: func() time.Time { return now }}, opts).Run(ctx)
	}

	d, cleanup, err := newDriver(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer cleanup()
	return d.Run(ctx)
}
