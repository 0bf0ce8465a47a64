package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/unclebandit/outreach-driver/internal/config"
)

// app carries the configuration loaded before any command runs.
type app struct {
	cfg *config.Config
}

func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

func setupLogging(level string) error {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetOutput(os.Stdout)
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	logrus.SetLevel(lvl)
	return nil
}

func preRun(a *app) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if err := setupLogging(cfg.LogLevel); err != nil {
			logrus.WithError(err).Warnf("invalid LOG_LEVEL %q, using info", cfg.LogLevel)
			logrus.SetLevel(logrus.InfoLevel)
		}
		a.cfg = cfg
		return nil
	}
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:               "outreach-driver",
		Short:             "Ramped, paced cold-outreach email sender",
		SilenceUsage:      true,
		PersistentPreRunE: preRun(a),
	}
	root.AddCommand(runCommand(a))
	root.AddCommand(scheduleCommand(a))
	root.AddCommand(migrateCommand(a))
	root.AddCommand(planCommand(a))
	return root
}

func main() {
	defer recoverPanic()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCommand(&app{}).ExecuteContext(ctx)
	stop()
	if err != nil {
		logrus.WithError(err).Error("❌ command failed")
		os.Exit(1)
	}
}
