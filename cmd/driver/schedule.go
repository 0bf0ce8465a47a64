package main

import (
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const defaultSchedule = "0 * * * *"

// cronLogger adapts logrus to cron.Logger.
type cronLogger struct {
	entry *logrus.Entry
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(fields(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.entry.WithError(err).WithFields(fields(keysAndValues)).Error(msg)
}

func fields(kv []interface{}) logrus.Fields {
	f := logrus.Fields{}
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			f[k] = kv[i+1]
		}
	}
	return f
}

func scheduleCommand(a *app) *cobra.Command {
	var spec string
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run a campaign pass on a cron schedule until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.cfg.ValidateSending(); err != nil {
				return err
			}
			loc, err := a.cfg.Location()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			logger := cronLogger{entry: logrus.WithField("component", "scheduler")}
			c := cron.New(
				cron.WithLocation(loc),
				cron.WithLogger(logger),
				cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
			)
			_, err = c.AddFunc(spec, func() {
				if _, err := runOnce(ctx, a.cfg); err != nil {
					logrus.WithError(err).Error("❌ scheduled run failed")
				}
			})
			if err != nil {
				return err
			}

			logrus.WithFields(logrus.Fields{"schedule": spec, "timezone": loc.String()}).Info("⏰ scheduler started")
			c.Start()
			<-ctx.Done()
			<-c.Stop().Done()
			logrus.Info("scheduler stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&spec, "cron", defaultSchedule, "cron expression, evaluated in the campaign timezone")
	return cmd
}
