package main

import (
	"context"
	"database/sql"

	"github.com/sirupsen/logrus"

	"github.com/unclebandit/outreach-driver/internal/config"
	"github.com/unclebandit/outreach-driver/internal/db"
	"github.com/unclebandit/outreach-driver/internal/mailer/resend"
	"github.com/unclebandit/outreach-driver/internal/model"
	"github.com/unclebandit/outreach-driver/internal/queue"
	"github.com/unclebandit/outreach-driver/internal/quota"
	"github.com/unclebandit/outreach-driver/internal/repository"
	"github.com/unclebandit/outreach-driver/internal/service"
	"github.com/unclebandit/outreach-driver/internal/templates"
	"github.com/unclebandit/outreach-driver/internal/tracking"
	"github.com/unclebandit/outreach-driver/internal/validator"
)

// driverOptions resolves the run settings; it performs no I/O.
func driverOptions(cfg *config.Config) (service.Options, error) {
	window, err := cfg.Window()
	if err != nil {
		return service.Options{}, err
	}
	registry := quota.Registry{LocalPart: cfg.SenderLocalPart}

	opts := service.Options{
		Enabled:         cfg.SendingEnabled,
		Window:          window,
		FromName:        cfg.FromName,
		SendDelay:       cfg.SendDelay,
		MaxSendAttempts: cfg.MaxSendAttempts,
	}
	for _, ch := range model.Channels {
		cc, err := cfg.Channel(ch)
		if err != nil {
			return service.Options{}, err
		}
		opts.Channels = append(opts.Channels, service.ChannelPlan{
			Channel: ch,
			Senders: registry.Senders(cc.SenderCount, cc.SenderDomain),
			Ramp:    cc.Ramp(),
		})
	}
	if cfg.GlobalCapEnabled {
		opts.GlobalCap = cfg.GlobalCap()
	}
	return opts, nil
}

// newEvents picks RabbitMQ when configured, otherwise an in-process queue
// that logs every event.
func newEvents(cfg *config.Config) (queue.Publisher, func(), error) {
	if cfg.AMQPURL != "" {
		q, err := queue.DialAMQP(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			return nil, nil, err
		}
		return q, func() {
			if err := q.Close(); err != nil {
				logrus.WithError(err).Warn("failed to close AMQP connection")
			}
		}, nil
	}
	q := queue.NewInMemoryQueue()
	if err := queue.LogSentEvents(q); err != nil {
		return nil, nil, err
	}
	return q, func() {}, nil
}

// newDriver connects everything a run needs. The returned cleanup releases
// the database pool and the broker connection.
func newDriver(ctx context.Context, cfg *config.Config) (*service.Driver, func(), error) {
	opts, err := driverOptions(cfg)
	if err != nil {
		return nil, nil, err
	}
	renderer, err := templates.NewRenderer()
	if err != nil {
		return nil, nil, err
	}

	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	events, closeEvents, err := newEvents(cfg)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	cleanup := func() {
		closeEvents()
		closeDB(conn)
	}

	var prober validator.Prober
	if cfg.ValidateSMTP {
		prober = validator.NewSMTPProber(cfg.MarketingDomain)
	}

	d := service.New(service.Deps{
		Leads:     &repository.LeadRepository{DB: conn},
		SendLogs:  &repository.SendLogRepository{DB: conn},
		Settings:  &repository.ConfigRepository{DB: conn, Location: opts.Window.Location},
		Validator: validator.New(nil, prober),
		Mailer:    resend.New(cfg.ResendAPIKey),
		Renderer:  renderer,
		Links: &tracking.Rewriter{
			TrackingDomain:  cfg.TrackingDomain,
			MarketingDomain: cfg.MarketingDomain,
			UTMCampaign:     cfg.UTMCampaign,
		},
		Events: events,
	}, opts)
	return d, cleanup, nil
}

func closeDB(conn *sql.DB) {
	if err := conn.Close(); err != nil {
		logrus.WithError(err).Warn("failed to close database")
	}
}
