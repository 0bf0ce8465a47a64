package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	connectAttempts = 3
	maxOpenConns    = 5
)

// Open connects to Postgres and pings it, retrying with exponential backoff.
// The caller owns the returned pool and must Close it when the run ends.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open DB")
	}
	conn.SetMaxOpenConns(maxOpenConns)
	conn.SetConnMaxIdleTime(10 * time.Minute)

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), connectAttempts), ctx)
	ping := func() error {
		if err := conn.PingContext(ctx); err != nil {
			logrus.WithError(err).Warn("database ping failed, retrying")
			return err
		}
		return nil
	}
	if err := backoff.Retry(ping, b); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "failed to ping DB")
	}

	logrus.Info("✅ Connected to database")
	return conn, nil
}
