package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/pkg/errors"
	"github.com/pressly/goose/v3"
	"github.com/sirupsen/logrus"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate applies every pending migration in migrations/.
func Migrate(ctx context.Context, conn *sql.DB) error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(gooseLogger{})

	if err := goose.SetDialect("postgres"); err != nil {
		return errors.Wrap(err, "set goose dialect")
	}
	if err := goose.UpContext(ctx, conn, "migrations"); err != nil {
		return errors.Wrap(err, "apply migrations")
	}
	return nil
}

type gooseLogger struct{}

func (gooseLogger) Printf(format string, args ...any) {
	logrus.Info(fmt.Sprintf(format, args...))
}

// Fatalf only logs; goose returns the error to Migrate.
func (gooseLogger) Fatalf(format string, args ...any) {
	logrus.Error(fmt.Sprintf(format, args...))
}
