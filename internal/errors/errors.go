package appErrors

import (
	"errors"
	"fmt"

	"github.com/unclebandit/outreach-driver/internal/model"
)

// ErrConfig reports a required setting that is missing or invalid.
type ErrConfig struct {
	Key    string
	Reason string
}

func (e *ErrConfig) Error() string {
	return fmt.Sprintf("config %s: %s", e.Key, e.Reason)
}

// Helper constructor
func NewConfigError(key, reason string) error {
	return &ErrConfig{Key: key, Reason: reason}
}

// ErrUnknownChannel is returned when a channel has no lead table.
type ErrUnknownChannel struct {
	Channel model.Channel
}

func (e *ErrUnknownChannel) Error() string {
	return fmt.Sprintf("unknown channel %q", string(e.Channel))
}

func NewUnknownChannel(ch model.Channel) error {
	return &ErrUnknownChannel{Channel: ch}
}

// ErrStartDateUnavailable means the campaign start date could not be read or created.
var ErrStartDateUnavailable = errors.New("campaign start date unavailable")

// ErrStartDate carries the failure behind ErrStartDateUnavailable.
type ErrStartDate struct {
	Err error
}

func (e *ErrStartDate) Error() string {
	return fmt.Sprintf("%s: %v", ErrStartDateUnavailable, e.Err)
}

func (e *ErrStartDate) Unwrap() error { return e.Err }

func (e *ErrStartDate) Is(target error) bool { return target == ErrStartDateUnavailable }

func NewStartDateError(err error) error {
	return &ErrStartDate{Err: err}
}

// IsConfig reports whether err is (or wraps) a configuration error.
func IsConfig(err error) bool {
	var cfgErr *ErrConfig
	return errors.As(err, &cfgErr)
}
