package queue

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// TopicEmailSent carries a SentEvent for every accepted send.
const TopicEmailSent = "email.sent"

// Publisher is the send side of a queue.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}

// Queue interface
type Queue interface {
	Publisher
	Subscribe(topic string, handler func(payload any) error) error
}

// SentEvent is published after a send is recorded in the ledger.
type SentEvent struct {
	LogID             int64     `json:"log_id"`
	LeadID            int       `json:"lead_id"`
	Channel           string    `json:"channel"`
	Sender            string    `json:"sender"`
	Variant           string    `json:"variant"`
	ProviderMessageID string    `json:"provider_message_id"`
	SentAt            time.Time `json:"sent_at"`
}

// InMemoryQueue delivers to in-process subscribers. Handlers run on the
// publisher's goroutine, so Publish returns only after every handler finished.
type InMemoryQueue struct {
	mu         sync.Mutex
	handlers   map[string][]func(payload any) error
	MaxRetries int
	Backoff    time.Duration
}

// NewInMemoryQueue creates a new queue
func NewInMemoryQueue() *InMemoryQueue {
	return &InMemoryQueue{
		handlers:   make(map[string][]func(payload any) error),
		MaxRetries: 3,
		Backoff:    500 * time.Millisecond,
	}
}

// Publish hands payload to every subscriber of topic. A topic without
// subscribers drops the message.
func (q *InMemoryQueue) Publish(ctx context.Context, topic string, payload any) error {
	q.mu.Lock()
	handlers := append([]func(payload any) error(nil), q.handlers[topic]...)
	q.mu.Unlock()

	var failed error
	for _, handler := range handlers {
		if err := q.processJob(ctx, handler, payload); err != nil {
			failed = err
		}
	}
	return failed
}

// processJob retries a handler with linear backoff.
func (q *InMemoryQueue) processJob(ctx context.Context, handler func(payload any) error, payload any) error {
	var err error
	for attempt := 0; attempt <= q.MaxRetries; attempt++ {
		if err = handler(payload); err == nil {
			return nil
		}
		logrus.WithError(err).WithField("attempt", attempt+1).Warn("queue handler failed")
		if attempt == q.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * q.Backoff):
		}
	}
	return errors.Wrapf(err, "handler failed after %d attempts", q.MaxRetries+1)
}

// Subscribe adds a handler for a topic
func (q *InMemoryQueue) Subscribe(topic string, handler func(payload any) error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.handlers[topic] = append(q.handlers[topic], handler)
	return nil
}

// LogSentEvents subscribes a handler that logs every SentEvent; used when no
// broker is configured.
func LogSentEvents(q Queue) error {
	return q.Subscribe(TopicEmailSent, func(payload any) error {
		ev, ok := payload.(SentEvent)
		if !ok {
			logrus.Warnf("unexpected payload type %T on %s", payload, TopicEmailSent)
			return nil
		}
		logrus.WithFields(logrus.Fields{
			"log_id":  ev.LogID,
			"lead_id": ev.LeadID,
			"channel": ev.Channel,
			"sender":  ev.Sender,
			"variant": ev.Variant,
		}).Debug("📩 email sent event")
		return nil
	})
}

var _ Queue = (*InMemoryQueue)(nil)
