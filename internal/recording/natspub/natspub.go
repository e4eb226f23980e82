// Package natspub announces finished recordings on a NATS subject.
//
// [Publisher] wraps a [recording.Store]; every successful Complete is
// followed by a JSON [Event]. Publishing is best effort: a failed publish is
// logged and never fails the completion.
package natspub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/MrWong99/recod/internal/recording"
)

// DefaultSubject is used when no subject is configured.
const DefaultSubject = "recod.recordings.completed"

// Conn is the subset of *nats.Conn the publisher needs.
type Conn interface {
	Publish(subject string, data []byte) error
}

var _ Conn = (*nats.Conn)(nil)

// Event is the payload published per completed or failed recording.
type Event struct {
	ID         string           `json:"id"`
	Filename   string           `json:"filename"`
	Status     recording.Status `json:"status"`
	Text       string           `json:"text"`
	Duration   float64          `json:"duration_seconds"`
	Segments   int              `json:"segments"`
	Error      string           `json:"error,omitempty"`
	OccurredAt time.Time        `json:"occurred_at"`
}

// Publisher is a [recording.Store] that publishes completion events.
type Publisher struct {
	recording.Store
	conn    Conn
	subject string
	now     func() time.Time
}

var _ recording.Store = (*Publisher)(nil)

// New wraps store. An empty subject selects [DefaultSubject].
func New(store recording.Store, conn Conn, subject string) *Publisher {
	if subject == "" {
		subject = DefaultSubject
	}
	return &Publisher{Store: store, conn: conn, subject: subject, now: time.Now}
}

// Connect dials url with the options recod uses for its event connection.
func Connect(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("recod"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("natspub: disconnected", "err", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("natspub: reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("natspub: connect %s: %w", url, err)
	}
	return nc, nil
}

// Complete writes the completion and then publishes an [Event].
func (p *Publisher) Complete(ctx context.Context, id string, c recording.Completion) error {
	if err := p.Store.Complete(ctx, id, c); err != nil {
		return err
	}
	evt := Event{
		ID:         id,
		Status:     c.Status,
		Text:       c.Text,
		Duration:   c.Duration.Seconds(),
		Segments:   len(c.Segments),
		Error:      c.Error,
		OccurredAt: p.now().UTC(),
	}
	if r, err := p.Store.Get(ctx, id); err == nil {
		evt.Filename = r.Filename
		if evt.Duration == 0 {
			evt.Duration = r.Duration.Seconds()
		}
	}
	data, err := json.Marshal(evt)
	if err != nil {
		slog.Warn("natspub: encode event", "id", id, "err", err)
		return nil
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		slog.Warn("natspub: publish failed", "subject", p.subject, "id", id, "err", err)
	}
	return nil
}
