// Package events publishes refresh lifecycle events.
//
// Every refresh run emits "started" followed by "completed", "skipped"
// (the directory returned no employees) or "failed" on the NATS subject
//
//	{prefix}.refresh.{run_id}.{kind}
//
// so dashboards and downstream consumers can follow a run by id or
// subscribe to {prefix}.refresh.> for all of them.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Kind is the lifecycle stage of a run.
type Kind string

const (
	KindStarted   Kind = "started"
	KindCompleted Kind = "completed"
	KindSkipped   Kind = "skipped"
	KindFailed    Kind = "failed"
)

// Event describes one lifecycle stage of a refresh run.
type Event struct {
	RunID      string    `json:"run_id"`
	Kind       Kind      `json:"kind"`
	Reason     string    `json:"reason"`
	Employees  int       `json:"employees,omitempty"`
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"duration_ms,omitempty"`
	At         time.Time `json:"at"`
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Nop discards every event.
type Nop struct{}

// Publish does nothing.
func (Nop) Publish(context.Context, Event) error { return nil }

// NATSPublisher publishes events as JSON on core NATS subjects.
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
	owned  bool
}

// NewNATSPublisher wraps an existing connection.
func NewNATSPublisher(nc *nats.Conn, prefix string) (*NATSPublisher, error) {
	if nc == nil {
		return nil, errors.New("nats connection cannot be nil")
	}
	if prefix == "" {
		return nil, errors.New("subject prefix cannot be empty")
	}
	return &NATSPublisher{nc: nc, prefix: prefix}, nil
}

// Connect dials url and returns a publisher that owns the connection.
// Reconnects are unlimited; connection state changes are logged.
func Connect(url, prefix, name string, logger *zap.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrlRedacted()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	p, err := NewNATSPublisher(nc, prefix)
	if err != nil {
		nc.Close()
		return nil, err
	}
	p.owned = true
	return p, nil
}

// Subject returns the subject ev is published on.
func (p *NATSPublisher) Subject(ev Event) string {
	return fmt.Sprintf("%s.refresh.%s.%s", p.prefix, ev.RunID, ev.Kind)
}

// Publish marshals ev and publishes it.
func (p *NATSPublisher) Publish(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ev.RunID == "" || ev.Kind == "" {
		return errors.New("event requires run id and kind")
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.nc.Publish(p.Subject(ev), data); err != nil {
		return fmt.Errorf("publish %s event: %w", ev.Kind, err)
	}
	return nil
}

// Close drains the connection when the publisher owns it.
func (p *NATSPublisher) Close() error {
	if !p.owned {
		return nil
	}
	return p.nc.Drain()
}
