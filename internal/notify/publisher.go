// Package notify publishes an event for every change the finder applies to
// the search index, so downstream services can react to fresh results.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Event describes one applied index change.
type Event struct {
	Partition string    `json:"partition"`
	Op        string    `json:"op"`
	ID        string    `json:"id"`
	Time      time.Time `json:"time"`
}

// Subject returns "<prefix>.<partition>.<op>".
func (e Event) Subject(prefix string) string {
	subject := e.Partition + "." + e.Op
	if prefix != "" {
		subject = prefix + "." + subject
	}
	return subject
}

// Publisher publishes sync events.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// JetStream is the part of jetstream.JetStream the publisher uses.
type JetStream interface {
	CreateOrUpdateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error)
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// JetStreamNew is a variable to allow mocking in tests.
var JetStreamNew = func(nc *nats.Conn) (JetStream, error) {
	return jetstream.New(nc)
}

var natsConnect = func(url string) (*nats.Conn, error) {
	return nats.Connect(url, nats.Name("o2r-finder"), nats.MaxReconnects(-1))
}

// Connect returns the publisher cfg asks for: Nop when publishing is off,
// a JetStream publisher otherwise.
func Connect(ctx context.Context, cfg Config, logger *slog.Logger) (Publisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if !cfg.Enabled {
		return Nop{}, nil
	}

	nc, err := natsConnect(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}
	js, err := JetStreamNew(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream: %w", err)
	}

	pub, err := NewPublisher(ctx, js, cfg, logger)
	if err != nil {
		nc.Close()
		return nil, err
	}
	pub.closeConn = nc.Close
	logger.Info("Connected to NATS", "url", cfg.URL, "stream", cfg.Stream)
	return pub, nil
}

// JetStreamPublisher publishes events to a JetStream stream.
type JetStreamPublisher struct {
	js        JetStream
	cfg       Config
	logger    *slog.Logger
	closeConn func()
}

// NewPublisher ensures the stream exists and returns a publisher on it.
func NewPublisher(ctx context.Context, js JetStream, cfg Config, logger *slog.Logger) (*JetStreamPublisher, error) {
	if js == nil {
		return nil, fmt.Errorf("jetstream cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.Stream != "" {
		subjects := []string{cfg.Stream + ".>"}
		if cfg.SubjectPrefix != "" {
			subjects = []string{cfg.SubjectPrefix + ".>"}
		}
		_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
			Name:     cfg.Stream,
			Subjects: subjects,
			Storage:  jetstream.MemoryStorage,
			MaxAge:   24 * time.Hour,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to ensure stream: %w", err)
		}
	}

	return &JetStreamPublisher{js: js, cfg: cfg, logger: logger.With("component", "notify")}, nil
}

func (p *JetStreamPublisher) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	subject := ev.Subject(p.cfg.SubjectPrefix)
	var opts []jetstream.PublishOpt
	if p.cfg.RetryAttempts > 0 {
		opts = append(opts, jetstream.WithRetryAttempts(p.cfg.RetryAttempts))
	}
	if _, err := p.js.Publish(ctx, subject, data, opts...); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

func (p *JetStreamPublisher) Close() error {
	if p.closeConn != nil {
		p.logger.Info("Closing NATS connection...")
		p.closeConn()
		p.closeConn = nil
	}
	return nil
}
