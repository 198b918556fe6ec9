// Package events publishes transcript events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/yegors/interview-coach/internal/config"
	"github.com/yegors/interview-coach/internal/metrics"
	"github.com/yegors/interview-coach/internal/session"
	"github.com/yegors/interview-coach/internal/transcription"
	"github.com/yegors/interview-coach/pkg/logger"
)

// Event types
const (
	TypeEntry        = "transcript.entry"
	TypeSessionEnded = "session.ended"
)

const eventTypeHeader = "eventType"

// Event is the JSON payload written for every message
type Event struct {
	Type       string                `json:"type"`
	SessionID  string                `json:"session_id"`
	Timestamp  time.Time             `json:"timestamp"`
	Entry      *transcription.Entry  `json:"entry,omitempty"`
	Transcript []transcription.Entry `json:"transcript,omitempty"`
}

type writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes transcript events keyed by session id. When disabled it
// only logs the events.
type Publisher struct {
	writer  writer
	topic   string
	enabled bool
	metrics *metrics.Metrics
	logger  *logger.Logger
	now     func() time.Time

	closeOnce sync.Once
	closeErr  error
}

// New creates a publisher. The Kafka writer runs in async mode so that a
// publish returns as soon as the message is queued.
func New(cfg config.EventsConfig, m *metrics.Metrics, log *logger.Logger) *Publisher {
	if log == nil {
		log = logger.Nop()
	}
	if m == nil {
		m = metrics.DefaultMetrics
	}
	p := &Publisher{
		topic:   cfg.Topic,
		metrics: m,
		logger:  log.Named("events"),
		now:     time.Now,
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		p.logger.Info("Kafka disabled, using log-only mode")
		return p
	}

	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	p.writer = &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Completion:   p.completed,
		Transport:    &kafka.Transport{Dial: dialer.DialFunc},
	}
	p.enabled = true

	p.logger.Info("Kafka publisher initialized",
		logger.Strings("brokers", cfg.Brokers),
		logger.String("topic", cfg.Topic))
	return p
}

// Enabled reports whether events are written to Kafka
func (p *Publisher) Enabled() bool {
	return p.enabled
}

// PublishEntry publishes one finalized transcript entry
func (p *Publisher) PublishEntry(ctx context.Context, sessionID string, entry transcription.Entry) error {
	return p.publish(ctx, Event{
		Type:      TypeEntry,
		SessionID: sessionID,
		Timestamp: p.now(),
		Entry:     &entry,
	})
}

// PublishSessionEnded publishes the complete transcript of a finished session
func (p *Publisher) PublishSessionEnded(ctx context.Context, sessionID string, transcript []transcription.Entry) error {
	return p.publish(ctx, Event{
		Type:       TypeSessionEnded,
		SessionID:  sessionID,
		Timestamp:  p.now(),
		Transcript: transcript,
	})
}

func (p *Publisher) publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		p.metrics.RecordEvent(ev.Type, err)
		return fmt.Errorf("failed to marshal %s event: %w", ev.Type, err)
	}

	p.logger.Debug("Publishing event",
		logger.String("type", ev.Type),
		logger.String("session_id", ev.SessionID),
		logger.Int("size", len(payload)))

	if !p.enabled {
		p.metrics.RecordEvent(ev.Type, nil)
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(ev.SessionID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: eventTypeHeader, Value: []byte(ev.Type)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("Failed to write to Kafka",
			logger.Error(err),
			logger.String("type", ev.Type),
			logger.String("session_id", ev.SessionID))
		p.metrics.RecordEvent(ev.Type, err)
		return err
	}
	return nil
}

// completed is the async writer callback. Metrics for enabled publishers
// are recorded here once delivery is known.
func (p *Publisher) completed(msgs []kafka.Message, err error) {
	for _, msg := range msgs {
		eventType := headerValue(msg, eventTypeHeader)
		p.metrics.RecordEvent(eventType, err)
		if err != nil {
			p.logger.Warn("Kafka delivery failed",
				logger.Error(err),
				logger.String("type", eventType),
				logger.String("session_id", string(msg.Key)))
		}
	}
}

func headerValue(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

// Close flushes pending messages and closes the writer
func (p *Publisher) Close() error {
	p.closeOnce.Do(func() {
		if p.writer == nil {
			return
		}
		if err := p.writer.Close(); err != nil {
			p.logger.Error("Error closing Kafka writer", logger.Error(err))
			p.closeErr = err
		}
	})
	return p.closeErr
}

// Observer returns a session observer that publishes every finalized entry
func (p *Publisher) Observer() session.Observer {
	return entryObserver{p: p}
}

type entryObserver struct {
	p *Publisher
}

func (o entryObserver) OnStatus(string, session.State, string) {}

func (o entryObserver) OnLive(string, transcription.LiveText) {}

func (o entryObserver) OnEntries(sessionID string, entries []transcription.Entry) {
	for _, e := range entries {
		// Errors are logged and counted by publish
		_ = o.p.PublishEntry(context.Background(), sessionID, e)
	}
}
