// Package events publishes job transitions to a message exchange. Delivery is
// best-effort and never blocks the polling goroutine.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/pythia/internal/controller"
	"github.com/cuongbtq/pythia/internal/domain"
	"github.com/goccy/go-json"
)

const contentType = "application/json"

// Publisher sends one message to the exchange
type Publisher interface {
	PublishWithRetry(ctx context.Context, routingKey string, body []byte, contentType string) error
}

// Message is the wire form of a transition
type Message struct {
	SessionID string          `json:"session_id,omitempty"`
	JobID     string          `json:"job_id"`
	From      domain.JobState `json:"from"`
	To        domain.JobState `json:"to"`
	Error     string          `json:"error,omitempty"`
	At        time.Time       `json:"at"`
}

// RoutingKey returns job.<state>
func RoutingKey(state domain.JobState) string {
	return "job." + string(state)
}

// NewMessage converts a controller event
func NewMessage(sessionID string, ev controller.Event) Message {
	m := Message{
		SessionID: sessionID,
		JobID:     ev.JobID,
		From:      ev.From,
		To:        ev.To,
		At:        ev.At.UTC(),
	}
	if ev.Err != nil {
		m.Error = ev.Err.Error()
	}
	return m
}

// Decode parses a message body
func Decode(body []byte) (Message, error) {
	var m Message
	err := json.Unmarshal(body, &m)
	return m, err
}

// Config holds emitter configuration
type Config struct {
	Publisher      Publisher
	Logger         *slog.Logger
	BufferSize     int
	PublishTimeout time.Duration
}

// Emitter queues transitions and publishes them from its own goroutine
type Emitter struct {
	publisher Publisher
	logger    *slog.Logger
	timeout   time.Duration
	queue     chan Message
	stopChan  chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewEmitter creates an emitter. Call Start before events are produced.
func NewEmitter(cfg *Config) *Emitter {
	size := cfg.BufferSize
	if size <= 0 {
		size = 64
	}
	timeout := cfg.PublishTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{
		publisher: cfg.Publisher,
		logger:    logger,
		timeout:   timeout,
		queue:     make(chan Message, size),
		stopChan:  make(chan struct{}),
	}
}

// Listener returns a controller listener for one session that enqueues
// without blocking. When the buffer is full the event is dropped.
func (e *Emitter) Listener(sessionID string) controller.Listener {
	return func(ev controller.Event) {
		msg := NewMessage(sessionID, ev)
		select {
		case e.queue <- msg:
		default:
			e.logger.Warn("Event buffer full, dropping transition",
				slog.String("job_id", msg.JobID),
				slog.String("to", string(msg.To)),
			)
		}
	}
}

// Start runs the publishing loop until ctx is done or Stop is called
func (e *Emitter) Start(ctx context.Context) {
	e.wg.Add(1)
	go e.loop(ctx)
}

func (e *Emitter) loop(ctx context.Context) {
	defer e.wg.Done()

	e.logger.Info("Event emitter started")

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Event emitter stopped - context canceled")
			return
		case <-e.stopChan:
			e.drain(ctx)
			e.logger.Info("Event emitter stopped")
			return
		case msg := <-e.queue:
			e.publish(ctx, msg)
		}
	}
}

// drain publishes what is already queued
func (e *Emitter) drain(ctx context.Context) {
	for {
		select {
		case msg := <-e.queue:
			e.publish(ctx, msg)
		default:
			return
		}
	}
}

func (e *Emitter) publish(ctx context.Context, msg Message) {
	body, err := json.Marshal(msg)
	if err != nil {
		e.logger.Error("Failed to encode transition",
			slog.String("job_id", msg.JobID),
			slog.Any("error", err),
		)
		return
	}

	pctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	if err := e.publisher.PublishWithRetry(pctx, RoutingKey(msg.To), body, contentType); err != nil {
		e.logger.Error("Failed to publish transition",
			slog.String("job_id", msg.JobID),
			slog.String("to", string(msg.To)),
			slog.Any("error", err),
		)
	}
}

// Stop flushes queued events and waits for the loop to exit
func (e *Emitter) Stop() {
	e.stopOnce.Do(func() {
		close(e.stopChan)
	})
	e.wg.Wait()
}
