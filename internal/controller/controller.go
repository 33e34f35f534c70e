// Package controller drives one remote job through its lifecycle by polling
// the backend, and reports every state change to listeners.
package controller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/pythia/internal/domain"
)

// DefaultPollInterval matches the cadence of the web client
const DefaultPollInterval = 1200 * time.Millisecond

// JobClient is the part of the backend the controller needs
type JobClient interface {
	CreateJob(ctx context.Context, upload domain.Upload) (domain.Job, error)
	GetStatus(ctx context.Context, jobID string) (domain.JobState, error)
}

// Event is a single state transition of the current job
type Event struct {
	JobID string          `json:"job_id"`
	From  domain.JobState `json:"from"`
	To    domain.JobState `json:"to"`
	Err   error           `json:"-"`
	At    time.Time       `json:"at"`
}

// Listener receives transitions. It is called synchronously from the polling
// goroutine and must not call CreateJob or Cancel.
type Listener func(Event)

// Config holds controller configuration
type Config struct {
	Client       JobClient
	PollInterval time.Duration
	Logger       *slog.Logger
	Listeners    []Listener
}

// task is the handle of one polling goroutine
type task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Controller owns the current job. Submitting a new job supersedes the
// previous one: its polling stops and anything it still reports is dropped.
type Controller struct {
	client    JobClient
	interval  time.Duration
	logger    *slog.Logger
	listeners []Listener

	// emitMu serializes state changes with listener delivery
	emitMu sync.Mutex

	mu      sync.Mutex
	gen     uint64
	job     domain.Job
	lastErr error
	task    *task
}

// New creates a controller in the Idle state
func New(cfg *Config) *Controller {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		client:    cfg.Client,
		interval:  interval,
		logger:    logger,
		listeners: append([]Listener(nil), cfg.Listeners...),
		job:       domain.Job{State: domain.JobStateIdle},
	}
}

// CreateJob submits a new job and starts polling it. Any previous job is
// superseded before the request is sent. A ValidationError is returned
// without contacting the backend.
func (c *Controller) CreateJob(ctx context.Context, upload domain.Upload) (domain.Job, error) {
	if err := upload.Validate(); err != nil {
		return domain.Job{}, err
	}

	gen := c.supersede()

	job, err := c.client.CreateJob(ctx, upload)
	if err != nil {
		c.logger.Error("Failed to create job",
			slog.Any("error", err),
		)
		return domain.Job{}, err
	}

	var failure error
	if job.State == domain.JobStateFailed {
		failure = &domain.JobFailedError{JobID: job.ID}
	}
	if !c.transition(gen, job.ID, job.State, failure) {
		c.logger.Info("Job superseded before creation returned",
			slog.String("job_id", job.ID),
		)
		return job, domain.ErrSuperseded
	}

	if job.State.IsTerminal() {
		return job, nil
	}

	pollCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	t := &task{cancel: cancel, done: make(chan struct{})}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		cancel()
		return job, domain.ErrSuperseded
	}
	c.task = t
	c.mu.Unlock()

	go c.poll(pollCtx, gen, job.ID, t)
	return job, nil
}

// supersede stops the current task and resets to Idle under a new generation
func (c *Controller) supersede() uint64 {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.task != nil {
		c.task.cancel()
		c.task = nil
	}
	c.gen++
	c.job = domain.Job{State: domain.JobStateIdle}
	c.lastErr = nil
	return c.gen
}

func (c *Controller) poll(ctx context.Context, gen uint64, jobID string, t *task) {
	defer close(t.done)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.logger.Debug("Polling started",
		slog.String("job_id", jobID),
		slog.Duration("interval", c.interval),
	)

	for {
		select {
		case <-ctx.Done():
			c.logger.Debug("Polling stopped - context canceled",
				slog.String("job_id", jobID),
			)
			return
		case <-ticker.C:
		}

		state, err := c.client.GetStatus(ctx, jobID)
		if ctx.Err() != nil {
			return
		}

		switch {
		case errors.Is(err, domain.ErrUnknownStatus):
			c.logger.Warn("Ignoring unknown job status",
				slog.String("job_id", jobID),
				slog.Any("error", err),
			)
			continue
		case err != nil:
			c.logger.Error("Failed to poll job status",
				slog.String("job_id", jobID),
				slog.Any("error", err),
			)
			c.finish(gen, jobID, domain.JobStateFailed, err)
			return
		case state == domain.JobStateFailed:
			c.finish(gen, jobID, state, &domain.JobFailedError{JobID: jobID})
			return
		}

		if state.IsTerminal() {
			c.finish(gen, jobID, state, nil)
			return
		}
		if !c.transition(gen, jobID, state, nil) {
			return
		}
	}
}

// finish applies a terminal state and releases the task handle
func (c *Controller) finish(gen uint64, jobID string, state domain.JobState, err error) {
	c.transition(gen, jobID, state, err)

	c.mu.Lock()
	if c.gen == gen && c.task != nil {
		c.task.cancel()
		c.task = nil
	}
	c.mu.Unlock()
}

// transition applies a state change for generation gen and delivers it.
// It returns false when gen is no longer current. Repeated and illegal
// states are dropped without an event.
func (c *Controller) transition(gen uint64, jobID string, to domain.JobState, err error) bool {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		c.logger.Debug("Dropping status of superseded job",
			slog.String("job_id", jobID),
			slog.String("status", string(to)),
		)
		return false
	}

	from := c.job.State
	if from == to {
		c.mu.Unlock()
		return true
	}
	if !from.CanTransitionTo(to) {
		c.mu.Unlock()
		c.logger.Warn("Ignoring illegal job transition",
			slog.String("job_id", jobID),
			slog.String("from", string(from)),
			slog.String("to", string(to)),
		)
		return true
	}

	c.job = domain.Job{ID: jobID, State: to}
	c.lastErr = err
	c.mu.Unlock()

	ev := Event{JobID: jobID, From: from, To: to, Err: err, At: time.Now()}

	attrs := []any{
		slog.String("job_id", jobID),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
	}
	if err != nil {
		attrs = append(attrs, slog.Any("error", err))
	}
	c.logger.Info("Job state changed", attrs...)

	for _, l := range c.listeners {
		l(ev)
	}
	return true
}

// CurrentState returns the state of the current job
func (c *Controller) CurrentState() domain.JobState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.job.State
}

// Job returns the current job. ID is empty while Idle.
func (c *Controller) Job() domain.Job {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.job
}

// Err returns the error that moved the current job to Failed, if any
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Polling reports whether a polling task is active
func (c *Controller) Polling() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.task != nil
}

// Cancel stops polling and discards anything the current job, or a create
// request still in flight, reports later. The last state is kept. Calling it
// again has no further effect.
func (c *Controller) Cancel() {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen++
	if c.task == nil {
		return
	}
	c.task.cancel()
	c.task = nil

	c.logger.Info("Polling canceled",
		slog.String("job_id", c.job.ID),
	)
}
