// Package worker is the Job Runner (SPEC_FULL §4.4): a bounded pool that
// picks up a submitted job, drives one internal/agentloop.Loop invocation,
// mirrors its event stream onto the Event Bus, checkpoints progress to the
// store, and on a terminal outcome applies the Notification Policy.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/simage-ai/convoengine/internal/agentloop"
	"github.com/simage-ai/convoengine/internal/bus"
	"github.com/simage-ai/convoengine/internal/notify"
	"github.com/simage-ai/convoengine/internal/store"
	"github.com/simage-ai/convoengine/internal/telemetry"
)

// Pool runs submitted jobs with bounded concurrency.
type Pool struct {
	store    *store.Store
	bus      bus.Bus
	notifier *notify.Notifier
	loop     *agentloop.Loop
	builder  Builder
	metrics  *telemetry.Metrics
	log      zerolog.Logger

	sem           chan struct{}
	taskTimeLimit time.Duration
	softTimeLimit time.Duration

	checkpointEvery time.Duration

	cancelMu sync.Mutex
	cancels  map[string]context.CancelFunc
}

// Builder assembles the agentloop.Input one job execution needs from the
// relational store; internal/resources.Builder is the concrete
// implementation used in production.
type Builder interface {
	Build(ctx context.Context, job *store.Job) (agentloop.Input, error)
}

// Config controls pool sizing and per-job time limits, mirroring the
// original Celery worker_concurrency / task_time_limit /
// task_soft_time_limit knobs (SPEC_FULL §4.4.2).
type Config struct {
	Concurrency       int
	TaskTimeLimit     time.Duration
	TaskSoftTimeLimit time.Duration
}

// New constructs a Pool. loop is shared and reentrant across concurrent
// jobs (it holds no per-invocation state).
func New(st *store.Store, b bus.Bus, notifier *notify.Notifier, loop *agentloop.Loop, builder Builder, metrics *telemetry.Metrics, log zerolog.Logger, cfg Config) *Pool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Pool{
		store: st, bus: b, notifier: notifier, loop: loop, builder: builder, metrics: metrics, log: log,
		sem:             make(chan struct{}, cfg.Concurrency),
		taskTimeLimit:   cfg.TaskTimeLimit,
		softTimeLimit:   cfg.TaskSoftTimeLimit,
		checkpointEvery: 2 * time.Second,
		cancels:         map[string]context.CancelFunc{},
	}
}

// Cancel aborts a job currently running in this pool by invoking its
// registered context.CancelFunc, which in turn closes the in-flight model
// stream (SPEC_FULL §5, §9). Reports whether a running job was found.
func (p *Pool) Cancel(jobID string) bool {
	p.cancelMu.Lock()
	cancel, ok := p.cancels[jobID]
	p.cancelMu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}

func (p *Pool) registerCancel(jobID string, cancel context.CancelFunc) {
	p.cancelMu.Lock()
	p.cancels[jobID] = cancel
	p.cancelMu.Unlock()
}

func (p *Pool) unregisterCancel(jobID string) {
	p.cancelMu.Lock()
	delete(p.cancels, jobID)
	p.cancelMu.Unlock()
}

// Submit enqueues jobID for execution, blocking only until a pool slot is
// free, not until the job finishes. Safe to call from an HTTP handler
// goroutine. Submitting the same jobID twice is safe: StartJob's CAS
// guard makes the second pickup an idempotent no-op (§4.4 "start is
// idempotent").
func (p *Pool) Submit(jobID string) {
	p.sem <- struct{}{}
	go func() {
		defer func() { <-p.sem }()
		p.run(jobID)
	}()
}

func (p *Pool) run(jobID string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if p.taskTimeLimit > 0 {
		var timeoutCancel context.CancelFunc
		ctx, timeoutCancel = context.WithTimeout(ctx, p.taskTimeLimit)
		defer timeoutCancel()
	}

	log := p.log.With().Str("job_id", jobID).Logger()

	job, err := p.store.GetJob(ctx, jobID)
	if err != nil {
		log.Error().Err(err).Msg("worker: load job failed")
		return
	}
	if job.Status.IsTerminal() {
		return
	}

	ok, err := p.store.StartJob(ctx, jobID)
	if err != nil {
		log.Error().Err(err).Msg("worker: start job failed")
		return
	}
	if !ok {
		// Already running (or raced into a terminal state) — idempotent no-op.
		return
	}
	job.Status = store.JobStatusRunning

	p.registerCancel(jobID, cancel)
	defer p.unregisterCancel(jobID)

	if p.softTimeLimit > 0 {
		timer := time.AfterFunc(p.softTimeLimit, func() {
			log.Warn().Dur("soft_limit", p.softTimeLimit).Msg("worker: job exceeded soft time limit, still running")
		})
		defer timer.Stop()
	}

	in, err := p.builder.Build(ctx, job)
	if err != nil {
		p.fail(ctx, job, err.Error(), log)
		return
	}

	var (
		lastCheckpoint time.Time
		unflushed      string
	)
	emit := func(e bus.Event) {
		if perr := p.bus.Publish(ctx, job.ProjectID, job.ID, e); perr != nil {
			log.Error().Err(perr).Str("kind", string(e.Kind)).Msg("worker: bus publish failed")
		}
		if e.Kind != bus.EventKindChunk {
			return
		}
		unflushed += e.Content
		if time.Since(lastCheckpoint) >= p.checkpointEvery {
			_ = p.store.AppendProgress(ctx, job.ID, unflushed)
			unflushed = ""
			lastCheckpoint = time.Now()
		}
	}

	result, err := p.loop.Run(ctx, in, emit)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			// cancelJob already CAS'd the job to cancelled and published its
			// own error(cancelled) event; FailJob's CAS would be a no-op here
			// anyway (store.go excludes cancelled jobs), so just stop.
			log.Info().Msg("worker: job cancelled")
			return
		}
		p.fail(ctx, job, err.Error(), log)
		return
	}

	sourcesJSON, _ := json.Marshal(result.Sources)
	toolCallsJSON, _ := json.Marshal(result.ToolCalls)
	_, ok, err = p.store.CompleteJob(ctx, job.ID, result.FinalText, sourcesJSON, toolCallsJSON, result.InputTokens, result.OutputTokens)
	if err != nil {
		log.Error().Err(err).Msg("worker: complete job failed")
		return
	}
	if !ok {
		return
	}
	p.metrics.JobsTotal.WithLabelValues("completed").Inc()

	completed, err := p.store.GetJob(ctx, job.ID)
	if err == nil && p.notifier != nil {
		if nerr := p.notifier.JobCompleted(ctx, completed); nerr != nil {
			log.Error().Err(nerr).Msg("worker: notify completed failed")
		}
	}
}

func (p *Pool) fail(ctx context.Context, job *store.Job, reason string, log zerolog.Logger) {
	log.Error().Str("reason", reason).Msg("worker: job failed")
	ok, err := p.store.FailJob(ctx, job.ID, reason)
	if err != nil {
		log.Error().Err(err).Msg("worker: persist failure failed")
		return
	}
	if !ok {
		return
	}
	p.metrics.JobsTotal.WithLabelValues("failed").Inc()
	_ = p.bus.Publish(ctx, job.ProjectID, job.ID, bus.Event{Kind: bus.EventKindError, Message: reason})

	failed, err := p.store.GetJob(ctx, job.ID)
	if err == nil && p.notifier != nil {
		if nerr := p.notifier.JobFailed(ctx, failed); nerr != nil {
			log.Error().Err(nerr).Msg("worker: notify failed failed")
		}
	}
}
