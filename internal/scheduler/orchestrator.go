// SPDX-License-Identifier: MIT

package scheduler

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/videocatalog/videocatalog/internal/config"
	"github.com/videocatalog/videocatalog/internal/fault"
	"github.com/videocatalog/videocatalog/internal/log"
)

// gpuLockName is the cross-kind resource lock arbitrating GPU access. It is
// distinct from jobs.lease_owner: the lock gates the device, the lease owns
// the job.
const gpuLockName = "gpu"

// Handler executes one job kind. It must honour ctx cancellation promptly
// and may save checkpoints through the store.
type Handler func(ctx context.Context, job *Job, store *Store) error

// GPUGate answers whether heavy_ai_gpu work may run right now. The gpu
// package provides the production implementation; a nil gate admits nothing.
type GPUGate interface {
	ReadyForJobs() (ok bool, reason string)
}

// Orchestrator runs N workers per resource class plus one lease reaper.
type Orchestrator struct {
	store    *Store
	cfg      config.OrchestratorConfig
	gate     GPUGate
	handlers map[string]Handler
	gateFile string
	logger   zerolog.Logger
}

func NewOrchestrator(store *Store, cfg config.OrchestratorConfig, gate GPUGate) *Orchestrator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 120 * time.Second
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 5 * time.Second
	}
	return &Orchestrator{
		store:    store,
		cfg:      cfg,
		gate:     gate,
		handlers: make(map[string]Handler),
		logger:   log.WithComponent("scheduler"),
	}
}

// Register binds a job kind to its handler. Not safe after Run has started.
func (o *Orchestrator) Register(kind string, h Handler) {
	o.handlers[kind] = h
}

// Store exposes the job store for enqueue/inspect callers (API, vector
// worker).
func (o *Orchestrator) Store() *Store { return o.store }

// SetGateFile makes workers stop leasing while path exists. Diagnostics sets
// the file after a failed smoke run and removes it once cleared.
func (o *Orchestrator) SetGateFile(path string) { o.gateFile = path }

func (o *Orchestrator) gated() bool {
	if o.gateFile == "" {
		return false
	}
	_, err := os.Stat(o.gateFile)
	return err == nil
}

// Run blocks until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, resource := range Resources {
		n := o.cfg.Concurrency[string(resource)]
		if n <= 0 {
			continue
		}
		for i := 0; i < n; i++ {
			owner := fmt.Sprintf("%s-%d", resource, i)
			resource := resource
			g.Go(func() error { return o.worker(ctx, resource, owner) })
		}
	}
	g.Go(func() error { return o.reaper(ctx) })

	o.logger.Info().Dur("poll", o.cfg.PollInterval).Dur("lease_ttl", o.cfg.LeaseTTL).
		Msg("orchestrator started")
	return g.Wait()
}

// worker repeatedly leases and executes jobs of one resource class.
func (o *Orchestrator) worker(ctx context.Context, resource Resource, owner string) error {
	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if o.gated() {
			continue
		}

		job, err := o.store.Lease(ctx, resource, owner)
		if err != nil {
			if ctx.Err() == nil {
				o.logger.Warn().Err(err).Str("worker", owner).Msg("lease failed")
			}
			continue
		}
		if job == nil {
			continue
		}
		o.execute(ctx, job, owner)
	}
}

// execute drives one leased job through the state machine.
func (o *Orchestrator) execute(ctx context.Context, job *Job, owner string) {
	logger := o.logger.With().Int64("job_id", job.ID).Str("kind", job.Kind).Str("worker", owner).Logger()

	if job.Resource == ResourceHeavyAIGPU {
		if ok, reason := o.gpuAdmit(ctx, owner); !ok {
			logger.Info().Str("reason", reason).Msg("gpu gate closed, postponing job")
			if err := o.store.Postpone(ctx, job.ID, owner, Backoff(job.Attempts+1, o.cfg.BackoffBase, o.cfg.BackoffMax), reason); err != nil {
				logger.Warn().Err(err).Msg("postpone failed")
			}
			return
		}
		defer func() {
			if err := o.store.ReleaseLock(ctx, gpuLockName, owner); err != nil {
				logger.Warn().Err(err).Msg("gpu lock release failed")
			}
		}()
	}

	handler, ok := o.handlers[job.Kind]
	if !ok {
		_ = o.store.Fail(ctx, job.ID, owner, "unknown_kind",
			fmt.Sprintf("no handler for kind %q", job.Kind), Backoff(job.Attempts+1, o.cfg.BackoffBase, o.cfg.BackoffMax))
		metricJobsFailed.WithLabelValues(job.Kind).Inc()
		return
	}

	if err := o.store.Start(ctx, job.ID, owner); err != nil {
		logger.Warn().Err(err).Msg("start failed, lease lost")
		return
	}

	// Heartbeat loop doubles as the cancellation observer.
	jobCtx, cancelJob := context.WithCancel(ctx)
	defer cancelJob()
	hbDone := make(chan struct{})
	go func() {
		defer close(hbDone)
		ticker := time.NewTicker(o.cfg.Heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-jobCtx.Done():
				return
			case <-ticker.C:
				status, err := o.store.Heartbeat(jobCtx, job.ID, owner)
				if err != nil {
					continue
				}
				if status == StatusCancelled {
					logger.Info().Msg("cancellation observed, stopping job")
					cancelJob()
					return
				}
			}
		}
	}()

	started := time.Now()
	err := handler(jobCtx, job, o.store)
	cancelJob()
	<-hbDone
	metricJobDuration.WithLabelValues(job.Kind).Observe(time.Since(started).Seconds())

	if err != nil {
		// A cancelled job keeps its terminal status; everything else counts
		// an attempt.
		if current, jerr := o.store.Job(ctx, job.ID); jerr == nil && current.Status == StatusCancelled {
			logger.Info().Msg("job cancelled")
			return
		}
		backoff := Backoff(job.Attempts+1, o.cfg.BackoffBase, o.cfg.BackoffMax)
		if ferr := o.store.Fail(ctx, job.ID, owner, "handler_error", err.Error(), backoff); ferr != nil {
			logger.Warn().Err(ferr).Msg("fail transition lost")
		}
		metricJobsFailed.WithLabelValues(job.Kind).Inc()
		logger.Warn().Err(err).Int("attempts", job.Attempts+1).Dur("backoff", backoff).Msg("job failed")
		return
	}

	if cerr := o.store.Complete(ctx, job.ID, owner); cerr != nil {
		logger.Warn().Err(cerr).Msg("complete transition lost")
		return
	}
	metricJobsCompleted.WithLabelValues(job.Kind).Inc()
	logger.Info().Msg("job done")
}

// gpuAdmit checks policy/VRAM readiness and takes the cross-kind GPU lock.
func (o *Orchestrator) gpuAdmit(ctx context.Context, owner string) (bool, string) {
	if o.gate == nil {
		return false, "no gpu gate configured"
	}
	ok, reason := o.gate.ReadyForJobs()
	if !ok {
		return false, reason
	}
	got, err := o.store.AcquireLock(ctx, gpuLockName, owner, o.cfg.LeaseTTL)
	if err != nil {
		return false, fault.MessageOf(err)
	}
	if !got {
		return false, "gpu busy"
	}
	return true, ""
}

// reaper periodically returns expired leases to the queue.
func (o *Orchestrator) reaper(ctx context.Context) error {
	interval := o.cfg.Heartbeat
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := o.store.Reap(ctx, o.cfg.LeaseTTL)
			if err != nil {
				if ctx.Err() == nil {
					o.logger.Warn().Err(err).Msg("lease reap failed")
				}
				continue
			}
			if n > 0 {
				metricJobsReaped.Add(float64(n))
				o.logger.Info().Int64("reclaimed", n).Msg("expired leases returned to queue")
			}
		}
	}
}
