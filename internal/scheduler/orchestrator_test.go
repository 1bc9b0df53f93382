// SPDX-License-Identifier: MIT

package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/videocatalog/videocatalog/internal/config"
)

type stubGate struct {
	ok     atomic.Bool
	reason string
}

func newStubGate(ok bool, reason string) *stubGate {
	g := &stubGate{reason: reason}
	g.ok.Store(ok)
	return g
}

func (g *stubGate) ReadyForJobs() (bool, string) { return g.ok.Load(), g.reason }

func testOrchestratorConfig() config.OrchestratorConfig {
	return config.OrchestratorConfig{
		Enable:       true,
		PollInterval: 10 * time.Millisecond,
		Concurrency: map[string]int{
			"heavy_ai_gpu": 1,
			"light_cpu":    1,
			"io_light":     1,
		},
		BackoffBase: 20 * time.Millisecond,
		BackoffMax:  100 * time.Millisecond,
		LeaseTTL:    time.Second,
		Heartbeat:   10 * time.Millisecond,
	}
}

func runOrchestrator(t *testing.T, o *Orchestrator) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = o.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return cancel
}

func waitForStatus(t *testing.T, store *Store, id int64, want Status) *Job {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		job, err := store.Job(context.Background(), id)
		require.NoError(t, err)
		if job.Status == want {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	job, _ := store.Job(context.Background(), id)
	t.Fatalf("job %d never reached %s (now %s)", id, want, job.Status)
	return nil
}

func TestOrchestratorRunsJobToCompletion(t *testing.T) {
	store := newTestStore(t)
	o := NewOrchestrator(store, testOrchestratorConfig(), newStubGate(true, ""))

	var calls atomic.Int64
	o.Register("warmup", func(ctx context.Context, job *Job, s *Store) error {
		calls.Add(1)
		return nil
	})

	job := enqueue(t, store, "warmup", ResourceLightCPU)
	runOrchestrator(t, o)

	done := waitForStatus(t, store, job.ID, StatusDone)
	assert.Equal(t, int64(1), calls.Load())
	assert.NotNil(t, done.EndedUTC)
}

func TestOrchestratorRetriesFailingJob(t *testing.T) {
	store := newTestStore(t)
	o := NewOrchestrator(store, testOrchestratorConfig(), nil)

	var calls atomic.Int64
	o.Register("flaky", func(ctx context.Context, job *Job, s *Store) error {
		if calls.Add(1) == 1 {
			return errors.New("transient")
		}
		return nil
	})

	job, err := store.Enqueue(context.Background(), EnqueueRequest{
		Kind: "flaky", Resource: ResourceIOLight, MaxAttempts: 3,
	})
	require.NoError(t, err)
	runOrchestrator(t, o)

	done := waitForStatus(t, store, job.ID, StatusDone)
	assert.Equal(t, int64(2), calls.Load())
	assert.Equal(t, 1, done.Attempts)
}

func TestOrchestratorFailsUnknownKind(t *testing.T) {
	store := newTestStore(t)
	o := NewOrchestrator(store, testOrchestratorConfig(), nil)

	job, err := store.Enqueue(context.Background(), EnqueueRequest{
		Kind: "mystery", Resource: ResourceIOLight, MaxAttempts: 1,
	})
	require.NoError(t, err)
	runOrchestrator(t, o)

	failed := waitForStatus(t, store, job.ID, StatusFailed)
	require.NotNil(t, failed.ErrorCode)
	assert.Equal(t, "unknown_kind", *failed.ErrorCode)
}

func TestOrchestratorPostponesWhenGPUGateClosed(t *testing.T) {
	store := newTestStore(t)
	gate := newStubGate(false, "policy off")
	o := NewOrchestrator(store, testOrchestratorConfig(), gate)

	var calls atomic.Int64
	o.Register("vectors_refresh", func(ctx context.Context, job *Job, s *Store) error {
		calls.Add(1)
		return nil
	})

	job := enqueue(t, store, "vectors_refresh", ResourceHeavyAIGPU)
	runOrchestrator(t, o)

	// Closed gate postpones without running the handler or counting attempts.
	deadline := time.Now().Add(time.Second)
	var postponed *Job
	for time.Now().Before(deadline) {
		j, err := store.Job(context.Background(), job.ID)
		require.NoError(t, err)
		if j.NotBeforeUTC != nil {
			postponed = j
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.NotNil(t, postponed, "job was never postponed")
	assert.Equal(t, StatusQueued, postponed.Status)
	assert.Zero(t, postponed.Attempts)
	assert.Zero(t, calls.Load())

	// Opening the gate lets the job through on a later poll.
	gate.ok.Store(true)
	done := waitForStatus(t, store, job.ID, StatusDone)
	assert.Equal(t, int64(1), calls.Load())
	assert.Zero(t, done.Attempts)
}

func TestOrchestratorCancellationStopsHandler(t *testing.T) {
	store := newTestStore(t)
	o := NewOrchestrator(store, testOrchestratorConfig(), nil)

	started := make(chan int64, 1)
	o.Register("slow", func(ctx context.Context, job *Job, s *Store) error {
		started <- job.ID
		<-ctx.Done()
		return ctx.Err()
	})

	job := enqueue(t, store, "slow", ResourceLightCPU)
	runOrchestrator(t, o)

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("handler never started")
	}
	require.NoError(t, store.Cancel(context.Background(), job.ID))

	cancelled := waitForStatus(t, store, job.ID, StatusCancelled)
	assert.Equal(t, StatusCancelled, cancelled.Status)
}
