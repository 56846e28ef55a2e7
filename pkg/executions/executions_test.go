package executions_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/AlexandreManai/ML-pipeline/pkg/domain"
	"github.com/AlexandreManai/ML-pipeline/pkg/executions"
	"github.com/AlexandreManai/ML-pipeline/pkg/loop/recurring"
	"github.com/AlexandreManai/ML-pipeline/pkg/orchestration"
	"github.com/AlexandreManai/ML-pipeline/pkg/pipeline"
	"github.com/AlexandreManai/ML-pipeline/pkg/promotion"
	"github.com/AlexandreManai/ML-pipeline/pkg/runlock"
	"github.com/AlexandreManai/ML-pipeline/pkg/utils/try"
)

type pipelineFunc func(ctx context.Context, id string) (pipeline.Result, error)

func (f pipelineFunc) Run(ctx context.Context, id string) (pipeline.Result, error) {
	return f(ctx, id)
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n += 1
		return fmt.Sprintf("exec-%d", n)
	}
}

// eventually polls cond until it holds, or fails t after timeout.
func eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout: %s", msg)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestManager_Run(t *testing.T) {
	ctx := context.Background()

	t.Run("it records a finished execution", func(t *testing.T) {
		m := &executions.Manager{
			Lock:  &runlock.Local{},
			NewID: sequentialIDs(),
		}
		m.Pipeline = pipelineFunc(func(ctx context.Context, id string) (pipeline.Result, error) {
			if id != "exec-1" {
				t.Errorf("id: actual=%s, expect=exec-1", id)
			}
			m.Observe(orchestration.Event{Node: "ingest_data", State: orchestration.Running})

			running, ok := m.Get(id)
			if !ok {
				t.Fatalf("running execution %s is not recorded", id)
			}
			if running.Status != executions.Running || running.FinishedAt != nil {
				t.Errorf("running record: actual=%+v, expect=running and not finished", running)
			}
			if s := running.Stages["ingest_data"]; s != orchestration.Running {
				t.Errorf("stage: actual=%s, expect=%s", s, orchestration.Running)
			}

			return pipeline.Result{
				ExecutionID: id,
				Report: orchestration.Report{States: map[string]orchestration.State{
					"ingest_data": orchestration.Succeeded,
					"finalize":    orchestration.Succeeded,
				}},
				Decision: domain.Promote,
			}, nil
		})

		rec := try.To(m.Run(ctx)).OrFatal(t)
		if rec.ID != "exec-1" || rec.Status != executions.Done {
			t.Errorf("record: actual=%s %s, expect=exec-1 %s", rec.ID, rec.Status, executions.Done)
		}
		if rec.FinishedAt == nil {
			t.Error("FinishedAt is not set")
		}
		if rec.Result.Decision != domain.Promote {
			t.Errorf("decision: actual=%s, expect=%s", rec.Result.Decision, domain.Promote)
		}
		expectedStages := map[string]orchestration.State{
			"ingest_data": orchestration.Succeeded,
			"finalize":    orchestration.Succeeded,
		}
		if !cmp.Equal(rec.Stages, expectedStages) {
			t.Errorf("stages: actual=%v, expect=%v", rec.Stages, expectedStages)
		}

		got, ok := m.Get("exec-1")
		if !ok {
			t.Fatal("exec-1 is not recorded")
		}
		if !cmp.Equal(got, rec) {
			t.Errorf("recorded:\n%s", cmp.Diff(rec, got))
		}

		m.Observe(orchestration.Event{Node: "ingest_data", State: orchestration.Failed})
		got, _ = m.Get("exec-1")
		if s := got.Stages["ingest_data"]; s != orchestration.Succeeded {
			t.Errorf("finished records should not change: actual=%s, expect=%s", s, orchestration.Succeeded)
		}
	})

	t.Run("a failed execution is recorded as failed", func(t *testing.T) {
		failure := errors.New("fake failure")
		m := &executions.Manager{
			Lock:  &runlock.Local{},
			NewID: sequentialIDs(),
			Pipeline: pipelineFunc(func(ctx context.Context, id string) (pipeline.Result, error) {
				return pipeline.Result{ExecutionID: id}, failure
			}),
		}
		rec, err := m.Run(ctx)
		if !errors.Is(err, failure) {
			t.Errorf("error: actual=%v, expect=%v", err, failure)
		}
		if rec.Status != executions.Failed || !errors.Is(rec.Err, failure) {
			t.Errorf("record: actual=%s (%v), expect=%s (%v)", rec.Status, rec.Err, executions.Failed, failure)
		}

		// the lock should be released after a failure.
		if _, err := m.Run(ctx); !errors.Is(err, failure) {
			t.Errorf("second run: actual=%v, expect=%v", err, failure)
		}
	})

	t.Run("it does not run while another execution holds the lock", func(t *testing.T) {
		lock := &runlock.Local{}
		held := try.To(lock.TryLock(ctx)).OrFatal(t)
		defer held.Unlock(ctx)

		m := &executions.Manager{
			Lock: lock,
			Pipeline: pipelineFunc(func(ctx context.Context, id string) (pipeline.Result, error) {
				panic("it should not be called")
			}),
		}
		if _, err := m.Run(ctx); !errors.Is(err, runlock.ErrLocked) {
			t.Errorf("error: actual=%v, expect=%v", err, runlock.ErrLocked)
		}
		if l := m.List(); len(l) != 0 {
			t.Errorf("records: actual=%+v, expect=none", l)
		}
	})

	t.Run("old records are forgotten", func(t *testing.T) {
		m := &executions.Manager{
			Lock:    &runlock.Local{},
			NewID:   sequentialIDs(),
			History: 2,
			Pipeline: pipelineFunc(func(ctx context.Context, id string) (pipeline.Result, error) {
				return pipeline.Result{ExecutionID: id}, nil
			}),
		}
		for range 3 {
			try.To(m.Run(ctx)).OrFatal(t)
		}
		if _, ok := m.Get("exec-1"); ok {
			t.Error("exec-1 should be forgotten")
		}

		ids := []string{}
		for _, r := range m.List() {
			ids = append(ids, r.ID)
		}
		if expected := []string{"exec-3", "exec-2"}; !cmp.Equal(ids, expected) {
			t.Errorf("ids: actual=%v, expect=%v", ids, expected)
		}
	})
}

func TestManager_Start(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	release := make(chan struct{})
	finished := make(chan struct{})
	m := &executions.Manager{
		Lock:  &runlock.Local{},
		NewID: sequentialIDs(),
	}
	m.Pipeline = pipelineFunc(func(ctx context.Context, id string) (pipeline.Result, error) {
		defer close(finished)
		select {
		case <-release:
		case <-ctx.Done():
			return pipeline.Result{}, ctx.Err()
		}
		return pipeline.Result{ExecutionID: id, Decision: domain.Keep}, nil
	})

	started := try.To(m.Start(ctx)).OrFatal(t)
	if started.ID != "exec-1" || started.Status != executions.Running {
		t.Errorf("started: actual=%s %s, expect=exec-1 %s", started.ID, started.Status, executions.Running)
	}

	if _, err := m.Start(ctx); !errors.Is(err, runlock.ErrLocked) {
		t.Errorf("error: actual=%v, expect=%v", err, runlock.ErrLocked)
	}

	close(release)
	select {
	case <-finished:
	case <-ctx.Done():
		t.Fatal("execution did not finish")
	}

	eventually(t, 5*time.Second, func() bool {
		rec, ok := m.Get("exec-1")
		return ok && rec.Status == executions.Done
	}, "the execution should be done")

	rec, _ := m.Get("exec-1")
	if rec.Result.Decision != domain.Keep {
		t.Errorf("decision: actual=%s, expect=%s", rec.Result.Decision, domain.Keep)
	}

	eventually(t, 5*time.Second, func() bool {
		l, err := m.Lock.TryLock(ctx)
		if err != nil {
			return false
		}
		l.Unlock(ctx)
		return true
	}, "the lock should be released")
}

func TestSchedule(t *testing.T) {
	ctx := context.Background()
	logger := log.New(io.Discard, "", 0)

	expectTally := func(t *testing.T, actual executions.Tally, expected executions.Tally) {
		t.Helper()
		if actual != expected {
			t.Errorf("tally: actual=%+v, expect=%+v", actual, expected)
		}
	}

	t.Run("once runs an execution", func(t *testing.T) {
		m := &executions.Manager{
			Lock: &runlock.Local{},
			Pipeline: pipelineFunc(func(ctx context.Context, id string) (pipeline.Result, error) {
				return pipeline.Result{ExecutionID: id, Promotion: &promotion.Result{}}, nil
			}),
		}
		tally := try.To(executions.Schedule(ctx, logger, m, recurring.Once(), 0)).OrFatal(t)
		expectTally(t, tally, executions.Tally{Executions: 1, Promoted: 1})
	})

	t.Run("stage failures do not stop a forever schedule, but registry failures do", func(t *testing.T) {
		n := 0
		m := &executions.Manager{
			Lock: &runlock.Local{},
			Pipeline: pipelineFunc(func(ctx context.Context, id string) (pipeline.Result, error) {
				n += 1
				switch n {
				case 1:
					return pipeline.Result{}, &orchestration.StageFailed{
						Stage: "search_hyperparameters", Err: domain.ErrSearchExhausted,
					}
				case 2:
					return pipeline.Result{ExecutionID: id}, nil
				default:
					return pipeline.Result{}, &orchestration.StageFailed{
						Stage: "promote_model",
						Err:   domain.RegistryOperationFailed{Op: "transition", Model: "churn", Version: 2, Err: errors.New("fake")},
					}
				}
			}),
		}
		tally, err := executions.Schedule(ctx, logger, m, recurring.Forever(0), 0)
		if !errors.Is(err, domain.ErrRegistryOperationFailed) {
			t.Errorf("error: actual=%v, expect=%v", err, domain.ErrRegistryOperationFailed)
		}
		expectTally(t, tally, executions.Tally{Executions: 3, Failed: 2})
	})

	t.Run("a turn is skipped while another execution is in flight", func(t *testing.T) {
		lock := &runlock.Local{}
		held := try.To(lock.TryLock(ctx)).OrFatal(t)
		defer held.Unlock(ctx)

		m := &executions.Manager{
			Lock: lock,
			Pipeline: pipelineFunc(func(ctx context.Context, id string) (pipeline.Result, error) {
				panic("it should not be called")
			}),
		}
		tally := try.To(executions.Schedule(ctx, logger, m, recurring.Once(), 0)).OrFatal(t)
		expectTally(t, tally, executions.Tally{Skipped: 1})
	})

	t.Run("an execution is cancelled on timeout", func(t *testing.T) {
		m := &executions.Manager{
			Lock: &runlock.Local{},
			Pipeline: pipelineFunc(func(ctx context.Context, id string) (pipeline.Result, error) {
				<-ctx.Done()
				return pipeline.Result{ExecutionID: id}, ctx.Err()
			}),
		}
		tally, err := executions.Schedule(ctx, logger, m, recurring.Once(), 10*time.Millisecond)
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("error: actual=%v, expect=%v", err, context.DeadlineExceeded)
		}
		expectTally(t, tally, executions.Tally{Executions: 1, Failed: 1})
	})

	t.Run("IsFatal", func(t *testing.T) {
		theory := func(err error, fatal bool) func(*testing.T) {
			return func(t *testing.T) {
				if actual := executions.IsFatal(err); actual != fatal {
					t.Errorf("IsFatal(%v): actual=%v, expect=%v", err, actual, fatal)
				}
			}
		}
		t.Run("no production version", theory(fmt.Errorf("wrapped: %w", domain.ErrNoProductionVersion), true))
		t.Run("registry operation failed", theory(domain.ErrRegistryOperationFailed, true))
		t.Run("search exhausted", theory(domain.ErrSearchExhausted, false))
		t.Run("locked", theory(runlock.ErrLocked, false))
	})
}
