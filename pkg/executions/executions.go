// Package executions runs the pipeline one execution at a time, and keeps
// records of recent executions.
package executions

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	xe "github.com/AlexandreManai/ML-pipeline/pkg/errors"
	"github.com/AlexandreManai/ML-pipeline/pkg/logs"
	"github.com/AlexandreManai/ML-pipeline/pkg/orchestration"
	"github.com/AlexandreManai/ML-pipeline/pkg/pipeline"
	"github.com/AlexandreManai/ML-pipeline/pkg/runlock"
)

type Status string

const (
	Running Status = "running"
	Done    Status = "done"
	Failed  Status = "failed"
)

func (s Status) String() string {
	return string(s)
}

// Record is an execution seen by a Manager.
type Record struct {
	ID        string
	Status    Status
	StartedAt time.Time

	// FinishedAt is nil while running.
	FinishedAt *time.Time

	// Stages are the latest states of stages.
	Stages map[string]orchestration.State

	// Result is filled when the execution has finished.
	Result pipeline.Result
	Err    error
}

func (r *Record) copy() Record {
	ret := *r
	ret.Stages = make(map[string]orchestration.State, len(r.Stages))
	for k, v := range r.Stages {
		ret.Stages[k] = v
	}
	if r.FinishedAt != nil {
		f := *r.FinishedAt
		ret.FinishedAt = &f
	}
	return ret
}

// Pipeline runs one execution.
type Pipeline interface {
	Run(ctx context.Context, executionID string) (pipeline.Result, error)
}

const DefaultHistory = 50

// Manager starts executions under Lock.
//
// Observe should receive stage events of Pipeline, to track stages of the running execution.
type Manager struct {
	Pipeline Pipeline
	Lock     runlock.Locker

	// NewID makes execution ids. uuid.NewString when nil.
	NewID func() string

	// History is how many records are kept. DefaultHistory when 0.
	History int

	Logger *log.Logger
	Now    func() time.Time

	mu      sync.Mutex
	current *Record
	records map[string]*Record
	order   []string
}

func (m *Manager) logger() *log.Logger {
	if m.Logger == nil {
		return logs.Discard()
	}
	return m.Logger
}

func (m *Manager) now() time.Time {
	if m.Now == nil {
		return time.Now()
	}
	return m.Now()
}

func (m *Manager) newID() string {
	if m.NewID == nil {
		return uuid.NewString()
	}
	return m.NewID()
}

// Observe records a stage event on the running execution.
func (m *Manager) Observe(ev orchestration.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return
	}
	m.current.Stages[ev.Node] = ev.State
}

// begin takes the lock and records a new running execution.
func (m *Manager) begin(ctx context.Context) (*Record, runlock.Lock, error) {
	lock, err := m.Lock.TryLock(ctx)
	if err != nil {
		return nil, nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.records == nil {
		m.records = map[string]*Record{}
	}
	rec := &Record{
		ID:        m.newID(),
		Status:    Running,
		StartedAt: m.now(),
		Stages:    map[string]orchestration.State{},
	}
	m.current = rec
	m.records[rec.ID] = rec
	m.order = append(m.order, rec.ID)

	history := m.History
	if history <= 0 {
		history = DefaultHistory
	}
	for history < len(m.order) {
		delete(m.records, m.order[0])
		m.order = m.order[1:]
	}
	return rec, lock, nil
}

func (m *Manager) execute(ctx context.Context, rec *Record, lock runlock.Lock) (Record, error) {
	defer func() {
		if err := lock.Unlock(context.WithoutCancel(ctx)); err != nil {
			m.logger().Printf("failed to unlock after execution %s: %s", rec.ID, err)
		}
	}()

	result, err := m.Pipeline.Run(ctx, rec.ID)

	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	rec.FinishedAt = &now
	rec.Result = result
	rec.Err = err
	rec.Status = Done
	if err != nil {
		rec.Status = Failed
	}
	for id, s := range result.Report.States {
		rec.Stages[id] = s
	}
	if m.current == rec {
		m.current = nil
	}
	return rec.copy(), err
}

// Run executes the pipeline and waits for it.
//
// It returns runlock.ErrLocked without running when another execution is in flight.
// Otherwise, the error is the one of the execution.
func (m *Manager) Run(ctx context.Context) (Record, error) {
	rec, lock, err := m.begin(ctx)
	if err != nil {
		return Record{}, xe.Wrap(err)
	}
	m.logger().Printf("execution %s started", rec.ID)
	return m.execute(ctx, rec, lock)
}

// Start executes the pipeline in background, and returns the running record.
//
// The execution runs until ctx is done. Failures of the execution are logged.
func (m *Manager) Start(ctx context.Context) (Record, error) {
	rec, lock, err := m.begin(ctx)
	if err != nil {
		return Record{}, xe.Wrap(err)
	}
	m.logger().Printf("execution %s started", rec.ID)

	m.mu.Lock()
	started := rec.copy()
	m.mu.Unlock()

	go func() {
		if r, err := m.execute(ctx, rec, lock); err != nil {
			m.logger().Printf("execution %s failed: %s", r.ID, err)
		}
	}()
	return started, nil
}

// Get returns the record of an execution. Old records are forgotten.
func (m *Manager) Get(id string) (Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return Record{}, false
	}
	return rec.copy(), true
}

// List returns kept records, newest first.
func (m *Manager) List() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	ret := make([]Record, 0, len(m.order))
	for i := len(m.order) - 1; 0 <= i; i-- {
		ret = append(ret, m.records[m.order[i]].copy())
	}
	return ret
}
