package orchestration

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	xe "github.com/AlexandreManai/ML-pipeline/pkg/errors"
	"github.com/AlexandreManai/ML-pipeline/pkg/logs"
	"github.com/AlexandreManai/ML-pipeline/pkg/utils/retry"
)

// State is a state of a node in an execution.
type State string

const (
	Pending        State = "pending"
	Running        State = "running"
	Succeeded      State = "succeeded"
	Failed         State = "failed"
	Skipped        State = "skipped"
	UpstreamFailed State = "upstream_failed"
)

func (s State) String() string {
	return string(s)
}

func (s State) Terminal() bool {
	switch s {
	case Succeeded, Failed, Skipped, UpstreamFailed:
		return true
	}
	return false
}

// Branch is an output of a node choosing which children run.
//
// Children not in Follow() are skipped, except those with AllDone.
type Branch interface {
	Follow() []string
}

// Inputs are outputs of succeeded ancestors of a node, keyed by node id.
type Inputs map[string]any

// Input takes the output of node id as T.
func Input[T any](in Inputs, id string) (T, error) {
	var zero T
	v, ok := in[id]
	if !ok {
		return zero, fmt.Errorf("%w: %s", ErrMissingInput, id)
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: output of %s is %T, not %T", ErrMissingInput, id, v, zero)
	}
	return t, nil
}

var ErrMissingInput = errors.New("input is not available")

type permanent struct {
	err error
}

func (p *permanent) Error() string {
	return p.err.Error()
}

func (p *permanent) Unwrap() error {
	return p.err
}

// Permanent marks err not to be retried.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanent{err: err}
}

// IsPermanent reports whether err is marked by Permanent.
func IsPermanent(err error) bool {
	p := new(permanent)
	return errors.As(err, &p)
}

// StageFailed is the error of an execution where a node has failed.
type StageFailed struct {
	Stage string
	Err   error
}

func (s *StageFailed) Error() string {
	return fmt.Sprintf("stage %s failed: %s", s.Stage, s.Err)
}

func (s *StageFailed) Unwrap() error {
	return s.Err
}

// Event is a state change of a node.
type Event struct {
	Node    string
	State   State
	Attempt int

	// Err is set for Failed, and for a Running retry after a failure.
	Err error
}

// Report is a result of an execution.
type Report struct {
	States   map[string]State
	Outputs  map[string]any
	Errors   map[string]error
	Attempts map[string]int

	// Order is the order nodes reached terminal states.
	Order []string
}

// Ran reports whether the node has run, successfully or not.
func (r Report) Ran(id string) bool {
	return 0 < r.Attempts[id]
}

// Executor runs Graphs.
type Executor struct {
	// Retries is the default number of retries for a failed node.
	Retries int

	// RetryDelay is the default wait before a retry.
	RetryDelay time.Duration

	Logger *log.Logger

	// Observe is called on each state change. Calls are serialized.
	Observe func(Event)
}

type execution struct {
	*Executor
	g         *Graph
	logger    *log.Logger
	ancestors map[string][]string
	report    Report

	mu sync.Mutex
}

// Run executes all nodes of g.
//
// Nodes are run wave by wave: every node which is ready in a wave runs in parallel.
// A failure of a node does not stop the others. Nodes with AllDone run even when
// upstream nodes have failed, and even when ctx is cancelled.
//
// It returns *StageFailed for the first failed node in topological order.
// The report is complete even if the error is not nil.
func (e *Executor) Run(ctx context.Context, g *Graph) (Report, error) {
	order, err := g.Order()
	if err != nil {
		return Report{}, err
	}

	x := &execution{
		Executor:  e,
		g:         g,
		logger:    e.Logger,
		ancestors: map[string][]string{},
		report: Report{
			States:   map[string]State{},
			Outputs:  map[string]any{},
			Errors:   map[string]error{},
			Attempts: map[string]int{},
		},
	}
	if x.logger == nil {
		x.logger = logs.Discard()
	}

	for _, id := range order {
		x.report.States[id] = Pending
		seen := map[string]struct{}{}
		anc := []string{}
		for _, d := range g.nodes[id].Deps {
			for _, a := range append(append([]string{}, x.ancestors[d]...), d) {
				if _, ok := seen[a]; ok {
					continue
				}
				seen[a] = struct{}{}
				anc = append(anc, a)
			}
		}
		x.ancestors[id] = anc
	}

	for {
		wave := x.resolve(order)
		if len(wave) == 0 {
			break
		}

		inputs := make([]Inputs, len(wave))
		for i, id := range wave {
			inputs[i] = x.inputs(id)
			x.set(id, Running, 1, nil)
		}

		results := make([]attempt, len(wave))
		eg := new(errgroup.Group)
		for i, id := range wave {
			eg.Go(func() error {
				results[i] = x.run(ctx, g.nodes[id], inputs[i])
				return nil
			})
		}
		eg.Wait()

		for i, id := range wave {
			x.finish(id, results[i])
		}
	}

	for _, id := range order {
		if s := x.report.States[id]; !s.Terminal() {
			return x.report, xe.Wrap(fmt.Errorf("node %s is left %s", id, s))
		}
	}
	for _, id := range order {
		if x.report.States[id] == Failed {
			return x.report, &StageFailed{Stage: id, Err: x.report.Errors[id]}
		}
	}
	return x.report, nil
}

// resolve settles pending nodes which do not need to run, and returns nodes to run now.
func (x *execution) resolve(order []string) []string {
	for {
		wave := []string{}
		settled := false
		for _, id := range order {
			if x.report.States[id] != Pending {
				continue
			}
			n := x.g.nodes[id]

			ready := true
			failedUp, skippedUp := false, false
			for _, d := range n.Deps {
				switch x.report.States[d] {
				case Failed, UpstreamFailed:
					failedUp = true
				case Skipped:
					skippedUp = true
				case Succeeded:
				default:
					ready = false
				}
			}
			if !ready {
				continue
			}

			if n.trigger() == AllSuccess {
				if failedUp {
					x.settle(id, UpstreamFailed)
					settled = true
					continue
				}
				if skippedUp {
					x.settle(id, Skipped)
					settled = true
					continue
				}
			}
			wave = append(wave, id)
		}
		if !settled || 0 < len(wave) {
			return wave
		}
	}
}

func (x *execution) settle(id string, s State) {
	x.set(id, s, 0, nil)
	x.report.Order = append(x.report.Order, id)
	x.logger.Printf("[%s] %s", id, s)
}

func (x *execution) inputs(id string) Inputs {
	in := Inputs{}
	for _, a := range x.ancestors[id] {
		if x.report.States[a] != Succeeded {
			continue
		}
		in[a] = x.report.Outputs[a]
	}
	return in
}

type attempt struct {
	value    any
	err      error
	attempts int
}

func (x *execution) run(ctx context.Context, n *Node, in Inputs) attempt {
	retries := x.Retries
	if 0 < n.Retries {
		retries = n.Retries
	}
	if n.NoRetry || retries < 0 {
		retries = 0
	}
	delay := x.RetryDelay
	if 0 < n.RetryDelay {
		delay = n.RetryDelay
	}

	if n.trigger() == AllDone {
		// finalizers run to completion even after the execution is cancelled.
		ctx = context.WithoutCancel(ctx)
	}
	backoff := retry.StaticBackoff(delay)

	var last error
	for i := 1; ; i++ {
		if 1 < i {
			x.set(n.ID, Running, i, last)
		}
		if err := ctx.Err(); err != nil {
			return attempt{err: err, attempts: i - 1}
		}

		x.logger.Printf("[%s] start (attempt %d/%d)", n.ID, i, retries+1)
		started := time.Now()
		v, err := call(ctx, n, in)
		if err == nil {
			x.logger.Printf("[%s] succeeded (takes %s)", n.ID, time.Since(started))
			return attempt{value: v, attempts: i}
		}
		last = err

		if IsPermanent(err) || retries < i || ctx.Err() != nil {
			x.logger.Printf("[%s] failed (takes %s): %s", n.ID, time.Since(started), err)
			return attempt{err: err, attempts: i}
		}

		x.logger.Printf("[%s] failed (takes %s): %s; retry in %s", n.ID, time.Since(started), err, delay)
		if backoff(ctx) != nil {
			return attempt{err: err, attempts: i}
		}
	}
}

func call(ctx context.Context, n *Node, in Inputs) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s: %v", n.ID, r)
		}
	}()
	return n.Run(ctx, in)
}

func (x *execution) finish(id string, a attempt) {
	x.report.Attempts[id] = a.attempts
	x.report.Order = append(x.report.Order, id)
	if a.err != nil {
		x.report.Errors[id] = a.err
		x.set(id, Failed, a.attempts, a.err)
		return
	}
	x.report.Outputs[id] = a.value
	x.set(id, Succeeded, a.attempts, nil)

	b, ok := a.value.(Branch)
	if !ok {
		return
	}
	follow := map[string]struct{}{}
	for _, f := range b.Follow() {
		follow[f] = struct{}{}
	}
	children, err := x.g.Children(id)
	if err != nil {
		return
	}
	for _, c := range children {
		if _, ok := follow[c]; ok {
			continue
		}
		// finalizers run whichever branch is followed.
		if x.g.nodes[c].trigger() == AllDone {
			continue
		}
		if x.report.States[c] == Pending {
			x.settle(c, Skipped)
		}
	}
}

func (x *execution) set(id string, s State, attempt int, err error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.report.States[id] = s
	if x.Observe != nil {
		x.Observe(Event{Node: id, State: s, Attempt: attempt, Err: err})
	}
}
