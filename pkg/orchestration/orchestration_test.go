package orchestration_test

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AlexandreManai/ML-pipeline/pkg/orchestration"
)

func value(v any) orchestration.Func {
	return func(context.Context, orchestration.Inputs) (any, error) {
		return v, nil
	}
}

func fail(err error) orchestration.Func {
	return func(context.Context, orchestration.Inputs) (any, error) {
		return nil, err
	}
}

type choice []string

func (c choice) Follow() []string {
	return c
}

func mustAdd(t *testing.T, g *orchestration.Graph, nodes ...orchestration.Node) {
	t.Helper()
	if err := g.Add(nodes...); err != nil {
		t.Fatal(err)
	}
}

func expectStates(t *testing.T, report orchestration.Report, expected map[string]orchestration.State) {
	t.Helper()
	for id, s := range expected {
		if got := report.States[id]; got != s {
			t.Errorf("state of %s: actual=%s, expect=%s", id, got, s)
		}
	}
}

func TestGraph(t *testing.T) {
	t.Run("it rejects unknown dependencies", func(t *testing.T) {
		g := orchestration.New()
		err := g.Add(orchestration.Node{ID: "a", Deps: []string{"x"}, Run: value(1)})
		if !errors.Is(err, orchestration.ErrUnknownNode) {
			t.Errorf("error: actual=%v, expect=%v", err, orchestration.ErrUnknownNode)
		}
	})

	t.Run("it rejects duplicated nodes", func(t *testing.T) {
		g := orchestration.New()
		mustAdd(t, g, orchestration.Node{ID: "a", Run: value(1)})
		err := g.Add(orchestration.Node{ID: "a", Run: value(1)})
		if !errors.Is(err, orchestration.ErrDuplicatedNode) {
			t.Errorf("error: actual=%v, expect=%v", err, orchestration.ErrDuplicatedNode)
		}
	})

	t.Run("it rejects cycles", func(t *testing.T) {
		g := orchestration.New()
		mustAdd(t, g,
			orchestration.Node{ID: "a", Run: value(1)},
			orchestration.Node{ID: "b", Deps: []string{"a"}, Run: value(1)},
			orchestration.Node{ID: "c", Deps: []string{"b"}, Run: value(1)},
		)
		if err := g.Depend("a", "c"); !errors.Is(err, orchestration.ErrCycle) {
			t.Errorf("a -> c: actual=%v, expect=%v", err, orchestration.ErrCycle)
		}
		if err := g.Depend("c", "a"); err != nil {
			t.Errorf("c -> a: %v", err)
		}
		if err := g.Depend("c", "a"); err != nil {
			t.Errorf("adding same dependency twice: %v", err)
		}

		n, ok := g.Node("c")
		if !ok {
			t.Fatal("node c is not found")
		}
		if expected := []string{"b", "a"}; !slices.Equal(n.Deps, expected) {
			t.Errorf("deps: actual=%v, expect=%v", n.Deps, expected)
		}
	})

	t.Run("order is topological and stable by insertion", func(t *testing.T) {
		g := orchestration.New()
		mustAdd(t, g,
			orchestration.Node{ID: "root", Run: value(1)},
			orchestration.Node{ID: "z", Deps: []string{"root"}, Run: value(1)},
			orchestration.Node{ID: "a", Deps: []string{"root"}, Run: value(1)},
			orchestration.Node{ID: "end", Deps: []string{"a", "z"}, Run: value(1)},
		)
		order, err := g.Order()
		if err != nil {
			t.Fatal(err)
		}
		if expected := []string{"root", "z", "a", "end"}; !slices.Equal(order, expected) {
			t.Errorf("order: actual=%v, expect=%v", order, expected)
		}

		children, err := g.Children("root")
		if err != nil {
			t.Fatal(err)
		}
		if expected := []string{"z", "a"}; !slices.Equal(children, expected) {
			t.Errorf("children: actual=%v, expect=%v", children, expected)
		}
	})

	t.Run("it writes DOT", func(t *testing.T) {
		g := orchestration.New()
		mustAdd(t, g,
			orchestration.Node{ID: "a", Run: value(1)},
			orchestration.Node{ID: "b", Deps: []string{"a"}, Run: value(1)},
		)
		buf := new(bytes.Buffer)
		if err := g.DOT(buf); err != nil {
			t.Fatal(err)
		}
		if !strings.HasPrefix(buf.String(), "strict digraph") {
			t.Errorf("not a digraph:\n%s", buf)
		}
		if !strings.Contains(buf.String(), `"a" -> "b"`) {
			t.Errorf("edge a -> b is not found:\n%s", buf)
		}
	})
}

func TestExecutor_LinearPipeline(t *testing.T) {
	g := orchestration.New()
	mustAdd(t, g,
		orchestration.Node{ID: "config", Run: value(map[string]int{"n": 3})},
		orchestration.Node{ID: "double", Deps: []string{"config"}, Run: func(_ context.Context, in orchestration.Inputs) (any, error) {
			conf, err := orchestration.Input[map[string]int](in, "config")
			if err != nil {
				return nil, err
			}
			return conf["n"] * 2, nil
		}},
		orchestration.Node{ID: "sum", Deps: []string{"double"}, Run: func(_ context.Context, in orchestration.Inputs) (any, error) {
			// ancestors, not only direct dependencies, are visible.
			conf, err := orchestration.Input[map[string]int](in, "config")
			if err != nil {
				return nil, err
			}
			d, err := orchestration.Input[int](in, "double")
			if err != nil {
				return nil, err
			}
			return conf["n"] + d, nil
		}},
	)

	report, err := new(orchestration.Executor).Run(context.Background(), g)
	if err != nil {
		t.Fatal(err)
	}
	if got := report.Outputs["sum"]; got != 9 {
		t.Errorf("sum: actual=%v, expect=9", got)
	}
	if expected := []string{"config", "double", "sum"}; !slices.Equal(report.Order, expected) {
		t.Errorf("order: actual=%v, expect=%v", report.Order, expected)
	}
	for _, id := range report.Order {
		if s := report.States[id]; s != orchestration.Succeeded {
			t.Errorf("state of %s: actual=%s, expect=%s", id, s, orchestration.Succeeded)
		}
		if n := report.Attempts[id]; n != 1 {
			t.Errorf("attempts of %s: actual=%d, expect=1", id, n)
		}
	}
}

func TestExecutor_Branch(t *testing.T) {
	type Then struct {
		states map[string]orchestration.State
		pushed bool
	}

	theory := func(follow string, then Then) func(*testing.T) {
		return func(t *testing.T) {
			ran := new(sync.Map)
			mark := func(id string) orchestration.Func {
				return func(context.Context, orchestration.Inputs) (any, error) {
					ran.Store(id, true)
					return id, nil
				}
			}
			g := orchestration.New()
			mustAdd(t, g,
				orchestration.Node{ID: "gate", Run: value(choice{follow})},
				orchestration.Node{ID: "push", Deps: []string{"gate"}, Run: mark("push")},
				orchestration.Node{ID: "after_push", Deps: []string{"push"}, Run: mark("after_push")},
				orchestration.Node{ID: "keep", Deps: []string{"gate"}, Trigger: orchestration.AllDone, Run: mark("keep")},
			)

			report, err := new(orchestration.Executor).Run(context.Background(), g)
			if err != nil {
				t.Fatal(err)
			}
			expectStates(t, report, then.states)

			_, pushed := ran.Load("push")
			if pushed != then.pushed || report.Ran("push") != then.pushed {
				t.Errorf("push ran: actual=(%v, %v), expect=%v", pushed, report.Ran("push"), then.pushed)
			}
		}
	}

	t.Run("when it follows push, keep still runs as finalizer", theory("push", Then{
		states: map[string]orchestration.State{
			"push":       orchestration.Succeeded,
			"after_push": orchestration.Succeeded,
			"keep":       orchestration.Succeeded,
		},
		pushed: true,
	}))
	t.Run("when it follows keep, push and its successors are skipped", theory("keep", Then{
		states: map[string]orchestration.State{
			"push":       orchestration.Skipped,
			"after_push": orchestration.Skipped,
			"keep":       orchestration.Succeeded,
		},
		pushed: false,
	}))
}

func TestExecutor_Failure(t *testing.T) {
	cause := errors.New("boom")

	var events []orchestration.Event
	var finalized atomic.Bool
	g := orchestration.New()
	mustAdd(t, g,
		orchestration.Node{ID: "a", Run: value(1)},
		orchestration.Node{ID: "b", Deps: []string{"a"}, Run: fail(cause)},
		orchestration.Node{ID: "c", Deps: []string{"b"}, Run: value(1)},
		orchestration.Node{ID: "d", Deps: []string{"c"}, Run: value(1)},
		orchestration.Node{ID: "final", Deps: []string{"d"}, Trigger: orchestration.AllDone, Run: func(_ context.Context, in orchestration.Inputs) (any, error) {
			finalized.Store(true)
			if _, ok := in["b"]; ok {
				return nil, errors.New("failed node should not provide input")
			}
			return nil, nil
		}},
	)

	ex := &orchestration.Executor{
		Retries:    2,
		RetryDelay: time.Millisecond,
		Observe:    func(e orchestration.Event) { events = append(events, e) },
	}
	report, err := ex.Run(context.Background(), g)

	var sf *orchestration.StageFailed
	if !errors.As(err, &sf) {
		t.Fatalf("error: actual=%v, expect=StageFailed", err)
	}
	if sf.Stage != "b" {
		t.Errorf("failed stage: actual=%s, expect=b", sf.Stage)
	}
	if !errors.Is(err, cause) {
		t.Errorf("error: actual=%v, expect=%v", err, cause)
	}

	if n := report.Attempts["b"]; n != 3 {
		t.Errorf("attempts of b: actual=%d, expect=3 (1 + 2 retries)", n)
	}
	expectStates(t, report, map[string]orchestration.State{
		"b":     orchestration.Failed,
		"c":     orchestration.UpstreamFailed,
		"d":     orchestration.UpstreamFailed,
		"final": orchestration.Succeeded,
	})
	if !finalized.Load() {
		t.Error("finalizer has not run")
	}

	retried := 0
	for _, e := range events {
		if e.Node == "b" && e.State == orchestration.Running && 1 < e.Attempt {
			retried++
			if !errors.Is(e.Err, cause) {
				t.Errorf("error of retry event: actual=%v, expect=%v", e.Err, cause)
			}
		}
	}
	if retried != 2 {
		t.Errorf("retry events: actual=%d, expect=2", retried)
	}
}

func TestExecutor_Retry(t *testing.T) {
	type When struct {
		node orchestration.Node
		err  error
	}
	type Then struct {
		runs int32
	}

	theory := func(when When, then Then) func(*testing.T) {
		return func(t *testing.T) {
			var runs atomic.Int32
			node := when.node
			node.Run = func(context.Context, orchestration.Inputs) (any, error) {
				runs.Add(1)
				return nil, when.err
			}
			g := orchestration.New()
			mustAdd(t, g, node)

			ex := &orchestration.Executor{Retries: 1, RetryDelay: time.Millisecond}
			if _, err := ex.Run(context.Background(), g); err == nil {
				t.Error("no error")
			}
			if got := runs.Load(); got != then.runs {
				t.Errorf("runs: actual=%d, expect=%d", got, then.runs)
			}
		}
	}

	t.Run("permanent errors are not retried", theory(
		When{node: orchestration.Node{ID: "x"}, err: orchestration.Permanent(errors.New("bad config"))},
		Then{runs: 1},
	))
	t.Run("NoRetry disables retries", theory(
		When{node: orchestration.Node{ID: "x", NoRetry: true}, err: errors.New("flaky")},
		Then{runs: 1},
	))
	t.Run("node retries override the default", theory(
		When{node: orchestration.Node{ID: "x", Retries: 3}, err: errors.New("flaky")},
		Then{runs: 4},
	))
	t.Run("default retries", theory(
		When{node: orchestration.Node{ID: "x"}, err: errors.New("flaky")},
		Then{runs: 2},
	))

	t.Run("it succeeds after a transient failure", func(t *testing.T) {
		var runs atomic.Int32
		g := orchestration.New()
		mustAdd(t, g, orchestration.Node{ID: "x", Run: func(context.Context, orchestration.Inputs) (any, error) {
			if runs.Add(1) == 1 {
				return nil, errors.New("flaky")
			}
			return "ok", nil
		}})

		ex := &orchestration.Executor{Retries: 1, RetryDelay: time.Millisecond}
		report, err := ex.Run(context.Background(), g)
		if err != nil {
			t.Fatal(err)
		}
		if got := report.Outputs["x"]; got != "ok" {
			t.Errorf("output: actual=%v, expect=ok", got)
		}
		if n := report.Attempts["x"]; n != 2 {
			t.Errorf("attempts: actual=%d, expect=2", n)
		}
	})
}

func TestExecutor_Panic(t *testing.T) {
	g := orchestration.New()
	mustAdd(t, g, orchestration.Node{ID: "x", NoRetry: true, Run: func(context.Context, orchestration.Inputs) (any, error) {
		panic("oops")
	}})

	_, err := new(orchestration.Executor).Run(context.Background(), g)
	var sf *orchestration.StageFailed
	if !errors.As(err, &sf) {
		t.Fatalf("error: actual=%v, expect=StageFailed", err)
	}
	if !strings.Contains(sf.Error(), "oops") {
		t.Errorf("error should tell the panic: %v", sf)
	}
}

func TestExecutor_ParallelWave(t *testing.T) {
	// b and c wait each other: they finish only when run concurrently.
	barrier := new(sync.WaitGroup)
	barrier.Add(2)
	meet := func(context.Context, orchestration.Inputs) (any, error) {
		barrier.Done()
		done := make(chan struct{})
		go func() { barrier.Wait(); close(done) }()
		select {
		case <-done:
			return nil, nil
		case <-time.After(5 * time.Second):
			return nil, errors.New("not run in parallel")
		}
	}

	g := orchestration.New()
	mustAdd(t, g,
		orchestration.Node{ID: "a", Run: value(1)},
		orchestration.Node{ID: "b", Deps: []string{"a"}, NoRetry: true, Run: meet},
		orchestration.Node{ID: "c", Deps: []string{"a"}, NoRetry: true, Run: meet},
	)
	if _, err := new(orchestration.Executor).Run(context.Background(), g); err != nil {
		t.Error(err)
	}
}

func TestExecutor_Cancelled(t *testing.T) {
	t.Run("nodes after cancellation fail without running, finalizers run", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		var finalCtxErr error
		finalized := false
		g := orchestration.New()
		mustAdd(t, g,
			orchestration.Node{ID: "a", Run: func(context.Context, orchestration.Inputs) (any, error) {
				cancel()
				return 1, nil
			}},
			orchestration.Node{ID: "b", Deps: []string{"a"}, Run: value(2)},
			orchestration.Node{ID: "final", Deps: []string{"b"}, Trigger: orchestration.AllDone, Run: func(ctx context.Context, in orchestration.Inputs) (any, error) {
				finalized = true
				finalCtxErr = ctx.Err()
				return orchestration.Input[int](in, "a")
			}},
		)

		report, err := (&orchestration.Executor{Retries: 3}).Run(ctx, g)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("error: actual=%v, expect=%v", err, context.Canceled)
		}
		expectStates(t, report, map[string]orchestration.State{
			"a":     orchestration.Succeeded,
			"b":     orchestration.Failed,
			"final": orchestration.Succeeded,
		})
		if report.Ran("b") {
			t.Error("b has run after cancellation")
		}
		if !finalized || !report.Ran("final") {
			t.Error("finalizer has not run")
		}
		if finalCtxErr != nil {
			t.Errorf("context of finalizer: actual=%v, expect=not done", finalCtxErr)
		}
		if got := report.Outputs["final"]; got != 1 {
			t.Errorf("output of finalizer: actual=%v, expect=1", got)
		}
	})

	t.Run("a node cancelled while running fails, and the finalizer closes", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		g := orchestration.New()
		mustAdd(t, g,
			orchestration.Node{ID: "long", Run: func(ctx context.Context, _ orchestration.Inputs) (any, error) {
				cancel()
				<-ctx.Done()
				return nil, ctx.Err()
			}},
			orchestration.Node{ID: "final", Deps: []string{"long"}, Trigger: orchestration.AllDone, Run: value("closed")},
		)

		report, err := (&orchestration.Executor{Retries: 2, RetryDelay: time.Hour}).Run(ctx, g)
		var sf *orchestration.StageFailed
		if !errors.As(err, &sf) || sf.Stage != "long" {
			t.Fatalf("error: actual=%v, expect=StageFailed of long", err)
		}
		if n := report.Attempts["long"]; n != 1 {
			t.Errorf("attempts of long: actual=%d, expect=1", n)
		}
		expectStates(t, report, map[string]orchestration.State{
			"long":  orchestration.Failed,
			"final": orchestration.Succeeded,
		})
		if got := report.Outputs["final"]; got != "closed" {
			t.Errorf("output of finalizer: actual=%v, expect=closed", got)
		}
	})
}

func TestInput(t *testing.T) {
	in := orchestration.Inputs{"a": 1}

	if _, err := orchestration.Input[int](in, "b"); !errors.Is(err, orchestration.ErrMissingInput) {
		t.Errorf("missing: actual=%v, expect=%v", err, orchestration.ErrMissingInput)
	}
	if _, err := orchestration.Input[string](in, "a"); !errors.Is(err, orchestration.ErrMissingInput) {
		t.Errorf("wrong type: actual=%v, expect=%v", err, orchestration.ErrMissingInput)
	}

	v, err := orchestration.Input[int](in, "a")
	if err != nil {
		t.Fatal(err)
	}
	if v != 1 {
		t.Errorf("value: actual=%d, expect=1", v)
	}
}
