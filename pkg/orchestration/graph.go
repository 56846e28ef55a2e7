// Package orchestration builds a DAG of stages and executes it.
//
// A node runs after its dependencies have reached a terminal state, as its
// TriggerRule allows. Outputs of upstream nodes are passed to a node as Inputs;
// there is no shared mutable state between nodes.
package orchestration

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/dominikbraun/graph"
	"github.com/dominikbraun/graph/draw"

	xe "github.com/AlexandreManai/ML-pipeline/pkg/errors"
)

// TriggerRule decides whether a node runs, given the states of its dependencies.
type TriggerRule string

const (
	// Run when all dependencies have succeeded.
	//
	// A failed dependency makes the node upstream_failed,
	// a skipped dependency makes it skipped.
	AllSuccess TriggerRule = "all_success"

	// Run when all dependencies are terminal, whatever their states are.
	AllDone TriggerRule = "all_done"
)

// Func is the work of a node.
//
// The returned value is passed to downstream nodes.
type Func func(ctx context.Context, in Inputs) (any, error)

// Node is a vertex of a Graph.
type Node struct {
	ID string

	// Deps are ids of nodes which should be terminal before this node.
	Deps []string

	// Trigger is AllSuccess when empty.
	Trigger TriggerRule

	// Retries overrides the executor's default when positive.
	Retries int

	// RetryDelay overrides the executor's default when positive.
	RetryDelay time.Duration

	// NoRetry disables retries for the node.
	NoRetry bool

	Run Func
}

func (n Node) trigger() TriggerRule {
	if n.Trigger == "" {
		return AllSuccess
	}
	return n.Trigger
}

var (
	ErrDuplicatedNode = errors.New("duplicated node")
	ErrUnknownNode    = errors.New("unknown node")
	ErrCycle          = errors.New("dependency creates a cycle")
)

// Graph is a DAG of nodes.
type Graph struct {
	g     graph.Graph[string, *Node]
	nodes map[string]*Node

	// insertion order; ties in topological order are broken by it.
	index map[string]int
}

func New() *Graph {
	return &Graph{
		g: graph.New(
			func(n *Node) string { return n.ID },
			graph.Directed(), graph.Acyclic(), graph.PreventCycles(),
		),
		nodes: map[string]*Node{},
		index: map[string]int{},
	}
}

// Add adds nodes in order. Dependencies should be added before their dependents.
func (g *Graph) Add(nodes ...Node) error {
	for i := range nodes {
		n := nodes[i]
		if n.ID == "" {
			return xe.Wrap(errors.New("node id is empty"))
		}
		if n.Run == nil {
			return xe.Wrap(fmt.Errorf("node %s: no Run func", n.ID))
		}
		if _, ok := g.nodes[n.ID]; ok {
			return xe.Wrap(fmt.Errorf("%w: %s", ErrDuplicatedNode, n.ID))
		}
		for _, d := range n.Deps {
			if _, ok := g.nodes[d]; !ok {
				return xe.Wrap(fmt.Errorf("%w: %s (dependency of %s)", ErrUnknownNode, d, n.ID))
			}
		}

		n.Deps = append([]string{}, n.Deps...)
		node := &n
		if err := g.g.AddVertex(node, graph.VertexAttribute("label", n.ID)); err != nil {
			return xe.Wrap(err)
		}
		g.nodes[n.ID] = node
		g.index[n.ID] = len(g.index)

		for _, d := range n.Deps {
			if err := g.addEdge(d, n.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

// Depend adds a dependency from a node to an existing node.
func (g *Graph) Depend(id string, on string) error {
	n, ok := g.nodes[id]
	if !ok {
		return xe.Wrap(fmt.Errorf("%w: %s", ErrUnknownNode, id))
	}
	if _, ok := g.nodes[on]; !ok {
		return xe.Wrap(fmt.Errorf("%w: %s", ErrUnknownNode, on))
	}
	for _, d := range n.Deps {
		if d == on {
			return nil
		}
	}
	if err := g.addEdge(on, id); err != nil {
		return err
	}
	n.Deps = append(n.Deps, on)
	return nil
}

func (g *Graph) addEdge(from, to string) error {
	err := g.g.AddEdge(from, to)
	switch {
	case err == nil, errors.Is(err, graph.ErrEdgeAlreadyExists):
		return nil
	case errors.Is(err, graph.ErrEdgeCreatesCycle):
		return xe.Wrap(fmt.Errorf("%w: %s -> %s", ErrCycle, from, to))
	default:
		return xe.Wrap(err)
	}
}

// Node returns a copy of the node.
func (g *Graph) Node(id string) (Node, bool) {
	n, ok := g.nodes[id]
	if !ok {
		return Node{}, false
	}
	ret := *n
	ret.Deps = append([]string{}, n.Deps...)
	return ret, true
}

func (g *Graph) Len() int {
	return len(g.nodes)
}

// Order returns node ids in topological order.
//
// Among nodes with no ordering constraint, the earlier added comes first.
func (g *Graph) Order() ([]string, error) {
	order, err := graph.StableTopologicalSort(g.g, func(a, b string) bool {
		return g.index[a] < g.index[b]
	})
	if err != nil {
		return nil, xe.Wrap(err)
	}
	return order, nil
}

// Children returns ids of nodes depending on id directly.
func (g *Graph) Children(id string) ([]string, error) {
	adj, err := g.g.AdjacencyMap()
	if err != nil {
		return nil, xe.Wrap(err)
	}
	edges, ok := adj[id]
	if !ok {
		return nil, xe.Wrap(fmt.Errorf("%w: %s", ErrUnknownNode, id))
	}
	ret := make([]string, 0, len(edges))
	for c := range edges {
		ret = append(ret, c)
	}
	sortByIndex(ret, g.index)
	return ret, nil
}

// DOT writes the graph in Graphviz DOT language.
func (g *Graph) DOT(w io.Writer) error {
	return draw.DOT(g.g, w, draw.GraphAttribute("rankdir", "LR"))
}

func sortByIndex(ids []string, index map[string]int) {
	sort.Slice(ids, func(i, j int) bool { return index[ids[i]] < index[ids[j]] })
}
