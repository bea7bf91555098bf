package agent

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Outcome is the edge label a node emits when it finishes.
type Outcome string

const OutcomeNext Outcome = "next"

// End is the edge target that terminates a run.
const End = "__end__"

// Node is one named step in a workflow graph. Run mutates the shared state
// and picks the outgoing edge by outcome.
type Node[S any] struct {
	Name string
	Run  func(ctx context.Context, s *S) (Outcome, error)
}

// Graph is a validated workflow: nodes plus outcome-keyed edges. A run walks
// nodes synchronously from the entry until an edge reaches End; state is
// only the caller's S, so nothing is visible outside until the caller
// commits it.
type Graph[S any] struct {
	name  string
	entry string
	nodes map[string]Node[S]
	edges map[string]map[Outcome]string
}

// Walks cannot exceed this many steps; a graph that does has a cycle bug.
const maxSteps = 64

// NewGraph validates the topology up front: the entry must be defined, every
// edge target must be a defined node or End, and every node must be reachable
// from the entry.
func NewGraph[S any](name, entry string, nodes []Node[S], edges map[string]map[Outcome]string) (*Graph[S], error) {
	g := &Graph[S]{
		name:  name,
		entry: entry,
		nodes: make(map[string]Node[S], len(nodes)),
		edges: edges,
	}
	for _, n := range nodes {
		if n.Name == "" || n.Run == nil {
			return nil, fmt.Errorf("graph %s: node with empty name or nil run", name)
		}
		if _, dup := g.nodes[n.Name]; dup {
			return nil, fmt.Errorf("graph %s: duplicate node %q", name, n.Name)
		}
		g.nodes[n.Name] = n
	}

	if _, ok := g.nodes[entry]; !ok {
		return nil, fmt.Errorf("graph %s: entry node %q not defined", name, entry)
	}
	for from, outs := range edges {
		if _, ok := g.nodes[from]; !ok {
			return nil, fmt.Errorf("graph %s: edge from undefined node %q", name, from)
		}
		for out, to := range outs {
			if to == End {
				continue
			}
			if _, ok := g.nodes[to]; !ok {
				return nil, fmt.Errorf("graph %s: edge %s[%s] targets undefined node %q", name, from, out, to)
			}
		}
	}

	reachable := map[string]bool{entry: true}
	queue := []string{entry}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, to := range edges[cur] {
			if to == End || reachable[to] {
				continue
			}
			reachable[to] = true
			queue = append(queue, to)
		}
	}
	for name2 := range g.nodes {
		if !reachable[name2] {
			return nil, fmt.Errorf("graph %s: node %q unreachable from entry", name, name2)
		}
	}
	return g, nil
}

// Run executes the graph over state. Context cancellation stops the walk
// before the next node starts.
func (g *Graph[S]) Run(ctx context.Context, state *S) error {
	tracer := otel.Tracer("agent")

	current := g.entry
	for step := 0; step < maxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		node := g.nodes[current]
		nodeCtx, span := tracer.Start(ctx, g.name+"."+node.Name)
		out, err := node.Run(nodeCtx, state)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.End()
			return fmt.Errorf("%s node %s: %w", g.name, node.Name, err)
		}
		span.SetAttributes(attribute.String("workflow.outcome", string(out)))
		span.End()

		next, ok := g.edges[current][out]
		if !ok {
			return fmt.Errorf("%s node %s: no edge for outcome %q", g.name, node.Name, out)
		}
		if next == End {
			return nil
		}
		current = next
	}
	return fmt.Errorf("%s: aborted after %d steps", g.name, maxSteps)
}
