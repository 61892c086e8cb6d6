package compose

import (
	"context"
	"sort"

	"github.com/jllopis/resumeflow/pkg/agent"
	"github.com/jllopis/resumeflow/pkg/state"
)

// Kind identifies the node type in a composition tree.
type Kind string

const (
	KindStage    Kind = "stage"
	KindSequence Kind = "sequence"
	KindParallel Kind = "parallel"
)

// Node is an element of a composition tree: a single agent or a group.
type Node interface {
	Name() string
	Kind() Kind
	Children() []Node
	// Writes returns every key written by the node and its descendants.
	Writes() []string
	run(ctx context.Context, e *Engine, st *state.Store) error
}

// Stage wraps a single agent.
func Stage(a agent.Agent) Node {
	return &stageNode{agent: a}
}

// Sequence runs members in order; each member sees the writes of the ones
// before it.
func Sequence(name string, members ...Node) Node {
	return &groupNode{name: name, kind: KindSequence, members: members}
}

// Parallel runs members concurrently over identical snapshots and merges
// their writes after every member has finished.
func Parallel(name string, members ...Node) Node {
	return &groupNode{name: name, kind: KindParallel, members: members}
}

type stageNode struct {
	agent agent.Agent
}

func (n *stageNode) Name() string     { return n.agent.Name() }
func (n *stageNode) Kind() Kind       { return KindStage }
func (n *stageNode) Children() []Node { return nil }
func (n *stageNode) Writes() []string { return n.agent.Writes() }

func (n *stageNode) run(ctx context.Context, e *Engine, st *state.Store) error {
	return e.runStage(ctx, n.agent, st)
}

type groupNode struct {
	name    string
	kind    Kind
	members []Node
}

func (n *groupNode) Name() string     { return n.name }
func (n *groupNode) Kind() Kind       { return n.kind }
func (n *groupNode) Children() []Node { return append([]Node(nil), n.members...) }

func (n *groupNode) Writes() []string {
	var out []string
	for _, m := range n.members {
		out = append(out, m.Writes()...)
	}
	sort.Strings(out)
	return out
}

func (n *groupNode) run(ctx context.Context, e *Engine, st *state.Store) error {
	if n.kind == KindParallel {
		return e.runParallel(ctx, n, st)
	}
	return e.runSequence(ctx, n, st)
}

// Walk visits n and its descendants depth-first in declaration order.
func Walk(n Node, fn func(n Node, depth int)) {
	walk(n, 0, fn)
}

func walk(n Node, depth int, fn func(Node, int)) {
	fn(n, depth)
	for _, c := range n.Children() {
		walk(c, depth+1, fn)
	}
}

// Agents returns the agents of the tree in declaration order.
func Agents(n Node) []agent.Agent {
	var out []agent.Agent
	Walk(n, func(n Node, _ int) {
		if s, ok := n.(*stageNode); ok {
			out = append(out, s.agent)
		}
	})
	return out
}
