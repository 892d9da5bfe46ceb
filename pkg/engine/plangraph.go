package engine

import (
	"fmt"
	"sort"
	"strings"
)

// PlanEntry is one staged operation in a plan graph.
type PlanEntry struct {
	// Stage orders the entry against every other entry in the batch.
	Stage Stage

	// Owner is the chute or router context the entry belongs to.
	Owner string

	// Seq is the insertion sequence number, used to keep sorting stable.
	Seq int

	// Todo is run during execution.
	Todo Operation

	// Abort compensates for Todo during unwinding. Nil means nothing to undo.
	Abort *Operation
}

func (e PlanEntry) String() string {
	return fmt.Sprintf("%s/%s@%s", e.Owner, e.Todo.ID, e.Stage)
}

// PlanGraph holds the pending operations of one update, the record of
// operations already run, and the set of operations marked redundant.
//
// A PlanGraph is not safe for concurrent mutation.
type PlanGraph struct {
	owner    string
	seq      int
	pending  []PlanEntry
	executed []PlanEntry
	skip     map[OpID]struct{}
}

// NewPlanGraph creates an empty plan graph whose entries belong to owner.
func NewPlanGraph(owner string) *PlanGraph {
	return &PlanGraph{
		owner: owner,
		skip:  make(map[OpID]struct{}),
	}
}

// AddPlans appends one entry at the given stage. At most one abort operation
// may be supplied.
func (g *PlanGraph) AddPlans(stage Stage, todo Operation, abort ...Operation) error {
	if todo.Fn == nil {
		return fmt.Errorf("operation %q is not invocable", todo.ID)
	}
	if len(abort) > 1 {
		return fmt.Errorf("operation %q: at most one abort operation allowed, got %d", todo.ID, len(abort))
	}

	entry := PlanEntry{
		Stage: stage,
		Owner: g.owner,
		Seq:   g.seq,
		Todo:  todo,
	}
	if len(abort) == 1 {
		if abort[0].Fn == nil {
			return fmt.Errorf("abort operation %q is not invocable", abort[0].ID)
		}
		ab := abort[0]
		entry.Abort = &ab
	}

	g.seq++
	g.pending = append(g.pending, entry)
	return nil
}

// Sort orders pending entries by ascending stage. Entries sharing a stage keep
// their insertion order. Entries are never merged or dropped here.
func (g *PlanGraph) Sort() {
	sort.SliceStable(g.pending, func(i, j int) bool {
		return g.pending[i].Stage < g.pending[j].Stage
	})
}

// GetNextTodo removes and returns the next pending entry whose operation is
// not in the skip set. Skipped entries are discarded without being recorded.
// The returned entry is appended to the already-run record.
func (g *PlanGraph) GetNextTodo() (PlanEntry, bool) {
	for len(g.pending) > 0 {
		entry := g.pending[0]
		g.pending = g.pending[1:]

		if g.Skipped(entry.Todo.ID) {
			continue
		}

		g.executed = append(g.executed, entry)
		return entry, true
	}
	return PlanEntry{}, false
}

// RecordFault removes the most recently run entry from the already-run record.
// It is called when that entry's operation faulted, so unwinding starts with
// the step before it.
func (g *PlanGraph) RecordFault() (PlanEntry, bool) {
	n := len(g.executed)
	if n == 0 {
		return PlanEntry{}, false
	}
	entry := g.executed[n-1]
	g.executed = g.executed[:n-1]
	return entry, true
}

// GetNextAbort pops entries from the already-run record, last run first.
func (g *PlanGraph) GetNextAbort() (PlanEntry, bool) {
	n := len(g.executed)
	if n == 0 {
		return PlanEntry{}, false
	}
	entry := g.executed[n-1]
	g.executed = g.executed[:n-1]
	return entry, true
}

// RegisterSkip marks an operation as redundant. Pending entries running it are
// dropped by GetNextTodo.
func (g *PlanGraph) RegisterSkip(id OpID) {
	g.skip[id] = struct{}{}
}

// Skipped reports whether id is in the skip set.
func (g *PlanGraph) Skipped(id OpID) bool {
	_, ok := g.skip[id]
	return ok
}

// Pending returns the number of entries not yet handed out.
func (g *PlanGraph) Pending() int {
	return len(g.pending)
}

// Executed returns the number of entries in the already-run record.
func (g *PlanGraph) Executed() int {
	return len(g.executed)
}

// Entries returns a copy of the pending entries in their current order.
func (g *PlanGraph) Entries() []PlanEntry {
	return append([]PlanEntry(nil), g.pending...)
}

func (g *PlanGraph) String() string {
	parts := make([]string, 0, len(g.pending))
	for _, e := range g.pending {
		parts = append(parts, e.String())
	}
	return fmt.Sprintf("PlanGraph(%s)[%s]", g.owner, strings.Join(parts, ", "))
}

// ToDOT renders the pending entries as a Graphviz digraph. Entries are
// clustered by stage and chained in execution order; abort operations hang
// off the entry they undo with a dashed edge.
func (g *PlanGraph) ToDOT() string {
	var sb strings.Builder

	sb.WriteString("digraph PlanGraph {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for i := 0; i < len(g.pending); {
		stage := g.pending[i].Stage
		fmt.Fprintf(&sb, "  subgraph cluster_%d {\n", int(stage))
		fmt.Fprintf(&sb, "    label=%q;\n", stage.String())
		sb.WriteString("    style=dashed;\n")

		for ; i < len(g.pending) && g.pending[i].Stage == stage; i++ {
			e := g.pending[i]
			fmt.Fprintf(&sb, "    \"todo_%d\" [label=\"%s\\n%s\", fillcolor=%q, style=\"filled,rounded\"];\n",
				e.Seq, e.Owner, e.Todo.ID, stageColor(e.Stage))
			if e.Abort != nil {
				fmt.Fprintf(&sb, "    \"abort_%d\" [label=%q, fillcolor=\"lightcoral\", style=\"filled,rounded\"];\n",
					e.Seq, string(e.Abort.ID))
			}
		}
		sb.WriteString("  }\n\n")
	}

	for i, e := range g.pending {
		if i > 0 {
			fmt.Fprintf(&sb, "  \"todo_%d\" -> \"todo_%d\";\n", g.pending[i-1].Seq, e.Seq)
		}
		if e.Abort != nil {
			fmt.Fprintf(&sb, "  \"todo_%d\" -> \"abort_%d\" [style=dashed, arrowhead=empty];\n", e.Seq, e.Seq)
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}

func stageColor(s Stage) string {
	switch {
	case s < StageRuntimePrepare:
		return "lightgray"
	case s < StageNetConfigWrite:
		return "lightyellow"
	case s < StageCallStart:
		return "lightblue"
	default:
		return "lightgreen"
	}
}
