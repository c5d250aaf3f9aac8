package solve

import (
	"fmt"

	"github.com/bearcove/dibs/errs"
	"github.com/bearcove/dibs/schema"
)

// MaxIterations bounds the worklist's rename-cycle-rewriting loop. A
// well-formed ChangeSet resolves in far fewer passes; this guards
// against a logic error turning into an infinite loop rather than
// against any legitimate input size.
const MaxIterations = 1000

// scanOrder ranks each Change variant for the solver's canonical scan
// order (§4.3): drops of dependents before drops of dependees, renames,
// then retypes/nullability/defaults, then additions of dependees before
// dependents.
func scanOrder(c Change) int {
	switch c.(type) {
	case *DropForeignKey:
		return 0
	case *DropIndex:
		return 1
	case *DropUnique:
		return 2
	case *DropPrimaryKey:
		return 3
	case *DropColumn:
		return 4
	case *DropTable:
		return 5
	case *RenameTable:
		return 6
	case *RenameColumn:
		return 7
	case *AlterColumnType:
		return 8
	case *AlterColumnNullability:
		return 9
	case *AlterColumnDefault:
		return 10
	case *CreateTable:
		return 11
	case *AddColumn:
		return 12
	case *AddPrimaryKey:
		return 13
	case *AddUnique:
		return 14
	case *AddIndex:
		return 15
	case *AddForeignKey:
		return 16
	default:
		return 99
	}
}

// renamer is implemented by the two rename variants so the solver can
// detect and break rename cycles without depending on their concrete
// types beyond this narrow interface.
type renamer interface {
	renameFrom() string
	renameTo() string
	renameScope() string
}

// TraceFunc is invoked by Solve after every successful application,
// letting a caller (e.g. cmd/dibs --debug) render step-by-step progress
// without the solver depending on any particular output format.
type TraceFunc func(step int, virt *schema.Schema, applied Change)

// Options configures a single Solve call.
type Options struct {
	Trace TraceFunc
}

// Solve converts a ChangeSet into an ordered Plan, or fails with a
// PreconditionError, UnresolvableDependency, or VerificationFailure.
func Solve(cs *ChangeSet, live, declared *schema.Schema, opts *Options) (*Plan, error) {
	if opts == nil {
		opts = &Options{}
	}

	vs := NewVirtualSchema(live)
	remaining := append([]Change(nil), cs.Changes...)
	var ordered []Change
	var warnings []Warning

	step := 0
	rewrites := 0
	for len(remaining) > 0 {
		applied, err := applyOneReady(vs, remaining, &warnings)
		if err == nil {
			ordered = append(ordered, applied)
			remaining = removeChange(remaining, applied)
			step++
			if opts.Trace != nil {
				opts.Trace(step, vs.Schema, applied)
			}
			continue
		}

		// No change in remaining is currently ready. If every
		// remaining change is a rename, break one cycle and retry;
		// otherwise the worklist is stuck for good.
		rewritten, ok := breakOneRenameCycle(vs, remaining)
		if !ok {
			names := make([]string, 0, len(remaining))
			for _, c := range remaining {
				names = append(names, c.Describe())
			}
			return nil, &errs.UnresolvableDependency{Remaining: names}
		}
		remaining = rewritten

		rewrites++
		if rewrites > MaxIterations {
			names := make([]string, 0, len(remaining))
			for _, c := range remaining {
				names = append(names, c.Describe())
			}
			return nil, &errs.UnresolvableDependency{Remaining: names}
		}
	}

	if err := verify(live, declared, ordered); err != nil {
		return nil, err
	}

	return &Plan{Changes: ordered, Warnings: warnings}, nil
}

// applyOneReady scans remaining in canonical order and applies the
// first change whose preconditions hold, returning it. If none are
// ready it returns the precondition error of the first (canonical
// order) remaining change, purely for diagnostics.
func applyOneReady(vs *VirtualSchema, remaining []Change, warnings *[]Warning) (Change, error) {
	order := sortedByScanOrder(remaining)
	var firstErr error
	for _, c := range order {
		if err := c.Preconditions(vs); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if w := addColumnWarning(c, vs); w != nil {
			*warnings = append(*warnings, *w)
		}
		c.Apply(vs)
		return c, nil
	}
	return nil, firstErr
}

// addColumnWarning flags AddColumn with NOT NULL, no default, on a
// table that is not provably empty — a warning, not a blocking error
// (§9 Open Question resolution).
func addColumnWarning(c Change, vs *VirtualSchema) *Warning {
	ac, ok := c.(*AddColumn)
	if !ok {
		return nil
	}
	if ac.Column.Nullable || ac.Column.HasDefault() || ac.PromiseEmpty {
		return nil
	}
	return &Warning{
		Change:  c,
		Message: fmt.Sprintf("adding NOT NULL column %q with no default to non-empty table %q", ac.Column.Name, ac.Table),
	}
}

func sortedByScanOrder(changes []Change) []Change {
	out := append([]Change(nil), changes...)
	// stable insertion sort on the small per-pass slice keeps the
	// relative order of equal-rank changes, satisfying the "stable
	// canonical order" requirement without pulling in sort.Slice's
	// less-clear stability story for this size of input.
	for i := 1; i < len(out); i++ {
		j := i
		for j > 0 && scanOrder(out[j-1]) > scanOrder(out[j]) {
			out[j-1], out[j] = out[j], out[j-1]
			j--
		}
	}
	return out
}

func removeChange(changes []Change, target Change) []Change {
	out := make([]Change, 0, len(changes)-1)
	removed := false
	for _, c := range changes {
		if !removed && c == target {
			removed = true
			continue
		}
		out = append(out, c)
	}
	return out
}

// breakOneRenameCycle finds a cycle among remaining's renames sharing a
// scope (table renames form one scope; column renames are scoped per
// table), rewrites the lexicographically smallest edge in that cycle
// through a synthetic temporary name, and returns the updated list. ok
// is false if no remaining changes form a rename cycle (i.e. the
// worklist is stuck for a reason other than a pure rename cycle).
func breakOneRenameCycle(vs *VirtualSchema, remaining []Change) ([]Change, bool) {
	renames := map[string][]renamer{}
	for _, c := range remaining {
		r, ok := c.(renamer)
		if !ok {
			return nil, false
		}
		renames[r.renameScope()] = append(renames[r.renameScope()], r)
	}

	type edge struct {
		scope    string
		from, to string
	}
	var best *edge
	for scope, rs := range renames {
		graph := map[string]string{}
		for _, r := range rs {
			graph[r.renameFrom()] = r.renameTo()
		}
		for from := range graph {
			if !onCycle(graph, from) {
				continue
			}
			if best == nil || from < best.from {
				best = &edge{scope: scope, from: from, to: graph[from]}
			}
		}
	}
	if best == nil {
		return nil, false
	}

	taken := map[string]bool{}
	for _, rs := range renames[best.scope] {
		taken[rs.renameTo()] = true
	}
	if best.scope == "" {
		for _, name := range vs.Schema.TableNames() {
			taken[name] = true
		}
	} else if t := vs.Table(best.scope); t != nil {
		for _, name := range t.ColumnNames() {
			taken[name] = true
		}
	}
	tmp := schema.NextTempName(best.from, taken)

	out := make([]Change, 0, len(remaining)+1)
	for _, c := range remaining {
		r := c.(renamer)
		if r.renameScope() == best.scope && r.renameFrom() == best.from && r.renameTo() == best.to {
			continue
		}
		out = append(out, c)
	}
	if best.scope == "" {
		out = append(out, &RenameTable{From: best.from, To: tmp})
		out = append(out, &RenameTable{From: tmp, To: best.to})
	} else {
		out = append(out, &RenameColumn{Table: best.scope, From: best.from, To: tmp})
		out = append(out, &RenameColumn{Table: best.scope, From: tmp, To: best.to})
	}
	return out, true
}

// onCycle reports whether, starting from `from` and following graph
// edges, we return to `from` without running off the end of the chain.
func onCycle(graph map[string]string, from string) bool {
	cur, ok := graph[from]
	for i := 0; ok && i <= len(graph); i++ {
		if cur == from {
			return true
		}
		cur, ok = graph[cur]
	}
	return false
}

// verify re-applies ordered to a fresh clone of live and checks the
// result is structurally equal to declared, per the solver's mandatory
// post-check (§4.3).
func verify(live, declared *schema.Schema, ordered []Change) error {
	vs := NewVirtualSchema(live)
	for _, c := range ordered {
		if err := c.Preconditions(vs); err != nil {
			return err
		}
		c.Apply(vs)
	}
	if !schema.Equal(vs.Schema, declared) {
		return &errs.VerificationFailure{Detail: "simulated end state does not match declared schema"}
	}
	return nil
}
