// Package resolver decides whether component types may coexist on an entity.
package resolver

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/component"
)

// Result is the outcome of a compatibility check. Synergies never block.
type Result struct {
	CanInstall          bool
	MissingDependencies []string
	Conflicts           []string
	Synergies           []string
}

// Diagnostics renders one line per failed rule.
func (r Result) Diagnostics() []string {
	out := make([]string, 0, len(r.MissingDependencies)+len(r.Conflicts))
	for _, tag := range r.MissingDependencies {
		out = append(out, "missing dependency: "+tag)
	}
	for _, tag := range r.Conflicts {
		out = append(out, "conflicts with: "+tag)
	}
	return out
}

func (r Result) String() string {
	if r.CanInstall {
		return "compatible"
	}
	return strings.Join(r.Diagnostics(), "; ")
}

type set map[string]struct{}

func (s set) add(tag string) { s[tag] = struct{}{} }

func (s set) sorted() []string {
	out := make([]string, 0, len(s))
	for tag := range s {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

type relations struct {
	requires  map[string]set
	conflicts map[string]set
	synergies map[string]set
}

func newRelations() relations {
	return relations{
		requires:  make(map[string]set),
		conflicts: make(map[string]set),
		synergies: make(map[string]set),
	}
}

func (rel relations) require(tag, dep string) {
	link(rel.requires, tag, dep)
}

func (rel relations) conflict(a, b string) {
	link(rel.conflicts, a, b)
	link(rel.conflicts, b, a)
}

func (rel relations) synergize(a, b string) {
	link(rel.synergies, a, b)
	link(rel.synergies, b, a)
}

func link(rel map[string]set, from, to string) {
	s, ok := rel[from]
	if !ok {
		s = make(set)
		rel[from] = s
	}
	s.add(to)
}

// Resolver holds the requires, conflicts and synergy relations between
// component-type tags. Relations come from explicit calls and, for a
// resolver made by FromFactory, from the factory's type metadata, which is
// re-read whenever the factory's types change.
type Resolver struct {
	mu       sync.RWMutex
	explicit relations

	factory    *component.Factory
	synced     bool
	generation uint64
	derived    relations
}

func New() *Resolver {
	return &Resolver{explicit: newRelations(), derived: newRelations()}
}

// FromFactory builds a resolver that follows the metadata of every type
// registered on or declared to f.
func FromFactory(f *component.Factory) *Resolver {
	r := New()
	r.factory = f
	r.refresh()
	return r
}

// refresh rebuilds the derived relations if the factory changed.
func (r *Resolver) refresh() {
	if r.factory == nil {
		return
	}
	gen := r.factory.Generation()
	r.mu.RLock()
	current := r.synced && r.generation == gen
	r.mu.RUnlock()
	if current {
		return
	}

	derived := newRelations()
	for _, tag := range r.factory.Tags() {
		meta, _ := r.factory.Metadata(tag)
		for _, dep := range meta.Requires {
			derived.require(tag, dep)
		}
		for _, other := range meta.ConflictsWith {
			derived.conflict(tag, other)
		}
		for _, other := range meta.SynergizesWith {
			derived.synergize(tag, other)
		}
	}
	r.mu.Lock()
	r.derived = derived
	r.generation = gen
	r.synced = true
	r.mu.Unlock()
}

// Require records that tag needs dep to be present.
func (r *Resolver) Require(tag, dep string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.explicit.require(tag, dep)
}

// Conflict records that a and b cannot coexist, in both directions.
func (r *Resolver) Conflict(a, b string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.explicit.conflict(a, b)
}

// Synergize records an advisory pairing, in both directions.
func (r *Resolver) Synergize(a, b string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.explicit.synergize(a, b)
}

// related returns the union of both relation layers for tag. Callers hold
// the read lock.
func (r *Resolver) related(pick func(relations) map[string]set, tag string) set {
	out := make(set)
	for _, rel := range []relations{r.explicit, r.derived} {
		for other := range pick(rel)[tag] {
			out.add(other)
		}
	}
	return out
}

func requiresOf(rel relations) map[string]set  { return rel.requires }
func conflictsOf(rel relations) map[string]set { return rel.conflicts }
func synergiesOf(rel relations) map[string]set { return rel.synergies }

func (r *Resolver) Requires(tag string) []string {
	r.refresh()
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.related(requiresOf, tag).sorted()
}

func (r *Resolver) ConflictsWith(tag string) []string {
	r.refresh()
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.related(conflictsOf, tag).sorted()
}

func (r *Resolver) SynergizesWith(tag string) []string {
	r.refresh()
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.related(synergiesOf, tag).sorted()
}

// CheckCompatibility evaluates one candidate type against the types already
// installed on an entity.
func (r *Resolver) CheckCompatibility(candidate string, existing []string) Result {
	return r.CheckSet([]string{candidate}, existing)
}

// CheckSet evaluates every component type of one template. A dependency is
// met by an existing type or by another type in candidates; conflicts are
// checked against existing types only.
func (r *Resolver) CheckSet(candidates, existing []string) Result {
	r.refresh()
	r.mu.RLock()
	defer r.mu.RUnlock()

	missing, conflicts, synergies := make(set), make(set), make(set)
	for _, tag := range candidates {
		for dep := range r.related(requiresOf, tag) {
			if !slices.Contains(existing, dep) && !slices.Contains(candidates, dep) {
				missing.add(dep)
			}
		}
		for other := range r.related(conflictsOf, tag) {
			if slices.Contains(existing, other) {
				conflicts.add(other)
			}
		}
		for other := range r.related(synergiesOf, tag) {
			if slices.Contains(existing, other) {
				synergies.add(other)
			}
		}
	}
	return Result{
		CanInstall:          len(missing) == 0 && len(conflicts) == 0,
		MissingDependencies: missing.sorted(),
		Conflicts:           conflicts.sorted(),
		Synergies:           synergies.sorted(),
	}
}

// Describe renders the relations for tag, for tooling output.
func (r *Resolver) Describe(tag string) string {
	return fmt.Sprintf("%s requires=%v conflicts=%v synergies=%v",
		tag, r.Requires(tag), r.ConflictsWith(tag), r.SynergizesWith(tag))
}
