package kiln

import (
	"sort"

	"github.com/TheBitDrifter/mask"
	"github.com/TheBitDrifter/table"
)

// ArchetypeID identifies one archetype within a World. Archetypes are
// created lazily and never destroyed during a run (spec §3 Lifecycles).
type ArchetypeID uint32

// Archetype is the public read view onto one archetype's identity and
// storage.
type Archetype interface {
	ID() ArchetypeID
	Table() table.Table
	// Signature is the archetype's identity key: the set of component ids
	// held by every entity in it, as a bitset.
	Signature() mask.Mask
	// Components is the same signature as a sorted slice, used for
	// deterministic iteration and as an edge-cache key.
	Components() []ComponentId
}

// archetypeEdge memoizes the destination archetype reached by adding or
// removing a single component, so repeated single-component structural
// moves become O(1) after the first traversal (spec §4.2).
type archetypeEdge struct {
	add, remove       ArchetypeID
	hasAdd, hasRemove bool
}

// ArchetypeImpl is the concrete Archetype. It wraps one table.Table (which
// already satisfies the T1-T3 column invariants) and adds the sorted
// signature + edge cache the teacher's NewOrExistingArchetype recomputes
// from scratch on every call.
type ArchetypeImpl struct {
	id         ArchetypeID
	tbl        table.Table
	components []ComponentId

	edges map[ComponentId]*archetypeEdge
}

var _ Archetype = &ArchetypeImpl{}

func newArchetypeImpl(schema table.Schema, entryIndex table.EntryIndex, id ArchetypeID, components []ComponentId, elements []Component) (*ArchetypeImpl, error) {
	elems := make([]table.ElementType, len(elements))
	for i, c := range elements {
		elems[i] = c
	}
	tbl, err := table.NewTableBuilder().
		WithSchema(schema).
		WithEntryIndex(entryIndex).
		WithElementTypes(elems...).
		WithEvents(Config.tableEvents).
		Build()
	if err != nil {
		return nil, err
	}

	sorted := append([]ComponentId(nil), components...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	return &ArchetypeImpl{
		id:         id,
		tbl:        tbl,
		components: sorted,
		edges:      make(map[ComponentId]*archetypeEdge),
	}, nil
}

// ID returns the archetype's identifier.
func (a *ArchetypeImpl) ID() ArchetypeID { return a.id }

// Table returns the underlying columnar storage.
func (a *ArchetypeImpl) Table() table.Table { return a.tbl }

// Signature returns the archetype's component-set bitset, sourced directly
// from the backing table (table.Table implements mask.Maskable).
func (a *ArchetypeImpl) Signature() mask.Mask {
	return a.tbl.(mask.Maskable).Mask()
}

// Components returns the sorted component-id signature.
func (a *ArchetypeImpl) Components() []ComponentId { return a.components }

// Has reports whether the archetype's signature contains id.
func (a *ArchetypeImpl) Has(id ComponentId) bool {
	for _, c := range a.components {
		if c == id {
			return true
		}
	}
	return false
}

func (a *ArchetypeImpl) addEdge(id ComponentId) (ArchetypeID, bool) {
	e, ok := a.edges[id]
	if !ok || !e.hasAdd {
		return 0, false
	}
	return e.add, true
}

func (a *ArchetypeImpl) removeEdge(id ComponentId) (ArchetypeID, bool) {
	e, ok := a.edges[id]
	if !ok || !e.hasRemove {
		return 0, false
	}
	return e.remove, true
}

func (a *ArchetypeImpl) cacheAddEdge(id ComponentId, dest ArchetypeID) {
	e := a.edges[id]
	if e == nil {
		e = &archetypeEdge{}
		a.edges[id] = e
	}
	e.add, e.hasAdd = dest, true
}

func (a *ArchetypeImpl) cacheRemoveEdge(id ComponentId, dest ArchetypeID) {
	e := a.edges[id]
	if e == nil {
		e = &archetypeEdge{}
		a.edges[id] = e
	}
	e.remove, e.hasRemove = dest, true
}
