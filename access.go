package kiln

import "github.com/TheBitDrifter/mask"

// FilterSet is one (with, without) predicate pair: an archetype satisfies
// it iff every "with" component is present and every "without" component
// is absent. A FilteredAccess may carry several filter sets (one per Or
// branch of a query's filter), any one of which being satisfied is enough
// to match.
type FilterSet struct {
	With, Without       mask.Mask
	withIDs, withoutIDs []ComponentId
}

func (fs *FilterSet) addWith(id ComponentId) {
	fs.With.Mark(uint32(id))
	fs.withIDs = append(fs.withIDs, id)
}

func (fs *FilterSet) addWithout(id ComponentId) {
	fs.Without.Mark(uint32(id))
	fs.withoutIDs = append(fs.withoutIDs, id)
}

// satisfies reports whether signature matches this filter set.
func (fs FilterSet) satisfies(signature mask.Mask) bool {
	return signature.ContainsAll(fs.With) && signature.ContainsNone(fs.Without)
}

// disjointFrom reports whether fs and other jointly prove that no
// archetype can satisfy both: some component required ("with") by one is
// forbidden ("without") by the other.
func (fs FilterSet) disjointFrom(other FilterSet) bool {
	return fs.With.ContainsAny(other.Without) || other.With.ContainsAny(fs.Without)
}

// maskHas reports whether m has id's bit set. mask.Mask exposes only
// set-vs-set containment predicates, so membership of a single bit is
// tested against a one-bit probe mask.
func maskHas(m mask.Mask, id ComponentId) bool {
	var probe mask.Mask
	probe.Mark(uint32(id))
	return m.ContainsAll(probe)
}

func unionFilterSet(a, b FilterSet) FilterSet {
	out := FilterSet{}
	for _, id := range a.withIDs {
		out.addWith(id)
	}
	for _, id := range b.withIDs {
		out.addWith(id)
	}
	for _, id := range a.withoutIDs {
		out.addWithout(id)
	}
	for _, id := range b.withoutIDs {
		out.addWithout(id)
	}
	return out
}

// FilteredAccess is the per-query access record used by the Access Graph
// (C4, spec §4.4): which components a query reads/writes, plus the set of
// with/without filter sets describing which archetypes it can match.
type FilteredAccess struct {
	Reads, Writes mask.Mask

	readIDs, writeIDs []ComponentId
	FilterSets        []FilterSet
}

// NewFilteredAccess returns an access record with one empty filter set,
// matching a query with no With/Without predicates (i.e. matches anything
// that satisfies the fetch's required components).
func NewFilteredAccess() FilteredAccess {
	return FilteredAccess{FilterSets: []FilterSet{{}}}
}

// AddRead marks id as read by this query.
func (a *FilteredAccess) AddRead(id ComponentId) {
	if !maskHas(a.Reads, id) {
		a.Reads.Mark(uint32(id))
		a.readIDs = append(a.readIDs, id)
	}
}

// AddWrite marks id as written (and implicitly read) by this query.
func (a *FilteredAccess) AddWrite(id ComponentId) {
	a.AddRead(id)
	if !maskHas(a.Writes, id) {
		a.Writes.Mark(uint32(id))
		a.writeIDs = append(a.writeIDs, id)
	}
}

// AddWith requires id to be present, across every filter set currently on
// this access.
func (a *FilteredAccess) AddWith(id ComponentId) {
	if len(a.FilterSets) == 0 {
		a.FilterSets = []FilterSet{{}}
	}
	for i := range a.FilterSets {
		a.FilterSets[i].addWith(id)
	}
}

// AddWithout requires id to be absent, across every filter set currently
// on this access.
func (a *FilteredAccess) AddWithout(id ComponentId) {
	if len(a.FilterSets) == 0 {
		a.FilterSets = []FilterSet{{}}
	}
	for i := range a.FilterSets {
		a.FilterSets[i].addWithout(id)
	}
}

// Matches reports whether an archetype with the given signature satisfies
// at least one of this access's filter sets.
func (a FilteredAccess) Matches(signature mask.Mask) bool {
	if len(a.FilterSets) == 0 {
		return true
	}
	for _, fs := range a.FilterSets {
		if fs.satisfies(signature) {
			return true
		}
	}
	return false
}

// IsSubsetOf reports whether every component a reads or writes is also
// read, respectively written, by other. Transmute (spec §4.5) uses this to
// reject a target access that would let a query observe or mutate more
// than its source ever declared.
func (a FilteredAccess) IsSubsetOf(other FilteredAccess) bool {
	return other.Reads.ContainsAll(a.Reads) && other.Writes.ContainsAll(a.Writes)
}

// ReadIDs/WriteIDs return the component ids this access reads/writes.
func (a FilteredAccess) ReadIDs() []ComponentId  { return append([]ComponentId(nil), a.readIDs...) }
func (a FilteredAccess) WriteIDs() []ComponentId { return append([]ComponentId(nil), a.writeIDs...) }

// componentsConflict reports a read/write or write/write overlap between
// a and b on any component.
func componentsConflict(a, b FilteredAccess) bool {
	return a.Writes.ContainsAny(b.Reads) ||
		a.Writes.ContainsAny(b.Writes) ||
		a.Reads.ContainsAny(b.Writes)
}

// Compatible reports whether a and b may run concurrently (spec §4.4):
// either their component access never conflicts, or every pairing of
// their filter sets proves the archetypes they can match are disjoint.
// This is what lets a read-only view of a mutable query, and dynamically
// built with/without predicates, be proven conflict-free without the
// scheduler ever materializing matched archetypes.
func Compatible(a, b FilteredAccess) bool {
	if !componentsConflict(a, b) {
		return true
	}
	if len(a.FilterSets) == 0 || len(b.FilterSets) == 0 {
		return false
	}
	for _, fa := range a.FilterSets {
		for _, fb := range b.FilterSets {
			if !fa.disjointFrom(fb) {
				return false
			}
		}
	}
	return true
}

// Extend returns the union of a and b: reads/writes are unioned, and
// filter sets combine as a cartesian product (an archetype matches the
// result iff it matches some pairing of one set from each side).
func Extend(a, b FilteredAccess) FilteredAccess {
	out := FilteredAccess{}
	for _, id := range a.readIDs {
		out.AddRead(id)
	}
	for _, id := range b.readIDs {
		out.AddRead(id)
	}
	for _, id := range a.writeIDs {
		out.AddWrite(id)
	}
	for _, id := range b.writeIDs {
		out.AddWrite(id)
	}

	if len(a.FilterSets) == 0 {
		out.FilterSets = append(out.FilterSets, b.FilterSets...)
		return out
	}
	if len(b.FilterSets) == 0 {
		out.FilterSets = append(out.FilterSets, a.FilterSets...)
		return out
	}
	for _, fa := range a.FilterSets {
		for _, fb := range b.FilterSets {
			out.FilterSets = append(out.FilterSets, unionFilterSet(fa, fb))
		}
	}
	return out
}

// AccessGraph tracks every currently-registered query's FilteredAccess so
// a scheduler can ask, for a candidate set of systems, whether all
// pairwise accesses are conflict-free (testable property #7).
type AccessGraph struct {
	entries map[string]FilteredAccess
}

// NewAccessGraph returns an empty Access Graph.
func NewAccessGraph() *AccessGraph {
	return &AccessGraph{entries: make(map[string]FilteredAccess)}
}

// Register records access under a system/query name.
func (g *AccessGraph) Register(name string, access FilteredAccess) {
	g.entries[name] = access
}

// Unregister removes a previously registered access record.
func (g *AccessGraph) Unregister(name string) {
	delete(g.entries, name)
}

// ConflictFree reports whether every pair among the named entries is
// Compatible. An unknown name is treated as having empty (no-op) access.
func (g *AccessGraph) ConflictFree(names ...string) bool {
	for i := 0; i < len(names); i++ {
		ai := g.entries[names[i]]
		for j := i + 1; j < len(names); j++ {
			aj := g.entries[names[j]]
			if !Compatible(ai, aj) {
				return false
			}
		}
	}
	return true
}
