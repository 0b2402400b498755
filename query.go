package kiln

import (
	"fmt"
	"iter"
	"runtime"

	"github.com/TheBitDrifter/bark"
	"github.com/TheBitDrifter/mask"
	"golang.org/x/sync/errgroup"
)

// Query is a composable builder for the boolean And/Or/Not tree a
// QueryState uses as its Filter half. Kept from the teacher's query.go
// essentially unchanged: the archetype-signature matching it does is
// exactly C5's Filter contract.
type Query interface {
	QueryNode
	And(items ...interface{}) QueryNode
	Or(items ...interface{}) QueryNode
	Not(items ...interface{}) QueryNode
}

// QueryNode is one node in the filter tree.
type QueryNode interface {
	Evaluate(archetype Archetype, storage Storage) bool
}

// QueryOperation is a boolean connective between query nodes.
type QueryOperation int

const (
	OpAnd QueryOperation = iota
	OpOr
	OpNot
)

type compositeNode struct {
	op         QueryOperation
	children   []QueryNode
	components []Component
}

type leafNode struct {
	components []Component
}

type query struct {
	root QueryNode
}

// NewQuery returns an empty, composable Query.
func NewQuery() Query { return &query{} }

func newCompositeNode(op QueryOperation, components []Component) *compositeNode {
	return &compositeNode{op: op, children: make([]QueryNode, 0), components: components}
}

func newLeafNode(components []Component) *leafNode {
	return &leafNode{components: components}
}

func (n *compositeNode) Evaluate(archetype Archetype, storage Storage) bool {
	var nodeMask mask.Mask
	for _, comp := range n.components {
		nodeMask.Mark(storage.RowIndexFor(comp))
	}
	archMask := archetype.Signature()

	switch n.op {
	case OpAnd:
		if !archMask.ContainsAll(nodeMask) {
			return false
		}
		for _, child := range n.children {
			if !child.Evaluate(archetype, storage) {
				return false
			}
		}
		return true
	case OpOr:
		if archMask.ContainsAny(nodeMask) {
			return true
		}
		for _, child := range n.children {
			if child.Evaluate(archetype, storage) {
				return true
			}
		}
		return false
	case OpNot:
		if len(n.children) == 0 {
			return archMask.ContainsNone(nodeMask)
		}
		if len(n.components) > 0 && !archMask.ContainsNone(nodeMask) {
			return false
		}
		for _, child := range n.children {
			if child.Evaluate(archetype, storage) {
				return false
			}
		}
		return true
	}
	return false
}

func (n *leafNode) Evaluate(archetype Archetype, storage Storage) bool {
	var nodeMask mask.Mask
	for _, comp := range n.components {
		nodeMask.Mark(storage.RowIndexFor(comp))
	}
	return archetype.Signature().ContainsAll(nodeMask)
}

func (q *query) And(items ...interface{}) QueryNode {
	components, children := q.processItems(items...)
	node := newCompositeNode(OpAnd, components)
	node.children = children
	if q.root == nil {
		q.root = node
	}
	return node
}

func (q *query) Or(items ...interface{}) QueryNode {
	components, children := q.processItems(items...)
	node := newCompositeNode(OpOr, components)
	node.children = children
	if q.root == nil {
		q.root = node
	}
	return node
}

func (q *query) Not(items ...interface{}) QueryNode {
	components, children := q.processItems(items...)
	node := newCompositeNode(OpNot, components)
	node.children = children
	if q.root == nil {
		q.root = node
	}
	return node
}

func (q *query) validateQueryItems(items ...interface{}) error {
	for _, item := range items {
		switch item.(type) {
		case Component, []Component, QueryNode, Query:
			continue
		default:
			return fmt.Errorf("invalid query item type: %T. Only Component, []Component, or QueryNode are allowed", item)
		}
	}
	return nil
}

func (q *query) processItems(items ...interface{}) ([]Component, []QueryNode) {
	if err := q.validateQueryItems(items...); err != nil {
		panic(bark.AddTrace(err))
	}
	components := make([]Component, 0)
	children := make([]QueryNode, 0)
	for _, item := range items {
		switch v := item.(type) {
		case Component:
			components = append(components, v)
		case []Component:
			components = append(components, v...)
		case QueryNode:
			children = append(children, v)
		}
	}
	return components, children
}

func (q *query) Evaluate(archetype Archetype, storage Storage) bool {
	if q.root == nil {
		return false
	}
	return q.root.Evaluate(archetype, storage)
}

// QueryState is C5: a cached (Fetch, Filter) pair bound to one World.
// Filter is the boolean And/Or/Not tree above; Fetch is the
// FilteredAccess describing which components the query reads/writes
// (used by the Access Graph, and by Transmute/Join below to prove a
// target shape is reachable). The matched-archetype cache only grows
// (archetypes are never destroyed, spec §3), so UpdateArchetypes only
// has to scan the suffix created since its last call.
type QueryState struct {
	worldID WorldID
	filter  QueryNode
	access  FilteredAccess

	archGeneration int
	matched        []*ArchetypeImpl
}

// NewQueryState builds a QueryState scoped to w, evaluating filter
// against every archetype that already exists.
func NewQueryState(w *World, filter QueryNode, access FilteredAccess) *QueryState {
	qs := &QueryState{worldID: w.ID(), filter: filter, access: access}
	qs.UpdateArchetypes(w)
	return qs
}

// Access returns the FilteredAccess this query was built with, for
// registration on an AccessGraph.
func (qs *QueryState) Access() FilteredAccess { return qs.access }

func (qs *QueryState) checkWorld(w *World) {
	if w.ID() != qs.worldID {
		panic(WorldMismatchError{Want: qs.worldID, Got: w.ID()})
	}
}

// UpdateArchetypes re-evaluates Filter against any archetype created
// since the last call, extending the matched-archetype cache (spec §4.5:
// a query observes archetypes created after it was built).
func (qs *QueryState) UpdateArchetypes(w *World) {
	qs.checkWorld(w)
	all := w.archetypesByID
	for i := qs.archGeneration; i < len(all); i++ {
		a := all[i]
		if a == nil {
			continue
		}
		if qs.filter == nil || qs.filter.Evaluate(a, w) {
			qs.matched = append(qs.matched, a)
		}
	}
	qs.archGeneration = len(all)
}

// seededCursor builds a Cursor pre-populated with QueryState's cached
// matched archetypes, skipping the archetype-by-archetype re-evaluation
// Cursor.Initialize would otherwise do against Filter (already done, and
// kept incrementally current, by UpdateArchetypes).
func (qs *QueryState) seededCursor(w *World) *Cursor {
	c := newCursor(qs.filter, w)
	c.lockBit = w.NextLockBit()
	w.AddLock(c.lockBit)
	c.matchedStorages = qs.matched
	if len(c.matchedStorages) > 0 {
		c.currentArchetype = c.matchedStorages[0]
		c.remaining = c.currentArchetype.Table().Length()
	}
	c.initialized = true
	return c
}

// IsDense reports whether every component this query reads or writes is
// table-backed. A query touching any sparse-set component (spec §3) can't
// be driven by walking matched archetype tables, since a sparse component
// never appears in an archetype signature.
func (qs *QueryState) IsDense(w *World) bool {
	for _, id := range qs.access.ReadIDs() {
		if info, ok := w.registry.info(id); ok && info.Storage == StorageSparseSet {
			return false
		}
	}
	return true
}

// iterSparse drives iteration off the first sparse component in access
// rather than an archetype Cursor. Each candidate entity is still checked
// against Filter (for whatever dense components the query also requires)
// and against every other sparse component access reads or writes, so a
// mixed dense/sparse query yields the same entities Iter's dense path
// would, just reached by a different route.
func (qs *QueryState) iterSparse(w *World) iter.Seq2[Entity, int] {
	ids := qs.access.ReadIDs()
	driver, found := ComponentId(0), false
	for _, id := range ids {
		if info, ok := w.registry.info(id); ok && info.Storage == StorageSparseSet {
			driver, found = id, true
			break
		}
	}
	return func(yield func(Entity, int) bool) {
		if !found {
			return
		}
		for _, idx := range w.sparseColumnIndices(driver) {
			en, ok := w.entityAtIndex(idx)
			if !ok {
				continue
			}
			if qs.filter != nil {
				arch, ok := w.archetypeForTable(en.Table())
				if !ok || !qs.filter.Evaluate(arch, w) {
					continue
				}
			}
			matched := true
			for _, id := range ids {
				info, ok := w.registry.info(id)
				if !ok || info.Storage != StorageSparseSet {
					continue
				}
				if !w.sparseHas(id, idx) {
					matched = false
					break
				}
			}
			if !matched {
				continue
			}
			if !yield(en, en.Index()) {
				return
			}
		}
	}
}

// Iter returns a dense, row-ordered iterator over every entity currently
// matched, refreshing the archetype cache first. Built on Cursor.Entities
// over a cache already narrowed by UpdateArchetypes. A query whose access
// touches a sparse-set component is instead driven by iterSparse, since
// its matched archetypes never carry that component in their signature.
func (qs *QueryState) Iter(w *World) iter.Seq2[Entity, int] {
	qs.checkWorld(w)
	qs.UpdateArchetypes(w)
	if !qs.IsDense(w) {
		return qs.iterSparse(w)
	}
	cur := qs.seededCursor(w)
	return func(yield func(Entity, int) bool) {
		for row, tbl := range cur.Entities() {
			entry, err := tbl.Entry(row)
			if err != nil {
				continue
			}
			en, err := w.Entity(int(entry.ID()))
			if err != nil {
				continue
			}
			if !yield(en, row) {
				cur.Reset()
				return
			}
		}
	}
}

// Get returns the single entity handle by EntityID if it is live and
// matches this query's Filter, or the applicable §7 error otherwise.
func (qs *QueryState) Get(w *World, id EntityID) (Entity, error) {
	qs.checkWorld(w)
	en, err := w.Locate(id)
	if err != nil {
		return nil, err
	}
	qs.UpdateArchetypes(w)
	archID, ok := w.archetypeByTable[en.Table()]
	if !ok {
		return nil, QueryDoesNotMatchError{Entity: id}
	}
	for _, a := range qs.matched {
		if a.ID() == archID {
			return en, nil
		}
	}
	return nil, QueryDoesNotMatchError{Entity: id}
}

// IterMany returns entities for the given ids, in the order given,
// skipping ids that are dead or don't match. Read-only callers may repeat
// ids; callers needing mutable access should de-duplicate themselves
// (IterMany never reports duplicates; nothing in this package returns
// AliasedMutabilityError).
func (qs *QueryState) IterMany(w *World, ids []EntityID) iter.Seq2[int, Entity] {
	qs.checkWorld(w)
	qs.UpdateArchetypes(w)
	return func(yield func(int, Entity) bool) {
		for i, id := range ids {
			en, err := qs.Get(w, id)
			if err != nil {
				continue
			}
			if !yield(i, en) {
				return
			}
		}
	}
}

// ParFold folds over matched entities in parallel batches of batchSize,
// combining each goroutine's partial result with combine. Grounded on
// golang.org/x/sync/errgroup as the bounded worker pool (spec §5): each
// matched archetype's table is split into contiguous row ranges so no
// two goroutines ever touch the same row.
func ParFold[R any](qs *QueryState, w *World, batchSize int, zero R, fold func(Entity, int, R) R, combine func(R, R) R) (R, error) {
	qs.checkWorld(w)
	qs.UpdateArchetypes(w)
	if batchSize < 1 {
		batchSize = 1
	}

	type batch struct {
		arch       *ArchetypeImpl
		start, end int
	}
	var batches []batch
	for _, a := range qs.matched {
		n := a.Table().Length()
		for start := 0; start < n; start += batchSize {
			end := start + batchSize
			if end > n {
				end = n
			}
			batches = append(batches, batch{arch: a, start: start, end: end})
		}
	}

	results := make([]R, len(batches))
	bit := w.NextLockBit()
	w.AddLock(bit)
	defer w.RemoveLock(bit)

	g := new(errgroup.Group)
	g.SetLimit(runtime.GOMAXPROCS(0)) // one worker per usable CPU; each batch is an independent row range, never contended
	for i, b := range batches {
		i, b := i, b
		g.Go(func() error {
			acc := zero
			tbl := b.arch.Table()
			for row := b.start; row < b.end; row++ {
				entry, err := tbl.Entry(row)
				if err != nil {
					continue
				}
				en, err := w.Entity(int(entry.ID()))
				if err != nil {
					continue
				}
				acc = fold(en, row, acc)
			}
			results[i] = acc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return zero, err
	}

	out := zero
	for _, r := range results {
		out = combine(out, r)
	}
	return out, nil
}

// Transmute rebuilds this QueryState's Filter/Fetch for a different
// target shape, reusing the already-discovered matched archetypes that
// still satisfy it rather than rescanning from scratch. If archetypes have
// been created in w since this QueryState last ran UpdateArchetypes
// (whether or not target matches them), a StaleQueryWarning is published
// on w's Bus; UpdateArchetypes is then run on the result before returning (spec
// §9 Open Question: surfaced as an event rather than silently returning
// stale results).
func (qs *QueryState) Transmute(w *World, target QueryNode, access FilteredAccess) *QueryState {
	qs.checkWorld(w)
	if !access.IsSubsetOf(qs.access) {
		panic(TransmuteAccessError{Source: qs.access, Target: access})
	}
	if qs.archGeneration < len(w.archetypesByID) {
		Publish(w.bus, StaleQueryWarning{SeenGeneration: qs.archGeneration, CurrentGeneration: len(w.archetypesByID)})
	}
	out := &QueryState{worldID: w.ID(), filter: target, access: access}
	for _, a := range qs.matched {
		if target == nil || target.Evaluate(a, w) {
			out.matched = append(out.matched, a)
		}
	}
	out.archGeneration = qs.archGeneration
	out.UpdateArchetypes(w)
	return out
}

// Join returns the QueryState matching archetypes satisfying both qs and
// other's filters, with Fetch access Extended across both (spec §4.5's
// Join operation). A generation mismatch between the two inputs is
// reported the same way Transmute reports one.
func Join(w *World, a, b *QueryState) *QueryState {
	a.checkWorld(w)
	b.checkWorld(w)
	if a.archGeneration != len(w.archetypesByID) || b.archGeneration != len(w.archetypesByID) {
		Publish(w.bus, StaleQueryWarning{
			SeenGeneration:    min(a.archGeneration, b.archGeneration),
			CurrentGeneration: len(w.archetypesByID),
		})
	}
	a.UpdateArchetypes(w)
	b.UpdateArchetypes(w)

	joined := &QueryState{worldID: w.ID(), access: Extend(a.access, b.access)}
	var filters []QueryNode
	for _, f := range []QueryNode{a.filter, b.filter} {
		if f != nil {
			filters = append(filters, f)
		}
	}
	if len(filters) > 0 {
		joined.filter = &compositeNode{op: OpAnd, children: filters}
	}
	bSet := make(map[ArchetypeID]bool, len(b.matched))
	for _, arch := range b.matched {
		bSet[arch.ID()] = true
	}
	for _, arch := range a.matched {
		if bSet[arch.ID()] {
			joined.matched = append(joined.matched, arch)
		}
	}
	joined.archGeneration = len(w.archetypesByID)
	return joined
}
