package kiln

import (
	"fmt"
	"sync/atomic"

	"github.com/TheBitDrifter/bark"
	"github.com/TheBitDrifter/mask"
	"github.com/TheBitDrifter/table"
)

// WorldID distinguishes one World from another for the fatal world-mismatch
// check (§7): a QueryState, Cursor, or Entity created against one World must
// never be used against a different one.
type WorldID uint64

var nextWorldID uint64

func newWorldID() WorldID {
	return WorldID(atomic.AddUint64(&nextWorldID, 1))
}

// Storage is the structural-mutation surface an Entity calls back into.
// Kept as its own interface (the teacher's own split between Entity and
// Storage) so the extraction bridge and tests can narrow the view a given
// component sees. *World is the only implementation.
type Storage interface {
	Entity(id int) (Entity, error)
	NewEntities(int, ...Component) ([]Entity, error)
	NewOrExistingArchetype(components ...Component) (Archetype, error)
	EnqueueNewEntities(int, ...Component) error
	DestroyEntities(...Entity) error
	EnqueueDestroyEntities(...Entity) error
	RowIndexFor(Component) uint32
	Locked() bool
	AddLock(bit uint32)
	RemoveLock(bit uint32)
	Register(...Component)
	tableFor(...Component) (table.Table, error)

	TransferEntities(target Storage, entities ...Entity) error
	Enqueue(Command)
	Archetypes() []Archetype
	Changes() *changeTracker
	CurrentTick() Tick
	Bus() *Bus
	Resources() *Resources
	NextLockBit() uint32

	// archetypeForTable and archetypeByID back the archetype edge cache
	// (spec §4.2): they let a structural move look up the archetype it
	// came from and the archetype an edge points to without walking
	// archetypesBySig, which is what makes a cached move O(1).
	archetypeForTable(t table.Table) (*ArchetypeImpl, bool)
	archetypeByID(id ArchetypeID) *ArchetypeImpl

	// sparseSet/sparseGet/sparseHas/sparseRemove back SparseAccessor[T]
	// (spec §3, StorageKind.SparseSet): the mutation/read surface a
	// component accessor calls through, keyed by EntityID.Index rather
	// than archetype table row.
	sparseSet(id ComponentId, idx uint32, value any)
	sparseGet(id ComponentId, idx uint32) (any, bool)
	sparseHas(id ComponentId, idx uint32) bool
	sparseRemove(id ComponentId, idx uint32)
}

var _ Storage = &World{}

// World owns one archetype graph, its entity allocator, the registries
// layered on top (components, resources, commands, events), and the
// world's logical clock. Replaces the teacher's package-level
// globalEntryIndex/globalEntities with per-World state, so two Worlds
// (e.g. a main simulation world and a render world, per C8) never share
// identity.
type World struct {
	id WorldID

	schema     table.Schema
	entryIndex table.EntryIndex
	registry   *registry

	locks mask.Mask256

	archetypesBySig  map[mask.Mask]ArchetypeID
	archetypesByID   []*ArchetypeImpl
	archetypeByTable map[table.Table]ArchetypeID

	entities    []entityRecord
	freeList    []uint32
	entryLookup []Entity // index i holds the Entity for table.EntryID(i+1), mirroring the teacher's globalEntities

	resources *Resources
	commands  *CommandQueue
	bus       *Bus

	changes *changeTracker

	tick       Tick
	sinceClamp Tick

	lockBitCounter uint32

	// sparseColumns backs every component registered via RegisterSparse
	// (spec §3 StorageKind.SparseSet): one column per component id, keyed
	// by EntityID.Index, entirely outside archetypesByID/archetypeByTable.
	sparseColumns map[ComponentId]sparseColumnHandle
}

// NewWorld creates an empty World ready to register components and spawn
// entities into.
func NewWorld() *World {
	schema := table.Factory.NewSchema()
	w := &World{
		id:               newWorldID(),
		schema:           schema,
		entryIndex:       table.Factory.NewEntryIndex(),
		archetypesBySig:  make(map[mask.Mask]ArchetypeID),
		archetypeByTable: make(map[table.Table]ArchetypeID),
		resources:        newResources(),
		sparseColumns:    make(map[ComponentId]sparseColumnHandle),
	}
	w.registry = newRegistry(schema)
	w.commands = newCommandQueue(w)
	w.bus = newBus(w.commands)
	w.changes = newChangeTracker()
	return w
}

// Changes returns the World's change-detection tick store (table_state.go).
func (w *World) Changes() *changeTracker { return w.changes }

// ID returns the World's identity, used by the fatal world-mismatch check.
func (w *World) ID() WorldID { return w.id }

// Resources returns the World's typed singleton registry.
func (w *World) Resources() *Resources { return w.resources }

// Commands returns the World's deferred-mutation queue.
func (w *World) Commands() *CommandQueue { return w.commands }

// Bus returns the World's event/observer bus.
func (w *World) Bus() *Bus { return w.bus }

// CurrentTick returns the World's current logical clock value.
func (w *World) CurrentTick() Tick { return w.tick }

// AdvanceTick increments the World's logical clock by one and returns the
// new value. Entity creation, AddComponent and GetMutFromCursor stamp
// ComponentTicks (table_state.go) against the value current at the time of
// the call.
// Clamping (spec §3, Open Question resolved in SPEC_FULL.md) runs once per
// MaxDelta ticks rather than on every call, since clamping the full
// change-tick table on every frame would waste O(archetypes*components)
// work on the common case.
func (w *World) AdvanceTick() Tick {
	w.tick++
	w.sinceClamp++
	if w.sinceClamp >= MaxDelta {
		w.clampChangeTicks()
		w.sinceClamp = 0
	}
	return w.tick
}

func (w *World) clampChangeTicks() {
	w.changes.clampAll(w.tick)
}

// Entity retrieves the entity at the given 1-based table.EntryID.
func (w *World) Entity(id int) (Entity, error) {
	if id < 1 || id > len(w.entryLookup) || w.entryLookup[id-1] == nil {
		return nil, EntityDoesNotExistError{}
	}
	return w.entryLookup[id-1], nil
}

// indexByEntryID records en under its table.EntryID so Entity(id) is O(1),
// growing entryLookup as needed. Mirrors the teacher's globalEntities
// slice, scoped per-World.
func (w *World) indexByEntryID(en *entity) {
	idx := int(en.id) - 1
	if idx < 0 {
		return
	}
	if idx >= len(w.entryLookup) {
		grown := make([]Entity, idx+1)
		copy(grown, w.entryLookup)
		w.entryLookup = grown
	}
	w.entryLookup[idx] = en
}

// Reserve allocates an EntityID slot without placing it into any
// archetype yet (spec §4.3). The entity becomes queryable only once
// flushOne places it; no command or exported method calls flushOne, so a
// reserved slot stays unflushed until Free releases it.
func (w *World) Reserve() EntityID {
	if n := len(w.freeList); n > 0 {
		idx := w.freeList[n-1]
		w.freeList = w.freeList[:n-1]
		rec := &w.entities[idx]
		rec.state = entityReserved
		rec.handle = nil
		return EntityID{Index: idx, Generation: rec.generation}
	}
	idx := uint32(len(w.entities))
	w.entities = append(w.entities, entityRecord{generation: 1, state: entityReserved})
	return EntityID{Index: idx, Generation: 1}
}

// Alive reports whether id refers to a currently live (flushed, not
// freed) entity.
func (w *World) Alive(id EntityID) bool {
	if int(id.Index) >= len(w.entities) {
		return false
	}
	rec := &w.entities[id.Index]
	return rec.generation == id.Generation && rec.state == entityFlushed
}

// Locate resolves id to its live Entity, or EntityDoesNotExistError if id
// is stale, freed, or still pending flush.
func (w *World) Locate(id EntityID) (Entity, error) {
	if !w.Alive(id) {
		return nil, EntityDoesNotExistError{Entity: id}
	}
	return w.entities[id.Index].handle, nil
}

// Free releases a reserved-but-never-flushed slot back to the pool,
// bumping its generation so any outstanding EntityID for it is
// permanently invalidated.
func (w *World) Free(id EntityID) {
	if int(id.Index) >= len(w.entities) {
		return
	}
	rec := &w.entities[id.Index]
	if rec.generation != id.Generation {
		return
	}
	rec.generation++
	rec.state = entityFree
	rec.handle = nil
	w.freeList = append(w.freeList, id.Index)
}

// flushOne places a reserved slot into the archetype matching components,
// backing it with a real table.Entry, and marks it flushed.
func (w *World) flushOne(id EntityID, components ...Component) (Entity, error) {
	rec := &w.entities[id.Index]
	if rec.generation != id.Generation || rec.state != entityReserved {
		return nil, EntityDoesNotExistError{Entity: id}
	}
	arch, err := w.NewOrExistingArchetype(components...)
	if err != nil {
		return nil, err
	}
	impl := arch.(*ArchetypeImpl)
	entries, err := impl.Table().NewEntries(1)
	if err != nil {
		return nil, err
	}
	en := &entity{
		Entry:      entries[0],
		id:         entries[0].ID(),
		handle:     id,
		sto:        w,
		components: components,
	}
	rec.state = entityFlushed
	rec.handle = en
	w.indexByEntryID(en)
	for _, cid := range impl.Components() {
		w.changes.stampInserted(en.id, cid, w.tick)
	}
	Publish(w.bus, EntityInserted{Entity: id, Archetype: impl.ID()})
	return en, nil
}

// NewOrExistingArchetype returns the archetype for the given component
// set, creating and caching it (with its edge-cache entries) if it does
// not yet exist. Generalizes the teacher's NewOrExistingArchetype, which
// recomputed idsGroupedByMask on every call with no edge memoization.
func (w *World) NewOrExistingArchetype(components ...Component) (Archetype, error) {
	ids := make([]ComponentId, len(components))
	var sig mask.Mask
	for i, c := range components {
		id := w.registry.register(c)
		ids[i] = id
		sig.Mark(uint32(id))
	}
	if archID, ok := w.archetypesBySig[sig]; ok {
		return w.archetypesByID[archID], nil
	}

	id := ArchetypeID(len(w.archetypesByID))
	impl, err := newArchetypeImpl(w.schema, w.entryIndex, id, ids, components)
	if err != nil {
		return nil, err
	}
	w.archetypesByID = append(w.archetypesByID, impl)
	w.archetypesBySig[sig] = id
	w.archetypeByTable[impl.Table()] = id
	Publish(w.bus, ArchetypeCreated{Archetype: id})
	return impl, nil
}

// NewEntities creates n entities sharing the given component set,
// returning them already flushed (no Reserve step).
func (w *World) NewEntities(n int, components ...Component) ([]Entity, error) {
	if w.Locked() {
		return nil, LockedStorageError{}
	}
	arch, err := w.NewOrExistingArchetype(components...)
	if err != nil {
		return nil, err
	}
	impl := arch.(*ArchetypeImpl)
	entries, err := impl.Table().NewEntries(n)
	if err != nil {
		return nil, err
	}

	out := make([]Entity, n)
	for i, entry := range entries {
		idx := uint32(len(w.entities))
		w.entities = append(w.entities, entityRecord{generation: 1, state: entityFlushed})
		handle := EntityID{Index: idx, Generation: 1}
		en := &entity{
			Entry:      entry,
			id:         entry.ID(),
			handle:     handle,
			sto:        w,
			components: components,
		}
		w.entities[idx].handle = en
		w.indexByEntryID(en)
		out[i] = en
		for _, cid := range impl.Components() {
			w.changes.stampInserted(en.id, cid, w.tick)
		}
		Publish(w.bus, EntityInserted{Entity: handle, Archetype: impl.ID()})
	}
	return out, nil
}

// RowIndexFor returns c's schema-assigned row index (its ComponentId).
func (w *World) RowIndexFor(c Component) uint32 {
	return w.schema.RowIndexFor(c)
}

// Locked reports whether any structural lock bit is set.
func (w *World) Locked() bool { return !w.locks.IsEmpty() }

// NextLockBit hands out one of mask.Mask256's 256 lock bits, round-robin,
// so independent concurrent cursors/queries each hold their own bit
// rather than contending over a single flag (the teacher's cursor.go used
// a no-argument AddLock/PopLock pair that assumed a single-holder stack;
// this generalizes it to the bitset RemoveLock/AddLock the rest of
// storage.go already uses).
func (w *World) NextLockBit() uint32 {
	bit := w.lockBitCounter % 256
	w.lockBitCounter++
	return bit
}

// AddLock marks lock bit. Held by a Cursor between Initialize and Reset, and
// by QueryState iteration and ParFold while they run.
func (w *World) AddLock(bit uint32) { w.locks.Mark(bit) }

// RemoveLock clears lock bit and, if no locks remain, drains the command
// queue.
func (w *World) RemoveLock(bit uint32) {
	w.locks.Unmark(bit)
	if w.locks.IsEmpty() {
		if err := w.commands.ProcessAll(); err != nil {
			panic(bark.AddTrace(fmt.Errorf("error processing queued commands: %w", err)))
		}
	}
}

// EnqueueNewEntities creates entities immediately if unlocked, or defers
// the spawn as a command otherwise.
func (w *World) EnqueueNewEntities(count int, components ...Component) error {
	if !w.Locked() {
		_, err := w.NewEntities(count, components...)
		return err
	}
	w.commands.Enqueue(NewEntityOperation{count: count, components: components})
	return nil
}

// DestroyEntities removes entities from storage immediately.
func (w *World) DestroyEntities(entities ...Entity) error {
	if w.Locked() {
		return LockedStorageError{}
	}
	tableGroups := make(map[table.Table][]int)
	for _, en := range entities {
		if en == nil {
			continue
		}
		tableGroups[en.Table()] = append(tableGroups[en.Table()], en.Index())
	}
	for tbl, idxs := range tableGroups {
		if _, err := tbl.DeleteEntries(idxs...); err != nil {
			return fmt.Errorf("failed to delete entries: %w", err)
		}
	}
	for _, en := range entities {
		if en == nil {
			continue
		}
		handle := en.Handle()
		if int(handle.Index) >= len(w.entities) {
			continue
		}
		archID := w.archetypeByTable[en.Table()]
		rec := &w.entities[handle.Index]
		rec.generation++
		rec.state = entityFree
		rec.handle = nil
		w.freeList = append(w.freeList, handle.Index)
		if idx := int(en.ID()) - 1; idx >= 0 && idx < len(w.entryLookup) {
			w.entryLookup[idx] = nil
		}
		if int(archID) < len(w.archetypesByID) && w.archetypesByID[archID] != nil {
			w.changes.forgetEntity(en.ID(), w.archetypesByID[archID].Components())
		}
		Publish(w.bus, EntityRemoved{Entity: handle, Archetype: archID})
		if concrete, ok := en.(*entity); ok {
			concrete.id = 0
		}
	}
	return nil
}

// EnqueueDestroyEntities destroys immediately if unlocked, or defers as a
// command otherwise.
func (w *World) EnqueueDestroyEntities(entities ...Entity) error {
	if !w.Locked() {
		return w.DestroyEntities(entities...)
	}
	for _, en := range entities {
		w.commands.Enqueue(DestroyEntityOperation{entity: en, recycled: en.Recycled()})
	}
	return nil
}

// TransferEntities moves entities from w into target, re-homing each
// entity's Storage pointer.
func (w *World) TransferEntities(target Storage, entities ...Entity) error {
	if w.Locked() {
		return LockedStorageError{}
	}
	for _, en := range entities {
		comps := en.Components()
		target.Register(comps...)
		targetTbl, err := target.tableFor(comps...)
		if err != nil {
			return err
		}
		if err := en.Table().TransferEntries(targetTbl, en.Index()); err != nil {
			return err
		}
		en.SetStorage(target)
	}
	return nil
}

// Register ensures every component in comps has a schema row, without
// creating an archetype.
func (w *World) Register(comps ...Component) {
	for _, c := range comps {
		w.registry.register(c)
	}
}

// Enqueue appends cmd to the World's command queue under the default
// (Panic) error policy.
func (w *World) Enqueue(cmd Command) { w.commands.Enqueue(cmd) }

// Archetypes returns every archetype created in this World so far.
func (w *World) Archetypes() []Archetype {
	out := make([]Archetype, len(w.archetypesByID))
	for i, a := range w.archetypesByID {
		out[i] = a
	}
	return out
}

// archetypeForTable finds the archetype currently backed by t, so a
// structural move can read its edge cache without recomputing a
// signature.
func (w *World) archetypeForTable(t table.Table) (*ArchetypeImpl, bool) {
	id, ok := w.archetypeByTable[t]
	if !ok {
		return nil, false
	}
	return w.archetypesByID[id], true
}

// archetypeByID resolves an edge-cache destination back into its
// archetype. archetypesByID is append-only and indexed by ArchetypeID, so
// this is a plain slice index.
func (w *World) archetypeByID(id ArchetypeID) *ArchetypeImpl {
	return w.archetypesByID[id]
}

// sparseColumnIndices returns the entity indices currently holding a value
// for the sparse component id, or nil if nothing has been registered or
// set. Used by QueryState.Iter's non-dense path (spec §4.5) to drive
// iteration directly off a sparse column instead of archetype tables.
func (w *World) sparseColumnIndices(id ComponentId) []uint32 {
	col, ok := w.sparseColumns[id]
	if !ok {
		return nil
	}
	return col.indices()
}

// sparseHas reports whether the sparse component id currently holds a
// value for the entity at index idx.
func (w *World) sparseHas(id ComponentId, idx uint32) bool {
	col, ok := w.sparseColumns[id]
	return ok && col.has(idx)
}

// sparseSet stores value for the sparse component id at entity index idx.
// A miss (id never registered via RegisterSparse) is silently dropped,
// mirroring how writing to an unregistered table column would panic only
// once it's actually read.
func (w *World) sparseSet(id ComponentId, idx uint32, value any) {
	col, ok := w.sparseColumns[id]
	if !ok {
		return
	}
	col.set(idx, value)
}

// sparseGet returns the sparse component id's value at idx, if any.
func (w *World) sparseGet(id ComponentId, idx uint32) (any, bool) {
	col, ok := w.sparseColumns[id]
	if !ok {
		return nil, false
	}
	return col.get(idx)
}

// sparseRemove clears the sparse component id's value at idx, if any.
func (w *World) sparseRemove(id ComponentId, idx uint32) {
	col, ok := w.sparseColumns[id]
	if ok {
		col.remove(idx)
	}
}

// entityAtIndex resolves a live entity allocator slot directly by index,
// without requiring the caller to already know its generation. Used by
// the sparse iteration path, whose driving set is a set of indices rather
// than EntityID handles.
func (w *World) entityAtIndex(idx uint32) (Entity, bool) {
	if int(idx) >= len(w.entities) {
		return nil, false
	}
	rec := &w.entities[idx]
	if rec.state != entityFlushed {
		return nil, false
	}
	return rec.handle, true
}

// tableFor returns (creating if necessary) the table backing the
// archetype matching comps.
func (w *World) tableFor(comps ...Component) (table.Table, error) {
	arch, err := w.NewOrExistingArchetype(comps...)
	if err != nil {
		return nil, err
	}
	return arch.Table(), nil
}
