package kiln

import "github.com/TheBitDrifter/table"

// factory implements the factory pattern for kiln components.
type factory struct{}

// Factory is the global factory instance for creating kiln components.
var Factory factory

// NewWorld creates a new, empty World. Replaces the teacher's
// Factory.NewStorage(schema), since a World now owns its own schema
// rather than taking one from the caller (spec §3: a World must be able
// to allocate its own entity/archetype identity independent of any other
// World).
func (f factory) NewWorld() *World {
	return NewWorld()
}

// NewQuery creates a new, empty Query builder for composing a filter
// tree via And/Or/Not.
func (f factory) NewQuery() Query {
	return NewQuery()
}

// NewCursor creates a new Cursor with the specified query and storage.
// Most callers should prefer NewQueryState, which wraps a Cursor with an
// incrementally-updated archetype cache; NewCursor remains for callers
// that want the teacher's original uncached, per-call iteration.
func (f factory) NewCursor(query QueryNode, storage Storage) *Cursor {
	return newCursor(query, storage)
}

// NewQueryState creates a QueryState: the cached archetype match set and
// FilteredAccess that make it C5's incremental query.
func (f factory) NewQueryState(w *World, filter QueryNode, access FilteredAccess) *QueryState {
	return NewQueryState(w, filter, access)
}

// NewAccessGraph creates an empty AccessGraph for registering named
// queries' FilteredAccess and checking them for conflicts.
func (f factory) NewAccessGraph() *AccessGraph {
	return NewAccessGraph()
}

// NewCommandQueue creates a CommandQueue targeting the given Storage.
// Most callers should use the one already attached to a World
// (World.Commands) rather than building a second, detached queue.
func (f factory) NewCommandQueue(target Storage) *CommandQueue {
	return newCommandQueue(target)
}

// NewBus creates an event/observer Bus whose CommandWriter enqueues onto
// queue.
func (f factory) NewBus(queue *CommandQueue) *Bus {
	return newBus(queue)
}

// FactoryNewComponent creates a new AccessibleComponent for type T.
func FactoryNewComponent[T any]() AccessibleComponent[T] {
	iden := table.FactoryNewElementType[T]()
	return AccessibleComponent[T]{
		Component: iden,
		Accessor:  table.FactoryNewAccessor[T](iden),
	}
}

// FactoryNewCache creates a new Cache with the specified capacity.
func FactoryNewCache[T any](cap int) Cache[T] {
	return &SimpleCache[T]{
		itemIndices: make(map[string]int),
		maxCapacity: cap,
	}
}
