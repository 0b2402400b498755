package kiln

import (
	"reflect"
	"sort"

	"github.com/TheBitDrifter/table"
)

// Component represents a data attribute/state that can be attached to
// entities. Components can be used to create queries for entities.
type Component interface {
	table.ElementType
}

// SparseComponent is implemented by a component whose declared storage kind
// is a per-component sparse set rather than a dense per-archetype table
// column (spec §3, StorageKind). Sparse storage trades dense iteration for
// O(1) add/remove without an archetype move, which suits components that
// are toggled frequently relative to how often they are iterated.
type SparseComponent interface {
	Component
	SparseStorage()
}

// Droppable is implemented by components that own a resource requiring
// explicit cleanup (a file handle, a channel) when their row is removed.
// Components without a non-trivial destructor need not implement it.
type Droppable interface {
	Drop()
}

// StorageKind selects how a component's values are laid out in memory.
type StorageKind uint8

const (
	// StorageTable stores the component contiguously per archetype,
	// enabling dense column iteration.
	StorageTable StorageKind = iota
	// StorageSparseSet stores the component indexed by entity, enabling
	// cheap toggling at the cost of dense iteration.
	StorageSparseSet
)

func (k StorageKind) String() string {
	if k == StorageSparseSet {
		return "SparseSet"
	}
	return "Table"
}

// ComponentId is a dense id assigned at first registration of a component
// type within one World's Type Registry. It is immutable for the World's
// lifetime; the same Go type registered again yields the same id.
type ComponentId uint32

// ComponentInfo describes everything the runtime needs to know about a
// registered component without reflecting on it again.
type ComponentInfo struct {
	ID        ComponentId
	Type      reflect.Type
	Storage   StorageKind
	Droppable bool
}

// registry is the Type Registry (C1). It is owned by exactly one World: a
// ComponentId is only meaningful relative to the registry that minted it.
type registry struct {
	schema table.Schema
	byType map[reflect.Type]ComponentId
	infos  map[ComponentId]ComponentInfo
}

func newRegistry(schema table.Schema) *registry {
	return &registry{
		schema: schema,
		byType: make(map[reflect.Type]ComponentId),
		infos:  make(map[ComponentId]ComponentInfo),
	}
}

// register assigns (or returns the existing) ComponentId for c's dynamic
// type. Registration is idempotent and monotonic: ids are never reused or
// reassigned once minted.
func (r *registry) register(c Component) ComponentId {
	t := reflect.TypeOf(c)
	if id, ok := r.byType[t]; ok {
		return id
	}
	r.schema.Register(c)
	id := ComponentId(r.schema.RowIndexFor(c))

	kind := StorageTable
	if _, ok := c.(SparseComponent); ok {
		kind = StorageSparseSet
	}
	_, droppable := c.(Droppable)

	r.byType[t] = id
	r.infos[id] = ComponentInfo{ID: id, Type: t, Storage: kind, Droppable: droppable}
	return id
}

// info returns the recorded metadata for id, if it has been registered.
func (r *registry) info(id ComponentId) (ComponentInfo, bool) {
	info, ok := r.infos[id]
	return info, ok
}

// idFor returns the ComponentId already assigned to c's type, if any,
// without registering it.
func (r *registry) idFor(c Component) (ComponentId, bool) {
	id, ok := r.byType[reflect.TypeOf(c)]
	return id, ok
}

// sparseColumnHandle type-erases sparseColumn[T] so a World can hold one
// column per sparse ComponentId without a generic field per T (spec §3,
// StorageSparseSet). Values cross this boundary as any and are asserted
// back to T by the SparseAccessor[T] that owns the column.
type sparseColumnHandle interface {
	set(idx uint32, value any)
	get(idx uint32) (any, bool)
	has(idx uint32) bool
	remove(idx uint32)
	indices() []uint32
}

// sparseColumn is a per-component sparse set: values keyed by
// EntityID.Index rather than archetype table row, so setting, reading, or
// clearing a sparse component never moves the entity between archetypes.
// Grounded on the dense/sparse split in totodo713-vamplite's
// ecs/storage/sparse_set.go, adapted to the map-backed shape SPEC_FULL §3
// commits to (entity indices here are not assumed dense or reused).
type sparseColumn[T any] struct {
	values map[uint32]*T
}

func newSparseColumn[T any]() *sparseColumn[T] {
	return &sparseColumn[T]{values: make(map[uint32]*T)}
}

func (c *sparseColumn[T]) set(idx uint32, value any) {
	v := value.(T)
	c.values[idx] = &v
}

func (c *sparseColumn[T]) get(idx uint32) (any, bool) {
	v, ok := c.values[idx]
	if !ok {
		return nil, false
	}
	return v, true
}

func (c *sparseColumn[T]) has(idx uint32) bool {
	_, ok := c.values[idx]
	return ok
}

func (c *sparseColumn[T]) remove(idx uint32) {
	delete(c.values, idx)
}

// indices returns the live entity indices holding a value, sorted so
// callers get deterministic iteration order.
func (c *sparseColumn[T]) indices() []uint32 {
	out := make([]uint32, 0, len(c.values))
	for idx := range c.values {
		out = append(out, idx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SparseAccessor is the sparse-set counterpart to AccessibleComponent: the
// per-T handle returned by RegisterSparse, used to Set/Get/Has/Remove a
// value for an entity without ever moving it between archetypes (spec §3,
// §2 C1, StorageKind.SparseSet).
type SparseAccessor[T any] struct {
	Component
	id ComponentId
}

// SparseStorage marks this component's storage kind as StorageSparseSet
// during registration (registry.register type-asserts for it).
func (SparseAccessor[T]) SparseStorage() {}

// ID returns the ComponentId assigned to this sparse component.
func (a SparseAccessor[T]) ID() ComponentId { return a.id }

// RegisterSparse registers T as a sparse-set component on w and returns
// the accessor for it. Unlike FactoryNewComponent, registration happens
// eagerly here rather than on first use in NewEntities: a sparse
// component never appears in an archetype signature, so there is no
// later structural-move call site that would otherwise trigger it.
func RegisterSparse[T any](w *World) SparseAccessor[T] {
	iden := table.FactoryNewElementType[T]()
	acc := SparseAccessor[T]{Component: iden}
	id := w.registry.register(acc)
	acc.id = id
	if _, ok := w.sparseColumns[id]; !ok {
		w.sparseColumns[id] = newSparseColumn[T]()
	}
	return acc
}

// Set stores value for e, creating or overwriting its entry.
func (a SparseAccessor[T]) Set(e Entity, value T) {
	e.Storage().sparseSet(a.id, e.Handle().Index, value)
}

// Get returns e's value and whether one is currently set.
func (a SparseAccessor[T]) Get(e Entity) (T, bool) {
	v, ok := e.Storage().sparseGet(a.id, e.Handle().Index)
	if !ok {
		var zero T
		return zero, false
	}
	return *v.(*T), true
}

// Has reports whether e currently has a value for this component.
func (a SparseAccessor[T]) Has(e Entity) bool {
	return e.Storage().sparseHas(a.id, e.Handle().Index)
}

// Remove clears e's value, if any.
func (a SparseAccessor[T]) Remove(e Entity) {
	e.Storage().sparseRemove(a.id, e.Handle().Index)
}
