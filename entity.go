package kiln

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/TheBitDrifter/bark"
	"github.com/TheBitDrifter/table"
)

// EntityID is the spec-level 64-bit entity handle: an allocator slot index
// paired with a generation that disambiguates reuse of a freed slot. Two
// EntityID values are structurally equal iff both fields match; a
// despawned entity's old handle compares unequal to whatever live entity
// later reoccupies the same slot, because the generation has advanced.
type EntityID struct {
	Index      uint32
	Generation uint32
}

// IsZero reports whether h is the zero value (never issued by Reserve).
func (h EntityID) IsZero() bool { return h.Index == 0 && h.Generation == 0 }

func (h EntityID) String() string {
	return fmt.Sprintf("Entity(%d#%d)", h.Index, h.Generation)
}

// entityState tracks where an allocator slot sits in the reserve/flush
// lifecycle described in spec §4.3.
type entityState uint8

const (
	entityFree entityState = iota
	entityReserved
	entityFlushed
)

// entityRecord is the World's per-slot bookkeeping: entity-allocator state
// plus, once flushed, the ergonomic Entity wrapping the underlying
// table.Entry.
type entityRecord struct {
	generation uint32
	state      entityState
	handle     *entity
}

// EntityDestroyCallback is called when an entity is destroyed.
type EntityDestroyCallback func(Entity)

// Entity is the ergonomic, mutable view of a live entity: it carries a
// reference to its owning World so structural edits (AddComponent,
// RemoveComponent, ...) can be expressed directly, while EntityID (Handle)
// remains the stable, comparable, storage-independent value.
type Entity interface {
	table.Entry

	Handle() EntityID

	SetParent(parent Entity, callback EntityDestroyCallback) error
	Parent() Entity

	SetDestroyCallback(EntityDestroyCallback) error

	AddComponent(Component) error
	AddComponentWithValue(Component, any) error
	RemoveComponent(Component) error

	EnqueueAddComponent(Component) error
	EnqueueAddComponentWithValue(Component, any) error
	EnqueueRemoveComponent(Component) error

	Components() []Component
	ComponentsAsString() string

	Valid() bool
	Storage() Storage
	SetStorage(Storage)
}

// entity implements the Entity interface.
type entity struct {
	table.Entry
	id            table.EntryID
	handle        EntityID
	sto           Storage
	relationships relationships
	components    []Component
}

var _ Entity = &entity{}

type relationships struct {
	recycled  int
	parent    Entity
	onDestroy EntityDestroyCallback
}

// Handle returns the stable EntityID spec-level handle for this entity.
func (e *entity) Handle() EntityID { return e.handle }

// ID returns the entity's table-assigned identifier.
func (e *entity) ID() table.EntryID { return e.id }

// Index returns the entity's row index within its current table. Unlike
// Handle().Index, this changes whenever the entity's archetype moves.
func (e *entity) Index() int { return e.entry().Index() }

// Recycled returns the entity's recycled count.
func (e *entity) Recycled() int { return e.entry().Recycled() }

// Table returns the table this entity currently belongs to.
func (e *entity) Table() table.Table { return e.entry().Table() }

// Storage returns the storage this entity belongs to.
func (e *entity) Storage() Storage { return e.sto }

// SetParent establishes a parent-child relationship with another entity.
func (e *entity) SetParent(parent Entity, callback EntityDestroyCallback) error {
	if e.relationships.parent != nil {
		return EntityRelationError{child: e, parent: parent}
	}
	e.relationships.parent = parent
	e.relationships.recycled = parent.Recycled()
	return parent.SetDestroyCallback(callback)
}

// Parent returns the parent entity if it exists and hasn't been recycled.
func (e *entity) Parent() Entity {
	if e.relationships.parent != nil {
		if e.relationships.parent.Recycled() != e.relationships.recycled {
			return nil
		}
		return e.relationships.parent
	}
	return nil
}

// SetDestroyCallback sets the callback invoked when this entity is destroyed.
func (e *entity) SetDestroyCallback(callback EntityDestroyCallback) error {
	e.relationships.onDestroy = callback
	return nil
}

// AddComponent adds a component to the entity, moving it to a new
// archetype if needed.
func (e *entity) AddComponent(c Component) error {
	return e.addComponent(c, nil, false)
}

// AddComponentWithValue adds a component with an initial value.
func (e *entity) AddComponentWithValue(c Component, value any) error {
	return e.addComponent(c, value, true)
}

func (e *entity) addComponent(c Component, value any, hasValue bool) error {
	if e.sto.Locked() {
		return LockedStorageError{}
	}
	originTable := e.Table()
	if originTable.Contains(c) {
		return nil
	}
	for _, comp := range e.components {
		if comp.ID() == c.ID() {
			return nil
		}
	}
	cid := ComponentId(e.sto.RowIndexFor(c))
	e.components = append(e.components, c)

	originArch, hasOrigin := e.sto.archetypeForTable(originTable)
	var destArchetype Archetype
	if hasOrigin {
		if destID, ok := originArch.addEdge(cid); ok {
			destArchetype = e.sto.archetypeByID(destID)
		}
	}
	if destArchetype == nil {
		arch, err := e.sto.NewOrExistingArchetype(e.components...)
		if err != nil {
			return err
		}
		destArchetype = arch
		if hasOrigin {
			destImpl := arch.(*ArchetypeImpl)
			originArch.cacheAddEdge(cid, destImpl.ID())
			destImpl.cacheRemoveEdge(cid, originArch.ID())
		}
	}
	if err := originTable.TransferEntries(destArchetype.Table(), e.Index()); err != nil {
		return err
	}
	e.sto.Changes().stampInserted(e.id, cid, e.sto.CurrentTick())
	Publish(e.sto.Bus(), ComponentAdded{Entity: e.handle, Component: cid})
	if !hasValue {
		return nil
	}
	valueType := reflect.TypeOf(value)
	for _, row := range destArchetype.Table().Rows() {
		if row.Type().Elem() == valueType {
			reflect.Value(row).Index(e.Index()).Set(reflect.ValueOf(value))
			return nil
		}
	}
	return fmt.Errorf("invalid value type %v for component %v", valueType, c.Type())
}

// RemoveComponent removes a component from the entity, moving it to a new
// archetype.
func (e *entity) RemoveComponent(c Component) error {
	if e.sto.Locked() {
		return LockedStorageError{}
	}
	originTable := e.Table()
	if !originTable.Contains(c) {
		return nil
	}
	cid := ComponentId(e.sto.RowIndexFor(c))
	newComps := make([]Component, 0, len(e.components))
	for _, comp := range e.components {
		if comp.ID() != c.ID() {
			newComps = append(newComps, comp)
		}
	}
	e.components = newComps

	originArch, hasOrigin := e.sto.archetypeForTable(originTable)
	var destArchetype Archetype
	if hasOrigin {
		if destID, ok := originArch.removeEdge(cid); ok {
			destArchetype = e.sto.archetypeByID(destID)
		}
	}
	if destArchetype == nil {
		arch, err := e.sto.NewOrExistingArchetype(newComps...)
		if err != nil {
			return fmt.Errorf("failed to get/create archetype: %w", err)
		}
		destArchetype = arch
		if hasOrigin {
			destImpl := arch.(*ArchetypeImpl)
			originArch.cacheRemoveEdge(cid, destImpl.ID())
			destImpl.cacheAddEdge(cid, originArch.ID())
		}
	}
	if err := originTable.TransferEntries(destArchetype.Table(), e.Index()); err != nil {
		return fmt.Errorf("failed to transfer entity: %w", err)
	}
	e.sto.Changes().forget(e.id, cid)
	Publish(e.sto.Bus(), ComponentRemoved{Entity: e.handle, Component: cid})
	return nil
}

// EnqueueAddComponent queues a component addition, or executes immediately
// if storage isn't locked.
func (e *entity) EnqueueAddComponent(c Component) error {
	if !e.sto.Locked() {
		return e.AddComponent(c)
	}
	e.sto.Enqueue(AddComponentOperation{entity: e, recycled: e.Recycled(), component: c, storage: e.sto})
	return nil
}

// EnqueueAddComponentWithValue queues a component addition with value, or
// executes immediately if storage isn't locked.
func (e *entity) EnqueueAddComponentWithValue(c Component, val any) error {
	if !e.sto.Locked() {
		return e.AddComponentWithValue(c, val)
	}
	e.sto.Enqueue(AddComponentOperation{entity: e, recycled: e.Recycled(), component: c, value: val, storage: e.sto})
	return nil
}

// EnqueueRemoveComponent queues a component removal, or executes
// immediately if storage isn't locked.
func (e *entity) EnqueueRemoveComponent(c Component) error {
	if !e.sto.Locked() {
		return e.RemoveComponent(c)
	}
	e.sto.Enqueue(RemoveComponentOperation{entity: e, recycled: e.Recycled(), component: c, storage: e.sto})
	return nil
}

// entry returns the current table entry backing this entity.
func (e *entity) entry() table.Entry {
	if e.Entry == nil {
		panic(bark.AddTrace(fmt.Errorf("entity %v has no table entry (unflushed reservation)", e.handle)))
	}
	return e.Entry
}

// Components returns all components attached to this entity.
func (e *entity) Components() []Component { return e.components }

// ComponentsAsString returns a sorted, formatted string of component names.
func (e *entity) ComponentsAsString() string {
	if len(e.components) == 0 {
		return "[]"
	}
	var names []string
	for _, c := range e.components {
		typeName := reflect.TypeOf(c).String()
		typeName = strings.TrimPrefix(typeName, "*")
		parts := strings.Split(typeName, ".")
		name := strings.TrimSuffix(parts[len(parts)-1], "]")
		names = append(names, name)
	}
	sort.Strings(names)
	return "[" + strings.Join(names, ", ") + "]"
}

// Valid returns whether this entity has a valid table identity.
func (e *entity) Valid() bool { return e.id != 0 }

// SetStorage sets the storage for this entity.
func (e *entity) SetStorage(sto Storage) { e.sto = sto }
