package kiln

import "fmt"

// LockedStorageError is returned when a structural edit is attempted while
// the storage is locked (a Cursor, QueryState iteration or ParFold holds a
// lock bit).
type LockedStorageError struct{}

func (e LockedStorageError) Error() string {
	return "storage is currently locked"
}

// EntityRelationError reports an attempt to assign a second parent to an
// entity that already has one.
type EntityRelationError struct {
	child, parent Entity
}

func (e EntityRelationError) Error() string {
	return fmt.Sprintf("child (%v) already has parent %v", e.child, e.parent)
}

// ComponentExistsError describes a redundant AddComponent call. AddComponent
// itself treats a redundant add as a no-op and returns nil, not this error.
type ComponentExistsError struct {
	Component Component
}

func (e ComponentExistsError) Error() string {
	return fmt.Sprintf("component already exists on entity: %T", e.Component)
}

// ComponentNotFoundError describes an access to a component the entity does
// not carry. RemoveComponent itself returns nil for such a component, not
// this error.
type ComponentNotFoundError struct {
	Component Component
}

func (e ComponentNotFoundError) Error() string {
	return fmt.Sprintf("component does not exist on entity: %T", e.Component)
}

// WorldMismatchError is the fatal error (§7) raised when a QueryState, or
// any operation scoped to a World, is used against a different World than
// the one that created it. Always surfaces as a panic: continuing would
// silently mix two disjoint archetype graphs.
type WorldMismatchError struct {
	Want, Got WorldID
}

func (e WorldMismatchError) Error() string {
	return fmt.Sprintf("world mismatch: expected world %d, got %d", e.Want, e.Got)
}

// TransmuteAccessError is the fatal error (§4.5) raised when Transmute is
// asked to build a QueryState whose access is not a subset of the source
// QueryState's. Always surfaces as a panic: a transmuted query widening
// its own access would let the scheduler prove conflict-freedom against
// the wrong access record.
type TransmuteAccessError struct {
	Source, Target FilteredAccess
}

func (e TransmuteAccessError) Error() string {
	return fmt.Sprintf("transmute target access %+v is not a subset of source access %+v", e.Target, e.Source)
}

// EntityDoesNotExistError is returned by World.Locate and QueryState.Get
// when the supplied handle's generation does not match the live occupant of
// its slot (or the slot was never allocated), and by World.Entity for an
// unknown entry id.
type EntityDoesNotExistError struct {
	Entity EntityID
}

func (e EntityDoesNotExistError) Error() string {
	return fmt.Sprintf("entity does not exist: %v", e.Entity)
}

// QueryDoesNotMatchError is returned when an entity is live but its
// archetype fails the query's fetch/filter.
type QueryDoesNotMatchError struct {
	Entity EntityID
}

func (e QueryDoesNotMatchError) Error() string {
	return fmt.Sprintf("entity %v does not match query", e.Entity)
}

// AliasedMutabilityError describes the same entity id supplied more than
// once where mutable access is required. No function in this package
// returns it: there is no mutable multi-get, and QueryState.IterMany
// permits duplicates.
type AliasedMutabilityError struct {
	Entity EntityID
}

func (e AliasedMutabilityError) Error() string {
	return fmt.Sprintf("entity %v aliased across mutable access", e.Entity)
}

// MissingComponentError describes a ComponentId that was never registered in
// this World. No function in this package returns it; there is no
// ComponentId-keyed access path.
type MissingComponentError struct {
	ID ComponentId
}

func (e MissingComponentError) Error() string {
	return fmt.Sprintf("component id %d is not registered", e.ID)
}

// MissingResourceError is returned by resource getters when the requested
// type has no registered value.
type MissingResourceError struct {
	Type string
}

func (e MissingResourceError) Error() string {
	return fmt.Sprintf("resource %s is not registered", e.Type)
}

// ErrDespawnUnflushed describes a despawn of an entity that was Reserved but
// never flushed into an archetype. No function in this package returns it:
// DestroyEntities takes flushed Entity values only, so a reserved EntityID
// cannot reach it.
type ErrDespawnUnflushed struct {
	Entity EntityID
}

func (e ErrDespawnUnflushed) Error() string {
	return fmt.Sprintf("entity %v is reserved but not yet flushed; cannot despawn", e.Entity)
}

// SpecializationError is a per-item (§4.9/§7) failure: pipeline
// specialization failed for one (view, entity) pair. It is logged and the
// item is skipped for the frame; the specialization cache is left
// unchanged so the item is retried on the next frame it is visible.
type SpecializationError struct {
	Err error
}

func (e SpecializationError) Error() string {
	return fmt.Sprintf("specialization failed: %v", e.Err)
}

func (e SpecializationError) Unwrap() error { return e.Err }

// CommandError wraps the error returned by a command's Apply, routed to
// that command's configured ErrorPolicy.
type CommandError struct {
	Err error
}

func (e CommandError) Error() string {
	return fmt.Sprintf("command failed: %v", e.Err)
}

func (e CommandError) Unwrap() error { return e.Err }
