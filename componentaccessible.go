package kiln

import "github.com/TheBitDrifter/table"

// AccessibleComponent extends a base Component with table-based
// accessibility. It provides methods to retrieve components using
// different access patterns. Kept from the teacher's
// componentaccessible.go (the teacher also carried a byte-identical copy
// under component_accessor.go, dropped — see DESIGN.md).
type AccessibleComponent[T any] struct {
	Component
	table.Accessor[T] // concrete.
}

// GetFromCursor retrieves a component value for the entity at the cursor
// position.
func (c AccessibleComponent[T]) GetFromCursor(cursor *Cursor) *T {
	return c.Get(
		cursor.entityIndex-1,
		cursor.currentArchetype.Table(),
	)
}

// GetFromCursorSafe safely retrieves a component value, checking if the
// component exists. Returns a boolean indicating success and the
// component pointer if found.
func (c AccessibleComponent[T]) GetFromCursorSafe(cursor *Cursor) (bool, *T) {
	ok := c.Accessor.Check(cursor.currentArchetype.Table())
	if ok {
		return true, c.GetFromCursor(cursor)
	}
	return false, nil
}

// CheckCursor determines if the component exists in the archetype at the
// cursor position.
func (c AccessibleComponent[T]) CheckCursor(cursor *Cursor) bool {
	return c.Accessor.Check(cursor.currentArchetype.Table())
}

// GetFromEntity retrieves a component value for the specified entity.
func (c AccessibleComponent[T]) GetFromEntity(entity Entity) *T {
	return c.Get(entity.Index(), entity.Table())
}

// GetMutFromCursor retrieves a component value for mutation, stamping its
// changed tick against the owning World's change tracker (spec §3's
// change-detection contract: a write is only observable to
// ComponentTicks.IsChanged once its tick has been stamped). Callers that
// only read should use GetFromCursor instead, to avoid marking the
// component as freshly changed on every query pass.
func (c AccessibleComponent[T]) GetMutFromCursor(cursor *Cursor, w *World) *T {
	val := c.GetFromCursor(cursor)
	en, err := cursor.CurrentEntity()
	if err == nil {
		w.changes.stampChanged(en.ID(), ComponentId(w.RowIndexFor(c.Component)), w.tick)
	}
	return val
}
