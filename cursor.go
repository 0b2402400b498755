package kiln

import (
	"iter"

	"github.com/TheBitDrifter/table"
)

// iCursor defines the interface for iterating over entities in storage.
// Kept from the teacher's cursor.go under its original name.
type iCursor interface {
	Entities() iter.Seq2[int, table.Table]
	Next() bool
}

// Cursor provides low-level, re-seekable iteration over the archetypes
// currently matching a QueryNode. QueryState.Iter builds on top of Cursor
// rather than replacing it, so a caller who needs manual
// step-by-step control (CurrentEntity/EntityAtOffset) still has it.
//
// Adapted from the teacher's Cursor: matchedStorages now holds
// *ArchetypeImpl (pointer, since ArchetypeImpl's edge cache has pointer
// receivers), and Initialize/Reset acquire/release a dedicated lock bit
// from Storage.NextLockBit instead of calling the teacher's no-argument
// AddLock/PopLock pair, which assumed a single global holder and cannot
// support two cursors running concurrently over the same World.
type Cursor struct {
	query            QueryNode
	storage          Storage
	currentArchetype *ArchetypeImpl
	storageIndex     int
	entityIndex      int
	remaining        int

	initialized     bool
	matchedStorages []*ArchetypeImpl

	lockBit uint32
}

var _ iCursor = &Cursor{}

// newCursor creates a new cursor for the given query and storage.
func newCursor(query QueryNode, storage Storage) *Cursor {
	return &Cursor{
		query:   query,
		storage: storage,
	}
}

// Next advances to the next entity and returns whether one exists.
func (c *Cursor) Next() bool {
	if c.entityIndex < c.remaining {
		c.entityIndex++
		return true
	}
	return c.advance()
}

// advance moves to the next available archetype with entities.
func (c *Cursor) advance() bool {
	if !c.initialized {
		c.Initialize()
	}

	for c.storageIndex < len(c.matchedStorages) {
		c.currentArchetype = c.matchedStorages[c.storageIndex]
		c.remaining = c.currentArchetype.Table().Length()
		if c.entityIndex < c.remaining {
			c.entityIndex++
			return true
		}
		c.storageIndex++
		c.entityIndex = 0
	}

	c.Reset()
	return false
}

// Entities returns an iterator sequence over entities matching the query.
func (c *Cursor) Entities() iter.Seq2[int, table.Table] {
	return func(yield func(int, table.Table) bool) {
		c.Initialize()

		for c.storageIndex < len(c.matchedStorages) {
			c.currentArchetype = c.matchedStorages[c.storageIndex]
			c.remaining = c.currentArchetype.Table().Length()

			for c.entityIndex < c.remaining {
				if !yield(c.entityIndex, c.currentArchetype.Table()) {
					c.Reset()
					return
				}
				c.entityIndex++
			}

			c.entityIndex = 0
			c.storageIndex++
		}

		c.Reset()
	}
}

// Initialize sets up the cursor by finding matching archetypes and
// acquiring its own structural lock bit.
func (c *Cursor) Initialize() {
	if c.initialized {
		return
	}

	c.lockBit = c.storage.NextLockBit()
	c.storage.AddLock(c.lockBit)

	archetypes := c.storage.Archetypes()
	c.matchedStorages = make([]*ArchetypeImpl, 0, len(archetypes))
	for _, arch := range archetypes {
		impl, ok := arch.(*ArchetypeImpl)
		if !ok {
			continue
		}
		if c.query == nil || c.query.Evaluate(impl, c.storage) {
			c.matchedStorages = append(c.matchedStorages, impl)
		}
	}

	if len(c.matchedStorages) > 0 {
		c.storageIndex = 0
		c.currentArchetype = c.matchedStorages[0]
		c.remaining = c.currentArchetype.Table().Length()
	}

	c.initialized = true
}

// Reset clears cursor state and releases the cursor's lock bit.
func (c *Cursor) Reset() {
	if !c.initialized {
		return
	}
	c.storageIndex = 0
	c.entityIndex = 0
	c.remaining = 0
	c.matchedStorages = nil
	c.initialized = false
	c.storage.RemoveLock(c.lockBit)
}

// CurrentEntity returns the entity at the current cursor position.
func (c *Cursor) CurrentEntity() (Entity, error) {
	entry, err := c.currentArchetype.Table().Entry(c.entityIndex - 1)
	if err != nil {
		return nil, err
	}
	return c.storage.Entity(int(entry.ID()))
}

// EntityAtOffset returns an entity at the specified offset from the
// current position.
func (c *Cursor) EntityAtOffset(offset int) (Entity, error) {
	entry, err := c.currentArchetype.Table().Entry(c.entityIndex - 1 + offset)
	if err != nil {
		return nil, err
	}
	return c.storage.Entity(int(entry.ID()))
}

// EntityIndex returns the current entity index within the current
// archetype.
func (c *Cursor) EntityIndex() int { return c.entityIndex }

// RemainingInArchetype returns the number of entities left in the current
// archetype.
func (c *Cursor) RemainingInArchetype() int { return c.remaining - c.entityIndex }

// TotalMatched returns the total number of entities matching the query.
func (c *Cursor) TotalMatched() int {
	if !c.initialized {
		c.Initialize()
	}

	total := 0
	for _, arch := range c.matchedStorages {
		total += arch.Table().Length()
	}

	c.Reset()
	return total
}
