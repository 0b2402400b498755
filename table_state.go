package kiln

import "github.com/TheBitDrifter/table"

// changeKey identifies one (entity, component) change-tick slot.
type changeKey struct {
	entity    table.EntryID
	component ComponentId
}

// changeTracker is the World's change-detection clock store (spec §3).
// Mirroring tick columns 1:1 with a table.Table's internal row storage
// would require observing its swap-remove behavior on delete, which the
// table package does not expose publicly; instead ticks are keyed by the
// entity's stable table.EntryID — the same identity table.EntryIndex
// itself uses to redirect across row moves — so a tick survives archetype
// transfers and row compaction without any hook into table.Table's
// internals.
type changeTracker struct {
	ticks map[changeKey]ComponentTicks
}

func newChangeTracker() *changeTracker {
	return &changeTracker{ticks: make(map[changeKey]ComponentTicks)}
}

// stampInserted records now as both Added and Changed for entity's
// component. Called when a row is created (NewEntities, flushOne) or a
// component is added to an already-live entity.
func (c *changeTracker) stampInserted(entity table.EntryID, component ComponentId, now Tick) {
	c.ticks[changeKey{entity, component}] = ComponentTicks{Added: now, Changed: now}
}

// stampChanged records now as Changed (preserving Added) for entity's
// component. Called by mutable component access (GetMutFromCursor).
func (c *changeTracker) stampChanged(entity table.EntryID, component ComponentId, now Tick) {
	key := changeKey{entity, component}
	t := c.ticks[key]
	if t.Added == 0 {
		t.Added = now
	}
	t.Changed = now
	c.ticks[key] = t
}

// get returns the recorded ticks for entity's component, or the zero
// value if it was never stamped.
func (c *changeTracker) get(entity table.EntryID, component ComponentId) ComponentTicks {
	return c.ticks[changeKey{entity, component}]
}

// forget drops tick bookkeeping for entity's component, called when the
// component is removed from the entity.
func (c *changeTracker) forget(entity table.EntryID, component ComponentId) {
	delete(c.ticks, changeKey{entity, component})
}

// forgetEntity drops tick bookkeeping for every one of entity's
// components, called on despawn.
func (c *changeTracker) forgetEntity(entity table.EntryID, components []ComponentId) {
	for _, id := range components {
		c.forget(entity, id)
	}
}

// clampAll rewrites every recorded tick relative to now (spec §3
// wraparound handling), run periodically by World.AdvanceTick.
func (c *changeTracker) clampAll(now Tick) {
	for k, t := range c.ticks {
		t.clamp(now)
		c.ticks[k] = t
	}
}
