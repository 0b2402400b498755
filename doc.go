/*
Package kiln provides an archetype-based Entity-Component-System (ECS)
runtime for games and simulations.

Entities that share the same component set are stored together in a
columnar table, so a query touching only a couple of components never
pages in the rest of an entity's data. On top of that storage, kiln adds:

  - An access graph (FilteredAccess/AccessGraph) that proves two queries
    can run concurrently before they're scheduled together.
  - A reserve/flush entity allocator so an entity can be given a stable
    handle before it's placed in any archetype.
  - A deferred command queue for structural edits made while the World
    is locked, e.g. from inside a query loop.
  - A typed event/observer bus for structural notifications.
  - Per-(entity, component) change ticks for added/changed queries.

Core Concepts:

  - Entity: a stable handle (EntityID) plus the ergonomic view over its
    live row, once flushed into an archetype.
  - Component: a data container that defines entity attributes.
  - Archetype: a collection of entities sharing the same component types.
  - QueryState: a cached filter over archetypes, refreshed incrementally
    as new archetypes appear.

Basic Usage:

	w := kiln.Factory.NewWorld()

	// Define components
	position := kiln.FactoryNewComponent[Position]()
	velocity := kiln.FactoryNewComponent[Velocity]()

	// Create entities
	w.NewEntities(100, position, velocity)

	// Build a cached query and iterate it
	filter := kiln.Factory.NewQuery().And(position, velocity)
	qs := kiln.Factory.NewQueryState(w, filter, kiln.NewFilteredAccess())

	for entity, _ := range qs.Iter(w) {
		pos := position.GetFromEntity(entity)
		vel := velocity.GetFromEntity(entity)
		pos.X += vel.X
		pos.Y += vel.Y
	}

kiln is the underlying ECS for a small Go game framework, but it also
works as a standalone library.
*/
package kiln
