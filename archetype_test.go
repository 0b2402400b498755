package kiln

import "testing"

func TestArchetypeSignatureAndComponents(t *testing.T) {
	w := Factory.NewWorld()
	posComp := FactoryNewComponent[Position]()
	velComp := FactoryNewComponent[Velocity]()

	arch, err := w.NewOrExistingArchetype(posComp, velComp)
	if err != nil {
		t.Fatalf("NewOrExistingArchetype failed: %v", err)
	}

	impl := arch.(*ArchetypeImpl)
	posID := w.RowIndexFor(posComp)
	velID := w.RowIndexFor(velComp)

	if !impl.Has(ComponentId(posID)) || !impl.Has(ComponentId(velID)) {
		t.Errorf("archetype should report Has for both registered components")
	}

	components := impl.Components()
	if len(components) != 2 {
		t.Fatalf("expected 2 components in signature, got %d", len(components))
	}
	if components[0] > components[1] {
		t.Errorf("Components() should be sorted ascending, got %v", components)
	}
}

func TestArchetypeEdgeCacheRoundTrip(t *testing.T) {
	w := Factory.NewWorld()
	posComp := FactoryNewComponent[Position]()
	velComp := FactoryNewComponent[Velocity]()

	base, err := w.NewOrExistingArchetype(posComp)
	if err != nil {
		t.Fatalf("NewOrExistingArchetype failed: %v", err)
	}
	extended, err := w.NewOrExistingArchetype(posComp, velComp)
	if err != nil {
		t.Fatalf("NewOrExistingArchetype failed: %v", err)
	}

	baseImpl := base.(*ArchetypeImpl)
	velID := ComponentId(w.RowIndexFor(velComp))

	if _, ok := baseImpl.addEdge(velID); ok {
		t.Fatalf("edge should be empty before caching")
	}

	baseImpl.cacheAddEdge(velID, extended.ID())

	dest, ok := baseImpl.addEdge(velID)
	if !ok || dest != extended.ID() {
		t.Errorf("cached add-edge = (%v, %v), want (%v, true)", dest, ok, extended.ID())
	}

	extendedImpl := extended.(*ArchetypeImpl)
	extendedImpl.cacheRemoveEdge(velID, base.ID())
	dest2, ok2 := extendedImpl.removeEdge(velID)
	if !ok2 || dest2 != base.ID() {
		t.Errorf("cached remove-edge = (%v, %v), want (%v, true)", dest2, ok2, base.ID())
	}
}

func TestArchetypeAddRemoveComponentReusesCachedEdge(t *testing.T) {
	w := Factory.NewWorld()
	posComp := FactoryNewComponent[Position]()
	velComp := FactoryNewComponent[Velocity]()
	velID := ComponentId(w.RowIndexFor(velComp))

	entities, err := w.NewEntities(2, posComp)
	if err != nil {
		t.Fatalf("NewEntities failed: %v", err)
	}

	baseArch, ok := w.archetypeForTable(entities[0].Table())
	if !ok {
		t.Fatalf("expected an archetype for the freshly created entities' table")
	}
	if _, ok := baseArch.addEdge(velID); ok {
		t.Fatalf("add-edge for velocity should be unpopulated before any entity has moved across it")
	}

	if err := entities[0].AddComponent(velComp); err != nil {
		t.Fatalf("AddComponent failed: %v", err)
	}

	destID, ok := baseArch.addEdge(velID)
	if !ok {
		t.Fatalf("AddComponent should populate the origin archetype's add-edge cache for velocity")
	}
	extendedArch := w.archetypeByID(destID)
	if back, ok := extendedArch.removeEdge(velID); !ok || back != baseArch.ID() {
		t.Errorf("AddComponent should also populate the destination archetype's reverse remove-edge, got (%v, %v)", back, ok)
	}

	// A second entity making the same move should reuse the cached edge
	// rather than recomputing the destination archetype.
	if err := entities[1].AddComponent(velComp); err != nil {
		t.Fatalf("AddComponent failed: %v", err)
	}
	if entities[0].Table() != entities[1].Table() {
		t.Errorf("two entities moved by the same component add should land in the same archetype table")
	}
	if entities[0].Table() != extendedArch.Table() {
		t.Errorf("the cached add-edge destination should be the same archetype the entities actually landed in")
	}

	if err := entities[0].RemoveComponent(velComp); err != nil {
		t.Fatalf("RemoveComponent failed: %v", err)
	}
	if entities[0].Table() != baseArch.Table() {
		t.Errorf("RemoveComponent should move the entity back via the cached remove-edge to the original archetype")
	}
}
