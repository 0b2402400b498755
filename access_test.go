package kiln

import "testing"

func TestFilteredAccessCompatibleOnDisjointComponents(t *testing.T) {
	var a, b FilteredAccess
	a.AddWrite(1)
	b.AddWrite(2)

	if !Compatible(a, b) {
		t.Errorf("disjoint writes should be compatible")
	}
}

func TestFilteredAccessConflictOnOverlappingWrite(t *testing.T) {
	var a, b FilteredAccess
	a.AddWrite(1)
	b.AddWrite(1)

	if Compatible(a, b) {
		t.Errorf("overlapping writes should conflict")
	}
}

func TestFilteredAccessReadReadIsCompatible(t *testing.T) {
	var a, b FilteredAccess
	a.AddRead(1)
	b.AddRead(1)

	if !Compatible(a, b) {
		t.Errorf("two reads of the same component should be compatible")
	}
}

func TestFilteredAccessConflictResolvedByDisjointFilters(t *testing.T) {
	a := NewFilteredAccess()
	a.AddWrite(1)
	a.AddWith(2)

	b := NewFilteredAccess()
	b.AddWrite(1)
	b.AddWithout(2)

	if !Compatible(a, b) {
		t.Errorf("writes to the same component should still be compatible when With/Without prove the matched archetypes are disjoint")
	}
}

func TestFilteredAccessExtendUnionsReadsAndWrites(t *testing.T) {
	var a, b FilteredAccess
	a.AddRead(1)
	b.AddWrite(2)

	ext := Extend(a, b)

	if !maskHas(ext.Reads, 1) || !maskHas(ext.Reads, 2) {
		t.Errorf("Extend should union reads from both sides (write implies read)")
	}
	if !maskHas(ext.Writes, 2) {
		t.Errorf("Extend should carry forward writes")
	}
}

func TestFilteredAccessExtendCombinesFilterSetsAsCartesianProduct(t *testing.T) {
	a := NewFilteredAccess()
	a.AddWith(1)

	b := NewFilteredAccess()
	b.AddWith(2)

	ext := Extend(a, b)

	if len(ext.FilterSets) != 1 {
		t.Fatalf("expected 1 combined filter set, got %d", len(ext.FilterSets))
	}
	fs := ext.FilterSets[0]
	if !maskHas(fs.With, 1) || !maskHas(fs.With, 2) {
		t.Errorf("combined filter set should require both components")
	}
}

func TestAccessGraphConflictFree(t *testing.T) {
	graph := NewAccessGraph()

	var readWrite FilteredAccess
	readWrite.AddWrite(1)

	var secondWriter FilteredAccess
	secondWriter.AddWrite(1)

	graph.Register("system-a", readWrite)
	graph.Register("system-b", secondWriter)

	if graph.ConflictFree("system-a", "system-b") {
		t.Errorf("two writers of the same component should not be conflict-free")
	}

	graph.Unregister("system-b")
	if !graph.ConflictFree("system-a", "system-b") {
		t.Errorf("unregistered names should be treated as having no access and therefore conflict-free")
	}
}
