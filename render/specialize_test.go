package render

import (
	"errors"
	"testing"

	"github.com/kiln-ecs/kiln"
)

type meshKey struct {
	AlphaMode int
	Shadowed  bool
}

type stubSpecializer struct {
	calls int
	fail  bool
}

func (s *stubSpecializer) Specialize(base PipelineID, key meshKey, meshLayout uint64) (PipelineID, error) {
	s.calls++
	if s.fail {
		return 0, errors.New("shader compile failed")
	}
	return base + PipelineID(key.AlphaMode), nil
}

func TestSpecializationCacheMissThenHit(t *testing.T) {
	cache := NewSpecializationCache[meshKey]()
	spec := &stubSpecializer{}

	view := RetainedViewEntity{SubviewIndex: 0}
	var entity kiln.Entity

	w := kiln.Factory.NewWorld()
	posComp := kiln.FactoryNewComponent[mainPosition]()
	entities, err := w.NewEntities(1, posComp)
	if err != nil {
		t.Fatalf("NewEntities failed: %v", err)
	}
	entity = entities[0]

	id, err := cache.Specialize(spec, view, entity, 10, meshKey{AlphaMode: 1}, 5, 5)
	if err != nil {
		t.Fatalf("Specialize failed: %v", err)
	}
	if id != 11 {
		t.Errorf("pipeline id = %d, want 11", id)
	}
	if spec.calls != 1 {
		t.Fatalf("expected 1 Specialize call, got %d", spec.calls)
	}

	// Same tick, same view: cache hit, no second call.
	id2, err := cache.Specialize(spec, view, entity, 10, meshKey{AlphaMode: 1}, 5, 5)
	if err != nil {
		t.Fatalf("Specialize failed: %v", err)
	}
	if id2 != id {
		t.Errorf("cached pipeline id changed: %d vs %d", id2, id)
	}
	if spec.calls != 1 {
		t.Errorf("expected cache hit to skip Specialize, call count = %d", spec.calls)
	}
}

func TestSpecializationCacheEntityTickInvalidates(t *testing.T) {
	cache := NewSpecializationCache[meshKey]()
	spec := &stubSpecializer{}

	view := RetainedViewEntity{SubviewIndex: 0}
	w := kiln.Factory.NewWorld()
	posComp := kiln.FactoryNewComponent[mainPosition]()
	entities, _ := w.NewEntities(1, posComp)
	entity := entities[0]

	if _, err := cache.Specialize(spec, view, entity, 10, meshKey{}, 5, 5); err != nil {
		t.Fatalf("Specialize failed: %v", err)
	}

	// Entity's own tick advanced past the cached tick: must respecialize.
	if !cache.NeedsSpecialize(view, entity, 8, 8) {
		t.Errorf("expected respecialization after entity tick advanced")
	}

	if _, err := cache.Specialize(spec, view, entity, 10, meshKey{}, 8, 8); err != nil {
		t.Fatalf("Specialize failed: %v", err)
	}
	if spec.calls != 2 {
		t.Errorf("expected 2 Specialize calls after tick advance, got %d", spec.calls)
	}
}

func TestSpecializationCacheViewKeyChangeInvalidatesAllEntities(t *testing.T) {
	cache := NewSpecializationCache[meshKey]()
	spec := &stubSpecializer{}

	view := RetainedViewEntity{SubviewIndex: 0}
	w := kiln.Factory.NewWorld()
	posComp := kiln.FactoryNewComponent[mainPosition]()
	entities, _ := w.NewEntities(2, posComp)

	cache.NoteViewKey(view, meshKey{AlphaMode: 1}, 1)
	for _, e := range entities {
		if _, err := cache.Specialize(spec, view, e, 10, meshKey{}, 1, 1); err != nil {
			t.Fatalf("Specialize failed: %v", err)
		}
	}
	if spec.calls != 2 {
		t.Fatalf("expected 2 initial Specialize calls, got %d", spec.calls)
	}

	// View key changes (e.g. MSAA toggled) at tick 2: every entity in the
	// view must respecialize even though nothing about the entity changed.
	cache.NoteViewKey(view, meshKey{AlphaMode: 2}, 2)
	for _, e := range entities {
		if !cache.NeedsSpecialize(view, e, 1, 2) {
			t.Errorf("expected respecialization for all entities after view key change")
		}
	}
}

func TestSpecializationCacheFailureLeavesEntryUnchanged(t *testing.T) {
	cache := NewSpecializationCache[meshKey]()
	spec := &stubSpecializer{}

	view := RetainedViewEntity{SubviewIndex: 0}
	w := kiln.Factory.NewWorld()
	posComp := kiln.FactoryNewComponent[mainPosition]()
	entities, _ := w.NewEntities(1, posComp)
	entity := entities[0]

	id, err := cache.Specialize(spec, view, entity, 10, meshKey{AlphaMode: 3}, 1, 1)
	if err != nil {
		t.Fatalf("Specialize failed: %v", err)
	}

	spec.fail = true
	_, err = cache.Specialize(spec, view, entity, 10, meshKey{AlphaMode: 9}, 5, 5)
	if err == nil {
		t.Fatalf("expected Specialize to report the compile failure")
	}
	var specErr kiln.SpecializationError
	if !errors.As(err, &specErr) {
		t.Errorf("error is not a SpecializationError: %v", err)
	}

	// Cached entry from the prior successful call must still be there.
	cached, ok := cache.entries[specializationCacheKey{view: view, entity: entity}]
	if !ok {
		t.Fatalf("cache entry was dropped after a failed respecialization")
	}
	if cached.pipeline != id {
		t.Errorf("stale cache entry pipeline changed despite failure: %d vs %d", cached.pipeline, id)
	}
}

func TestSpecializationCacheEvictDropsDeadViews(t *testing.T) {
	cache := NewSpecializationCache[meshKey]()
	spec := &stubSpecializer{}

	liveView := RetainedViewEntity{SubviewIndex: 0}
	deadView := RetainedViewEntity{SubviewIndex: 1}

	w := kiln.Factory.NewWorld()
	posComp := kiln.FactoryNewComponent[mainPosition]()
	entities, _ := w.NewEntities(1, posComp)
	entity := entities[0]

	cache.Specialize(spec, liveView, entity, 10, meshKey{}, 1, 1)
	cache.Specialize(spec, deadView, entity, 10, meshKey{}, 1, 1)

	cache.Evict(map[RetainedViewEntity]bool{liveView: true})

	if _, ok := cache.entries[specializationCacheKey{view: liveView, entity: entity}]; !ok {
		t.Errorf("Evict dropped a live view's cache entry")
	}
	if _, ok := cache.entries[specializationCacheKey{view: deadView, entity: entity}]; ok {
		t.Errorf("Evict left a dead view's cache entry in place")
	}
	if _, ok := cache.viewTick[deadView]; ok {
		t.Errorf("Evict left a dead view's tick record in place")
	}
}
