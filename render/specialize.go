package render

import (
	"log"

	"github.com/kiln-ecs/kiln"
)

// PipelineID identifies a compiled GPU pipeline permutation. Opaque to the
// cache; only Specializer knows how to produce one.
type PipelineID uint64

// PipelineKey is whatever an entity/view pair hashes down to for pipeline
// selection (vertex layout, alpha mode, shadow-caster flag, ...). Comparable
// so it can be used as a map key and diffed cheaply frame to frame.
type PipelineKey interface {
	comparable
}

// Specializer is the external GPU pipeline cache contract: given a base
// pipeline and a key, it returns the compiled permutation id. Deterministic
// on (base, key, meshLayout); idempotent caching of the compiled result is
// the implementer's responsibility, not SpecializationCache's.
type Specializer[K PipelineKey] interface {
	Specialize(base PipelineID, key K, meshLayout uint64) (PipelineID, error)
}

// specializationEntry is what SpecializationCache stores per (view,
// entity): the tick the entry was computed at, and the resulting pipeline.
type specializationEntry struct {
	tick     kiln.Tick
	pipeline PipelineID
}

type specializationCacheKey struct {
	view   RetainedViewEntity
	entity kiln.Entity
}

// SpecializationCache is the per-view x per-entity cache of (tick,
// PipelineID), keyed by (RetainedViewEntity, MainEntity). Grounded on
// bevy_sprite's mesh2d/material.rs specialization-key/pipeline-cache shape
// (from original_source/), reimplemented against the generic Specializer
// contract instead of a concrete wgpu renderer. A change-tick gate (§4.9)
// keeps the expensive Specialize call off the hot path: an entity is only
// respecialized when its own tick, or its view's tick, has moved forward
// since the cached entry was written.
type SpecializationCache[K PipelineKey] struct {
	entries  map[specializationCacheKey]specializationEntry
	viewTick map[RetainedViewEntity]kiln.Tick
	viewKey  map[RetainedViewEntity]K
}

// NewSpecializationCache creates an empty cache.
func NewSpecializationCache[K PipelineKey]() *SpecializationCache[K] {
	return &SpecializationCache[K]{
		entries:  make(map[specializationCacheKey]specializationEntry),
		viewTick: make(map[RetainedViewEntity]kiln.Tick),
		viewKey:  make(map[RetainedViewEntity]K),
	}
}

// NoteViewKey compares K_V (camera settings, MSAA, HDR, ...) against the
// cached key for view; if it changed, view_specialization_tick[view] is
// bumped to now, invalidating every entry cached against that view.
func (c *SpecializationCache[K]) NoteViewKey(view RetainedViewEntity, key K, now kiln.Tick) {
	if prev, ok := c.viewKey[view]; !ok || prev != key {
		c.viewKey[view] = key
		c.viewTick[view] = now
	}
}

// NeedsSpecialize reports whether (view, entity) must be respecialized this
// frame: true on cache miss, or if the view's or the entity's tick is newer
// than the cached entry's tick. entityTick is the caller-supplied change
// tick of whatever mesh/material inputs feed K_E.
func (c *SpecializationCache[K]) NeedsSpecialize(view RetainedViewEntity, entity kiln.Entity, entityTick, now kiln.Tick) bool {
	key := specializationCacheKey{view: view, entity: entity}
	entry, ok := c.entries[key]
	if !ok {
		return true
	}
	viewTick := c.viewTick[view]
	if viewTick.IsNewerThan(entry.tick, now) {
		return true
	}
	return entityTick.IsNewerThan(entry.tick, now)
}

// Specialize runs the gated specialization: if NeedsSpecialize is false it
// returns the cached pipeline without calling spec. Otherwise it invokes
// spec.Specialize, stores (now, result) on success, and leaves the stale
// entry untouched on failure so the caller may retry next frame once the
// offending input changes (the failure is logged and returned wrapped in a
// per-item SpecializationError; the caller skips that entity this frame).
func (c *SpecializationCache[K]) Specialize(spec Specializer[K], view RetainedViewEntity, entity kiln.Entity, base PipelineID, meshKey K, entityTick, now kiln.Tick) (PipelineID, error) {
	key := specializationCacheKey{view: view, entity: entity}
	if !c.NeedsSpecialize(view, entity, entityTick, now) {
		return c.entries[key].pipeline, nil
	}
	id, err := spec.Specialize(base, meshKey, 0)
	if err != nil {
		log.Printf("render: specialization failed, entity skipped this frame: %v", err)
		return 0, kiln.SpecializationError{Err: err}
	}
	c.entries[key] = specializationEntry{tick: now, pipeline: id}
	return id, nil
}

// Evict drops every cache entry (and view-key/tick record) for a view not
// present in liveViews, run once at the end of each frame so cascades or
// shadow views that stopped rendering don't leak cache entries forever.
func (c *SpecializationCache[K]) Evict(liveViews map[RetainedViewEntity]bool) {
	for key := range c.entries {
		if !liveViews[key.view] {
			delete(c.entries, key)
		}
	}
	for view := range c.viewTick {
		if !liveViews[view] {
			delete(c.viewTick, view)
			delete(c.viewKey, view)
		}
	}
}
