// Package render is kiln's extraction/specialization/phase layer: the
// bridge that copies a slice of the main simulation World into a
// separate, render-owned World each frame, caches whatever a GPU
// pipeline needs to be respecialized, and bins draw calls into ordered
// phases. No GPU backend is implemented; TrackedRenderPass and
// Specializer are external contracts a real backend would satisfy.
package render

import "github.com/kiln-ecs/kiln"

// RetainedViewEntity names a persistent view (e.g. one shadow cascade of
// one light) so extraction, specialization, and phase state can survive
// across frames for it even though the underlying main-world entity's
// visible sub-views may be recomputed every frame. Grounded on
// bevy_pbr/src/render/light.rs's RetainedViewEntity identity, which
// exists so per-cascade GPU state isn't thrown away just because a
// light's shadow-casting sub-view count changed.
type RetainedViewEntity struct {
	Main         kiln.Entity
	SubviewIndex uint32
}

// Bridge owns the one-way copy from a main simulation World into a
// render World. Grounded on the teacher's TransferEntities/
// TransferEntityOperation (storage.go/command.go) dual-storage move,
// generalized from "move an entity out of Main" to "mirror Main's state
// into Render without removing it from Main".
type Bridge struct {
	Main, Render *kiln.World

	entityMap map[kiln.Entity]kiln.Entity
	views     map[RetainedViewEntity]kiln.Entity

	transientComponents map[kiln.ComponentId]kiln.Component
}

// NewBridge creates a Bridge extracting from main into render.
func NewBridge(main, render *kiln.World) *Bridge {
	return &Bridge{
		Main:                main,
		Render:              render,
		entityMap:           make(map[kiln.Entity]kiln.Entity),
		views:                make(map[RetainedViewEntity]kiln.Entity),
		transientComponents: make(map[kiln.ComponentId]kiln.Component),
	}
}

// MarkTransient flags a render-world component as frame-transient: its
// value is always rewritten by the next Extract call and should be
// cleared, not stale-read, if that frame's Extract doesn't touch it.
// Mirrors light.rs's ExtractedPointLight/ExtractedDirectionalLight
// components, which exist only for the frame that extracted them.
func (b *Bridge) MarkTransient(c kiln.Component) {
	b.transientComponents[kiln.ComponentId(b.Render.RowIndexFor(c))] = c
}

// BeginFrame removes every transient component from every render entity
// that carries one, so a render entity no longer visible this frame
// doesn't keep rendering last frame's extracted data. Entities left with
// no components after this are not despawned here — Extract re-adds
// components for whatever is still visible, and a caller-driven sweep
// (see Bridge.Sweep) despawns render entities whose main entity is no
// longer valid.
func (b *Bridge) BeginFrame() error {
	if len(b.transientComponents) == 0 {
		return nil
	}
	for _, renderEntity := range b.entityMap {
		for _, comp := range b.transientComponents {
			if err := renderEntity.RemoveComponent(comp); err != nil {
				if _, ok := err.(kiln.ComponentNotFoundError); ok {
					continue
				}
				return err
			}
		}
	}
	return nil
}

// renderEntityFor returns the render-world mirror of mainEntity, creating
// an empty one on first sight.
func (b *Bridge) renderEntityFor(mainEntity kiln.Entity) (kiln.Entity, error) {
	if re, ok := b.entityMap[mainEntity]; ok {
		return re, nil
	}
	entities, err := b.Render.NewEntities(1)
	if err != nil {
		return nil, err
	}
	re := entities[0]
	b.entityMap[mainEntity] = re
	return re, nil
}

// RetainedView registers (or returns the existing) render entity backing
// one persistent sub-view of mainEntity — e.g. one cascade of a
// directional light's shadow map. Unlike renderEntityFor, which mirrors
// mainEntity itself, each distinct subviewIndex gets its own render
// entity: a light with four cascades needs four independent shadow-view
// entities, not four aliases of the same one.
func (b *Bridge) RetainedView(mainEntity kiln.Entity, subviewIndex uint32) (kiln.Entity, error) {
	key := RetainedViewEntity{Main: mainEntity, SubviewIndex: subviewIndex}
	if re, ok := b.views[key]; ok {
		return re, nil
	}
	entities, err := b.Render.NewEntities(1)
	if err != nil {
		return nil, err
	}
	re := entities[0]
	b.views[key] = re
	return re, nil
}

// Extract copies one component's value from every entity qs matches in
// Main onto that entity's render-world mirror, via writeFn (which reads
// the main-world value and applies it to the render-world component,
// since the two Worlds register independent schemas and so have distinct
// ComponentIds for what is conceptually "the same" component type).
func Extract[T any](b *Bridge, qs *kiln.QueryState, mainComp, renderComp kiln.AccessibleComponent[T], writeFn func(src, dst *T)) error {
	for mainEntity, _ := range qs.Iter(b.Main) {
		renderEntity, err := b.renderEntityFor(mainEntity)
		if err != nil {
			return err
		}
		if !renderComp.Check(renderEntity.Table()) {
			if err := renderEntity.AddComponent(renderComp.Component); err != nil {
				return err
			}
		}
		src := mainComp.GetFromEntity(mainEntity)
		dst := renderComp.GetFromEntity(renderEntity)
		writeFn(src, dst)
	}
	return nil
}

// Sweep despawns render entities whose main-world counterpart no longer
// exists, releasing the retained-view mapping along with them.
func (b *Bridge) Sweep() error {
	var dead []kiln.Entity
	for mainEntity, renderEntity := range b.entityMap {
		if !mainEntity.Valid() {
			dead = append(dead, renderEntity)
			delete(b.entityMap, mainEntity)
		}
	}
	for key := range b.views {
		if !key.Main.Valid() {
			dead = append(dead, b.views[key])
			delete(b.views, key)
		}
	}
	if len(dead) == 0 {
		return nil
	}
	return b.Render.DestroyEntities(dead...)
}
