package render

import (
	"cmp"
	"sort"

	"github.com/kiln-ecs/kiln"
)

// Bundle is the external contract (§6) for whatever a render-world entity
// carries into a phase: the core only needs its constituent component ids;
// drop discipline on partial failure is the caller's responsibility, not
// this package's.
type Bundle interface {
	ComponentIDs() []kiln.ComponentId
}

// AssetHandle is an opaque id plus a strong/weak reference count; asset
// loading and unloading happen entirely outside this package.
type AssetHandle struct {
	ID     uint64
	Strong uint32
	Weak   uint32
}

// TrackedRenderPass is the external GPU command recorder contract (§6). No
// backend is implemented here; a real one satisfies this by recording state
// transitions for diagnostics as it issues the actual draw calls.
type TrackedRenderPass interface {
	SetPipeline(PipelineID)
	SetBindGroup(slot uint32, handle AssetHandle)
	DrawIndexed(indexCount, instanceCount uint32)
	Draw(vertexCount, instanceCount uint32)
	MultiDrawIndirect(handle AssetHandle, drawCount uint32)
}

// phaseItem is one binned/sorted draw: the render-world mirror entity and
// the main-world entity it was extracted from (kept so ValidateCachedEntity
// and per-frame bookkeeping can be done against either world), the pipeline
// it was last specialized to, and the tick that specialization was valid
// as of.
type phaseItem struct {
	renderEntity kiln.Entity
	mainEntity   kiln.Entity
	inputIndex   int
	pipeline     PipelineID
	tick         kiln.Tick
}

// BinnedPhase groups draw items by a two-level key: BatchSetKey identifies
// items that may be multi-drawn together (pipeline, draw fn, bind group,
// vertex/index slab); BinKey sub-groups within a set (mesh asset id). Items
// sharing a bin share identical draw state and may be issued as one
// multi-draw-indirect call. Grounded on bevy_pbr's binned-phase shadow
// cascade machinery (light.rs, from original_source/) and the spec's own
// BatchSetKey/BinKey description.
type BinnedPhase[BSK, BK comparable] struct {
	order []BSK
	sets  map[BSK]*binSet[BK]
}

type binSet[BK comparable] struct {
	order []BK
	bins  map[BK][]phaseItem
}

// NewBinnedPhase creates an empty binned phase.
func NewBinnedPhase[BSK, BK comparable]() *BinnedPhase[BSK, BK] {
	return &BinnedPhase[BSK, BK]{sets: make(map[BSK]*binSet[BK])}
}

// ValidateCachedEntity reports whether renderEntity is already binned with
// a pipeline whose cached tick equals currentTick; if true the caller
// should skip re-binning it this frame.
func (p *BinnedPhase[BSK, BK]) ValidateCachedEntity(renderEntity kiln.Entity, currentTick kiln.Tick) bool {
	for _, bsk := range p.order {
		set := p.sets[bsk]
		for _, bk := range set.order {
			for _, item := range set.bins[bk] {
				if item.renderEntity == renderEntity {
					return item.tick == currentTick
				}
			}
		}
	}
	return false
}

// Add inserts an item into the bin identified by (batchSetKey, binKey),
// recording tick for future ValidateCachedEntity checks.
func (p *BinnedPhase[BSK, BK]) Add(batchSetKey BSK, binKey BK, renderEntity, mainEntity kiln.Entity, inputIndex int, pipeline PipelineID, tick kiln.Tick) {
	set, ok := p.sets[batchSetKey]
	if !ok {
		set = &binSet[BK]{bins: make(map[BK][]phaseItem)}
		p.sets[batchSetKey] = set
		p.order = append(p.order, batchSetKey)
	}
	if _, ok := set.bins[binKey]; !ok {
		set.order = append(set.order, binKey)
	}
	set.bins[binKey] = append(set.bins[binKey], phaseItem{
		renderEntity: renderEntity,
		mainEntity:   mainEntity,
		inputIndex:   inputIndex,
		pipeline:     pipeline,
		tick:         tick,
	})
}

// Clear empties the phase, ready for the next frame's Add calls.
func (p *BinnedPhase[BSK, BK]) Clear() {
	p.order = p.order[:0]
	p.sets = make(map[BSK]*binSet[BK])
}

// Draw issues draw commands in deterministic order: batch-set insertion
// order, then bin insertion order within each set. A bin with more than one
// item is issued as a single MultiDrawIndirect call; a singleton bin is
// issued as a plain DrawIndexed.
func (p *BinnedPhase[BSK, BK]) Draw(pass TrackedRenderPass) {
	for _, bsk := range p.order {
		set := p.sets[bsk]
		for _, bk := range set.order {
			items := set.bins[bk]
			if len(items) == 0 {
				continue
			}
			pass.SetPipeline(items[0].pipeline)
			if len(items) > 1 {
				pass.MultiDrawIndirect(AssetHandle{}, uint32(len(items)))
				continue
			}
			pass.DrawIndexed(0, 1)
		}
	}
}

// sortedItem pairs a phaseItem with its sort key for SortedPhase.
type sortedItem[S cmp.Ordered] struct {
	item phaseItem
	key  S
}

// SortedPhase orders items individually by a sort key (e.g. float-ord
// camera distance for transparency) rather than grouping into bins.
// Items carry no batch-set key, and Draw issues each one as its own call;
// adjacent items are not merged into batches.
type SortedPhase[S cmp.Ordered] struct {
	items      []sortedItem[S]
	descending bool
}

// NewSortedPhase creates an empty sorted phase. descending controls sort
// direction (back-to-front transparency typically sorts descending by
// camera distance).
func NewSortedPhase[S cmp.Ordered](descending bool) *SortedPhase[S] {
	return &SortedPhase[S]{descending: descending}
}

// Add appends an item with the given sort key; Sort must be called before
// Draw reflects the new item's position.
func (p *SortedPhase[S]) Add(renderEntity, mainEntity kiln.Entity, inputIndex int, pipeline PipelineID, tick kiln.Tick, sortKey S) {
	p.items = append(p.items, sortedItem[S]{
		item: phaseItem{
			renderEntity: renderEntity,
			mainEntity:   mainEntity,
			inputIndex:   inputIndex,
			pipeline:     pipeline,
			tick:         tick,
		},
		key: sortKey,
	})
}

// Sort orders items by key (stable, so ties preserve insertion/batching
// order), ascending unless the phase was constructed with descending=true.
func (p *SortedPhase[S]) Sort() {
	sort.SliceStable(p.items, func(i, j int) bool {
		if p.descending {
			return p.items[j].key < p.items[i].key
		}
		return p.items[i].key < p.items[j].key
	})
}

// Clear empties the phase for the next frame.
func (p *SortedPhase[S]) Clear() {
	p.items = p.items[:0]
}

// Draw issues draw commands in sorted order, one at a time (transparency
// items are not eligible for multi-draw batching across distinct meshes).
func (p *SortedPhase[S]) Draw(pass TrackedRenderPass) {
	for _, si := range p.items {
		pass.SetPipeline(si.item.pipeline)
		pass.DrawIndexed(0, 1)
	}
}

// OcclusionPhasePair implements two-phase occlusion culling (§4.10 "Shadow
// handling"): EarlyPhase draws meshes visible last frame; LatePhase draws
// newly visible meshes after the occlusion-query resolve. Lights without
// occlusion culling only ever populate EarlyPhase. Grounded on bevy_pbr
// light.rs's per-cascade binned shadow phases (from original_source/),
// generalized from a concrete shadow pass to any (BSK, BK) binning.
type OcclusionPhasePair[BSK, BK comparable] struct {
	EarlyPhase *BinnedPhase[BSK, BK]
	LatePhase  *BinnedPhase[BSK, BK]
}

// NewOcclusionPhasePair creates an early/late phase pair.
func NewOcclusionPhasePair[BSK, BK comparable]() *OcclusionPhasePair[BSK, BK] {
	return &OcclusionPhasePair[BSK, BK]{
		EarlyPhase: NewBinnedPhase[BSK, BK](),
		LatePhase:  NewBinnedPhase[BSK, BK](),
	}
}

// Draw issues the early pass followed by the late pass.
func (o *OcclusionPhasePair[BSK, BK]) Draw(pass TrackedRenderPass) {
	o.EarlyPhase.Draw(pass)
	o.LatePhase.Draw(pass)
}

// Clear empties both phases for the next frame.
func (o *OcclusionPhasePair[BSK, BK]) Clear() {
	o.EarlyPhase.Clear()
	o.LatePhase.Clear()
}
