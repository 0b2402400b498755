package render

import (
	"testing"

	"github.com/kiln-ecs/kiln"
)

type mainPosition struct {
	X, Y float64
}

type renderPosition struct {
	X, Y float64
}

type extractedLight struct {
	Intensity float64
}

func TestBridgeExtractCopiesComponentValues(t *testing.T) {
	main := kiln.Factory.NewWorld()
	renderWorld := kiln.Factory.NewWorld()

	mainPos := kiln.FactoryNewComponent[mainPosition]()
	renderPos := kiln.FactoryNewComponent[mainPosition]()

	entities, err := main.NewEntities(3, mainPos)
	if err != nil {
		t.Fatalf("NewEntities failed: %v", err)
	}
	for i, e := range entities {
		p := mainPos.GetFromEntity(e)
		p.X, p.Y = float64(i), float64(i*2)
	}

	bridge := NewBridge(main, renderWorld)

	query := kiln.Factory.NewQuery()
	node := query.And(mainPos)
	qs := kiln.NewQueryState(main, node, kiln.NewFilteredAccess())

	err = Extract(bridge, qs, mainPos, renderPos, func(src, dst *mainPosition) {
		dst.X, dst.Y = src.X, src.Y
	})
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	for _, e := range entities {
		re, ok := bridge.entityMap[e]
		if !ok {
			t.Fatalf("no render entity recorded for main entity")
		}
		if !renderPos.Check(re.Table()) {
			t.Errorf("render entity missing extracted component")
			continue
		}
		if got, want := *renderPos.GetFromEntity(re), *mainPos.GetFromEntity(e); got != want {
			t.Errorf("extracted value = %+v, want %+v", got, want)
		}
	}
}

func TestBridgeBeginFrameClearsTransientComponents(t *testing.T) {
	main := kiln.Factory.NewWorld()
	renderWorld := kiln.Factory.NewWorld()

	mainLight := kiln.FactoryNewComponent[extractedLight]()
	renderLight := kiln.FactoryNewComponent[extractedLight]()

	entities, err := main.NewEntities(1, mainLight)
	if err != nil {
		t.Fatalf("NewEntities failed: %v", err)
	}

	bridge := NewBridge(main, renderWorld)
	bridge.MarkTransient(renderLight)

	query := kiln.Factory.NewQuery()
	node := query.And(mainLight)
	qs := kiln.NewQueryState(main, node, kiln.NewFilteredAccess())

	if err := Extract(bridge, qs, mainLight, renderLight, func(src, dst *extractedLight) {
		dst.Intensity = src.Intensity
	}); err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	re := bridge.entityMap[entities[0]]
	if !renderLight.Check(re.Table()) {
		t.Fatalf("render entity did not receive extracted component")
	}

	if err := bridge.BeginFrame(); err != nil {
		t.Fatalf("BeginFrame failed: %v", err)
	}

	if renderLight.Check(re.Table()) {
		t.Errorf("transient component survived BeginFrame")
	}

	// BeginFrame on an entity already stripped of the transient component
	// must be a no-op, not an error.
	if err := bridge.BeginFrame(); err != nil {
		t.Fatalf("second BeginFrame failed: %v", err)
	}
}

func TestBridgeRetainedViewIsStableAcrossCalls(t *testing.T) {
	main := kiln.Factory.NewWorld()
	renderWorld := kiln.Factory.NewWorld()
	posComp := kiln.FactoryNewComponent[mainPosition]()

	entities, err := main.NewEntities(1, posComp)
	if err != nil {
		t.Fatalf("NewEntities failed: %v", err)
	}

	bridge := NewBridge(main, renderWorld)

	first, err := bridge.RetainedView(entities[0], 2)
	if err != nil {
		t.Fatalf("RetainedView failed: %v", err)
	}
	second, err := bridge.RetainedView(entities[0], 2)
	if err != nil {
		t.Fatalf("RetainedView failed: %v", err)
	}
	if first != second {
		t.Errorf("RetainedView returned different entities for the same (main, subview) key")
	}

	other, err := bridge.RetainedView(entities[0], 3)
	if err != nil {
		t.Fatalf("RetainedView failed: %v", err)
	}
	if other == first {
		t.Errorf("distinct subview indices should not share a view entity identity")
	}
}

func TestBridgeSweepDespawnsDeadMainEntities(t *testing.T) {
	main := kiln.Factory.NewWorld()
	renderWorld := kiln.Factory.NewWorld()
	posComp := kiln.FactoryNewComponent[mainPosition]()

	entities, err := main.NewEntities(2, posComp)
	if err != nil {
		t.Fatalf("NewEntities failed: %v", err)
	}

	bridge := NewBridge(main, renderWorld)
	if _, err := bridge.renderEntityFor(entities[0]); err != nil {
		t.Fatalf("renderEntityFor failed: %v", err)
	}
	if _, err := bridge.renderEntityFor(entities[1]); err != nil {
		t.Fatalf("renderEntityFor failed: %v", err)
	}

	if err := main.DestroyEntities(entities[0]); err != nil {
		t.Fatalf("DestroyEntities failed: %v", err)
	}

	if err := bridge.Sweep(); err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}

	if _, ok := bridge.entityMap[entities[0]]; ok {
		t.Errorf("Sweep left a dead main entity in entityMap")
	}
	if _, ok := bridge.entityMap[entities[1]]; !ok {
		t.Errorf("Sweep removed a live main entity's mapping")
	}
}
