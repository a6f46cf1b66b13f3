package engine

import (
	"errors"
	"path/filepath"
	"testing"

	snapv1 "tilecraft.ai/internal/persistence/snapshot"
	"tilecraft.ai/internal/sim/items"
	"tilecraft.ai/internal/sim/tile"
)

func TestExportImportRoundTrip(t *testing.T) {
	e := newTestEngine(t, Config{WorldID: "w1"})
	mustPlace(t, e, c(0, 0), "chest", chestFields("iron", 10, 4))
	mustPlace(t, e, c(-1, 0), "belt", map[string]tile.Value{"target": tile.Coord(c(1, 0))})
	mustPlace(t, e, c(2, -1), "assembler", map[string]tile.Value{
		"script": tile.ID("gear"),
		"buffer": tile.Inventory(items.Inventory{"x": 2}),
	})
	mustStep(t, e)
	mustStep(t, e)

	want, err := e.Digest(testCtx(t))
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	snap, err := e.Export(testCtx(t))
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if snap.Header.Tick != 2 || snap.Header.WorldID != "w1" || len(snap.Tiles) != 3 {
		t.Fatalf("header=%+v tiles=%d", snap.Header, len(snap.Tiles))
	}

	// Through the file format, as the server does it.
	path := filepath.Join(t.TempDir(), "2.snap.zst")
	if err := snapv1.WriteSnapshot(path, snap); err != nil {
		t.Fatalf("write: %v", err)
	}
	loaded, err := snapv1.ReadSnapshot(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	e2 := newTestEngine(t, Config{WorldID: "w1"})
	mustPlace(t, e2, c(9, 9), "trash", nil)
	if err := e2.Import(testCtx(t), loaded); err != nil {
		t.Fatalf("import: %v", err)
	}
	if e2.Has(c(9, 9)) {
		t.Fatalf("import kept a tile that was not in the snapshot")
	}
	if e2.CurrentTick() != 2 {
		t.Fatalf("tick=%d want 2", e2.CurrentTick())
	}
	got, err := e2.Digest(testCtx(t))
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	if got != want {
		t.Fatalf("digest mismatch after import")
	}
	if inv := inventoryAt(t, e2, c(0, 0), "buffer"); inv.Get("iron") != 4 {
		t.Fatalf("chest buffer=%v", inv)
	}
}

func TestImportKeepsFaults(t *testing.T) {
	e := newTestEngine(t, Config{})
	snap := snapv1.SnapshotV1{
		Header: snapv1.Header{Version: snapv1.Version, Tick: 7},
		Tiles: []snapv1.TileV1{{
			FunctionID: "belt",
			Fields:     []snapv1.FieldV1{{Key: "target", Kind: "coord", Q: 1}},
			Fault:      &snapv1.FaultV1{Tick: 5, Message: "TRANSACTION", Error: "boom"},
		}},
	}
	if err := e.Import(testCtx(t), snap); err != nil {
		t.Fatalf("import: %v", err)
	}
	ts, err := e.Inspect(testCtx(t), c(0, 0))
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if ts.Fault == nil || ts.Fault.Tick != 5 || ts.Fault.Err.Error() != "boom" {
		t.Fatalf("fault=%+v", ts.Fault)
	}
	if err := e.Reset(testCtx(t), c(0, 0)); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if ts, _ := e.Inspect(testCtx(t), c(0, 0)); ts.Fault != nil {
		t.Fatalf("fault survived reset")
	}
}

func TestImportRejectsUnknownFunction(t *testing.T) {
	e := newTestEngine(t, Config{})
	mustPlace(t, e, c(0, 0), "trash", nil)
	err := e.Import(testCtx(t), snapv1.SnapshotV1{
		Header: snapv1.Header{Version: snapv1.Version},
		Tiles:  []snapv1.TileV1{{FunctionID: "nope"}},
	})
	if !errors.Is(err, ErrUnknownFunction) {
		t.Fatalf("err=%v want ErrUnknownFunction", err)
	}
	if !e.Has(c(0, 0)) {
		t.Fatalf("failed import touched the grid")
	}
	if err := e.Import(testCtx(t), snapv1.SnapshotV1{Header: snapv1.Header{Version: 99}}); !errors.Is(err, snapv1.ErrVersion) {
		t.Fatalf("err=%v want ErrVersion", err)
	}
}
