package log

import (
	"errors"
	"path/filepath"
	"testing"

	"tilecraft.ai/internal/sim/engine"
	"tilecraft.ai/internal/sim/hex"
)

func TestTickLogger_WriteAndRead(t *testing.T) {
	dir := t.TempDir()
	l := NewTickLogger(dir)
	for i := uint64(1); i <= 3; i++ {
		rep := engine.TickReport{Tick: i, Tiles: 2, Digest: "d"}
		if i == 2 {
			rep.Transfers = []engine.TransferRecord{{From: hex.Coord{Q: 1}, To: hex.Coord{R: 1}, Item: "iron", Amount: 4}}
		}
		if err := l.WriteTick(rep); err != nil {
			t.Fatalf("write tick %d: %v", i, err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	files, err := Files(filepath.Join(dir, "ticks"), "ticks")
	if err != nil || len(files) == 0 {
		t.Fatalf("files=%v err=%v", files, err)
	}
	var got []engine.TickReport
	for _, f := range files {
		if err := ReadJSONL(f, func(rep engine.TickReport) error {
			got = append(got, rep)
			return nil
		}); err != nil {
			t.Fatalf("read: %v", err)
		}
	}
	if len(got) != 3 || got[2].Tick != 3 {
		t.Fatalf("got=%+v", got)
	}
	if len(got[1].Transfers) != 1 || got[1].Transfers[0].Amount != 4 || got[1].Transfers[0].To != (hex.Coord{R: 1}) {
		t.Fatalf("transfer lost: %+v", got[1])
	}
}

func TestFaultLogger_OnlyFaults(t *testing.T) {
	dir := t.TempDir()
	l := NewFaultLogger(dir)
	tee := Tee{l, nil}
	if err := tee.WriteTick(engine.TickReport{Tick: 1}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := tee.WriteTick(engine.TickReport{
		Tick:          2,
		TileFaults:    []engine.FaultRecord{{Message: "TRANSACTION", Error: "boom"}},
		RoutingFaults: []engine.RoutingFault{{Hops: 65, Item: "iron", Amount: 1}},
	}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	files, err := Files(filepath.Join(dir, "faults"), "faults")
	if err != nil || len(files) == 0 {
		t.Fatalf("files=%v err=%v", files, err)
	}
	var kinds []string
	for _, f := range files {
		if err := ReadJSONL(f, func(e FaultEntry) error {
			if e.Tick != 2 {
				t.Fatalf("unexpected tick %d", e.Tick)
			}
			kinds = append(kinds, e.Kind)
			return nil
		}); err != nil {
			t.Fatalf("read: %v", err)
		}
	}
	if len(kinds) != 2 || kinds[0] != "tile" || kinds[1] != "routing" {
		t.Fatalf("kinds=%v", kinds)
	}
}

type failingLogger struct{ n int }

func (f *failingLogger) WriteTick(engine.TickReport) error {
	f.n++
	return errors.New("disk full")
}

func TestTee_WritesAllAndJoinsErrors(t *testing.T) {
	a, b := &failingLogger{}, &failingLogger{}
	err := Tee{a, b}.WriteTick(engine.TickReport{Tick: 1})
	if err == nil || a.n != 1 || b.n != 1 {
		t.Fatalf("err=%v a=%d b=%d", err, a.n, b.n)
	}
}
