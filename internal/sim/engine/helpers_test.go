package engine

import (
	"context"
	"testing"
	"time"

	"tilecraft.ai/internal/sim/functions"
	"tilecraft.ai/internal/sim/hex"
	"tilecraft.ai/internal/sim/items"
	"tilecraft.ai/internal/sim/script"
	"tilecraft.ai/internal/sim/tile"
	"tilecraft.ai/internal/sim/txn"
)

func stdDeps(names ...string) map[string]string {
	m := make(map[string]string, len(names))
	for _, n := range names {
		m[n] = n
	}
	return m
}

func testRegistry(t *testing.T, extra ...*script.FunctionSet) *script.Registry {
	t.Helper()
	kinds := functions.Kinds()
	fs := func(id, kind string, deps map[string]string) *script.FunctionSet {
		return &script.FunctionSet{ID: id, Kind: kind, IDDeps: deps, Handlers: kinds[kind]}
	}
	sets := []*script.FunctionSet{
		fs("chest", functions.KindStorage, stdDeps("item", "amount", "buffer", "reserved", "reserved_tick")),
		fs("belt", functions.KindTransfer, stdDeps("target")),
		fs("splitter", functions.KindSorter, stdDeps("target", "item")),
		fs("trash", functions.KindVoid, nil),
		fs("assembler", functions.KindMachine, stdDeps("script", "target", "buffer", "output")),
		fs("inserter", functions.KindRequester, stdDeps("link", "item", "amount", "buffer")),
	}
	sets = append(sets, extra...)
	recipes := []script.Recipe{
		{ID: "gear", Inputs: []items.Stack{{Item: "x", Amount: 2}, {Item: "y", Amount: 1}}, Output: items.Stack{Item: "z", Amount: 1}},
		{ID: "triple", Inputs: []items.Stack{{Item: "x", Amount: 1}}, Output: items.Stack{Item: "z", Amount: 3}},
	}
	reg, err := script.NewRegistry(sets, recipes, nil)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return reg
}

func newTestEngine(t *testing.T, cfg Config, extra ...*script.FunctionSet) *Engine {
	t.Helper()
	e := New(cfg, testRegistry(t, extra...), nil)
	t.Cleanup(e.Close)
	return e
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func c(q, r int) hex.Coord { return hex.Coord{Q: q, R: r} }

func mustPlace(t *testing.T, e *Engine, at hex.Coord, fn string, fields map[string]tile.Value) {
	t.Helper()
	if err := e.Place(at, fn, fields); err != nil {
		t.Fatalf("place %s at %s: %v", fn, at, err)
	}
}

func mustSend(t *testing.T, e *Engine, msg txn.Message) {
	t.Helper()
	if err := e.Send(msg); err != nil {
		t.Fatalf("send %+v: %v", msg, err)
	}
}

func offer(to, from hex.Coord, item items.ID, n uint32) txn.Transaction {
	return txn.Transaction{Target: to, Source: from, Stack: items.Stack{Item: item, Amount: n}}
}

func mustWait(t *testing.T, e *Engine) {
	t.Helper()
	if err := e.Wait(testCtx(t)); err != nil {
		t.Fatalf("wait: %v", err)
	}
}

func mustStep(t *testing.T, e *Engine) TickReport {
	t.Helper()
	rep, err := e.Step(testCtx(t))
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	return rep
}

func inventoryAt(t *testing.T, e *Engine, at hex.Coord, key string) items.Inventory {
	t.Helper()
	snap, err := e.Inspect(testCtx(t), at)
	if err != nil {
		t.Fatalf("inspect %s: %v", at, err)
	}
	v, ok := snap.Fields[key]
	if !ok || v.Kind != tile.KindInventory {
		return items.Inventory{}
	}
	return v.Inv
}

func chestFields(item items.ID, capacity int64, held uint32) map[string]tile.Value {
	f := map[string]tile.Value{
		"item":   tile.Item(item),
		"amount": tile.Int(capacity),
	}
	if held > 0 {
		f["buffer"] = tile.Inventory(items.Inventory{item: held})
	}
	return f
}
