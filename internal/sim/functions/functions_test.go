package functions

import (
	"errors"
	"testing"

	"tilecraft.ai/internal/sim/hex"
	"tilecraft.ai/internal/sim/items"
	"tilecraft.ai/internal/sim/script"
	"tilecraft.ai/internal/sim/tile"
	"tilecraft.ai/internal/sim/txn"
)

type recipeMap map[string]script.Recipe

func (m recipeMap) Recipe(id string) (script.Recipe, bool) {
	r, ok := m[id]
	return r, ok
}

var testRecipes = recipeMap{
	"gear": {ID: "gear", Inputs: []items.Stack{{Item: "x", Amount: 2}, {Item: "y", Amount: 1}}, Output: items.Stack{Item: "z", Amount: 1}},
}

var allDeps = map[string]string{
	DepItem: DepItem, DepAmount: DepAmount, DepBuffer: DepBuffer, DepTarget: DepTarget,
	DepScript: DepScript, DepLink: DepLink, DepReserved: DepReserved, DepOutput: DepOutput,
	DepReservedTick: DepReservedTick,
}

func input(st *tile.State, tick uint64) *script.Input {
	fs := &script.FunctionSet{ID: st.FunctionID, IDDeps: allDeps}
	v := tile.NewView(st)
	return &script.Input{
		Coord:   hex.Coord{Q: 3, R: -1},
		Tick:    tick,
		State:   v,
		Deps:    script.ResolveDeps(fs, v),
		Recipes: testRecipes,
	}
}

func commit(st *tile.State, in *script.Input) { st.Apply(in.State.Patch()) }

func stack(item items.ID, n uint32) items.Stack { return items.Stack{Item: item, Amount: n} }

func TestStorageTransaction_PartialFill(t *testing.T) {
	st := tile.NewState("chest")
	st.Set(DepItem, tile.Item("iron"))
	st.Set(DepAmount, tile.Int(10))
	st.Set(DepBuffer, tile.Inventory(items.Inventory{"iron": 4}))

	in := input(st, 1)
	in.Transaction = txn.Transaction{Stack: stack("iron", 8)}
	out, err := storageTransaction(in)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if out.Kind != txn.OutcomeConsume || out.Amount != 6 {
		t.Fatalf("outcome=%+v want consume 6", out)
	}
	commit(st, in)
	if v, _ := st.Get(DepBuffer); v.Inv.Get("iron") != 10 {
		t.Fatalf("buffer=%v", v.Inv)
	}
}

func TestStorageTransaction_Unconfigured(t *testing.T) {
	st := tile.NewState("chest")
	in := input(st, 1)
	in.Transaction = txn.Transaction{Stack: stack("iron", 1)}
	out, err := storageTransaction(in)
	if err != nil || out.Kind != txn.OutcomeNone {
		t.Fatalf("outcome=%+v err=%v want none", out, err)
	}
	if p := in.State.Patch(); len(p) != 0 {
		t.Fatalf("unconfigured store wrote %v", p)
	}
}

func TestStorageExtract_ReservesUntilNextTick(t *testing.T) {
	st := tile.NewState("chest")
	st.Set(DepItem, tile.Item("iron"))
	st.Set(DepBuffer, tile.Inventory(items.Inventory{"iron": 5}))

	in := input(st, 7)
	in.Extract = txn.ExtractRequest{ReturnTo: hex.Coord{Q: 9, R: 9}}
	out, _ := storageExtract(in)
	if out.Kind != txn.OutcomeMakeTransaction || out.Stack != stack("iron", 5) || out.Target != (hex.Coord{Q: 9, R: 9}) {
		t.Fatalf("outcome=%+v", out)
	}
	commit(st, in)

	// Same tick: everything is already promised.
	in = input(st, 7)
	out, _ = storageExtract(in)
	if out.Kind != txn.OutcomeNone {
		t.Fatalf("double offer: %+v", out)
	}
	commit(st, in)

	// The next tick releases the unanswered reservation.
	in = input(st, 8)
	if _, err := storageTick(in); err != nil {
		t.Fatalf("tick: %v", err)
	}
	commit(st, in)
	if _, ok := st.Get(DepReserved); ok {
		t.Fatalf("reservation survived the tick")
	}
	in = input(st, 8)
	if out, _ = storageExtract(in); out.Stack.Amount != 5 {
		t.Fatalf("outcome=%+v want offer of 5", out)
	}
}

func TestStorageResult_DrawsDown(t *testing.T) {
	st := tile.NewState("chest")
	st.Set(DepBuffer, tile.Inventory(items.Inventory{"iron": 5}))
	st.Set(DepReserved, tile.Inventory(items.Inventory{"iron": 5}))
	in := input(st, 1)
	in.Result = txn.TransactionResult{Transferred: stack("iron", 3)}
	if _, err := storageResult(in); err != nil {
		t.Fatalf("err: %v", err)
	}
	commit(st, in)
	buf, _ := st.Get(DepBuffer)
	res, _ := st.Get(DepReserved)
	if buf.Inv.Get("iron") != 2 || res.Inv.Get("iron") != 2 {
		t.Fatalf("buffer=%v reserved=%v", buf.Inv, res.Inv)
	}
}

func TestSorter(t *testing.T) {
	st := tile.NewState("splitter")
	st.Set(DepTarget, tile.Coord(hex.Coord{Q: 1, R: 0}))
	st.Set(DepItem, tile.Item("iron"))

	in := input(st, 1)
	in.Transaction = txn.Transaction{Stack: stack("iron", 1)}
	out, _ := sorterTransaction(in)
	if out.Kind != txn.OutcomePassOn || out.Target != (hex.Coord{Q: 4, R: -1}) {
		t.Fatalf("match=%+v", out)
	}

	in.Transaction = txn.Transaction{Stack: stack("copper", 1)}
	out, _ = sorterTransaction(in)
	if out.Kind != txn.OutcomePassOn || out.Target != (hex.Coord{Q: 3, R: 0}) {
		t.Fatalf("other=%+v", out)
	}

	st.Delete(DepItem)
	out, _ = sorterTransaction(input(st, 1))
	if out.Kind != txn.OutcomeNone {
		t.Fatalf("unconfigured=%+v", out)
	}
}

func TestTransferAndVoid(t *testing.T) {
	st := tile.NewState("belt")
	st.Set(DepTarget, tile.Coord(hex.Coord{Q: 0, R: 1}))
	out, _ := transferTransaction(input(st, 1))
	if out.Kind != txn.OutcomePassOn || out.Target != (hex.Coord{Q: 3, R: 0}) {
		t.Fatalf("transfer=%+v", out)
	}
	out, _ = voidTransaction(input(tile.NewState("trash"), 1))
	if out.Kind != txn.OutcomeConsume || out.Accepted(9) != 9 {
		t.Fatalf("void=%+v", out)
	}
}

func TestMachine_OneBatchPerInput(t *testing.T) {
	st := tile.NewState("assembler")
	st.Set(DepScript, tile.ID("gear"))
	in := input(st, 1)
	in.Transaction = txn.Transaction{Stack: stack("x", 5)}
	out, _ := machineTransaction(in)
	if out.Kind != txn.OutcomeConsume || out.Amount != 2 {
		t.Fatalf("outcome=%+v want consume 2", out)
	}
	commit(st, in)

	in = input(st, 1)
	in.Transaction = txn.Transaction{Stack: stack("q", 5)}
	if out, _ = machineTransaction(in); out.Kind != txn.OutcomeNone {
		t.Fatalf("non-input accepted: %+v", out)
	}
}

func TestMachineTick_WaitsForInputs(t *testing.T) {
	st := tile.NewState("assembler")
	st.Set(DepScript, tile.ID("gear"))
	st.Set(DepTarget, tile.Coord(hex.Coord{Q: 1, R: 0}))
	st.Set(DepBuffer, tile.Inventory(items.Inventory{"x": 2}))

	if out, _ := machineTick(input(st, 1)); out.Kind != txn.OutcomeNone {
		t.Fatalf("incomplete batch produced %+v", out)
	}
	st.Set(DepBuffer, tile.Inventory(items.Inventory{"x": 2, "y": 1}))
	out, _ := machineTick(input(st, 1))
	if out.Kind != txn.OutcomeMakeTransaction || out.Stack != stack("z", 1) || out.Target != (hex.Coord{Q: 4, R: -1}) {
		t.Fatalf("outcome=%+v", out)
	}
}

func TestMachineResult_Desync(t *testing.T) {
	st := tile.NewState("assembler")
	st.Set(DepScript, tile.ID("gear"))
	in := input(st, 1)
	in.Result = txn.TransactionResult{Transferred: stack("z", 1)}
	if _, err := machineResult(in); !errors.Is(err, script.ErrBookkeepingDesync) {
		t.Fatalf("err=%v want desync for missing inputs", err)
	}

	in = input(st, 1)
	in.Result = txn.TransactionResult{Transferred: stack("other", 1)}
	if _, err := machineResult(in); err != nil {
		t.Fatalf("foreign item should be ignored: %v", err)
	}
}

func TestRequester(t *testing.T) {
	st := tile.NewState("inserter")
	st.Set(DepLink, tile.Coord(hex.Coord{Q: -1, R: 0}))
	st.Set(DepItem, tile.Item("iron"))
	st.Set(DepAmount, tile.Int(4))

	out, _ := requesterTick(input(st, 1))
	if out.Kind != txn.OutcomeMakeExtractRequest || out.Target != (hex.Coord{Q: 2, R: -1}) {
		t.Fatalf("tick=%+v", out)
	}

	in := input(st, 1)
	in.Transaction = txn.Transaction{Stack: stack("iron", 9)}
	out, _ = requesterTransaction(in)
	if out.Kind != txn.OutcomeConsume || out.Amount != 4 {
		t.Fatalf("transaction=%+v", out)
	}
	commit(st, in)

	if out, _ = requesterTick(input(st, 2)); out.Kind != txn.OutcomeNone {
		t.Fatalf("full requester still asking: %+v", out)
	}
}
