package functions

import (
	"fmt"

	"tilecraft.ai/internal/sim/items"
	"tilecraft.ai/internal/sim/script"
	"tilecraft.ai/internal/sim/txn"
)

func machineRecipe(in *script.Input) (script.Recipe, bool) {
	id, ok := in.Deps.ID(DepScript)
	if !ok || in.Recipes == nil {
		return script.Recipe{}, false
	}
	return in.Recipes.Recipe(id)
}

// machineTransaction buffers recipe inputs, at most one batch per item.
func machineTransaction(in *script.Input) (txn.Outcome, error) {
	recipe, ok := machineRecipe(in)
	if !ok {
		return txn.None(), nil
	}
	offer := in.Transaction.Stack
	need := recipe.Requires(offer.Item)
	if need == 0 {
		return txn.None(), nil
	}
	have := in.State.Peek(in.Deps.Key(DepBuffer)).Get(offer.Item)
	if have >= need {
		return txn.None(), nil
	}
	inserting := min(offer.Amount, need-have)
	in.State.Inventory(in.Deps.Key(DepBuffer)).Add(offer.Item, inserting)
	return txn.Consume(inserting), nil
}

// machineTick offers output toward the configured target. Output left
// over from a partially accepted batch goes first; otherwise a new batch
// is offered once all inputs are buffered. Inputs stay in the buffer
// until the result confirms the transfer.
func machineTick(in *script.Input) (txn.Outcome, error) {
	recipe, ok := machineRecipe(in)
	if !ok {
		return txn.None(), nil
	}
	target, ok := in.Deps.Coord(DepTarget)
	if !ok {
		return txn.None(), nil
	}
	dest := in.Coord.Add(target)
	out := recipe.Output
	if pending := in.State.Peek(in.Deps.Key(DepOutput)).Get(out.Item); pending > 0 {
		return txn.MakeTransaction(dest, items.Stack{Item: out.Item, Amount: pending}), nil
	}
	if !recipe.SatisfiedBy(in.State.Peek(in.Deps.Key(DepBuffer))) {
		return txn.None(), nil
	}
	return txn.MakeTransaction(dest, out), nil
}

// machineResult settles a transfer: leftover output is drawn down first,
// otherwise the batch's inputs are consumed and any undelivered output is
// kept pending for the next tick.
func machineResult(in *script.Input) (txn.Outcome, error) {
	recipe, ok := machineRecipe(in)
	if !ok {
		return txn.None(), nil
	}
	t := in.Result.Transferred
	out := recipe.Output
	if t.Item != out.Item {
		// Reconfigured since the offer went out; nothing of ours to settle.
		return txn.None(), nil
	}

	pending := in.State.Inventory(in.Deps.Key(DepOutput))
	if p := pending.Get(out.Item); p > 0 {
		if t.Amount > p {
			return txn.None(), fmt.Errorf("%w: transferred %d %s, pending %d", script.ErrBookkeepingDesync, t.Amount, t.Item, p)
		}
		pending.Take(out.Item, t.Amount)
		return txn.None(), nil
	}

	if t.Amount > out.Amount {
		return txn.None(), fmt.Errorf("%w: transferred %d %s, batch produces %d", script.ErrBookkeepingDesync, t.Amount, t.Item, out.Amount)
	}
	buf := in.State.Inventory(in.Deps.Key(DepBuffer))
	if !recipe.SatisfiedBy(buf) {
		return txn.None(), fmt.Errorf("%w: recipe %s inputs not reserved", script.ErrBookkeepingDesync, recipe.ID)
	}
	for _, s := range recipe.Inputs {
		buf.Take(s.Item, s.Amount)
	}
	if left := out.Amount - t.Amount; left > 0 {
		pending.Add(out.Item, left)
	}
	return txn.None(), nil
}
