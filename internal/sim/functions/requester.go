package functions

import (
	"tilecraft.ai/internal/sim/script"
	"tilecraft.ai/internal/sim/txn"
)

// requesterTick pulls the configured item from the linked tile until the
// buffer holds the configured amount.
func requesterTick(in *script.Input) (txn.Outcome, error) {
	link, ok := in.Deps.Coord(DepLink)
	if !ok {
		return txn.None(), nil
	}
	item, ok := in.Deps.Item(DepItem)
	if !ok {
		return txn.None(), nil
	}
	limit, ok := capacity(in)
	if !ok {
		return txn.None(), nil
	}
	if in.State.Peek(in.Deps.Key(DepBuffer)).Get(item) >= limit {
		return txn.None(), nil
	}
	return txn.MakeExtractRequest(in.Coord.Add(link)), nil
}

func requesterTransaction(in *script.Input) (txn.Outcome, error) {
	item, ok := in.Deps.Item(DepItem)
	if !ok {
		return txn.None(), nil
	}
	limit, ok := capacity(in)
	if !ok {
		return txn.None(), nil
	}
	offer := in.Transaction.Stack
	if offer.Item != item {
		return txn.None(), nil
	}
	have := in.State.Peek(in.Deps.Key(DepBuffer)).Get(item)
	if have >= limit {
		return txn.None(), nil
	}
	inserting := min(offer.Amount, limit-have)
	in.State.Inventory(in.Deps.Key(DepBuffer)).Add(item, inserting)
	return txn.Consume(inserting), nil
}
