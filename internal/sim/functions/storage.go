package functions

import (
	"tilecraft.ai/internal/sim/items"
	"tilecraft.ai/internal/sim/script"
	"tilecraft.ai/internal/sim/tile"
	"tilecraft.ai/internal/sim/txn"
)

// storageTransaction accepts the configured item up to the configured
// amount. A full store rejects silently; otherwise it takes as much as
// fits and reports exactly that.
func storageTransaction(in *script.Input) (txn.Outcome, error) {
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
	stored := in.State.Peek(in.Deps.Key(DepBuffer)).Get(item)
	if stored >= limit {
		return txn.None(), nil
	}
	inserting := min(offer.Amount, limit-stored)
	in.State.Inventory(in.Deps.Key(DepBuffer)).Add(item, inserting)
	return txn.Consume(inserting), nil
}

// storageExtract offers everything not already on its way out. The
// offered amount stays reserved until the result arrives; reservations
// from earlier ticks are stale because every result of a tick lands
// before the next one starts.
func storageExtract(in *script.Input) (txn.Outcome, error) {
	item, ok := in.Deps.Item(DepItem)
	if !ok {
		return txn.None(), nil
	}
	releaseStale(in)
	held := in.State.Peek(in.Deps.Key(DepBuffer)).Get(item)
	reserved := in.State.Inventory(in.Deps.Key(DepReserved))
	if held <= reserved.Get(item) {
		return txn.None(), nil
	}
	avail := held - reserved.Get(item)
	reserved.Add(item, avail)
	in.State.Set(in.Deps.Key(DepReservedTick), tile.Int(int64(in.Tick)))
	return txn.MakeTransaction(in.Extract.ReturnTo, items.Stack{Item: item, Amount: avail}), nil
}

func storageResult(in *script.Input) (txn.Outcome, error) {
	t := in.Result.Transferred
	in.State.Inventory(in.Deps.Key(DepBuffer)).Take(t.Item, t.Amount)
	in.State.Inventory(in.Deps.Key(DepReserved)).Take(t.Item, t.Amount)
	return txn.None(), nil
}

// storageTick drops reservations left by offers that were never answered.
func storageTick(in *script.Input) (txn.Outcome, error) {
	releaseStale(in)
	return txn.None(), nil
}

func releaseStale(in *script.Input) {
	key := in.Deps.Key(DepReserved)
	if len(in.State.Peek(key)) == 0 {
		return
	}
	tickKey := in.Deps.Key(DepReservedTick)
	if at, ok := in.State.Int(tickKey); ok && uint64(at) >= in.Tick {
		return
	}
	in.State.Delete(key)
	in.State.Delete(tickKey)
}
