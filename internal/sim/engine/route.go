package engine

import (
	"context"
	"sort"
	"sync"

	"tilecraft.ai/internal/sim/hex"
	"tilecraft.ai/internal/sim/txn"
)

// routed is a message waiting for the next delivery round. External
// messages carry their arrival order in seq; tile messages carry the
// sending actor's own emission count.
type routed struct {
	ext  bool
	from hex.Coord
	seq  uint64
	msg  txn.Message
}

// router holds messages between delivery rounds. Actors run concurrently,
// so the order in which they append here varies from run to run; each
// round is sorted before it is dispatched so that every mailbox receives
// its messages in the same order on every run.
type router struct {
	mu      sync.Mutex
	arrived uint64
	pending []routed
}

func (r *router) external(msg txn.Message) {
	r.mu.Lock()
	r.arrived++
	r.pending = append(r.pending, routed{ext: true, seq: r.arrived, msg: msg})
	r.mu.Unlock()
}

func (r *router) fromTile(from hex.Coord, seq uint64, msg txn.Message) {
	r.mu.Lock()
	r.pending = append(r.pending, routed{from: from, seq: seq, msg: msg})
	r.mu.Unlock()
}

// round takes everything pending in delivery order: external messages
// first by arrival, then tile messages by sender coordinate and emission.
func (r *router) round() []routed {
	r.mu.Lock()
	batch := r.pending
	r.pending = nil
	r.mu.Unlock()
	sort.Slice(batch, func(i, j int) bool {
		a, b := batch[i], batch[j]
		if a.ext != b.ext {
			return a.ext
		}
		if a.from != b.from {
			return hex.Less(a.from, b.from)
		}
		return a.seq < b.seq
	})
	return batch
}

func (r *router) discard() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.pending)
	r.pending = nil
	return n
}

// settle delivers rounds until the grid is quiet: no mailbox holds a
// message and nothing is pending. Callers hold settleMu.
func (e *Engine) settle(ctx context.Context) error {
	for {
		if err := e.flight.wait(ctx); err != nil {
			return err
		}
		batch := e.route.round()
		if len(batch) == 0 {
			return nil
		}
		for _, r := range batch {
			e.dispatch(r.msg)
		}
	}
}
