package engine

import (
	"errors"
	"fmt"
	"sync"

	"tilecraft.ai/internal/sim/hex"
	"tilecraft.ai/internal/sim/items"
	"tilecraft.ai/internal/sim/script"
	"tilecraft.ai/internal/sim/tile"
	"tilecraft.ai/internal/sim/txn"
)

// envelope carries either a protocol message or a control function that
// runs on the actor goroutine (placement edits, inspection, reset).
type envelope struct {
	msg txn.Message
	ctl func(a *actor)
}

// actor owns one tile. Only its own goroutine reads or writes state and
// fault; everything else reaches it through the mailbox.
type actor struct {
	eng   *Engine
	coord hex.Coord
	fs    *script.FunctionSet

	state *tile.State
	fault *TileFault
	// sent counts messages this actor has emitted; it orders them within
	// a delivery round.
	sent uint64

	mu      sync.Mutex
	queue   []envelope
	stopped bool
	wake    chan struct{}
	done    chan struct{}
}

func newActor(e *Engine, coord hex.Coord, fs *script.FunctionSet, st *tile.State) *actor {
	return &actor{
		eng:   e,
		coord: coord,
		fs:    fs,
		state: st,
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// enqueue appends to the FIFO mailbox. It reports false once the actor
// has been stopped.
func (a *actor) enqueue(env envelope) bool {
	a.eng.flight.add()
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		a.eng.flight.done()
		return false
	}
	a.queue = append(a.queue, env)
	a.mu.Unlock()
	select {
	case a.wake <- struct{}{}:
	default:
	}
	return true
}

func (a *actor) pop() (envelope, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped || len(a.queue) == 0 {
		return envelope{}, false
	}
	env := a.queue[0]
	a.queue[0] = envelope{}
	a.queue = a.queue[1:]
	return env, true
}

// stop discards queued messages. A message being handled right now still
// completes.
func (a *actor) stop() {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return
	}
	a.stopped = true
	pending := len(a.queue)
	a.queue = nil
	a.mu.Unlock()
	for i := 0; i < pending; i++ {
		a.eng.flight.done()
	}
	close(a.done)
}

func (a *actor) run() {
	for {
		select {
		case <-a.done:
			return
		case <-a.wake:
		}
		for {
			env, ok := a.pop()
			if !ok {
				break
			}
			if env.ctl != nil {
				env.ctl(a)
			} else {
				a.handle(env.msg)
			}
			a.eng.flight.done()
		}
	}
}

func (a *actor) handle(msg txn.Message) {
	kind := msg.Kind()
	if a.fault != nil {
		return
	}
	h := a.fs.Handlers.For(kind)
	if h == nil {
		return
	}

	view := tile.NewView(a.state)
	in := &script.Input{
		Coord:   a.coord,
		Tick:    a.eng.CurrentTick(),
		State:   view,
		Deps:    script.ResolveDeps(a.fs, view),
		Recipes: a.eng.reg,
	}
	switch m := msg.(type) {
	case txn.Transaction:
		in.Transaction = m
	case txn.TransactionResult:
		in.Result = m
	case txn.ExtractRequest:
		in.Extract = m
	}

	out, err := invoke(h, in)
	if err != nil {
		a.setFault(kind, err)
		return
	}
	if !out.ValidFor(kind) {
		a.eng.log.Printf("tile %s (%s): %s handler returned %s; ignored", a.coord, a.fs.ID, kind, out.Kind)
		return
	}
	a.state.Apply(view.Patch())
	a.apply(msg, out)
}

func invoke(h script.Handler, in *script.Input) (out txn.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	return h(in)
}

func (a *actor) setFault(kind txn.MessageKind, err error) {
	f := &TileFault{Coord: a.coord, Tick: a.eng.CurrentTick(), Message: kind, Err: err}
	a.fault = f
	a.eng.stats.tileFaults.Add(1)
	a.eng.rec.tileFault(f)
	if errors.Is(err, script.ErrBookkeepingDesync) {
		a.eng.log.Printf("tile %s (%s) faulted: %v", a.coord, a.fs.ID, err)
		return
	}
	a.eng.log.Printf("tile %s (%s) faulted in %s handler: %v", a.coord, a.fs.ID, kind, err)
}

// apply turns a validated outcome into follow-up messages.
func (a *actor) apply(msg txn.Message, out txn.Outcome) {
	e := a.eng
	switch m := msg.(type) {
	case txn.Transaction:
		switch out.Kind {
		case txn.OutcomeConsume:
			n := out.Accepted(m.Stack.Amount)
			e.stats.transfers.Add(1)
			e.rec.transfer(TransferRecord{
				From:      m.Source,
				To:        a.coord,
				Item:      string(m.Stack.Item),
				Amount:    n,
				Requester: m.Requester,
			})
			a.send(txn.TransactionResult{
				Target:      m.Source,
				From:        a.coord,
				Transferred: items.Stack{Item: m.Stack.Item, Amount: n},
			})
		case txn.OutcomePassOn:
			next := m
			next.Target = out.Target
			next.Hops++
			if next.Hops > e.cfg.MaxHops {
				f := RoutingFault{Source: m.Source, At: a.coord, Item: string(m.Stack.Item), Amount: m.Stack.Amount, Hops: next.Hops}
				e.stats.routingFaults.Add(1)
				e.rec.routingFault(f)
				e.log.Printf("routing fault: %s from %s dropped at %s after %d hops", m.Stack, m.Source, a.coord, next.Hops)
				return
			}
			a.send(next)
		}
	case txn.Tick:
		switch out.Kind {
		case txn.OutcomeMakeTransaction:
			a.emit(out, "")
		case txn.OutcomeMakeExtractRequest:
			a.send(txn.ExtractRequest{Target: out.Target, Requester: a.requesterID(), ReturnTo: a.coord})
		}
	case txn.ExtractRequest:
		if out.Kind == txn.OutcomeMakeTransaction {
			a.emit(out, m.Requester)
		}
	}
}

func (a *actor) emit(out txn.Outcome, requester string) {
	if !out.Stack.Valid() {
		a.eng.log.Printf("tile %s (%s): refusing to send invalid stack %v", a.coord, a.fs.ID, out.Stack)
		return
	}
	a.send(txn.Transaction{
		Target:    out.Target,
		Source:    a.coord,
		Stack:     out.Stack,
		Requester: requester,
	})
}

// send queues msg for the next delivery round. Actor goroutine only.
func (a *actor) send(msg txn.Message) {
	a.sent++
	a.eng.route.fromTile(a.coord, a.sent, msg)
}

// requesterID names this tile in transfers it pulls. The function id
// alone is shared by every tile of the same kind.
func (a *actor) requesterID() string {
	return a.fs.ID + "@" + a.coord.String()
}

// snapshot copies the tile for read-only consumers. Actor goroutine only.
func (a *actor) snapshot() TileSnapshot {
	st := a.state.Clone()
	snap := TileSnapshot{Coord: a.coord, FunctionID: st.FunctionID, Fields: st.Fields}
	if a.fault != nil {
		f := *a.fault
		snap.Fault = &f
	}
	return snap
}
