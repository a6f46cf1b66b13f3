// Package engine runs tile actors and routes protocol messages between
// them.
//
// Each occupied coordinate has one actor goroutine that handles its
// mailbox strictly in order; different actors run concurrently. Tile
// state is only touched by its own actor, so inventories need no locks.
// Cross-tile effects exist only as messages routed by the Engine, which
// delivers them in sorted rounds so a grid evolves the same way on every
// run.
package engine

import (
	"context"
	"fmt"
	"io"
	"log"
	"sort"
	"sync"
	"sync/atomic"

	snapv1 "tilecraft.ai/internal/persistence/snapshot"
	"tilecraft.ai/internal/sim/hex"
	"tilecraft.ai/internal/sim/script"
	"tilecraft.ai/internal/sim/tile"
	"tilecraft.ai/internal/sim/txn"
)

const DefaultMaxHops = 64

type Config struct {
	// MaxHops bounds pass-on chains; a transaction forwarded more often
	// is dropped and reported as a routing fault.
	MaxHops int
	// TickRateHz drives Run. Steps slower than one interval are logged.
	TickRateHz int
	// SnapshotEveryTicks sends an export to the snapshot sink on every
	// multiple of this tick. Zero disables periodic snapshots.
	SnapshotEveryTicks int
	WorldID            string
}

func (c *Config) normalize() {
	if c.MaxHops <= 0 {
		c.MaxHops = DefaultMaxHops
	}
	if c.TickRateHz <= 0 {
		c.TickRateHz = 10
	}
}

type Engine struct {
	cfg Config
	reg *script.Registry
	log *log.Logger

	mu     sync.RWMutex
	actors map[hex.Coord]*actor
	closed bool

	// settleMu serializes delivery rounds between Step, Wait and Import.
	settleMu sync.Mutex
	route    router
	flight   *inflight
	tick     atomic.Uint64
	stats    counters
	rec      recorder
	subs     subscribers

	tickLogger   TickLogger
	snapshotSink chan<- snapv1.SnapshotV1
}

type counters struct {
	delivered     atomic.Uint64
	dropped       atomic.Uint64
	transfers     atomic.Uint64
	routingFaults atomic.Uint64
	tileFaults    atomic.Uint64
}

// Stats are cumulative counters since the engine was created.
type Stats struct {
	Tiles         int    `json:"tiles"`
	Delivered     uint64 `json:"delivered"`
	Dropped       uint64 `json:"dropped"`
	Transfers     uint64 `json:"transfers"`
	RoutingFaults uint64 `json:"routing_faults"`
	TileFaults    uint64 `json:"tile_faults"`
}

// New creates an engine over an already loaded registry. logger may be nil.
func New(cfg Config, reg *script.Registry, logger *log.Logger) *Engine {
	cfg.normalize()
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Engine{
		cfg:    cfg,
		reg:    reg,
		log:    logger,
		actors: map[hex.Coord]*actor{},
		flight: newInflight(),
	}
}

func (e *Engine) Config() Config { return e.cfg }

func (e *Engine) Registry() *script.Registry { return e.reg }

func (e *Engine) CurrentTick() uint64 { return e.tick.Load() }

// SetTickLogger installs an optional sink for tick reports. Call before Run.
func (e *Engine) SetTickLogger(l TickLogger) { e.tickLogger = l }

// SetSnapshotSink receives periodic exports. Snapshots are dropped while
// the sink is backed up. Call before Run.
func (e *Engine) SetSnapshotSink(ch chan<- snapv1.SnapshotV1) { e.snapshotSink = ch }

func (e *Engine) Stats() Stats {
	e.mu.RLock()
	n := len(e.actors)
	e.mu.RUnlock()
	return Stats{
		Tiles:         n,
		Delivered:     e.stats.delivered.Load(),
		Dropped:       e.stats.dropped.Load(),
		Transfers:     e.stats.transfers.Load(),
		RoutingFaults: e.stats.routingFaults.Load(),
		TileFaults:    e.stats.tileFaults.Load(),
	}
}

// Place puts a tile governed by functionID at coord, replacing whatever
// was there. fields seeds the tile's configuration and buffers.
func (e *Engine) Place(coord hex.Coord, functionID string, fields map[string]tile.Value) error {
	for k, v := range fields {
		if err := e.checkItems(k, v); err != nil {
			return err
		}
	}
	st := tile.NewState(functionID)
	for k, v := range fields {
		st.Set(k, v.Clone())
	}
	_, err := e.place(coord, st, nil)
	return err
}

// checkItems rejects item and inventory values naming items outside the
// catalog.
func (e *Engine) checkItems(key string, v tile.Value) error {
	switch v.Kind {
	case tile.KindItem:
		if !e.reg.KnownItem(v.Item) {
			return fmt.Errorf("field %q: %s: %w", key, v.Item, ErrUnknownItem)
		}
	case tile.KindInventory:
		for id := range v.Inv {
			if !e.reg.KnownItem(id) {
				return fmt.Errorf("field %q: %s: %w", key, id, ErrUnknownItem)
			}
		}
	}
	return nil
}

func (e *Engine) place(coord hex.Coord, st *tile.State, fault *TileFault) (*actor, error) {
	fs, ok := e.reg.Lookup(st.FunctionID)
	if !ok {
		return nil, fmt.Errorf("%s: %w", st.FunctionID, ErrUnknownFunction)
	}
	a := newActor(e, coord, fs, st)
	a.fault = fault

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrClosed
	}
	old := e.actors[coord]
	e.actors[coord] = a
	e.mu.Unlock()

	if old != nil {
		old.stop()
	}
	go a.run()
	return a, nil
}

// Remove stops the tile at coord. It reports whether a tile was there.
func (e *Engine) Remove(coord hex.Coord) bool {
	e.mu.Lock()
	a := e.actors[coord]
	delete(e.actors, coord)
	e.mu.Unlock()
	if a == nil {
		return false
	}
	a.stop()
	return true
}

func (e *Engine) Has(coord hex.Coord) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.actors[coord]
	return ok
}

// Coords lists occupied coordinates in stable order.
func (e *Engine) Coords() []hex.Coord {
	e.mu.RLock()
	out := make([]hex.Coord, 0, len(e.actors))
	for c := range e.actors {
		out = append(out, c)
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return hex.Less(out[i], out[j]) })
	return out
}

func (e *Engine) sortedActors() []*actor {
	e.mu.RLock()
	out := make([]*actor, 0, len(e.actors))
	for _, a := range e.actors {
		out = append(out, a)
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return hex.Less(out[i].coord, out[j].coord) })
	return out
}

func (e *Engine) lookup(coord hex.Coord) *actor {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.actors[coord]
}

// dispatch hands msg to the actor at its destination. Messages into empty
// space are dropped without error.
func (e *Engine) dispatch(msg txn.Message) {
	a := e.lookup(msg.Dest())
	if a == nil || !a.enqueue(envelope{msg: msg}) {
		e.stats.dropped.Add(1)
		e.rec.dropped()
		return
	}
	e.stats.delivered.Add(1)
}

// Send injects a protocol message from outside the grid, e.g. an item
// dropped onto a tile by a player. It does not wait for handling: the
// message is queued and delivered, in arrival order, the next time the
// grid settles in Wait or Step.
func (e *Engine) Send(msg txn.Message) error {
	if t, ok := msg.(txn.Transaction); ok {
		if !t.Stack.Valid() {
			return fmt.Errorf("%v: %w", t.Stack, ErrInvalidStack)
		}
		if !e.reg.KnownItem(t.Stack.Item) {
			return fmt.Errorf("%s: %w", t.Stack.Item, ErrUnknownItem)
		}
	}
	if r, ok := msg.(txn.TransactionResult); ok && !r.Transferred.Valid() {
		return fmt.Errorf("%v: %w", r.Transferred, ErrInvalidStack)
	}
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	e.route.external(msg)
	return nil
}

// Wait delivers queued messages and blocks until no message is in flight.
func (e *Engine) Wait(ctx context.Context) error {
	e.settleMu.Lock()
	defer e.settleMu.Unlock()
	return e.settle(ctx)
}

// control runs fn on the actor goroutine at coord and waits for it.
func (e *Engine) control(ctx context.Context, coord hex.Coord, fn func(a *actor)) error {
	a := e.lookup(coord)
	if a == nil {
		return fmt.Errorf("%s: %w", coord, ErrNoTile)
	}
	ran := make(chan struct{})
	ok := a.enqueue(envelope{ctl: func(a *actor) {
		fn(a)
		close(ran)
	}})
	if !ok {
		return fmt.Errorf("%s: %w", coord, ErrNoTile)
	}
	select {
	case <-ran:
		return nil
	case <-a.done:
		return fmt.Errorf("%s: %w", coord, ErrNoTile)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetField changes one field of a placed tile. Like every other change it
// is applied by the tile's own actor, in order with its messages. A
// KindNone value clears the field.
func (e *Engine) SetField(ctx context.Context, coord hex.Coord, key string, v tile.Value) error {
	if err := e.checkItems(key, v); err != nil {
		return err
	}
	v = v.Clone()
	return e.control(ctx, coord, func(a *actor) { a.state.Set(key, v) })
}

// Reset clears a tile fault so the tile resumes handling messages.
func (e *Engine) Reset(ctx context.Context, coord hex.Coord) error {
	return e.control(ctx, coord, func(a *actor) {
		if a.fault != nil {
			e.log.Printf("tile %s (%s) reset after fault: %v", a.coord, a.fs.ID, a.fault.Err)
		}
		a.fault = nil
	})
}

// Subscribe returns a channel of tick reports. Slow readers only see the
// most recent reports. Call cancel to unsubscribe.
func (e *Engine) Subscribe(buf int) (<-chan TickReport, func()) {
	id, ch := e.subs.add(buf)
	return ch, func() { e.subs.remove(id) }
}

// Close stops every actor. The engine cannot be used afterwards.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	actors := e.actors
	e.actors = map[hex.Coord]*actor{}
	e.mu.Unlock()
	for _, a := range actors {
		a.stop()
	}
}
