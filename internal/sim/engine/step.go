package engine

import (
	"context"
	"time"

	"tilecraft.ai/internal/sim/txn"
)

// Run steps the grid at the configured tick rate until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(e.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := e.Step(ctx); err != nil {
				return err
			}
		}
	}
}

// Step advances the grid by one tick. Every tile receives a Tick, and Step
// returns only once all messages caused by it (and any sent before it)
// have been handled, so each tick's results land before the next tick.
func (e *Engine) Step(ctx context.Context) (TickReport, error) {
	start := time.Now()
	e.settleMu.Lock()
	defer e.settleMu.Unlock()
	if err := e.settle(ctx); err != nil {
		return TickReport{}, err
	}

	nowTick := e.tick.Add(1)
	actors := e.sortedActors()
	for _, a := range actors {
		e.dispatch(txn.Tick{Target: a.coord, Count: nowTick})
	}
	if err := e.settle(ctx); err != nil {
		return TickReport{}, err
	}

	snaps, err := e.Snapshot(ctx)
	if err != nil {
		return TickReport{}, err
	}
	rep := e.rec.take()
	rep.Tick = nowTick
	rep.Tiles = len(snaps)
	rep.Digest = digestTiles(snaps)
	elapsed := time.Since(start)
	rep.DurationMs = float64(elapsed.Microseconds()) / 1000

	if interval := time.Second / time.Duration(e.cfg.TickRateHz); elapsed > interval {
		e.log.Printf("tick %d took %s, longer than the %s interval", nowTick, elapsed, interval)
	}

	if e.tickLogger != nil {
		if err := e.tickLogger.WriteTick(rep); err != nil {
			e.log.Printf("tick log: %v", err)
		}
	}

	if e.snapshotSink != nil && e.cfg.SnapshotEveryTicks > 0 && nowTick%uint64(e.cfg.SnapshotEveryTicks) == 0 {
		snap, err := e.Export(ctx)
		if err != nil {
			return rep, err
		}
		select {
		case e.snapshotSink <- snap:
		default:
			// Drop snapshot if sink is backed up.
		}
	}

	e.subs.publish(rep)
	return rep, nil
}
