package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	snapv1 "tilecraft.ai/internal/persistence/snapshot"
	hexgrid "tilecraft.ai/internal/sim/hex"
	"tilecraft.ai/internal/sim/items"
	"tilecraft.ai/internal/sim/tile"
	"tilecraft.ai/internal/sim/txn"
)

// TileSnapshot is a point-in-time copy of one tile.
type TileSnapshot struct {
	Coord      hexgrid.Coord
	FunctionID string
	Fields     map[string]tile.Value
	Fault      *TileFault
}

// Inspect returns a copy of the tile at coord, taken on its actor between
// messages.
func (e *Engine) Inspect(ctx context.Context, coord hexgrid.Coord) (TileSnapshot, error) {
	var snap TileSnapshot
	err := e.control(ctx, coord, func(a *actor) { snap = a.snapshot() })
	return snap, err
}

// Snapshot copies every tile, sorted by coordinate. Tiles removed while the
// snapshot is being taken are left out.
func (e *Engine) Snapshot(ctx context.Context) ([]TileSnapshot, error) {
	actors := e.sortedActors()
	snaps := make([]TileSnapshot, len(actors))
	waits := make([]chan struct{}, len(actors))
	for i, a := range actors {
		i := i
		ran := make(chan struct{})
		if a.enqueue(envelope{ctl: func(a *actor) {
			snaps[i] = a.snapshot()
			close(ran)
		}}) {
			waits[i] = ran
		}
	}
	out := make([]TileSnapshot, 0, len(actors))
	for i, a := range actors {
		if waits[i] == nil {
			continue
		}
		select {
		case <-waits[i]:
			out = append(out, snaps[i])
		case <-a.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return out, nil
}

// Digest hashes the full grid state. Two engines with equal digests hold
// the same tiles, fields and faults.
func (e *Engine) Digest(ctx context.Context) (string, error) {
	snaps, err := e.Snapshot(ctx)
	if err != nil {
		return "", err
	}
	return digestTiles(snaps), nil
}

func digestTiles(snaps []TileSnapshot) string {
	h := sha256.New()
	for _, s := range snaps {
		fmt.Fprintf(h, "%s|%s|", s.Coord, s.FunctionID)
		st := tile.State{FunctionID: s.FunctionID, Fields: s.Fields}
		for _, k := range st.Keys() {
			writeValue(h, k, s.Fields[k])
		}
		if s.Fault != nil {
			fmt.Fprintf(h, "fault=%s;", s.Fault.Message)
		}
		io.WriteString(h, "\n")
	}
	return hex.EncodeToString(h.Sum(nil))
}

func writeValue(w io.Writer, key string, v tile.Value) {
	switch v.Kind {
	case tile.KindInt:
		fmt.Fprintf(w, "%s=i:%d;", key, v.Int)
	case tile.KindItem:
		fmt.Fprintf(w, "%s=t:%s;", key, v.Item)
	case tile.KindCoord:
		fmt.Fprintf(w, "%s=c:%s;", key, v.Coord)
	case tile.KindID:
		fmt.Fprintf(w, "%s=d:%s;", key, v.ID)
	case tile.KindInventory:
		fmt.Fprintf(w, "%s=v:", key)
		for _, s := range v.Inv.Sorted() {
			fmt.Fprintf(w, "%s,", s)
		}
		io.WriteString(w, ";")
	}
}

// Export captures the grid as a persistable snapshot.
func (e *Engine) Export(ctx context.Context) (snapv1.SnapshotV1, error) {
	snaps, err := e.Snapshot(ctx)
	if err != nil {
		return snapv1.SnapshotV1{}, err
	}
	out := snapv1.SnapshotV1{
		Header:            snapv1.Header{Version: snapv1.Version, WorldID: e.cfg.WorldID, Tick: e.CurrentTick()},
		TickRate:          e.cfg.TickRateHz,
		MaxHops:           e.cfg.MaxHops,
		DefinitionsDigest: e.reg.Digest,
		Tiles:             make([]snapv1.TileV1, 0, len(snaps)),
	}
	for _, s := range snaps {
		tv := snapv1.TileV1{Q: s.Coord.Q, R: s.Coord.R, FunctionID: s.FunctionID}
		st := tile.State{FunctionID: s.FunctionID, Fields: s.Fields}
		for _, k := range st.Keys() {
			tv.Fields = append(tv.Fields, exportField(k, s.Fields[k]))
		}
		if s.Fault != nil {
			tv.Fault = &snapv1.FaultV1{Tick: s.Fault.Tick, Message: s.Fault.Message.String(), Error: s.Fault.Err.Error()}
		}
		out.Tiles = append(out.Tiles, tv)
	}
	return out, nil
}

func exportField(key string, v tile.Value) snapv1.FieldV1 {
	f := snapv1.FieldV1{Key: key, Kind: v.Kind.String()}
	switch v.Kind {
	case tile.KindInt:
		f.Int = v.Int
	case tile.KindItem:
		f.Item = string(v.Item)
	case tile.KindCoord:
		f.Q, f.R = v.Coord.Q, v.Coord.R
	case tile.KindID:
		f.ID = v.ID
	case tile.KindInventory:
		f.Inv = v.Inv.ToMap()
	}
	return f
}

func importField(f snapv1.FieldV1) (tile.Value, error) {
	switch tile.ParseKind(f.Kind) {
	case tile.KindInt:
		return tile.Int(f.Int), nil
	case tile.KindItem:
		return tile.Item(items.ID(f.Item)), nil
	case tile.KindCoord:
		return tile.Coord(hexgrid.Coord{Q: f.Q, R: f.R}), nil
	case tile.KindID:
		return tile.ID(f.ID), nil
	case tile.KindInventory:
		return tile.Inventory(items.FromMap(f.Inv)), nil
	default:
		return tile.Value{}, fmt.Errorf("field %q: unknown kind %q", f.Key, f.Kind)
	}
}

// Import replaces the whole grid with snap and resumes at its tick. Every
// function id in the snapshot must be registered. A snapshot that fails
// validation leaves the grid untouched.
func (e *Engine) Import(ctx context.Context, snap snapv1.SnapshotV1) error {
	if snap.Header.Version != snapv1.Version {
		return fmt.Errorf("%w: %d", snapv1.ErrVersion, snap.Header.Version)
	}
	if snap.DefinitionsDigest != "" && snap.DefinitionsDigest != e.reg.Digest {
		e.log.Printf("snapshot tick %d was taken under definitions %s; loaded %s", snap.Header.Tick, snap.DefinitionsDigest, e.reg.Digest)
	}

	states := make([]*tile.State, 0, len(snap.Tiles))
	faults := make([]*TileFault, 0, len(snap.Tiles))
	for _, tv := range snap.Tiles {
		c := hexgrid.Coord{Q: tv.Q, R: tv.R}
		if _, ok := e.reg.Lookup(tv.FunctionID); !ok {
			return fmt.Errorf("tile %s: %s: %w", c, tv.FunctionID, ErrUnknownFunction)
		}
		st := tile.NewState(tv.FunctionID)
		for _, f := range tv.Fields {
			v, err := importField(f)
			if err != nil {
				return fmt.Errorf("tile %s: %w", c, err)
			}
			st.Set(f.Key, v)
		}
		var fault *TileFault
		if tv.Fault != nil {
			kind, _ := txn.ParseMessageKind(tv.Fault.Message)
			fault = &TileFault{Coord: c, Tick: tv.Fault.Tick, Message: kind, Err: errors.New(tv.Fault.Error)}
		}
		states = append(states, st)
		faults = append(faults, fault)
	}

	e.settleMu.Lock()
	defer e.settleMu.Unlock()
	for _, c := range e.Coords() {
		e.Remove(c)
	}
	if err := e.flight.wait(ctx); err != nil {
		return err
	}
	if n := e.route.discard(); n > 0 {
		e.log.Printf("import: discarded %d undelivered messages", n)
	}
	for i, tv := range snap.Tiles {
		if _, err := e.place(hexgrid.Coord{Q: tv.Q, R: tv.R}, states[i], faults[i]); err != nil {
			for _, c := range e.Coords() {
				e.Remove(c)
			}
			return err
		}
	}
	e.tick.Store(snap.Header.Tick)
	e.rec.take()
	return nil
}
