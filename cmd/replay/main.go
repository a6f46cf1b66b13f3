package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	persistlog "tilecraft.ai/internal/persistence/log"
	"tilecraft.ai/internal/persistence/snapshot"
	"tilecraft.ai/internal/sim/engine"
	"tilecraft.ai/internal/sim/functions"
	"tilecraft.ai/internal/sim/script"
)

func main() {
	var (
		snapPath = flag.String("snapshot", "", "path to .snap.zst")
		defsDir  = flag.String("definitions", "./configs/definitions", "definitions directory (empty: print summary only)")
		ticksDir = flag.String("ticks", "", "tick log dir containing ticks-*.jsonl.zst (optional)")
		toTick   = flag.Uint64("to_tick", 0, "stop at tick (inclusive; default: last logged tick)")
		strict   = flag.Bool("strict", false, "exit non-zero on the first digest mismatch")
	)
	flag.Parse()

	if *snapPath == "" {
		fmt.Fprintln(os.Stderr, "missing -snapshot")
		os.Exit(2)
	}

	snap, err := snapshot.ReadSnapshot(*snapPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	printSummary(snap)

	if *defsDir == "" {
		return
	}

	reg, err := script.Load(*defsDir, functions.Kinds())
	if err != nil {
		fmt.Fprintln(os.Stderr, "load definitions:", err)
		os.Exit(1)
	}
	if snap.DefinitionsDigest != "" && snap.DefinitionsDigest != reg.Digest {
		fmt.Printf("warning: definitions digest differs (snapshot=%s current=%s)\n", snap.DefinitionsDigest, reg.Digest)
	}

	eng := engine.New(engine.Config{
		MaxHops:    snap.MaxHops,
		TickRateHz: snap.TickRate,
		WorldID:    snap.Header.WorldID,
	}, reg, nil)
	defer eng.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if err := eng.Import(ctx, snap); err != nil {
		fmt.Fprintln(os.Stderr, "import snapshot:", err)
		os.Exit(1)
	}
	digest, err := eng.Digest(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "digest:", err)
		os.Exit(1)
	}
	fmt.Printf("imported tick=%d digest=%s\n", eng.CurrentTick(), digest)

	if *ticksDir == "" {
		return
	}

	logged, err := loadDigests(*ticksDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read tick log:", err)
		os.Exit(1)
	}
	if len(logged) == 0 {
		fmt.Fprintln(os.Stderr, "no tick log entries found in", *ticksDir)
		os.Exit(1)
	}
	if want, ok := logged[snap.Header.Tick]; ok && want != digest {
		fmt.Printf("snapshot tick=%d digest mismatch: log=%s imported=%s\n", snap.Header.Tick, want, digest)
		if *strict {
			os.Exit(1)
		}
	}

	last := *toTick
	if last == 0 {
		for t := range logged {
			last = max(last, t)
		}
	}

	res, err := replay(ctx, eng, logged, last, *strict, os.Stdout)
	if err != nil {
		fmt.Fprintln(os.Stderr, "step:", err)
		os.Exit(1)
	}
	fmt.Printf("replay done: checked=%d mismatched=%d (from snapshot tick=%d to tick=%d)\n", res.checked, res.mismatched, snap.Header.Tick, eng.CurrentTick())
	if *strict && res.mismatched > 0 {
		os.Exit(1)
	}
}

type replayResult struct {
	checked    uint64
	mismatched uint64
}

// replay steps eng until tick last and compares every step's digest with
// the logged one. Ticks missing from the log are stepped but not checked.
// With stopOnMismatch it returns after the first difference.
//
// Tick logs do not carry operator commands, so a grid that was edited
// while running diverges from the log at that tick.
func replay(ctx context.Context, eng *engine.Engine, logged map[uint64]string, last uint64, stopOnMismatch bool, out io.Writer) (replayResult, error) {
	var res replayResult
	for eng.CurrentTick() < last {
		rep, err := eng.Step(ctx)
		if err != nil {
			return res, err
		}
		want, ok := logged[rep.Tick]
		if !ok {
			continue
		}
		res.checked++
		if want != rep.Digest {
			res.mismatched++
			fmt.Fprintf(out, "tick=%d digest mismatch: log=%s replay=%s\n", rep.Tick, want, rep.Digest)
			if stopOnMismatch {
				return res, nil
			}
		}
	}
	return res, nil
}

func printSummary(snap snapshot.SnapshotV1) {
	byFunction := map[string]int{}
	faulted := 0
	for _, t := range snap.Tiles {
		byFunction[t.FunctionID]++
		if t.Fault != nil {
			faulted++
		}
	}
	fmt.Printf("snapshot v%d world=%s tick=%d tick_rate=%d max_hops=%d tiles=%d faulted=%d definitions=%s\n",
		snap.Header.Version, snap.Header.WorldID, snap.Header.Tick, snap.TickRate, snap.MaxHops,
		len(snap.Tiles), faulted, snap.DefinitionsDigest)

	ids := make([]string, 0, len(byFunction))
	for id := range byFunction {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Printf("  %-24s %d\n", id, byFunction[id])
	}
}

func loadDigests(dir string) (map[uint64]string, error) {
	files, err := persistlog.Files(dir, "ticks")
	if err != nil {
		return nil, err
	}
	out := map[uint64]string{}
	for _, path := range files {
		err := persistlog.ReadJSONL(path, func(rep engine.TickReport) error {
			out[rep.Tick] = rep.Digest
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}
