package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"tilecraft.ai/internal/persistence/archive"
	persistlog "tilecraft.ai/internal/persistence/log"
	"tilecraft.ai/internal/persistence/snapshot"
	"tilecraft.ai/internal/sim/hex"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "unfault":
			unfaultCmd(os.Args[2:])
			return
		case "faults":
			faultsCmd(os.Args[2:])
			return
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "snapshot":
			snapshotCmd(os.Args[2:])
			return
		case "throughput":
			throughputCmd(os.Args[2:])
			return
		case "console":
			consoleCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id (optional)")
	_ = fs.Parse(args)

	base := filepath.Join(*dataDir, "worlds")
	if *worldID != "" {
		base = filepath.Join(base, *worldID)
	}

	entries, err := os.ReadDir(base)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, e := range entries {
		fmt.Println(e.Name())
	}
}

// unfaultCmd clears tile faults inside a hex area of a snapshot and writes
// the result as a new snapshot the server can be started from.
func unfaultCmd(args []string) {
	fs := flag.NewFlagSet("unfault", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id")
	snapPath := fs.String("snapshot", "", "snapshot path (optional; defaults to latest)")
	center := fs.String("center", "0,0", "area center q,r")
	radius := fs.Int("radius", -1, "area radius in hexes (required; 0 is the center tile only)")
	outPath := fs.String("out", "", "output snapshot path (optional)")
	_ = fs.Parse(args)

	if strings.TrimSpace(*worldID) == "" {
		fmt.Fprintln(os.Stderr, "missing -world")
		os.Exit(2)
	}
	if *radius < 0 {
		fmt.Fprintln(os.Stderr, "missing -radius")
		os.Exit(2)
	}
	c, err := hex.ParseCoord(*center)
	if err != nil {
		fmt.Fprintln(os.Stderr, "bad -center:", err)
		os.Exit(2)
	}

	worldDir := filepath.Join(*dataDir, "worlds", *worldID)
	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" {
		snapshotToLoad = archive.Latest(filepath.Join(worldDir, "snapshots"))
	}
	if snapshotToLoad == "" {
		fmt.Fprintln(os.Stderr, "no snapshot found; provide -snapshot or run server until it writes one")
		os.Exit(2)
	}

	snap, err := snapshot.ReadSnapshot(snapshotToLoad)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}

	cleared := clearFaults(&snap, c, *radius)
	if cleared == 0 {
		fmt.Println("no faulted tiles in area; nothing to do")
		return
	}

	if strings.TrimSpace(*outPath) == "" {
		// Same tick, so the server picks it up as the latest snapshot.
		*outPath = archive.SnapshotPath(filepath.Join(worldDir, "snapshots"), snap.Header.Tick)
		if _, err := archive.Keep(worldDir, snapshotToLoad, snap, "unfault"); err != nil {
			fmt.Fprintln(os.Stderr, "archive original:", err)
			os.Exit(1)
		}
	}
	if err := snapshot.WriteSnapshot(*outPath, snap); err != nil {
		fmt.Fprintln(os.Stderr, "write snapshot:", err)
		os.Exit(1)
	}

	fmt.Printf("unfault ok: snapshot=%s tick=%d center=%s radius=%d cleared=%d out=%s\n",
		filepath.Base(snapshotToLoad), snap.Header.Tick, c, *radius, cleared, *outPath)
}

func clearFaults(snap *snapshot.SnapshotV1, center hex.Coord, radius int) int {
	cleared := 0
	for i := range snap.Tiles {
		t := &snap.Tiles[i]
		if t.Fault == nil {
			continue
		}
		if hex.Distance(center, hex.Coord{Q: t.Q, R: t.R}) > radius {
			continue
		}
		t.Fault = nil
		cleared++
	}
	return cleared
}

// faultsCmd prints fault log entries, optionally for one tick range.
func faultsCmd(args []string) {
	fs := flag.NewFlagSet("faults", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id")
	sinceTick := fs.Uint64("since_tick", 0, "first tick (inclusive)")
	toTick := fs.Uint64("to_tick", 0, "last tick (inclusive, optional)")
	kind := fs.String("kind", "", "tile or routing (optional)")
	_ = fs.Parse(args)

	if strings.TrimSpace(*worldID) == "" {
		fmt.Fprintln(os.Stderr, "missing -world")
		os.Exit(2)
	}
	dir := filepath.Join(*dataDir, "worlds", *worldID, "faults")
	files, err := persistlog.Files(dir, "faults")
	if err != nil {
		fmt.Fprintln(os.Stderr, "list faults:", err)
		os.Exit(1)
	}
	n := 0
	for _, path := range files {
		err := persistlog.ReadJSONL(path, func(e persistlog.FaultEntry) error {
			if e.Tick < *sinceTick || (*toTick != 0 && e.Tick > *toTick) {
				return nil
			}
			if *kind != "" && e.Kind != *kind {
				return nil
			}
			n++
			printJSON(e)
			return nil
		})
		if err != nil {
			fmt.Fprintln(os.Stderr, "read faults:", err)
			os.Exit(1)
		}
	}
	fmt.Fprintf(os.Stderr, "%d faults\n", n)
}
