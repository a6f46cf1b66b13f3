// Package archive manages the snapshot directory of a world: listing,
// retention and copying snapshots aside before they can be pruned.
package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"tilecraft.ai/internal/persistence/snapshot"
)

const suffix = ".snap.zst"

type Entry struct {
	Tick uint64
	Path string
}

// SnapshotPath is where the snapshot for tick lives under dir.
func SnapshotPath(dir string, tick uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%d%s", tick, suffix))
}

// List returns the snapshots in dir, oldest first. Files that are not
// named <tick>.snap.zst are ignored. A missing dir is empty.
func List(dir string) ([]Entry, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []Entry
	for _, e := range ents {
		if e.IsDir() || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		tick, err := strconv.ParseUint(strings.TrimSuffix(e.Name(), suffix), 10, 64)
		if err != nil {
			continue
		}
		out = append(out, Entry{Tick: tick, Path: filepath.Join(dir, e.Name())})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tick < out[j].Tick })
	return out, nil
}

// Latest returns the newest snapshot in dir, or "" if there is none.
func Latest(dir string) string {
	ents, err := List(dir)
	if err != nil || len(ents) == 0 {
		return ""
	}
	return ents[len(ents)-1].Path
}

// Prune deletes all but the newest keep snapshots in dir. keep <= 0 keeps
// everything.
func Prune(dir string, keep int) (removed []string, err error) {
	if keep <= 0 {
		return nil, nil
	}
	ents, err := List(dir)
	if err != nil {
		return nil, err
	}
	if len(ents) <= keep {
		return nil, nil
	}
	for _, e := range ents[:len(ents)-keep] {
		if err := os.Remove(e.Path); err != nil && !os.IsNotExist(err) {
			return removed, err
		}
		removed = append(removed, e.Path)
	}
	return removed, nil
}

type Meta struct {
	Tick              uint64 `json:"tick"`
	WorldID           string `json:"world_id"`
	Reason            string `json:"reason"`
	Tiles             int    `json:"tiles"`
	Faulted           int    `json:"faulted"`
	DefinitionsDigest string `json:"definitions_digest"`
	Snapshot          string `json:"snapshot"`
	CreatedAt         string `json:"created_at"`
}

// Keep copies a snapshot into `worldDir/archives/tick_<N>/` with a
// meta.json, out of reach of Prune.
func Keep(worldDir, snapshotPath string, snap snapshot.SnapshotV1, reason string) (archivedPath string, err error) {
	archiveDir := filepath.Join(worldDir, "archives", fmt.Sprintf("tick_%d", snap.Header.Tick))
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return "", err
	}

	dst := filepath.Join(archiveDir, filepath.Base(snapshotPath))
	if err := copyFile(snapshotPath, dst); err != nil {
		return "", err
	}

	meta := Meta{
		Tick:              snap.Header.Tick,
		WorldID:           snap.Header.WorldID,
		Reason:            reason,
		Tiles:             len(snap.Tiles),
		DefinitionsDigest: snap.DefinitionsDigest,
		Snapshot:          filepath.Base(dst),
		CreatedAt:         time.Now().UTC().Format(time.RFC3339Nano),
	}
	for _, t := range snap.Tiles {
		if t.Fault != nil {
			meta.Faulted++
		}
	}
	if b, err := json.MarshalIndent(meta, "", "  "); err == nil {
		_ = os.WriteFile(filepath.Join(archiveDir, "meta.json"), b, 0o644)
	}

	return dst, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
