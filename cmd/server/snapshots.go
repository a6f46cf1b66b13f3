package main

import (
	"context"
	"log"
	"path/filepath"
	"sync"

	"tilecraft.ai/internal/persistence/archive"
	"tilecraft.ai/internal/persistence/mirror"
	"tilecraft.ai/internal/persistence/snapshot"
)

// snapshotWriter persists exports from the tick loop and the admin
// endpoint. Writes are serialized so two saves of one tick never share a
// temp file.
type snapshotWriter struct {
	dir    string
	keep   int
	idx    runtimeIndex
	mirror *mirror.Mirror
	log    *log.Logger

	mu sync.Mutex
}

func (w *snapshotWriter) Save(snap snapshot.SnapshotV1) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	path := archive.SnapshotPath(w.dir, snap.Header.Tick)
	if err := snapshot.WriteSnapshot(path, snap); err != nil {
		return "", err
	}
	if w.idx != nil {
		w.idx.RecordSnapshot(path, snap)
	}
	w.mirror.Enqueue(path)
	removed, err := archive.Prune(w.dir, w.keep)
	if err != nil {
		w.log.Printf("snapshot prune: %v", err)
	} else if len(removed) > 0 {
		w.log.Printf("snapshot prune: removed %d old snapshots", len(removed))
	}
	return path, nil
}

// runSnapshotSink saves exports from the tick loop until ctx is done. The
// returned channel closes once the last save has returned, so callers can
// close the mirror after it without racing a late upload.
func runSnapshotSink(ctx context.Context, ch <-chan snapshot.SnapshotV1, w *snapshotWriter, logger *log.Logger) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case snap := <-ch:
				if _, err := w.Save(snap); err != nil {
					logger.Printf("snapshot write: %v", err)
				}
			}
		}
	}()
	return done
}

// latestSnapshot prefers the index and falls back to scanning the
// snapshot directory.
func latestSnapshot(ctx context.Context, worldDir string, idx runtimeIndex) string {
	if idx != nil {
		if info, ok, err := idx.LatestSnapshot(ctx); err == nil && ok {
			return info.Path
		}
	}
	return archive.Latest(filepath.Join(worldDir, "snapshots"))
}
