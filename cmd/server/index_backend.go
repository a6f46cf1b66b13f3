package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"tilecraft.ai/internal/persistence/indexdb"
	"tilecraft.ai/internal/persistence/snapshot"
	"tilecraft.ai/internal/sim/engine"
	"tilecraft.ai/internal/sim/script"
	"tilecraft.ai/internal/sim/tuning"
)

type runtimeIndex interface {
	engine.TickLogger
	Close() error
	Flush(ctx context.Context) error
	UpsertDefinitions(defsDir string, reg *script.Registry, tune tuning.Tuning) error
	RecordSnapshot(path string, snap snapshot.SnapshotV1)
	LatestSnapshot(ctx context.Context) (indexdb.SnapshotInfo, bool, error)
	ItemThroughput(ctx context.Context, item string, from, to uint64) (uint64, error)
	Dropped() uint64
}

func openRuntimeIndex(worldDir string, disableDB bool) (runtimeIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("TC_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		idx, err := indexdb.OpenSQLite(filepath.Join(worldDir, "index", "world.sqlite"))
		if err != nil {
			return nil, err
		}
		return idx, nil
	default:
		return nil, fmt.Errorf("unsupported TC_INDEX_BACKEND: %s", backend)
	}
}
