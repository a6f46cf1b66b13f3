package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"tilecraft.ai/internal/persistence/snapshot"
	"tilecraft.ai/internal/sim/engine"
	"tilecraft.ai/internal/sim/script"
	"tilecraft.ai/internal/sim/tuning"
)

// SQLiteIndex is a queryable secondary index over the tick log. Writes are
// queued and applied by a single writer goroutine; the compressed JSONL
// logs remain the source of truth.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed  atomic.Bool
	dropped atomic.Uint64
}

type reqKind int

const (
	reqTick reqKind = iota + 1
	reqSnapshot
	reqFlush
)

type req struct {
	kind reqKind

	tick     engine.TickReport
	snapshot snapshotRow
	flushed  chan struct{}
}

type snapshotRow struct {
	Tick              uint64
	Path              string
	WorldID           string
	Tiles             int
	Faulted           int
	DefinitionsDigest string
	RecordedAt        string
}

// SnapshotInfo describes one indexed snapshot file.
type SnapshotInfo struct {
	Tick    uint64
	Path    string
	WorldID string
	Tiles   int
	Faulted int
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		// Large buffer so a burst of busy ticks never stalls the engine.
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS definitions (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS ticks (
			tick INTEGER PRIMARY KEY,
			digest TEXT NOT NULL,
			tiles INTEGER NOT NULL,
			transfers INTEGER NOT NULL,
			routing_faults INTEGER NOT NULL,
			tile_faults INTEGER NOT NULL,
			dropped INTEGER NOT NULL,
			duration_ms REAL NOT NULL,
			raw_json TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS transfers (
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			from_q INTEGER NOT NULL,
			from_r INTEGER NOT NULL,
			to_q INTEGER NOT NULL,
			to_r INTEGER NOT NULL,
			item TEXT NOT NULL,
			amount INTEGER NOT NULL,
			requester TEXT,
			PRIMARY KEY (tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_transfers_item_tick ON transfers(item, tick);`,
		`CREATE INDEX IF NOT EXISTS idx_transfers_to_tick ON transfers(to_q, to_r, tick);`,
		`CREATE TABLE IF NOT EXISTS faults (
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			kind TEXT NOT NULL,
			q INTEGER NOT NULL,
			r INTEGER NOT NULL,
			detail TEXT NOT NULL,
			raw_json TEXT NOT NULL,
			PRIMARY KEY (tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_faults_pos_tick ON faults(q, r, tick);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			tick INTEGER PRIMARY KEY,
			path TEXT NOT NULL,
			world_id TEXT NOT NULL,
			tiles INTEGER NOT NULL,
			faulted INTEGER NOT NULL,
			definitions_digest TEXT NOT NULL,
			recorded_at TEXT NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// Dropped counts writes discarded because the queue was full.
func (s *SQLiteIndex) Dropped() uint64 { return s.dropped.Load() }

func (s *SQLiteIndex) enqueue(r req) {
	select {
	case s.ch <- r:
	default:
		// Drop if the indexer falls behind; JSONL logs remain the source of truth.
		s.dropped.Add(1)
	}
}

// WriteTick implements engine.TickLogger.
func (s *SQLiteIndex) WriteTick(rep engine.TickReport) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	s.enqueue(req{kind: reqTick, tick: rep})
	return nil
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	if s == nil || s.closed.Load() {
		return
	}
	faulted := 0
	for _, t := range snap.Tiles {
		if t.Fault != nil {
			faulted++
		}
	}
	s.enqueue(req{kind: reqSnapshot, snapshot: snapshotRow{
		Tick:              snap.Header.Tick,
		Path:              path,
		WorldID:           snap.Header.WorldID,
		Tiles:             len(snap.Tiles),
		Faulted:           faulted,
		DefinitionsDigest: snap.DefinitionsDigest,
		RecordedAt:        time.Now().UTC().Format(time.RFC3339Nano),
	}})
}

// Flush blocks until every write queued so far is committed.
func (s *SQLiteIndex) Flush(ctx context.Context) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	done := make(chan struct{})
	select {
	case s.ch <- req{kind: reqFlush, flushed: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// UpsertDefinitions records the definition files and tuning the server is
// running with, so queries can tell which rules produced a tick.
func (s *SQLiteIndex) UpsertDefinitions(defsDir string, reg *script.Registry, tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	type kv struct {
		name   string
		digest string
		json   []byte
	}
	var rows []kv
	canon := func(name string, v any) {
		b, err := json.Marshal(v)
		if err != nil || len(b) == 0 {
			return
		}
		sum := sha256.Sum256(b)
		rows = append(rows, kv{name: name, digest: hex.EncodeToString(sum[:]), json: b})
	}

	recipes := make([]script.Recipe, 0, len(reg.RecipeIDs()))
	for _, id := range reg.RecipeIDs() {
		rc, _ := reg.Recipe(id)
		recipes = append(recipes, rc)
	}
	type fnRow struct {
		ID     string            `json:"id"`
		Kind   string            `json:"kind"`
		IDDeps map[string]string `json:"id_deps,omitempty"`
	}
	fns := make([]fnRow, 0, len(reg.FunctionIDs()))
	for _, id := range reg.FunctionIDs() {
		fs, _ := reg.Lookup(id)
		fns = append(fns, fnRow{ID: fs.ID, Kind: fs.Kind, IDDeps: fs.IDDeps})
	}
	canon("functions", fns)
	canon("recipes", recipes)
	canon("tuning", tune)

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	metas := map[string]string{
		"schema_version":     "1",
		"definitions_dir":    defsDir,
		"definitions_digest": reg.Digest,
	}
	for k, v := range metas {
		if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES(?,?)`, k, v); err != nil {
			return err
		}
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO definitions(name,digest,json,updated_at) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		if _, err := stmt.Exec(r.name, r.digest, string(r.json), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// LatestSnapshot returns the newest indexed snapshot whose file still
// exists.
func (s *SQLiteIndex) LatestSnapshot(ctx context.Context) (SnapshotInfo, bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT tick, path, world_id, tiles, faulted FROM snapshots ORDER BY tick DESC`)
	if err != nil {
		return SnapshotInfo{}, false, err
	}
	defer rows.Close()
	for rows.Next() {
		var info SnapshotInfo
		var tick int64
		if err := rows.Scan(&tick, &info.Path, &info.WorldID, &info.Tiles, &info.Faulted); err != nil {
			return SnapshotInfo{}, false, err
		}
		info.Tick = uint64(tick)
		if _, err := os.Stat(info.Path); err == nil {
			return info, true, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return SnapshotInfo{}, false, err
		}
	}
	return SnapshotInfo{}, false, rows.Err()
}

// ItemThroughput sums transferred amounts of item over ticks [from, to].
func (s *SQLiteIndex) ItemThroughput(ctx context.Context, item string, from, to uint64) (uint64, error) {
	var total sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT SUM(amount) FROM transfers WHERE item = ? AND tick BETWEEN ? AND ?`,
		item, int64(from), int64(to)).Scan(&total)
	if err != nil {
		return 0, err
	}
	return uint64(total.Int64), nil
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertTick, _ := s.db.Prepare(`INSERT OR REPLACE INTO ticks(tick,digest,tiles,transfers,routing_faults,tile_faults,dropped,duration_ms,raw_json) VALUES(?,?,?,?,?,?,?,?,?)`)
	insertTransfer, _ := s.db.Prepare(`INSERT OR REPLACE INTO transfers(tick,seq,from_q,from_r,to_q,to_r,item,amount,requester) VALUES(?,?,?,?,?,?,?,?,?)`)
	insertFault, _ := s.db.Prepare(`INSERT OR REPLACE INTO faults(tick,seq,kind,q,r,detail,raw_json) VALUES(?,?,?,?,?,?,?)`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(tick,path,world_id,tiles,faulted,definitions_digest,recorded_at) VALUES(?,?,?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertTick, insertTransfer, insertFault, insertSnapshot} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			// If we can't start a tx, we can't do much; sleep a bit.
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	flushIfNeeded := func() {
		if tx == nil {
			return
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	exec := func(st *sql.Stmt, args ...any) bool {
		if st == nil || tx == nil {
			return false
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return false
		}
		opCount++
		return true
	}

	for r := range s.ch {
		if r.kind == reqFlush {
			commit()
			close(r.flushed)
			continue
		}
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqTick:
			rep := r.tick
			tick := int64(rep.Tick)
			b, _ := json.Marshal(rep)
			if !exec(insertTick, tick, rep.Digest, rep.Tiles, len(rep.Transfers), len(rep.RoutingFaults), len(rep.TileFaults), rep.Dropped, rep.DurationMs, string(b)) {
				continue
			}
			for i, t := range rep.Transfers {
				if !exec(insertTransfer, tick, i, t.From.Q, t.From.R, t.To.Q, t.To.R, t.Item, int64(t.Amount), t.Requester) {
					break
				}
			}
			seq := 0
			for _, f := range rep.TileFaults {
				raw, _ := json.Marshal(f)
				if !exec(insertFault, tick, seq, "tile", f.Coord.Q, f.Coord.R, f.Error, string(raw)) {
					break
				}
				seq++
			}
			for _, f := range rep.RoutingFaults {
				raw, _ := json.Marshal(f)
				detail := fmt.Sprintf("%dx%s from %s after %d hops", f.Amount, f.Item, f.Source, f.Hops)
				if !exec(insertFault, tick, seq, "routing", f.At.Q, f.At.R, detail, string(raw)) {
					break
				}
				seq++
			}

		case reqSnapshot:
			sn := r.snapshot
			exec(insertSnapshot, int64(sn.Tick), sn.Path, sn.WorldID, sn.Tiles, sn.Faulted, sn.DefinitionsDigest, sn.RecordedAt)
		}
		flushIfNeeded()
	}

	commit()
}
