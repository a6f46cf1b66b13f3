package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"tilecraft.ai/internal/persistence/archive"
	persistlog "tilecraft.ai/internal/persistence/log"
	"tilecraft.ai/internal/persistence/mirror"
	"tilecraft.ai/internal/persistence/snapshot"
	"tilecraft.ai/internal/sim/engine"
	"tilecraft.ai/internal/sim/functions"
	"tilecraft.ai/internal/sim/script"
	"tilecraft.ai/internal/sim/tuning"
	"tilecraft.ai/internal/transport/observer"
	"tilecraft.ai/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		worldID    = flag.String("world", "", "world id (default: tuning world_id)")
		configDir  = flag.String("configs", "./configs", "config directory")
		defsDir    = flag.String("definitions", "", "definitions directory (default: <configs>/definitions)")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		disableDB  = flag.Bool("disable_db", false, "disable indexing (ticks/transfers/faults + definitions + snapshot metadata)")

		snapPath   = flag.String("snapshot", "", "path to snapshot to load (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", true, "load latest snapshot from data dir if present (when -snapshot is empty)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	dd := strings.TrimSpace(*defsDir)
	if dd == "" {
		dd = filepath.Join(*configDir, "definitions")
	}
	reg, err := script.Load(dd, functions.Kinds())
	if err != nil {
		logger.Fatalf("load definitions: %v", err)
	}
	logger.Printf("definitions: %d functions, %d recipes, digest=%s", len(reg.FunctionIDs()), len(reg.RecipeIDs()), reg.Digest)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}
	if id := strings.TrimSpace(*worldID); id != "" {
		tune.WorldID = id
	}

	worldDir := filepath.Join(*dataDir, "worlds", tune.WorldID)
	_ = os.MkdirAll(worldDir, 0o755)

	// Optional: read-model index backend (does not affect the grid).
	idx, err := openRuntimeIndex(worldDir, *disableDB)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		defer idx.Close()
		if err := idx.UpsertDefinitions(dd, reg, tune); err != nil {
			logger.Printf("index backend: upsert definitions: %v", err)
		}
	}

	mir, err := openMirror(*dataDir, logger)
	if err != nil {
		logger.Fatalf("mirror: %v", err)
	}

	eng := engine.New(engine.Config{
		MaxHops:            tune.MaxHops,
		TickRateHz:         tune.TickRateHz,
		SnapshotEveryTicks: tune.SnapshotEveryTicks,
		WorldID:            tune.WorldID,
	}, reg, log.New(os.Stdout, "[engine] ", log.LstdFlags|log.Lmicroseconds))
	defer eng.Close()

	ctx, cancel := signalContext()
	defer cancel()

	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" && *loadLatest {
		snapshotToLoad = latestSnapshot(ctx, worldDir, idx)
	}
	if snapshotToLoad != "" {
		snap, err := snapshot.ReadSnapshot(snapshotToLoad)
		if err != nil {
			logger.Fatalf("read snapshot: %v", err)
		}
		if snap.Header.WorldID != "" && snap.Header.WorldID != tune.WorldID {
			logger.Fatalf("snapshot world id mismatch: tuning=%s snap=%s", tune.WorldID, snap.Header.WorldID)
		}
		if snap.DefinitionsDigest != "" && snap.DefinitionsDigest != reg.Digest {
			// Keep the pre-change grid out of reach of pruning.
			if kept, err := archive.Keep(worldDir, snapshotToLoad, snap, "definitions_changed"); err != nil {
				logger.Printf("archive snapshot: %v", err)
			} else {
				logger.Printf("definitions changed since snapshot; archived %s", kept)
				mir.Enqueue(kept)
			}
		}
		if err := eng.Import(ctx, snap); err != nil {
			logger.Fatalf("import snapshot: %v", err)
		}
		logger.Printf("resumed from snapshot=%s tick=%d tiles=%d", filepath.Base(snapshotToLoad), eng.CurrentTick(), len(snap.Tiles))
	}

	tickLog := persistlog.NewTickLogger(worldDir)
	faultLog := persistlog.NewFaultLogger(worldDir)
	defer tickLog.Close()
	defer faultLog.Close()
	tee := persistlog.Tee{tickLog, faultLog}
	if idx != nil {
		tee = append(tee, idx)
	}
	eng.SetTickLogger(tee)

	// Snapshot writer.
	snaps := &snapshotWriter{
		dir:    filepath.Join(worldDir, "snapshots"),
		keep:   tune.SnapshotKeep,
		idx:    idx,
		mirror: mir,
		log:    logger,
	}
	snapCh := make(chan snapshot.SnapshotV1, 2)
	eng.SetSnapshotSink(snapCh)
	sinkDone := runSnapshotSink(ctx, snapCh, snaps, logger)

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		if err := eng.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Printf("engine stopped: %v", err)
			cancel()
		}
	}()

	obsSrv := observer.NewServer(eng, tune.Observer, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeMetrics(rw, tune.WorldID, eng, idx, obsSrv, mir)
	})

	enableAdminHTTP := envBool("TC_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP())
	enablePprofHTTP := envBool("TC_ENABLE_PPROF_HTTP", false)
	if enableAdminHTTP {
		// Local-only admin endpoints.
		mux.HandleFunc("/admin/v1/state", func(rw http.ResponseWriter, r *http.Request) {
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			rw.Header().Set("Content-Type", "application/json")
			resp := struct {
				WorldID           string       `json:"world_id"`
				Tick              uint64       `json:"tick"`
				DefinitionsDigest string       `json:"definitions_digest"`
				Stats             engine.Stats `json:"stats"`
			}{
				WorldID:           tune.WorldID,
				Tick:              eng.CurrentTick(),
				DefinitionsDigest: reg.Digest,
				Stats:             eng.Stats(),
			}
			_ = json.NewEncoder(rw).Encode(resp)
		})
		mux.HandleFunc("/admin/v1/snapshot", func(rw http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				rw.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			ctx2, cancel2 := context.WithTimeout(r.Context(), 5*time.Second)
			defer cancel2()
			rw.Header().Set("Content-Type", "application/json")
			snap, err := eng.Export(ctx2)
			var path string
			if err == nil {
				path, err = snaps.Save(snap)
			}
			if err != nil {
				rw.WriteHeader(http.StatusServiceUnavailable)
				_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "tick": snap.Header.Tick, "error": err.Error()})
				return
			}
			_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "tick": snap.Header.Tick, "path": path})
		})
		if idx != nil {
			mux.HandleFunc("/admin/v1/throughput", func(rw http.ResponseWriter, r *http.Request) {
				if !isLoopbackRemote(r.RemoteAddr) {
					http.Error(rw, "forbidden", http.StatusForbidden)
					return
				}
				q := r.URL.Query()
				item := strings.TrimSpace(q.Get("item"))
				if item == "" {
					http.Error(rw, "missing item", http.StatusBadRequest)
					return
				}
				from, _ := strconv.ParseUint(q.Get("from"), 10, 64)
				to, err := strconv.ParseUint(q.Get("to"), 10, 64)
				if err != nil {
					to = eng.CurrentTick()
				}
				total, err := idx.ItemThroughput(r.Context(), item, from, to)
				if err != nil {
					http.Error(rw, err.Error(), http.StatusInternalServerError)
					return
				}
				rw.Header().Set("Content-Type", "application/json")
				_ = json.NewEncoder(rw).Encode(map[string]any{"item": item, "from": from, "to": to, "amount": total})
			})
		}

		mux.HandleFunc("/admin/v1/observer/bootstrap", obsSrv.BootstrapHandler())
		mux.HandleFunc("/admin/v1/observer/stats", obsSrv.StatsHandler())
		mux.HandleFunc("/admin/v1/observer/ws", obsSrv.WSHandler())
		mux.HandleFunc("/admin/v1/control", ws.NewServer(eng, logger).Handler())
	} else {
		logger.Printf("admin endpoints disabled (TC_ENABLE_ADMIN_HTTP=false)")
	}
	if enablePprofHTTP {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	} else {
		logger.Printf("pprof endpoints disabled (TC_ENABLE_PPROF_HTTP=false)")
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}

	<-runDone
	<-sinkDone
	// Final snapshot so a restart resumes where this run stopped.
	ctx3, cancel3 := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel3()
	if snap, err := eng.Export(ctx3); err != nil {
		logger.Printf("final snapshot: %v", err)
	} else if path, err := snaps.Save(snap); err != nil {
		logger.Printf("final snapshot: %v", err)
	} else {
		logger.Printf("final snapshot=%s tick=%d", filepath.Base(path), snap.Header.Tick)
	}
	if idx != nil {
		_ = idx.Flush(ctx3)
	}
	mir.Close()
}

func writeMetrics(rw http.ResponseWriter, worldID string, eng *engine.Engine, idx runtimeIndex, obs *observer.Server, mir *mirror.Mirror) {
	st := eng.Stats()

	// Minimal Prometheus exposition format.
	fmt.Fprintf(rw, "# HELP tilecraft_tick Current engine tick.\n")
	fmt.Fprintf(rw, "# TYPE tilecraft_tick gauge\n")
	fmt.Fprintf(rw, "tilecraft_tick{world=%q} %d\n", worldID, eng.CurrentTick())

	fmt.Fprintf(rw, "# HELP tilecraft_tiles Placed tiles.\n")
	fmt.Fprintf(rw, "# TYPE tilecraft_tiles gauge\n")
	fmt.Fprintf(rw, "tilecraft_tiles{world=%q} %d\n", worldID, st.Tiles)

	fmt.Fprintf(rw, "# HELP tilecraft_messages_total Messages by outcome.\n")
	fmt.Fprintf(rw, "# TYPE tilecraft_messages_total counter\n")
	fmt.Fprintf(rw, "tilecraft_messages_total{world=%q,outcome=%q} %d\n", worldID, "delivered", st.Delivered)
	fmt.Fprintf(rw, "tilecraft_messages_total{world=%q,outcome=%q} %d\n", worldID, "dropped", st.Dropped)

	fmt.Fprintf(rw, "# HELP tilecraft_transfers_total Accepted transactions.\n")
	fmt.Fprintf(rw, "# TYPE tilecraft_transfers_total counter\n")
	fmt.Fprintf(rw, "tilecraft_transfers_total{world=%q} %d\n", worldID, st.Transfers)

	fmt.Fprintf(rw, "# HELP tilecraft_faults_total Faults by kind.\n")
	fmt.Fprintf(rw, "# TYPE tilecraft_faults_total counter\n")
	fmt.Fprintf(rw, "tilecraft_faults_total{world=%q,kind=%q} %d\n", worldID, "tile", st.TileFaults)
	fmt.Fprintf(rw, "tilecraft_faults_total{world=%q,kind=%q} %d\n", worldID, "routing", st.RoutingFaults)

	fmt.Fprintf(rw, "# HELP tilecraft_observer_dropped_frames_total Observer frames skipped for slow clients.\n")
	fmt.Fprintf(rw, "# TYPE tilecraft_observer_dropped_frames_total counter\n")
	fmt.Fprintf(rw, "tilecraft_observer_dropped_frames_total{world=%q} %d\n", worldID, obs.DroppedFrames())

	if idx != nil {
		fmt.Fprintf(rw, "# HELP tilecraft_index_dropped_total Index writes dropped because the writer was backed up.\n")
		fmt.Fprintf(rw, "# TYPE tilecraft_index_dropped_total counter\n")
		fmt.Fprintf(rw, "tilecraft_index_dropped_total{world=%q} %d\n", worldID, idx.Dropped())
	}
	if mir != nil {
		ms := mir.Stats()
		fmt.Fprintf(rw, "# HELP tilecraft_mirror_uploads_total Snapshot mirror uploads by result.\n")
		fmt.Fprintf(rw, "# TYPE tilecraft_mirror_uploads_total counter\n")
		fmt.Fprintf(rw, "tilecraft_mirror_uploads_total{world=%q,result=%q} %d\n", worldID, "ok", ms.Uploaded)
		fmt.Fprintf(rw, "tilecraft_mirror_uploads_total{world=%q,result=%q} %d\n", worldID, "failed", ms.Failed)
		fmt.Fprintf(rw, "tilecraft_mirror_uploads_total{world=%q,result=%q} %d\n", worldID, "dropped", ms.Dropped)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
