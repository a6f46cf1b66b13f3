package log

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"tilecraft.ai/internal/sim/engine"
)

type JSONLZstdWriter struct {
	baseDir string
	prefix  string

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := time.Now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	dir := filepath.Dir(w.pathForHour(hour))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.pathForHour(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curHour = hour
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	w.curHour = ""
	return err1
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// Files lists the rotated files under dir with the given prefix, oldest
// first. Hour stamps sort lexically.
func Files(dir, prefix string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, prefix+"-*.jsonl.zst"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

// ReadJSONL decodes every line of a compressed JSONL file as a T and hands
// it to fn. A file reopened after a restart holds several concatenated
// zstd frames, which the decoder reads through.
func ReadJSONL[T any](path string, fn func(T) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	jd := json.NewDecoder(dec)
	for {
		var v T
		if err := jd.Decode(&v); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		if err := fn(v); err != nil {
			return err
		}
	}
}

// TickLogger writes one JSONL entry per tick (compressed).
type TickLogger struct{ w *JSONLZstdWriter }

func NewTickLogger(worldDir string) *TickLogger {
	return &TickLogger{w: NewJSONLZstdWriter(filepath.Join(worldDir, "ticks"), "ticks")}
}

func (l *TickLogger) WriteTick(rep engine.TickReport) error { return l.w.Write(rep) }
func (l *TickLogger) Close() error                          { return l.w.Close() }

// FaultEntry is one line of the fault log.
type FaultEntry struct {
	Tick    uint64               `json:"tick"`
	Kind    string               `json:"kind"`
	Tile    *engine.FaultRecord  `json:"tile,omitempty"`
	Routing *engine.RoutingFault `json:"routing,omitempty"`
}

// FaultLogger keeps tile and routing faults in their own log so they
// survive tick log pruning and are quick to scan.
type FaultLogger struct{ w *JSONLZstdWriter }

func NewFaultLogger(worldDir string) *FaultLogger {
	return &FaultLogger{w: NewJSONLZstdWriter(filepath.Join(worldDir, "faults"), "faults")}
}

func (l *FaultLogger) WriteTick(rep engine.TickReport) error {
	for i := range rep.TileFaults {
		f := rep.TileFaults[i]
		if err := l.w.Write(FaultEntry{Tick: rep.Tick, Kind: "tile", Tile: &f}); err != nil {
			return err
		}
	}
	for i := range rep.RoutingFaults {
		f := rep.RoutingFaults[i]
		if err := l.w.Write(FaultEntry{Tick: rep.Tick, Kind: "routing", Routing: &f}); err != nil {
			return err
		}
	}
	return nil
}

func (l *FaultLogger) Close() error { return l.w.Close() }

// Tee fans a tick report out to several loggers. Every logger is written
// even if an earlier one fails.
type Tee []engine.TickLogger

func (t Tee) WriteTick(rep engine.TickReport) error {
	var errs []error
	for _, l := range t {
		if l == nil {
			continue
		}
		if err := l.WriteTick(rep); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
