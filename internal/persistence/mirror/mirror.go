package mirror

import (
	"context"
	"fmt"
	"log"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type uploader interface {
	Put(ctx context.Context, key, localPath string) error
}

type Stats struct {
	Queued    int    `json:"queued"`
	Uploaded  uint64 `json:"uploaded"`
	Failed    uint64 `json:"failed"`
	Dropped   uint64 `json:"dropped"`
	LastOKUTC int64  `json:"last_ok_unix"`
}

// Mirror copies snapshot and archive files off-host in the background.
// Object keys are the file path relative to the data dir, under prefix.
type Mirror struct {
	up      uploader
	dataDir string
	prefix  string
	logger  *log.Logger

	mu       sync.Mutex
	closed   bool
	jobs     chan string
	wg       sync.WaitGroup
	attempts int
	backoff  time.Duration

	uploaded atomic.Uint64
	failed   atomic.Uint64
	dropped  atomic.Uint64
	lastOK   atomic.Int64
}

func New(up uploader, dataDir, prefix string, workers, queue int, logger *log.Logger) *Mirror {
	if workers <= 0 {
		workers = 1
	}
	if queue <= 0 {
		queue = 64
	}
	m := &Mirror{
		up:       up,
		dataDir:  dataDir,
		prefix:   strings.Trim(filepath.ToSlash(prefix), "/"),
		logger:   logger,
		jobs:     make(chan string, queue),
		attempts: 4,
		backoff:  200 * time.Millisecond,
	}
	for i := 0; i < workers; i++ {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			for p := range m.jobs {
				m.upload(p)
			}
		}()
	}
	return m
}

// Enqueue never blocks; when the queue is full the file is skipped and
// picked up by the next snapshot instead. Files enqueued after Close are
// skipped too.
func (m *Mirror) Enqueue(localPath string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		n := m.dropped.Add(1)
		m.logger.Printf("mirror: closed, skipped %s (dropped=%d)", localPath, n)
		return
	}
	select {
	case m.jobs <- localPath:
	default:
		n := m.dropped.Add(1)
		m.logger.Printf("mirror: queue full, skipped %s (dropped=%d)", localPath, n)
	}
}

// Close drains queued uploads. It is safe to call more than once.
func (m *Mirror) Close() {
	if m == nil {
		return
	}
	m.mu.Lock()
	if !m.closed {
		m.closed = true
		close(m.jobs)
	}
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Mirror) Stats() Stats {
	if m == nil {
		return Stats{}
	}
	return Stats{
		Queued:    len(m.jobs),
		Uploaded:  m.uploaded.Load(),
		Failed:    m.failed.Load(),
		Dropped:   m.dropped.Load(),
		LastOKUTC: m.lastOK.Load(),
	}
}

func (m *Mirror) upload(localPath string) {
	key, err := m.objectKey(localPath)
	if err != nil {
		m.failed.Add(1)
		m.logger.Printf("mirror: %v", err)
		return
	}
	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		err = m.up.Put(ctx, key, localPath)
		cancel()
		if err == nil {
			m.uploaded.Add(1)
			m.lastOK.Store(time.Now().UTC().Unix())
			return
		}
		if attempt >= m.attempts {
			break
		}
		time.Sleep(time.Duration(attempt*attempt) * m.backoff)
	}
	m.failed.Add(1)
	m.logger.Printf("mirror: upload %s failed: %v", key, err)
}

func (m *Mirror) objectKey(localPath string) (string, error) {
	base, err := filepath.Abs(m.dataDir)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(localPath)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(base, abs)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%s is outside data dir %s", localPath, m.dataDir)
	}
	if m.prefix != "" {
		rel = path.Join(m.prefix, rel)
	}
	return rel, nil
}
