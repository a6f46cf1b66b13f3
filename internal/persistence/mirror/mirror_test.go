package mirror

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func writeFile(t *testing.T, p, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestBucket_PutSignsRequest(t *testing.T) {
	var (
		gotPath string
		gotAuth string
		gotBody string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		if r.Header.Get("x-amz-content-sha256") == "" || r.Header.Get("x-amz-date") == "" {
			rw.WriteHeader(http.StatusBadRequest)
			return
		}
		rw.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	b, err := NewBucket(BucketConfig{Endpoint: srv.URL, Bucket: "snaps", AccessKey: "AK", SecretKey: "SK"})
	if err != nil {
		t.Fatalf("bucket: %v", err)
	}
	b.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	p := filepath.Join(t.TempDir(), "100.snap.zst")
	writeFile(t, p, "payload")
	if err := b.Put(context.Background(), "w1/snapshots/100 a.snap.zst", p); err != nil {
		t.Fatalf("put: %v", err)
	}
	if gotPath != "/snaps/w1/snapshots/100 a.snap.zst" {
		t.Fatalf("path=%q", gotPath)
	}
	if gotBody != "payload" {
		t.Fatalf("body=%q", gotBody)
	}
	if !strings.HasPrefix(gotAuth, "AWS4-HMAC-SHA256 Credential=AK/20260102/auto/s3/aws4_request") {
		t.Fatalf("auth=%q", gotAuth)
	}
}

func TestBucket_PutReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		http.Error(rw, "denied", http.StatusForbidden)
	}))
	defer srv.Close()
	b, err := NewBucket(BucketConfig{Endpoint: srv.URL, Bucket: "snaps", AccessKey: "AK", SecretKey: "SK"})
	if err != nil {
		t.Fatalf("bucket: %v", err)
	}
	p := filepath.Join(t.TempDir(), "f")
	writeFile(t, p, "x")
	if err := b.Put(context.Background(), "f", p); err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("err=%v", err)
	}
}

func TestNewBucket_RequiresConfig(t *testing.T) {
	if _, err := NewBucket(BucketConfig{Endpoint: "example.com"}); err == nil {
		t.Fatalf("expected error")
	}
}

type fakeUploader struct {
	mu    sync.Mutex
	keys  []string
	fails int
}

func (f *fakeUploader) Put(_ context.Context, key, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails > 0 {
		f.fails--
		return errors.New("flaky")
	}
	f.keys = append(f.keys, key)
	return nil
}

func TestMirror_UploadsUnderPrefixWithRetry(t *testing.T) {
	data := t.TempDir()
	p := filepath.Join(data, "worlds", "w1", "snapshots", "10.snap.zst")
	writeFile(t, p, "x")

	up := &fakeUploader{fails: 2}
	m := New(up, data, "/backups/", 1, 4, log.New(io.Discard, "", 0))
	m.backoff = time.Millisecond
	m.Enqueue(p)
	m.Enqueue(filepath.Join(t.TempDir(), "elsewhere"))
	m.Close()

	if len(up.keys) != 1 || up.keys[0] != "backups/worlds/w1/snapshots/10.snap.zst" {
		t.Fatalf("keys=%v", up.keys)
	}
	st := m.Stats()
	if st.Uploaded != 1 || st.Failed != 1 || st.LastOKUTC == 0 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestMirror_NilIsNoop(t *testing.T) {
	var m *Mirror
	m.Enqueue("x")
	m.Close()
	if m.Stats() != (Stats{}) {
		t.Fatalf("nil stats")
	}
}

func TestMirror_EnqueueAfterCloseIsDropped(t *testing.T) {
	data := t.TempDir()
	p := filepath.Join(data, "worlds", "w1", "snapshots", "10.snap.zst")
	writeFile(t, p, "x")

	up := &fakeUploader{}
	m := New(up, data, "", 1, 4, log.New(io.Discard, "", 0))
	m.Enqueue(p)
	m.Close()
	m.Enqueue(p)
	m.Close()

	if len(up.keys) != 1 {
		t.Fatalf("keys=%v", up.keys)
	}
	if st := m.Stats(); st.Uploaded != 1 || st.Dropped != 1 {
		t.Fatalf("stats=%+v", st)
	}
}
