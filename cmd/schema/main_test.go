package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"tilecraft.ai/internal/protocol"
)

func TestWriteAll(t *testing.T) {
	docs, err := protocol.SchemaDocs()
	if err != nil {
		t.Fatalf("docs: %v", err)
	}
	dir := filepath.Join(t.TempDir(), "protocol")
	n, err := writeAll(dir, docs)
	if err != nil || n != len(docs) {
		t.Fatalf("n=%d err=%v", n, err)
	}
	raw, err := os.ReadFile(filepath.Join(dir, "cmd.schema.json"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("not json: %v", err)
	}
	if doc["title"] != "cmd.schema.json" {
		t.Fatalf("title=%v", doc["title"])
	}
}
