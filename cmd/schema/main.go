package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"tilecraft.ai/internal/protocol"
	"tilecraft.ai/internal/sim/script"
)

// schema writes the JSON Schemas for definition files and control
// messages, so editors and external clients can validate against them.
func main() {
	out := flag.String("out", "./schemas", "output directory")
	flag.Parse()

	defs, err := script.SchemaDocs()
	if err != nil {
		fail(err)
	}
	msgs, err := protocol.SchemaDocs()
	if err != nil {
		fail(err)
	}
	n, err := writeAll(filepath.Join(*out, "definitions"), defs)
	if err != nil {
		fail(err)
	}
	m, err := writeAll(filepath.Join(*out, "protocol"), msgs)
	if err != nil {
		fail(err)
	}
	fmt.Printf("wrote %d schemas to %s\n", n+m, *out)
}

func writeAll(dir string, docs map[string][]byte) (int, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, err
	}
	names := make([]string, 0, len(docs))
	for name := range docs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		b := append(docs[name], '\n')
		if err := os.WriteFile(filepath.Join(dir, name), b, 0o644); err != nil {
			return 0, err
		}
	}
	return len(names), nil
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
