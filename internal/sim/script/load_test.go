package script

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"tilecraft.ai/internal/sim/txn"
)

func testKinds() map[string]Handlers {
	none := func(*Input) (txn.Outcome, error) { return txn.None(), nil }
	return map[string]Handlers{
		"storage":  {Transaction: none, Tick: none},
		"transfer": {Transaction: none},
	}
}

func writeDefs(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		p := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return dir
}

var validDefs = map[string]string{
	"items.yaml": `
items:
  - id: iron
  - id: gear
    name: Iron gear
`,
	"recipes.yaml": `
recipes:
  - id: gear
    inputs:
      - {item: iron, amount: 2}
    output: {item: gear, amount: 1}
`,
	"functions/chest.yaml": `
id: chest
kind: storage
id_deps:
  item: item
  amount: capacity
  buffer: buffer
`,
	"functions/belt.yml": `
id: belt
kind: transfer
id_deps:
  target: target
`,
}

func TestLoad_Valid(t *testing.T) {
	dir := writeDefs(t, validDefs)
	reg, err := Load(dir, testKinds())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := reg.FunctionIDs(); len(got) != 2 || got[0] != "belt" || got[1] != "chest" {
		t.Fatalf("functions=%v", got)
	}
	fs, ok := reg.Lookup("chest")
	if !ok || fs.Kind != "storage" || fs.IDDeps["amount"] != "capacity" || fs.Handlers.Tick == nil {
		t.Fatalf("chest=%+v", fs)
	}
	rc, ok := reg.Recipe("gear")
	if !ok || rc.Output.Amount != 1 || rc.Requires("iron") != 2 {
		t.Fatalf("recipe=%+v", rc)
	}
	if !reg.KnownItem("gear") || reg.KnownItem("gold") {
		t.Fatalf("item catalog not applied")
	}
	if len(reg.Digest) != 64 {
		t.Fatalf("digest=%q", reg.Digest)
	}

	again, err := Load(writeDefs(t, validDefs), testKinds())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.Digest != reg.Digest {
		t.Fatalf("digest not stable: %s vs %s", again.Digest, reg.Digest)
	}
}

func TestLoad_Rejects(t *testing.T) {
	cases := []struct {
		name  string
		patch map[string]string
		want  error
	}{
		{"unknown kind", map[string]string{"functions/x.yaml": "id: x\nkind: teleporter\n"}, ErrMalformed},
		{"missing kind", map[string]string{"functions/x.yaml": "id: x\n"}, ErrMalformed},
		{"bad yaml", map[string]string{"functions/x.yaml": "id: [x\n"}, ErrMalformed},
		{"duplicate id", map[string]string{"functions/z.yaml": "id: chest\nkind: storage\n"}, ErrDuplicateFunction},
		{"unknown recipe item", map[string]string{"recipes.yaml": "recipes:\n  - id: r\n    inputs: [{item: gold, amount: 1}]\n    output: {item: iron, amount: 1}\n"}, ErrMalformed},
		{"zero amount", map[string]string{"recipes.yaml": "recipes:\n  - id: r\n    inputs: [{item: iron, amount: 0}]\n    output: {item: iron, amount: 1}\n"}, ErrMalformed},
		{"duplicate recipe", map[string]string{"recipes.yaml": "recipes:\n  - id: r\n    inputs: [{item: iron, amount: 1}]\n    output: {item: gear, amount: 1}\n  - id: r\n    inputs: [{item: iron, amount: 1}]\n    output: {item: gear, amount: 1}\n"}, ErrDuplicateRecipe},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			files := map[string]string{}
			for k, v := range validDefs {
				files[k] = v
			}
			for k, v := range tc.patch {
				files[k] = v
			}
			_, err := Load(writeDefs(t, files), testKinds())
			if !errors.Is(err, tc.want) {
				t.Fatalf("err=%v want %v", err, tc.want)
			}
		})
	}
}

func TestLoad_RequiresFunctionsDir(t *testing.T) {
	if _, err := Load(t.TempDir(), testKinds()); err == nil {
		t.Fatalf("expected error without functions/")
	}
}

func TestSchemaDocs(t *testing.T) {
	docs, err := SchemaDocs()
	if err != nil {
		t.Fatalf("schema docs: %v", err)
	}
	for _, name := range []string{"items.schema.json", "recipes.schema.json", "function.schema.json"} {
		b, ok := docs[name]
		if !ok {
			t.Fatalf("missing %s", name)
		}
		var v map[string]any
		if err := json.Unmarshal(b, &v); err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if v["title"] != name {
			t.Fatalf("%s title=%v", name, v["title"])
		}
	}
}
