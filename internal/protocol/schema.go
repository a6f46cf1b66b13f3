package protocol

import (
	"encoding/json"
	"fmt"

	reflectschema "github.com/invopop/jsonschema"
)

// SchemaDocs returns JSON Schemas for the control messages, keyed by file
// name.
func SchemaDocs() (map[string][]byte, error) {
	docs := map[string]any{
		"hello.schema.json":   &HelloMsg{},
		"welcome.schema.json": &WelcomeMsg{},
		"cmd.schema.json":     &CmdMsg{},
		"ack.schema.json":     &AckMsg{},
	}
	out := make(map[string][]byte, len(docs))
	for name, v := range docs {
		r := reflectschema.Reflector{DoNotReference: true}
		s := r.Reflect(v)
		s.Title = name
		b, err := json.MarshalIndent(s, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshal schema %s: %w", name, err)
		}
		out[name] = b
	}
	return out, nil
}
