package main

import (
	"encoding/json"
	"fmt"
	"io"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Output formats accepted by --output.
const (
	formatJSON = "json"
	formatYAML = "yaml"
	formatTOML = "toml"
)

// writeOutput encodes v in the requested format. YAML and TOML are produced
// from v's JSON form so all three share the json field names. TOML needs a
// table at the top level, so non-object values are placed under key.
func writeOutput(w io.Writer, format, key string, v any) error {
	switch format {
	case "", formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)

	case formatYAML:
		tree, err := jsonTree(v)
		if err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(tree); err != nil {
			return err
		}
		return enc.Close()

	case formatTOML:
		tree, err := jsonTree(v)
		if err != nil {
			return err
		}
		if _, ok := tree.(map[string]any); !ok {
			tree = map[string]any{key: tree}
		}
		return toml.NewEncoder(w).Encode(tree)

	default:
		return fmt.Errorf("unknown output format %q (want json, yaml or toml)", format)
	}
}

func jsonTree(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var tree any
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, err
	}
	return tree, nil
}
