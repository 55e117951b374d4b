package platform

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed platforms.yaml
var builtinYAML []byte

// Parse decodes a YAML document mapping platform keys to entries.
func Parse(data []byte) (*Registry, error) {
	var entries map[string]Config
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("platform: parse: %w", err)
	}
	return NewRegistry(entries)
}

// LoadFile reads a platform registry from a YAML file.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("platform: read %s: %w", path, err)
	}
	return Parse(data)
}

// Builtin returns the registry shipped with the binary.
func Builtin() *Registry {
	r, err := Parse(builtinYAML)
	if err != nil {
		panic("platform: builtin registry: " + err.Error())
	}
	return r
}

// Merge returns a registry holding the entries of base overridden by those
// of over.
func Merge(base, over *Registry) *Registry {
	out := &Registry{entries: make(map[string]Config)}
	if base != nil {
		for k, c := range base.entries {
			out.entries[k] = c
		}
	}
	if over != nil {
		for k, c := range over.entries {
			out.entries[k] = c
		}
	}
	return out
}
