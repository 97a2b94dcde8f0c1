package schema

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Parse decodes a single importer definition from YAML and validates it.
func Parse(data []byte) (Definition, error) {
	var def Definition

	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil {
		return Definition{}, fmt.Errorf("decode definition: %w", err)
	}

	if err := def.Validate(); err != nil {
		return Definition{}, err
	}
	return def, nil
}

// LoadFile reads one importer definition from a YAML file.
func LoadFile(path string) (Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, fmt.Errorf("read %s: %w", path, err)
	}

	def, err := Parse(data)
	if err != nil {
		return Definition{}, fmt.Errorf("%s: %w", path, err)
	}
	return def, nil
}

// LoadDir loads every .yaml/.yml file in dir as an importer definition,
// sorted by file name for deterministic registration order. A missing
// directory is not an error; hosts may register definitions in code only.
func LoadDir(dir string) ([]Definition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read schema dir: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := strings.ToLower(entry.Name())
		if strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	defs := make([]Definition, 0, len(files))
	keys := make(map[string]string)
	for _, name := range files {
		def, err := LoadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		if prev, ok := keys[def.Key]; ok {
			return nil, fmt.Errorf("%s: definition key %q already declared in %s", name, def.Key, prev)
		}
		keys[def.Key] = name
		defs = append(defs, def)
	}

	return defs, nil
}
