package netplan

import (
	"io/ioutil"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// NullableFields is the set of dotted key-paths (e.g.
// "ethernets.eth0.dhcp4") that a nullable-fields document has marked for
// deletion. Per §4.1 "Null handling and overrides", setting a key to
// YAML null in such a document means the key should be treated as never
// having been set, overriding whatever an earlier file assigned it,
// rather than being coerced to its zero value by the normal handlers.
type NullableFields map[string]bool

// LoadNullableFields reads a nullable-fields document — shaped like an
// ordinary netplan `network:` document, but with every field that
// should be deleted set to null — and returns the dotted paths it
// nulls.
func LoadNullableFields(src string) (NullableFields, error) {
	buf, err := ioutil.ReadFile(src)
	if err != nil {
		return nil, err
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(buf, &doc); err != nil {
		return nil, err
	}
	fields := NullableFields{}
	if len(doc.Content) == 0 {
		return fields, nil
	}
	for _, kv := range mapPairs(doc.Content[0]) {
		var key string
		kv[0].Decode(&key)
		if key != "network" {
			continue
		}
		collectNullPaths(kv[1], nil, fields)
	}
	return fields, nil
}

func collectNullPaths(node *yaml.Node, prefix []string, fields NullableFields) {
	if node == nil || node.Kind != yaml.MappingNode {
		return
	}
	for _, kv := range mapPairs(node) {
		var key string
		kv[0].Decode(&key)
		path := append(append([]string{}, prefix...), key)
		if kv[1].Tag == "!!null" {
			fields[strings.Join(path, ".")] = true
			continue
		}
		collectNullPaths(kv[1], path, fields)
	}
}

// stripNulledKeys removes, in place, every key/value pair of node whose
// dotted path (rooted at prefix) is marked in fields, recursing into
// nested mappings so a deletion several levels deep also takes effect.
func stripNulledKeys(node *yaml.Node, prefix string, fields NullableFields) {
	if node == nil || node.Kind != yaml.MappingNode || len(fields) == 0 {
		return
	}
	kept := make([]*yaml.Node, 0, len(node.Content))
	for _, kv := range mapPairs(node) {
		k, v := kv[0], kv[1]
		var key string
		k.Decode(&key)
		path := prefix + "." + key
		if fields[path] {
			continue
		}
		stripNulledKeys(v, path, fields)
		kept = append(kept, k, v)
	}
	node.Content = kept
}

// NullableOverrides maps a top-level netdef ID or global keyword
// (`renderer`, `openvswitch`) to the basename of the one file allowed to
// define it. Per §4.1, any other file's definition of that ID is
// ignored outright, which supports "write only these settings, ignoring
// any prior definition" semantics for programmatic `set` operations.
type NullableOverrides map[string]string

// LoadNullableOverrides reads a nullable-overrides document: a flat
// mapping of netdef ID (or global keyword) to origin-hint filename.
func LoadNullableOverrides(src string) (NullableOverrides, error) {
	buf, err := ioutil.ReadFile(src)
	if err != nil {
		return nil, err
	}
	overrides := NullableOverrides{}
	if err := yaml.Unmarshal(buf, &overrides); err != nil {
		return nil, err
	}
	return overrides, nil
}

// allowed reports whether id may be defined by the file named file,
// given the origin-hint recorded in o. An ID with no entry is always
// allowed.
func (o NullableOverrides) allowed(id, file string) bool {
	hint, ok := o[id]
	if !ok {
		return true
	}
	return filepath.Base(file) == hint
}

// SetNullable attaches a nullable-fields set and/or a nullable-overrides
// map to n, to be applied the next time Read or Compile runs.
func (n *Netplan) SetNullable(fields NullableFields, overrides NullableOverrides) {
	n.nullableFields = fields
	n.nullableOverrides = overrides
}

func (n *Netplan) overridesAllow(id string) bool {
	if n.nullableOverrides == nil {
		return true
	}
	return n.nullableOverrides.allowed(id, n.file)
}
