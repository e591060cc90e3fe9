// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package hooks

import (
	"os"
	"path/filepath"

	hosterr "github.com/sigil-dev/plughost/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ManifestFile is the middleware manifest looked up in each plugin directory.
const ManifestFile = "middleware.yaml"

const (
	keyPre  = "pre"
	keyPost = "post"
)

// Entry is one operation declared in a middleware manifest, in document
// order. Keys holds every key found under the operation, supported or not.
// Err is set when the entry is structurally malformed (for example a hook
// name that is not a string).
type Entry struct {
	Operation string
	Keys      []string
	Pre       string
	Post      string
	Err       error
}

// LoadManifest reads middleware.yaml from dir. A missing file is not an
// error: the plugin simply declares no hooks.
func LoadManifest(dir string) ([]Entry, error) {
	path := filepath.Join(dir, ManifestFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, hosterr.Wrap(err, hosterr.CodePluginHooksInvalid, "reading middleware manifest",
			hosterr.FieldPath(path))
	}
	return ParseManifest(data)
}

// ParseManifest decodes a middleware manifest preserving declaration order.
// Only the document shape is checked here; per-entry validation happens in
// Builder.Register so one bad entry never discards the others.
func ParseManifest(data []byte) ([]Entry, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, hosterr.Wrap(err, hosterr.CodePluginHooksInvalid, "parsing middleware manifest")
	}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return nil, nil
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, hosterr.New(hosterr.CodePluginHooksInvalid,
			"middleware manifest must be a mapping of operation to hooks")
	}

	entries := make([]Entry, 0, len(root.Content)/2)
	for i := 0; i+1 < len(root.Content); i += 2 {
		entries = append(entries, parseEntry(root.Content[i].Value, root.Content[i+1]))
	}
	return entries, nil
}

func parseEntry(op string, node *yaml.Node) Entry {
	e := Entry{Operation: op}
	if node.Kind != yaml.MappingNode {
		e.Err = hosterr.Errorf(hosterr.CodePluginHooksInvalid,
			"operation %q: expected a mapping with pre/post, line %d", op, node.Line)
		return e
	}

	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i].Value, node.Content[i+1]
		e.Keys = append(e.Keys, key)

		if key != keyPre && key != keyPost {
			continue
		}
		if val.Kind != yaml.ScalarNode || val.Tag != "!!str" {
			e.Err = hosterr.Errorf(hosterr.CodePluginHooksInvalid,
				"operation %q: %s must be a hook name, line %d", op, key, val.Line)
			continue
		}
		if key == keyPre {
			e.Pre = val.Value
		} else {
			e.Post = val.Value
		}
	}
	return e
}

// unsupportedKeys returns the keys outside {pre, post}.
func (e Entry) unsupportedKeys() []string {
	var extra []string
	for _, k := range e.Keys {
		if k != keyPre && k != keyPost {
			extra = append(extra, k)
		}
	}
	return extra
}
