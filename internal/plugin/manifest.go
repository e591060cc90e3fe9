// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package plugin

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v6"
	hosterr "github.com/sigil-dev/plughost/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ManifestFile is the package file every plugin directory must contain.
const ManifestFile = "plugin.yaml"

// BuiltinPrefix marks a main entry that names a compiled-in module.
const BuiltinPrefix = "builtin:"

// WasmSuffix marks a main entry that is a WASI command module.
const WasmSuffix = ".wasm"

//go:embed schema/plugin.schema.json
var schemaBytes []byte

var (
	compiledSchema *jsonschema.Schema
	compileOnce    sync.Once
	compileErr     error
)

// Manifest is the parsed plugin.yaml.
type Manifest struct {
	Main         string            `yaml:"main"`
	Title        string            `yaml:"title,omitempty"`
	Engine       string            `yaml:"engine,omitempty"`
	Dependencies map[string]string `yaml:"dependencies,omitempty"`
	Scripts      Scripts           `yaml:"scripts,omitempty"`
}

// Scripts holds the optional lifecycle scripts.
type Scripts struct {
	Build string `yaml:"build,omitempty"`
}

// HasDependencies reports whether the install step must run.
func (m *Manifest) HasDependencies() bool {
	return len(m.Dependencies) > 0
}

// IsBuiltin reports whether main names a compiled-in module.
func (m *Manifest) IsBuiltin() bool {
	return strings.HasPrefix(m.Main, BuiltinPrefix)
}

// BuiltinID returns the module id for a builtin main.
func (m *Manifest) BuiltinID() string {
	return strings.TrimPrefix(m.Main, BuiltinPrefix)
}

// IsWasm reports whether main is a WebAssembly module.
func (m *Manifest) IsWasm() bool {
	return !m.IsBuiltin() && strings.HasSuffix(strings.ToLower(m.Main), WasmSuffix)
}

// LoadManifest reads and parses dir/plugin.yaml.
func LoadManifest(dir string) (*Manifest, error) {
	path := filepath.Join(dir, ManifestFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, hosterr.Wrap(err, hosterr.CodePluginManifestReadFailure, "reading plugin manifest",
			hosterr.FieldPath(path))
	}

	m, err := ParseManifest(data)
	if err != nil {
		return nil, hosterr.With(err, hosterr.FieldPath(path))
	}
	return m, nil
}

// ParseManifest validates data against the manifest schema and decodes it.
func ParseManifest(data []byte) (*Manifest, error) {
	if err := validateSchema(data); err != nil {
		return nil, err
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, hosterr.Errorf(hosterr.CodePluginManifestValidateInvalid,
			"manifest parse: %s", err)
	}

	if err := hosterr.Join(m.Validate()...); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks the fields the schema cannot express. It returns every
// problem found.
func (m *Manifest) Validate() []error {
	var errs []error

	switch {
	case strings.TrimSpace(m.Main) == "":
		errs = append(errs, hosterr.New(hosterr.CodePluginManifestValidateInvalid,
			"manifest validation: main must not be empty"))
	case m.IsBuiltin():
		if strings.TrimSpace(m.BuiltinID()) == "" {
			errs = append(errs, hosterr.New(hosterr.CodePluginManifestValidateInvalid,
				"manifest validation: builtin main must name a module id"))
		}
	case !filepath.IsLocal(filepath.FromSlash(m.Main)):
		errs = append(errs, hosterr.Errorf(hosterr.CodePluginManifestValidateInvalid,
			"manifest validation: main must be a path inside the plugin directory, got %q", m.Main))
	}

	if m.Engine != "" {
		if _, err := semver.NewConstraint(m.Engine); err != nil {
			errs = append(errs, hosterr.Errorf(hosterr.CodePluginManifestValidateInvalid,
				"manifest validation: engine %q is not a version constraint: %s", m.Engine, err))
		}
	}

	return errs
}

// CheckEngine verifies the host version satisfies the engine constraint.
// A host version that is not semver (for example "dev") skips the check.
func (m *Manifest) CheckEngine(hostVersion string) error {
	if m.Engine == "" {
		return nil
	}
	constraint, err := semver.NewConstraint(m.Engine)
	if err != nil {
		return hosterr.Wrapf(err, hosterr.CodePluginManifestValidateInvalid,
			"parsing engine constraint %q", m.Engine)
	}
	v, err := semver.NewVersion(hostVersion)
	if err != nil {
		return nil
	}
	if ok, reasons := constraint.Validate(v); !ok {
		msgs := make([]string, 0, len(reasons))
		for _, r := range reasons {
			msgs = append(msgs, r.Error())
		}
		return hosterr.New(hosterr.CodePluginManifestEngineMismatch,
			fmt.Sprintf("host version %s does not satisfy engine %q", v, m.Engine),
			hosterr.Field("reasons", strings.Join(msgs, "; ")))
	}
	return nil
}

func getSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaBytes))
		if err != nil {
			compileErr = fmt.Errorf("unmarshaling schema JSON: %w", err)
			return
		}

		c := jsonschema.NewCompiler()
		if err := c.AddResource("plugin.schema.json", doc); err != nil {
			compileErr = fmt.Errorf("adding schema resource: %w", err)
			return
		}
		compiledSchema, compileErr = c.Compile("plugin.schema.json")
	})
	return compiledSchema, compileErr
}

func validateSchema(data []byte) error {
	schema, err := getSchema()
	if err != nil {
		return hosterr.Wrap(err, hosterr.CodeServerInternalFailure, "loading manifest schema")
	}

	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return hosterr.Errorf(hosterr.CodePluginManifestValidateInvalid, "manifest parse: %s", err)
	}
	if raw == nil {
		return hosterr.New(hosterr.CodePluginManifestValidateInvalid, "manifest validation: manifest is empty")
	}

	jsonData, err := json.Marshal(normalizeYAML(raw))
	if err != nil {
		return hosterr.Errorf(hosterr.CodePluginManifestValidateInvalid, "manifest convert: %s", err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(jsonData))
	if err != nil {
		return hosterr.Errorf(hosterr.CodePluginManifestValidateInvalid, "manifest convert: %s", err)
	}

	if err := schema.Validate(inst); err != nil {
		return hosterr.Errorf(hosterr.CodePluginManifestValidateInvalid, "manifest validation: %s", err)
	}
	return nil
}

// normalizeYAML turns map[any]any nodes (non-string keys) into
// map[string]any so the document can be re-encoded as JSON.
func normalizeYAML(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			t[k] = normalizeYAML(val)
		}
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalizeYAML(val)
		}
		return out
	case []any:
		for i, val := range t {
			t[i] = normalizeYAML(val)
		}
		return t
	default:
		return v
	}
}
