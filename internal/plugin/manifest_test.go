// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package plugin_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sigil-dev/plughost/internal/plugin"
	hosterr "github.com/sigil-dev/plughost/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseManifest_Valid(t *testing.T) {
	data := []byte(`
main: bin/alpha
title: Alpha
engine: ">= 1.0.0, < 2.0.0"
dependencies:
  github.com/go-chi/chi/v5: v5.2.5
  legacy: 1.2
scripts:
  build: go build -o bin/alpha .
`)
	m, err := plugin.ParseManifest(data)
	require.NoError(t, err)

	assert.Equal(t, "bin/alpha", m.Main)
	assert.Equal(t, "Alpha", m.Title)
	assert.Equal(t, "v5.2.5", m.Dependencies["github.com/go-chi/chi/v5"])
	assert.Equal(t, "1.2", m.Dependencies["legacy"])
	assert.Equal(t, "go build -o bin/alpha .", m.Scripts.Build)
	assert.True(t, m.HasDependencies())
	assert.False(t, m.IsBuiltin())
}

func TestParseManifest_Builtin(t *testing.T) {
	m, err := plugin.ParseManifest([]byte("main: builtin:echo\n"))
	require.NoError(t, err)
	assert.True(t, m.IsBuiltin())
	assert.False(t, m.IsWasm())
	assert.Equal(t, "echo", m.BuiltinID())
	assert.False(t, m.HasDependencies())
}

func TestManifest_IsWasm(t *testing.T) {
	tests := []struct {
		main string
		want bool
	}{
		{"dist/guest.wasm", true},
		{"Guest.WASM", true},
		{"bin/guest", false},
		{"builtin:guest.wasm", false},
	}
	for _, tt := range tests {
		t.Run(tt.main, func(t *testing.T) {
			m := &plugin.Manifest{Main: tt.main}
			assert.Equal(t, tt.want, m.IsWasm())
		})
	}
}

func TestParseManifest_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"empty document", ""},
		{"missing main", "title: Alpha\n"},
		{"main not a string", "main: [a, b]\n"},
		{"empty main", "main: \"\"\n"},
		{"main escapes plugin dir", "main: ../other/bin\n"},
		{"absolute main", "main: /usr/bin/env\n"},
		{"builtin without id", "main: \"builtin:\"\n"},
		{"dependencies not a map", "main: a\ndependencies: [x]\n"},
		{"build not a string", "main: a\nscripts:\n  build: [go, build]\n"},
		{"bad engine", "main: a\nengine: not-a-version\n"},
		{"broken yaml", "main: [unterminated\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := plugin.ParseManifest([]byte(tt.data))
			require.Error(t, err)
			assert.True(t, hosterr.HasCode(err, hosterr.CodePluginManifestValidateInvalid), "code = %s", hosterr.CodeOf(err))
		})
	}
}

func TestParseManifest_ReportsEveryProblem(t *testing.T) {
	_, err := plugin.ParseManifest([]byte("main: ../other/bin\nengine: not-a-version\n"))
	require.Error(t, err)
	assert.True(t, hosterr.HasCode(err, hosterr.CodePluginManifestValidateInvalid), "code = %s", hosterr.CodeOf(err))
	assert.Contains(t, err.Error(), "main must be a path inside the plugin directory")
	assert.Contains(t, err.Error(), "engine \"not-a-version\" is not a version constraint")
}

func TestManifest_CheckEngine(t *testing.T) {
	m := &plugin.Manifest{Main: "a", Engine: "^1.2.0"}

	assert.NoError(t, m.CheckEngine("1.4.0"))
	assert.NoError(t, m.CheckEngine("dev"), "non-semver host versions skip the check")

	err := m.CheckEngine("2.0.0")
	require.Error(t, err)
	assert.True(t, hosterr.HasCode(err, hosterr.CodePluginManifestEngineMismatch))

	assert.NoError(t, (&plugin.Manifest{Main: "a"}).CheckEngine("0.0.1"))
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()

	_, err := plugin.LoadManifest(dir)
	require.Error(t, err)
	assert.True(t, hosterr.HasCode(err, hosterr.CodePluginManifestReadFailure))

	require.NoError(t, os.WriteFile(filepath.Join(dir, plugin.ManifestFile), []byte("title: x\n"), 0o644))
	_, err = plugin.LoadManifest(dir)
	require.Error(t, err)
	assert.Equal(t, filepath.Join(dir, plugin.ManifestFile), hosterr.FieldsOf(err)["path"])

	require.NoError(t, os.WriteFile(filepath.Join(dir, plugin.ManifestFile), []byte("main: index\n"), 0o644))
	m, err := plugin.LoadManifest(dir)
	require.NoError(t, err)
	assert.Equal(t, "index", m.Main)
}
