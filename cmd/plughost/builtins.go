// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/sigil-dev/plughost/internal/plugin"
	"github.com/sigil-dev/plughost/pkg/extension"
)

// builtinLoader registers the modules compiled into the binary. A plugin
// selects one with `main: builtin:<id>` in plugin.yaml.
func builtinLoader() *plugin.BuiltinLoader {
	l := plugin.NewBuiltinLoader()
	l.Register("echo", newEchoExtension)
	return l
}

// newEchoExtension answers every request with a JSON description of it and
// offers a "log" hook that records invocations. It is useful for smoke
// testing a deployment's routing and middleware configuration.
func newEchoExtension() (extension.Extension, error) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"method": r.Method,
			"path":   r.URL.Path,
			"query":  r.URL.RawQuery,
		})
	})

	return extension.New(h, map[string]extension.HookFunc{
		"log": func(ctx context.Context, inv *extension.Invocation) error {
			slog.InfoContext(ctx, "operation invoked",
				"operation", inv.Operation, "phase", string(inv.Phase), "path", inv.Path)
			return nil
		},
	}), nil
}
