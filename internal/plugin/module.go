// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package plugin

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sigil-dev/plughost/internal/plugin/hooks"
	hosterr "github.com/sigil-dev/plughost/pkg/errors"
	"github.com/sigil-dev/plughost/pkg/extension"
)

// maxRequestBody caps request bodies forwarded to a plugin.
const maxRequestBody = 10 << 20

// Module is a loaded plugin: an HTTP handler mounted under its namespace
// plus the hooks it can resolve by name.
type Module interface {
	http.Handler
	hooks.Resolver
	Close() error
}

// LoadRequest carries everything a Loader needs to load one plugin.
type LoadRequest struct {
	Name      string
	Namespace string
	Dir       string
	Manifest  *Manifest
}

// Loader turns a materialized plugin into a Module.
type Loader interface {
	Load(ctx context.Context, req LoadRequest) (Module, error)
}

// extensionModule adapts an extension.Extension to Module.
type extensionModule struct {
	name  string
	ext   extension.Extension
	hooks map[string]bool
	close func() error
}

// NewExtensionModule wraps ext. closer, when non-nil, runs on Close.
func NewExtensionModule(ctx context.Context, name string, ext extension.Extension, closer func() error) (Module, error) {
	names, err := ext.Hooks(ctx)
	if err != nil {
		return nil, hosterr.Wrap(err, hosterr.CodePluginRuntimeCallFailure, "listing plugin hooks",
			hosterr.FieldPlugin(name))
	}

	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return &extensionModule{name: name, ext: ext, hooks: set, close: closer}, nil
}

func (m *extensionModule) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePath != "" {
		path = rctx.RoutePath
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}

	resp, err := m.ext.Handle(r.Context(), &extension.Request{
		Method:   r.Method,
		Path:     path,
		RawQuery: r.URL.RawQuery,
		Header:   r.Header.Clone(),
		Body:     body,
	})
	if err != nil {
		slog.Error("plugin request failed",
			"plugin", m.name, "method", r.Method, "path", path,
			"error", hosterr.Wrap(err, hosterr.CodePluginRuntimeCallFailure, "handling request"))
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}

	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(resp.Body)
}

func (m *extensionModule) Hook(name string) (hooks.Hook, bool) {
	if !m.hooks[name] {
		return nil, false
	}
	return func(ctx context.Context, inv *extension.Invocation) error {
		return m.ext.RunHook(ctx, name, inv)
	}, true
}

func (m *extensionModule) Close() error {
	if m.close == nil {
		return nil
	}
	return m.close()
}
