// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package plugin

import (
	"context"
	"sort"
	"sync"

	hosterr "github.com/sigil-dev/plughost/pkg/errors"
	"github.com/sigil-dev/plughost/pkg/extension"
)

// Factory builds a compiled-in extension.
type Factory func() (extension.Extension, error)

// BuiltinLoader serves plugins whose main is "builtin:<id>".
type BuiltinLoader struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewBuiltinLoader() *BuiltinLoader {
	return &BuiltinLoader{factories: make(map[string]Factory)}
}

// Register adds a factory under id, replacing any previous one.
func (l *BuiltinLoader) Register(id string, f Factory) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.factories[id] = f
}

// IDs returns the registered ids, sorted.
func (l *BuiltinLoader) IDs() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := make([]string, 0, len(l.factories))
	for id := range l.factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (l *BuiltinLoader) Load(ctx context.Context, req LoadRequest) (Module, error) {
	id := req.Manifest.BuiltinID()

	l.mu.RLock()
	f, ok := l.factories[id]
	l.mu.RUnlock()
	if !ok {
		return nil, hosterr.New(hosterr.CodePluginLoaderNotFound, "no builtin module registered",
			hosterr.FieldPlugin(req.Name), hosterr.Field("module", id))
	}

	ext, err := f()
	if err != nil {
		return nil, hosterr.Wrap(err, hosterr.CodePluginRuntimeStartFailure, "building builtin module",
			hosterr.FieldPlugin(req.Name), hosterr.Field("module", id))
	}
	return NewExtensionModule(ctx, req.Name, ext, nil)
}

// DispatchLoader picks the builtin loader for "builtin:" mains, the wasm
// loader for ".wasm" mains, and the process loader for everything else.
type DispatchLoader struct {
	Builtin Loader
	Wasm    Loader
	Process Loader
}

func (d DispatchLoader) Load(ctx context.Context, req LoadRequest) (Module, error) {
	next := d.Process
	kind := "process"
	switch {
	case req.Manifest.IsBuiltin():
		next, kind = d.Builtin, "builtin"
	case req.Manifest.IsWasm():
		next, kind = d.Wasm, "wasm"
	}
	if next == nil {
		return nil, hosterr.Errorf(hosterr.CodePluginLoaderNotFound, "no %s loader configured", kind)
	}
	return next.Load(ctx, req)
}
