// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package plugin

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-chi/chi/v5"
	hosterr "github.com/sigil-dev/plughost/pkg/errors"
)

// Mounter loads plugin entrypoints and attaches them to a router.
type Mounter struct {
	loader      Loader
	hostVersion string
}

func NewMounter(loader Loader, hostVersion string) *Mounter {
	return &Mounter{loader: loader, hostVersion: hostVersion}
}

// Mount loads the module for name and mounts it under /<namespace> of router.
// Load errors and panics are returned as mount failures; router is left
// unchanged in that case.
func (m *Mounter) Mount(ctx context.Context, router chi.Router, dir string, manifest *Manifest, name string) (Module, error) {
	d := Descriptor{Name: name}
	ns := d.Namespace()
	fail := func(err error, msg string) error {
		return hosterr.Wrap(err, hosterr.CodePluginMountFailure, msg,
			hosterr.FieldPlugin(name), hosterr.Field("namespace", ns))
	}

	if err := manifest.CheckEngine(m.hostVersion); err != nil {
		return nil, fail(err, "checking engine constraint")
	}
	if m.loader == nil {
		return nil, fail(hosterr.New(hosterr.CodePluginLoaderNotFound, "no loader configured"), "loading plugin")
	}

	mod, err := m.load(ctx, LoadRequest{Name: name, Namespace: ns, Dir: dir, Manifest: manifest})
	if err != nil {
		return nil, fail(err, "loading plugin")
	}

	if err := attach(router, "/"+ns, mod); err != nil {
		if cerr := mod.Close(); cerr != nil {
			slog.Error("closing unmounted plugin", "plugin", name, "error", cerr)
		}
		return nil, fail(err, "mounting plugin routes")
	}
	return mod, nil
}

func (m *Mounter) load(ctx context.Context, req LoadRequest) (mod Module, err error) {
	defer func() {
		if r := recover(); r != nil {
			mod, err = nil, hosterr.Errorf(hosterr.CodePluginRuntimeStartFailure, "panic while loading: %v", r)
		}
	}()
	mod, err = m.loader.Load(ctx, req)
	if err == nil && mod == nil {
		err = hosterr.New(hosterr.CodePluginRuntimeStartFailure, "loader returned no module")
	}
	return mod, err
}

// attach converts chi's duplicate-mount panic into an error.
func attach(router chi.Router, pattern string, mod Module) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()
	router.Mount(pattern, mod)
	return nil
}
