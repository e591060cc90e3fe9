// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package plugin

import (
	"log/slog"
	"net/http"
	"slices"
	"sync"

	"github.com/sigil-dev/plughost/internal/plugin/hooks"
	hosterr "github.com/sigil-dev/plughost/pkg/errors"
)

// Registry is the result of one bootstrap pass. It is read-only once
// returned; only Close mutates it.
type Registry struct {
	runID    string
	records  []Record
	statuses []Status
	table    *hooks.Table
	router   http.Handler
	modules  []namedModule

	closeOnce sync.Once
	closeErr  error
}

type namedModule struct {
	name string
	mod  Module
}

// RunID identifies the bootstrap pass in logs.
func (r *Registry) RunID() string {
	return r.runID
}

// Loaded returns the mounted plugins in processing order.
func (r *Registry) Loaded() []Record {
	return slices.Clone(r.records)
}

// Statuses returns the final lifecycle state of every configured plugin.
func (r *Registry) Statuses() []Status {
	return slices.Clone(r.statuses)
}

// Hooks returns the frozen hook table.
func (r *Registry) Hooks() *hooks.Table {
	return r.table
}

// Router serves /<namespace>/... for every mounted plugin.
func (r *Registry) Router() http.Handler {
	return r.router
}

// Close shuts down every loaded module. It is safe to call more than once.
func (r *Registry) Close() error {
	r.closeOnce.Do(func() {
		var errs []error
		for i := len(r.modules) - 1; i >= 0; i-- {
			m := r.modules[i]
			if err := m.mod.Close(); err != nil {
				slog.Error("closing plugin", "plugin", m.name, "error", err)
				errs = append(errs, hosterr.With(err, hosterr.FieldPlugin(m.name)))
			}
		}
		r.closeErr = hosterr.Join(errs...)
	})
	return r.closeErr
}
