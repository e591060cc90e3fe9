// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package plugin

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sigil-dev/plughost/internal/plugin/hooks"
	"github.com/sigil-dev/plughost/internal/plugin/source"
	hosterr "github.com/sigil-dev/plughost/pkg/errors"
)

// bootstrapMu serializes passes over the plugins root.
var bootstrapMu sync.Mutex

// SourceResolver materializes a plugin source. *source.Resolver implements it.
type SourceResolver interface {
	Resolve(ctx context.Context, t source.Target) (string, error)
}

// Options wires one bootstrap pass.
type Options struct {
	Root       string
	Plugins    []Descriptor
	Operations []string

	Resolver   SourceResolver
	Installer  *Installer
	Mounter    *Mounter
	SelfTester *SelfTester
}

func (o Options) validate() error {
	switch {
	case strings.TrimSpace(o.Root) == "":
		return hosterr.New(hosterr.CodeConfigValidateInvalidValue, "plugins root must not be empty")
	case o.Resolver == nil:
		return hosterr.New(hosterr.CodeConfigValidateInvalidValue, "source resolver is required")
	case o.Installer == nil:
		return hosterr.New(hosterr.CodeConfigValidateInvalidValue, "installer is required")
	case o.Mounter == nil:
		return hosterr.New(hosterr.CodeConfigValidateInvalidValue, "mounter is required")
	}
	return nil
}

// Bootstrap runs reconcile, then resolve, install, mount, hook registration
// and the optional self-test for each plugin in configured order. Plugin
// failures are logged and isolated; an error is returned only when the host
// itself cannot proceed.
func Bootstrap(ctx context.Context, opts Options) (*Registry, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	bootstrapMu.Lock()
	defer bootstrapMu.Unlock()

	runID := uuid.NewString()
	log := slog.With("run_id", runID)
	log.Info("bootstrapping plugins", "root", opts.Root, "configured", len(opts.Plugins))

	plugins := acceptDescriptors(log, opts.Plugins)
	names := make([]string, len(plugins))
	for i, d := range plugins {
		names[i] = d.Name
	}

	if _, err := Reconcile(opts.Root, names); err != nil {
		if _, statErr := os.Stat(opts.Root); statErr != nil {
			return nil, err
		}
		log.Warn("plugin reconciliation incomplete", "error", err)
	}

	b := &pass{
		opts:    opts,
		log:     log,
		router:  chi.NewRouter(),
		builder: hooks.NewBuilder(opts.Operations),
	}
	for _, d := range plugins {
		if err := ctx.Err(); err != nil {
			b.closeModules()
			return nil, hosterr.Wrap(err, hosterr.CodeServerInternalFailure, "bootstrap cancelled")
		}
		b.process(ctx, d)
	}

	reg := &Registry{
		runID:    runID,
		records:  b.records,
		statuses: b.statuses,
		table:    b.builder.Build(),
		router:   b.router,
		modules:  b.modules,
	}
	log.Info("plugins bootstrapped", "loaded", len(reg.records), "configured", len(opts.Plugins))
	return reg, nil
}

// acceptDescriptors drops invalid descriptors and later duplicates of a
// namespace, keeping configured order.
func acceptDescriptors(log *slog.Logger, in []Descriptor) []Descriptor {
	seen := make(map[string]string, len(in))
	out := make([]Descriptor, 0, len(in))
	for _, d := range in {
		if err := d.Validate(); err != nil {
			log.Warn("skipping plugin: invalid descriptor", "plugin", d.Name, "error", err)
			continue
		}
		if prev, dup := seen[d.Namespace()]; dup {
			log.Warn("skipping plugin: namespace already taken",
				"plugin", d.Name, "namespace", d.Namespace(), "taken_by", prev)
			continue
		}
		seen[d.Namespace()] = d.Name
		out = append(out, d)
	}
	return out
}

// pass accumulates the results of one bootstrap.
type pass struct {
	opts     Options
	log      *slog.Logger
	router   chi.Router
	builder  *hooks.Builder
	records  []Record
	statuses []Status
	modules  []namedModule
}

func (b *pass) process(ctx context.Context, d Descriptor) {
	inst := NewInstance(d.Name, StateConfigured)
	log := b.log.With("plugin", d.Name, "namespace", d.Namespace())
	defer func() { b.statuses = append(b.statuses, inst.Status()) }()

	fail := func(msg string, err error) {
		log.Warn(msg, "state", inst.State().String(), "error", err)
		if ferr := inst.Fail(err); ferr != nil {
			log.Error("recording plugin failure", "error", ferr)
		}
	}
	advance := func(to PluginState) {
		if err := inst.TransitionTo(to); err != nil {
			log.Error("plugin state transition", "error", err)
		}
	}

	dir, err := b.opts.Resolver.Resolve(ctx, d.Target())
	if err != nil {
		fail("plugin source not resolved", err)
		return
	}
	advance(StateResolved)

	manifest, err := LoadManifest(dir)
	if err != nil {
		fail("plugin manifest invalid", err)
		return
	}

	if err := b.opts.Installer.Install(ctx, d.Name, dir, manifest); err != nil {
		log.Warn("plugin install failed, attempting mount anyway", "error", err)
	} else {
		advance(StateInstalled)
	}

	mod, err := b.opts.Mounter.Mount(ctx, b.router, dir, manifest, d.Name)
	if err != nil {
		log.Error("plugin not mounted", "error", err)
		if ferr := inst.Fail(err); ferr != nil {
			log.Error("recording plugin failure", "error", ferr)
		}
		return
	}
	advance(StateMounted)
	b.modules = append(b.modules, namedModule{name: d.Name, mod: mod})
	b.records = append(b.records, Record{Name: d.Namespace(), Title: title(d, manifest)})
	log.Info("plugin mounted", "path", "/"+d.Namespace())

	entries, err := hooks.LoadManifest(dir)
	if err != nil {
		log.Warn("middleware manifest ignored", "error", err)
	} else if len(entries) > 0 {
		applied := b.builder.Register(d.Name, entries, mod)
		log.Info("plugin middleware registered", "declared", len(entries), "applied", applied)
	}

	if d.TestOnStartup {
		b.selfTest(ctx, log, d.Namespace())
	}
}

func (b *pass) selfTest(ctx context.Context, log *slog.Logger, namespace string) {
	if b.opts.SelfTester == nil {
		log.Warn("self-test requested but no test runner is configured")
		return
	}
	if err := b.opts.SelfTester.Run(ctx, namespace); err != nil {
		log.Warn("plugin self-test failed", "error", err)
		return
	}
	log.Info("plugin self-test passed")
}

func (b *pass) closeModules() {
	for i := len(b.modules) - 1; i >= 0; i-- {
		if err := b.modules[i].mod.Close(); err != nil {
			b.log.Error("closing plugin", "plugin", b.modules[i].name, "error", err)
		}
	}
}

func title(d Descriptor, m *Manifest) string {
	switch {
	case d.Title != "":
		return d.Title
	case m.Title != "":
		return m.Title
	default:
		return d.Name
	}
}
