// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package wasm loads plugins whose main is a WASI command module and runs
// them in-process on wazero.
//
// Every call instantiates the module fresh with argv[1] naming the action:
//
//	<name> hooks                   prints a JSON array of hook names (may print nothing)
//	<name> handle <method> <path>  reads an extension.Request, prints an extension.Response
//	<name> hook <hook-name>        reads an extension.Invocation; a non-zero exit aborts
//
// Payloads are JSON on stdin and stdout. Stderr becomes the error message
// when the guest exits non-zero. The plugin directory is mounted read-only
// at "/".
package wasm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"

	hostplugin "github.com/sigil-dev/plughost/internal/plugin"
	hosterr "github.com/sigil-dev/plughost/pkg/errors"
	"github.com/sigil-dev/plughost/pkg/extension"
)

// Loader compiles wasm entrypoints on a shared runtime.
type Loader struct {
	runtime     wazero.Runtime
	execTimeout time.Duration
	memoryPages uint32
}

// Option configures a Loader.
type Option func(*Loader)

// WithExecTimeout bounds each guest call. A zero or negative value means
// no timeout.
func WithExecTimeout(d time.Duration) Option {
	return func(l *Loader) {
		l.execTimeout = d
	}
}

// WithMemoryLimitPages caps guest linear memory. Zero keeps the wazero
// default.
func WithMemoryLimitPages(pages uint32) Option {
	return func(l *Loader) {
		l.memoryPages = pages
	}
}

// NewLoader creates the runtime and instantiates WASI on it. The runtime is
// configured with WithCloseOnContextDone(true) so a timeout interrupts a
// running guest.
func NewLoader(ctx context.Context, opts ...Option) (*Loader, error) {
	l := &Loader{}
	for _, o := range opts {
		o(l)
	}

	cfg := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if l.memoryPages > 0 {
		cfg = cfg.WithMemoryLimitPages(l.memoryPages)
	}
	l.runtime = wazero.NewRuntimeWithConfig(ctx, cfg)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, l.runtime); err != nil {
		_ = l.runtime.Close(ctx)
		return nil, hosterr.Wrap(err, hosterr.CodePluginRuntimeStartFailure, "instantiating WASI")
	}
	return l, nil
}

// ExecTimeout returns the configured per-call timeout (zero if unset).
func (l *Loader) ExecTimeout() time.Duration {
	return l.execTimeout
}

// Close releases the runtime and every module compiled on it.
func (l *Loader) Close(ctx context.Context) error {
	return l.runtime.Close(ctx)
}

func (l *Loader) Load(ctx context.Context, req hostplugin.LoadRequest) (hostplugin.Module, error) {
	fields := []hosterr.Attr{hosterr.FieldPlugin(req.Name)}

	dir, err := filepath.Abs(req.Dir)
	if err != nil {
		return nil, hosterr.Wrap(err, hosterr.CodePluginRuntimeStartFailure, "resolving plugin directory", fields...)
	}
	path := filepath.Join(dir, filepath.FromSlash(req.Manifest.Main))
	code, err := os.ReadFile(path)
	if err != nil {
		return nil, hosterr.Wrap(err, hosterr.CodePluginRuntimeStartFailure, "reading wasm entrypoint",
			append(fields, hosterr.FieldPath(path))...)
	}

	compiled, err := l.runtime.CompileModule(ctx, code)
	if err != nil {
		return nil, hosterr.Wrap(err, hosterr.CodePluginRuntimeStartFailure, "compiling wasm module",
			append(fields, hosterr.FieldPath(path))...)
	}

	g := &guest{
		name:     req.Namespace,
		dir:      dir,
		runtime:  l.runtime,
		compiled: compiled,
		timeout:  l.execTimeout,
	}
	mod, err := hostplugin.NewExtensionModule(ctx, req.Name, g, func() error {
		return compiled.Close(context.Background())
	})
	if err != nil {
		_ = compiled.Close(context.Background())
		return nil, err
	}
	return mod, nil
}

// guest implements extension.Extension by running the command module once
// per call.
type guest struct {
	name     string
	dir      string
	runtime  wazero.Runtime
	compiled wazero.CompiledModule
	timeout  time.Duration
}

func (g *guest) Hooks(ctx context.Context) ([]string, error) {
	out, err := g.run(ctx, nil, "hooks")
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(out)) == 0 {
		return nil, nil
	}
	var names []string
	if err := json.Unmarshal(out, &names); err != nil {
		return nil, hosterr.Wrap(err, hosterr.CodePluginRuntimeCallFailure, "decoding hook list",
			hosterr.FieldPlugin(g.name))
	}
	return names, nil
}

func (g *guest) Handle(ctx context.Context, req *extension.Request) (*extension.Response, error) {
	out, err := g.run(ctx, req, "handle", req.Method, req.Path)
	if err != nil {
		return nil, err
	}
	var resp extension.Response
	if err := json.Unmarshal(out, &resp); err != nil {
		return nil, hosterr.Wrap(err, hosterr.CodePluginRuntimeCallFailure, "decoding response",
			hosterr.FieldPlugin(g.name))
	}
	return &resp, nil
}

func (g *guest) RunHook(ctx context.Context, name string, inv *extension.Invocation) error {
	_, err := g.run(ctx, inv, "hook", name)
	return err
}

func (g *guest) run(ctx context.Context, input any, args ...string) ([]byte, error) {
	fields := []hosterr.Attr{hosterr.FieldPlugin(g.name), hosterr.Field("action", strings.Join(args, " "))}

	var stdin []byte
	if input != nil {
		var err error
		if stdin, err = json.Marshal(input); err != nil {
			return nil, hosterr.Wrap(err, hosterr.CodePluginRuntimeCallFailure, "encoding guest input", fields...)
		}
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cfg := wazero.NewModuleConfig().
		WithName("").
		WithArgs(append([]string{g.name}, args...)...).
		WithStdin(bytes.NewReader(stdin)).
		WithStdout(&stdout).
		WithStderr(&stderr).
		WithFSConfig(wazero.NewFSConfig().WithReadOnlyDirMount(g.dir, "/"))

	mod, err := g.runtime.InstantiateModule(ctx, g.compiled, cfg)
	if mod != nil {
		_ = mod.Close(context.Background())
	}
	if err == nil {
		return stdout.Bytes(), nil
	}

	var exitErr *sys.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 0 {
		return stdout.Bytes(), nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		msg := "wasm guest call deadline exceeded"
		if g.timeout > 0 {
			msg = "wasm guest exceeded " + g.timeout.String()
		}
		return nil, hosterr.Wrap(err, hosterr.CodeExecTimeout, msg, fields...)
	}

	if msg := strings.TrimSpace(stderr.String()); msg != "" {
		return nil, hosterr.New(hosterr.CodePluginRuntimeCallFailure, "wasm guest failed: "+msg, fields...)
	}
	return nil, hosterr.Wrap(err, hosterr.CodePluginRuntimeCallFailure, "wasm guest failed", fields...)
}
