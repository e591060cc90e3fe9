// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/sigil-dev/plughost/internal/config"
	"github.com/sigil-dev/plughost/internal/plugin"
	"github.com/sigil-dev/plughost/internal/plugin/execx"
	"github.com/sigil-dev/plughost/internal/plugin/goplugin"
	"github.com/sigil-dev/plughost/internal/plugin/source"
	"github.com/sigil-dev/plughost/internal/plugin/wasm"
	"github.com/sigil-dev/plughost/internal/server"
	hosterr "github.com/sigil-dev/plughost/pkg/errors"
)

func (c *cli) newStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Bootstrap plugins and start the HTTP server",
		Long:  "Reconcile the plugins root, resolve, install, and mount every configured plugin, then serve the API until interrupted.",
		RunE:  c.runStart,
	}

	cmd.Flags().String("listen", "", "override listen address (host:port)")

	return cmd
}

func (c *cli) runStart(cmd *cobra.Command, _ []string) error {
	if err := c.v.BindPFlag("networking.listen", cmd.Flags().Lookup("listen")); err != nil {
		return hosterr.Errorf(hosterr.CodeCLISetupFailure, "binding listen flag: %w", err)
	}

	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h, err := buildHost(ctx, cfg, c.v.GetBool("verbose"))
	if err != nil {
		return err
	}
	defer func() {
		if err := h.Close(); err != nil {
			slog.Warn("closing plugins", "error", err)
		}
	}()

	slog.Info("starting plughost", "listen", cfg.Networking.Listen, "plugins", len(h.reg.Loaded()))
	return h.srv.Start(ctx)
}

// host is a bootstrapped server with the resources backing its plugins.
type host struct {
	srv  *server.Server
	reg  *plugin.Registry
	wasm *wasm.Loader
}

// Close shuts every plugin down before releasing the wasm runtime.
func (h *host) Close() error {
	var errs []error
	if h.reg != nil {
		errs = append(errs, h.reg.Close())
	}
	if h.wasm != nil {
		errs = append(errs, h.wasm.Close(context.Background()))
	}
	return hosterr.Join(errs...)
}

// buildHost wires the bootstrap pass and the HTTP server from cfg.
func buildHost(ctx context.Context, cfg *config.Config, verbose bool) (*host, error) {
	pages, err := cfg.Wasm.MemoryLimitPages()
	if err != nil {
		return nil, err
	}
	wasmLoader, err := wasm.NewLoader(ctx,
		wasm.WithExecTimeout(cfg.Wasm.Timeout),
		wasm.WithMemoryLimitPages(pages))
	if err != nil {
		return nil, err
	}
	h := &host{wasm: wasmLoader}

	opts, err := bootstrapOptions(cfg, newLoader(cfg, wasmLoader, verbose))
	if err != nil {
		_ = h.Close()
		return nil, err
	}

	h.reg, err = plugin.Bootstrap(ctx, opts)
	if err != nil {
		_ = h.Close()
		return nil, err
	}

	h.srv, err = server.New(server.Config{
		ListenAddr:  cfg.Networking.Listen,
		CORSOrigins: cfg.Networking.CORSOrigins,
		Version:     version,
	})
	if err == nil {
		err = h.srv.RegisterPlugins(h.reg)
	}
	if err != nil {
		_ = h.Close()
		return nil, err
	}
	return h, nil
}

func bootstrapOptions(cfg *config.Config, loader plugin.Loader) (plugin.Options, error) {
	runner := execx.ExecRunner{Timeout: cfg.Exec.Timeout}

	resolver, err := source.NewResolver(source.Options{
		Root:            cfg.PluginsDir,
		Runner:          runner,
		Proxy:           cfg.Proxy,
		DownloadTimeout: cfg.Exec.Timeout,
	})
	if err != nil {
		return plugin.Options{}, err
	}

	return plugin.Options{
		Root:       cfg.PluginsDir,
		Plugins:    cfg.Descriptors(),
		Operations: server.ExtensibleOperations(),
		Resolver:   resolver,
		Installer:  plugin.NewInstaller(runner, cfg.Exec.InstallCommand),
		Mounter:    plugin.NewMounter(loader, cfg.HostVersion),
		SelfTester: plugin.NewSelfTester(runner, cfg.SelfTest.Command, cfg.SelfTest.Dir),
	}, nil
}

func newLoader(cfg *config.Config, wasmLoader *wasm.Loader, verbose bool) plugin.Loader {
	level := hclog.Info
	if verbose {
		level = hclog.Debug
	}

	opts := goplugin.Options{
		SocketDir: cfg.Sandbox.SocketDir,
		Logger: hclog.New(&hclog.LoggerOptions{
			Name:   "plugin",
			Output: os.Stderr,
			Level:  level,
		}),
	}
	if cfg.Sandbox.Enabled {
		policy := cfg.Sandbox.Policy
		opts.Sandbox = &policy
	}

	return plugin.DispatchLoader{
		Builtin: builtinLoader(),
		Wasm:    wasmLoader,
		Process: goplugin.NewLoader(opts),
	}
}
