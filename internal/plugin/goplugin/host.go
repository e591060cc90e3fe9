// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package goplugin loads plugin entrypoints as separate processes speaking
// hashicorp/go-plugin gRPC, or net/rpc for plugins built with ServeNetRPC.
package goplugin

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"slices"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-plugin"

	hostplugin "github.com/sigil-dev/plughost/internal/plugin"
	"github.com/sigil-dev/plughost/internal/plugin/sandbox"
	hosterr "github.com/sigil-dev/plughost/pkg/errors"
	"github.com/sigil-dev/plughost/pkg/extension"
)

// ClientConfig returns the go-plugin client configuration for binaryPath,
// optionally prefixed by a sandbox command.
func ClientConfig(binaryPath, dir string, sandboxCmd []string, logger hclog.Logger) *plugin.ClientConfig {
	cmd := buildCommand(binaryPath, sandboxCmd)
	cmd.Dir = dir

	return &plugin.ClientConfig{
		HandshakeConfig:  extension.HandshakeConfig(),
		Plugins:          extension.PluginMap(nil),
		Cmd:              cmd,
		AllowedProtocols: []plugin.Protocol{plugin.ProtocolGRPC, plugin.ProtocolNetRPC},
		Logger:           logger,
	}
}

func buildCommand(binaryPath string, sandboxCmd []string) *exec.Cmd {
	if len(sandboxCmd) == 0 {
		return exec.Command(binaryPath)
	}

	args := append(slices.Clone(sandboxCmd), binaryPath)
	return exec.Command(args[0], args[1:]...)
}

// Options configures a Loader.
type Options struct {
	// Sandbox wraps every plugin in bwrap when set.
	Sandbox *sandbox.Policy
	// SocketDir holds the go-plugin unix sockets. Empty uses the system
	// temp directory; it is required when Sandbox is set.
	SocketDir string
	// Logger receives plugin process output. Nil uses a default hclog logger.
	Logger hclog.Logger
}

// Loader starts plugin binaries and dispenses their extension over RPC.
type Loader struct {
	opts Options
}

func NewLoader(opts Options) *Loader {
	if opts.Logger == nil {
		opts.Logger = hclog.New(&hclog.LoggerOptions{
			Name:   "plugin",
			Output: os.Stderr,
			Level:  hclog.Info,
		})
	}
	return &Loader{opts: opts}
}

func (l *Loader) Load(ctx context.Context, req hostplugin.LoadRequest) (hostplugin.Module, error) {
	fields := []hosterr.Attr{hosterr.FieldPlugin(req.Name)}

	dir, err := filepath.Abs(req.Dir)
	if err != nil {
		return nil, hosterr.Wrap(err, hosterr.CodePluginRuntimeStartFailure, "resolving plugin directory", fields...)
	}
	binary := filepath.Join(dir, filepath.FromSlash(req.Manifest.Main))
	info, err := os.Stat(binary)
	if err != nil {
		return nil, hosterr.Wrap(err, hosterr.CodePluginRuntimeStartFailure, "locating plugin entrypoint",
			append(fields, hosterr.FieldPath(binary))...)
	}
	if info.IsDir() {
		return nil, hosterr.New(hosterr.CodePluginRuntimeStartFailure, "plugin entrypoint is a directory",
			append(fields, hosterr.FieldPath(binary))...)
	}

	var sandboxCmd []string
	if l.opts.Sandbox != nil {
		socketDir := l.opts.SocketDir
		if socketDir == "" {
			socketDir = os.TempDir()
		}
		sandboxCmd, err = sandbox.GenerateArgs(*l.opts.Sandbox, dir, socketDir)
		if err != nil {
			return nil, hosterr.With(err, fields...)
		}
	}

	cfg := ClientConfig(binary, dir, sandboxCmd, l.opts.Logger.Named(req.Namespace))
	if l.opts.SocketDir != "" {
		cfg.UnixSocketConfig = &plugin.UnixSocketConfig{TempDir: l.opts.SocketDir}
	}

	client := plugin.NewClient(cfg)
	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, hosterr.Wrap(err, hosterr.CodePluginRuntimeStartFailure, "starting plugin process", fields...)
	}

	raw, err := rpcClient.Dispense(extension.PluginName)
	if err != nil {
		client.Kill()
		return nil, hosterr.Wrap(err, hosterr.CodePluginRuntimeStartFailure, "dispensing plugin", fields...)
	}
	ext, ok := raw.(extension.Extension)
	if !ok {
		client.Kill()
		return nil, hosterr.New(hosterr.CodePluginRuntimeStartFailure, "plugin does not implement the extension interface", fields...)
	}

	mod, err := hostplugin.NewExtensionModule(ctx, req.Name, ext, func() error {
		client.Kill()
		return nil
	})
	if err != nil {
		client.Kill()
		return nil, err
	}
	return mod, nil
}
