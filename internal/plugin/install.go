// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package plugin

import (
	"context"
	"log/slog"
	"slices"

	"github.com/sigil-dev/plughost/internal/plugin/execx"
	hosterr "github.com/sigil-dev/plughost/pkg/errors"
)

// DefaultInstallCommand fetches a Go plugin's module dependencies.
var DefaultInstallCommand = []string{"go", "mod", "download"}

// Installer runs a plugin's dependency install and build steps.
type Installer struct {
	runner  execx.Runner
	install []string
}

// NewInstaller returns an Installer. An empty installCommand selects
// DefaultInstallCommand.
func NewInstaller(runner execx.Runner, installCommand []string) *Installer {
	if runner == nil {
		runner = execx.ExecRunner{}
	}
	if len(installCommand) == 0 {
		installCommand = DefaultInstallCommand
	}
	return &Installer{runner: runner, install: slices.Clone(installCommand)}
}

// Install runs the dependency install (when dependencies are declared) and
// then the build script (when set) in dir. Both steps run even if the first
// fails; every failure is returned joined.
func (i *Installer) Install(ctx context.Context, name, dir string, m *Manifest) error {
	var errs []error

	if m.HasDependencies() {
		cmd := execx.Command{Name: i.install[0], Args: slices.Clone(i.install[1:]), Dir: dir}
		out, err := i.runner.Run(ctx, cmd)
		slog.Debug("plugin install output", "plugin", name, "command", cmd.String(), "output", out)
		if err != nil {
			errs = append(errs, hosterr.Wrap(err, hosterr.CodePluginInstallFailure, "installing dependencies",
				hosterr.FieldPlugin(name)))
		}
	}

	if m.Scripts.Build != "" {
		cmd := execx.Shell(m.Scripts.Build)
		cmd.Dir = dir
		out, err := i.runner.Run(ctx, cmd)
		slog.Debug("plugin build output", "plugin", name, "command", cmd.String(), "output", out)
		if err != nil {
			errs = append(errs, hosterr.Wrap(err, hosterr.CodePluginBuildFailure, "running build script",
				hosterr.FieldPlugin(name)))
		}
	}

	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	default:
		return hosterr.Wrap(hosterr.Join(errs...), hosterr.CodePluginInstallFailure, "installing plugin",
			hosterr.FieldPlugin(name))
	}
}
