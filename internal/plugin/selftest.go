// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package plugin

import (
	"context"
	"log/slog"
	"strings"

	"github.com/sigil-dev/plughost/internal/plugin/execx"
	hosterr "github.com/sigil-dev/plughost/pkg/errors"
)

// NamespacePlaceholder is replaced by the plugin namespace in the
// self-test command.
const NamespacePlaceholder = "{namespace}"

// SelfTester runs the external test runner scoped to one namespace.
type SelfTester struct {
	runner  execx.Runner
	command []string
	dir     string
}

// NewSelfTester splits command on whitespace. The command runs without a
// shell so a namespace can never inject extra arguments or commands.
func NewSelfTester(runner execx.Runner, command, dir string) *SelfTester {
	if runner == nil {
		runner = execx.ExecRunner{}
	}
	return &SelfTester{runner: runner, command: strings.Fields(command), dir: dir}
}

// Run invokes the test runner for namespace and waits for it.
func (s *SelfTester) Run(ctx context.Context, namespace string) error {
	if len(s.command) == 0 {
		return hosterr.New(hosterr.CodePluginSelfTestFailure, "no self-test command configured",
			hosterr.Field("namespace", namespace))
	}

	args := make([]string, len(s.command))
	for i, a := range s.command {
		args[i] = strings.ReplaceAll(a, NamespacePlaceholder, namespace)
	}
	cmd := execx.Command{Name: args[0], Args: args[1:], Dir: s.dir}

	out, err := s.runner.Run(ctx, cmd)
	slog.Debug("plugin self-test output", "namespace", namespace, "command", cmd.String(), "output", out)
	if err != nil {
		return hosterr.Wrap(err, hosterr.CodePluginSelfTestFailure, "running self-test",
			hosterr.Field("namespace", namespace))
	}
	return nil
}
