// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package execx runs the external commands the plugin host depends on
// (git clone, dependency install, build scripts, self-tests).
package execx

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	hosterr "github.com/sigil-dev/plughost/pkg/errors"
)

const waitDelay = 2 * time.Second

// Command describes one external process invocation.
type Command struct {
	Name string
	Args []string
	// Dir is the working directory. Empty means the host's working directory.
	Dir string
	// Env entries are appended to the host environment.
	Env []string
}

func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Runner executes commands synchronously. Output is returned for logging
// only; callers must not branch on its content.
type Runner interface {
	Run(ctx context.Context, cmd Command) (string, error)
}

// ExecRunner runs commands with os/exec. A zero Timeout leaves commands
// unbounded, so a hung plugin script stalls the caller until ctx is done.
type ExecRunner struct {
	Timeout time.Duration
}

func (r ExecRunner) Run(ctx context.Context, c Command) (string, error) {
	if strings.TrimSpace(c.Name) == "" {
		return "", hosterr.New(hosterr.CodeExecCommandFailure, "command name must not be empty")
	}

	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	// Children of a killed shell can hold the output pipe open.
	cmd.WaitDelay = waitDelay
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}

	output, err := cmd.CombinedOutput()
	trimmed := strings.TrimSpace(string(output))
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return trimmed, hosterr.Errorf(hosterr.CodeExecTimeout,
				"running %s: timed out after %s", c, r.Timeout)
		}
		return trimmed, hosterr.Wrapf(err, hosterr.CodeExecCommandFailure,
			"running %s: %s", c, trimmed)
	}
	return trimmed, nil
}

// Shell wraps a script line in the platform shell.
func Shell(script string) Command {
	return shellFor(runtime.GOOS, script)
}

func shellFor(goos, script string) Command {
	if goos == "windows" {
		return Command{Name: "cmd", Args: []string{"/C", script}}
	}
	return Command{Name: "sh", Args: []string{"-c", script}}
}
