// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package sandbox builds the bwrap command prefix used to confine plugin
// processes on Linux.
package sandbox

import (
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	hosterr "github.com/sigil-dev/plughost/pkg/errors"
)

var (
	bwrapPath = "bwrap"

	// targetOS allows tests to override the OS for cross-platform testing.
	targetOS = runtime.GOOS

	// checkDirExists allows tests to stub filesystem existence checks.
	checkDirExists = func(path string) bool {
		_, err := os.Stat(path)
		return err == nil
	}
)

// dangerousPathChars matches characters that enable bwrap argument
// confusion: quotes, parens, backslash, semicolons, control chars.
var dangerousPathChars = regexp.MustCompile(`["\\();\x00-\x1f]`)

func init() {
	if p, err := exec.LookPath("bwrap"); err == nil {
		bwrapPath = p
	}
}

// Policy describes what a sandboxed plugin may touch besides its own
// directory and the go-plugin socket directory.
type Policy struct {
	// WriteAllow paths are bind-mounted read-write. A "/*" suffix binds the
	// parent directory.
	WriteAllow []string `mapstructure:"write_allow"`
	// ReadDeny paths are hidden behind an empty tmpfs.
	ReadDeny []string `mapstructure:"read_deny"`
	// Network keeps the host network namespace. False unshares it; the
	// plugin RPC channel is a unix socket and keeps working.
	Network bool `mapstructure:"network"`
}

// validateSandboxPath rejects paths containing characters that could be used
// for bwrap argument confusion.
func validateSandboxPath(path string) error {
	if path == "" {
		return hosterr.New(hosterr.CodePluginSandboxPathInvalid, "invalid path: must not be empty")
	}
	if strings.HasPrefix(path, "-") {
		return hosterr.Errorf(hosterr.CodePluginSandboxPathInvalid, "invalid path %q: must not start with dash", path)
	}
	if dangerousPathChars.MatchString(path) {
		return hosterr.Errorf(hosterr.CodePluginSandboxPathInvalid, "invalid path %q: contains disallowed characters", path)
	}
	return nil
}

// GenerateArgs returns the command prefix that runs a plugin from pluginDir
// under bwrap. The prefix ends with "--"; the caller appends the binary.
// socketDir is where go-plugin places its unix socket and must be shared
// with the host.
func GenerateArgs(policy Policy, pluginDir, socketDir string) ([]string, error) {
	if targetOS != "linux" {
		return nil, hosterr.Errorf(hosterr.CodePluginSandboxUnsupported, "sandbox not supported on %s", targetOS)
	}

	for _, p := range []string{pluginDir, socketDir} {
		if strings.TrimSpace(p) == "" {
			return nil, hosterr.New(hosterr.CodePluginSandboxPathInvalid, "plugin and socket directories must not be empty")
		}
		if err := validateSandboxPath(p); err != nil {
			return nil, err
		}
	}

	args := []string{bwrapPath,
		"--ro-bind", "/usr", "/usr",
		"--ro-bind", "/lib", "/lib",
	}

	// Only mount /lib64 if it exists (absent on Alpine/musl systems).
	if checkDirExists("/lib64") {
		args = append(args, "--ro-bind", "/lib64", "/lib64")
	}

	args = append(args,
		"--ro-bind", "/bin", "/bin",
		"--ro-bind", "/etc", "/etc",
		"--proc", "/proc",
		"--dev", "/dev",
		"--tmpfs", "/tmp",
		"--unshare-pid",
		"--die-with-parent",
		"--ro-bind", pluginDir, pluginDir,
		"--bind", socketDir, socketDir,
		"--chdir", pluginDir,
	)

	for _, path := range policy.WriteAllow {
		dir, err := checkedPath(path)
		if err != nil {
			return nil, err
		}
		args = append(args, "--bind", dir, dir)
	}

	// ReadDeny mounts an empty tmpfs over the path so it still exists
	// but shows no content.
	for _, path := range policy.ReadDeny {
		dir, err := checkedPath(path)
		if err != nil {
			return nil, err
		}
		args = append(args, "--tmpfs", dir)
	}

	if !policy.Network {
		args = append(args, "--unshare-net")
	}

	return append(args, "--"), nil
}

func checkedPath(path string) (string, error) {
	if err := validateSandboxPath(path); err != nil {
		return "", err
	}
	expanded, err := expandPath(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(expanded, "/*"), nil
}

func expandPath(path string) (string, error) {
	// Only ~/foo is expanded; ~user/foo is left as is.
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", hosterr.Wrapf(err, hosterr.CodePluginSandboxSetupFailure, "expanding %q: home directory unavailable", path)
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~/")), nil
	}
	return path, nil
}
