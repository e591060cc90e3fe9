// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package execx_test

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/sigil-dev/plughost/internal/plugin/execx"
	hosterr "github.com/sigil-dev/plughost/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShellFor(t *testing.T) {
	unix := execx.ShellFor("linux", "make build")
	assert.Equal(t, "sh", unix.Name)
	assert.Equal(t, []string{"-c", "make build"}, unix.Args)

	win := execx.ShellFor("windows", "make build")
	assert.Equal(t, "cmd", win.Name)
	assert.Equal(t, []string{"/C", "make build"}, win.Args)
}

func TestCommand_String(t *testing.T) {
	c := execx.Command{Name: "git", Args: []string{"clone", "repo.git", "dest"}}
	assert.Equal(t, "git clone repo.git dest", c.String())
}

func TestExecRunner_EmptyName(t *testing.T) {
	_, err := execx.ExecRunner{}.Run(context.Background(), execx.Command{})
	require.Error(t, err)
	assert.True(t, hosterr.HasCode(err, hosterr.CodeExecCommandFailure))
}

func TestExecRunner_CapturesOutput(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}

	out, err := execx.ExecRunner{}.Run(context.Background(), execx.Shell("echo hello"))
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
}

func TestExecRunner_RunsInDir(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}

	dir := t.TempDir()
	cmd := execx.Shell("pwd")
	cmd.Dir = dir

	out, err := execx.ExecRunner{}.Run(context.Background(), cmd)
	require.NoError(t, err)
	assert.Equal(t, filepath.Base(dir), filepath.Base(out))
}

func TestExecRunner_FailureIsCoded(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}

	out, err := execx.ExecRunner{}.Run(context.Background(), execx.Shell("echo broken >&2; exit 3"))
	require.Error(t, err)
	assert.Equal(t, "broken", out)
	assert.True(t, hosterr.HasCode(err, hosterr.CodeExecCommandFailure))
}

func TestExecRunner_Timeout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}

	r := execx.ExecRunner{Timeout: 50 * time.Millisecond}
	_, err := r.Run(context.Background(), execx.Shell("sleep 5"))
	require.Error(t, err)
	assert.True(t, hosterr.HasCode(err, hosterr.CodeExecTimeout))
}
