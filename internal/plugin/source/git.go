// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package source

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/sigil-dev/plughost/internal/plugin/execx"
	hosterr "github.com/sigil-dev/plughost/pkg/errors"
)

// deployKeyMode is the permission ssh requires on a private key.
const deployKeyMode = 0o400

func (r *Resolver) resolveGit(ctx context.Context, t Target) (string, error) {
	dest := r.Dest(t.Name)
	if err := os.RemoveAll(dest); err != nil {
		return "", hosterr.Wrap(err, hosterr.CodePluginSourceCloneFailure, "removing previous checkout",
			hosterr.FieldPlugin(t.Name), hosterr.FieldPath(dest))
	}

	cmd, err := gitCloneCommand(t, dest)
	if err != nil {
		return "", err
	}

	out, err := r.runner.Run(ctx, cmd)
	if out != "" {
		slog.Debug("git clone output", "plugin", t.Name, "output", out)
	}
	if err != nil {
		if rmErr := os.RemoveAll(dest); rmErr != nil {
			slog.Error("removing partial checkout", "plugin", t.Name, "path", dest, "error", rmErr)
		}
		return "", hosterr.Wrap(err, hosterr.CodePluginSourceCloneFailure, "cloning plugin repository",
			hosterr.FieldPlugin(t.Name), hosterr.Field("source", t.Location))
	}

	return dest, nil
}

// gitCloneCommand builds the clone invocation. A deploy key is tightened to
// 0400 and passed to ssh through GIT_SSH_COMMAND.
func gitCloneCommand(t Target, dest string) (execx.Command, error) {
	var args []string
	if t.Version != "" {
		args = append(args, "-c", "advice.detachedHead=false")
	}
	args = append(args, "clone")
	if t.Version != "" {
		args = append(args, "--branch", t.Version)
	}
	args = append(args, t.Location, dest)

	cmd := execx.Command{Name: "git", Args: args}

	if t.DeployKey != "" {
		if err := os.Chmod(t.DeployKey, deployKeyMode); err != nil {
			return execx.Command{}, hosterr.Wrap(err, hosterr.CodePluginSourceCloneFailure,
				"restricting deploy key permissions",
				hosterr.FieldPlugin(t.Name), hosterr.FieldPath(t.DeployKey))
		}
		cmd.Env = append(cmd.Env, fmt.Sprintf(
			"GIT_SSH_COMMAND=ssh -i %q -o IdentitiesOnly=yes -o StrictHostKeyChecking=no", t.DeployKey))
	}

	return cmd, nil
}
