// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package source

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	hosterr "github.com/sigil-dev/plughost/pkg/errors"
)

func (r *Resolver) resolveLocal(t Target) (string, error) {
	dest := r.Dest(t.Name)

	src, err := filepath.Abs(t.Location)
	if err != nil {
		return "", hosterr.Wrap(err, hosterr.CodePluginSourceCopyFailure, "resolving source path",
			hosterr.FieldPlugin(t.Name), hosterr.FieldPath(t.Location))
	}
	absDest, err := filepath.Abs(dest)
	if err != nil {
		return "", hosterr.Wrap(err, hosterr.CodePluginSourceCopyFailure, "resolving destination path",
			hosterr.FieldPlugin(t.Name), hosterr.FieldPath(dest))
	}

	if samePath(src, absDest) {
		slog.Debug("plugin source is already in place", "plugin", t.Name, "path", dest)
		return dest, nil
	}
	if within(absDest, src) {
		return "", hosterr.Errorf(hosterr.CodePluginSourceCopyFailure,
			"plugin %s: source %s contains the destination %s", t.Name, src, absDest)
	}

	info, err := os.Stat(src)
	if err != nil {
		return "", hosterr.Wrap(err, hosterr.CodePluginSourceCopyFailure, "reading plugin source",
			hosterr.FieldPlugin(t.Name), hosterr.FieldPath(src))
	}
	if !info.IsDir() {
		return "", hosterr.Errorf(hosterr.CodePluginSourceCopyFailure,
			"plugin %s: source %s is not a directory", t.Name, src)
	}

	if err := os.RemoveAll(dest); err != nil {
		return "", hosterr.Wrap(err, hosterr.CodePluginSourceCopyFailure, "removing previous copy",
			hosterr.FieldPlugin(t.Name), hosterr.FieldPath(dest))
	}
	if err := os.CopyFS(dest, os.DirFS(src)); err != nil {
		if rmErr := os.RemoveAll(dest); rmErr != nil {
			slog.Error("removing partial copy", "plugin", t.Name, "path", dest, "error", rmErr)
		}
		return "", hosterr.Wrap(err, hosterr.CodePluginSourceCopyFailure, "copying plugin source",
			hosterr.FieldPlugin(t.Name), hosterr.FieldPath(src))
	}

	return dest, nil
}

func samePath(a, b string) bool {
	if filepath.Clean(a) == filepath.Clean(b) {
		return true
	}
	ai, errA := os.Stat(a)
	bi, errB := os.Stat(b)
	return errA == nil && errB == nil && os.SameFile(ai, bi)
}

// within reports whether path lies strictly inside dir.
func within(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
