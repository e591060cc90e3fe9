// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package plugin

import (
	"log/slog"
	"os"
	"path/filepath"

	hosterr "github.com/sigil-dev/plughost/pkg/errors"
)

// ProtectedEntry is the host's own routing entrypoint inside the plugins
// root. Reconcile never removes it.
const ProtectedEntry = "routes.yaml"

// ReconcileResult lists what Reconcile did, in directory order.
type ReconcileResult struct {
	// Unconfigured entries were removed because no descriptor names them.
	Unconfigured []string
	// Invalid entries were configured but had no readable, valid plugin.yaml.
	Invalid []string
	// Kept entries survived reconciliation.
	Kept []string
}

// Removed returns every removed entry.
func (r ReconcileResult) Removed() []string {
	out := make([]string, 0, len(r.Unconfigured)+len(r.Invalid))
	out = append(out, r.Unconfigured...)
	return append(out, r.Invalid...)
}

// Reconcile removes every entry under root that is not configured, then every
// remaining entry whose manifest is missing or fails to parse. The protected entry is left alone. A
// missing root is created.
func Reconcile(root string, configured []string) (ReconcileResult, error) {
	var res ReconcileResult

	if err := os.MkdirAll(root, 0o755); err != nil {
		return res, hosterr.Wrap(err, hosterr.CodePluginReconcileFailure, "creating plugins root",
			hosterr.FieldPath(root))
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return res, hosterr.Wrap(err, hosterr.CodePluginReconcileFailure, "reading plugins root",
			hosterr.FieldPath(root))
	}

	wanted := make(map[string]bool, len(configured))
	for _, name := range configured {
		wanted[name] = true
	}

	var errs []error
	var remaining []string
	for _, entry := range entries {
		name := entry.Name()
		if name == ProtectedEntry {
			continue
		}
		if wanted[name] {
			remaining = append(remaining, name)
			continue
		}
		if err := removeEntry(root, name, "plugin is not configured"); err != nil {
			errs = append(errs, err)
			continue
		}
		res.Unconfigured = append(res.Unconfigured, name)
	}

	for _, name := range remaining {
		reason, ok := manifestProblem(filepath.Join(root, name))
		if ok {
			res.Kept = append(res.Kept, name)
			continue
		}
		if err := removeEntry(root, name, reason); err != nil {
			errs = append(errs, err)
			continue
		}
		res.Invalid = append(res.Invalid, name)
	}

	if len(errs) > 0 {
		return res, hosterr.Wrap(hosterr.Join(errs...), hosterr.CodePluginReconcileFailure,
			"removing stale plugin entries")
	}
	return res, nil
}

func removeEntry(root, name, reason string) error {
	path := filepath.Join(root, name)
	if err := os.RemoveAll(path); err != nil {
		return hosterr.Wrap(err, hosterr.CodePluginReconcileFailure, "removing plugin entry",
			hosterr.FieldPlugin(name), hosterr.FieldPath(path))
	}
	slog.Info("removed plugin entry", "plugin", name, "path", path, "reason", reason)
	return nil
}

// manifestProblem loads dir's manifest. When it cannot, it returns the
// removal reason and false.
func manifestProblem(dir string) (string, bool) {
	info, err := os.Stat(filepath.Join(dir, ManifestFile))
	if err != nil || !info.Mode().IsRegular() {
		return "plugin has no manifest", false
	}
	if _, err := LoadManifest(dir); err != nil {
		slog.Warn("plugin manifest is invalid", "path", dir, "error", err)
		return "plugin manifest is invalid", false
	}
	return "", true
}
