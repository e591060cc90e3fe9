// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

//go:build !windows

package config

import (
	"io/fs"
	"log/slog"
	"os"
)

const groupOrOtherRead fs.FileMode = 0o044

// WarnInsecurePermissions logs a warning for the config file and every
// configured deploy key readable by group or others. It never fails startup.
func WarnInsecurePermissions(cfgPath string, cfg *Config) {
	warnIfReadable("config file", cfgPath)
	if cfg == nil {
		return
	}
	for _, p := range cfg.Plugins {
		if p.DeployKey != "" {
			warnIfReadable("deploy key", p.DeployKey, "plugin", p.Name)
		}
	}
}

func warnIfReadable(kind, path string, attrs ...any) {
	if path == "" {
		return
	}

	info, err := os.Stat(path)
	if err != nil {
		slog.Debug("could not stat file for permission check", append(attrs, "kind", kind, "path", path, "error", err)...)
		return
	}

	if mode := info.Mode(); mode.Perm()&groupOrOtherRead != 0 {
		slog.Warn(kind+" is readable by other users",
			append(attrs, "path", path, "mode", mode, "recommended", "0600")...)
	}
}
