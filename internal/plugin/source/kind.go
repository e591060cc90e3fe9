// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package source materializes plugin files under the plugins root from a
// git remote, a local directory, or a downloadable archive.
package source

import (
	"os"
	"strings"
)

// Kind is the resolver variant selected for a plugin source.
type Kind int

const (
	KindUnknown Kind = iota
	KindGit
	KindLocal
	KindArchive
)

func (k Kind) String() string {
	switch k {
	case KindGit:
		return "git"
	case KindLocal:
		return "local"
	case KindArchive:
		return "archive"
	default:
		return "unknown"
	}
}

// archiveSuffixes is ordered so ".tar.gz" wins over ".gz".
var archiveSuffixes = []string{".zip", ".tar.gz", ".gz"}

// Classify selects the resolver variant for a source location. Checks run in
// priority order: git suffix, path-like prefix, archive suffix.
func Classify(location string) Kind {
	switch {
	case location == "":
		return KindUnknown
	case strings.HasSuffix(location, ".git"):
		return KindGit
	case isPathLike(location):
		return KindLocal
	case archiveSuffix(location) != "":
		return KindArchive
	default:
		return KindUnknown
	}
}

func isPathLike(location string) bool {
	return strings.HasPrefix(location, "/") ||
		strings.HasPrefix(location, ".") ||
		strings.HasPrefix(location, string(os.PathSeparator))
}

// archiveSuffix returns the matched archive suffix, or "" when there is none.
func archiveSuffix(location string) string {
	for _, suffix := range archiveSuffixes {
		if strings.HasSuffix(location, suffix) {
			return suffix
		}
	}
	return ""
}
