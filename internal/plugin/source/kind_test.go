// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package source_test

import (
	"testing"

	"github.com/sigil-dev/plughost/internal/plugin/source"
	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		location string
		want     source.Kind
	}{
		{"git@github.com:org/alpha.git", source.KindGit},
		{"https://github.com/org/alpha.git", source.KindGit},
		{"./plugins-src/alpha.git", source.KindGit},
		{"/opt/plugins/alpha", source.KindLocal},
		{"./alpha", source.KindLocal},
		{"../alpha", source.KindLocal},
		{"./alpha.zip", source.KindLocal},
		{"https://example.com/alpha.zip", source.KindArchive},
		{"https://example.com/alpha.tar.gz", source.KindArchive},
		{"https://example.com/alpha.gz", source.KindArchive},
		{"https://example.com/alpha", source.KindUnknown},
		{"alpha", source.KindUnknown},
		{"", source.KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.location, func(t *testing.T) {
			assert.Equal(t, tt.want, source.Classify(tt.location))
		})
	}
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "git", source.KindGit.String())
	assert.Equal(t, "local", source.KindLocal.String())
	assert.Equal(t, "archive", source.KindArchive.String())
	assert.Equal(t, "unknown", source.KindUnknown.String())
}

func TestClassify_GitSuffixAlwaysWins(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		prefix := rapid.SampledFrom([]string{"/", "./", "https://host/", "ssh://git@host/", ""}).Draw(t, "prefix")
		name := rapid.StringMatching(`[a-z][a-z0-9-]{0,15}`).Draw(t, "name")

		assert.Equal(t, source.KindGit, source.Classify(prefix+name+".git"))
	})
}

func TestClassify_RemoteArchives(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		name := rapid.StringMatching(`[a-z][a-z0-9-]{0,15}`).Draw(t, "name")
		suffix := rapid.SampledFrom([]string{".zip", ".tar.gz", ".gz"}).Draw(t, "suffix")

		assert.Equal(t, source.KindArchive, source.Classify("https://downloads.example.com/"+name+suffix))
	})
}
