// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package source_test

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"os"
	"path"
	"path/filepath"
	"sort"
	"sync/atomic"
	"testing"

	"github.com/sigil-dev/plughost/internal/plugin/source"
	hosterr "github.com/sigil-dev/plughost/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sortedNames(files map[string]string) []string {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func zipBytes(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range sortedNames(files) {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(files[name]))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func tarGzBytes(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	dirs := map[string]bool{}
	for _, name := range sortedNames(files) {
		if dir := path.Dir(name); dir != "." && !dirs[dir] {
			dirs[dir] = true
			require.NoError(t, tw.WriteHeader(&tar.Header{Name: dir + "/", Mode: 0o755, Typeflag: tar.TypeDir}))
		}
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     name,
			Mode:     0o644,
			Size:     int64(len(files[name])),
			Typeflag: tar.TypeReg,
		}))
		_, err := tw.Write([]byte(files[name]))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func gzBytes(t *testing.T, content string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func serveBytes(t *testing.T, routes map[string][]byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := routes[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestResolveArchive_Formats(t *testing.T) {
	files := map[string]string{
		"plugin.yaml":     "main: bin/alpha\n",
		"bin/alpha":       "binary",
		"middleware.yaml": "createElement:\n  pre: audit\n",
	}
	srv := serveBytes(t, map[string][]byte{
		"/alpha.zip":      zipBytes(t, files),
		"/alpha.tar.gz":   tarGzBytes(t, files),
		"/plugin.yaml.gz": gzBytes(t, "main: bin/alpha\n"),
	})

	t.Run("zip", func(t *testing.T) {
		root := t.TempDir()
		dir, err := newResolver(t, root).Resolve(context.Background(),
			source.Target{Name: "alpha", Location: srv.URL + "/alpha.zip"})
		require.NoError(t, err)
		assert.Equal(t, files, readTree(t, dir))
	})

	t.Run("tar.gz", func(t *testing.T) {
		root := t.TempDir()
		dir, err := newResolver(t, root).Resolve(context.Background(),
			source.Target{Name: "alpha", Location: srv.URL + "/alpha.tar.gz"})
		require.NoError(t, err)
		assert.Equal(t, files, readTree(t, dir))
	})

	t.Run("gz", func(t *testing.T) {
		root := t.TempDir()
		dir, err := newResolver(t, root).Resolve(context.Background(),
			source.Target{Name: "alpha", Location: srv.URL + "/plugin.yaml.gz"})
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"plugin.yaml": "main: bin/alpha\n"}, readTree(t, dir))
	})
}

func TestResolveArchive_ReplacesPreviousExtraction(t *testing.T) {
	srv := serveBytes(t, map[string][]byte{
		"/alpha.zip": zipBytes(t, map[string]string{"plugin.yaml": "main: v2\n"}),
	})
	root := t.TempDir()
	writeTree(t, filepath.Join(root, "alpha"), map[string]string{"plugin.yaml": "main: v1\n", "stale": "x"})

	dir, err := newResolver(t, root).Resolve(context.Background(),
		source.Target{Name: "alpha", Location: srv.URL + "/alpha.zip"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"plugin.yaml": "main: v2\n"}, readTree(t, dir))
}

func TestResolveArchive_DownloadFailureLeavesNoDirectory(t *testing.T) {
	srv := serveBytes(t, nil)
	root := t.TempDir()

	_, err := newResolver(t, root).Resolve(context.Background(),
		source.Target{Name: "alpha", Location: srv.URL + "/missing.zip"})
	require.Error(t, err)
	assert.True(t, hosterr.HasCode(err, hosterr.CodePluginSourceDownloadFailure))
	assert.Equal(t, "alpha", hosterr.FieldsOf(err)["plugin"])
	assert.NoDirExists(t, filepath.Join(root, "alpha"))
}

func TestResolveArchive_CorruptArchive(t *testing.T) {
	srv := serveBytes(t, map[string][]byte{"/alpha.tar.gz": []byte("not gzip")})
	root := t.TempDir()

	_, err := newResolver(t, root).Resolve(context.Background(),
		source.Target{Name: "alpha", Location: srv.URL + "/alpha.tar.gz"})
	require.Error(t, err)
	assert.True(t, hosterr.HasCode(err, hosterr.CodePluginSourceExtractFailure))
	assert.NoDirExists(t, filepath.Join(root, "alpha"))
}

func TestResolveArchive_UsesConfiguredProxy(t *testing.T) {
	archive := zipBytes(t, map[string]string{"plugin.yaml": "main: a\n"})

	var proxied atomic.Int32
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// A forward proxy receives the absolute target URL.
		if r.URL.Host == "plugins.example.invalid" && r.URL.Path == "/alpha.zip" {
			proxied.Add(1)
			_, _ = w.Write(archive)
			return
		}
		http.Error(w, "unexpected target", http.StatusBadGateway)
	}))
	t.Cleanup(proxy.Close)

	root := t.TempDir()
	r := newResolver(t, root, func(o *source.Options) { o.Proxy = proxy.URL })

	dir, err := r.Resolve(context.Background(),
		source.Target{Name: "alpha", Location: "http://plugins.example.invalid/alpha.zip"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), proxied.Load())
	assert.FileExists(t, filepath.Join(dir, "plugin.yaml"))
}

// tarGzWithLinks appends a symlink entry per links key, pointing at its value.
func tarGzWithLinks(t *testing.T, files, links map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for _, name := range sortedNames(files) {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     name,
			Mode:     0o644,
			Size:     int64(len(files[name])),
			Typeflag: tar.TypeReg,
		}))
		_, err := tw.Write([]byte(files[name]))
		require.NoError(t, err)
	}
	for _, name := range sortedNames(links) {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     name,
			Linkname: links[name],
			Mode:     0o777,
			Typeflag: tar.TypeSymlink,
		}))
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

// zipWithLinks stores each link's target as the entry content, the way zip
// tools record symlinks.
func zipWithLinks(t *testing.T, files, links map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range sortedNames(files) {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(files[name]))
		require.NoError(t, err)
	}
	for _, name := range sortedNames(links) {
		fh := &zip.FileHeader{Name: name, Method: zip.Store}
		fh.SetMode(fs.ModeSymlink | 0o777)
		w, err := zw.CreateHeader(fh)
		require.NoError(t, err)
		_, err = w.Write([]byte(links[name]))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestResolveArchive_Symlinks(t *testing.T) {
	files := map[string]string{
		"plugin.yaml": "main: bin/alpha\n",
		"bin/alpha":   "binary",
	}
	links := map[string]string{
		"./link":       "plugin.yaml",
		"bin/current":  "alpha",
		"lib/manifest": "../plugin.yaml",
	}
	srv := serveBytes(t, map[string][]byte{
		"/alpha.tar.gz": tarGzWithLinks(t, files, links),
		"/alpha.zip":    zipWithLinks(t, files, links),
	})

	for _, archive := range []string{"/alpha.tar.gz", "/alpha.zip"} {
		t.Run(archive, func(t *testing.T) {
			root := t.TempDir()
			dir, err := newResolver(t, root).Resolve(context.Background(),
				source.Target{Name: "alpha", Location: srv.URL + archive})
			require.NoError(t, err)

			for name, want := range map[string]string{
				"link":         "plugin.yaml",
				"bin/current":  "alpha",
				"lib/manifest": "../plugin.yaml",
			} {
				got, err := os.Readlink(filepath.Join(dir, filepath.FromSlash(name)))
				require.NoError(t, err, name)
				assert.Equal(t, want, got, name)
			}

			data, err := os.ReadFile(filepath.Join(dir, "link"))
			require.NoError(t, err)
			assert.Equal(t, "main: bin/alpha\n", string(data))
			data, err = os.ReadFile(filepath.Join(dir, "bin", "current"))
			require.NoError(t, err)
			assert.Equal(t, "binary", string(data))
		})
	}
}

func TestResolveArchive_SymlinkEscapeRejected(t *testing.T) {
	files := map[string]string{"plugin.yaml": "main: a\n"}
	tests := map[string]string{
		"parent":   "../../etc/passwd",
		"absolute": "/etc/passwd",
		"nested":   "../../../outside",
	}

	for name, target := range tests {
		t.Run(name, func(t *testing.T) {
			links := map[string]string{"sub/link": target}
			srv := serveBytes(t, map[string][]byte{
				"/alpha.tar.gz": tarGzWithLinks(t, files, links),
				"/alpha.zip":    zipWithLinks(t, files, links),
			})

			for _, archive := range []string{"/alpha.tar.gz", "/alpha.zip"} {
				root := t.TempDir()
				_, err := newResolver(t, root).Resolve(context.Background(),
					source.Target{Name: "alpha", Location: srv.URL + archive})
				require.Error(t, err, archive)
				assert.True(t, hosterr.HasCode(err, hosterr.CodePluginSourceExtractFailure), archive)
				assert.NoDirExists(t, filepath.Join(root, "alpha"), archive)
			}
		})
	}
}
