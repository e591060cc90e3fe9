// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package source

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/nlepage/go-tarfs"

	hosterr "github.com/sigil-dev/plughost/pkg/errors"
)

func (r *Resolver) resolveArchive(ctx context.Context, t Target) (string, error) {
	dest := r.Dest(t.Name)
	if err := os.RemoveAll(dest); err != nil {
		return "", hosterr.Wrap(err, hosterr.CodePluginSourceExtractFailure, "removing previous extraction",
			hosterr.FieldPlugin(t.Name), hosterr.FieldPath(dest))
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return "", hosterr.Wrap(err, hosterr.CodePluginSourceExtractFailure, "creating plugin directory",
			hosterr.FieldPlugin(t.Name), hosterr.FieldPath(dest))
	}

	if err := r.downloadAndExtract(ctx, t, dest); err != nil {
		if rmErr := os.RemoveAll(dest); rmErr != nil {
			slog.Error("removing partial extraction", "plugin", t.Name, "path", dest, "error", rmErr)
		}
		return "", err
	}

	return dest, nil
}

func (r *Resolver) downloadAndExtract(ctx context.Context, t Target, dest string) error {
	suffix := archiveSuffix(t.Location)

	tmp, err := os.CreateTemp("", "plughost-*"+suffix)
	if err != nil {
		return hosterr.Wrap(err, hosterr.CodePluginSourceDownloadFailure, "creating download file",
			hosterr.FieldPlugin(t.Name))
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	n, err := r.download(ctx, t.Location, tmp)
	if err != nil {
		return hosterr.With(err, hosterr.FieldPlugin(t.Name))
	}
	slog.Debug("downloaded plugin archive", "plugin", t.Name, "bytes", n, "source", t.Location)

	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return hosterr.Wrap(err, hosterr.CodePluginSourceExtractFailure, "rewinding download",
			hosterr.FieldPlugin(t.Name))
	}

	switch suffix {
	case ".zip":
		err = extractZip(tmp.Name(), dest)
	case ".tar.gz":
		err = extractTarGz(tmp, dest)
	default:
		err = extractGz(tmp, dest, gzTargetName(t.Location))
	}
	if err != nil {
		return hosterr.Wrap(err, hosterr.CodePluginSourceExtractFailure, "extracting plugin archive",
			hosterr.FieldPlugin(t.Name), hosterr.Field("format", suffix))
	}
	return nil
}

func (r *Resolver) download(ctx context.Context, location string, w io.Writer) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return 0, hosterr.Wrap(err, hosterr.CodePluginSourceDownloadFailure, "creating download request")
	}
	req.Header.Set("User-Agent", "plughost")

	resp, err := r.client.Do(req)
	if err != nil {
		return 0, hosterr.Wrap(err, hosterr.CodePluginSourceDownloadFailure, "downloading plugin archive")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, hosterr.Errorf(hosterr.CodePluginSourceDownloadFailure,
			"downloading %s: unexpected status %d", location, resp.StatusCode)
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, hosterr.Wrap(err, hosterr.CodePluginSourceDownloadFailure, "reading download stream")
	}
	return n, nil
}

func extractZip(archivePath, dest string) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return err
	}
	defer func() { _ = zr.Close() }()

	return extractFS(zr, dest)
}

func extractTarGz(r io.Reader, dest string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return err
	}
	defer func() { _ = gz.Close() }()

	fsys, err := tarfs.New(gz)
	if err != nil {
		return err
	}
	return extractFS(fsys, dest)
}

// extractFS copies the directories and regular files of fsys into dest, then
// recreates its symlinks. A link whose target resolves outside dest fails the
// extraction.
func extractFS(fsys fs.FS, dest string) error {
	if err := os.CopyFS(dest, withoutSymlinks{fsys}); err != nil {
		return err
	}
	return fs.WalkDir(fsys, ".", func(name string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type()&fs.ModeSymlink == 0 {
			return nil
		}
		target, err := linkTarget(fsys, name, d)
		if err != nil {
			return err
		}
		return symlinkWithin(dest, name, target)
	})
}

// withoutSymlinks hides symlink entries from directory listings.
type withoutSymlinks struct {
	fs.FS
}

func (f withoutSymlinks) ReadDir(name string) ([]fs.DirEntry, error) {
	entries, err := fs.ReadDir(f.FS, name)
	if err != nil {
		return nil, err
	}
	kept := make([]fs.DirEntry, 0, len(entries))
	for _, e := range entries {
		if e.Type()&fs.ModeSymlink == 0 {
			kept = append(kept, e)
		}
	}
	return kept, nil
}

// linkTarget reads a symlink entry's target: the header link name for tar,
// the entry content for zip.
func linkTarget(fsys fs.FS, name string, d fs.DirEntry) (string, error) {
	info, err := d.Info()
	if err != nil {
		return "", err
	}
	if h, ok := info.Sys().(*tar.Header); ok {
		return h.Linkname, nil
	}
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func symlinkWithin(dest, name, target string) error {
	if target == "" || filepath.IsAbs(target) || path.IsAbs(target) {
		return hosterr.Errorf(hosterr.CodePluginSourceExtractFailure,
			"symlink %s: target %q must be relative", name, target)
	}

	root, err := filepath.EvalSymlinks(dest)
	if err != nil {
		return err
	}
	link := filepath.Join(dest, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(link), 0o755); err != nil {
		return err
	}
	parent, err := filepath.EvalSymlinks(filepath.Dir(link))
	if err != nil {
		return err
	}
	if parent != root && !within(parent, root) {
		return hosterr.Errorf(hosterr.CodePluginSourceExtractFailure,
			"symlink %s: parent directory leaves the plugin directory", name)
	}
	if !within(filepath.Join(parent, filepath.FromSlash(target)), root) {
		return hosterr.Errorf(hosterr.CodePluginSourceExtractFailure,
			"symlink %s: target %q leaves the plugin directory", name, target)
	}
	return os.Symlink(target, link)
}

func extractGz(r io.Reader, dest, name string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return err
	}
	defer func() { _ = gz.Close() }()

	out, err := os.OpenFile(filepath.Join(dest, name), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, gz); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// gzTargetName derives the decompressed file name from the archive URL.
func gzTargetName(location string) string {
	p := location
	if u, err := url.Parse(location); err == nil && u.Path != "" {
		p = u.Path
	}
	name := strings.TrimSuffix(path.Base(p), ".gz")
	if name == "" || name == "." || name == "/" {
		return "plugin"
	}
	return name
}
