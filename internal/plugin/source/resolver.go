// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package source

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/sigil-dev/plughost/internal/plugin/execx"
	hosterr "github.com/sigil-dev/plughost/pkg/errors"
)

// Target is the subset of a plugin descriptor the resolver needs.
type Target struct {
	Name      string
	Location  string
	Version   string
	DeployKey string
}

// Resolver materializes plugin sources under Root/<name>.
type Resolver struct {
	root   string
	runner execx.Runner
	client *http.Client
}

// Options configures a Resolver.
type Options struct {
	Root   string
	Runner execx.Runner
	// Proxy is the proxy URI used for archive downloads. Empty falls back
	// to the HTTP_PROXY/HTTPS_PROXY environment.
	Proxy string
	// DownloadTimeout bounds a single archive download. Zero means unbounded.
	DownloadTimeout time.Duration
}

// NewResolver validates opts and builds a Resolver.
func NewResolver(opts Options) (*Resolver, error) {
	if strings.TrimSpace(opts.Root) == "" {
		return nil, hosterr.New(hosterr.CodeConfigValidateInvalidValue, "plugins root must not be empty")
	}

	client, err := NewHTTPClient(opts.Proxy, opts.DownloadTimeout)
	if err != nil {
		return nil, err
	}

	runner := opts.Runner
	if runner == nil {
		runner = execx.ExecRunner{}
	}

	return &Resolver{
		root:   opts.Root,
		runner: runner,
		client: client,
	}, nil
}

// NewHTTPClient returns a client whose transport routes through proxy.
func NewHTTPClient(proxy string, timeout time.Duration) (*http.Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	if strings.TrimSpace(proxy) != "" {
		u, err := url.Parse(proxy)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, hosterr.Errorf(hosterr.CodeConfigValidateInvalidValue,
				"proxy must be an absolute URI, got %q", proxy)
		}
		transport.Proxy = http.ProxyURL(u)
	}

	return &http.Client{Transport: transport, Timeout: timeout}, nil
}

// Root returns the plugins root directory.
func (r *Resolver) Root() string {
	return r.root
}

// Dest returns the on-disk directory for a plugin name.
func (r *Resolver) Dest(name string) string {
	return filepath.Join(r.root, name)
}

// Resolve materializes t and returns the plugin directory. On error no
// directory for the plugin is left behind, except for the local variant
// when the source already is the destination.
func (r *Resolver) Resolve(ctx context.Context, t Target) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", hosterr.New(hosterr.CodePluginManifestValidateInvalid, "plugin name must not be empty")
	}

	kind := Classify(t.Location)
	slog.Debug("resolving plugin source",
		"plugin", t.Name, "kind", kind.String(), "source", t.Location)

	switch kind {
	case KindGit:
		return r.resolveGit(ctx, t)
	case KindLocal:
		return r.resolveLocal(t)
	case KindArchive:
		return r.resolveArchive(ctx, t)
	default:
		return "", hosterr.New(hosterr.CodePluginSourceUnknown, "plugin type unknown",
			hosterr.FieldPlugin(t.Name), hosterr.Field("source", t.Location))
	}
}
