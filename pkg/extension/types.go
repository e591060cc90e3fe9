// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package extension provides the public contract for plugin authors.
//
// A plugin is a standalone executable that calls Serve with an Extension.
// The host launches it, forwards HTTP requests for the plugin's namespace to
// Handle, and invokes hooks by name around the server operations listed in
// the plugin's middleware.yaml.
package extension

import "context"

// Phase identifies when a hook runs relative to the core handler.
type Phase string

const (
	PhasePre  Phase = "pre"
	PhasePost Phase = "post"
)

// Request is an HTTP request forwarded to a plugin. Path is relative to the
// plugin's namespace and always starts with "/".
type Request struct {
	Method   string
	Path     string
	RawQuery string
	Header   map[string][]string
	Body     []byte
}

// Response is the plugin's answer to a forwarded Request.
type Response struct {
	Status int
	Header map[string][]string
	Body   []byte
}

// Invocation describes one server operation call passed to a hook.
type Invocation struct {
	Operation string
	Phase     Phase
	Method    string
	Path      string
	Params    map[string]string
	Body      []byte
}

// Extension is the capability surface a plugin exposes to the host.
type Extension interface {
	// Handle serves a request routed to the plugin's namespace.
	Handle(ctx context.Context, req *Request) (*Response, error)
	// Hooks lists the hook names RunHook accepts.
	Hooks(ctx context.Context) ([]string, error)
	// RunHook executes the named hook. A non-nil error aborts the
	// operation's chain. Pre hooks may rewrite inv.Params and inv.Body;
	// the rewritten values reach the core handler.
	RunHook(ctx context.Context, name string, inv *Invocation) error
}
