// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package extension

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
)

// HookFunc is a hook implementation registered with New.
type HookFunc func(ctx context.Context, inv *Invocation) error

// New builds an Extension from a plain http.Handler and a set of named hooks.
func New(h http.Handler, hooks map[string]HookFunc) Extension {
	if h == nil {
		h = http.NotFoundHandler()
	}
	return &handlerExtension{handler: h, hooks: hooks}
}

type handlerExtension struct {
	handler http.Handler
	hooks   map[string]HookFunc
}

func (e *handlerExtension) Handle(ctx context.Context, req *Request) (*Response, error) {
	target := &url.URL{Path: req.Path, RawQuery: req.RawQuery}
	r, err := http.NewRequestWithContext(ctx, req.Method, target.String(), bytes.NewReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			r.Header.Add(k, v)
		}
	}

	w := newResponseBuffer()
	e.handler.ServeHTTP(w, r)
	return w.response(), nil
}

func (e *handlerExtension) Hooks(context.Context) ([]string, error) {
	names := make([]string, 0, len(e.hooks))
	for name := range e.hooks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (e *handlerExtension) RunHook(ctx context.Context, name string, inv *Invocation) error {
	fn, ok := e.hooks[name]
	if !ok {
		return fmt.Errorf("hook %q is not defined", name)
	}
	return fn(ctx, inv)
}

// responseBuffer is a minimal in-memory http.ResponseWriter.
type responseBuffer struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newResponseBuffer() *responseBuffer {
	return &responseBuffer{header: make(http.Header)}
}

func (w *responseBuffer) Header() http.Header {
	return w.header
}

func (w *responseBuffer) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
}

func (w *responseBuffer) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.body.Write(p)
}

func (w *responseBuffer) response() *Response {
	status := w.status
	if status == 0 {
		status = http.StatusOK
	}
	return &Response{
		Status: status,
		Header: w.header,
		Body:   w.body.Bytes(),
	}
}
