// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"slices"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	hosterr "github.com/sigil-dev/plughost/pkg/errors"
	"github.com/sigil-dev/plughost/pkg/extension"
)

const maxDispatchBody = 10 << 20

// Dispatch wraps the core handler of op with the registered plugin hooks:
// pre hooks, then handler, then post hooks. The handler reads the body and
// route params as the pre hooks left them. Its response is held back until
// the post hooks succeed. A hook error replaces the response
// with an error document whose status comes from the error's code.
func (s *Server) Dispatch(op string, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxDispatchBody))
		if err != nil {
			writeError(w, hosterr.Wrap(err, hosterr.CodeServerRequestInvalid, "reading request body",
				hosterr.FieldOperation(op)))
			return
		}

		inv := &extension.Invocation{
			Operation: op,
			Method:    r.Method,
			Path:      r.URL.Path,
			Params:    urlParams(r),
			Body:      body,
		}

		buf := newResponseBuffer()
		core := func(ctx context.Context, inv *extension.Invocation) error {
			req := r.WithContext(ctx)
			req.Body = io.NopCloser(bytes.NewReader(inv.Body))
			req.ContentLength = int64(len(inv.Body))
			overrideURLParams(req, inv.Params)
			handler.ServeHTTP(buf, req)
			return nil
		}

		if err := s.hookTable().Run(r.Context(), op, inv, core); err != nil {
			slog.Warn("operation aborted by hook", "operation", op, "error", err)
			writeError(w, err)
			return
		}
		buf.writeTo(w)
	})
}

func urlParams(r *http.Request) map[string]string {
	params := map[string]string{}
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return params
	}
	for i, key := range rctx.URLParams.Keys {
		if key == "*" || i >= len(rctx.URLParams.Values) {
			continue
		}
		params[key] = rctx.URLParams.Values[i]
	}
	return params
}

// overrideURLParams applies rewritten values for route params the request
// already has. chi resolves a key from the last match, so appending wins.
func overrideURLParams(r *http.Request, params map[string]string) {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return
	}
	for key, val := range params {
		if !slices.Contains(rctx.URLParams.Keys, key) || rctx.URLParam(key) == val {
			continue
		}
		rctx.URLParams.Add(key, val)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := hosterr.HTTPStatus(err)
	body, merr := json.Marshal(huma.NewError(status, err.Error()))
	if merr != nil {
		http.Error(w, http.StatusText(status), status)
		return
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// responseBuffer records a handler's response so it can be discarded.
type responseBuffer struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newResponseBuffer() *responseBuffer {
	return &responseBuffer{header: http.Header{}}
}

func (b *responseBuffer) Header() http.Header { return b.header }

func (b *responseBuffer) WriteHeader(status int) {
	if b.status == 0 {
		b.status = status
	}
}

func (b *responseBuffer) Write(p []byte) (int, error) {
	if b.status == 0 {
		b.status = http.StatusOK
	}
	return b.body.Write(p)
}

func (b *responseBuffer) writeTo(w http.ResponseWriter) {
	for k, v := range b.header {
		w.Header()[k] = v
	}
	status := b.status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(b.body.Bytes())
}
