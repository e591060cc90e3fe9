// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	hosterr "github.com/sigil-dev/plughost/pkg/errors"
)

// defaultHTTPClient is used by commands that talk to a running host.
var defaultHTTPClient = &http.Client{
	Timeout: 5 * time.Second,
}

// hostClient provides HTTP access to a running plughost.
type hostClient struct {
	baseURL string
	http    *http.Client
}

func newHostClient(addr string) *hostClient {
	return &hostClient{
		baseURL: "http://" + addr,
		http:    defaultHTTPClient,
	}
}

// getJSON performs a GET request and decodes the JSON response into dest.
func (c *hostClient) getJSON(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return hosterr.Wrapf(err, hosterr.CodeCLIInputInvalid, "building request for %s", path)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if isDialError(err) {
			return hosterr.Wrap(err, hosterr.CodeCLIHostNotRunning, "host is not running")
		}
		return hosterr.Wrapf(err, hosterr.CodeCLIRequestFailure, "requesting %s", path)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return hosterr.Errorf(hosterr.CodeCLIRequestFailure, "host returned status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return hosterr.Wrapf(err, hosterr.CodeCLIResponseInvalid, "decoding %s", path)
	}
	return nil
}

func isDialError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Op == "dial"
	}
	return false
}
