// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/sigil-dev/plughost/internal/plugin"
	"github.com/sigil-dev/plughost/internal/plugin/hooks"
)

func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Tags:        []string{"system"},
	}, func(_ context.Context, _ *struct{}) (*HealthResponse, error) {
		return &HealthResponse{Body: HealthBody{Status: "ok"}}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "version",
		Method:      http.MethodGet,
		Path:        "/version",
		Summary:     "Host version",
		Tags:        []string{"system"},
	}, s.handleVersion)

	huma.Register(s.api, huma.Operation{
		OperationID: "listPlugins",
		Method:      http.MethodGet,
		Path:        "/api/v1/plugins",
		Summary:     "List loaded plugins",
		Tags:        []string{"plugins"},
	}, s.handleListPlugins)

	huma.Register(s.api, huma.Operation{
		OperationID: "listOperations",
		Method:      http.MethodGet,
		Path:        "/api/v1/operations",
		Summary:     "List extensible operations and their hook counts",
		Tags:        []string{"plugins"},
	}, s.handleListOperations)
}

// HealthBody is the JSON body of the health endpoint response.
type HealthBody struct {
	Status string `json:"status" example:"ok" doc:"Health status"`
}

// HealthResponse wraps the health check response.
type HealthResponse struct {
	Body HealthBody
}

type versionOutput struct {
	Body struct {
		Version string `json:"version" doc:"Host version"`
	}
}

func (s *Server) handleVersion(_ context.Context, _ *struct{}) (*versionOutput, error) {
	out := &versionOutput{}
	out.Body.Version = s.cfg.Version
	return out, nil
}

type listPluginsOutput struct {
	Body struct {
		Plugins []plugin.Record `json:"plugins" doc:"Mounted plugins in load order"`
	}
}

func (s *Server) handleListPlugins(_ context.Context, _ *struct{}) (*listPluginsOutput, error) {
	out := &listPluginsOutput{}
	out.Body.Plugins = s.loaded()
	return out, nil
}

// OperationSummary reports how many hooks are registered on an operation.
type OperationSummary struct {
	Name string `json:"name"`
	Pre  int    `json:"pre"`
	Post int    `json:"post"`
}

type listOperationsOutput struct {
	Body struct {
		Operations []OperationSummary `json:"operations"`
	}
}

func (s *Server) handleListOperations(_ context.Context, _ *struct{}) (*listOperationsOutput, error) {
	table := s.hookTable()
	out := &listOperationsOutput{}
	out.Body.Operations = Summarize(table)
	return out, nil
}

// Summarize lists every operation in the table with its hook counts.
func Summarize(table *hooks.Table) []OperationSummary {
	ops := table.Operations()
	summaries := make([]OperationSummary, 0, len(ops))
	for _, op := range ops {
		c := table.Chain(op)
		summaries = append(summaries, OperationSummary{Name: op, Pre: len(c.Pre), Post: len(c.Post)})
	}
	return summaries
}
