// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Command openapi-gen writes the OpenAPI document for the plughost host API.
// The output format follows the file extension: .yaml or .yml for YAML,
// anything else for JSON.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sigil-dev/plughost/internal/server"
	hosterr "github.com/sigil-dev/plughost/pkg/errors"
)

func main() {
	outPath := "api/openapi/plughost.json"
	if len(os.Args) > 1 {
		outPath = os.Args[1]
	}

	spec, err := generateSpec(outPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "error creating output dir: %v\n", err)
		os.Exit(1)
	}

	if err := os.WriteFile(outPath, spec, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "error writing spec: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("OpenAPI spec written to %s\n", outPath)
}

// generateSpec builds a server without plugins and renders the document
// huma derives from the route registrations.
func generateSpec(outPath string) ([]byte, error) {
	srv, err := server.New(server.Config{ListenAddr: "127.0.0.1:0"})
	if err != nil {
		return nil, hosterr.Errorf(hosterr.CodeCLISetupFailure, "creating server: %w", err)
	}

	doc := srv.API().OpenAPI()
	switch strings.ToLower(filepath.Ext(outPath)) {
	case ".yaml", ".yml":
		return doc.YAML()
	default:
		return json.MarshalIndent(doc, "", "  ")
	}
}
