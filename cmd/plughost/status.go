// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/sigil-dev/plughost/internal/plugin"
	"github.com/sigil-dev/plughost/internal/server"
	hosterr "github.com/sigil-dev/plughost/pkg/errors"
)

func (c *cli) newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show a running host's health and loaded plugins",
		RunE:  c.runStatus,
	}

	cmd.Flags().String("address", "", "host address to check (default networking.listen)")

	return cmd
}

func (c *cli) runStatus(cmd *cobra.Command, _ []string) error {
	addr, _ := cmd.Flags().GetString("address")
	if addr == "" {
		addr = c.v.GetString("networking.listen")
	}
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	client := newHostClient(addr)

	var health struct {
		Status string `json:"status"`
	}
	if err := client.getJSON(ctx, "/health", &health); err != nil {
		if hosterr.HasCode(err, hosterr.CodeCLIHostNotRunning) {
			_, _ = fmt.Fprintf(out, "Host at %s is not running\n", addr)
			return nil
		}
		return err
	}
	_, _ = fmt.Fprintf(out, "Host at %s: %s\n", addr, health.Status)

	var list struct {
		Plugins []plugin.Record `json:"plugins"`
	}
	if err := client.getJSON(ctx, "/api/v1/plugins", &list); err != nil {
		return err
	}
	if len(list.Plugins) == 0 {
		_, err := fmt.Fprintln(out, "No plugins loaded")
		return err
	}

	t := newTable(out, table.Row{"Name", "Title"})
	for _, r := range list.Plugins {
		t.AppendRow(table.Row{r.Name, r.Title})
	}
	t.Render()

	var ops struct {
		Operations []server.OperationSummary `json:"operations"`
	}
	if err := client.getJSON(ctx, "/api/v1/operations", &ops); err != nil {
		return err
	}
	hooked := newTable(out, table.Row{"Operation", "Pre", "Post"})
	rows := 0
	for _, op := range ops.Operations {
		if op.Pre+op.Post == 0 {
			continue
		}
		hooked.AppendRow(table.Row{op.Name, op.Pre, op.Post})
		rows++
	}
	if rows > 0 {
		_, _ = fmt.Fprintln(out)
		hooked.Render()
	}
	return nil
}
