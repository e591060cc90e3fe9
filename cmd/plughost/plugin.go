// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/sigil-dev/plughost/internal/config"
	"github.com/sigil-dev/plughost/internal/plugin"
	"github.com/sigil-dev/plughost/internal/plugin/hooks"
	"github.com/sigil-dev/plughost/internal/server"
	hosterr "github.com/sigil-dev/plughost/pkg/errors"
)

func (c *cli) newPluginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugin",
		Short: "Inspect configured plugins",
		Long:  "List and inspect configured plugins, reconcile the plugins root, and show hookable operations.",
	}

	cmd.AddCommand(
		c.newPluginListCmd(),
		c.newPluginReconcileCmd(),
		c.newPluginInspectCmd(),
		c.newPluginOpsCmd(),
	)

	return cmd
}

func newTable(w io.Writer, header table.Row) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(header)
	style := table.StyleLight
	style.Options.DrawBorder = false
	t.SetStyle(style)
	return t
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func (c *cli) newPluginListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured plugins in processing order",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(cfg.Plugins) == 0 {
				_, err := fmt.Fprintln(out, "No plugins configured")
				return err
			}

			t := newTable(out, table.Row{"#", "Name", "Namespace", "Kind", "Source", "Version", "Self-test"})
			for i, p := range cfg.Plugins {
				d := p.Descriptor()
				t.AppendRow(table.Row{i + 1, d.Name, d.Namespace(), d.Kind().String(), d.Source, d.Version, yesNo(d.TestOnStartup)})
			}
			t.Render()
			return nil
		},
	}
}

func (c *cli) newPluginReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Remove plugins-root entries that are not configured or lack plugin.yaml",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}

			names := make([]string, len(cfg.Plugins))
			for i, p := range cfg.Plugins {
				names[i] = p.Name
			}
			res, err := plugin.Reconcile(cfg.PluginsDir, names)

			out := cmd.OutOrStdout()
			if removed := res.Removed(); len(removed) == 0 {
				_, _ = fmt.Fprintf(out, "Nothing to remove under %s\n", cfg.PluginsDir)
			} else {
				t := newTable(out, table.Row{"Entry", "Reason"})
				for _, name := range res.Unconfigured {
					t.AppendRow(table.Row{name, "not configured"})
				}
				for _, name := range res.Invalid {
					t.AppendRow(table.Row{name, "missing " + plugin.ManifestFile})
				}
				t.Render()
			}
			return err
		},
	}
}

func (c *cli) newPluginInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <name>",
		Short: "Show a plugin's configuration, manifest, and declared hooks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			p, ok := cfg.Plugin(args[0])
			if !ok {
				return hosterr.Errorf(hosterr.CodeCLIInputInvalid, "plugin %q is not configured", args[0])
			}
			return inspectPlugin(cmd.OutOrStdout(), cfg, p)
		},
	}
}

func inspectPlugin(out io.Writer, cfg *config.Config, p config.PluginConfig) error {
	d := p.Descriptor()
	dir := filepath.Join(cfg.PluginsDir, d.Name)

	t := newTable(out, table.Row{"Field", "Value"})
	t.AppendRows([]table.Row{
		{"Name", d.Name},
		{"Namespace", d.Namespace()},
		{"Route", server.PluginPrefix + "/" + d.Namespace()},
		{"Source", d.Source},
		{"Kind", d.Kind().String()},
		{"Version", d.Version},
		{"Self-test", yesNo(d.TestOnStartup)},
		{"Directory", dir},
	})

	m, err := plugin.LoadManifest(dir)
	if err != nil {
		t.AppendRow(table.Row{"Manifest", "unavailable: " + err.Error()})
		t.Render()
		return nil
	}

	title := d.Title
	if title == "" {
		title = m.Title
	}
	engine := m.Engine
	if engine != "" && cfg.HostVersion != "" {
		if err := m.CheckEngine(cfg.HostVersion); err != nil {
			engine += " (incompatible with " + cfg.HostVersion + ")"
		} else {
			engine += " (ok)"
		}
	}
	t.AppendRows([]table.Row{
		{"Title", title},
		{"Main", m.Main},
		{"Loader", loaderKind(m)},
		{"Engine", engine},
		{"Dependencies", len(m.Dependencies)},
		{"Build script", m.Scripts.Build},
	})
	t.Render()

	entries, err := hooks.LoadManifest(dir)
	if err != nil {
		_, err = fmt.Fprintf(out, "\n%s: %v\n", hooks.ManifestFile, err)
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	_, _ = fmt.Fprintln(out)
	ht := newTable(out, table.Row{"Operation", "Pre", "Post", "Status"})
	for _, e := range entries {
		ht.AppendRow(table.Row{e.Operation, e.Pre, e.Post, entryStatus(e)})
	}
	ht.Render()
	return nil
}

func loaderKind(m *plugin.Manifest) string {
	switch {
	case m.IsBuiltin():
		return "builtin"
	case m.IsWasm():
		return "wasm"
	default:
		return "process"
	}
}

func entryStatus(e hooks.Entry) string {
	switch {
	case e.Err != nil:
		return "invalid: " + e.Err.Error()
	case !server.IsExtensible(e.Operation):
		return "skipped: operation is not extensible"
	}
	for _, k := range e.Keys {
		if k != "pre" && k != "post" {
			return "skipped: unsupported key " + k
		}
	}
	return "ok"
}

func (c *cli) newPluginOpsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ops",
		Short: "List operations and the plugins declaring hooks on them",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}

			declared := map[string][]string{}
			for _, p := range cfg.Plugins {
				entries, err := hooks.LoadManifest(filepath.Join(cfg.PluginsDir, p.Name))
				if err != nil {
					continue
				}
				for _, e := range entries {
					declared[e.Operation] = append(declared[e.Operation], p.Name)
				}
			}

			t := newTable(cmd.OutOrStdout(), table.Row{"Operation", "Extensible", "Declared by"})
			for _, op := range server.Operations() {
				t.AppendRow(table.Row{op, yesNo(server.IsExtensible(op)), strings.Join(declared[op], ", ")})
			}
			t.Render()
			return nil
		},
	}
}
