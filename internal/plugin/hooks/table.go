// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package hooks aggregates plugin pre/post hooks into per-operation chains.
package hooks

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/sigil-dev/plughost/pkg/extension"
)

// Hook runs before or after an operation's core handler. A non-nil error
// aborts the chain.
type Hook func(ctx context.Context, inv *extension.Invocation) error

// Resolver looks up a hook by the name declared in middleware.yaml.
type Resolver interface {
	Hook(name string) (Hook, bool)
}

// Chain holds the ordered hooks for one operation.
type Chain struct {
	Pre  []Hook
	Post []Hook
}

func (c Chain) clone() Chain {
	return Chain{Pre: slices.Clone(c.Pre), Post: slices.Clone(c.Post)}
}

// Builder accumulates hooks during bootstrap. It is not safe for concurrent
// use; call Build once all plugins are registered.
type Builder struct {
	ops    []string
	chains map[string]*Chain
}

// NewBuilder initializes an empty chain for every extensible operation.
func NewBuilder(ops []string) *Builder {
	b := &Builder{
		ops:    slices.Clone(ops),
		chains: make(map[string]*Chain, len(ops)),
	}
	for _, op := range ops {
		b.chains[op] = &Chain{Pre: []Hook{}, Post: []Hook{}}
	}
	return b
}

// Register appends the plugin's declared hooks. Invalid entries are logged
// and skipped as a unit; the remaining entries still apply. It returns the
// number of entries applied.
func (b *Builder) Register(plugin string, entries []Entry, resolver Resolver) int {
	applied := 0
	for _, e := range entries {
		log := slog.With("plugin", plugin, "operation", e.Operation)

		if e.Err != nil {
			log.Warn("skipping middleware entry", "error", e.Err)
			continue
		}
		if extra := e.unsupportedKeys(); len(extra) > 0 {
			log.Warn("skipping middleware entry: unsupported keys",
				"keys", strings.Join(extra, ","))
			continue
		}
		chain, ok := b.chains[e.Operation]
		if !ok {
			log.Warn("skipping middleware entry: operation is not extensible")
			continue
		}

		pre, ok := resolve(resolver, e.Pre)
		if !ok {
			log.Warn("skipping middleware entry: pre hook not found", "hook", e.Pre)
			continue
		}
		post, ok := resolve(resolver, e.Post)
		if !ok {
			log.Warn("skipping middleware entry: post hook not found", "hook", e.Post)
			continue
		}

		if pre != nil {
			chain.Pre = append(chain.Pre, pre)
		}
		if post != nil {
			chain.Post = append(chain.Post, post)
		}
		applied++
		log.Debug("registered middleware", "pre", e.Pre, "post", e.Post)
	}
	return applied
}

// resolve treats an empty name as "not declared".
func resolve(r Resolver, name string) (Hook, bool) {
	if name == "" {
		return nil, true
	}
	if r == nil {
		return nil, false
	}
	return r.Hook(name)
}

// Build freezes the accumulated chains into a Table.
func (b *Builder) Build() *Table {
	t := &Table{
		ops:    slices.Clone(b.ops),
		chains: make(map[string]Chain, len(b.chains)),
	}
	for op, c := range b.chains {
		t.chains[op] = c.clone()
	}
	return t
}

// Table is the immutable operation to hook-chain mapping.
type Table struct {
	ops    []string
	chains map[string]Chain
}

// Operations returns the extensible operations in catalogue order.
func (t *Table) Operations() []string {
	return slices.Clone(t.ops)
}

// Has reports whether op is an extensible operation.
func (t *Table) Has(op string) bool {
	_, ok := t.chains[op]
	return ok
}

// Chain returns a copy of op's hooks. Unknown operations yield an empty chain.
func (t *Table) Chain(op string) Chain {
	c, ok := t.chains[op]
	if !ok {
		return Chain{Pre: []Hook{}, Post: []Hook{}}
	}
	return c.clone()
}

func (t *Table) Pre(op string) []Hook  { return t.Chain(op).Pre }
func (t *Table) Post(op string) []Hook { return t.Chain(op).Post }

// Wrap composes op's chain around core: pre hooks in order, core, then post
// hooks in order. The first error stops the chain and is returned as is.
//
// The chain works on a copy of the caller's invocation. Pre hooks may rewrite
// its Params and Body; core and the post hooks receive the rewritten copy.
func (t *Table) Wrap(op string, core Hook) Hook {
	c := t.Chain(op)
	return func(ctx context.Context, inv *extension.Invocation) error {
		scoped := cloneInvocation(inv)
		if err := runPhase(ctx, c.Pre, extension.PhasePre, scoped); err != nil {
			return err
		}
		if core != nil {
			scoped.Phase = ""
			if err := core(ctx, scoped); err != nil {
				return err
			}
		}
		return runPhase(ctx, c.Post, extension.PhasePost, scoped)
	}
}

// Run is shorthand for Wrap(op, core)(ctx, inv).
func (t *Table) Run(ctx context.Context, op string, inv *extension.Invocation, core Hook) error {
	return t.Wrap(op, core)(ctx, inv)
}

func runPhase(ctx context.Context, hooks []Hook, phase extension.Phase, inv *extension.Invocation) error {
	inv.Phase = phase
	for _, h := range hooks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := h(ctx, inv); err != nil {
			return err
		}
	}
	return nil
}

func cloneInvocation(inv *extension.Invocation) *extension.Invocation {
	if inv == nil {
		return &extension.Invocation{}
	}
	c := *inv
	c.Params = maps.Clone(inv.Params)
	c.Body = slices.Clone(inv.Body)
	return &c
}
