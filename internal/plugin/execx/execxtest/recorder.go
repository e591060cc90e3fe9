// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package execxtest provides a scriptable execx.Runner for tests.
package execxtest

import (
	"context"
	"sync"

	"github.com/sigil-dev/plughost/internal/plugin/execx"
)

// Recorder records every command and delegates to Handler when set.
type Recorder struct {
	mu       sync.Mutex
	commands []execx.Command

	// Handler decides the outcome of a command. Nil means success with no output.
	Handler func(ctx context.Context, cmd execx.Command) (string, error)
}

func (r *Recorder) Run(ctx context.Context, cmd execx.Command) (string, error) {
	r.mu.Lock()
	r.commands = append(r.commands, cmd)
	r.mu.Unlock()

	if r.Handler == nil {
		return "", nil
	}
	return r.Handler(ctx, cmd)
}

// Commands returns a snapshot of the recorded commands in call order.
func (r *Recorder) Commands() []execx.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]execx.Command, len(r.commands))
	copy(out, r.commands)
	return out
}
