// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package plugin

import (
	"sync"

	hosterr "github.com/sigil-dev/plughost/pkg/errors"
)

// PluginState is the bootstrap progress of one configured plugin.
type PluginState int

const (
	StateConfigured PluginState = iota
	StateResolved
	StateInstalled
	StateMounted
	StateFailed
)

func (s PluginState) String() string {
	switch s {
	case StateConfigured:
		return "configured"
	case StateResolved:
		return "resolved"
	case StateInstalled:
		return "installed"
	case StateMounted:
		return "mounted"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// validTransitions defines allowed state transitions as an adjacency list.
// resolved -> mounted covers a failed install whose mount is still attempted.
var validTransitions = map[PluginState]map[PluginState]bool{
	StateConfigured: {
		StateResolved: true,
		StateFailed:   true,
	},
	StateResolved: {
		StateInstalled: true,
		StateMounted:   true,
		StateFailed:    true,
	},
	StateInstalled: {
		StateMounted: true,
		StateFailed:  true,
	},
	StateMounted: {},
	StateFailed:  {},
}

// ValidTransition returns true if transitioning from one state to another is allowed.
func ValidTransition(from, to PluginState) bool {
	allowed, exists := validTransitions[from][to]
	return exists && allowed
}

// Instance tracks one plugin through the bootstrap pass.
type Instance struct {
	mu    sync.RWMutex
	name  string
	state PluginState
	err   error
}

func NewInstance(name string, state PluginState) *Instance {
	return &Instance{
		name:  name,
		state: state,
	}
}

func (i *Instance) Name() string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.name
}

func (i *Instance) State() PluginState {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.state
}

// Err returns the error recorded by Fail, if any.
func (i *Instance) Err() error {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.err
}

// TransitionTo attempts to transition to a new state. Returns an error if the
// transition is not valid.
func (i *Instance) TransitionTo(newState PluginState) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !ValidTransition(i.state, newState) {
		return hosterr.Errorf(hosterr.CodePluginLifecycleTransitionInvalid,
			"invalid state transition: %s -> %s", i.state, newState)
	}

	i.state = newState
	return nil
}

// Fail moves the instance to StateFailed and records cause.
func (i *Instance) Fail(cause error) error {
	if err := i.TransitionTo(StateFailed); err != nil {
		return err
	}
	i.mu.Lock()
	i.err = cause
	i.mu.Unlock()
	return nil
}

// Status is a point-in-time view of an Instance.
type Status struct {
	Name  string
	State PluginState
	Err   error
}

func (i *Instance) Status() Status {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return Status{Name: i.name, State: i.state, Err: i.err}
}
