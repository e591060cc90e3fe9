// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server_test

import (
	"testing"

	"github.com/sigil-dev/plughost/internal/server"
	"github.com/stretchr/testify/assert"
)

func TestOperations_ReservedExcluded(t *testing.T) {
	ext := server.ExtensibleOperations()
	for _, op := range server.ReservedOperations() {
		assert.Contains(t, server.Operations(), op, "reserved operation must be in the catalogue")
		assert.NotContains(t, ext, op)
		assert.False(t, server.IsExtensible(op), op)
	}
	assert.Len(t, ext, len(server.Operations())-len(server.ReservedOperations()))
}

func TestOperations_ExtensibleKeepsCatalogueOrder(t *testing.T) {
	all := server.Operations()
	ext := server.ExtensibleOperations()

	last := -1
	for _, op := range ext {
		idx := indexOf(all, op)
		assert.Greater(t, idx, last, op)
		last = idx
	}
	assert.Contains(t, ext, "createElement")
	assert.True(t, server.IsExtensible("createElement"))
	assert.False(t, server.IsExtensible("unknownOp"))
}

func TestOperations_ReturnsCopies(t *testing.T) {
	ops := server.Operations()
	ops[0] = "mutated"
	assert.NotEqual(t, "mutated", server.Operations()[0])

	reserved := server.ReservedOperations()
	reserved[0] = "mutated"
	assert.NotEqual(t, "mutated", server.ReservedOperations()[0])
}

func indexOf(list []string, v string) int {
	for i, s := range list {
		if s == v {
			return i
		}
	}
	return -1
}
