// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server

import "slices"

// operations is the catalogue of API operations, grouped by resource.
var operations = []string{
	"swaggerJSON",
	"swaggerDoc",
	"login",
	"logout",
	"test",
	"version",
	"listPlugins",

	"listOrgs",
	"getOrg",
	"createOrg",
	"patchOrg",
	"deleteOrg",

	"listProjects",
	"getProject",
	"createProject",
	"patchProject",
	"deleteProject",

	"listBranches",
	"getBranch",
	"createBranch",
	"deleteBranch",

	"listElements",
	"getElement",
	"createElement",
	"patchElement",
	"deleteElement",

	"listUsers",
	"getUser",
	"createUser",
	"patchUser",
	"patchPassword",
	"deleteUser",
}

// reserved operations never accept plugin hooks.
var reserved = []string{
	"swaggerJSON",
	"swaggerDoc",
	"login",
	"logout",
	"test",
	"version",
	"patchPassword",
	"listPlugins",
}

// Operations returns every operation name in catalogue order.
func Operations() []string {
	return slices.Clone(operations)
}

// ReservedOperations returns the operations plugins may not hook.
func ReservedOperations() []string {
	return slices.Clone(reserved)
}

// ExtensibleOperations returns the catalogue minus the reserved subset,
// preserving catalogue order.
func ExtensibleOperations() []string {
	ops := make([]string, 0, len(operations))
	for _, op := range operations {
		if !slices.Contains(reserved, op) {
			ops = append(ops, op)
		}
	}
	return ops
}

// IsExtensible reports whether plugins may register hooks on op.
func IsExtensible(op string) bool {
	return slices.Contains(operations, op) && !slices.Contains(reserved, op)
}
