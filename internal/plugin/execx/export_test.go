// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package execx

// ShellFor exposes the OS-specific shell selection for tests.
var ShellFor = shellFor
