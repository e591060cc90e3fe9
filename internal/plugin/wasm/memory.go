// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package wasm

import (
	"regexp"
	"strconv"
	"strings"

	hosterr "github.com/sigil-dev/plughost/pkg/errors"
)

// PageSize is the WebAssembly linear memory page size in bytes.
const PageSize = 64 * 1024

// MaxPages is the most pages a 32-bit guest can address.
const MaxPages = 65536

var memoryLimitPattern = regexp.MustCompile(`^([1-9][0-9]*)(Ki|Mi|Gi)?$`)

// ParseMemoryLimit parses limits like "64Mi", "1Gi", or raw bytes "4096"
// and returns the number of guest pages needed to hold them, rounded up.
func ParseMemoryLimit(limit string) (uint32, error) {
	match := memoryLimitPattern.FindStringSubmatch(strings.TrimSpace(limit))
	if len(match) != 3 {
		return 0, hosterr.Errorf(hosterr.CodeConfigValidateInvalidValue,
			"memory_limit must match <positive-int>[Ki|Mi|Gi], got %q", limit)
	}

	base, err := strconv.ParseInt(match[1], 10, 64)
	if err != nil {
		return 0, hosterr.Wrapf(err, hosterr.CodeConfigValidateInvalidValue,
			"parsing memory_limit %q", limit)
	}

	factor := int64(1)
	switch match[2] {
	case "Ki":
		factor = 1024
	case "Mi":
		factor = 1024 * 1024
	case "Gi":
		factor = 1024 * 1024 * 1024
	}

	value := base * factor
	if value/factor != base {
		return 0, hosterr.Errorf(hosterr.CodeConfigValidateInvalidValue,
			"memory_limit %q overflows int64", limit)
	}

	pages := (value + PageSize - 1) / PageSize
	if pages > MaxPages {
		return 0, hosterr.Errorf(hosterr.CodeConfigValidateInvalidValue,
			"memory_limit %q exceeds the 4Gi guest address space", limit)
	}
	return uint32(pages), nil
}
