// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package plugin

import (
	"strings"

	"github.com/sigil-dev/plughost/internal/plugin/source"
	hosterr "github.com/sigil-dev/plughost/pkg/errors"
)

// Descriptor is one configured plugin.
type Descriptor struct {
	// Name is the on-disk directory name; lower-cased it is the namespace.
	Name   string
	Source string
	// Version and DeployKey only apply to git sources.
	Version       string
	DeployKey     string
	Title         string
	TestOnStartup bool
}

// Namespace is the route prefix segment for the plugin.
func (d Descriptor) Namespace() string {
	return strings.ToLower(d.Name)
}

// Kind classifies the descriptor's source.
func (d Descriptor) Kind() source.Kind {
	return source.Classify(d.Source)
}

// Target returns the resolver input for the descriptor.
func (d Descriptor) Target() source.Target {
	return source.Target{
		Name:      d.Name,
		Location:  d.Source,
		Version:   d.Version,
		DeployKey: d.DeployKey,
	}
}

// Validate checks that the name can serve as both directory and namespace.
func (d Descriptor) Validate() error {
	name := d.Name
	switch {
	case strings.TrimSpace(name) == "":
		return hosterr.New(hosterr.CodeConfigValidateInvalidValue, "plugin name must not be empty")
	case name == "." || name == "..":
		return hosterr.Errorf(hosterr.CodeConfigValidateInvalidValue, "plugin name %q is reserved", name)
	case strings.ContainsAny(name, `/\`):
		return hosterr.Errorf(hosterr.CodeConfigValidateInvalidValue,
			"plugin name %q must not contain path separators", name)
	case name == ProtectedEntry:
		return hosterr.Errorf(hosterr.CodeConfigValidateInvalidValue,
			"plugin name %q collides with the host routing entry", name)
	}
	if strings.TrimSpace(d.Source) == "" {
		return hosterr.New(hosterr.CodeConfigValidateInvalidValue, "plugin source must not be empty",
			hosterr.FieldPlugin(name))
	}
	return nil
}

// Record is a successfully mounted plugin as exposed to listings.
type Record struct {
	Name  string `json:"name"`
	Title string `json:"title"`
}
