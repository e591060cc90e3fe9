// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package config

import (
	"errors"
	"net"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/sigil-dev/plughost/internal/plugin"
	"github.com/sigil-dev/plughost/internal/plugin/sandbox"
	"github.com/sigil-dev/plughost/internal/plugin/wasm"
	hosterr "github.com/sigil-dev/plughost/pkg/errors"
)

// EnvPrefix prefixes every environment override, e.g. PLUGHOST_PLUGINS_DIR.
const EnvPrefix = "PLUGHOST"

// Config is the top-level plughost configuration.
type Config struct {
	Networking  NetworkingConfig `mapstructure:"networking"`
	PluginsDir  string           `mapstructure:"plugins_dir"`
	Proxy       string           `mapstructure:"proxy"`
	HostVersion string           `mapstructure:"host_version"`
	Exec        ExecConfig       `mapstructure:"exec"`
	SelfTest    SelfTestConfig   `mapstructure:"self_test"`
	Sandbox     SandboxConfig    `mapstructure:"sandbox"`
	Wasm        WasmConfig       `mapstructure:"wasm"`
	Plugins     []PluginConfig   `mapstructure:"plugins"`
}

// NetworkingConfig controls how plughost listens for connections.
type NetworkingConfig struct {
	Listen      string   `mapstructure:"listen"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// ExecConfig bounds the external commands run during bootstrap.
type ExecConfig struct {
	// Timeout applies to each command. Zero means unbounded.
	Timeout        time.Duration `mapstructure:"timeout"`
	InstallCommand []string      `mapstructure:"install_command"`
}

// SelfTestConfig is the command run for plugins with test_on_startup.
// "{namespace}" in Command is replaced with the plugin namespace.
type SelfTestConfig struct {
	Command string `mapstructure:"command"`
	Dir     string `mapstructure:"dir"`
}

// SandboxConfig wraps process plugins in bwrap when enabled.
type SandboxConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	SocketDir string `mapstructure:"socket_dir"`

	sandbox.Policy `mapstructure:",squash"`
}

// WasmConfig limits plugins whose main is a .wasm module.
type WasmConfig struct {
	// Timeout bounds each guest call. Zero means unbounded.
	Timeout time.Duration `mapstructure:"timeout"`
	// MemoryLimit caps guest memory, e.g. "64Mi". Empty keeps the runtime default.
	MemoryLimit string `mapstructure:"memory_limit"`
}

// MemoryLimitPages converts MemoryLimit to guest pages. Zero means no limit.
func (w WasmConfig) MemoryLimitPages() (uint32, error) {
	if strings.TrimSpace(w.MemoryLimit) == "" {
		return 0, nil
	}
	return wasm.ParseMemoryLimit(w.MemoryLimit)
}

// PluginConfig is one entry of the ordered plugins list.
type PluginConfig struct {
	Name          string `mapstructure:"name"`
	Source        string `mapstructure:"source"`
	Version       string `mapstructure:"version"`
	DeployKey     string `mapstructure:"deploy_key"`
	Title         string `mapstructure:"title"`
	TestOnStartup bool   `mapstructure:"test_on_startup"`
}

// Descriptor converts the entry for bootstrap.
func (p PluginConfig) Descriptor() plugin.Descriptor {
	return plugin.Descriptor{
		Name:          p.Name,
		Source:        p.Source,
		Version:       p.Version,
		DeployKey:     p.DeployKey,
		Title:         p.Title,
		TestOnStartup: p.TestOnStartup,
	}
}

// Descriptors returns the configured plugins in order.
func (c *Config) Descriptors() []plugin.Descriptor {
	out := make([]plugin.Descriptor, 0, len(c.Plugins))
	for _, p := range c.Plugins {
		out = append(out, p.Descriptor())
	}
	return out
}

// Plugin finds a configured plugin by name, ignoring case.
func (c *Config) Plugin(name string) (PluginConfig, bool) {
	for _, p := range c.Plugins {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return PluginConfig{}, false
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("networking.listen", "127.0.0.1:8080")
	v.SetDefault("networking.cors_origins", []string{})
	v.SetDefault("plugins_dir", "plugins")
	v.SetDefault("proxy", "")
	v.SetDefault("host_version", "")
	v.SetDefault("exec.timeout", time.Duration(0))
	v.SetDefault("exec.install_command", slices.Clone(plugin.DefaultInstallCommand))
	v.SetDefault("self_test.command", "")
	v.SetDefault("self_test.dir", "")
	v.SetDefault("sandbox.enabled", false)
	v.SetDefault("sandbox.socket_dir", "")
	v.SetDefault("sandbox.network", false)
	v.SetDefault("wasm.timeout", 30*time.Second)
	v.SetDefault("wasm.memory_limit", "")
}

// SetupEnv binds PLUGHOST_* environment variables to nested keys.
func SetupEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load reads configuration from the given path (or defaults) with
// environment variable overrides (prefix PLUGHOST_).
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	SetupEnv(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, hosterr.Errorf(hosterr.CodeConfigLoadReadFailure, "reading config %s: %w", path, err)
		}
	}

	return FromViper(v)
}

// FromViper decodes and validates the configuration held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, hosterr.Errorf(hosterr.CodeConfigParseInvalidFormat, "unmarshalling config: %w", err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, hosterr.Errorf(hosterr.CodeConfigValidateInvalidValue, "validating config: %w", errors.Join(errs...))
	}

	return &cfg, nil
}

// Validate checks the configuration for logical errors.
// It returns a slice of all validation errors found, collecting all issues
// rather than stopping at the first one.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, c.validateNetworking()...)
	errs = append(errs, c.validateHost()...)
	errs = append(errs, c.validatePlugins()...)

	return errs
}

func invalid(format string, args ...any) error {
	return hosterr.Errorf(hosterr.CodeConfigValidateInvalidValue, "config: "+format, args...)
}

func (c *Config) validateNetworking() []error {
	var errs []error

	if c.Networking.Listen == "" {
		errs = append(errs, invalid("networking.listen must not be empty"))
	} else {
		_, portStr, err := net.SplitHostPort(c.Networking.Listen)
		if err != nil {
			errs = append(errs, invalid("networking.listen must be a valid host:port address, got %q: %w",
				c.Networking.Listen, err))
		} else if port, err := strconv.Atoi(portStr); err != nil {
			errs = append(errs, invalid("networking.listen port must be a number, got %q", portStr))
		} else if port < 0 || port > 65535 {
			errs = append(errs, invalid("networking.listen port must be between 0 and 65535, got %d", port))
		}
	}

	for i, origin := range c.Networking.CORSOrigins {
		if origin == "*" {
			errs = append(errs, invalid("networking.cors_origins[%d] must not be a wildcard", i))
		}
	}

	return errs
}

func (c *Config) validateHost() []error {
	var errs []error

	if strings.TrimSpace(c.PluginsDir) == "" {
		errs = append(errs, invalid("plugins_dir must not be empty"))
	}

	if c.Proxy != "" {
		u, err := url.Parse(c.Proxy)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, invalid("proxy must be an absolute URI, got %q", c.Proxy))
		}
	}

	if c.Exec.Timeout < 0 {
		errs = append(errs, invalid("exec.timeout must not be negative, got %s", c.Exec.Timeout))
	}
	if len(c.Exec.InstallCommand) == 0 || strings.TrimSpace(c.Exec.InstallCommand[0]) == "" {
		errs = append(errs, invalid("exec.install_command must name a program"))
	}

	if c.Wasm.Timeout < 0 {
		errs = append(errs, invalid("wasm.timeout must not be negative, got %s", c.Wasm.Timeout))
	}
	if _, err := c.Wasm.MemoryLimitPages(); err != nil {
		errs = append(errs, invalid("wasm.%w", err))
	}

	return errs
}

func (c *Config) validatePlugins() []error {
	var errs []error

	seen := make(map[string]int, len(c.Plugins))
	selfTests := false
	for i, p := range c.Plugins {
		if err := p.Descriptor().Validate(); err != nil {
			errs = append(errs, invalid("plugins[%d]: %w", i, err))
			continue
		}
		ns := strings.ToLower(p.Name)
		if first, dup := seen[ns]; dup {
			errs = append(errs, invalid("plugins[%d] %q duplicates plugins[%d]: namespaces must be unique ignoring case",
				i, p.Name, first))
			continue
		}
		seen[ns] = i
		selfTests = selfTests || p.TestOnStartup
	}

	if selfTests && strings.TrimSpace(c.SelfTest.Command) == "" {
		errs = append(errs, invalid("self_test.command must be set when a plugin enables test_on_startup"))
	}

	return errs
}
