// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sigil-dev/plughost/internal/config"
	"github.com/sigil-dev/plughost/internal/plugin"
	hosterr "github.com/sigil-dev/plughost/pkg/errors"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plughost.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func validConfig() *config.Config {
	return &config.Config{
		Networking: config.NetworkingConfig{Listen: "127.0.0.1:8080"},
		PluginsDir: "plugins",
		Exec:       config.ExecConfig{InstallCommand: []string{"go", "mod", "download"}},
	}
}

func TestLoad_DefaultValues(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8080", cfg.Networking.Listen)
	assert.Equal(t, "plugins", cfg.PluginsDir)
	assert.Equal(t, time.Duration(0), cfg.Exec.Timeout)
	assert.Equal(t, []string{"go", "mod", "download"}, cfg.Exec.InstallCommand)
	assert.False(t, cfg.Sandbox.Enabled)
	assert.Equal(t, 30*time.Second, cfg.Wasm.Timeout)
	assert.Empty(t, cfg.Wasm.MemoryLimit)
	assert.Empty(t, cfg.Plugins)
}

func TestLoad_FromFile(t *testing.T) {
	path := writeConfig(t, `
networking:
  listen: "0.0.0.0:9999"
  cors_origins: ["https://app.example.com"]
plugins_dir: /var/lib/plughost/plugins
proxy: http://proxy.internal:3128
host_version: 2.1.0
exec:
  timeout: 90s
  install_command: [npm, install]
self_test:
  command: "go test ./e2e/... -run {namespace}"
  dir: /srv/e2e
sandbox:
  enabled: true
  socket_dir: /run/plughost
  write_allow: [/var/cache/plughost]
  read_deny: [/root]
wasm:
  timeout: 5s
  memory_limit: 32Mi
plugins:
  - name: Zeta
    source: ./zeta
    title: Zeta Reports
  - name: alpha
    source: git@github.com:example/alpha.git
    version: v1.0.0
    deploy_key: /etc/plughost/alpha_key
    test_on_startup: true
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9999", cfg.Networking.Listen)
	assert.Equal(t, []string{"https://app.example.com"}, cfg.Networking.CORSOrigins)
	assert.Equal(t, "/var/lib/plughost/plugins", cfg.PluginsDir)
	assert.Equal(t, "http://proxy.internal:3128", cfg.Proxy)
	assert.Equal(t, "2.1.0", cfg.HostVersion)
	assert.Equal(t, 90*time.Second, cfg.Exec.Timeout)
	assert.Equal(t, []string{"npm", "install"}, cfg.Exec.InstallCommand)
	assert.Equal(t, "/srv/e2e", cfg.SelfTest.Dir)
	assert.True(t, cfg.Sandbox.Enabled)
	assert.Equal(t, "/run/plughost", cfg.Sandbox.SocketDir)
	assert.Equal(t, []string{"/var/cache/plughost"}, cfg.Sandbox.WriteAllow)
	assert.Equal(t, []string{"/root"}, cfg.Sandbox.ReadDeny)
	assert.False(t, cfg.Sandbox.Network)
	assert.Equal(t, 5*time.Second, cfg.Wasm.Timeout)
	assert.Equal(t, "32Mi", cfg.Wasm.MemoryLimit)

	assert.Equal(t, []plugin.Descriptor{
		{Name: "Zeta", Source: "./zeta", Title: "Zeta Reports"},
		{
			Name: "alpha", Source: "git@github.com:example/alpha.git", Version: "v1.0.0",
			DeployKey: "/etc/plughost/alpha_key", TestOnStartup: true,
		},
	}, cfg.Descriptors(), "order and name case survive loading")
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("PLUGHOST_NETWORKING_LISTEN", "10.0.0.1:8081")
	t.Setenv("PLUGHOST_EXEC_TIMEOUT", "45s")
	t.Setenv("PLUGHOST_SANDBOX_ENABLED", "true")

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:8081", cfg.Networking.Listen)
	assert.Equal(t, 45*time.Second, cfg.Exec.Timeout)
	assert.True(t, cfg.Sandbox.Enabled)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.True(t, hosterr.HasCode(err, hosterr.CodeConfigLoadReadFailure))
}

func TestLoad_CollectsAllValidationErrors(t *testing.T) {
	path := writeConfig(t, `
networking:
  listen: "no-port"
  cors_origins: ["*"]
proxy: "not a uri"
exec:
  install_command: []
plugins:
  - name: Alpha
    source: ./a
    test_on_startup: true
  - name: alpha
    source: ./b
`)

	_, err := config.Load(path)
	require.Error(t, err)
	assert.True(t, hosterr.HasCode(err, hosterr.CodeConfigValidateInvalidValue))
	for _, want := range []string{
		"networking.listen",
		"cors_origins[0]",
		"proxy must be an absolute URI",
		"exec.install_command",
		`plugins[1] "alpha" duplicates plugins[0]`,
		"self_test.command",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		errMsg string
	}{
		{"valid", func(*config.Config) {}, ""},
		{"ephemeral port", func(c *config.Config) { c.Networking.Listen = ":0" }, ""},
		{"empty listen", func(c *config.Config) { c.Networking.Listen = "" }, "networking.listen must not be empty"},
		{"port out of range", func(c *config.Config) { c.Networking.Listen = ":70000" }, "between 0 and 65535"},
		{"port not a number", func(c *config.Config) { c.Networking.Listen = "host:http" }, "port must be a number"},
		{"empty plugins dir", func(c *config.Config) { c.PluginsDir = " " }, "plugins_dir"},
		{"negative timeout", func(c *config.Config) { c.Exec.Timeout = -time.Second }, "exec.timeout"},
		{"proxy without scheme", func(c *config.Config) { c.Proxy = "proxy.internal:3128" }, "proxy"},
		{"negative wasm timeout", func(c *config.Config) { c.Wasm.Timeout = -time.Second }, "wasm.timeout"},
		{"wasm memory limit", func(c *config.Config) { c.Wasm.MemoryLimit = "64Mi" }, ""},
		{"bad wasm memory limit", func(c *config.Config) { c.Wasm.MemoryLimit = "64MB" }, "wasm.memory_limit"},
		{"plugin with separator", func(c *config.Config) {
			c.Plugins = []config.PluginConfig{{Name: "a/b", Source: "./a"}}
		}, "plugins[0]"},
		{"plugin named after routing entry", func(c *config.Config) {
			c.Plugins = []config.PluginConfig{{Name: plugin.ProtectedEntry, Source: "./a"}}
		}, "plugins[0]"},
		{"plugin without source", func(c *config.Config) {
			c.Plugins = []config.PluginConfig{{Name: "alpha"}}
		}, "plugin source must not be empty"},
		{"self-test configured", func(c *config.Config) {
			c.Plugins = []config.PluginConfig{{Name: "alpha", Source: "./a", TestOnStartup: true}}
			c.SelfTest.Command = "make e2e NS={namespace}"
		}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			errs := cfg.Validate()
			if tt.errMsg == "" {
				assert.Empty(t, errs)
				return
			}
			require.Len(t, errs, 1)
			assert.Contains(t, errs[0].Error(), tt.errMsg)
			assert.True(t, hosterr.HasCode(errs[0], hosterr.CodeConfigValidateInvalidValue))
		})
	}
}

func TestWasmConfig_MemoryLimitPages(t *testing.T) {
	pages, err := config.WasmConfig{}.MemoryLimitPages()
	require.NoError(t, err)
	assert.Zero(t, pages)

	pages, err = config.WasmConfig{MemoryLimit: "1Mi"}.MemoryLimitPages()
	require.NoError(t, err)
	assert.Equal(t, uint32(16), pages)
}

func TestConfig_Plugin(t *testing.T) {
	cfg := validConfig()
	cfg.Plugins = []config.PluginConfig{{Name: "Shop", Source: "./shop"}}

	p, ok := cfg.Plugin("shop")
	require.True(t, ok)
	assert.Equal(t, "Shop", p.Name)
	assert.Equal(t, "shop", p.Descriptor().Namespace())

	_, ok = cfg.Plugin("missing")
	assert.False(t, ok)
}

func TestFromViper_UsesSharedInstance(t *testing.T) {
	v := viper.New()
	config.SetDefaults(v)
	v.Set("plugins_dir", "/opt/plugins")

	cfg, err := config.FromViper(v)
	require.NoError(t, err)
	assert.Equal(t, "/opt/plugins", cfg.PluginsDir)
}

func TestDefaultConfigYAML_IsValid(t *testing.T) {
	path := writeConfig(t, string(config.DefaultConfigYAML))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8080", cfg.Networking.Listen)
	assert.Empty(t, cfg.Plugins)
}

func TestBootstrapConfig_WritesOnce(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	path := config.BootstrapConfig()
	require.NotEmpty(t, path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfigYAML, data)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	assert.Empty(t, config.BootstrapConfig(), "existing config is left alone")
}
