// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package goplugin_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-plugin"
	hostplugin "github.com/sigil-dev/plughost/internal/plugin"
	"github.com/sigil-dev/plughost/internal/plugin/goplugin"
	"github.com/sigil-dev/plughost/internal/plugin/sandbox"
	hosterr "github.com/sigil-dev/plughost/pkg/errors"
	"github.com/sigil-dev/plughost/pkg/extension"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// transportEnv makes the test plugin binary serve net/rpc instead of gRPC.
const transportEnv = "PLUGHOST_TEST_TRANSPORT"

// TestMain doubles as a plugin binary: go-plugin sets the handshake cookie
// in the child's environment.
func TestMain(m *testing.M) {
	if os.Getenv(extension.HandshakeConfig().MagicCookieKey) != "" {
		serveTestPlugin()
		return
	}
	os.Exit(m.Run())
}

func serveTestPlugin() {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ping", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "pong")
	})
	ext := extension.New(mux, map[string]extension.HookFunc{
		"deny": func(_ context.Context, inv *extension.Invocation) error {
			return errors.New("denied " + inv.Operation)
		},
		"stamp": func(_ context.Context, inv *extension.Invocation) error {
			inv.Body = []byte("stamped")
			return nil
		},
	})
	if os.Getenv(transportEnv) == "netrpc" {
		extension.ServeNetRPC(ext)
		return
	}
	extension.Serve(ext)
}

func TestHost_ClientConfig(t *testing.T) {
	config := goplugin.ClientConfig("/nonexistent/binary", "/nonexistent", nil, hclog.NewNullLogger())
	require.NotNil(t, config)
	assert.Equal(t, "/nonexistent/binary", config.Cmd.Path)
	assert.Equal(t, "/nonexistent", config.Cmd.Dir)
	assert.Equal(t, extension.HandshakeConfig(), config.HandshakeConfig)
	assert.Contains(t, config.Plugins, extension.PluginName)
	assert.Equal(t, []plugin.Protocol{plugin.ProtocolGRPC, plugin.ProtocolNetRPC}, config.AllowedProtocols)
}

func TestHost_ClientConfig_WithSandbox(t *testing.T) {
	sandboxCmd := []string{"bwrap", "--ro-bind", "/usr", "/usr", "--"}
	config := goplugin.ClientConfig("/nonexistent/binary", "", sandboxCmd, hclog.NewNullLogger())
	assert.Equal(t, "bwrap", config.Cmd.Path)
	assert.Equal(t, "/nonexistent/binary", config.Cmd.Args[len(config.Cmd.Args)-1])
}

func TestHost_BuildCommand_NoSliceMutation(t *testing.T) {
	// append(sandboxCmd, binaryPath) could mutate the caller's slice when
	// spare capacity exists.
	sandboxCmd := make([]string, 3, 10)
	sandboxCmd[0] = "bwrap"
	sandboxCmd[1] = "--ro-bind"
	sandboxCmd[2] = "/usr"

	original := make([]string, len(sandboxCmd))
	copy(original, sandboxCmd)

	_ = goplugin.ClientConfig("/my/binary", "", sandboxCmd, hclog.NewNullLogger())
	_ = goplugin.ClientConfig("/other/binary", "", sandboxCmd, hclog.NewNullLogger())

	assert.Equal(t, original, sandboxCmd)
	assert.Empty(t, sandboxCmd[:4][3], "spare capacity must stay untouched")
}

func TestLoader_MissingEntrypoint(t *testing.T) {
	l := goplugin.NewLoader(goplugin.Options{Logger: hclog.NewNullLogger()})
	dir := t.TempDir()

	_, err := l.Load(context.Background(), hostplugin.LoadRequest{
		Name: "alpha", Namespace: "alpha", Dir: dir,
		Manifest: &hostplugin.Manifest{Main: "bin/alpha"},
	})
	require.Error(t, err)
	assert.True(t, hosterr.HasCode(err, hosterr.CodePluginRuntimeStartFailure))
	assert.Equal(t, "alpha", hosterr.FieldsOf(err)["plugin"])

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "bin", "alpha"), 0o755))
	_, err = l.Load(context.Background(), hostplugin.LoadRequest{
		Name: "alpha", Namespace: "alpha", Dir: dir,
		Manifest: &hostplugin.Manifest{Main: "bin/alpha"},
	})
	assert.True(t, hosterr.HasCode(err, hosterr.CodePluginRuntimeStartFailure))
}

func TestLoader_ServesProcessPlugin(t *testing.T) {
	if testing.Short() {
		t.Skip("starts a plugin process")
	}
	exe, err := os.Executable()
	require.NoError(t, err)

	for _, transport := range []string{"grpc", "netrpc"} {
		t.Run(transport, func(t *testing.T) {
			t.Setenv(transportEnv, transport)

			l := goplugin.NewLoader(goplugin.Options{Logger: hclog.NewNullLogger()})
			mod, err := l.Load(context.Background(), hostplugin.LoadRequest{
				Name: "alpha", Namespace: "alpha", Dir: filepath.Dir(exe),
				Manifest: &hostplugin.Manifest{Main: filepath.Base(exe)},
			})
			require.NoError(t, err)
			t.Cleanup(func() { _ = mod.Close() })

			router := chi.NewRouter()
			router.Mount("/alpha", mod)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/alpha/ping", nil))
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, "pong", rec.Body.String())

			deny, ok := mod.Hook("deny")
			require.True(t, ok)
			err = deny(context.Background(), &extension.Invocation{Operation: "createElement"})
			require.Error(t, err)
			assert.Contains(t, err.Error(), "denied createElement")

			stamp, ok := mod.Hook("stamp")
			require.True(t, ok)
			inv := &extension.Invocation{Operation: "createElement", Body: []byte("original")}
			require.NoError(t, stamp(context.Background(), inv))
			assert.Equal(t, "stamped", string(inv.Body))

			_, ok = mod.Hook("missing")
			assert.False(t, ok)
		})
	}
}

func TestLoader_SandboxUnsupported(t *testing.T) {
	if runtime.GOOS == "linux" {
		t.Skip("sandbox is supported on linux")
	}
	exe, err := os.Executable()
	require.NoError(t, err)

	l := goplugin.NewLoader(goplugin.Options{Sandbox: &sandbox.Policy{}, Logger: hclog.NewNullLogger()})
	_, err = l.Load(context.Background(), hostplugin.LoadRequest{
		Name: "alpha", Namespace: "alpha", Dir: filepath.Dir(exe),
		Manifest: &hostplugin.Manifest{Main: filepath.Base(exe)},
	})
	assert.True(t, hosterr.HasCode(err, hosterr.CodePluginSandboxUnsupported))
}
