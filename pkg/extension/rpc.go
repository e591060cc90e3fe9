// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package extension

import (
	"context"
	"net/rpc"

	"github.com/hashicorp/go-plugin"
	"google.golang.org/grpc"
)

const (
	protocolVersion = 1
	magicCookieKey  = "PLUGHOST_PLUGIN"
	magicCookieVal  = "cGx1Z2hvc3QtZXh0ZW5zaW9u" // "plughost-extension" base64

	// PluginName is the key the host dispenses the extension under.
	PluginName = "extension"
)

// HandshakeConfig is shared by the host and plugin binaries. A binary that
// does not present the cookie is rejected before any RPC is attempted.
func HandshakeConfig() plugin.HandshakeConfig {
	return plugin.HandshakeConfig{
		ProtocolVersion:  protocolVersion,
		MagicCookieKey:   magicCookieKey,
		MagicCookieValue: magicCookieVal,
	}
}

// PluginMap returns the go-plugin set for impl. The host passes a nil impl.
func PluginMap(impl Extension) map[string]plugin.Plugin {
	return map[string]plugin.Plugin{
		PluginName: &Plugin{Impl: impl},
	}
}

// Serve runs impl as a plugin process speaking gRPC. It blocks until the
// host disconnects.
func Serve(impl Extension) {
	plugin.Serve(&plugin.ServeConfig{
		HandshakeConfig: HandshakeConfig(),
		Plugins:         PluginMap(impl),
		GRPCServer:      plugin.DefaultGRPCServer,
	})
}

// ServeNetRPC runs impl over go-plugin's net/rpc transport. The host
// accepts both; new plugins should call Serve.
func ServeNetRPC(impl Extension) {
	plugin.Serve(&plugin.ServeConfig{
		HandshakeConfig: HandshakeConfig(),
		Plugins:         PluginMap(impl),
	})
}

// Plugin adapts an Extension to both go-plugin transports. go-plugin picks
// the gRPC or net/rpc pair depending on what the plugin process serves.
type Plugin struct {
	Impl Extension
}

var (
	_ plugin.Plugin     = (*Plugin)(nil)
	_ plugin.GRPCPlugin = (*Plugin)(nil)
)

func (p *Plugin) GRPCServer(_ *plugin.GRPCBroker, s *grpc.Server) error {
	RegisterGRPCServer(s, p.Impl)
	return nil
}

func (p *Plugin) GRPCClient(_ context.Context, _ *plugin.GRPCBroker, c *grpc.ClientConn) (interface{}, error) {
	return NewGRPCClient(c), nil
}

func (p *Plugin) Server(*plugin.MuxBroker) (interface{}, error) {
	return &RPCServer{Impl: p.Impl}, nil
}

func (p *Plugin) Client(_ *plugin.MuxBroker, c *rpc.Client) (interface{}, error) {
	return &RPCClient{client: c}, nil
}

// RunHookArgs carries a hook call across the RPC boundary.
type RunHookArgs struct {
	Name       string
	Invocation *Invocation
}

// RunHookResponse returns the invocation as the hook left it.
type RunHookResponse struct {
	Invocation *Invocation
}

// RPCClient is the host-side Extension backed by a net/rpc plugin process.
type RPCClient struct {
	client *rpc.Client
}

// call issues method asynchronously so ctx can abandon a slow plugin.
func (c *RPCClient) call(ctx context.Context, method string, args, reply any) error {
	pending := c.client.Go(method, args, reply, make(chan *rpc.Call, 1))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case done := <-pending.Done:
		return done.Error
	}
}

func (c *RPCClient) Handle(ctx context.Context, req *Request) (*Response, error) {
	var resp Response
	if err := c.call(ctx, "Plugin.Handle", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *RPCClient) Hooks(ctx context.Context) ([]string, error) {
	var names []string
	if err := c.call(ctx, "Plugin.Hooks", new(interface{}), &names); err != nil {
		return nil, err
	}
	return names, nil
}

func (c *RPCClient) RunHook(ctx context.Context, name string, inv *Invocation) error {
	var resp RunHookResponse
	if err := c.call(ctx, "Plugin.RunHook", &RunHookArgs{Name: name, Invocation: inv}, &resp); err != nil {
		return err
	}
	if inv != nil && resp.Invocation != nil {
		*inv = *resp.Invocation
	}
	return nil
}

// RPCServer is the plugin-side receiver for RPCClient calls. net/rpc carries
// no deadline, so calls run under a background context.
type RPCServer struct {
	Impl Extension
}

func (s *RPCServer) Handle(req *Request, resp *Response) error {
	r, err := s.Impl.Handle(context.Background(), req)
	if err != nil {
		return err
	}
	if r != nil {
		*resp = *r
	}
	return nil
}

func (s *RPCServer) Hooks(_ interface{}, resp *[]string) error {
	names, err := s.Impl.Hooks(context.Background())
	if err != nil {
		return err
	}
	*resp = names
	return nil
}

func (s *RPCServer) RunHook(args *RunHookArgs, resp *RunHookResponse) error {
	if err := s.Impl.RunHook(context.Background(), args.Name, args.Invocation); err != nil {
		return err
	}
	resp.Invocation = args.Invocation
	return nil
}
