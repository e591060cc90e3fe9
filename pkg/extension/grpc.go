// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package extension

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// GRPCServiceName is the fully qualified service the plugin registers.
const GRPCServiceName = "plughost.extension.v1.Extension"

const (
	grpcHandleMethod  = "/" + GRPCServiceName + "/Handle"
	grpcHooksMethod   = "/" + GRPCServiceName + "/Hooks"
	grpcRunHookMethod = "/" + GRPCServiceName + "/RunHook"
)

// Requests and invocations travel as JSON inside well-known wrapper
// messages:
//
//	Handle(BytesValue{Request}) returns (BytesValue{Response})
//	Hooks(Empty) returns (ListValue{string...})
//	RunHook(BytesValue{RunHookArgs}) returns (BytesValue{Invocation})
var extensionServiceDesc = grpc.ServiceDesc{
	ServiceName: GRPCServiceName,
	HandlerType: (*extensionGRPCService)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Handle",
			Handler: unaryHandler(grpcHandleMethod, func() any { return new(wrapperspb.BytesValue) },
				func(s extensionGRPCService, ctx context.Context, in any) (any, error) {
					return s.Handle(ctx, in.(*wrapperspb.BytesValue))
				}),
		},
		{
			MethodName: "Hooks",
			Handler: unaryHandler(grpcHooksMethod, func() any { return new(emptypb.Empty) },
				func(s extensionGRPCService, ctx context.Context, in any) (any, error) {
					return s.Hooks(ctx, in.(*emptypb.Empty))
				}),
		},
		{
			MethodName: "RunHook",
			Handler: unaryHandler(grpcRunHookMethod, func() any { return new(wrapperspb.BytesValue) },
				func(s extensionGRPCService, ctx context.Context, in any) (any, error) {
					return s.RunHook(ctx, in.(*wrapperspb.BytesValue))
				}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "plughost/extension/v1/extension.proto",
}

type extensionGRPCService interface {
	Handle(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	Hooks(context.Context, *emptypb.Empty) (*structpb.ListValue, error)
	RunHook(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
}

func unaryHandler(method string, newIn func() any, call func(extensionGRPCService, context.Context, any) (any, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := newIn()
		if err := dec(in); err != nil {
			return nil, err
		}
		svc := srv.(extensionGRPCService)
		if interceptor == nil {
			return call(svc, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(svc, ctx, req)
		})
	}
}

// RegisterGRPCServer exposes impl on s.
func RegisterGRPCServer(s grpc.ServiceRegistrar, impl Extension) {
	s.RegisterService(&extensionServiceDesc, &grpcServer{impl: impl})
}

// grpcServer is the plugin-side receiver for grpcClient calls.
type grpcServer struct {
	impl Extension
}

func (s *grpcServer) Handle(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	var req Request
	if err := json.Unmarshal(in.GetValue(), &req); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decoding request: %v", err)
	}
	resp, err := s.impl.Handle(ctx, &req)
	if err != nil {
		return nil, toStatus(err)
	}
	if resp == nil {
		resp = &Response{}
	}
	return marshalBytes(resp)
}

func (s *grpcServer) Hooks(ctx context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	names, err := s.impl.Hooks(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	values := make([]any, len(names))
	for i, n := range names {
		values[i] = n
	}
	list, err := structpb.NewList(values)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encoding hook list: %v", err)
	}
	return list, nil
}

func (s *grpcServer) RunHook(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	var args RunHookArgs
	if err := json.Unmarshal(in.GetValue(), &args); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decoding hook call: %v", err)
	}
	if args.Invocation == nil {
		args.Invocation = &Invocation{}
	}
	if err := s.impl.RunHook(ctx, args.Name, args.Invocation); err != nil {
		return nil, toStatus(err)
	}
	return marshalBytes(args.Invocation)
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	default:
		return status.Error(codes.Unknown, err.Error())
	}
}

func marshalBytes(v any) (*wrapperspb.BytesValue, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encoding reply: %v", err)
	}
	return wrapperspb.Bytes(b), nil
}

// NewGRPCClient returns the host-side Extension for a plugin served with
// RegisterGRPCServer on the other end of conn.
func NewGRPCClient(conn grpc.ClientConnInterface) Extension {
	return &grpcClient{conn: conn}
}

type grpcClient struct {
	conn grpc.ClientConnInterface
}

func (c *grpcClient) Handle(ctx context.Context, req *Request) (*Response, error) {
	in, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	out := new(wrapperspb.BytesValue)
	if err := c.conn.Invoke(ctx, grpcHandleMethod, wrapperspb.Bytes(in), out); err != nil {
		return nil, fromStatus(ctx, err)
	}
	var resp Response
	if err := json.Unmarshal(out.GetValue(), &resp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &resp, nil
}

func (c *grpcClient) Hooks(ctx context.Context) ([]string, error) {
	out := new(structpb.ListValue)
	if err := c.conn.Invoke(ctx, grpcHooksMethod, &emptypb.Empty{}, out); err != nil {
		return nil, fromStatus(ctx, err)
	}
	names := make([]string, 0, len(out.GetValues()))
	for _, v := range out.GetValues() {
		names = append(names, v.GetStringValue())
	}
	return names, nil
}

func (c *grpcClient) RunHook(ctx context.Context, name string, inv *Invocation) error {
	in, err := json.Marshal(&RunHookArgs{Name: name, Invocation: inv})
	if err != nil {
		return fmt.Errorf("encoding hook call: %w", err)
	}
	out := new(wrapperspb.BytesValue)
	if err := c.conn.Invoke(ctx, grpcRunHookMethod, wrapperspb.Bytes(in), out); err != nil {
		return fromStatus(ctx, err)
	}
	if inv == nil {
		return nil
	}
	var updated Invocation
	if err := json.Unmarshal(out.GetValue(), &updated); err != nil {
		return fmt.Errorf("decoding hook result: %w", err)
	}
	*inv = updated
	return nil
}

// fromStatus strips the gRPC envelope so plugin errors read the same on both
// transports.
func fromStatus(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return errors.New(status.Convert(err).Message())
}
