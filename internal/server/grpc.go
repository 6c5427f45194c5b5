package server

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/lucasew/easysave/internal/savedevice"
)

// The service uses well known protobuf types only, so its descriptor is
// written by hand instead of generated.
const (
	serviceName            = "easysave.v1.SaveDevice"
	getStatusMethod        = "/" + serviceName + "/GetStatus"
	watchCompletionsMethod = "/" + serviceName + "/WatchCompletions"
)

// SaveDeviceServer is the server API for the SaveDevice service.
type SaveDeviceServer interface {
	GetStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	WatchCompletions(*emptypb.Empty, grpc.ServerStream) error
}

var SaveDeviceServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*SaveDeviceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetStatus", Handler: getStatusHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "WatchCompletions", Handler: watchCompletionsHandler, ServerStreams: true},
	},
	Metadata: "easysave/v1/savedevice.proto",
}

func getStatusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SaveDeviceServer).GetStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: getStatusMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SaveDeviceServer).GetStatus(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func watchCompletionsHandler(srv any, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(SaveDeviceServer).WatchCompletions(in, stream)
}

type GrpcServer struct {
	device savedevice.Device
	auth   *Authenticator
	logger *slog.Logger
}

var _ SaveDeviceServer = (*GrpcServer)(nil)

func NewGrpcServer(device savedevice.Device, auth *Authenticator, logger *slog.Logger) *GrpcServer {
	return &GrpcServer{device: device, auth: auth, logger: logger}
}

// NewServer builds a grpc.Server with the auth interceptors installed and
// the service registered.
func (s *GrpcServer) NewServer(opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts,
		grpc.UnaryInterceptor(s.unaryAuth),
		grpc.StreamInterceptor(s.streamAuth),
	)
	gs := grpc.NewServer(opts...)
	gs.RegisterService(&SaveDeviceServiceDesc, s)
	return gs
}

func (s *GrpcServer) authenticate(ctx context.Context) (*Claims, error) {
	if s.auth == nil {
		return nil, nil
	}
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing metadata")
	}
	auth := md["authorization"]
	if len(auth) == 0 {
		return nil, status.Error(codes.Unauthenticated, "missing authorization header")
	}

	token := strings.TrimPrefix(auth[0], "Bearer ")
	claims, err := s.auth.Validate(token)
	if err != nil {
		return nil, status.Errorf(codes.Unauthenticated, "invalid token: %v", err)
	}
	return claims, nil
}

func (s *GrpcServer) unaryAuth(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	claims, err := s.authenticate(ctx)
	if err != nil {
		return nil, err
	}
	return handler(withClaims(ctx, claims), req)
}

// authedStream carries the validated claims in its context.
type authedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (a *authedStream) Context() context.Context { return a.ctx }

func (s *GrpcServer) streamAuth(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	claims, err := s.authenticate(ss.Context())
	if err != nil {
		return err
	}
	return handler(srv, &authedStream{ServerStream: ss, ctx: withClaims(ss.Context(), claims)})
}

func (s *GrpcServer) GetStatus(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	st, err := structpb.NewStruct(map[string]any{
		"ready":    s.device.IsReady(),
		"busy":     s.device.IsBusy(),
		"state":    s.device.State().String(),
		"provider": s.device.ProviderName(),
	})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode status: %v", err)
	}
	return st, nil
}

// WatchCompletions streams completions until the client goes away or the
// device is closed.
func (s *GrpcServer) WatchCompletions(_ *emptypb.Empty, stream grpc.ServerStream) error {
	ctx := stream.Context()
	claims := claimsFrom(ctx)

	ch := s.device.Subscribe()
	defer s.device.Unsubscribe(ch)
	s.logger.Debug("grpc watcher connected")

	for {
		select {
		case <-ctx.Done():
			return nil
		case c, ok := <-ch:
			if !ok {
				return status.Error(codes.Unavailable, "save device closed")
			}
			if !claims.Allows(c.Container) {
				continue
			}
			msg, err := completionStruct(c)
			if err != nil {
				return status.Errorf(codes.Internal, "encode completion: %v", err)
			}
			if err := stream.SendMsg(msg); err != nil {
				return err
			}
		}
	}
}

func completionStruct(c savedevice.Completion) (*structpb.Struct, error) {
	fields := map[string]any{
		"op_id":       c.OpID,
		"kind":        string(c.Kind),
		"container":   c.Container,
		"file":        c.File,
		"code":        string(c.Code()),
		"started_at":  c.StartedAt.Format(time.RFC3339Nano),
		"finished_at": c.FinishedAt.Format(time.RFC3339Nano),
		"duration_ms": c.Duration().Milliseconds(),
	}
	if c.Err != nil {
		fields["error"] = c.Err.Error()
	}
	return structpb.NewStruct(fields)
}

// SaveDeviceClient is a client for the SaveDevice service.
type SaveDeviceClient struct {
	cc grpc.ClientConnInterface
}

func NewSaveDeviceClient(cc grpc.ClientConnInterface) *SaveDeviceClient {
	return &SaveDeviceClient{cc: cc}
}

func (c *SaveDeviceClient) GetStatus(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, getStatusMethod, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// WatchCompletions calls fn for every completion until the stream ends.
func (c *SaveDeviceClient) WatchCompletions(ctx context.Context, fn func(*structpb.Struct) error, opts ...grpc.CallOption) error {
	stream, err := c.cc.NewStream(ctx, &SaveDeviceServiceDesc.Streams[0], watchCompletionsMethod, opts...)
	if err != nil {
		return err
	}
	if err := stream.SendMsg(&emptypb.Empty{}); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	for {
		msg := new(structpb.Struct)
		if err := stream.RecvMsg(msg); err != nil {
			return err
		}
		if err := fn(msg); err != nil {
			return err
		}
	}
}

// BearerToken attaches a token to every call made on a connection.
type BearerToken string

func (t BearerToken) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{"authorization": "Bearer " + string(t)}, nil
}

func (t BearerToken) RequireTransportSecurity() bool { return false }
