package visualiser

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/twin.bridge/internal/monitoring"
)

const serviceName = "twinbridge.v1.TwinFeed"

// Full method names, as used by clients.
const (
	StreamReadingsMethod = "/" + serviceName + "/StreamReadings"
	GetReadingMethod     = "/" + serviceName + "/GetReading"
	SendCommandMethod    = "/" + serviceName + "/SendCommand"
)

// TwinFeedServer is the service implemented by Server. Messages are
// well-known protobuf types so no generated code is needed on either side.
type TwinFeedServer interface {
	StreamReadings(*emptypb.Empty, grpc.ServerStream) error
	GetReading(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	SendCommand(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc describes TwinFeed to grpc.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*TwinFeedServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetReading", Handler: getReadingHandler},
		{MethodName: "SendCommand", Handler: sendCommandHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "StreamReadings", Handler: streamReadingsHandler, ServerStreams: true},
	},
	Metadata: "twinbridge/v1/feed.proto",
}

// RegisterService registers the gRPC service with the server.
func RegisterService(s grpc.ServiceRegistrar, srv TwinFeedServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func streamReadingsHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(TwinFeedServer).StreamReadings(in, stream)
}

func getReadingHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TwinFeedServer).GetReading(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: GetReadingMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(TwinFeedServer).GetReading(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func sendCommandHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TwinFeedServer).SendCommand(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: SendCommandMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(TwinFeedServer).SendCommand(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// Ensure Server implements the gRPC interface.
var _ TwinFeedServer = (*Server)(nil)

// Server implements TwinFeed on top of a Publisher.
type Server struct {
	publisher *Publisher
}

func NewServer(publisher *Publisher) *Server {
	return &Server{publisher: publisher}
}

// StreamReadings sends the current reading, if any, then every new one
// until the client goes away or the publisher stops.
func (s *Server) StreamReadings(_ *emptypb.Empty, stream grpc.ServerStream) error {
	client, err := s.publisher.addClient()
	if err != nil {
		return status.Error(codes.ResourceExhausted, err.Error())
	}
	defer s.publisher.removeClient(client.id)

	if r := s.publisher.src.LatestReading(); r.Valid() {
		msg, err := ReadingToStruct(r)
		if err != nil {
			return status.Error(codes.Internal, err.Error())
		}
		if err := stream.SendMsg(msg); err != nil {
			return err
		}
	}

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.publisher.stopCh:
			return nil
		case r := <-client.frameCh:
			msg, err := ReadingToStruct(r)
			if err != nil {
				return status.Error(codes.Internal, err.Error())
			}
			if err := stream.SendMsg(msg); err != nil {
				monitoring.Debugf("visualiser: send to %s: %v", client.id, err)
				return err
			}
		}
	}
}

// GetReading returns the latest reading. Before the first Sensors message
// arrives it answers NotFound.
func (s *Server) GetReading(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	r := s.publisher.src.LatestReading()
	if !r.Valid() {
		return nil, status.Error(codes.NotFound, "no reading received yet")
	}
	msg, err := ReadingToStruct(r)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return msg, nil
}

// SendCommand delivers the "command" field to the device. "host" and "port"
// must be given together to override the default peer.
func (s *Server) SendCommand(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := commandFromStruct(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	if req.Host != "" {
		err = s.publisher.sink.Send(req.Command, req.Host, req.Port)
	} else {
		err = s.publisher.sink.SendDefault(req.Command)
	}
	if err != nil {
		return nil, status.Error(codes.Unavailable, err.Error())
	}
	return structpb.NewStruct(map[string]interface{}{
		"command": req.Command,
		"sent":    true,
	})
}

// Command is the decoded SendCommand request.
type Command struct {
	Command string
	Host    string
	Port    int
}

func commandFromStruct(in *structpb.Struct) (Command, error) {
	fields := in.GetFields()
	var c Command
	c.Command = strings.TrimSpace(fields["command"].GetStringValue())
	if c.Command == "" {
		return c, errMissingCommand
	}
	c.Host = strings.TrimSpace(fields["host"].GetStringValue())
	port, hasPort := fields["port"]
	switch {
	case c.Host == "" && !hasPort:
		return c, nil
	case c.Host == "" || !hasPort:
		return c, errHostPortPair
	}
	p := port.GetNumberValue()
	if p < 1 || p > 65535 || p != float64(int(p)) {
		return c, errBadPort
	}
	c.Port = int(p)
	return c, nil
}
