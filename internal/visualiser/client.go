package visualiser

import (
	"context"
	"errors"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/twin.bridge/internal/twin"
)

// Dial opens a plaintext connection to a TwinFeed server.
func Dial(addr string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	return grpc.NewClient(addr, opts...)
}

// Client calls TwinFeed over an established connection.
type Client struct {
	conn grpc.ClientConnInterface
}

func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// Latest fetches the current reading.
func (c *Client) Latest(ctx context.Context) (twin.Reading, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, GetReadingMethod, &emptypb.Empty{}, out); err != nil {
		return twin.Reading{}, err
	}
	return ReadingFromStruct(out)
}

// Send issues command to the default peer, or to host:port when host is
// set.
func (c *Client) Send(ctx context.Context, command, host string, port int) error {
	fields := map[string]interface{}{"command": command}
	if host != "" {
		fields["host"] = host
		fields["port"] = port
	}
	in, err := structpb.NewStruct(fields)
	if err != nil {
		return err
	}
	return c.conn.Invoke(ctx, SendCommandMethod, in, new(structpb.Struct))
}

// Stream calls fn for each reading until ctx ends, the server closes the
// stream, or fn returns an error. A clean server close returns nil.
func (c *Client) Stream(ctx context.Context, fn func(twin.Reading) error) error {
	stream, err := c.conn.NewStream(ctx, &ServiceDesc.Streams[0], StreamReadingsMethod)
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
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		r, err := ReadingFromStruct(msg)
		if err != nil {
			return err
		}
		if err := fn(r); err != nil {
			return err
		}
	}
}
