package grpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/and161185/agent-keeper/internal/convert"
)

// Client calls the control service with a bearer token on every request.
type Client struct {
	conn  grpc.ClientConnInterface
	token string
}

// NewClient wraps an existing connection.
func NewClient(conn grpc.ClientConnInterface, token string) *Client {
	return &Client{conn: conn, token: token}
}

// Dial opens a plaintext connection; the control API listens on loopback only.
func Dial(addr string) (*grpc.ClientConn, error) {
	return grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
}

// Call invokes method name with req and decodes the response into out.
// out may be nil.
func (c *Client) Call(ctx context.Context, name string, req map[string]any, out any) error {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return err
	}
	if c.token != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+c.token)
	}
	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, FullMethod(name), in, resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return convert.FromStruct(resp, out)
}
