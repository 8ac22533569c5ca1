// Package remote is a client for the console API's gRPC health service.
package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"zippytrip.org/internal/audit"
	"zippytrip.org/internal/ids"
)

// ServiceName is the console API's registered health service.
const ServiceName = "zippytrip-console-api"

var (
	ErrUnavailable    = errors.New("remote: service unavailable")
	ErrUnknownService = errors.New("remote: unknown service")
	ErrNotServing     = errors.New("remote: not serving")
)

// Client wraps a gRPC connection to the console API.
type Client struct {
	conn   *grpc.ClientConn
	health healthpb.HealthClient
}

// Dial creates a new client with sensible defaults (insecure transport).
func Dial(ctx context.Context, target string, opts ...grpc.DialOption) (*Client, error) {
	if len(opts) == 0 {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	conn, err := grpc.DialContext(ctx, target, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, health: healthpb.NewHealthClient(conn)}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Check asks for the serving status of service ("" is the whole server).
// A NOT_SERVING answer is returned as ErrNotServing.
func (c *Client) Check(ctx context.Context, service string) error {
	ctx = outgoingWithRequestID(ctx)
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return mapHealthError(err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("%w: %s", ErrNotServing, resp.GetStatus())
	}
	return nil
}

// Helpers -----------------------------------------------------------------

func outgoingWithRequestID(ctx context.Context) context.Context {
	if ctx == nil {
		return ctx
	}
	rid := audit.RequestIDFromContext(ctx)
	if rid == "" {
		rid = ids.New()
	}
	return metadata.AppendToOutgoingContext(ctx, "x-request-id", rid)
}

func mapHealthError(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.NotFound:
		return fmt.Errorf("%w: %s", ErrUnknownService, st.Message())
	case codes.Unavailable, codes.DeadlineExceeded:
		return fmt.Errorf("%w: %s", ErrUnavailable, st.Message())
	default:
		return err
	}
}

// WithTimeout returns a context with default timeout useful for CLI tools.
func WithTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = 10 * time.Second
	}
	return context.WithTimeout(parent, d)
}
