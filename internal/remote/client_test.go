package remote

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"zippytrip.org/internal/httpapi"
)

func TestMapHealthError(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want error
	}{
		{name: "unknown service", err: status.Error(codes.NotFound, "unknown service"), want: ErrUnknownService},
		{name: "unavailable", err: status.Error(codes.Unavailable, "connection refused"), want: ErrUnavailable},
		{name: "deadline", err: status.Error(codes.DeadlineExceeded, "deadline"), want: ErrUnavailable},
		{name: "pass through", err: status.Error(codes.Internal, "internal"), want: status.Error(codes.Internal, "internal")},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			got := mapHealthError(tc.err)
			if !errors.Is(got, tc.want) {
				t.Fatalf("mapHealthError() = %v, want %v", got, tc.want)
			}
		})
	}
}

type probeFunc func(context.Context) error

func (f probeFunc) Check(ctx context.Context) error { return f(ctx) }

func dialBuf(t *testing.T, probe probeFunc) *Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	httpapi.NewGRPCServer(probe, "test").Register(srv)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	c, err := Dial(context.Background(), "bufnet",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) { return lis.Dial() }),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCheck(t *testing.T) {
	var down atomic.Bool
	c := dialBuf(t, func(context.Context) error {
		if !down.Load() {
			return nil
		}
		return errors.New("db down")
	})

	ctx, cancel := WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := c.Check(ctx, ServiceName); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if err := c.Check(ctx, "billing"); !errors.Is(err, ErrUnknownService) {
		t.Fatalf("expected unknown service, got %v", err)
	}
	down.Store(true)
	if err := c.Check(ctx, ""); !errors.Is(err, ErrNotServing) {
		t.Fatalf("expected not serving, got %v", err)
	}
}
