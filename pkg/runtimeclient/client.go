package runtimeclient

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/cuemby/warren/pkg/apierrors"
	"github.com/cuemby/warren/pkg/types"
)

// LoadRequest is spec.md §4.5 step 3's Load call payload.
type LoadRequest struct {
	ExecutablePath string                 `json:"executable_path"`
	ServiceName    string                 `json:"service_name"`
	Resources      []types.ResourceInput  `json:"resources"`
}

// LoadResponse is the runtime's reply: the (possibly augmented) resource
// outputs.
type LoadResponse struct {
	Success   bool                    `json:"success"`
	Message   string                  `json:"message"`
	Resources []types.ResourceOutput  `json:"resources"`
}

// StartRequest is spec.md §4.5 step 5's Start call payload.
type StartRequest struct {
	BindAddress string `json:"bind_address"`
}

type StartResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// StopNotification is one message from the runtime's stop-subscription
// stream (spec.md §4.5 step 6).
type StopNotification struct {
	Reason  string `json:"reason"` // Request | End | Crash
	Message string `json:"message"`
}

// Client talks to one container's embedded runtime over gRPC using the
// package's JSON codec.
type Client struct {
	conn    *grpc.ClientConn
	timeout time.Duration
}

// Dial connects to the runtime's control channel at addr (the container's
// IP and the port picked by the deployment driver's port allocator).
func Dial(ctx context.Context, addr string, rpcTimeout time.Duration) (*Client, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(jsonCodecName)),
	)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.EngineUnavailable, fmt.Errorf("dial runtime at %s: %w", addr, err))
	}
	return &Client{conn: conn, timeout: rpcTimeout}, nil
}

func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) Load(ctx context.Context, req LoadRequest) (LoadResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var resp LoadResponse
	if err := c.conn.Invoke(ctx, fullMethod("Load"), &req, &resp); err != nil {
		return LoadResponse{}, apierrors.Wrap(apierrors.EngineUnavailable, fmt.Errorf("load rpc: %w", err))
	}
	return resp, nil
}

func (c *Client) Start(ctx context.Context, req StartRequest) (StartResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var resp StartResponse
	if err := c.conn.Invoke(ctx, fullMethod("Start"), &req, &resp); err != nil {
		return StartResponse{}, apierrors.Wrap(apierrors.EngineUnavailable, fmt.Errorf("start rpc: %w", err))
	}
	return resp, nil
}

// subscribeStreamDesc describes the server-streaming Subscribe RPC; there is
// no generated descriptor to reuse since the runtime's service has no .proto
// source in this tree, so it is declared by hand with the two fields
// grpc-go's stream machinery needs (StreamName, ServerStreams).
var subscribeStreamDesc = &grpc.StreamDesc{
	StreamName:    "Subscribe",
	ServerStreams: true,
}

// Subscribe opens the runtime's stop-subscription stream (spec.md §4.5
// step 6) and returns a channel of notifications, closed when the stream
// ends or ctx is cancelled.
func (c *Client) Subscribe(ctx context.Context, deploymentID string) (<-chan StopNotification, error) {
	stream, err := c.conn.NewStream(ctx, subscribeStreamDesc, fullMethod("Subscribe"))
	if err != nil {
		return nil, apierrors.Wrap(apierrors.EngineUnavailable, fmt.Errorf("open subscribe stream: %w", err))
	}
	if err := stream.SendMsg(&struct {
		DeploymentID string `json:"deployment_id"`
	}{DeploymentID: deploymentID}); err != nil {
		return nil, apierrors.Wrap(apierrors.EngineUnavailable, fmt.Errorf("subscribe handshake: %w", err))
	}
	if err := stream.CloseSend(); err != nil {
		return nil, apierrors.Wrap(apierrors.EngineUnavailable, fmt.Errorf("close subscribe send: %w", err))
	}

	out := make(chan StopNotification, 1)
	go func() {
		defer close(out)
		for {
			var msg StopNotification
			if err := stream.RecvMsg(&msg); err != nil {
				return
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
