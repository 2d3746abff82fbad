// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package rpc

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/jobhive/internal/queue"
)

// Stats is the occupancy reported by a remote queue.
type Stats struct {
	Queue      string
	Pending    int64
	Processing int64
	Leased     int64
	Unleased   int64
	Empty      bool
}

// Client implements queue.Queue against a remote jobhive.Queue service.
type Client struct {
	cc grpc.ClientConnInterface
}

var _ queue.Queue = (*Client)(nil)

// NewClient constructs a queue client on cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) Push(ctx context.Context, item []byte) error {
	return c.cc.Invoke(ctx, fullMethod("Push"), wrapperspb.Bytes(item), new(emptypb.Empty))
}

// Lease leases an item on the server. The blocking wait happens server side.
func (c *Client) Lease(ctx context.Context, leaseDuration time.Duration, block bool, timeout time.Duration) ([]byte, error) {
	if leaseDuration <= 0 {
		return nil, queue.ErrInvalidLeaseDuration
	}
	req, err := structpb.NewStruct(map[string]interface{}{
		"lease_seconds":   leaseDuration.Seconds(),
		"block":           block,
		"timeout_seconds": timeout.Seconds(),
	})
	if err != nil {
		return nil, err
	}

	out := new(wrapperspb.BytesValue)
	if err := c.cc.Invoke(ctx, fullMethod("Lease"), req, out); err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, err
	}
	item := out.GetValue()
	if item == nil {
		// An empty payload is still an item.
		item = []byte{}
	}
	return item, nil
}

func (c *Client) Complete(ctx context.Context, item []byte) error {
	return c.cc.Invoke(ctx, fullMethod("Complete"), wrapperspb.Bytes(item), new(emptypb.Empty))
}

func (c *Client) CheckExpiredLeases(ctx context.Context) (int, error) {
	out := new(wrapperspb.Int64Value)
	if err := c.cc.Invoke(ctx, fullMethod("CheckExpiredLeases"), new(emptypb.Empty), out); err != nil {
		return 0, err
	}
	return int(out.GetValue()), nil
}

// Stats fetches the remote queue's occupancy.
func (c *Client) Stats(ctx context.Context) (Stats, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, fullMethod("Stats"), new(emptypb.Empty), out); err != nil {
		return Stats{}, err
	}
	f := out.GetFields()
	return Stats{
		Queue:      f["queue"].GetStringValue(),
		Pending:    int64(f["pending"].GetNumberValue()),
		Processing: int64(f["processing"].GetNumberValue()),
		Leased:     int64(f["leased"].GetNumberValue()),
		Unleased:   int64(f["unleased"].GetNumberValue()),
		Empty:      f["empty"].GetBoolValue(),
	}, nil
}

func (c *Client) Size(ctx context.Context) (int64, error) {
	s, err := c.Stats(ctx)
	return s.Pending, err
}

func (c *Client) ProcessingSize(ctx context.Context) (int64, error) {
	s, err := c.Stats(ctx)
	return s.Processing, err
}

func (c *Client) Empty(ctx context.Context) (bool, error) {
	s, err := c.Stats(ctx)
	return s.Empty, err
}
