// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package rpc

import (
	"context"
	"errors"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/jobhive/internal/events"
	"github.com/jobhive/internal/logger"
	"github.com/jobhive/internal/queue"
)

// Coordinator is the queue surface served over gRPC.
type Coordinator interface {
	queue.Queue
	queue.Recoverer
	Name() string
	Inspect(ctx context.Context) (queue.Snapshot, error)
}

// Server serves a Coordinator to remote producers and workers.
type Server struct {
	queue  Coordinator
	events *events.Broadcaster
}

// NewServer creates a gRPC queue server. broadcaster may be nil.
func NewServer(q Coordinator, broadcaster *events.Broadcaster) *Server {
	return &Server{queue: q, events: broadcaster}
}

func (s *Server) Push(ctx context.Context, in *wrapperspb.BytesValue) (*emptypb.Empty, error) {
	item := in.GetValue()
	if err := s.queue.Push(ctx, item); err != nil {
		return nil, toStatus(err)
	}
	s.events.Publish(events.Event{Type: events.TypePushed, Queue: s.queue.Name(), ItemKey: queue.ItemKey(item)})
	return &emptypb.Empty{}, nil
}

func (s *Server) Lease(ctx context.Context, in *structpb.Struct) (*wrapperspb.BytesValue, error) {
	fields := in.GetFields()
	leaseDuration := seconds(fields["lease_seconds"].GetNumberValue())
	timeout := seconds(fields["timeout_seconds"].GetNumberValue())
	block := fields["block"].GetBoolValue()

	item, err := s.queue.Lease(ctx, leaseDuration, block, timeout)
	if err != nil {
		return nil, toStatus(err)
	}
	if item == nil {
		return nil, status.Error(codes.NotFound, "no item available")
	}
	s.events.Publish(events.Event{Type: events.TypeLeased, Queue: s.queue.Name(), ItemKey: queue.ItemKey(item)})
	return wrapperspb.Bytes(item), nil
}

func (s *Server) Complete(ctx context.Context, in *wrapperspb.BytesValue) (*emptypb.Empty, error) {
	item := in.GetValue()
	if err := s.queue.Complete(ctx, item); err != nil {
		return nil, toStatus(err)
	}
	s.events.Publish(events.Event{Type: events.TypeCompleted, Queue: s.queue.Name(), ItemKey: queue.ItemKey(item)})
	return &emptypb.Empty{}, nil
}

func (s *Server) CheckExpiredLeases(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.Int64Value, error) {
	recovered, err := s.queue.RecoverExpiredLeases(ctx)
	s.events.PublishRecovered(s.queue.Name(), recovered)
	if err != nil {
		return nil, toStatus(err)
	}
	return wrapperspb.Int64(int64(len(recovered))), nil
}

func (s *Server) Stats(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	snap, err := s.queue.Inspect(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	out, err := structpb.NewStruct(map[string]interface{}{
		"queue":      snap.Name,
		"pending":    float64(snap.Pending),
		"processing": float64(snap.Processing),
		"leased":     float64(snap.LeasedCount()),
		"unleased":   float64(snap.UnleasedCount()),
		"empty":      snap.Empty(),
	})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, queue.ErrInvalidLeaseDuration):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	default:
		logger.Errorf("rpc: store error: %v", err)
		return status.Error(codes.Unavailable, err.Error())
	}
}
