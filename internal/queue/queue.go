package queue

import (
	"context"
	"time"
)

// NoTimeout makes a blocking Lease wait until an item arrives.
const NoTimeout time.Duration = 0

// Queue is the producer- and worker-facing contract of a lease-based work queue.
// Items are opaque byte payloads; the queue never inspects them.
type Queue interface {
	// Push appends an item to the pending list.
	Push(ctx context.Context, item []byte) error

	// Lease moves one item from pending to processing and registers a lease
	// that expires after leaseDuration. A nil item with a nil error means no
	// item became available.
	Lease(ctx context.Context, leaseDuration time.Duration, block bool, timeout time.Duration) ([]byte, error)

	// Complete removes one instance of item from processing and drops its lease.
	Complete(ctx context.Context, item []byte) error

	// CheckExpiredLeases returns unleased processing items to pending and
	// reports how many were moved.
	CheckExpiredLeases(ctx context.Context) (int, error)

	Size(ctx context.Context) (int64, error)
	ProcessingSize(ctx context.Context) (int64, error)

	// Empty is true when nothing is pending and nothing is in flight.
	Empty(ctx context.Context) (bool, error)
}

// Recoverer is implemented by queues that can report which items a recovery
// pass moved back to pending, not just how many.
type Recoverer interface {
	RecoverExpiredLeases(ctx context.Context) ([][]byte, error)
}

// State classifies where an item currently lives.
type State int

const (
	StateAbsent State = iota
	StatePending
	StateLeased
	// StateUnleased is an item in processing with no live lease: either the
	// lease expired or the worker died between the transfer and the lease write.
	StateUnleased
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateLeased:
		return "leased"
	case StateUnleased:
		return "unleased"
	default:
		return "absent"
	}
}

// Snapshot is a point-in-time view of the queue. It is not taken atomically,
// so counts may drift slightly under concurrent traffic.
type Snapshot struct {
	Name       string    `json:"name"`
	Pending    int64     `json:"pending"`
	Processing int64     `json:"processing"`
	Leased     [][]byte  `json:"-"`
	Unleased   [][]byte  `json:"-"`
	TakenAt    time.Time `json:"taken_at"`
}

// LeasedCount returns the number of processing items with a live lease.
func (s Snapshot) LeasedCount() int { return len(s.Leased) }

// UnleasedCount returns the number of processing items eligible for recovery.
func (s Snapshot) UnleasedCount() int { return len(s.Unleased) }

// Empty reports whether the snapshot saw no pending and no in-flight work.
func (s Snapshot) Empty() bool { return s.Pending == 0 && s.Processing == 0 }
