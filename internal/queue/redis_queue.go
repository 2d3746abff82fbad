package queue

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrInvalidLeaseDuration is returned by Lease when the lease would never expire.
var ErrInvalidLeaseDuration = errors.New("lease duration must be positive")

// WorkQueue implements Queue on Redis lists.
//
// Work is held in two lists: pending (the queue name) and processing. Lease
// moves an item across with RPOPLPUSH and then writes an expiring lease key
// owned by this session. Items in processing without a lease key are returned
// to pending by CheckExpiredLeases.
type WorkQueue struct {
	client        redis.UniversalClient
	name          string
	session       string
	processingKey string
	leasePrefix   string
}

// New creates a work queue named name on client. Keys used are name,
// name+":processing" and name+":leased_by_session:<item key>".
func New(client redis.UniversalClient, name string) *WorkQueue {
	if name == "" {
		name = "job"
	}
	return &WorkQueue{
		client:        client,
		name:          name,
		session:       hex.EncodeToString(uuidBytes()),
		processingKey: name + ":processing",
		leasePrefix:   name + ":leased_by_session:",
	}
}

// NewRedisQueue creates a work queue and checks that Redis answers.
func NewRedisQueue(ctx context.Context, client redis.UniversalClient, name string) (*WorkQueue, error) {
	q := New(client, name)
	log.Printf("NewRedisQueue: name=%s session=%s", q.name, q.session)

	if err := client.Ping(ctx).Err(); err != nil {
		log.Printf("NewRedisQueue: failed to ping Redis: %v", err)
		return nil, err
	}
	return q, nil
}

func uuidBytes() []byte {
	id := uuid.New()
	return id[:]
}

// Name returns the queue name, which is also the pending list key.
func (q *WorkQueue) Name() string { return q.name }

// Session returns the identifier written into lease records by this queue.
// It is informational only; Complete and recovery never compare it.
func (q *WorkQueue) Session() string { return q.session }

func (q *WorkQueue) String() string {
	return fmt.Sprintf("WorkQueue(name=%s,session=%s)", q.name, q.session)
}

// ItemKey returns the lease slot identifier for item: the hex SHA-224 of its bytes.
// Byte-identical items share a slot, so producers that need independent
// duplicates must embed a unique field in the payload.
func ItemKey(item []byte) string {
	sum := sha256.Sum224(item)
	return hex.EncodeToString(sum[:])
}

func (q *WorkQueue) leaseKey(item []byte) string {
	return q.leasePrefix + ItemKey(item)
}

// Push adds item to the pending list with LPUSH.
func (q *WorkQueue) Push(ctx context.Context, item []byte) error {
	if err := q.client.LPush(ctx, q.name, item).Err(); err != nil {
		log.Printf("Push: failed to push to %s: %v", q.name, err)
		return err
	}
	return nil
}

// Size returns the length of the pending list.
func (q *WorkQueue) Size(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.name).Result()
}

// ProcessingSize returns the length of the processing list.
func (q *WorkQueue) ProcessingSize(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.processingKey).Result()
}

// Empty is true when both lists are empty. False does not mean that an item
// can be leased right now; everything may be in flight.
func (q *WorkQueue) Empty(ctx context.Context) (bool, error) {
	size, err := q.Size(ctx)
	if err != nil {
		return false, err
	}
	processing, err := q.ProcessingSize(ctx)
	if err != nil {
		return false, err
	}
	return size == 0 && processing == 0, nil
}

// Lease begins work on an item and leases it for leaseDuration. Once the lease
// expires other workers may treat this session as crashed and recover the item.
//
// With block set, Lease waits for an item up to timeout (NoTimeout waits
// forever); timeouts are rounded up to whole seconds. Without block it makes a
// single attempt. The transfer and the lease write are separate commands: if the
// process dies in between, the item sits in processing unleased until recovered.
func (q *WorkQueue) Lease(ctx context.Context, leaseDuration time.Duration, block bool, timeout time.Duration) ([]byte, error) {
	if leaseDuration <= 0 {
		return nil, ErrInvalidLeaseDuration
	}

	var (
		item []byte
		err  error
	)
	if block {
		item, err = q.blockingTransfer(ctx, timeout)
	} else {
		item, err = q.client.RPopLPush(ctx, q.name, q.processingKey).Bytes()
	}
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := q.client.Set(ctx, q.leaseKey(item), q.session, leaseDuration).Err(); err != nil {
		log.Printf("Lease: item moved to processing but lease write failed: %v", err)
		return nil, err
	}
	return item, nil
}

// blockingTransfer runs BRPOPLPUSH and gives up early if ctx is cancelled. A
// transfer that lands after cancellation leaves the item unleased in processing.
func (q *WorkQueue) blockingTransfer(ctx context.Context, timeout time.Duration) ([]byte, error) {
	type result struct {
		item []byte
		err  error
	}
	resultChan := make(chan result, 1)

	go func() {
		item, err := q.client.BRPopLPush(ctx, q.name, q.processingKey, roundUpToSecond(timeout)).Bytes()
		resultChan <- result{item: item, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-resultChan:
		return res.item, res.err
	}
}

func roundUpToSecond(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return ((d + time.Second - 1) / time.Second) * time.Second
}

// LeaseExists reports whether a live lease record exists for item.
func (q *WorkQueue) LeaseExists(ctx context.Context, item []byte) (bool, error) {
	n, err := q.client.Exists(ctx, q.leaseKey(item)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// LeaseOwner returns the session that holds the lease on item, or "" if none.
func (q *WorkQueue) LeaseOwner(ctx context.Context, item []byte) (string, error) {
	owner, err := q.client.Get(ctx, q.leaseKey(item)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return owner, err
}

// Complete finishes work on item. It removes one matching entry from processing
// and deletes the lease. If the lease had already expired another worker may
// have picked the item up; nothing reports which case happened.
func (q *WorkQueue) Complete(ctx context.Context, item []byte) error {
	if err := q.client.LRem(ctx, q.processingKey, 1, item).Err(); err != nil {
		log.Printf("Complete: failed to remove item %s: %v", ItemKey(item), err)
		return err
	}
	// A crash here leaves a dangling lease that simply expires.
	return q.client.Del(ctx, q.leaseKey(item)).Err()
}

// CheckExpiredLeases scans processing and moves every item without a live lease
// back to pending, returning how many were moved. See RecoverExpiredLeases.
func (q *WorkQueue) CheckExpiredLeases(ctx context.Context) (int, error) {
	recovered, err := q.RecoverExpiredLeases(ctx)
	return len(recovered), err
}

// RecoverExpiredLeases is CheckExpiredLeases reporting the moved items. Each
// move is an optimistic transaction watching the processing list and the item's
// lease key; a conflict means another worker already acted on it, so the
// attempt is dropped without retrying. On a store error the items moved so far
// are returned with the error.
//
// The scan is O(len(processing)), which tracks the number of recently active
// workers, so it is meant for idle workers rather than every lease call.
func (q *WorkQueue) RecoverExpiredLeases(ctx context.Context) ([][]byte, error) {
	processing, err := q.client.LRange(ctx, q.processingKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}

	var recovered [][]byte
	for _, value := range processing {
		item := []byte(value)
		leased, err := q.LeaseExists(ctx, item)
		if err != nil {
			return recovered, err
		}
		if leased {
			continue
		}

		moved, err := q.requeue(ctx, item)
		if err != nil {
			return recovered, err
		}
		if moved {
			recovered = append(recovered, item)
		}
	}

	if len(recovered) > 0 {
		log.Printf("CheckExpiredLeases: name=%s recovered=%d scanned=%d", q.name, len(recovered), len(processing))
	}
	return recovered, nil
}

// requeue atomically moves one instance of item from processing to pending.
// It reports false when the item is gone, re-leased, or the transaction lost a race.
func (q *WorkQueue) requeue(ctx context.Context, item []byte) (bool, error) {
	leaseKey := q.leaseKey(item)
	moved := false

	err := q.client.Watch(ctx, func(tx *redis.Tx) error {
		// The snapshot may be stale: the item could have been completed
		// or re-leased before the watch began.
		if _, err := tx.LPos(ctx, q.processingKey, string(item), redis.LPosArgs{}).Result(); err != nil {
			if errors.Is(err, redis.Nil) {
				return nil
			}
			return err
		}
		n, err := tx.Exists(ctx, leaseKey).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.LPush(ctx, q.name, item)
			pipe.LRem(ctx, q.processingKey, 1, item)
			return nil
		})
		if err == nil {
			moved = true
		}
		return err
	}, q.processingKey, leaseKey)

	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return moved, nil
}

// StateOf classifies item by looking at both lists and its lease record.
func (q *WorkQueue) StateOf(ctx context.Context, item []byte) (State, error) {
	inProcessing, err := q.contains(ctx, q.processingKey, item)
	if err != nil {
		return StateAbsent, err
	}
	if inProcessing {
		leased, err := q.LeaseExists(ctx, item)
		if err != nil {
			return StateAbsent, err
		}
		if leased {
			return StateLeased, nil
		}
		return StateUnleased, nil
	}

	inPending, err := q.contains(ctx, q.name, item)
	if err != nil {
		return StateAbsent, err
	}
	if inPending {
		return StatePending, nil
	}
	return StateAbsent, nil
}

func (q *WorkQueue) contains(ctx context.Context, key string, item []byte) (bool, error) {
	_, err := q.client.LPos(ctx, key, string(item), redis.LPosArgs{}).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Inspect returns the queue counts and splits processing into leased and
// unleased items.
func (q *WorkQueue) Inspect(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{Name: q.name, TakenAt: time.Now()}

	pending, err := q.Size(ctx)
	if err != nil {
		return snap, err
	}
	snap.Pending = pending

	processing, err := q.client.LRange(ctx, q.processingKey, 0, -1).Result()
	if err != nil {
		return snap, err
	}
	snap.Processing = int64(len(processing))
	if len(processing) == 0 {
		return snap, nil
	}

	cmds := make([]*redis.IntCmd, len(processing))
	_, err = q.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, value := range processing {
			cmds[i] = pipe.Exists(ctx, q.leaseKey([]byte(value)))
		}
		return nil
	})
	if err != nil {
		return snap, err
	}

	for i, value := range processing {
		if cmds[i].Val() > 0 {
			snap.Leased = append(snap.Leased, []byte(value))
		} else {
			snap.Unleased = append(snap.Unleased, []byte(value))
		}
	}
	return snap, nil
}
