package service

import (
	"context"
	"sync"
	"time"

	dErrors "vericred/pkg/domain-errors"
	"vericred/pkg/requestcontext"
)

// StoreTx provides a transactional boundary for the respond flow.
// Implementations may wrap a database transaction or, in-memory, a sharded
// lock. The uniqueness check and the response insert must not be separable.
type StoreTx interface {
	RunInTx(ctx context.Context, fn func(store Store) error) error
}

// Operations are distributed across shards by the authenticated identity so
// concurrent holders rarely contend, while two submissions from the same
// holder serialize.
const numShards = 128

const defaultTxTimeout = 5 * time.Second

type shardedTx struct {
	shards  [numShards]sync.Mutex
	store   Store
	timeout time.Duration
}

// NewShardedTx wraps an in-memory store with sharded-lock transactions.
func NewShardedTx(store Store) StoreTx {
	return &shardedTx{store: store}
}

func (t *shardedTx) RunInTx(ctx context.Context, fn func(store Store) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	timeout := t.timeout
	if timeout == 0 {
		timeout = defaultTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	shard := t.selectShard(ctx)
	t.shards[shard].Lock()
	defer t.shards[shard].Unlock()

	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	return fn(t.store)
}

func (t *shardedTx) selectShard(ctx context.Context) int {
	identityID := requestcontext.IdentityID(ctx)
	if identityID.IsZero() {
		return 0
	}
	return int(fnvHash(identityID.String()) % numShards)
}

// fnvHash is FNV-1a over the identity id string.
func fnvHash(s string) uint32 {
	const (
		fnvOffset = 2166136261
		fnvPrime  = 16777619
	)
	h := uint32(fnvOffset)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= fnvPrime
	}
	return h
}
