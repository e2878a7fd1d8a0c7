package core

import (
	"context"
	"fmt"
	"slices"

	"github.com/rs/zerolog"
)

// Lock is a held lock on one entity.
type Lock interface {
	Release(ctx context.Context) error
}

// Locker serializes operations on a single invoice or inventory item. Implementations
// block (with bounded retries) until the lock is held or fail.
type Locker interface {
	Obtain(ctx context.Context, key string) (Lock, error)
}

func invoiceLockKey(id int) string { return fmt.Sprintf("invoice:%d", id) }

func itemLockKey(id int) string { return fmt.Sprintf("inventory_item:%d", id) }

// withLocks runs fn while holding every key. Keys are obtained in sorted order so that
// two callers locking overlapping sets cannot deadlock.
func withLocks(ctx context.Context, locker Locker, log zerolog.Logger, keys []string, fn func() error) error {
	if locker == nil {
		return fn()
	}
	sorted := slices.Clone(keys)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	held := make([]Lock, 0, len(sorted))
	defer func() {
		for i := len(held) - 1; i >= 0; i-- {
			if err := held[i].Release(context.WithoutCancel(ctx)); err != nil {
				log.Warn().Err(err).Str("lock", sorted[i]).Msg("failed to release lock")
			}
		}
	}()

	for _, key := range sorted {
		l, err := locker.Obtain(ctx, key)
		if err != nil {
			return &Error{Kind: KindConflict, Message: fmt.Sprintf("%s is being modified by another request", key), Err: err}
		}
		held = append(held, l)
	}
	return fn()
}
