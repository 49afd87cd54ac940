// Package keylock serialises read-modify-write sequences per key.
//
// The gateway guards every document whose update merges into existing state
// (profile:<uid>, sysdata:<uid>) and every username claim (username:<name>)
// so concurrent requests cannot lose each other's writes.
package keylock

import (
	"context"
	"errors"
)

// ErrTimeout is returned when a lock could not be acquired before the
// context was done.
var ErrTimeout = errors.New("lock acquisition timed out")

// Locker acquires exclusive locks on string keys.
type Locker interface {
	// Lock blocks until key is held or ctx is done. The returned function
	// releases the lock and must be called exactly once.
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// Do runs fn while holding key.
func Do(ctx context.Context, l Locker, key string, fn func() error) error {
	unlock, err := l.Lock(ctx, key)
	if err != nil {
		return err
	}
	defer unlock()
	return fn()
}
