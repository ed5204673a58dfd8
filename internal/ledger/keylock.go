package ledger

import (
	"sync"
	"time"
)

// KeyLock serializes work per key: at most one holder per key at a time,
// waiters woken in FIFO order, unrelated keys fully independent. It stands in
// for database row locking when the backing store has no native isolation.
//
// Idle entries are not removed on release; a periodic sweep drops entries
// that have had no holder and no waiters for at least the sweep interval.
type KeyLock struct {
	mu    sync.Mutex
	locks map[string]*keyEntry
}

type keyEntry struct {
	ch       chan struct{} // capacity 1; a buffered token marks the key held
	refs     int           // holder + queued waiters
	idleFrom time.Time     // last moment refs dropped to zero
}

func NewKeyLock() *KeyLock {
	return &KeyLock{locks: make(map[string]*keyEntry)}
}

// Acquire blocks until key is free, then holds it. The returned func releases
// the key and wakes the next waiter; it must be called exactly once.
func (kl *KeyLock) Acquire(key string) func() {
	kl.mu.Lock()
	e, ok := kl.locks[key]
	if !ok {
		e = &keyEntry{ch: make(chan struct{}, 1)}
		kl.locks[key] = e
	}
	e.refs++
	kl.mu.Unlock()

	// Blocked senders queue FIFO in the runtime, which gives the no-starvation
	// ordering the gate promises.
	e.ch <- struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			kl.mu.Lock()
			e.refs--
			if e.refs == 0 {
				e.idleFrom = time.Now()
			}
			kl.mu.Unlock()
		})
	}
}

// Sweep removes entries that have been idle for at least maxIdle. Entries
// with a holder or queued waiters are never removed. Returns the number of
// entries dropped.
func (kl *KeyLock) Sweep(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)
	kl.mu.Lock()
	defer kl.mu.Unlock()
	removed := 0
	for key, e := range kl.locks {
		if e.refs == 0 && e.idleFrom.Before(cutoff) {
			delete(kl.locks, key)
			removed++
		}
	}
	return removed
}

// Len reports how many keys currently have allocated state.
func (kl *KeyLock) Len() int {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	return len(kl.locks)
}

// StartSweeper runs Sweep every interval until stop is closed.
func (kl *KeyLock) StartSweeper(interval time.Duration, stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				kl.Sweep(interval)
			case <-stop:
				return
			}
		}
	}()
}
