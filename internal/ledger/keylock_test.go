package ledger

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeyLockMutualExclusion(t *testing.T) {
	kl := NewKeyLock()

	const goroutines = 50
	const iterations = 20

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				release := kl.Acquire("acct-1")
				counter++
				release()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, goroutines*iterations, counter)
}

func TestKeyLockIndependentKeys(t *testing.T) {
	kl := NewKeyLock()

	releaseA := kl.Acquire("acct-a")
	defer releaseA()

	// A held key must not block an unrelated one.
	acquired := make(chan struct{})
	go func() {
		release := kl.Acquire("acct-b")
		close(acquired)
		release()
	}()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("acquiring an unrelated key blocked")
	}
}

func TestKeyLockBlocksSameKey(t *testing.T) {
	kl := NewKeyLock()

	release := kl.Acquire("acct-1")

	acquired := make(chan struct{})
	go func() {
		r := kl.Acquire("acct-1")
		close(acquired)
		r()
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire succeeded while key was held")
	case <-time.After(50 * time.Millisecond):
	}

	release()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken after release")
	}
}

func TestKeyLockReleaseIsIdempotent(t *testing.T) {
	kl := NewKeyLock()

	release := kl.Acquire("acct-1")
	release()
	release() // second call must be a no-op

	done := make(chan struct{})
	go func() {
		r := kl.Acquire("acct-1")
		r()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("key unusable after double release")
	}
}

func TestKeyLockSweep(t *testing.T) {
	kl := NewKeyLock()

	release := kl.Acquire("idle")
	release()
	assert.Equal(t, 1, kl.Len())

	time.Sleep(10 * time.Millisecond)
	removed := kl.Sweep(time.Millisecond)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 0, kl.Len())
}

func TestKeyLockSweepSkipsHeldAndQueued(t *testing.T) {
	kl := NewKeyLock()

	release := kl.Acquire("busy")

	waiterDone := make(chan struct{})
	go func() {
		r := kl.Acquire("busy")
		r()
		close(waiterDone)
	}()

	// Give the waiter time to queue up.
	time.Sleep(20 * time.Millisecond)

	removed := kl.Sweep(0)
	assert.Equal(t, 0, removed)
	assert.Equal(t, 1, kl.Len())

	release()
	select {
	case <-waiterDone:
	case <-time.After(time.Second):
		t.Fatal("queued waiter never ran")
	}
}
