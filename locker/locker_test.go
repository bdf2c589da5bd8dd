package locker

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWithLockSerializesSameIdentity(t *testing.T) {
	var mutex sync.Mutex
	active := 0
	maxActive := 0

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			WithLock("signer-1", func() {
				mutex.Lock()
				active++
				if active > maxActive {
					maxActive = active
				}
				mutex.Unlock()

				time.Sleep(time.Millisecond * 5)

				mutex.Lock()
				active--
				mutex.Unlock()
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxActive, "no two critical sections for one identity should overlap")
	assert.Equal(t, 0, LockedCount())
}

func TestWithLockAllowsDistinctIdentitiesInParallel(t *testing.T) {
	var mutex sync.Mutex
	active := 0
	maxActive := 0

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		identity := string(rune('a' + i))
		go func() {
			defer wg.Done()
			WithLock(identity, func() {
				mutex.Lock()
				active++
				if active > maxActive {
					maxActive = active
				}
				mutex.Unlock()

				time.Sleep(time.Millisecond * 25)

				mutex.Lock()
				active--
				mutex.Unlock()
			})
		}()
	}
	wg.Wait()

	assert.True(t, maxActive > 1, "distinct identities should proceed in parallel")
}

func TestIsLockedObservesHeldLock(t *testing.T) {
	assert.False(t, IsLocked("signer-2"))

	entered := make(chan struct{})
	release := make(chan struct{})

	go WithLock("signer-2", func() {
		close(entered)
		<-release
	})

	<-entered
	assert.True(t, IsLocked("signer-2"))
	assert.Equal(t, 1, LockedCount())

	close(release)

	for i := 0; i < 100 && IsLocked("signer-2"); i++ {
		time.Sleep(time.Millisecond)
	}
	assert.False(t, IsLocked("signer-2"))
	assert.Equal(t, 0, LockedCount())
}
