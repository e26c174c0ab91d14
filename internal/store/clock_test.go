package store

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMonotonicClockStrictlyIncreases(t *testing.T) {
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewMonotonicClock(time.Millisecond)
	clock.now = func() time.Time { return fixed }

	first := clock.Now()
	second := clock.Now()

	require.Equal(t, fixed, first)
	require.Equal(t, fixed.Add(time.Millisecond), second)
}

func TestMonotonicClockConcurrentUnique(t *testing.T) {
	clock := NewMonotonicClock(0)

	var (
		mu   sync.Mutex
		seen = make(map[time.Time]struct{})
		wg   sync.WaitGroup
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				ts := clock.Now()
				mu.Lock()
				seen[ts] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, 800)
}
