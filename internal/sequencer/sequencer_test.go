package sequencer

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSequencer_Monotonic(t *testing.T) {
	seq := New()

	assert.Equal(t, uint64(0), seq.CurrentInboundSeq())
	assert.Equal(t, uint64(1), seq.NextInbound())
	assert.Equal(t, uint64(2), seq.NextInbound())
	assert.Equal(t, uint64(2), seq.CurrentInboundSeq())

	// Inbound and outbound counters are independent.
	assert.Equal(t, uint64(1), seq.NextOutbound())
	assert.Equal(t, uint64(1), seq.CurrentOutboundSeq())
	assert.Equal(t, uint64(2), seq.CurrentInboundSeq())
}

func TestSequencer_ConcurrentUnique(t *testing.T) {
	seq := New()

	const goroutines = 8
	const perGoroutine = 1000

	var mu sync.Mutex
	seen := make(map[uint64]bool, goroutines*perGoroutine)

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids := make([]uint64, 0, perGoroutine)
			for j := 0; j < perGoroutine; j++ {
				ids = append(ids, seq.NextInbound())
			}
			mu.Lock()
			for _, id := range ids {
				seen[id] = true
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, goroutines*perGoroutine)
	assert.Equal(t, uint64(goroutines*perGoroutine), seq.CurrentInboundSeq())
}
