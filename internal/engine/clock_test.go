package engine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClock_NewClock(t *testing.T) {
	c := NewClock()
	assert.Equal(t, int64(0), c.Current(), "new clock should start at 0")
}

func TestClock_ConcurrentReaders(t *testing.T) {
	c := NewClock()
	const rounds = 1000

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			c.Next()
		}
	}()

	// A status reader polls while the scheduler advances.
	last := int64(0)
	for i := 0; i < rounds; i++ {
		cur := c.Current()
		assert.GreaterOrEqual(t, cur, last, "Current must never go backwards")
		last = cur
	}
	wg.Wait()
	assert.Equal(t, int64(rounds), c.Current())
}
