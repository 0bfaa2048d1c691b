package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRecencyCache_SeenAndMark(t *testing.T) {
	c := NewRecencyCache(30*time.Second, 100)

	assert.False(t, c.Seen("fp-1"))
	c.Mark("fp-1")
	assert.True(t, c.Seen("fp-1"))
	assert.False(t, c.Seen("fp-2"))
}

func TestRecencyCache_TTL(t *testing.T) {
	c := NewRecencyCache(100*time.Millisecond, 100)

	c.Mark("fp-1")
	assert.True(t, c.Seen("fp-1"))

	time.Sleep(150 * time.Millisecond)
	assert.False(t, c.Seen("fp-1"))
}

func TestRecencyCache_Bounded(t *testing.T) {
	c := NewRecencyCache(time.Minute, 10)
	for i := 0; i < 25; i++ {
		c.Mark(fmt.Sprintf("fp-%d", i))
		assert.LessOrEqual(t, c.Len(), 10)
	}
	assert.True(t, c.Seen("fp-24"))
}

func TestRecencyCache_Concurrent(t *testing.T) {
	c := NewRecencyCache(30*time.Second, 10000)
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				fp := fmt.Sprintf("fp-%d-%d", id, j)
				c.Mark(fp)
				c.Seen(fp)
			}
		}(i)
	}
	wg.Wait()

	assert.True(t, c.Seen("fp-5-50"))
	assert.Equal(t, 1000, c.Stats()["item_count"])
}

func BenchmarkRecencyCache_Seen(b *testing.B) {
	c := NewRecencyCache(30*time.Minute, 100000)
	for i := 0; i < 10000; i++ {
		c.Mark(fmt.Sprintf("fp-%d", i))
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Seen(fmt.Sprintf("fp-%d", i%10000))
	}
}
