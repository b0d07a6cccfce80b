package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSequentialIDs(t *testing.T) {
	g := NewSequentialIDs("")
	assert.Equal(t, "m-0001", g.Generate())
	assert.Equal(t, "m-0002", g.Generate())

	custom := NewSequentialIDs("replay")
	assert.Equal(t, "replay-0001", custom.Generate())
}

func TestSequentialIDs_Unique(t *testing.T) {
	g := NewSequentialIDs("x")
	var mu sync.Mutex
	seen := make(map[string]bool)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := g.Generate()
			mu.Lock()
			seen[id] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 20)
}
