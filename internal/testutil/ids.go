package testutil

import (
	"fmt"
	"sync"
)

// SequentialIDs generates mutation IDs "<prefix>-0001", "<prefix>-0002", ...
//
// Used in place of random UUIDs so the same scenario produces byte-identical
// WAL contents across runs. Safe for concurrent use.
type SequentialIDs struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialIDs creates a generator. An empty prefix becomes "m".
func NewSequentialIDs(prefix string) *SequentialIDs {
	if prefix == "" {
		prefix = "m"
	}
	return &SequentialIDs{prefix: prefix}
}

// Generate returns the next ID.
func (g *SequentialIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%04d", g.prefix, g.n)
}
