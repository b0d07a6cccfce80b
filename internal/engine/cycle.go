package engine

import "strconv"

// versionHistory records the (name, version) pairs a mutation passed
// through while being upgraded. Seeing a pair twice means the transform
// loops and will never reach the current version.
//
// Not safe for concurrent use; each upgrade owns one.
type versionHistory struct {
	seen map[string]bool
}

func newVersionHistory() *versionHistory {
	return &versionHistory{seen: make(map[string]bool)}
}

// visit records name@version and reports whether it was already seen.
func (h *versionHistory) visit(name string, version int) bool {
	key := name + "@" + strconv.Itoa(version)
	if h.seen[key] {
		return true
	}
	h.seen[key] = true
	return false
}

func (h *versionHistory) size() int {
	return len(h.seen)
}
