package testutil

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// UUIDSequence generates reproducible UUIDs.
//
// The n-th UUID of a sequence is a name-based (version 5) UUID of
// "<prefix>-<n>", so the same sequence yields the same UUIDs in every run
// and two sequences with different prefixes never collide.
//
// Thread-safety: Next is safe for concurrent use.
type UUIDSequence struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewUUIDSequence creates a sequence. An empty prefix uses "test".
func NewUUIDSequence(prefix string) *UUIDSequence {
	if prefix == "" {
		prefix = "test"
	}
	return &UUIDSequence{prefix: prefix}
}

// Next returns the next UUID in canonical string form.
func (s *UUIDSequence) Next() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return uuid.NewSHA1(uuid.NameSpaceOID, fmt.Appendf(nil, "%s-%d", s.prefix, s.n)).String()
}
