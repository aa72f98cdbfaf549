package multipart

import (
	"sync"
	"time"
)

// Stats tracks upload progress. It has no effect on the upload itself.
type Stats struct {
	sum           time.Duration
	finishedParts int64
	bytes         int64
	mu            sync.Mutex
}

// NewStats creates a new Stats instance.
func NewStats() *Stats {
	return &Stats{}
}

// Update records a finished part of the given size and duration.
func (s *Stats) Update(size int64, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sum += d
	s.bytes += size
	s.finishedParts++
}

// Average returns the average duration of finished parts.
func (s *Stats) Average() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finishedParts == 0 {
		return 0
	}
	return s.sum / time.Duration(s.finishedParts)
}

// FinishedCount returns the number of finished parts.
func (s *Stats) FinishedCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finishedParts
}

// Bytes returns the number of bytes of finished parts.
func (s *Stats) Bytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytes
}
