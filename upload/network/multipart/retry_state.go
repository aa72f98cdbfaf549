package multipart

import (
	"time"
)

// RetryState tracks the attempts of one part on the intelligent path.
// It is owned by the goroutine coordinating the part; workers only report outcomes.
type RetryState struct {
	ladder      []int64
	ladderIndex int
	retries     int
	maxRetries  int
	ok          bool
	alive       bool
	lastErr     *UploadError
}

// NewRetryState creates a state positioned on the largest rung of the ladder.
func NewRetryState(ladder []int64, maxRetries int) *RetryState {
	if len(ladder) == 0 {
		ladder = DefaultOffsetLadder
	}
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	return &RetryState{
		ladder:     ladder,
		maxRetries: maxRetries,
		ok:         true,
		alive:      true,
	}
}

// OffsetSize returns the current sub-chunk size.
func (s *RetryState) OffsetSize() int64 {
	return s.ladder[s.ladderIndex]
}

// ShrinkOffset moves to the next smaller rung and returns the new size.
// The smallest rung is kept once reached.
func (s *RetryState) ShrinkOffset() int64 {
	if s.ladderIndex < len(s.ladder)-1 {
		s.ladderIndex++
	}
	return s.OffsetSize()
}

// Record stores the outcome of an attempt. A nil error marks the part committed and resets the retries.
func (s *RetryState) Record(err *UploadError) {
	if err == nil {
		s.ok = true
		s.lastErr = nil
		s.retries = 0
		return
	}
	s.ok = false
	s.lastErr = err
}

// AddRetry counts a retry; the part is dead once the maximum is reached.
func (s *RetryState) AddRetry() {
	s.retries++
	if s.retries >= s.maxRetries {
		s.alive = false
	}
}

// Backoff returns the pause before retrying after a server failure: unit * 2^retries.
// It is computed before the failure is counted, so the first pause is one unit.
func (s *RetryState) Backoff(unit time.Duration) time.Duration {
	return unit * time.Duration(1<<uint(s.retries))
}

// Bad reports whether the part failed but can still be retried.
func (s *RetryState) Bad() bool {
	return !s.ok && s.alive
}

// OK reports whether the last attempt succeeded.
func (s *RetryState) OK() bool {
	return s.ok
}

// Alive reports whether the retry budget is not yet exhausted.
func (s *RetryState) Alive() bool {
	return s.alive
}

// Retries returns the number of retries counted since the last success.
func (s *RetryState) Retries() int {
	return s.retries
}

// LastKind returns the kind of the last failure.
func (s *RetryState) LastKind() FailureKind {
	if s.lastErr == nil {
		return KindNone
	}
	return s.lastErr.Kind
}

// LastError returns the last failure, or nil.
func (s *RetryState) LastError() *UploadError {
	return s.lastErr
}
