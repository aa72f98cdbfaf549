package multipart

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
)

// DefaultCompleteTimeout is the time an upload may spend being assembled after the last part.
const DefaultCompleteTimeout = 60 * time.Second

// CompleteFunc sends the complete request and returns the response status and body.
type CompleteFunc func(ctx context.Context) (int, []byte, error)

// Poller calls Complete until the upload is assembled.
type Poller struct {
	// Timeout bounds the whole polling. Default: 60s
	Timeout time.Duration
	// Interval is the pause after the first 202 response; it doubles on every further 202.
	// Zero polls without pause.
	Interval time.Duration
	// MaxInterval caps the pause. Zero means no cap.
	MaxInterval time.Duration

	logger log.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewPoller creates a Poller that busy-polls for at most timeout.
func NewPoller(timeout time.Duration, logger log.Logger) *Poller {
	if timeout <= 0 {
		timeout = DefaultCompleteTimeout
	}
	return &Poller{
		Timeout: timeout,
		logger:  logger,
		sleep:   sleepContext,
	}
}

// Poll calls complete until it returns 200 and returns that body.
// A 202 means the upload is still being assembled; if that persists past the timeout
// the returned error wraps ErrCompletionTimeout.
func (p *Poller) Poll(ctx context.Context, complete CompleteFunc) ([]byte, error) {
	pollCtx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	interval := p.Interval
	for attempt := 1; ; attempt++ {
		status, body, err := complete(pollCtx)
		if err != nil {
			if timedOut(ctx, pollCtx) {
				return nil, p.timeoutError(attempt)
			}
			return nil, &UploadError{Kind: Classify(StageComplete, err), Stage: StageComplete, Err: err}
		}

		switch status {
		case http.StatusOK:
			p.logger.Debugf("Upload completed after %d attempt(s)", attempt)
			return body, nil
		case http.StatusAccepted:
			p.logger.Debugf("Upload is still being assembled (attempt %d)", attempt)
		default:
			err := &StatusError{StatusCode: status, Body: string(body)}
			return nil, &UploadError{Kind: KindFailure, Stage: StageComplete, StatusCode: status, Err: err}
		}

		if err := p.sleep(pollCtx, interval); err != nil {
			if timedOut(ctx, pollCtx) {
				return nil, p.timeoutError(attempt)
			}
			return nil, err
		}
		if pollCtx.Err() != nil {
			if timedOut(ctx, pollCtx) {
				return nil, p.timeoutError(attempt)
			}
			return nil, ctx.Err()
		}

		interval = p.nextInterval(interval)
	}
}

func (p *Poller) nextInterval(interval time.Duration) time.Duration {
	if interval <= 0 {
		return interval
	}
	interval *= 2
	if p.MaxInterval > 0 && interval > p.MaxInterval {
		interval = p.MaxInterval
	}
	return interval
}

func (p *Poller) timeoutError(attempts int) error {
	return &UploadError{
		Kind:  KindTimeout,
		Stage: StageComplete,
		Err:   fmt.Errorf("%w after %v (%d attempts)", ErrCompletionTimeout, p.Timeout, attempts),
	}
}

// timedOut reports whether pollCtx expired on its own deadline rather than through its parent.
func timedOut(parent, pollCtx context.Context) bool {
	return parent.Err() == nil && errors.Is(pollCtx.Err(), context.DeadlineExceeded)
}
