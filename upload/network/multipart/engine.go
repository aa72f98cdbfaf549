package multipart

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
	"golang.org/x/sync/errgroup"
)

// Engine uploads parts on the intelligent path. Each part is split into sub-chunks
// sized by its RetryState, uploaded through a shared pool and committed once all of them succeeded.
// Failed parts are retried according to the failure kind until their retry budget runs out.
type Engine struct {
	config     Config
	backend    Backend
	transferer Transferer
	source     Source
	logger     log.Logger
	stats      *Stats
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewEngine creates an Engine reading parts from source.
func NewEngine(config Config, backend Backend, transferer Transferer, source Source, logger log.Logger) *Engine {
	return &Engine{
		config:     config.withDefaults(),
		backend:    backend,
		transferer: transferer,
		source:     source,
		logger:     logger,
		stats:      NewStats(),
		sleep:      sleepContext,
	}
}

// Upload uploads and commits every part of the plan, batch by batch.
// It returns the first terminal failure: a FAILURE classification or a part running out of retries.
func (e *Engine) Upload(ctx context.Context, session Session, plan Plan) error {
	generator := NewBatchGenerator(plan, e.config.BatchSize)
	pool := make(chan struct{}, e.config.SubChunkConcurrency)

	for {
		batch, ok := generator.Next()
		if !ok {
			break
		}

		group, groupCtx := errgroup.WithContext(ctx)
		for _, part := range batch {
			part := part
			group.Go(func() error {
				return e.uploadPart(groupCtx, session, part, pool)
			})
		}
		if err := group.Wait(); err != nil {
			e.logger.Errorf("Upload aborted: %s", err)
			return err
		}

		e.logger.Debugf("Committed %d/%d parts", e.stats.FinishedCount(), plan.Count)
	}

	return nil
}

// Stats returns the upload statistics.
func (e *Engine) Stats() *Stats {
	return e.stats
}

func (e *Engine) uploadPart(ctx context.Context, session Session, part Part, pool chan struct{}) error {
	start := time.Now()
	state := NewRetryState(e.config.OffsetLadder, e.config.MaxRetries)

	state.Record(e.attemptPart(ctx, session, part, state.OffsetSize(), pool))

	for state.Bad() {
		if err := ctx.Err(); err != nil {
			return err
		}

		kind := state.LastKind()
		if kind == KindFailure {
			break
		}

		backoff := state.Backoff(e.config.BackoffUnit)
		state.AddRetry()
		if !state.Alive() {
			break
		}

		var err error
		switch {
		case kind.IsNetwork():
			err = e.sleep(ctx, e.config.NetworkDelay)
			previous := state.OffsetSize()
			current := state.ShrinkOffset()
			e.logger.Warnf("Part %d: %s, offset size %s -> %s", part.Number, state.LastError(),
				units.HumanSize(float64(previous)), units.HumanSize(float64(current)))
		case kind.IsServer():
			e.logger.Warnf("Part %d: %s, retrying after %v", part.Number, state.LastError(), backoff)
			err = e.sleep(ctx, backoff)
		}
		if err != nil {
			return err
		}

		state.Record(e.attemptPart(ctx, session, part, state.OffsetSize(), pool))
	}

	if state.OK() {
		e.stats.Update(part.Size, time.Since(start))
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	lastErr := state.LastError()
	if lastErr.Kind == KindFailure {
		return fmt.Errorf("part %d: %w", part.Number, lastErr)
	}
	return fmt.Errorf("part %d failed %d times: %w: %w", part.Number, state.Retries(), ErrRetriesExhausted, lastErr)
}

// attemptPart uploads every sub-chunk of the part and commits it.
// It returns the most severe failure observed, or nil once the part is committed.
func (e *Engine) attemptPart(ctx context.Context, session Session, part Part, offsetSize int64, pool chan struct{}) *UploadError {
	chunks := SplitPart(part, offsetSize)
	e.logger.Debugf("Uploading part %d in %d sub-chunks of %s", part.Number, len(chunks), units.HumanSize(float64(offsetSize)))

	// The first failure stops the remaining sub-chunks of the part.
	partCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		worst *UploadError
	)

	for _, chunk := range chunks {
		wg.Add(1)
		go func(chunk SubChunk) {
			defer wg.Done()

			select {
			case pool <- struct{}{}:
			case <-partCtx.Done():
				return
			}
			defer func() { <-pool }()

			if partCtx.Err() != nil {
				return
			}

			err := e.uploadSubChunk(partCtx, session, part, chunk)
			if err == nil {
				return
			}

			mu.Lock()
			defer mu.Unlock()
			// Sub-chunks cancelled by a sibling failure are not failures of their own.
			if worst != nil && errors.Is(err, context.Canceled) {
				return
			}
			if worst == nil || worse(worst.Kind, err.Kind) != worst.Kind {
				worst = err
			}
			cancel()
		}(chunk)
	}
	wg.Wait()

	if worst != nil {
		return worst
	}
	if err := ctx.Err(); err != nil {
		return newUploadError(StageNegotiate, part.Number, err)
	}

	if err := e.backend.CommitPart(ctx, session, part); err != nil {
		return newUploadError(StageCommit, part.Number, err)
	}

	e.logger.Debugf("Part %d committed", part.Number)
	return nil
}

func (e *Engine) uploadSubChunk(ctx context.Context, session Session, part Part, chunk SubChunk) *UploadError {
	data, err := readRange(e.source, part.Offset+chunk.Offset, chunk.Size)
	if err != nil {
		return newUploadError(StageRead, part.Number, err)
	}

	url, err := e.backend.NegotiatePart(ctx, session, PartRequest{
		PartNumber:  part.Number,
		Size:        int64(len(data)),
		MD5:         checksum(data),
		Offset:      chunk.Offset,
		Intelligent: true,
	})
	if err != nil {
		return newUploadError(StageNegotiate, part.Number, err)
	}

	if _, err := e.transferer.Transfer(ctx, url, data); err != nil {
		return newUploadError(StageTransfer, part.Number, err)
	}

	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
