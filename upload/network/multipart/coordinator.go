package multipart

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
)

// Coordinator uploads parts on the regular path: every part is attempted exactly once
// by a fixed pool of workers, failures are logged and leave the part without a result.
type Coordinator struct {
	config     Config
	backend    Backend
	transferer Transferer
	source     Source
	logger     log.Logger
	stats      *Stats
}

// NewCoordinator creates a Coordinator reading parts from source.
func NewCoordinator(config Config, backend Backend, transferer Transferer, source Source, logger log.Logger) *Coordinator {
	return &Coordinator{
		config:     config.withDefaults(),
		backend:    backend,
		transferer: transferer,
		source:     source,
		logger:     logger,
		stats:      NewStats(),
	}
}

// Upload uploads every part of the plan and returns the ETags of the successful ones.
// Only cancellation of ctx is returned as an error; part failures surface as missing results.
func (c *Coordinator) Upload(ctx context.Context, session Session, plan Plan) (PartResults, error) {
	generator := NewBatchGenerator(plan, c.config.Concurrency)
	jobs := make(chan Part, c.config.Concurrency)

	go func() {
		defer close(jobs)
		for {
			batch, ok := generator.Next()
			if !ok {
				return
			}
			for _, part := range batch {
				select {
				case jobs <- part:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	resultChan := make(chan PartResult, c.config.Concurrency)
	var wg sync.WaitGroup
	for i := 0; i < c.config.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for part := range jobs {
				start := time.Now()
				etag, err := c.uploadPart(ctx, session, part)
				if err == nil {
					c.stats.Update(part.Size, time.Since(start))
				}
				resultChan <- PartResult{PartNumber: part.Number, ETag: etag, Err: err}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	results := PartResults{}
	for result := range resultChan {
		if result.Err != nil {
			c.logger.Warnf("Part %d/%d failed: %s", result.PartNumber, plan.Count, result.Err)
			continue
		}
		results[result.PartNumber] = result.ETag
		c.logger.Debugf("Part %d/%d uploaded [finished=%d] [avg=%v]",
			result.PartNumber, plan.Count, c.stats.FinishedCount(), c.stats.Average().Round(time.Millisecond))
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("upload cancelled while waiting for parts: %w", err)
	}

	return results, nil
}

// Stats returns the upload statistics.
func (c *Coordinator) Stats() *Stats {
	return c.stats
}

func (c *Coordinator) uploadPart(ctx context.Context, session Session, part Part) (string, error) {
	data, err := readRange(c.source, part.Offset, part.Size)
	if err != nil {
		return "", newUploadError(StageRead, part.Number, err)
	}

	c.logger.Debugf("Uploading part %d (%s)", part.Number, units.HumanSize(float64(part.Size)))

	url, err := c.backend.NegotiatePart(ctx, session, PartRequest{
		PartNumber: part.Number,
		Size:       int64(len(data)),
		MD5:        checksum(data),
	})
	if err != nil {
		return "", newUploadError(StageNegotiate, part.Number, err)
	}

	etag, err := c.transferer.Transfer(ctx, url, data)
	if err != nil {
		return "", newUploadError(StageTransfer, part.Number, err)
	}
	// Completion lists the ETag of every part.
	if etag == "" {
		return "", newUploadError(StageTransfer, part.Number, ErrMissingETag)
	}

	return etag, nil
}
