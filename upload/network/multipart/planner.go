package multipart

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidSize is returned when planning a file that is empty or has a negative size.
	ErrInvalidSize = errors.New("file size must be greater than zero")
	// ErrInvalidChunkSize is returned when planning with a non-positive chunk size.
	ErrInvalidChunkSize = errors.New("chunk size must be greater than zero")
)

// Plan divides a file of known size into fixed-size parts.
type Plan struct {
	Size      int64
	ChunkSize int64
	Count     int
}

// NewPlan creates the plan of a file with the given size and chunk size.
func NewPlan(size, chunkSize int64) (Plan, error) {
	if size <= 0 {
		return Plan{}, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}
	if chunkSize <= 0 {
		return Plan{}, fmt.Errorf("%w: %d", ErrInvalidChunkSize, chunkSize)
	}

	count := size / chunkSize
	if size%chunkSize != 0 {
		count++
	}

	return Plan{
		Size:      size,
		ChunkSize: chunkSize,
		Count:     int(count),
	}, nil
}

// Part returns the part with the given 1-based number.
func (p Plan) Part(number int) Part {
	offset := int64(number-1) * p.ChunkSize
	size := p.ChunkSize
	if rest := p.Size - offset; rest < size {
		size = rest
	}

	return Part{
		Number: number,
		Offset: offset,
		Size:   size,
	}
}

// Parts returns every part of the plan in order.
func (p Plan) Parts() []Part {
	parts := make([]Part, 0, p.Count)
	for number := 1; number <= p.Count; number++ {
		parts = append(parts, p.Part(number))
	}
	return parts
}

// PlanParts divides size bytes into parts of chunkSize bytes; the last part holds the remainder.
func PlanParts(size, chunkSize int64) ([]Part, error) {
	plan, err := NewPlan(size, chunkSize)
	if err != nil {
		return nil, err
	}
	return plan.Parts(), nil
}

// SplitPart divides a part into sub-chunks of at most offsetSize bytes.
func SplitPart(part Part, offsetSize int64) []SubChunk {
	if offsetSize <= 0 {
		offsetSize = part.Size
	}

	var chunks []SubChunk
	for offset := int64(0); offset < part.Size; offset += offsetSize {
		size := offsetSize
		if rest := part.Size - offset; rest < size {
			size = rest
		}
		chunks = append(chunks, SubChunk{
			PartNumber: part.Number,
			Offset:     offset,
			Size:       size,
		})
	}
	return chunks
}

// BatchGenerator lazily yields bounded batches of parts from a plan.
type BatchGenerator struct {
	plan      Plan
	batchSize int
	next      int
}

// NewBatchGenerator creates a generator that yields at most batchSize parts per batch.
func NewBatchGenerator(plan Plan, batchSize int) *BatchGenerator {
	if batchSize <= 0 {
		batchSize = 1
	}
	return &BatchGenerator{
		plan:      plan,
		batchSize: batchSize,
		next:      1,
	}
}

// Next returns the next batch. It returns false once every part has been yielded.
func (g *BatchGenerator) Next() ([]Part, bool) {
	if g.next > g.plan.Count {
		return nil, false
	}

	batch := make([]Part, 0, g.batchSize)
	for len(batch) < g.batchSize && g.next <= g.plan.Count {
		batch = append(batch, g.plan.Part(g.next))
		g.next++
	}
	return batch, true
}

// Remaining returns the number of parts not yet yielded.
func (g *BatchGenerator) Remaining() int {
	return g.plan.Count - g.next + 1
}
