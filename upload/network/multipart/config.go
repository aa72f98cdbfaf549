package multipart

import (
	"time"
)

const (
	// DefaultChunkSize is the size of a part.
	DefaultChunkSize int64 = 8 * 1024 * 1024
	// DefaultMaxRetries is the number of failures a part may record before the flow fails.
	DefaultMaxRetries = 5
)

// DefaultOffsetLadder is the ordered list of sub-chunk sizes tried under sustained network failure.
var DefaultOffsetLadder = []int64{524288, 262144, 131072, 65536, 32768}

// Config holds configuration for the part uploaders.
type Config struct {
	// ChunkSize is the size of a part.
	// Default: 8MB
	ChunkSize int64

	// Concurrency is the number of workers of the regular path.
	// Default: 4
	Concurrency int

	// BatchSize is the maximum number of parts in flight on the intelligent path.
	// Default: 4
	BatchSize int

	// SubChunkConcurrency is the maximum number of concurrent sub-chunk uploads across all active parts.
	// Default: 5
	SubChunkConcurrency int

	// MaxRetries is the number of failures a part may record before it is considered dead.
	// Default: 5
	MaxRetries int

	// OffsetLadder lists the sub-chunk sizes, largest first.
	OffsetLadder []int64

	// NetworkDelay is the fixed pause before retrying a part after a network failure.
	// Default: 5 seconds
	NetworkDelay time.Duration

	// BackoffUnit is multiplied by 2^retries after a server failure, so the first wait is one unit.
	// Default: 1 second
	BackoffUnit time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	ladder := make([]int64, len(DefaultOffsetLadder))
	copy(ladder, DefaultOffsetLadder)

	return Config{
		ChunkSize:           DefaultChunkSize,
		Concurrency:         4,
		BatchSize:           4,
		SubChunkConcurrency: 5,
		MaxRetries:          DefaultMaxRetries,
		OffsetLadder:        ladder,
		NetworkDelay:        5 * time.Second,
		BackoffUnit:         time.Second,
	}
}

// withDefaults fills the zero values of c from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()

	if c.ChunkSize <= 0 {
		c.ChunkSize = d.ChunkSize
	}
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.SubChunkConcurrency <= 0 {
		c.SubChunkConcurrency = d.SubChunkConcurrency
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	if len(c.OffsetLadder) == 0 {
		c.OffsetLadder = d.OffsetLadder
	}
	if c.NetworkDelay <= 0 {
		c.NetworkDelay = d.NetworkDelay
	}
	if c.BackoffUnit <= 0 {
		c.BackoffUnit = d.BackoffUnit
	}

	return c
}
