// Package multipart provides the part planning and upload engines of the multipart ingestion flow.
// It supports a regular path with bounded parallelism and an intelligent path that splits parts into
// adaptively-sized sub-chunks with failure classification, offset shrinkage and exponential backoff.
package multipart

import (
	"context"
	"sort"
)

// Session identifies a multipart upload started on the backend. It is immutable for the upload.
type Session struct {
	URI                 string
	Region              string
	UploadID            string
	LocationURL         string
	StorageLocation     string
	SupportsIntelligent bool
}

// Part is a fixed-size contiguous byte range of the file.
type Part struct {
	// Number is 1-based.
	Number int
	Offset int64
	Size   int64
}

// SubChunk is a byte range within a part, used only by the intelligent path.
// Offset is relative to the start of the part.
type SubChunk struct {
	PartNumber int
	Offset     int64
	Size       int64
}

// UploadURL represents a signed destination for a part or sub-chunk.
type UploadURL struct {
	Method  string
	URL     string
	Headers map[string]string
}

// PartRequest describes the bytes for which a destination is negotiated.
type PartRequest struct {
	PartNumber int
	Size       int64
	MD5        string
	// Offset and Intelligent are only sent for sub-chunks.
	Offset      int64
	Intelligent bool
}

// Backend negotiates destinations and commits parts.
type Backend interface {
	NegotiatePart(ctx context.Context, session Session, req PartRequest) (UploadURL, error)
	CommitPart(ctx context.Context, session Session, part Part) error
}

// Transferer moves bytes to a negotiated destination and returns the ETag of the stored object,
// empty when the destination sent none.
type Transferer interface {
	Transfer(ctx context.Context, url UploadURL, data []byte) (string, error)
}

// PartResult is the outcome of a successful regular-path part upload.
type PartResult struct {
	PartNumber int
	ETag       string
	Err        error
}

// PartResults holds the ETag of every uploaded part keyed by part number.
type PartResults map[int]string

// Sorted returns the results ordered by part number.
func (r PartResults) Sorted() []PartResult {
	sorted := make([]PartResult, 0, len(r))
	for number, etag := range r {
		sorted = append(sorted, PartResult{PartNumber: number, ETag: etag})
	}
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].PartNumber < sorted[j].PartNumber
	})
	return sorted
}

// Missing returns the part numbers of the plan without a result.
func (r PartResults) Missing(plan Plan) []int {
	var missing []int
	for number := 1; number <= plan.Count; number++ {
		if _, ok := r[number]; !ok {
			missing = append(missing, number)
		}
	}
	return missing
}
