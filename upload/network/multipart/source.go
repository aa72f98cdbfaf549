package multipart

import (
	"bytes"
	"crypto/md5"
	"encoding/base64"
	"fmt"
	"io"
	"os"
)

// Source provides the bytes of the file being uploaded.
// ReadAt must be safe for concurrent use, as parts are read in parallel.
type Source interface {
	io.ReaderAt
	Size() int64
}

// FileSource reads parts from a file on disk.
type FileSource struct {
	file *os.File
	size int64
}

// NewFileSource opens the file at path.
func NewFileSource(path string) (*FileSource, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close() //nolint:errcheck
		return nil, fmt.Errorf("stat file: %w", err)
	}

	return &FileSource{
		file: file,
		size: info.Size(),
	}, nil
}

// ReadAt implements io.ReaderAt.
func (s *FileSource) ReadAt(p []byte, off int64) (int, error) {
	return s.file.ReadAt(p, off)
}

// Size returns the size of the file when it was opened.
func (s *FileSource) Size() int64 {
	return s.size
}

// Close closes the underlying file.
func (s *FileSource) Close() error {
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}

// ByteSource provides parts from a byte slice already in memory.
type ByteSource struct {
	*bytes.Reader
}

// NewByteSource creates a Source from data.
func NewByteSource(data []byte) *ByteSource {
	return &ByteSource{Reader: bytes.NewReader(data)}
}

// readRange reads exactly size bytes at offset.
func readRange(src Source, offset, size int64) ([]byte, error) {
	data := make([]byte, size)
	n, err := io.ReadFull(io.NewSectionReader(src, offset, size), data)
	if err != nil {
		return nil, fmt.Errorf("read %d bytes at %d (got %d): %w", size, offset, n, err)
	}
	return data, nil
}

// checksum returns the base64 encoded MD5 digest of data.
func checksum(data []byte) string {
	sum := md5.Sum(data)
	return base64.StdEncoding.EncodeToString(sum[:])
}
