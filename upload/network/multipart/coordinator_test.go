package multipart

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoordinator_Upload_Success(t *testing.T) {
	data := testData(10 * 1024 * 1024)
	backend := &fakeBackend{}
	transferer := newFakeTransferer()

	plan, err := NewPlan(int64(len(data)), 8*1024*1024)
	require.NoError(t, err)

	coordinator := NewCoordinator(DefaultConfig(), backend, transferer, NewByteSource(data), log.NewLogger())
	results, err := coordinator.Upload(context.Background(), testSession, plan)
	require.NoError(t, err)

	require.Len(t, results, 2)
	assert.Empty(t, results.Missing(plan))
	sorted := results.Sorted()
	assert.Equal(t, 1, sorted[0].PartNumber)
	assert.Equal(t, 2, sorted[1].PartNumber)
	assert.NotEmpty(t, sorted[0].ETag)
	assert.NotEmpty(t, sorted[1].ETag)

	assert.ElementsMatch(t, []int64{8 * 1024 * 1024, 2 * 1024 * 1024}, backend.negotiatedSizes())
	for _, req := range backend.negotiations {
		assert.False(t, req.Intelligent)
		assert.Len(t, req.MD5, 24)
	}
	assert.Equal(t, int64(2), coordinator.Stats().FinishedCount())
	assert.Equal(t, int64(len(data)), coordinator.Stats().Bytes())
}

func TestCoordinator_Upload_NoRetry(t *testing.T) {
	data := testData(40)
	backend := &fakeBackend{}
	transferer := newFakeTransferer()
	transferer.transferErr = func(url UploadURL, call int) error {
		if url.URL == "mem://upload-id/3/0" {
			return &StatusError{StatusCode: 500}
		}
		return nil
	}

	plan, err := NewPlan(int64(len(data)), 10)
	require.NoError(t, err)

	coordinator := NewCoordinator(DefaultConfig(), backend, transferer, NewByteSource(data), log.NewLogger())
	results, err := coordinator.Upload(context.Background(), testSession, plan)
	require.NoError(t, err)

	assert.Equal(t, 4, transferer.callCount(), "every part is attempted exactly once")
	assert.Len(t, results, 3)
	assert.Equal(t, []int{3}, results.Missing(plan))
}

func TestCoordinator_Upload_MissingETag(t *testing.T) {
	data := testData(20)
	backend := &fakeBackend{}
	transferer := newFakeTransferer()
	transferer.noETag = true

	plan, err := NewPlan(int64(len(data)), 10)
	require.NoError(t, err)

	coordinator := NewCoordinator(DefaultConfig(), backend, transferer, NewByteSource(data), log.NewLogger())
	results, err := coordinator.Upload(context.Background(), testSession, plan)
	require.NoError(t, err)

	assert.Empty(t, results)
	assert.Equal(t, []int{1, 2}, results.Missing(plan))
}

func TestCoordinator_Upload_FromFile(t *testing.T) {
	data := testData(100)
	path := filepath.Join(t.TempDir(), "test.bin")
	require.NoError(t, os.WriteFile(path, data, 0644))

	source, err := NewFileSource(path)
	require.NoError(t, err)
	defer source.Close()
	assert.Equal(t, int64(100), source.Size())

	backend := &fakeBackend{}
	transferer := newFakeTransferer()
	plan, err := NewPlan(source.Size(), 30)
	require.NoError(t, err)

	config := DefaultConfig()
	config.Concurrency = 2
	coordinator := NewCoordinator(config, backend, transferer, source, log.NewLogger())
	results, err := coordinator.Upload(context.Background(), testSession, plan)
	require.NoError(t, err)
	require.Len(t, results, 4)

	var rebuilt []byte
	for _, part := range plan.Parts() {
		rebuilt = append(rebuilt, transferer.stored["mem://upload-id/"+strconv.Itoa(part.Number)+"/0"]...)
	}
	assert.Equal(t, data, rebuilt)
}

func TestCoordinator_Upload_ContextCancellation(t *testing.T) {
	data := testData(100)
	backend := &fakeBackend{}
	transferer := newFakeTransferer()
	transferer.delay = 50 * time.Millisecond

	plan, err := NewPlan(int64(len(data)), 10)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	coordinator := NewCoordinator(DefaultConfig(), backend, transferer, NewByteSource(data), log.NewLogger())
	_, err = coordinator.Upload(ctx, testSession, plan)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
