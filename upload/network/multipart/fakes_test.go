package multipart

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type fakeBackend struct {
	mu           sync.Mutex
	negotiateErr func(req PartRequest, call int) error
	commitErr    func(part Part, call int) error
	negotiations []PartRequest
	commits      []int
	// active holds the parts negotiated but not yet committed.
	active       map[int]bool
	maxActive    int
}

func (b *fakeBackend) NegotiatePart(ctx context.Context, session Session, req PartRequest) (UploadURL, error) {
	b.mu.Lock()
	b.negotiations = append(b.negotiations, req)
	call := len(b.negotiations)
	fn := b.negotiateErr
	if b.active == nil {
		b.active = map[int]bool{}
	}
	b.active[req.PartNumber] = true
	if len(b.active) > b.maxActive {
		b.maxActive = len(b.active)
	}
	b.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return UploadURL{}, err
	}
	if fn != nil {
		if err := fn(req, call); err != nil {
			return UploadURL{}, err
		}
	}

	return UploadURL{
		Method:  "PUT",
		URL:     fmt.Sprintf("mem://%s/%d/%d", session.UploadID, req.PartNumber, req.Offset),
		Headers: map[string]string{"Content-MD5": req.MD5},
	}, nil
}

func (b *fakeBackend) CommitPart(ctx context.Context, session Session, part Part) error {
	b.mu.Lock()
	b.commits = append(b.commits, part.Number)
	call := len(b.commits)
	fn := b.commitErr
	b.mu.Unlock()

	if fn != nil {
		if err := fn(part, call); err != nil {
			return err
		}
	}

	b.mu.Lock()
	delete(b.active, part.Number)
	b.mu.Unlock()
	return nil
}

func (b *fakeBackend) negotiatedSizes() []int64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	sizes := make([]int64, 0, len(b.negotiations))
	for _, req := range b.negotiations {
		sizes = append(sizes, req.Size)
	}
	return sizes
}

func (b *fakeBackend) commitCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.commits)
}

type fakeTransferer struct {
	mu          sync.Mutex
	transferErr func(url UploadURL, call int) error
	stored      map[string][]byte
	calls       int
	inFlight    int
	maxInFlight int
	delay       time.Duration
	noETag      bool
}

func newFakeTransferer() *fakeTransferer {
	return &fakeTransferer{stored: map[string][]byte{}}
}

func (t *fakeTransferer) Transfer(ctx context.Context, url UploadURL, data []byte) (string, error) {
	t.mu.Lock()
	t.calls++
	call := t.calls
	t.inFlight++
	if t.inFlight > t.maxInFlight {
		t.maxInFlight = t.inFlight
	}
	fn := t.transferErr
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		t.inFlight--
		t.mu.Unlock()
	}()

	if t.delay > 0 {
		time.Sleep(t.delay)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if fn != nil {
		if err := fn(url, call); err != nil {
			return "", err
		}
	}

	t.mu.Lock()
	t.stored[url.URL] = append([]byte(nil), data...)
	t.mu.Unlock()

	if t.noETag {
		return "", nil
	}
	return fmt.Sprintf("\"etag-%d\"", call), nil
}

func (t *fakeTransferer) callCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

// recordingSleep replaces real sleeps and records the requested durations.
type recordingSleep struct {
	mu    sync.Mutex
	slept []time.Duration
}

func (s *recordingSleep) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.slept = append(s.slept, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *recordingSleep) durations() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.slept...)
}

func testData(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

var testSession = Session{
	URI:             "/bucket/key",
	Region:          "us-east-1",
	UploadID:        "upload-id",
	LocationURL:     "upload-eu.filestackapi.com",
	StorageLocation: "s3",
}
