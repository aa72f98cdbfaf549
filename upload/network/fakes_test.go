package network

import (
	"crypto/md5"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeFilestack serves the multipart endpoints and the object store from one httptest server.
type fakeFilestack struct {
	t      *testing.T
	server *httptest.Server

	uploadType string
	// pending is the number of 202 responses sent by complete before a 200.
	pending int
	// startStatus, when set, is returned by start for the first len(startStatus) calls.
	startStatus []int
	// completeStatus, when set, is returned by every complete call.
	completeStatus int
	// putStatus, when set, decides the status of an object store PUT.
	putStatus func(key string) int
	// omitETag drops the ETag header from object store responses.
	omitETag bool

	mu        sync.Mutex
	calls     map[string]int
	forms     map[string][]url.Values
	headers   []http.Header
	objects   map[string][]byte
	completed int
}

func newFakeFilestack(t *testing.T) *fakeFilestack {
	t.Helper()

	f := &fakeFilestack{
		t:          t,
		uploadType: "regular",
		calls:      map[string]int{},
		forms:      map[string][]url.Values{},
		objects:    map[string][]byte{},
	}
	f.server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeFilestack) endpoints() Endpoints {
	return Endpoints{
		APIURL:    f.server.URL + "/api",
		CDNURL:    f.server.URL + "/cdn",
		UploadURL: f.server.URL,
	}
}

func (f *fakeFilestack) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPut && strings.HasPrefix(r.URL.Path, "/s3/") {
		f.handlePut(w, r)
		return
	}

	require.NoError(f.t, r.ParseForm())

	f.mu.Lock()
	f.calls[r.URL.Path]++
	call := f.calls[r.URL.Path]
	f.forms[r.URL.Path] = append(f.forms[r.URL.Path], r.PostForm)
	f.headers = append(f.headers, r.Header.Clone())
	f.mu.Unlock()

	baseURL := "http://" + r.Host
	switch r.URL.Path {
	case "/multipart/start":
		if call <= len(f.startStatus) {
			w.WriteHeader(f.startStatus[call-1])
			fmt.Fprint(w, `{"error":"start failed"}`)
			return
		}
		f.writeJSON(w, map[string]string{
			"uri":          "/bucket/" + r.PostForm.Get("filename"),
			"region":       "us-east-1",
			"upload_id":    "upload-id",
			"location_url": baseURL,
			"upload_type":  f.uploadType,
		})
	case "/multipart/upload":
		key := r.PostForm.Get("part")
		if offset := r.PostForm.Get("offset"); offset != "" {
			key += "/" + offset
		}
		f.writeJSON(w, map[string]interface{}{
			"url":     baseURL + "/s3/" + key,
			"headers": map[string]string{"Content-MD5": r.PostForm.Get("md5")},
		})
	case "/multipart/commit":
		w.WriteHeader(http.StatusOK)
	case "/multipart/complete":
		f.mu.Lock()
		f.completed++
		completed := f.completed
		f.mu.Unlock()
		if f.completeStatus != 0 {
			w.WriteHeader(f.completeStatus)
			fmt.Fprint(w, `{"error":"missing parts"}`)
			return
		}
		if completed <= f.pending {
			w.WriteHeader(http.StatusAccepted)
			fmt.Fprint(w, `{}`)
			return
		}
		f.writeJSON(w, map[string]interface{}{
			"handle":   "HANDLE",
			"url":      baseURL + "/cdn/HANDLE",
			"filename": r.PostForm.Get("filename"),
			"size":     json.Number(r.PostForm.Get("size")),
			"mimetype": r.PostForm.Get("mimetype"),
			"status":   "Stored",
		})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeFilestack) handlePut(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/s3/")
	body, err := io.ReadAll(r.Body)
	require.NoError(f.t, err)

	sum := md5.Sum(body)
	require.Equal(f.t, base64.StdEncoding.EncodeToString(sum[:]), r.Header.Get("Content-MD5"))

	status := http.StatusOK
	if f.putStatus != nil {
		f.mu.Lock()
		status = f.putStatus(key)
		f.mu.Unlock()
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
		fmt.Fprint(w, "object store error")
		return
	}

	f.mu.Lock()
	f.objects[key] = body
	f.mu.Unlock()

	if !f.omitETag {
		w.Header().Set("ETag", fmt.Sprintf(`"etag-%s"`, strings.ReplaceAll(key, "/", "-")))
	}
	w.WriteHeader(http.StatusOK)
}

func (f *fakeFilestack) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	require.NoError(f.t, json.NewEncoder(w).Encode(v))
}

func (f *fakeFilestack) callCount(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[path]
}

func (f *fakeFilestack) formsOf(path string) []url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]url.Values(nil), f.forms[path]...)
}

func writeTestFile(t *testing.T, name string, size int) (string, []byte) {
	t.Helper()

	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i*7 + i/251)
	}
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path, data
}
