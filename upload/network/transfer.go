package network

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/filestack/filestack-go/upload/network/multipart"
)

const maxErrorBody = 1024

// objectStore puts part bytes to the signed URLs returned by the backend.
type objectStore struct {
	httpClient *http.Client
	logger     log.Logger
}

func newObjectStore(httpClient *http.Client, logger log.Logger) *objectStore {
	if httpClient == nil {
		httpClient = defaultTransferClient()
	}
	return &objectStore{httpClient: httpClient, logger: logger}
}

// defaultTransferClient creates an HTTP client for part uploads.
func defaultTransferClient() *http.Client {
	return &http.Client{
		// Individual requests are bounded by their context.
		Timeout: 0,
		Transport: &http.Transport{
			MaxIdleConns:        50,
			MaxConnsPerHost:     20,
			IdleConnTimeout:     10 * time.Second,
			TLSHandshakeTimeout: 5 * time.Second,
			Proxy:               http.ProxyFromEnvironment,
		},
	}
}

// Transfer sends data once and returns the ETag of the stored object.
// Non-2xx responses are returned as *multipart.StatusError. A stored object without an ETag
// header yields an empty ETag; callers that record ETags decide whether that is an error.
func (s *objectStore) Transfer(ctx context.Context, url multipart.UploadURL, data []byte) (string, error) {
	method := url.Method
	if method == "" {
		method = http.MethodPut
	}

	req, err := http.NewRequestWithContext(ctx, method, url.URL, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	for k, v := range url.Headers {
		req.Header.Set(k, v)
	}
	req.ContentLength = int64(len(data))

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("do request: %w", err)
	}
	defer func(body io.ReadCloser) {
		err := body.Close()
		if err != nil {
			s.logger.Printf(err.Error())
		}
	}(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errorBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", &multipart.StatusError{StatusCode: resp.StatusCode, Body: string(errorBody)}
	}

	return resp.Header.Get("ETag"), nil
}
