package filestack

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"

	uploadmultipart "github.com/filestack/filestack-go/upload/network/multipart"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/melbahja/got"
)

// ErrSecurityRequired is returned by calls that modify a stored file when no Security is configured.
var ErrSecurityRequired = errors.New("security is required to modify a stored file")

// Filelink is a file stored on Filestack.
type Filelink struct {
	Handle string
	client *Client
}

// URL returns the CDN URL of the file, signed when security is configured.
func (f *Filelink) URL() string {
	fileURL := fmt.Sprintf("%s/%s", f.client.config.Endpoints.CDNURL, f.Handle)
	if f.client.config.Security != nil {
		fileURL = f.client.config.Security.SignURL(fileURL)
	}
	return fileURL
}

// Content returns the content of the file.
func (f *Filelink) Content(ctx context.Context) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, f.URL(), nil)
	if err != nil {
		return nil, err
	}
	setUserAgent(req.Header)

	status, body, err := f.client.do(req)
	if err != nil {
		return nil, fmt.Errorf("get content of %s: %w", f.Handle, err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("get content of %s: %w", f.Handle, &uploadmultipart.StatusError{StatusCode: status, Body: string(body)})
	}
	return body, nil
}

// Download saves the file to dest, fetching ranges in parallel.
func (f *Filelink) Download(ctx context.Context, dest string) error {
	downloader := got.New()
	downloader.Client = f.client.httpClient.StandardClient()

	if err := downloader.Do(got.NewDownload(ctx, f.URL(), dest)); err != nil {
		return fmt.Errorf("download %s: %w", f.Handle, err)
	}

	f.client.logger.Debugf("Downloaded %s to %s", f.Handle, dest)
	return nil
}

// Delete removes the file from storage.
func (f *Filelink) Delete(ctx context.Context) error {
	endpoint, err := f.fileEndpoint()
	if err != nil {
		return err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return err
	}
	setUserAgent(req.Header)

	status, body, err := f.client.do(req)
	if err != nil {
		return fmt.Errorf("delete %s: %w", f.Handle, err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("delete %s: %w", f.Handle, &uploadmultipart.StatusError{StatusCode: status, Body: string(body)})
	}

	f.client.logger.Donef("Deleted %s", f.Handle)
	return nil
}

// Overwrite replaces the content of the file with the local file at path.
func (f *Filelink) Overwrite(ctx context.Context, path string) error {
	endpoint, err := f.fileEndpoint()
	if err != nil {
		return err
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, endpoint, content)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	setUserAgent(req.Header)

	status, body, err := f.client.do(req)
	if err != nil {
		return fmt.Errorf("overwrite %s: %w", f.Handle, err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("overwrite %s: %w", f.Handle, &uploadmultipart.StatusError{StatusCode: status, Body: string(body)})
	}

	f.client.logger.Donef("Overwritten %s", f.Handle)
	return nil
}

// fileEndpoint returns the signed API URL of the file.
func (f *Filelink) fileEndpoint() (string, error) {
	security := f.client.config.Security
	if security == nil {
		return "", ErrSecurityRequired
	}

	endpoint := fmt.Sprintf("%s/file/%s?key=%s", f.client.config.Endpoints.APIURL,
		url.PathEscape(f.Handle), url.QueryEscape(f.client.config.APIKey))
	return security.SignURL(endpoint), nil
}
