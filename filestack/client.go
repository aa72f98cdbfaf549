// Package filestack is a client for uploading files to Filestack and managing the stored files.
package filestack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/filestack/filestack-go/upload/network"
	uploadmultipart "github.com/filestack/filestack-go/upload/network/multipart"
	"github.com/hashicorp/go-retryablehttp"
)

var (
	// ErrFileAndURL is returned when both a local file and an external URL are given to Upload.
	ErrFileAndURL = errors.New("cannot upload a file and an URL at the same time")
	// ErrNothingToUpload is returned when neither a local file nor an external URL is given to Upload.
	ErrNothingToUpload = errors.New("no file or URL to upload")
)

// UploadInput ...
type UploadInput struct {
	// FilePath is a local file to upload.
	FilePath string
	// ExternalURL is fetched and stored by the service.
	ExternalURL string
	// DisableMultipart sends a local file in a single request.
	DisableMultipart bool
	// Intelligent overrides Config.Intelligent when set.
	Intelligent *bool
	Filename    string
	Mimetype    string
	// StoreOptions are store_* options of the multipart upload.
	StoreOptions map[string]string
}

// Client uploads files and creates Filelinks.
type Client struct {
	config     Config
	logger     log.Logger
	uploader   network.Uploader
	httpClient *retryablehttp.Client
}

// NewClient creates a new client. `uploader` can be nil, unless you want to provide a custom `Uploader` implementation.
func NewClient(config Config, logger log.Logger, uploader network.Uploader) *Client {
	var uploaderImpl network.Uploader = uploader
	if uploader == nil {
		uploaderImpl = network.DefaultUploader{}
	}

	defaults := DefaultConfig(config.APIKey)
	if config.StoreLocation == "" {
		config.StoreLocation = defaults.StoreLocation
	}
	if config.Endpoints.APIURL == "" {
		config.Endpoints.APIURL = defaults.Endpoints.APIURL
	}
	if config.Endpoints.CDNURL == "" {
		config.Endpoints.CDNURL = defaults.Endpoints.CDNURL
	}
	if config.Endpoints.UploadURL == "" {
		config.Endpoints.UploadURL = defaults.Endpoints.UploadURL
	}

	return &Client{
		config:     config,
		logger:     logger,
		uploader:   uploaderImpl,
		httpClient: retryhttp.NewClient(logger),
	}
}

// Filelink returns the Filelink of an already stored file.
func (c *Client) Filelink(handle string) *Filelink {
	return &Filelink{Handle: handle, client: c}
}

// Upload stores a local file or an external URL and returns its Filelink.
// Local files go through the multipart flow unless DisableMultipart is set.
func (c *Client) Upload(ctx context.Context, input UploadInput) (*Filelink, error) {
	if input.FilePath != "" && input.ExternalURL != "" {
		return nil, ErrFileAndURL
	}
	if input.FilePath == "" && input.ExternalURL == "" {
		return nil, ErrNothingToUpload
	}

	if input.FilePath != "" && !input.DisableMultipart {
		handle, err := c.uploader.Upload(ctx, c.uploadParams(input), c.logger)
		if err != nil {
			return nil, err
		}
		return c.Filelink(handle.Handle), nil
	}

	handle, err := c.store(ctx, input)
	if err != nil {
		return nil, err
	}
	return c.Filelink(handle), nil
}

func (c *Client) uploadParams(input UploadInput) network.UploadParams {
	intelligent := c.config.Intelligent
	if input.Intelligent != nil {
		intelligent = *input.Intelligent
	}

	storeOptions := map[string]string{"store_location": c.config.StoreLocation}
	for k, v := range input.StoreOptions {
		storeOptions[k] = v
	}

	params := network.UploadParams{
		APIKey:          c.config.APIKey,
		FilePath:        input.FilePath,
		Filename:        input.Filename,
		Mimetype:        input.Mimetype,
		StoreOptions:    storeOptions,
		Intelligent:     intelligent,
		CompleteTimeout: c.config.UploadTimeout,
		Endpoints:       c.config.Endpoints,
	}
	if c.config.Security != nil {
		params.Policy = c.config.Security.Policy
		params.Signature = c.config.Security.Signature
	}
	if c.config.ChunkSize > 0 {
		uploadConfig := uploadmultipart.DefaultConfig()
		uploadConfig.ChunkSize = c.config.ChunkSize
		params.Config = &uploadConfig
	}
	return params
}

type storeResponse struct {
	URL string `json:"url"`
}

// store uploads with a single request to the store endpoint.
func (c *Client) store(ctx context.Context, input UploadInput) (string, error) {
	endpoint := fmt.Sprintf("%s/store/%s?key=%s", c.config.Endpoints.APIURL,
		url.PathEscape(c.config.StoreLocation), url.QueryEscape(c.config.APIKey))
	if c.config.Security != nil {
		endpoint = c.config.Security.SignURL(endpoint)
	}

	var (
		body        []byte
		contentType string
		err         error
	)
	if input.FilePath != "" {
		body, contentType, err = fileUploadBody(input.FilePath, input.Filename)
		if err != nil {
			return "", err
		}
	} else {
		body = []byte(url.Values{"url": {input.ExternalURL}}.Encode())
		contentType = "application/x-www-form-urlencoded"
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", contentType)
	setUserAgent(req.Header)

	status, respBody, err := c.do(req)
	if err != nil {
		return "", fmt.Errorf("store: %w", err)
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("store: %w", &uploadmultipart.StatusError{StatusCode: status, Body: string(respBody)})
	}

	var response storeResponse
	if err := json.Unmarshal(respBody, &response); err != nil {
		return "", fmt.Errorf("decode store response: %w", err)
	}
	handle := response.URL[strings.LastIndex(response.URL, "/")+1:]
	if handle == "" {
		return "", fmt.Errorf("store response has no url")
	}

	c.logger.Donef("Stored %s", handle)
	return handle, nil
}

func (c *Client) do(req *retryablehttp.Request) (int, []byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func(body io.ReadCloser) {
		err := body.Close()
		if err != nil {
			c.logger.Printf(err.Error())
		}
	}(resp.Body)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

func fileUploadBody(path, filename string) ([]byte, string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("open file: %w", err)
	}
	defer file.Close() //nolint:errcheck

	if filename == "" {
		filename = filepath.Base(path)
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("fileUpload", filename)
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, "", fmt.Errorf("read file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}

	return buf.Bytes(), writer.FormDataContentType(), nil
}

func setUserAgent(header http.Header) {
	header.Set("User-Agent", "filestack-go "+network.Version)
	header.Set("Filestack-Source", "Go-"+network.Version)
}
