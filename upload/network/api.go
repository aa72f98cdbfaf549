package network

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bitrise-io/go-utils/retry"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/filestack/filestack-go/upload/network/multipart"
	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
)

// Version is sent in the User-Agent and Filestack-Source headers.
const Version = "1.0.0"

const (
	defaultStoreLocation  = "s3"
	intelligentUploadType = "intelligent_ingestion"
	numStartRetries       = 3
)

var startRetryWait = 5 * time.Second

// StoreOptions lists the storage options accepted by the multipart endpoints.
var StoreOptions = []string{"store_location", "store_region", "store_container", "store_path", "store_access"}

// Endpoints holds the base URLs of the service.
type Endpoints struct {
	APIURL    string
	CDNURL    string
	UploadURL string
}

// DefaultEndpoints returns the production endpoints.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		APIURL:    "https://www.filestackapi.com/api",
		CDNURL:    "https://cdn.filestackcontent.com",
		UploadURL: "https://upload.filestackapi.com",
	}
}

type startResponse struct {
	URI         string `json:"uri"`
	Region      string `json:"region"`
	UploadID    string `json:"upload_id"`
	LocationURL string `json:"location_url"`
	UploadType  string `json:"upload_type"`
}

type partResponse struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
}

type fileInfo struct {
	name     string
	size     int64
	mimetype string
}

// apiClient talks to the multipart endpoints. Requests are sent once; retries are owned by the callers.
type apiClient struct {
	httpClient   *retryablehttp.Client
	uploadURL    string
	apiKey       string
	policy       string
	signature    string
	storeOptions map[string]string
	file         fileInfo
	traceID      string
	logger       log.Logger
}

func newAPIClient(client *retryablehttp.Client, params UploadParams, file fileInfo, logger log.Logger) *apiClient {
	uploadURL := params.Endpoints.UploadURL
	if uploadURL == "" {
		uploadURL = DefaultEndpoints().UploadURL
	}

	storeOptions := map[string]string{"store_location": defaultStoreLocation}
	for k, v := range params.StoreOptions {
		storeOptions[k] = v
	}

	return &apiClient{
		httpClient:   client,
		uploadURL:    strings.TrimSuffix(uploadURL, "/"),
		apiKey:       params.APIKey,
		policy:       params.Policy,
		signature:    params.Signature,
		storeOptions: storeOptions,
		file:         file,
		traceID:      "t-" + uuid.NewString(),
		logger:       logger,
	}
}

// newSingleAttemptClient returns a client that never retries and hands back every response,
// so that the status code stays available for failure classification.
func newSingleAttemptClient(logger log.Logger) *retryablehttp.Client {
	client := retryhttp.NewClient(logger)
	client.RetryMax = 0
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return client
}

func (c *apiClient) start(ctx context.Context, intelligent bool) (multipart.Session, error) {
	form := c.baseForm()
	form.Set("filename", c.file.name)
	form.Set("mimetype", c.file.mimetype)
	form.Set("size", strconv.FormatInt(c.file.size, 10))
	if intelligent {
		form.Set("multipart", "true")
	}

	var response startResponse
	err := retry.Times(numStartRetries).Wait(startRetryWait).TryWithAbort(func(attempt uint) (error, bool) {
		if attempt > 0 {
			c.logger.Warnf("Retrying multipart start (attempt %d)", attempt+1)
		}

		status, body, err := c.post(ctx, c.uploadURL+"/multipart/start", form)
		if err != nil {
			return err, ctx.Err() != nil
		}
		if status != http.StatusOK {
			statusErr := &multipart.StatusError{StatusCode: status, Body: string(body)}
			return statusErr, status < http.StatusInternalServerError
		}

		if err := json.Unmarshal(body, &response); err != nil {
			return fmt.Errorf("decode start response: %w", err), true
		}
		return nil, true
	})
	if err != nil {
		return multipart.Session{}, err
	}

	return multipart.Session{
		URI:                 response.URI,
		Region:              response.Region,
		UploadID:            response.UploadID,
		LocationURL:         response.LocationURL,
		StorageLocation:     c.storeOptions["store_location"],
		SupportsIntelligent: strings.Contains(response.UploadType, intelligentUploadType),
	}, nil
}

// NegotiatePart requests the destination of a part or sub-chunk.
func (c *apiClient) NegotiatePart(ctx context.Context, session multipart.Session, req multipart.PartRequest) (multipart.UploadURL, error) {
	form := c.sessionForm(session)
	form.Set("part", strconv.Itoa(req.PartNumber))
	form.Set("size", strconv.FormatInt(req.Size, 10))
	form.Set("md5", req.MD5)
	if req.Intelligent {
		form.Set("offset", strconv.FormatInt(req.Offset, 10))
		form.Set("multipart", "true")
	}

	status, body, err := c.post(ctx, locationEndpoint(session.LocationURL, "/multipart/upload"), form)
	if err != nil {
		return multipart.UploadURL{}, err
	}
	if status != http.StatusOK {
		return multipart.UploadURL{}, &multipart.StatusError{StatusCode: status, Body: string(body)}
	}

	var response partResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return multipart.UploadURL{}, fmt.Errorf("decode upload response: %w", err)
	}

	return multipart.UploadURL{
		Method:  http.MethodPut,
		URL:     response.URL,
		Headers: response.Headers,
	}, nil
}

// CommitPart signals that every sub-chunk of the part is stored.
func (c *apiClient) CommitPart(ctx context.Context, session multipart.Session, part multipart.Part) error {
	form := c.sessionForm(session)
	form.Set("part", strconv.Itoa(part.Number))
	form.Set("size", strconv.FormatInt(c.file.size, 10))

	status, body, err := c.post(ctx, locationEndpoint(session.LocationURL, "/multipart/commit"), form)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return &multipart.StatusError{StatusCode: status, Body: string(body)}
	}
	return nil
}

// complete asks the backend to assemble the file. The status is returned as is, a 202 is not an error.
func (c *apiClient) complete(ctx context.Context, session multipart.Session, parts multipart.PartResults, intelligent bool) (int, []byte, error) {
	form := c.sessionForm(session)
	form.Set("filename", c.file.name)
	form.Set("mimetype", c.file.mimetype)
	form.Set("size", strconv.FormatInt(c.file.size, 10))
	if intelligent {
		form.Set("multipart", "true")
	} else {
		form.Set("parts", partsAndEtags(parts))
	}

	return c.post(ctx, locationEndpoint(session.LocationURL, "/multipart/complete"), form)
}

func (c *apiClient) post(ctx context.Context, endpoint string, form url.Values) (int, []byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, endpoint, []byte(form.Encode()))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	setClientHeaders(req.Header, c.traceID)

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

	c.logger.Debugf("POST %s: HTTP %d", endpoint, resp.StatusCode)
	return resp.StatusCode, body, nil
}

func (c *apiClient) baseForm() url.Values {
	form := url.Values{}
	form.Set("apikey", c.apiKey)
	for k, v := range c.storeOptions {
		form.Set(k, v)
	}
	if c.policy != "" && c.signature != "" {
		form.Set("policy", c.policy)
		form.Set("signature", c.signature)
	}
	return form
}

func (c *apiClient) sessionForm(session multipart.Session) url.Values {
	form := c.baseForm()
	form.Set("uri", session.URI)
	form.Set("region", session.Region)
	form.Set("upload_id", session.UploadID)
	return form
}

func setClientHeaders(header http.Header, traceID string) {
	header.Set("User-Agent", "filestack-go "+Version)
	header.Set("Filestack-Source", "Go-"+Version)
	header.Set("Filestack-Trace-Id", traceID)
	header.Set("Filestack-Trace-Span", "s-"+uuid.NewString())
}

// locationEndpoint builds the URL of path on the upload host assigned by start.
func locationEndpoint(locationURL, path string) string {
	locationURL = strings.TrimSuffix(locationURL, "/")
	if strings.HasPrefix(locationURL, "http://") || strings.HasPrefix(locationURL, "https://") {
		return locationURL + path
	}
	return "https://" + locationURL + path
}

// partsAndEtags formats the results as "1:etag;2:etag" ordered by part number.
func partsAndEtags(parts multipart.PartResults) string {
	sorted := parts.Sorted()
	values := make([]string, 0, len(sorted))
	for _, part := range sorted {
		values = append(values, fmt.Sprintf("%d:%s", part.PartNumber, part.ETag))
	}
	return strings.Join(values, ";")
}

func validateStoreOptions(options map[string]string) error {
	keys := make([]string, 0, len(options))
	for k := range options {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		known := false
		for _, option := range StoreOptions {
			if k == option {
				known = true
				break
			}
		}
		if !known {
			return fmt.Errorf("unknown store option: %s", k)
		}
	}
	return nil
}
