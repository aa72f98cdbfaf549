package network

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
	"github.com/filestack/filestack-go/upload/network/multipart"
	"github.com/gabriel-vasile/mimetype"
)

const defaultMimetype = "application/octet-stream"

// UploadParams ...
type UploadParams struct {
	APIKey   string
	FilePath string
	// Filename defaults to the base name of FilePath.
	Filename string
	// Mimetype is detected from the file content when empty.
	Mimetype     string
	StoreOptions map[string]string
	Policy       string
	Signature    string
	// Intelligent requests the intelligent ingestion flow. It is used only when the backend supports it.
	Intelligent bool
	// Config tunes the part uploaders; nil means multipart.DefaultConfig().
	Config          *multipart.Config
	CompleteTimeout time.Duration
	PollInterval    time.Duration
	MaxPollInterval time.Duration
	Endpoints       Endpoints
	// TransferClient puts the part bytes; nil means a default client.
	TransferClient *http.Client
}

// FileHandle describes a stored file.
type FileHandle struct {
	Handle   string `json:"handle"`
	URL      string `json:"url"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	Mimetype string `json:"mimetype"`
	Status   string `json:"status"`
}

// Upload a local file through the multipart flow and return the handle of the stored file.
func Upload(ctx context.Context, params UploadParams, logger log.Logger) (FileHandle, error) {
	if err := validateParams(params); err != nil {
		return FileHandle{}, err
	}

	source, err := multipart.NewFileSource(params.FilePath)
	if err != nil {
		return FileHandle{}, err
	}
	defer func() {
		if err := source.Close(); err != nil {
			logger.Warnf("Failed to close %s: %s", params.FilePath, err)
		}
	}()

	file, err := describeFile(params, source.Size())
	if err != nil {
		return FileHandle{}, err
	}

	config := multipart.DefaultConfig()
	if params.Config != nil {
		config = *params.Config
	}
	if config.ChunkSize <= 0 {
		config.ChunkSize = multipart.DefaultChunkSize
	}

	client := newAPIClient(newSingleAttemptClient(logger), params, file, logger)

	logger.Debugf("Start multipart upload of %s (%s, %s)", file.name, units.HumanSize(float64(file.size)), file.mimetype)
	session, err := client.start(ctx, params.Intelligent)
	if err != nil {
		return FileHandle{}, fmt.Errorf("failed to start upload: %w", err)
	}
	logger.Debugf("Upload ID: %s", session.UploadID)

	plan, err := multipart.NewPlan(file.size, config.ChunkSize)
	if err != nil {
		return FileHandle{}, err
	}

	intelligent := params.Intelligent && session.SupportsIntelligent
	if params.Intelligent && !intelligent {
		logger.Warnf("Intelligent ingestion is not enabled for this account, falling back to regular upload")
	}

	store := newObjectStore(params.TransferClient, logger)
	start := time.Now()

	var results multipart.PartResults
	if intelligent {
		engine := multipart.NewEngine(config, client, store, source, logger)
		if err := engine.Upload(ctx, session, plan); err != nil {
			return FileHandle{}, fmt.Errorf("failed to upload parts: %w", err)
		}
	} else {
		coordinator := multipart.NewCoordinator(config, client, store, source, logger)
		results, err = coordinator.Upload(ctx, session, plan)
		if err != nil {
			return FileHandle{}, fmt.Errorf("failed to upload parts: %w", err)
		}
	}

	missing := results.Missing(plan)
	if intelligent {
		missing = nil
	}

	poller := multipart.NewPoller(params.CompleteTimeout, logger)
	poller.Interval = params.PollInterval
	poller.MaxInterval = params.MaxPollInterval

	logger.Debugf("Complete upload")
	body, err := poller.Poll(ctx, func(ctx context.Context) (int, []byte, error) {
		return client.complete(ctx, session, results, intelligent)
	})
	if err != nil {
		if len(missing) > 0 {
			return FileHandle{}, fmt.Errorf("failed to complete upload: %w %v: %w", multipart.ErrMissingParts, missing, err)
		}
		return FileHandle{}, fmt.Errorf("failed to complete upload: %w", err)
	}

	handle, err := decodeFileHandle(body)
	if err != nil {
		return FileHandle{}, err
	}
	if handle.Filename == "" {
		handle.Filename = file.name
	}
	if handle.Size == 0 {
		handle.Size = file.size
	}
	if handle.Mimetype == "" {
		handle.Mimetype = file.mimetype
	}

	logger.Donef("Uploaded %s (%s) in %s: %s", file.name, units.HumanSize(float64(file.size)),
		time.Since(start).Round(time.Millisecond), handle.Handle)

	return handle, nil
}

func validateParams(params UploadParams) error {
	if params.APIKey == "" {
		return fmt.Errorf("API key is empty")
	}
	if params.FilePath == "" {
		return fmt.Errorf("file path is empty")
	}
	if (params.Policy == "") != (params.Signature == "") {
		return fmt.Errorf("policy and signature must be provided together")
	}
	return validateStoreOptions(params.StoreOptions)
}

func describeFile(params UploadParams, size int64) (fileInfo, error) {
	if size == 0 {
		return fileInfo{}, fmt.Errorf("file is empty: %s", params.FilePath)
	}

	name := params.Filename
	if name == "" {
		name = filepath.Base(params.FilePath)
	}

	mime := params.Mimetype
	if mime == "" {
		var err error
		mime, err = detectMimetype(params.FilePath)
		if err != nil {
			return fileInfo{}, err
		}
	}

	return fileInfo{name: name, size: size, mimetype: mime}, nil
}

// detectMimetype sniffs the content type of the file, without parameters such as charset.
func detectMimetype(path string) (string, error) {
	mime, err := mimetype.DetectFile(path)
	if err != nil {
		return "", fmt.Errorf("detect mimetype: %w", err)
	}

	value, _, _ := strings.Cut(mime.String(), ";")
	value = strings.TrimSpace(value)
	if value == "" {
		return defaultMimetype, nil
	}
	return value, nil
}

func decodeFileHandle(body []byte) (FileHandle, error) {
	var handle FileHandle
	if err := json.Unmarshal(body, &handle); err != nil {
		return FileHandle{}, fmt.Errorf("decode complete response: %w", err)
	}

	if handle.Handle == "" && handle.URL != "" {
		handle.Handle = handle.URL[strings.LastIndex(handle.URL, "/")+1:]
	}
	if handle.Handle == "" {
		return FileHandle{}, errors.New("complete response has no handle")
	}

	return handle, nil
}
