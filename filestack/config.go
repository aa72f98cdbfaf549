package filestack

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/docker/go-units"
	"github.com/filestack/filestack-go/upload/network"
	"github.com/filestack/filestack-go/upload/network/multipart"
)

// Environment variables read by NewConfigFromEnv.
const (
	EnvAPIKey        = "FILESTACK_API_KEY"
	EnvPolicy        = "FILESTACK_POLICY"
	EnvSignature     = "FILESTACK_SIGNATURE"
	EnvStoreLocation = "FILESTACK_STORE_LOCATION"
	EnvIntelligent   = "FILESTACK_INTELLIGENT"
	EnvUploadTimeout = "FILESTACK_UPLOAD_TIMEOUT"
	EnvChunkSize     = "FILESTACK_CHUNK_SIZE"
)

// Config ...
type Config struct {
	APIKey   string
	Security *Security
	// StoreLocation is the storage backend, e.g. s3, gcs, azure. Default: s3
	StoreLocation string
	// Intelligent enables intelligent ingestion for accounts that support it.
	Intelligent bool
	// UploadTimeout bounds the completion of multipart uploads. Default: 60s
	UploadTimeout time.Duration
	// ChunkSize is the multipart part size. Default: 8MB
	ChunkSize int64
	Endpoints network.Endpoints
}

// DefaultConfig returns a Config for apiKey with the production endpoints.
func DefaultConfig(apiKey string) Config {
	return Config{
		APIKey:        apiKey,
		StoreLocation: "s3",
		UploadTimeout: multipart.DefaultCompleteTimeout,
		ChunkSize:     multipart.DefaultChunkSize,
		Endpoints:     network.DefaultEndpoints(),
	}
}

// NewConfigFromEnv reads the client configuration from the environment.
func NewConfigFromEnv(envRepo env.Repository) (Config, error) {
	apiKey := strings.TrimSpace(envRepo.Get(EnvAPIKey))
	if apiKey == "" {
		return Config{}, fmt.Errorf("%s is not defined", EnvAPIKey)
	}
	config := DefaultConfig(apiKey)

	policy, signature := envRepo.Get(EnvPolicy), envRepo.Get(EnvSignature)
	if (policy == "") != (signature == "") {
		return Config{}, fmt.Errorf("%s and %s must be defined together", EnvPolicy, EnvSignature)
	}
	if policy != "" {
		config.Security = &Security{Policy: policy, Signature: signature}
	}

	if location := envRepo.Get(EnvStoreLocation); location != "" {
		config.StoreLocation = location
	}

	if value := envRepo.Get(EnvIntelligent); value != "" {
		intelligent, err := strconv.ParseBool(value)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", EnvIntelligent, err)
		}
		config.Intelligent = intelligent
	}

	if value := envRepo.Get(EnvUploadTimeout); value != "" {
		timeout, err := time.ParseDuration(value)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", EnvUploadTimeout, err)
		}
		if timeout <= 0 {
			return Config{}, fmt.Errorf("invalid %s: must be positive", EnvUploadTimeout)
		}
		config.UploadTimeout = timeout
	}

	if value := envRepo.Get(EnvChunkSize); value != "" {
		size, err := units.RAMInBytes(value)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", EnvChunkSize, err)
		}
		if size <= 0 {
			return Config{}, fmt.Errorf("invalid %s: must be positive", EnvChunkSize)
		}
		config.ChunkSize = size
	}

	return config, nil
}
