package network

import (
	"context"

	"github.com/bitrise-io/go-utils/v2/log"
)

// Uploader ...
type Uploader interface {
	Upload(context.Context, UploadParams, log.Logger) (FileHandle, error)
}

// DefaultUploader uploads through the Filestack multipart endpoints.
type DefaultUploader struct{}

// Upload ...
func (DefaultUploader) Upload(ctx context.Context, params UploadParams, logger log.Logger) (FileHandle, error) {
	return Upload(ctx, params, logger)
}
