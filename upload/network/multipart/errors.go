package multipart

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrRetriesExhausted is returned when a part keeps failing after the maximum number of retries.
	ErrRetriesExhausted = errors.New("upload has failed, retries exhausted")
	// ErrCompletionTimeout is returned when the upload is still being assembled once the completion deadline elapses.
	ErrCompletionTimeout = errors.New("upload completion timed out")
	// ErrMissingParts is returned when the upload could not be completed because some parts were not uploaded.
	ErrMissingParts = errors.New("missing parts")
	// ErrMissingETag is returned on the regular path when a part was stored without an ETag.
	ErrMissingETag = errors.New("no ETag in response")
)

// FailureKind classifies why an upload step failed.
type FailureKind int

// Failure kinds. FAILURE and TIMEOUT are fatal, the others are retried by the intelligent path.
const (
	KindNone FailureKind = iota
	KindBackendServer
	KindS3Server
	KindBackendNetwork
	KindS3Network
	KindFailure
	KindTimeout
)

func (k FailureKind) String() string {
	switch k {
	case KindNone:
		return "NONE"
	case KindBackendServer:
		return "BACKEND_SERVER"
	case KindS3Server:
		return "S3_SERVER"
	case KindBackendNetwork:
		return "BACKEND_NETWORK"
	case KindS3Network:
		return "S3_NETWORK"
	case KindFailure:
		return "FAILURE"
	case KindTimeout:
		return "TIMEOUT"
	default:
		return fmt.Sprintf("FailureKind(%d)", int(k))
	}
}

// IsNetwork reports whether the failure was a transport error.
func (k FailureKind) IsNetwork() bool {
	return k == KindBackendNetwork || k == KindS3Network
}

// IsServer reports whether the failure was a retryable server response.
func (k FailureKind) IsServer() bool {
	return k == KindBackendServer || k == KindS3Server
}

// worse returns the more severe of two kinds; the ordering follows the constant declaration order.
func worse(a, b FailureKind) FailureKind {
	if b > a {
		return b
	}
	return a
}

// Stage is the step of a part upload that failed.
type Stage int

// Stages.
const (
	StageRead Stage = iota
	StageNegotiate
	StageTransfer
	StageCommit
	StageComplete
)

func (s Stage) String() string {
	switch s {
	case StageRead:
		return "read"
	case StageNegotiate:
		return "negotiate"
	case StageTransfer:
		return "transfer"
	case StageCommit:
		return "commit"
	case StageComplete:
		return "complete"
	default:
		return fmt.Sprintf("Stage(%d)", int(s))
	}
}

// StatusError is returned by backends when a request got a non-success HTTP response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// UploadError describes a failed upload step.
type UploadError struct {
	Kind       FailureKind
	Stage      Stage
	PartNumber int
	StatusCode int
	Err        error
}

func (e *UploadError) Error() string {
	if e.PartNumber > 0 {
		return fmt.Sprintf("%s: part %d %s: %v", e.Kind, e.PartNumber, e.Stage, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Stage, e.Err)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// Classify maps an error returned at the given stage to a failure kind.
// 400, 403 and 404 responses are fatal; any other response is a server failure and
// anything without a response is a network failure.
func Classify(stage Stage, err error) FailureKind {
	if err == nil {
		return KindNone
	}
	if stage == StageRead {
		return KindFailure
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.StatusCode {
		case http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound:
			return KindFailure
		}
		if stage == StageTransfer {
			return KindS3Server
		}
		return KindBackendServer
	}

	if stage == StageTransfer {
		return KindS3Network
	}
	return KindBackendNetwork
}

func newUploadError(stage Stage, partNumber int, err error) *UploadError {
	uploadErr := &UploadError{
		Kind:       Classify(stage, err),
		Stage:      stage,
		PartNumber: partNumber,
		Err:        err,
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		uploadErr.StatusCode = statusErr.StatusCode
	}
	return uploadErr
}
