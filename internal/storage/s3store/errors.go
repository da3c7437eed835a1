package s3store

import (
	"errors"
	"net/http"
	"slices"

	syncerr "github.com/alexjbarnes/cloudsync/internal/errors"
	"github.com/aws/smithy-go"
)

// S3 error codes, grouped by the kind they map to.
var (
	notFoundCodes = []string{"NoSuchKey", "NotFound"}
	conflictCodes = []string{"PreconditionFailed", "ConditionalRequestConflict"}
	throttleCodes = []string{"SlowDown", "TooManyRequests", "RequestLimitExceeded", "Throttling", "ThrottlingException"}
	authCodes     = []string{"InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken", "InvalidToken", "AccessDenied"}
)

// statusCoder is implemented by the SDK's HTTP response errors.
type statusCoder interface {
	HTTPStatusCode() int
}

// classify converts an SDK error for filename into the error taxonomy.
// Errors without a recognised code or status are I/O errors.
func classify(filename string, err error) error {
	if err == nil {
		return nil
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()

		switch {
		case slices.Contains(notFoundCodes, code):
			return syncerr.NoContent(filename)
		case slices.Contains(conflictCodes, code):
			return &syncerr.SyncError{Kind: syncerr.KindFileAlreadyExists, Filename: filename, Err: err}
		case slices.Contains(throttleCodes, code):
			return syncerr.RateLimited(filename, err)
		case slices.Contains(authCodes, code):
			return &syncerr.SyncError{Kind: syncerr.KindNotAuthenticated, Filename: filename, Err: err}
		}
	}

	var sc statusCoder
	if errors.As(err, &sc) {
		switch sc.HTTPStatusCode() {
		case http.StatusNotFound:
			return syncerr.NoContent(filename)
		case http.StatusPreconditionFailed:
			return &syncerr.SyncError{Kind: syncerr.KindFileAlreadyExists, Filename: filename, Err: err}
		case http.StatusTooManyRequests, http.StatusServiceUnavailable:
			return syncerr.RateLimited(filename, err)
		case http.StatusUnauthorized, http.StatusForbidden:
			return &syncerr.SyncError{Kind: syncerr.KindNotAuthenticated, Filename: filename, Err: err}
		}
	}

	return syncerr.BackendIO(filename, err)
}
