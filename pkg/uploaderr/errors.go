// Package uploaderr holds the error taxonomy shared by the broker client, the
// byte transfer and the upload services.
package uploaderr

import "errors"

var (
	// ErrFileNotFound means the local source is gone; only a re-capture helps.
	ErrFileNotFound = errors.New("local video file not found")
	// ErrAuthorization means the caller may not write the key, or the grant was rejected.
	ErrAuthorization = errors.New("not authorized to write object")
	// ErrTransientService covers network and backend outages.
	ErrTransientService = errors.New("service temporarily unavailable")
	// ErrMetadataPersist means bytes reached the store but the row write failed.
	ErrMetadataPersist = errors.New("failed to persist video metadata")
	// ErrThumbnailGeneration is never returned to callers of the orchestrator.
	ErrThumbnailGeneration = errors.New("failed to generate thumbnail")
	ErrGrantExpired        = errors.New("upload grant expired before transfer completed")
)

// Retryable reports whether another attempt with a fresh grant may succeed.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrFileNotFound), errors.Is(err, ErrAuthorization):
		return false
	case errors.Is(err, ErrTransientService), errors.Is(err, ErrMetadataPersist):
		return true
	default:
		return false
	}
}
