// Package errs defines the error kinds shared across the store's
// components. Components wrap these with fmt.Errorf("...: %w", err) so
// callers can still errors.Is/errors.As through the wrapping.
package errs

import "fmt"

// Sentinel kinds callers can match with errors.Is.
var (
	ErrConfig     = fmt.Errorf("invalid configuration")
	ErrAuth       = fmt.Errorf("authentication failed")
	ErrConflict   = fmt.Errorf("revision conflict")
	ErrIntegrity  = fmt.Errorf("integrity error")
	ErrDecrypt    = fmt.Errorf("decryption failed")
	ErrAbort      = fmt.Errorf("operation aborted")
	ErrTransient  = fmt.Errorf("transient error")
	ErrNotPresent = fmt.Errorf("not present")
)

// RemoteError is returned by the Remote Adapter for any non-2xx response
// that isn't a 401/403 (those become ErrAuth) or a recognized conflict.
type RemoteError struct {
	Status int
	Body   string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote: status %d: %s", e.Status, e.Body)
}

// Is lets errors.Is(err, errs.ErrTransient) match RemoteErrors carrying a
// 5xx status, since those are the ones worth retrying.
func (e *RemoteError) Is(target error) bool {
	if target == ErrTransient {
		return e.Status >= 500
	}
	if target == ErrAuth {
		return e.Status == 401 || e.Status == 403
	}
	return false
}
