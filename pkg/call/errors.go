package call

import "fmt"

// Error classifies a call pipeline failure.
type Error struct {
	Type    ErrorType
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// ErrorType categorizes call errors.
type ErrorType string

const (
	// ErrPermission: the capture device could not be opened.
	ErrPermission ErrorType = "permission_error"

	// ErrCredential: no usable API credential was available.
	ErrCredential ErrorType = "credential_error"

	// ErrRemoteSession: the remote session failed to open or ended
	// with an error.
	ErrRemoteSession ErrorType = "remote_session_error"

	// ErrDecode: one inbound audio chunk could not be decoded or
	// scheduled. Recovered per chunk; the call continues.
	ErrDecode ErrorType = "decode_error"

	// ErrClose: graceful session close failed. Logged only; never
	// blocks teardown.
	ErrClose ErrorType = "close_error"
)

// NewPermissionError creates a capture device access error.
func NewPermissionError(message string, err error) *Error {
	return &Error{Type: ErrPermission, Message: message, Err: err}
}

// NewCredentialError creates a missing-credential error.
func NewCredentialError(message string, err error) *Error {
	return &Error{Type: ErrCredential, Message: message, Err: err}
}

// NewRemoteSessionError creates a remote session failure error.
func NewRemoteSessionError(message string, err error) *Error {
	return &Error{Type: ErrRemoteSession, Message: message, Err: err}
}

// NewDecodeError creates a per-chunk playback decode error.
func NewDecodeError(message string, err error) *Error {
	return &Error{Type: ErrDecode, Message: message, Err: err}
}

// NewCloseError creates a session teardown error.
func NewCloseError(message string, err error) *Error {
	return &Error{Type: ErrClose, Message: message, Err: err}
}

// IsFatal reports whether the error ends the call. Decode failures are
// recovered per chunk and close failures are log-only.
func (e *Error) IsFatal() bool {
	switch e.Type {
	case ErrPermission, ErrCredential, ErrRemoteSession:
		return true
	default:
		return false
	}
}
