// Package artifact implements a client for the GitHub Actions Artifact v4
// protocol: Twirp JSON-RPC calls to the results service, a direct pre-signed
// PUT to Azure Blob Storage, and download-URL resolution through the GitHub
// REST API.
package artifact

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an error for retry and
// escalation logic.
type ErrorClass string

const (
	// ErrorClassConfiguration indicates missing or invalid environment input.
	// Fatal, never retried, surfaced immediately with a remediation hint.
	ErrorClassConfiguration ErrorClass = "configuration"

	// ErrorClassCredential indicates a malformed or unscoped runtime token.
	ErrorClassCredential ErrorClass = "credential"

	// ErrorClassTransient indicates a retryable HTTP or network failure.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassFatal indicates a non-retryable protocol failure.
	ErrorClassFatal ErrorClass = "fatal"

	// ErrorClassBlob indicates a failed pre-signed blob transfer.
	// Fatal at this layer; the pre-signed URL may be single-use.
	ErrorClassBlob ErrorClass = "blob"

	// ErrorClassResolve indicates the download URL could not be determined
	// after a successful upload.
	ErrorClassResolve ErrorClass = "resolve"
)

// Error codes for programmatic handling.
const (
	ErrCodeMalformedCredential  = "MALFORMED_CREDENTIAL"
	ErrCodeMissingScope         = "MISSING_SCOPE"
	ErrCodeRPCFailure           = "RPC_FAILURE"
	ErrCodeRetriesExhausted     = "RPC_RETRIES_EXHAUSTED"
	ErrCodeCreateFailed         = "CREATE_ARTIFACT_FAILED"
	ErrCodeBlobUploadFailed     = "BLOB_UPLOAD_FAILED"
	ErrCodeFinalizeFailed       = "FINALIZE_ARTIFACT_FAILED"
	ErrCodeURLNotResolved       = "ARTIFACT_URL_NOT_RESOLVED"
	ErrCodeMissingConfiguration = "MISSING_CONFIGURATION"
	ErrCodeInvalidTransition    = "INVALID_TRANSITION"
)

// Error represents a classified artifact-protocol error with context.
type Error struct {
	// Class is the error classification.
	Class ErrorClass

	// Code identifies the failure for programmatic handling.
	Code string

	// Op is the operation being performed (RPC method, "upload-blob", ...).
	Op string

	// Message is the human-readable error message.
	Message string

	// Status is the HTTP status code, when applicable.
	Status int

	// Body is an excerpt of the response body, when applicable.
	Body string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.Op != "" {
		msg = fmt.Sprintf("[%s] %s: %s", e.Class, e.Op, e.Message)
	}
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status=%d)", msg, e.Status)
	}
	if e.Body != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Body)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %s", msg, e.Err.Error())
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Class != "" && e.Class != t.Class {
		return false
	}
	if t.Code != "" && e.Code != t.Code {
		return false
	}
	return true
}

// newError creates a classified error.
func newError(class ErrorClass, code, op, message string) *Error {
	return &Error{Class: class, Code: code, Op: op, Message: message}
}

// WithStatus attaches an HTTP status code.
func (e *Error) WithStatus(status int) *Error {
	e.Status = status
	return e
}

// WithBody attaches a response body excerpt.
func (e *Error) WithBody(body string) *Error {
	e.Body = excerpt(body)
	return e
}

// WithErr attaches an underlying error.
func (e *Error) WithErr(err error) *Error {
	e.Err = err
	return e
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == ErrorClassTransient
	}
	return false
}

// IsCredential returns true if the error is a credential decode failure.
func IsCredential(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == ErrorClassCredential
	}
	return false
}

// IsConfiguration returns true if the error is a configuration failure.
func IsConfiguration(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == ErrorClassConfiguration
	}
	return false
}

// Class returns the classification of an artifact error, or "" for other
// errors.
func Class(err error) ErrorClass {
	var e *Error
	if errors.As(err, &e) {
		return e.Class
	}
	return ""
}

// excerptLimit caps response bodies carried inside errors.
const excerptLimit = 512

func excerpt(s string) string {
	if len(s) <= excerptLimit {
		return s
	}
	return s[:excerptLimit] + "..."
}
