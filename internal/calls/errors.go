package calls

import "errors"

type ErrorKind string

const (
	ErrorKindInvalidInput        ErrorKind = "invalid_input"
	ErrorKindProviderUnavailable ErrorKind = "provider_unavailable"
	ErrorKindUnparsableResponse  ErrorKind = "unparsable_response"
	ErrorKindNotFound            ErrorKind = "not_found"
	ErrorKindMissingCredentials  ErrorKind = "missing_credentials"
	ErrorKindCallFailed          ErrorKind = "call_failed"
	ErrorKindTimeout             ErrorKind = "timeout"
	ErrorKindInternal            ErrorKind = "internal"
)

var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrUnparsableResponse  = errors.New("unparsable provider response")
	ErrNotFound            = errors.New("not found")
	ErrMissingCredentials  = errors.New("missing provider credentials")
	ErrTooManyInFlight     = errors.New("too many calls in flight")
)

// KindOf classifies an error returned anywhere in the pipeline.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrTooManyInFlight):
		return ErrorKindInvalidInput
	case errors.Is(err, ErrProviderUnavailable):
		return ErrorKindProviderUnavailable
	case errors.Is(err, ErrUnparsableResponse):
		return ErrorKindUnparsableResponse
	case errors.Is(err, ErrNotFound):
		return ErrorKindNotFound
	case errors.Is(err, ErrMissingCredentials):
		return ErrorKindMissingCredentials
	default:
		return ErrorKindInternal
	}
}
