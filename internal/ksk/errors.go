package ksk

import (
	"errors"
	"fmt"
)

// TransportError represents a network or HTTP-layer failure against the
// KSK API. These are retryable.
type TransportError struct {
	Endpoint   string
	StatusCode int // 0 when the request never reached the server
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("ksk api error (%d) at %s: %v", e.StatusCode, e.Endpoint, e.Err)
	}
	return fmt.Sprintf("ksk api request to %s failed: %v", e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// UnauthorizedError is returned on HTTP 401. It is kept distinct from
// TransportError so callers re-authenticate instead of blindly retrying.
type UnauthorizedError struct {
	Endpoint string
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("ksk api rejected the bearer token at %s", e.Endpoint)
}

// InvalidCredentialsError means every sign-in payload variant was rejected
// by the upstream with a recognized error message.
type InvalidCredentialsError struct {
	Message string
}

func (e *InvalidCredentialsError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("ksk sign-in failed: %s", e.Message)
	}
	return "ksk sign-in failed: all payload variants rejected"
}

// DataMissingError means a resource the refresh cycle cannot proceed
// without (the accounts list) came back empty.
type DataMissingError struct {
	Resource string
}

func (e *DataMissingError) Error() string {
	return fmt.Sprintf("ksk api returned no data for required resource %q", e.Resource)
}

// IsAuthError reports whether err requires re-authentication rather than
// a retry.
func IsAuthError(err error) bool {
	var unauthorized *UnauthorizedError
	var invalid *InvalidCredentialsError
	return errors.As(err, &unauthorized) || errors.As(err, &invalid)
}
