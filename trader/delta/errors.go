package delta

import (
	"errors"
	"fmt"
)

// ErrInvalidCredential is returned when the API secret cannot be used to key
// the request signer.
var ErrInvalidCredential = errors.New("api secret cannot key request signer")

// NetworkError reports a transport, connection or timeout failure during a
// REST call. The call is not retried.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("delta %s: request failed: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// DecodeError reports a response body that is not valid JSON.
type DecodeError struct {
	Op  string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("delta %s: decode response failed: %v", e.Op, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
