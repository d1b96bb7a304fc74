package model

import (
	"fmt"
)

// ConfigurationError reports a missing or invalid option. While it is
// outstanding the policy layer is inert.
type ConfigurationError struct {
	Option string
	Err    error
}

// Error returns the error message.
func (e *ConfigurationError) Error() string {
	if e.Option == "" {
		return fmt.Sprintf("configuration: %v", e.Err)
	}
	return fmt.Sprintf("configuration: %s: %v", e.Option, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// EncodingError reports a message body or header that cannot be decoded as text.
type EncodingError struct {
	Part string // "request body", "response body", ...
	Err  error
}

// Error returns the error message.
func (e *EncodingError) Error() string {
	return fmt.Sprintf("encoding: %s: %v", e.Part, e.Err)
}

// Unwrap returns the underlying cause.
func (e *EncodingError) Unwrap() error {
	return e.Err
}

// RemoteError reports a failed call to the policy service: transport
// failure, timeout or a non-2xx status.
type RemoteError struct {
	Endpoint   string
	StatusCode int // 0 when no response was received
	Err        error
}

// Error returns the error message.
func (e *RemoteError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("remote %s: unexpected status %d", e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("remote %s: %v", e.Endpoint, e.Err)
}

// Unwrap returns the underlying cause.
func (e *RemoteError) Unwrap() error {
	return e.Err
}

// ProtocolError reports a policy reply that violates the decision contract.
type ProtocolError struct {
	Reason string
	Err    error
}

// Error returns the error message.
func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("protocol: %s", e.Reason)
}

// Unwrap returns the underlying cause.
func (e *ProtocolError) Unwrap() error {
	return e.Err
}
