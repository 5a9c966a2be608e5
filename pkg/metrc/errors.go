package metrc

import (
	"errors"
	"fmt"
)

// RequestError is a transient failure: the request did not reach Metrc, was
// throttled, or Metrc failed server side.
type RequestError struct {
	Operation  string
	StatusCode int
	Body       string
	Err        error
}

func (e *RequestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("metrc %s request failed: %v", e.Operation, e.Err)
	}
	return fmt.Sprintf("metrc %s request failed with status %d", e.Operation, e.StatusCode)
}

func (e *RequestError) Unwrap() error { return e.Err }

// ResponseError is a non-retryable rejection, usually a payload Metrc refused.
type ResponseError struct {
	Operation  string
	StatusCode int
	Body       string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("metrc %s rejected with status %d: %s", e.Operation, e.StatusCode, e.Body)
}

// AuthenticationError means Metrc refused the integration credentials.
type AuthenticationError struct {
	Operation  string
	StatusCode int
	Body       string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("metrc %s refused credentials with status %d", e.Operation, e.StatusCode)
}

// MissingConfiguration means the client cannot be built for the integration.
type MissingConfiguration struct {
	Setting string
	State   string
}

func (e *MissingConfiguration) Error() string {
	if e.State != "" {
		return fmt.Sprintf("metrc %s is not configured for %s", e.Setting, e.State)
	}
	return fmt.Sprintf("metrc %s is not configured", e.Setting)
}

// MissingParameter means an operation was dispatched without a required value.
type MissingParameter struct {
	Operation string
	Parameter string
}

func (e *MissingParameter) Error() string {
	return fmt.Sprintf("metrc %s is missing parameter %s", e.Operation, e.Parameter)
}

// IsRetryable reports whether err is a transient transport error.
func IsRetryable(err error) bool {
	var reqErr *RequestError
	return errors.As(err, &reqErr)
}

// IsConfiguration reports whether err is a missing configuration or
// parameter, or credentials Metrc refused.
func IsConfiguration(err error) bool {
	var cfgErr *MissingConfiguration
	var paramErr *MissingParameter
	var authErr *AuthenticationError
	return errors.As(err, &cfgErr) || errors.As(err, &paramErr) || errors.As(err, &authErr)
}

// ResponseBody returns the vendor response attached to err, if any.
func ResponseBody(err error) string {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.Body
	}
	var respErr *ResponseError
	if errors.As(err, &respErr) {
		return respErr.Body
	}
	var authErr *AuthenticationError
	if errors.As(err, &authErr) {
		return authErr.Body
	}
	return ""
}
