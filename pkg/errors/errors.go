package errors

import (
	stdErrors "errors"
	"fmt"
)

type Code string

const (
	CodeInvalidAttributes  Code = "INVALID_ATTRIBUTES"
	CodeInvalidBatch       Code = "INVALID_BATCH"
	CodeBatchCropInvalid   Code = "BATCH_CROP_INVALID"
	CodeInvalidOperation   Code = "INVALID_OPERATION"
	CodeDataMismatch       Code = "DATA_MISMATCH"
	CodeUpstreamProcessing Code = "UPSTREAM_PROCESSING_ERROR"
	CodeConfiguration      Code = "CONFIGURATION_ERROR"
	CodeNotFound           Code = "NOT_FOUND"
	CodeInternal           Code = "INTERNAL_ERROR"
	CodeDependency         Code = "DEPENDENCY_ERROR"
)

// Kind is the routing tag the service action engine uses to turn an error
// into an outcome.
type Kind string

const (
	KindRetryable     Kind = "retryable"
	KindConfiguration Kind = "configuration"
	KindValidation    Kind = "validation"
	KindFailure       Kind = "failure"
	KindUnknown       Kind = "unknown"
)

type Metadata struct {
	Kind       Kind
	Retryable  bool
	Reportable bool
}

var metadataByCode = map[Code]Metadata{
	CodeInvalidAttributes:  {Kind: KindValidation},
	CodeInvalidBatch:       {Kind: KindValidation},
	CodeBatchCropInvalid:   {Kind: KindValidation},
	CodeInvalidOperation:   {Kind: KindValidation},
	CodeDataMismatch:       {Kind: KindFailure},
	CodeUpstreamProcessing: {Kind: KindFailure},
	CodeNotFound:           {Kind: KindFailure},
	CodeConfiguration:      {Kind: KindConfiguration, Reportable: true},
	CodeDependency:         {Kind: KindRetryable, Retryable: true, Reportable: true},
	CodeInternal:           {Kind: KindUnknown},
}

func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

// Classify maps any error onto a Kind. The outermost coded error wins, so a
// retryable cause wrapped in an upstream failure still classifies as a
// failure.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}
	typed := As(err)
	if typed == nil {
		return KindUnknown
	}
	return MetadataFor(typed.Code()).Kind
}

// IsRetryable reports whether the error classifies as transient.
func IsRetryable(err error) bool {
	return Classify(err) == KindRetryable
}

type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Newf(code Code, format string, args ...any) *Error {
	return &Error{code: code, message: fmt.Sprintf(format, args...)}
}

func Wrap(code Code, err error, message string) *Error {
	if err == nil {
		return New(code, message)
	}
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

func (e *Error) WithDetails(details any) *Error {
	if e == nil {
		return nil
	}
	e.details = details
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

func As(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// HasCode reports whether the outermost coded error carries the given code.
func HasCode(err error, code Code) bool {
	typed := As(err)
	return typed != nil && typed.Code() == code
}
