package serviceaction

import (
	"time"

	"github.com/angelmondragon/packfinderz-compliance/pkg/db/models"
	pkgerrors "github.com/angelmondragon/packfinderz-compliance/pkg/errors"
)

// ResultKind is what a workflow asks the engine to do next.
type ResultKind string

const (
	ResultSuccess  ResultKind = "success"
	ResultDeferred ResultKind = "deferred"
	ResultError    ResultKind = "error"
)

// Result is the explicit return value of a workflow. For ResultError the
// engine routes on ErrorKind; nothing is recovered from error types.
type Result struct {
	Kind        ResultKind
	ErrorKind   pkgerrors.Kind
	Err         error
	Transaction *models.Transaction
	// Step names the step that asked to be deferred.
	Step    string
	Message string
}

func Success(tx *models.Transaction, message string) Result {
	return Result{Kind: ResultSuccess, Transaction: tx, Message: message}
}

// Defer asks the engine to run the whole event again later.
func Defer(step string) Result {
	return Result{Kind: ResultDeferred, Step: step}
}

// Fail classifies err and wraps it in an error result.
func Fail(err error) Result {
	return Result{Kind: ResultError, ErrorKind: pkgerrors.Classify(err), Err: err}
}

// WithTransaction attaches the in-progress transaction to the result.
func (r Result) WithTransaction(tx *models.Transaction) Result {
	r.Transaction = tx
	return r
}

// Status is the terminal outcome of one execution.
type Status string

const (
	StatusSuccess  Status = "success"
	StatusFailed   Status = "failed"
	StatusRequeued Status = "requeued"
	StatusDeferred Status = "deferred"
)

// Outcome is what Execute returns. Err is kept for observability only.
type Outcome struct {
	Status      Status
	Reason      string
	Err         error
	Transaction *models.Transaction
	RetryAt     time.Time
	Task        *models.Scheduler
}

func (o Outcome) Terminal() bool {
	return o.Status == StatusSuccess || o.Status == StatusFailed
}
