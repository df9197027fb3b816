package sandbox

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"

	"github.com/algoclash/judge-api/judge-api/internal/types"
)

var tracer = otel.Tracer(
	"github.com/algoclash/judge-api/judge-api/internal/sandbox",
)

// Request is one test case's worth of work for the sandbox: rendered source,
// the stdin to feed it and the output it is expected to produce.
type Request struct {
	LanguageID     int
	SourceCode     string
	Stdin          string
	ExpectedOutput string
}

// Acceptance is the sandbox's receipt for a submitted request. Order matches
// the submitted request order; callers route tokens back to test cases by
// position.
type Acceptance struct {
	Token  string
	Status types.SubmissionStatus
}

// Result is the sandbox's current view of one token.
type Result struct {
	Token         string
	Status        types.SubmissionStatus
	Stdout        string
	Stderr        string
	CompileOutput string
	Message       string
	Time          string
	Memory        int
}

//go:generate mockgen -destination ./mock/mock.go -package mock . Client

type Client interface {
	// Submit posts a batch of requests and returns one acceptance per request
	// in request order.
	Submit(ctx context.Context, requests []Request) ([]Acceptance, error)
	// Poll fetches the current state of the given tokens in token order.
	Poll(ctx context.Context, tokens []string) ([]Result, error)
}

// ErrCountMismatch signals the sandbox returned a different number of
// responses than requests submitted. Positional token mapping would silently
// corrupt which result belongs to which test case, so this is a defect, not a
// retryable condition.
var ErrCountMismatch = errors.New("Mismatch between sandbox responses and submitted jobs")

// TransportError wraps a network-level failure reaching the sandbox.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("sandbox unreachable: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// StatusError is a non-success HTTP response from the sandbox.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("sandbox returned status %d: %s", e.Code, e.Body)
}

// DecodeError wraps a failure to decode the sandbox's response body.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode sandbox response: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
