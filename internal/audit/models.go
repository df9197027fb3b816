package audit

import (
	"github.com/algoclash/judge-api/judge-api/internal/types"
)

var schemaVersion = "0.1.0"
var logContext = "audit"

type Disposition string

const (
	DispositionNeutral Disposition = "neutral"
	DispositionGood    Disposition = "good"
	DispositionBad     Disposition = "bad"
)

type EventType string

const (
	EvtSubmissionCreated  EventType = "submission_created"
	EvtSubmissionVerdict  EventType = "submission_verdict"
	EvtExecutionExhausted EventType = "execution_exhausted"
	EvtOutboxRequeued     EventType = "outbox_requeued"
)

type Message struct {
	AccountID     *string     `json:"account_id"`
	SubmissionID  *string     `json:"submission_id"`
	LogContext    string      `json:"log_context" validate:"required"`
	SchemaVersion string      `json:"version"     validate:"required"`
	Disposition   Disposition `json:"disposition" validate:"required"`
	Type          EventType   `json:"event_type"  validate:"required"`

	Timestamp types.UnixMilli `json:"timestamp" validate:"required"`
}

type SubmissionCreatedEvent struct {
	ProblemSlug string `json:"problem_slug" validate:"required"`
	CodeLength  int    `json:"code_length"  validate:"required"`
}

type SubmissionCreated struct {
	Event SubmissionCreatedEvent `json:"event" validate:"required"`
	Message
}

type SubmissionVerdictEvent struct {
	Verdict   types.SubmissionStatus `json:"verdict"    validate:"required"`
	TestCases int                    `json:"test_cases" validate:"required"`
}

type SubmissionVerdict struct {
	Event SubmissionVerdictEvent `json:"event" validate:"required"`
	Message
}

type ExecutionExhaustedEvent struct {
	Stage     string `json:"stage"      validate:"required"`
	Attempts  int    `json:"attempts"   validate:"required"`
	LastError string `json:"last_error"`
}

type ExecutionExhausted struct {
	Event ExecutionExhaustedEvent `json:"event" validate:"required"`
	Message
}

type OutboxRequeuedEvent struct {
	OutboxID string `json:"outbox_id" validate:"required"`
}

type OutboxRequeued struct {
	Event OutboxRequeuedEvent `json:"event" validate:"required"`
	Message
}
