package audit

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/algoclash/judge-api/judge-api/internal/logger"
	"github.com/algoclash/judge-api/judge-api/internal/types"
)

type Context struct {
	AccountID    *string
	SubmissionID *string
}

func dispForVerdict(verdict types.SubmissionStatus) Disposition {
	switch verdict {
	case types.SubmissionStatusAccepted:
		return DispositionGood
	case types.SubmissionStatusInQueue, types.SubmissionStatusProcessing:
		return DispositionNeutral
	default:
		return DispositionBad
	}
}

func (m *Message) fill(c Context, evt EventType, disp Disposition) {
	m.Type = evt
	m.LogContext = logContext
	m.SchemaVersion = schemaVersion
	m.Timestamp = types.UnixMilli(time.Now().UTC().UnixMilli())
	m.AccountID = c.AccountID
	m.SubmissionID = c.SubmissionID
	m.Disposition = disp
}

func emit(event any, kind string) {
	evtStr, err := json.Marshal(event)
	if err != nil {
		logger.Logger.Error("could not serialize audit event", "kind", kind)
		return
	}

	fmt.Println(string(evtStr))
}

func LogSubmissionCreated(c Context, problemSlug string, codeLength int) {
	event := SubmissionCreated{}
	event.fill(c, EvtSubmissionCreated, DispositionNeutral)

	event.Event.ProblemSlug = problemSlug
	event.Event.CodeLength = codeLength

	emit(event, "SubmissionCreated")
}

func LogSubmissionVerdict(c Context, verdict types.SubmissionStatus, testCases int) {
	event := SubmissionVerdict{}
	event.fill(c, EvtSubmissionVerdict, dispForVerdict(verdict))

	event.Event.Verdict = verdict
	event.Event.TestCases = testCases

	emit(event, "SubmissionVerdict")
}

func LogExecutionExhausted(c Context, stage string, attempts int, lastError string) {
	event := ExecutionExhausted{}
	event.fill(c, EvtExecutionExhausted, DispositionBad)

	event.Event.Stage = stage
	event.Event.Attempts = attempts
	event.Event.LastError = lastError

	emit(event, "ExecutionExhausted")
}

func LogOutboxRequeued(c Context, outboxID string) {
	event := OutboxRequeued{}
	event.fill(c, EvtOutboxRequeued, DispositionNeutral)

	event.Event.OutboxID = outboxID

	emit(event, "OutboxRequeued")
}
