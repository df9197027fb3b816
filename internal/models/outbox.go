package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/algoclash/judge-api/judge-api/internal/types"
)

// SubmissionOutbox is the reliability record for one submission's trip
// through the execution pipeline. It is created in the same transaction as
// its submission so no submission ever lacks a pipeline entry point, and it
// is mutated exclusively by the orchestrator under claim-then-transition.
type SubmissionOutbox struct {
	Stage        types.OutboxStage
	Status       types.OutboxStatus
	AttemptCount int
	LastError    string
	Model
	SubmissionID  uuid.UUID `gorm:"index"`
	Submission    *Submission
	ProcessOn     datatypes.Null[time.Time]
	NextAttemptOn datatypes.Null[time.Time]
	FinalizedOn   datatypes.Null[time.Time]
}

func (SubmissionOutbox) TableName() string {
	return "submission_outbox"
}

func (o SubmissionOutbox) GetID() uuid.UUID {
	return o.ID
}

// NewOutboxForSubmission builds the initial pipeline entry point for a
// freshly created submission.
func NewOutboxForSubmission(submissionID uuid.UUID) *SubmissionOutbox {
	return &SubmissionOutbox{
		SubmissionID: submissionID,
		Stage:        types.OutboxStageInitialized,
		Status:       types.OutboxStatusPending,
	}
}
