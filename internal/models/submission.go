package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/algoclash/judge-api/judge-api/internal/types"
)

// Submission is one user's code for one problem setup. The web tier creates
// it; only the pipeline mutates it afterwards.
type Submission struct {
	Code string
	Model
	ProblemSetupID uuid.UUID `gorm:"index"`
	CreatedByID    uuid.UUID `gorm:"index"`
	CompletedOn    datatypes.Null[time.Time]
	Results        []SubmissionResult `gorm:"foreignKey:SubmissionID"`
}

func (Submission) TableName() string {
	return "submission"
}

func (s Submission) GetID() uuid.UUID {
	return s.ID
}

// OverallStatus aggregates per-test-case verdicts: all accepted means
// accepted, otherwise the first non-accepted verdict in case order wins.
// Returns in_queue when no result exists yet.
func (s Submission) OverallStatus() types.SubmissionStatus {
	if len(s.Results) == 0 {
		return types.SubmissionStatusInQueue
	}

	for _, result := range s.Results {
		if result.Status != types.SubmissionStatusAccepted {
			return result.Status
		}
	}

	return types.SubmissionStatusAccepted
}

// SubmissionResult is one test case's sandbox outcome. The sandbox issued
// token doubles as the row's identity, which makes result persistence an
// idempotent upsert.
type SubmissionResult struct {
	Token         string                 `gorm:"primaryKey"`
	Status        types.SubmissionStatus `gorm:"type:text"`
	Stdout        string
	Stderr        string
	CompileOutput string
	Message       string
	Time          string
	Memory        int
	Position      int
	CreatedAt     time.Time
	UpdatedAt     time.Time
	SubmissionID  uuid.UUID `gorm:"index"`
}

func (SubmissionResult) TableName() string {
	return "submission_result"
}
