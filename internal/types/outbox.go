package types

// OutboxStage is one step of the submission pipeline's state machine,
// persisted on the outbox row as an integer code.
type OutboxStage int

const (
	OutboxStageInitialized        OutboxStage = 0
	OutboxStagePollInitialization OutboxStage = 1
	OutboxStageExecuteSubmission  OutboxStage = 2
	OutboxStagePollJudge0Result   OutboxStage = 3
	OutboxStageCompleted          OutboxStage = 4
	OutboxStageFailed             OutboxStage = 5
)

func (s OutboxStage) String() string {
	switch s {
	case OutboxStageInitialized:
		return "initialized"
	case OutboxStagePollInitialization:
		return "poll_initialization"
	case OutboxStageExecuteSubmission:
		return "execute_submission"
	case OutboxStagePollJudge0Result:
		return "poll_judge0_result"
	case OutboxStageCompleted:
		return "completed"
	case OutboxStageFailed:
		return "failed"
	}

	return "unknown"
}

// Terminal stages are excluded from all future claims.
func (s OutboxStage) Terminal() bool {
	return s == OutboxStageCompleted || s == OutboxStageFailed
}

type OutboxStatus int

const (
	OutboxStatusPending    OutboxStatus = 0
	OutboxStatusProcessing OutboxStatus = 1
	OutboxStatusCompleted  OutboxStatus = 2
	OutboxStatusFailed     OutboxStatus = 3
)

func (s OutboxStatus) String() string {
	switch s {
	case OutboxStatusPending:
		return "pending"
	case OutboxStatusProcessing:
		return "processing"
	case OutboxStatusCompleted:
		return "completed"
	case OutboxStatusFailed:
		return "failed"
	}

	return "unknown"
}
