package types

type PingResponse struct {
	Status string `json:"status"`
}

// SubmissionCreate is the request body for creating a submission.
type SubmissionCreate struct {
	ProblemSlug string `json:"problem_slug" validate:"required"`
	Language    string `json:"language"     validate:"required"`
	Code        string `json:"code"         validate:"required"`
}

type SubmissionCreated struct {
	SubmissionID string `json:"submission_id"`
	Status       string `json:"status"`
}

type SubmissionResultView struct {
	Token         string           `json:"token"`
	Status        SubmissionStatus `json:"status"`
	Stdout        string           `json:"stdout,omitempty"`
	Stderr        string           `json:"stderr,omitempty"`
	CompileOutput string           `json:"compile_output,omitempty"`
	Message       string           `json:"message,omitempty"`
	Time          string           `json:"time,omitempty"`
	Memory        int              `json:"memory,omitempty"`
	Position      int              `json:"position"`
}

// SubmissionView reports a submission's current state. Status is the overall
// verdict once the pipeline finishes, "execution_failed" when the pipeline
// gave up, and the aggregate queued/processing status while it runs.
type SubmissionView struct {
	SubmissionID string                 `json:"submission_id"`
	ProblemSlug  string                 `json:"problem_slug,omitempty"`
	Status       string                 `json:"status"`
	Results      []SubmissionResultView `json:"results"`
	CreatedAt    UnixMilli              `json:"created_at"`
	CompletedOn  *UnixMilli             `json:"completed_on,omitempty"`
}

// StatusExecutionFailed is reported when the pipeline exhausted its attempts
// and the submission never reached a verdict.
const StatusExecutionFailed = "execution_failed"

type ProblemView struct {
	ProblemID   string   `json:"problem_id"`
	Slug        string   `json:"slug"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Languages   []string `json:"languages,omitempty"`
}

type LanguageView struct {
	LanguageID string `json:"language_id"`
	Name       string `json:"name"`
	SandboxID  int    `json:"sandbox_id"`
}
