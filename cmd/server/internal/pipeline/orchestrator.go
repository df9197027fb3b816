// Package pipeline drives claimed submissions through the sandbox: render
// harnesses, submit batches, poll tokens, and persist verdicts, one outbox
// stage per scheduled job.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/gorm"

	"github.com/algoclash/judge-api/judge-api/cmd/server/internal/harness"
	"github.com/algoclash/judge-api/judge-api/cmd/server/internal/outbox"
	"github.com/algoclash/judge-api/judge-api/internal/audit"
	"github.com/algoclash/judge-api/judge-api/internal/logger"
	"github.com/algoclash/judge-api/judge-api/internal/models"
	"github.com/algoclash/judge-api/judge-api/internal/sandbox"
	"github.com/algoclash/judge-api/judge-api/internal/types"
)

const name string = "github.com/algoclash/judge-api/judge-api/cmd/server/internal/pipeline"

var tracer = otel.Tracer(name)

// errDefect marks invariant violations retrying cannot fix. Defective rows
// are finalized immediately instead of burning their remaining attempts.
var errDefect = errors.New("pipeline defect")

func isDefect(err error) bool {
	var validationErr *harness.ValidationError

	return errors.Is(err, errDefect) ||
		errors.Is(err, sandbox.ErrCountMismatch) ||
		errors.Is(err, types.ErrUnknownStatusCode) ||
		errors.As(err, &validationErr)
}

type Orchestrator struct {
	db          *gorm.DB
	store       *outbox.Store
	client      sandbox.Client
	maxAttempts int
	claimLimit  int
}

func NewOrchestrator(
	db *gorm.DB,
	store *outbox.Store,
	client sandbox.Client,
	maxAttempts int,
	claimLimit int,
) *Orchestrator {
	return &Orchestrator{
		db:          db,
		store:       store,
		client:      client,
		maxAttempts: maxAttempts,
		claimLimit:  claimLimit,
	}
}

// HandleInitialized picks up freshly created submissions: render a harness
// per test case, submit the batch to the sandbox, and record the returned
// tokens as provisional queued results.
func (o *Orchestrator) HandleInitialized(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Orchestrator.HandleInitialized")
	defer span.End()

	items, err := o.beginStage(ctx, types.OutboxStageInitialized)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to begin stage")
		return err
	}

	for i := range items {
		item := &items[i]

		if err := o.submitItem(ctx, item); err != nil {
			o.failAttempt(ctx, item, err)
		}
	}

	span.SetAttributes(attribute.Int("items", len(items)))
	span.RecordError(nil)
	span.SetStatus(codes.Ok, "handled initialized submissions")
	return nil
}

// HandlePollInitialization re-checks tokens the sandbox has only just
// accepted.
func (o *Orchestrator) HandlePollInitialization(ctx context.Context) error {
	return o.handlePoll(ctx, types.OutboxStagePollInitialization)
}

// HandleExecuteSubmission polls submissions whose test cases are executing.
func (o *Orchestrator) HandleExecuteSubmission(ctx context.Context) error {
	return o.handlePoll(ctx, types.OutboxStageExecuteSubmission)
}

// HandlePollJudge0Result polls for final verdicts and completes submissions
// once every test case is terminal.
func (o *Orchestrator) HandlePollJudge0Result(ctx context.Context) error {
	return o.handlePoll(ctx, types.OutboxStagePollJudge0Result)
}

// beginStage finalizes rows whose attempt budget is spent, emitting an audit
// event per row, then lists what is claimable this tick.
func (o *Orchestrator) beginStage(
	ctx context.Context,
	stage types.OutboxStage,
) ([]models.SubmissionOutbox, error) {
	ctx, span := tracer.Start(ctx, "Orchestrator.beginStage")
	defer span.End()

	span.SetAttributes(attribute.String("stage", stage.String()))

	exhausted, err := o.store.FinalizeExhausted(ctx, stage, o.maxAttempts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to finalize exhausted rows")
		return nil, err
	}

	for _, row := range exhausted {
		submissionID := row.SubmissionID.String()
		audit.LogExecutionExhausted(
			audit.Context{SubmissionID: &submissionID},
			stage.String(),
			row.AttemptCount,
			row.LastError,
		)
	}

	items, err := o.store.ListClaimable(ctx, stage, o.maxAttempts, time.Now().UTC(), o.claimLimit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list claimable rows")
		return nil, err
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "began stage")
	return items, nil
}

// failAttempt consumes the item's retry budget after a failed action. Defects
// finalize immediately; everything else stays at its stage for the next tick.
func (o *Orchestrator) failAttempt(
	ctx context.Context,
	item *models.SubmissionOutbox,
	cause error,
) {
	logger.Logger.ErrorContext(ctx, "pipeline attempt failed",
		"outboxId", item.ID,
		"submissionId", item.SubmissionID,
		"stage", item.Stage.String(),
		"error", cause,
	)

	ids := []uuid.UUID{item.ID}

	if err := o.store.Claim(ctx, item.Stage, ids, time.Now().UTC()); err != nil {
		logger.Logger.ErrorContext(ctx, "failed to claim after error",
			"outboxId", item.ID, "error", err)
		return
	}

	if isDefect(cause) {
		if err := o.store.MarkFailed(ctx, ids, cause.Error()); err != nil {
			logger.Logger.ErrorContext(ctx, "failed to finalize defective row",
				"outboxId", item.ID, "error", err)
		}
		return
	}

	if err := o.store.RecordAttemptError(ctx, ids, cause); err != nil {
		logger.Logger.ErrorContext(ctx, "failed to record attempt error",
			"outboxId", item.ID, "error", err)
	}
}

func (o *Orchestrator) submitItem(ctx context.Context, item *models.SubmissionOutbox) error {
	ctx, span := tracer.Start(ctx, "Orchestrator.submitItem")
	defer span.End()

	span.SetAttributes(attribute.String("outbox.id", item.ID.String()))

	if item.Submission == nil {
		err := fmt.Errorf("%w: outbox row %s has no submission", errDefect, item.ID)
		span.RecordError(err)
		span.SetStatus(codes.Error, "outbox row has no submission")
		return err
	}
	submission := item.Submission

	setup, err := models.SetupByID(ctx, o.db, submission.ProblemSetupID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load problem setup")
		return fmt.Errorf("failed to load problem setup: %w", err)
	}

	if setup.Language == nil {
		err := fmt.Errorf("%w: problem setup %s has no language", errDefect, setup.ID)
		span.RecordError(err)
		span.SetStatus(codes.Error, "problem setup has no language")
		return err
	}

	cases := setup.OrderedCases()
	if len(cases) == 0 {
		err := fmt.Errorf("%w: problem setup %s has no test cases", errDefect, setup.ID)
		span.RecordError(err)
		span.SetStatus(codes.Error, "problem setup has no test cases")
		return err
	}

	contexts := make([]harness.Context, 0, len(cases))
	for _, testCase := range cases {
		contexts = append(contexts, harness.Context{
			UserCode:        submission.Code,
			HarnessTemplate: setup.HarnessTemplate,
			FunctionName:    setup.FunctionName,
			InputType:       testCase.InputType,
			Input:           testCase.Input,
			ExpectedOutput:  testCase.ExpectedOutput,
		})
	}

	built, err := harness.Build(contexts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to build harnesses")
		return err
	}

	requests := make([]sandbox.Request, 0, len(built))
	for _, result := range built {
		requests = append(requests, sandbox.Request{
			LanguageID:     setup.Language.SandboxID,
			SourceCode:     result.Source,
			Stdin:          result.Input,
			ExpectedOutput: result.ExpectedOutput,
		})
	}

	acceptances, err := o.client.Submit(ctx, requests)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to submit batch to sandbox")
		return err
	}

	err = o.store.Claim(ctx, item.Stage, []uuid.UUID{item.ID}, time.Now().UTC())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to claim outbox row")
		return err
	}

	results := make([]models.SubmissionResult, 0, len(acceptances))
	for i, acceptance := range acceptances {
		results = append(results, models.SubmissionResult{
			Token:        acceptance.Token,
			Status:       acceptance.Status,
			Position:     i,
			SubmissionID: submission.ID,
		})
	}

	err = o.store.PersistResultsAndAdvance(
		ctx,
		results,
		item.ID,
		types.OutboxStagePollInitialization,
		false,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to persist provisional results")
		return err
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "submitted batch to sandbox")
	return nil
}

// handlePoll runs one polling stage. The two intermediate poll stages move to
// the result poll once all test cases are terminal; the result poll computes
// the verdict and completes the submission. Non-terminal batches stay at
// their stage with a fresh attempt budget.
func (o *Orchestrator) handlePoll(ctx context.Context, stage types.OutboxStage) error {
	ctx, span := tracer.Start(ctx, "Orchestrator.handlePoll")
	defer span.End()

	span.SetAttributes(attribute.String("stage", stage.String()))

	items, err := o.beginStage(ctx, stage)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to begin stage")
		return err
	}

	for i := range items {
		item := &items[i]

		if err := o.pollItem(ctx, item, stage); err != nil {
			o.failAttempt(ctx, item, err)
		}
	}

	span.SetAttributes(attribute.Int("items", len(items)))
	span.RecordError(nil)
	span.SetStatus(codes.Ok, "handled poll stage")
	return nil
}

func (o *Orchestrator) pollItem(
	ctx context.Context,
	item *models.SubmissionOutbox,
	stage types.OutboxStage,
) error {
	ctx, span := tracer.Start(ctx, "Orchestrator.pollItem")
	defer span.End()

	span.SetAttributes(attribute.String("outbox.id", item.ID.String()))

	if item.Submission == nil {
		err := fmt.Errorf("%w: outbox row %s has no submission", errDefect, item.ID)
		span.RecordError(err)
		span.SetStatus(codes.Error, "outbox row has no submission")
		return err
	}
	submission := item.Submission

	existing := submission.Results
	if len(existing) == 0 {
		err := fmt.Errorf(
			"%w: submission %s reached %s with no sandbox tokens",
			errDefect, submission.ID, stage,
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, "no sandbox tokens recorded")
		return err
	}

	byToken := make(map[string]models.SubmissionResult, len(existing))
	tokens := make([]string, 0, len(existing))
	for _, result := range existing {
		byToken[result.Token] = result
		tokens = append(tokens, result.Token)
	}

	polled, err := o.client.Poll(ctx, tokens)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to poll sandbox")
		return err
	}

	// Unknown tokens are rejected before the claim; failAttempt's claim is
	// then the only attempt the defect consumes.
	for _, result := range polled {
		if _, ok := byToken[result.Token]; !ok {
			err := fmt.Errorf(
				"%w: sandbox returned unknown token %s for submission %s",
				errDefect, result.Token, submission.ID,
			)
			span.RecordError(err)
			span.SetStatus(codes.Error, "sandbox returned unknown token")
			return err
		}
	}

	err = o.store.Claim(ctx, stage, []uuid.UUID{item.ID}, time.Now().UTC())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to claim outbox row")
		return err
	}

	allTerminal := true
	merged := make([]models.SubmissionResult, 0, len(polled))
	for _, result := range polled {
		prior := byToken[result.Token]

		if !result.Status.Terminal() {
			allTerminal = false
		}

		merged = append(merged, models.SubmissionResult{
			Token:         result.Token,
			Status:        result.Status,
			Stdout:        result.Stdout,
			Stderr:        result.Stderr,
			CompileOutput: result.CompileOutput,
			Message:       result.Message,
			Time:          result.Time,
			Memory:        result.Memory,
			Position:      prior.Position,
			SubmissionID:  submission.ID,
		})
	}

	nextStage := stage
	completeSubmission := false
	if allTerminal {
		if stage == types.OutboxStagePollJudge0Result {
			nextStage = types.OutboxStageCompleted
			completeSubmission = true
		} else {
			nextStage = types.OutboxStagePollJudge0Result
		}
	}

	err = o.store.PersistResultsAndAdvance(ctx, merged, item.ID, nextStage, completeSubmission)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to persist poll results")
		return err
	}

	if completeSubmission {
		verdictSubmission := models.Submission{Results: sortedByPosition(merged)}
		verdict := verdictSubmission.OverallStatus()

		submissionID := submission.ID.String()
		audit.LogSubmissionVerdict(
			audit.Context{SubmissionID: &submissionID},
			verdict,
			len(merged),
		)

		span.SetAttributes(attribute.String("verdict", string(verdict)))
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "polled sandbox for submission")
	return nil
}

func sortedByPosition(results []models.SubmissionResult) []models.SubmissionResult {
	sorted := make([]models.SubmissionResult, len(results))
	copy(sorted, results)

	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Position < sorted[j].Position
	})

	return sorted
}
