package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/mock/gomock"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/algoclash/judge-api/judge-api/cmd/server/internal/outbox"
	"github.com/algoclash/judge-api/judge-api/internal/migrations"
	"github.com/algoclash/judge-api/judge-api/internal/models"
	"github.com/algoclash/judge-api/judge-api/internal/sandbox"
	"github.com/algoclash/judge-api/judge-api/internal/sandbox/mock"
	"github.com/algoclash/judge-api/judge-api/internal/types"
)

const harnessTemplate = `__INPUT_PARSER__
__USER_CODE__
console.log(__FUNCTION_NAME__(parseInput(require("fs").readFileSync(0, "utf8"))));`

type fixture struct {
	submission *models.Submission
	outbox     *models.SubmissionOutbox
}

func seedPipeline(
	t *testing.T,
	db *gorm.DB,
	stage types.OutboxStage,
	inputs []string,
) fixture {
	t.Helper()

	account := &models.Account{Token: "hash", Note: "test", Active: models.NewNullFromData(true)}
	require.NoError(t, db.Create(account).Error, "failed to create account")

	language := &models.Language{Name: uuid.NewString(), SandboxID: 63}
	require.NoError(t, db.Create(language).Error, "failed to create language")

	problem := &models.Problem{Slug: uuid.NewString(), Title: "Sum"}
	require.NoError(t, db.Create(problem).Error, "failed to create problem")

	setup := &models.ProblemSetup{
		HarnessTemplate: harnessTemplate,
		FunctionName:    "sum",
		ProblemID:       problem.ID,
		LanguageID:      language.ID,
	}
	require.NoError(t, db.Create(setup).Error, "failed to create problem setup")

	suite := &models.TestSuite{Name: "public", ProblemSetupID: setup.ID}
	require.NoError(t, db.Create(suite).Error, "failed to create test suite")

	for i, input := range inputs {
		testCase := &models.TestCase{
			InputType:      "array:number",
			Input:          input,
			ExpectedOutput: "0",
			Position:       i,
			TestSuiteID:    suite.ID,
		}
		require.NoError(t, db.Create(testCase).Error, "failed to create test case")
	}

	submission := &models.Submission{
		Code:           "const sum = (ns) => ns.reduce((a, b) => a + b, 0)",
		ProblemSetupID: setup.ID,
		CreatedByID:    account.ID,
	}
	require.NoError(t, db.Create(submission).Error, "failed to create submission")

	row := models.NewOutboxForSubmission(submission.ID)
	row.Stage = stage
	require.NoError(t, db.Create(row).Error, "failed to create outbox row")

	return fixture{submission: submission, outbox: row}
}

func seedResults(t *testing.T, db *gorm.DB, submissionID uuid.UUID, tokens []string) {
	t.Helper()

	for i, token := range tokens {
		result := &models.SubmissionResult{
			Token:        token,
			Status:       types.SubmissionStatusInQueue,
			Position:     i,
			SubmissionID: submissionID,
		}
		require.NoError(t, db.Create(result).Error, "failed to create result")
	}
}

// finalizeLeftovers parks every live outbox row so scenarios cannot see each
// other's rows when sweeping a stage.
func finalizeLeftovers(t *testing.T, db *gorm.DB) {
	t.Helper()

	err := db.Model(&models.SubmissionOutbox{}).
		Where("finalized_on IS NULL").
		Update("finalized_on", time.Now().UTC()).Error
	require.NoError(t, err, "failed to finalize leftover rows")
}

func reloadOutbox(t *testing.T, db *gorm.DB, id uuid.UUID) models.SubmissionOutbox {
	t.Helper()

	var row models.SubmissionOutbox
	require.NoError(t, db.First(&row, id).Error, "failed to reload outbox row")

	return row
}

func TestOrchestrator(t *testing.T) {
	ctx := context.Background()

	postgresContainer, err := postgres.Run(ctx,
		"postgres:16.4-alpine",
		postgres.WithDatabase("judgeapi"),
		postgres.WithUsername("judgeapi"),
		postgres.WithPassword("judgeapi"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(5*time.Second)),
	)
	defer func() {
		err = testcontainers.TerminateContainer(postgresContainer)
		assert.NoError(t, err, "failed to terminate container")
	}()
	require.NoError(t, err, "failed to start postgres container")

	dsn, err := postgresContainer.ConnectionString(ctx)
	require.NoError(t, err, "failed to get connection string to container")

	db, err := gorm.Open(gormpostgres.Open(dsn))
	require.NoError(t, err, "failed to connect to the database")

	err = migrations.Up(ctx, db)
	require.NoError(t, err, "failed to migrate db")

	store := outbox.NewStore(db)

	t.Run("AcceptedEndToEnd", func(t *testing.T) {
		defer finalizeLeftovers(t, db)

		ctrl := gomock.NewController(t)
		client := mock.NewMockClient(ctrl)
		orchestrator := NewOrchestrator(db, store, client, 5, 32)

		fix := seedPipeline(t, db, types.OutboxStageInitialized, []string{"1 2", "3 4"})

		client.EXPECT().
			Submit(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, requests []sandbox.Request) ([]sandbox.Acceptance, error) {
				require.Len(t, requests, 2, "one request per test case")

				assert.Equal(t, 63, requests[0].LanguageID)
				assert.Equal(t, "1 2", requests[0].Stdin)
				assert.Equal(t, "3 4", requests[1].Stdin)
				assert.Contains(t, requests[0].SourceCode, "ns.reduce")
				assert.Contains(t, requests[0].SourceCode, "sum(")
				assert.NotContains(t, requests[0].SourceCode, "__USER_CODE__")

				return []sandbox.Acceptance{
					{Token: "tok-0", Status: types.SubmissionStatusInQueue},
					{Token: "tok-1", Status: types.SubmissionStatusInQueue},
				}, nil
			})

		require.NoError(t, orchestrator.HandleInitialized(ctx))

		row := reloadOutbox(t, db, fix.outbox.ID)
		assert.Equal(t, types.OutboxStagePollInitialization, row.Stage)
		assert.Equal(t, 0, row.AttemptCount)

		client.EXPECT().
			Poll(gomock.Any(), []string{"tok-0", "tok-1"}).
			Return([]sandbox.Result{
				{Token: "tok-0", Status: types.SubmissionStatusAccepted, Stdout: "3"},
				{Token: "tok-1", Status: types.SubmissionStatusAccepted, Stdout: "7"},
			}, nil)

		require.NoError(t, orchestrator.HandlePollInitialization(ctx))

		row = reloadOutbox(t, db, fix.outbox.ID)
		assert.Equal(t, types.OutboxStagePollJudge0Result, row.Stage)

		client.EXPECT().
			Poll(gomock.Any(), []string{"tok-0", "tok-1"}).
			Return([]sandbox.Result{
				{Token: "tok-0", Status: types.SubmissionStatusAccepted, Stdout: "3"},
				{Token: "tok-1", Status: types.SubmissionStatusAccepted, Stdout: "7"},
			}, nil)

		require.NoError(t, orchestrator.HandlePollJudge0Result(ctx))

		row = reloadOutbox(t, db, fix.outbox.ID)
		assert.Equal(t, types.OutboxStageCompleted, row.Stage)
		assert.Equal(t, types.OutboxStatusCompleted, row.Status)
		assert.True(t, row.FinalizedOn.Valid, "completed row must be finalized")

		var submission models.Submission
		err := db.Preload("Results").First(&submission, fix.submission.ID).Error
		require.NoError(t, err, "failed to reload submission")

		assert.True(t, submission.CompletedOn.Valid, "completion timestamp must be set")
		assert.Equal(t, types.SubmissionStatusAccepted, submission.OverallStatus())
	})

	t.Run("WrongAnswerVerdict", func(t *testing.T) {
		defer finalizeLeftovers(t, db)

		ctrl := gomock.NewController(t)
		client := mock.NewMockClient(ctrl)
		orchestrator := NewOrchestrator(db, store, client, 5, 32)

		fix := seedPipeline(t, db, types.OutboxStagePollJudge0Result, []string{"1 2"})
		seedResults(t, db, fix.submission.ID, []string{"tok-wa-0"})

		client.EXPECT().
			Poll(gomock.Any(), []string{"tok-wa-0"}).
			Return([]sandbox.Result{
				{Token: "tok-wa-0", Status: types.SubmissionStatusWrongAnswer, Stdout: "4"},
			}, nil)

		require.NoError(t, orchestrator.HandlePollJudge0Result(ctx))

		row := reloadOutbox(t, db, fix.outbox.ID)
		assert.Equal(t, types.OutboxStageCompleted, row.Stage)

		var submission models.Submission
		err := db.Preload("Results").First(&submission, fix.submission.ID).Error
		require.NoError(t, err, "failed to reload submission")

		assert.True(t, submission.CompletedOn.Valid)
		assert.NotEqual(t, types.SubmissionStatusAccepted, submission.OverallStatus())
		assert.Equal(t, types.SubmissionStatusWrongAnswer, submission.OverallStatus())
	})

	t.Run("NonTerminalStays", func(t *testing.T) {
		defer finalizeLeftovers(t, db)

		ctrl := gomock.NewController(t)
		client := mock.NewMockClient(ctrl)
		orchestrator := NewOrchestrator(db, store, client, 5, 32)

		fix := seedPipeline(t, db, types.OutboxStageExecuteSubmission, []string{"1 2"})
		seedResults(t, db, fix.submission.ID, []string{"tok-stay-0"})

		client.EXPECT().
			Poll(gomock.Any(), []string{"tok-stay-0"}).
			Return([]sandbox.Result{
				{Token: "tok-stay-0", Status: types.SubmissionStatusProcessing},
			}, nil)

		require.NoError(t, orchestrator.HandleExecuteSubmission(ctx))

		row := reloadOutbox(t, db, fix.outbox.ID)
		assert.Equal(t, types.OutboxStageExecuteSubmission, row.Stage, "non-terminal batch stays")
		assert.Equal(t, 0, row.AttemptCount, "healthy poll must not burn the budget")
		assert.False(t, row.FinalizedOn.Valid)

		var result models.SubmissionResult
		require.NoError(t, db.First(&result, "token = ?", "tok-stay-0").Error)
		assert.Equal(t, types.SubmissionStatusProcessing, result.Status,
			"intermediate status should still be persisted")
	})

	t.Run("CountMismatchFinalizes", func(t *testing.T) {
		defer finalizeLeftovers(t, db)

		ctrl := gomock.NewController(t)
		client := mock.NewMockClient(ctrl)
		orchestrator := NewOrchestrator(db, store, client, 5, 32)

		fix := seedPipeline(t, db, types.OutboxStageInitialized, []string{"1 2", "3 4"})

		client.EXPECT().
			Submit(gomock.Any(), gomock.Any()).
			Return(nil, sandbox.ErrCountMismatch)

		require.NoError(t, orchestrator.HandleInitialized(ctx))

		row := reloadOutbox(t, db, fix.outbox.ID)
		assert.Equal(t, types.OutboxStageFailed, row.Stage, "defects finalize immediately")
		assert.Equal(t, types.OutboxStatusFailed, row.Status)
		assert.True(t, row.FinalizedOn.Valid)
		assert.Contains(t, row.LastError, "Mismatch between sandbox responses and submitted jobs")
	})

	t.Run("UnknownTokenFinalizesWithOneAttempt", func(t *testing.T) {
		defer finalizeLeftovers(t, db)

		ctrl := gomock.NewController(t)
		client := mock.NewMockClient(ctrl)
		orchestrator := NewOrchestrator(db, store, client, 5, 32)

		fix := seedPipeline(t, db, types.OutboxStagePollJudge0Result, []string{"1 2"})
		seedResults(t, db, fix.submission.ID, []string{"tok-known-0"})

		client.EXPECT().
			Poll(gomock.Any(), []string{"tok-known-0"}).
			Return([]sandbox.Result{
				{Token: "tok-imposter", Status: types.SubmissionStatusAccepted},
			}, nil)

		require.NoError(t, orchestrator.HandlePollJudge0Result(ctx))

		row := reloadOutbox(t, db, fix.outbox.ID)
		assert.Equal(t, types.OutboxStageFailed, row.Stage, "unknown tokens finalize immediately")
		assert.Equal(t, types.OutboxStatusFailed, row.Status)
		assert.True(t, row.FinalizedOn.Valid)
		assert.Equal(t, 1, row.AttemptCount, "finalizing a bad response costs a single claim")
		assert.Contains(t, row.LastError, "tok-imposter")
	})

	t.Run("TransientErrorConsumesAttempt", func(t *testing.T) {
		defer finalizeLeftovers(t, db)

		ctrl := gomock.NewController(t)
		client := mock.NewMockClient(ctrl)
		orchestrator := NewOrchestrator(db, store, client, 5, 32)

		fix := seedPipeline(t, db, types.OutboxStageInitialized, []string{"1 2"})

		client.EXPECT().
			Submit(gomock.Any(), gomock.Any()).
			Return(nil, &sandbox.StatusError{Code: 502, Body: "bad gateway"})

		require.NoError(t, orchestrator.HandleInitialized(ctx))

		row := reloadOutbox(t, db, fix.outbox.ID)
		assert.Equal(t, types.OutboxStageInitialized, row.Stage, "transient errors stay for retry")
		assert.Equal(t, types.OutboxStatusPending, row.Status)
		assert.Equal(t, 1, row.AttemptCount, "failed attempt consumes budget")
		assert.False(t, row.FinalizedOn.Valid)
		assert.Contains(t, row.LastError, "502")
	})

	t.Run("ExhaustedRowFinalizes", func(t *testing.T) {
		defer finalizeLeftovers(t, db)

		ctrl := gomock.NewController(t)
		client := mock.NewMockClient(ctrl)
		orchestrator := NewOrchestrator(db, store, client, 5, 32)

		fix := seedPipeline(t, db, types.OutboxStageInitialized, []string{"1 2"})
		err := db.Model(fix.outbox).Updates(map[string]any{
			"attempt_count": 5,
			"last_error":    "sandbox unreachable: connection refused",
		}).Error
		require.NoError(t, err, "failed to exhaust row")

		require.NoError(t, orchestrator.HandleInitialized(ctx))

		row := reloadOutbox(t, db, fix.outbox.ID)
		assert.Equal(t, types.OutboxStageFailed, row.Stage)
		assert.Equal(t, types.OutboxStatusFailed, row.Status)
		assert.True(t, row.FinalizedOn.Valid)
		assert.Contains(t, row.LastError, "connection refused", "last error is preserved")
	})
}
