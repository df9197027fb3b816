package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/algoclash/judge-api/judge-api/internal/migrations"
	"github.com/algoclash/judge-api/judge-api/internal/models"
	"github.com/algoclash/judge-api/judge-api/internal/types"
)

func seedSubmission(t *testing.T, db *gorm.DB) *models.Submission {
	t.Helper()

	account := &models.Account{Token: "hash", Note: "test", Active: models.NewNullFromData(true)}
	require.NoError(t, db.Create(account).Error, "failed to create account")

	language := &models.Language{Name: uuid.NewString(), SandboxID: 63}
	require.NoError(t, db.Create(language).Error, "failed to create language")

	problem := &models.Problem{Slug: uuid.NewString(), Title: "Two Sum"}
	require.NoError(t, db.Create(problem).Error, "failed to create problem")

	setup := &models.ProblemSetup{
		HarnessTemplate: "__USER_CODE__",
		FunctionName:    "twoSum",
		ProblemID:       problem.ID,
		LanguageID:      language.ID,
	}
	require.NoError(t, db.Create(setup).Error, "failed to create problem setup")

	submission := &models.Submission{
		Code:           "const twoSum = () => []",
		ProblemSetupID: setup.ID,
		CreatedByID:    account.ID,
	}
	require.NoError(t, db.Create(submission).Error, "failed to create submission")

	return submission
}

func seedOutbox(
	t *testing.T,
	db *gorm.DB,
	submissionID uuid.UUID,
	stage types.OutboxStage,
	attempts int,
) *models.SubmissionOutbox {
	t.Helper()

	row := models.NewOutboxForSubmission(submissionID)
	row.Stage = stage
	row.AttemptCount = attempts
	require.NoError(t, db.Create(row).Error, "failed to create outbox row")

	return row
}

func TestStore(t *testing.T) {
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

	store := NewStore(db)
	now := time.Now().UTC()

	t.Run("ListClaimableFilters", func(t *testing.T) {
		submission := seedSubmission(t, db)

		due := seedOutbox(t, db, submission.ID, types.OutboxStageInitialized, 0)
		overCap := seedOutbox(t, db, submission.ID, types.OutboxStageInitialized, 5)

		backoff := seedOutbox(t, db, submission.ID, types.OutboxStageInitialized, 1)
		err := db.Model(backoff).Update("next_attempt_on", now.Add(time.Hour)).Error
		require.NoError(t, err, "failed to set backoff")

		finalized := seedOutbox(t, db, submission.ID, types.OutboxStageInitialized, 1)
		err = db.Model(finalized).Update("finalized_on", now).Error
		require.NoError(t, err, "failed to finalize row")

		wrongStage := seedOutbox(t, db, submission.ID, types.OutboxStagePollJudge0Result, 0)

		items, err := store.ListClaimable(ctx, types.OutboxStageInitialized, 5, now, 32)
		require.NoError(t, err, "failed to list claimable rows")

		ids := make([]uuid.UUID, 0, len(items))
		for _, item := range items {
			ids = append(ids, item.ID)
			require.NotNil(t, item.Submission, "expected submission to be preloaded")
		}

		assert.Contains(t, ids, due.ID, "due row should be claimable")
		assert.NotContains(t, ids, overCap.ID, "over-cap row should be excluded")
		assert.NotContains(t, ids, backoff.ID, "backed-off row should be excluded")
		assert.NotContains(t, ids, finalized.ID, "finalized row should be excluded")
		assert.NotContains(t, ids, wrongStage.ID, "other stage should be excluded")
	})

	t.Run("ClaimConsumesAttempt", func(t *testing.T) {
		submission := seedSubmission(t, db)
		row := seedOutbox(t, db, submission.ID, types.OutboxStageExecuteSubmission, 2)

		err := store.Claim(ctx, types.OutboxStageExecuteSubmission, []uuid.UUID{row.ID}, now)
		require.NoError(t, err, "failed to claim row")

		var got models.SubmissionOutbox
		require.NoError(t, db.First(&got, row.ID).Error, "failed to reload row")

		assert.Equal(t, 3, got.AttemptCount, "claim should increment attempt count")
		assert.Equal(t, types.OutboxStatusProcessing, got.Status)
		assert.True(t, got.ProcessOn.Valid, "claim should open the processing window")
		assert.False(t, got.NextAttemptOn.Valid, "claim should clear backoff")
	})

	t.Run("ClaimSkipsMovedRows", func(t *testing.T) {
		submission := seedSubmission(t, db)
		row := seedOutbox(t, db, submission.ID, types.OutboxStagePollInitialization, 1)

		err := store.Claim(ctx, types.OutboxStageExecuteSubmission, []uuid.UUID{row.ID}, now)
		require.NoError(t, err, "claim should not error on stage mismatch")

		var got models.SubmissionOutbox
		require.NoError(t, db.First(&got, row.ID).Error, "failed to reload row")

		assert.Equal(t, 1, got.AttemptCount, "mismatched stage must not consume an attempt")
	})

	t.Run("PersistResultsAndAdvance", func(t *testing.T) {
		submission := seedSubmission(t, db)
		row := seedOutbox(t, db, submission.ID, types.OutboxStageInitialized, 3)

		results := []models.SubmissionResult{
			{
				Token:        "tok-adv-0",
				Status:       types.SubmissionStatusInQueue,
				Position:     0,
				SubmissionID: submission.ID,
			},
		}

		err := store.PersistResultsAndAdvance(
			ctx,
			results,
			row.ID,
			types.OutboxStagePollInitialization,
			false,
		)
		require.NoError(t, err, "failed to advance row")

		var got models.SubmissionOutbox
		require.NoError(t, db.First(&got, row.ID).Error, "failed to reload row")

		assert.Equal(t, types.OutboxStagePollInitialization, got.Stage)
		assert.Equal(t, types.OutboxStatusPending, got.Status)
		assert.Equal(t, 0, got.AttemptCount, "advance should reset the attempt budget")
		assert.False(t, got.FinalizedOn.Valid)

		var result models.SubmissionResult
		require.NoError(
			t,
			db.First(&result, "token = ?", "tok-adv-0").Error,
			"failed to reload result",
		)
		assert.Equal(t, types.SubmissionStatusInQueue, result.Status)
	})

	t.Run("ResultUpsertIsIdempotent", func(t *testing.T) {
		submission := seedSubmission(t, db)
		row := seedOutbox(t, db, submission.ID, types.OutboxStagePollJudge0Result, 1)

		first := []models.SubmissionResult{
			{
				Token:        "tok-idem-0",
				Status:       types.SubmissionStatusProcessing,
				Position:     0,
				SubmissionID: submission.ID,
			},
		}
		err := store.PersistResultsAndAdvance(
			ctx,
			first,
			row.ID,
			types.OutboxStagePollJudge0Result,
			false,
		)
		require.NoError(t, err, "failed first upsert")

		second := []models.SubmissionResult{
			{
				Token:        "tok-idem-0",
				Status:       types.SubmissionStatusAccepted,
				Stdout:       "[0,1]",
				Position:     0,
				SubmissionID: submission.ID,
			},
		}
		err = store.PersistResultsAndAdvance(
			ctx,
			second,
			row.ID,
			types.OutboxStagePollJudge0Result,
			false,
		)
		require.NoError(t, err, "failed second upsert")

		var count int64
		err = db.Model(&models.SubmissionResult{}).
			Where("submission_id = ?", submission.ID).
			Count(&count).Error
		require.NoError(t, err, "failed to count results")
		assert.EqualValues(t, 1, count, "re-delivered token must not duplicate the row")

		var got models.SubmissionResult
		require.NoError(
			t,
			db.First(&got, "token = ?", "tok-idem-0").Error,
			"failed to reload result",
		)
		assert.Equal(t, types.SubmissionStatusAccepted, got.Status)
		assert.Equal(t, "[0,1]", got.Stdout)
	})

	t.Run("CompletionFinalizes", func(t *testing.T) {
		submission := seedSubmission(t, db)
		row := seedOutbox(t, db, submission.ID, types.OutboxStagePollJudge0Result, 1)

		err := store.PersistResultsAndAdvance(ctx, nil, row.ID, types.OutboxStageCompleted, true)
		require.NoError(t, err, "failed to complete row")

		var got models.SubmissionOutbox
		require.NoError(t, db.First(&got, row.ID).Error, "failed to reload row")

		assert.Equal(t, types.OutboxStageCompleted, got.Stage)
		assert.Equal(t, types.OutboxStatusCompleted, got.Status)
		assert.True(t, got.FinalizedOn.Valid, "terminal stage must finalize the row")

		var gotSubmission models.Submission
		require.NoError(t, db.First(&gotSubmission, submission.ID).Error)
		assert.True(t, gotSubmission.CompletedOn.Valid, "completion timestamp must be set")

		err = store.PersistResultsAndAdvance(
			ctx,
			nil,
			row.ID,
			types.OutboxStagePollJudge0Result,
			false,
		)
		assert.Error(t, err, "finalized rows must be immutable")
	})

	t.Run("RecordAttemptError", func(t *testing.T) {
		submission := seedSubmission(t, db)
		row := seedOutbox(t, db, submission.ID, types.OutboxStageExecuteSubmission, 1)

		err := store.Claim(ctx, types.OutboxStageExecuteSubmission, []uuid.UUID{row.ID}, now)
		require.NoError(t, err, "failed to claim row")

		err = store.RecordAttemptError(
			ctx,
			[]uuid.UUID{row.ID},
			errors.New("sandbox returned status code outside of 2XX: 502"),
		)
		require.NoError(t, err, "failed to record attempt error")

		var got models.SubmissionOutbox
		require.NoError(t, db.First(&got, row.ID).Error, "failed to reload row")

		assert.Equal(t, types.OutboxStatusPending, got.Status, "row should be retriable")
		assert.Equal(t, types.OutboxStageExecuteSubmission, got.Stage, "stage must not move")
		assert.Contains(t, got.LastError, "502")
	})

	t.Run("MarkFailed", func(t *testing.T) {
		submission := seedSubmission(t, db)
		row := seedOutbox(t, db, submission.ID, types.OutboxStageInitialized, 1)

		err := store.MarkFailed(ctx, []uuid.UUID{row.ID}, "unknown input type")
		require.NoError(t, err, "failed to mark row failed")

		var got models.SubmissionOutbox
		require.NoError(t, db.First(&got, row.ID).Error, "failed to reload row")

		assert.Equal(t, types.OutboxStageFailed, got.Stage)
		assert.Equal(t, types.OutboxStatusFailed, got.Status)
		assert.Equal(t, "unknown input type", got.LastError)
		assert.True(t, got.FinalizedOn.Valid)
	})

	t.Run("FinalizeExhausted", func(t *testing.T) {
		submission := seedSubmission(t, db)

		spent := seedOutbox(t, db, submission.ID, types.OutboxStagePollJudge0Result, 5)
		fresh := seedOutbox(t, db, submission.ID, types.OutboxStagePollJudge0Result, 2)

		exhausted, err := store.FinalizeExhausted(ctx, types.OutboxStagePollJudge0Result, 5)
		require.NoError(t, err, "failed to finalize exhausted rows")

		ids := make([]uuid.UUID, 0, len(exhausted))
		for _, item := range exhausted {
			ids = append(ids, item.ID)
		}
		assert.Contains(t, ids, spent.ID, "spent row should be finalized")
		assert.NotContains(t, ids, fresh.ID, "row with budget left should survive")

		var got models.SubmissionOutbox
		require.NoError(t, db.First(&got, spent.ID).Error, "failed to reload row")

		assert.Equal(t, types.OutboxStageFailed, got.Stage)
		assert.Equal(t, "attempt budget exhausted", got.LastError)
		assert.True(t, got.FinalizedOn.Valid)
	})

	t.Run("LatestForSubmission", func(t *testing.T) {
		submission := seedSubmission(t, db)

		seedOutbox(t, db, submission.ID, types.OutboxStageInitialized, 0)
		second := seedOutbox(t, db, submission.ID, types.OutboxStagePollJudge0Result, 0)

		got, err := store.LatestForSubmission(ctx, submission.ID)
		require.NoError(t, err, "failed to fetch latest outbox row")

		assert.Equal(t, second.ID, got.ID, "newest row should win")
	})
}
