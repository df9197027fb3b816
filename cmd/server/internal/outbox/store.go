package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/algoclash/judge-api/judge-api/internal/models"
	"github.com/algoclash/judge-api/judge-api/internal/types"
)

const name string = "github.com/algoclash/judge-api/judge-api/cmd/server/internal/outbox"

var tracer = otel.Tracer(name)

// Store owns all mutation of the submission outbox table. Everything goes
// through claim-then-transition; no other code path writes outbox rows.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// ListClaimable returns non-finalized rows at the given stage whose attempt
// count is below the cap and whose next_attempt_on is unset or due, joined
// with their submission and its current results.
func (s *Store) ListClaimable(
	ctx context.Context,
	stage types.OutboxStage,
	maxAttempts int,
	now time.Time,
	limit int,
) ([]models.SubmissionOutbox, error) {
	ctx, span := tracer.Start(ctx, "Store.ListClaimable")
	defer span.End()

	span.SetAttributes(
		attribute.String("stage", stage.String()),
		attribute.Int("maxAttempts", maxAttempts),
		attribute.Int("limit", limit),
	)

	db := s.db.WithContext(ctx)

	var items []models.SubmissionOutbox
	err := db.
		Preload("Submission").
		Preload("Submission.Results", func(db *gorm.DB) *gorm.DB {
			return db.Order("submission_result.position ASC")
		}).
		Where("stage = ?", stage).
		Where("finalized_on IS NULL").
		Where("attempt_count < ?", maxAttempts).
		Where("next_attempt_on IS NULL OR next_attempt_on <= ?", now).
		Order("created_at ASC").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list claimable outbox rows")
		return nil, fmt.Errorf("failed to list claimable outbox rows: %w", err)
	}

	span.SetAttributes(attribute.Int("claimable", len(items)))
	span.RecordError(nil)
	span.SetStatus(codes.Ok, "listed claimable outbox rows")
	return items, nil
}

// Claim atomically consumes one retry attempt for exactly the given rows:
// attempt count is incremented, the processing window opens, and any backoff
// timestamp is cleared. The stage and finalization predicates are re-checked
// inside the same statement so a row that was advanced or finalized between
// list and claim is silently skipped rather than double-claimed.
func (s *Store) Claim(
	ctx context.Context,
	stage types.OutboxStage,
	ids []uuid.UUID,
	now time.Time,
) error {
	ctx, span := tracer.Start(ctx, "Store.Claim")
	defer span.End()

	span.SetAttributes(
		attribute.String("stage", stage.String()),
		attribute.Int("ids", len(ids)),
	)

	if len(ids) == 0 {
		span.RecordError(nil)
		span.SetStatus(codes.Ok, "nothing to claim")
		return nil
	}

	db := s.db.WithContext(ctx)

	err := db.Model(&models.SubmissionOutbox{}).
		Where("id IN ?", ids).
		Where("stage = ?", stage).
		Where("finalized_on IS NULL").
		Updates(map[string]any{
			"attempt_count":   gorm.Expr("attempt_count + 1"),
			"status":          types.OutboxStatusProcessing,
			"process_on":      now,
			"next_attempt_on": nil,
		}).Error
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to claim outbox rows")
		return fmt.Errorf("failed to claim outbox rows: %w", err)
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "claimed outbox rows")
	return nil
}

// PersistResultsAndAdvance, inside one transaction, upserts the submission
// results (keyed by sandbox token) and moves the outbox row to nextStage with
// a fresh attempt budget. When nextStage is terminal the row is finalized,
// and when completeSubmission is set the submission's completion timestamp is
// written in the same transaction. Partial writes are never observable.
func (s *Store) PersistResultsAndAdvance(
	ctx context.Context,
	results []models.SubmissionResult,
	outboxID uuid.UUID,
	nextStage types.OutboxStage,
	completeSubmission bool,
) error {
	ctx, span := tracer.Start(ctx, "Store.PersistResultsAndAdvance")
	defer span.End()

	span.SetAttributes(
		attribute.String("outbox.id", outboxID.String()),
		attribute.String("nextStage", nextStage.String()),
		attribute.Int("results", len(results)),
		attribute.Bool("completeSubmission", completeSubmission),
	)

	now := time.Now().UTC()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(results) != 0 {
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "token"}},
				UpdateAll: true,
			}).Create(&results).Error
			if err != nil {
				return fmt.Errorf("failed to upsert submission results: %w", err)
			}
		}

		updates := map[string]any{
			"stage":           nextStage,
			"status":          types.OutboxStatusPending,
			"attempt_count":   0,
			"next_attempt_on": nil,
		}
		if nextStage.Terminal() {
			updates["finalized_on"] = now
			if nextStage == types.OutboxStageCompleted {
				updates["status"] = types.OutboxStatusCompleted
			} else {
				updates["status"] = types.OutboxStatusFailed
			}
		}

		result := tx.Model(&models.SubmissionOutbox{}).
			Where("id = ?", outboxID).
			Where("finalized_on IS NULL").
			Updates(updates)
		if result.Error != nil {
			return fmt.Errorf("failed to advance outbox row: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("outbox row %s was finalized concurrently", outboxID)
		}

		if completeSubmission {
			var outboxRow models.SubmissionOutbox
			if err := tx.First(&outboxRow, outboxID).Error; err != nil {
				return fmt.Errorf("failed to load outbox row for completion: %w", err)
			}

			err := tx.Model(&models.Submission{}).
				Where("id = ?", outboxRow.SubmissionID).
				Update("completed_on", now).Error
			if err != nil {
				return fmt.Errorf("failed to set submission completion timestamp: %w", err)
			}
		}

		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to persist results and advance")
		return err
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "persisted results and advanced stage")
	return nil
}

// RecordAttemptError stores the error text from a failed attempt and returns
// the row to pending so the next tick can retry it. The attempt already
// consumed budget via Claim.
func (s *Store) RecordAttemptError(ctx context.Context, ids []uuid.UUID, attemptErr error) error {
	ctx, span := tracer.Start(ctx, "Store.RecordAttemptError")
	defer span.End()

	span.SetAttributes(attribute.Int("ids", len(ids)))

	if len(ids) == 0 {
		span.RecordError(nil)
		span.SetStatus(codes.Ok, "nothing to record")
		return nil
	}

	db := s.db.WithContext(ctx)

	err := db.Model(&models.SubmissionOutbox{}).
		Where("id IN ?", ids).
		Where("finalized_on IS NULL").
		Updates(map[string]any{
			"status":     types.OutboxStatusPending,
			"last_error": attemptErr.Error(),
		}).Error
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to record attempt error")
		return fmt.Errorf("failed to record attempt error: %w", err)
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "recorded attempt error")
	return nil
}

// MarkFailed finalizes the given rows as failed, preserving the error text
// for operator inspection. Finalized rows are immutable from here on.
func (s *Store) MarkFailed(ctx context.Context, ids []uuid.UUID, failure string) error {
	ctx, span := tracer.Start(ctx, "Store.MarkFailed")
	defer span.End()

	span.SetAttributes(attribute.Int("ids", len(ids)))

	if len(ids) == 0 {
		span.RecordError(nil)
		span.SetStatus(codes.Ok, "nothing to fail")
		return nil
	}

	db := s.db.WithContext(ctx)

	err := db.Model(&models.SubmissionOutbox{}).
		Where("id IN ?", ids).
		Where("finalized_on IS NULL").
		Updates(map[string]any{
			"stage":        types.OutboxStageFailed,
			"status":       types.OutboxStatusFailed,
			"last_error":   failure,
			"finalized_on": time.Now().UTC(),
		}).Error
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to mark outbox rows failed")
		return fmt.Errorf("failed to mark outbox rows failed: %w", err)
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "marked outbox rows failed")
	return nil
}

// FinalizeExhausted fails every row at the given stage whose attempt budget
// is spent, keeping whatever last_error the final attempt recorded. Returns
// the finalized rows so callers can emit audit events.
func (s *Store) FinalizeExhausted(
	ctx context.Context,
	stage types.OutboxStage,
	maxAttempts int,
) ([]models.SubmissionOutbox, error) {
	ctx, span := tracer.Start(ctx, "Store.FinalizeExhausted")
	defer span.End()

	span.SetAttributes(
		attribute.String("stage", stage.String()),
		attribute.Int("maxAttempts", maxAttempts),
	)

	db := s.db.WithContext(ctx)

	var exhausted []models.SubmissionOutbox
	result := db.Model(&models.SubmissionOutbox{}).
		Clauses(clause.Returning{}).
		Where("stage = ?", stage).
		Where("finalized_on IS NULL").
		Where("attempt_count >= ?", maxAttempts).
		Updates(map[string]any{
			"stage":        types.OutboxStageFailed,
			"status":       types.OutboxStatusFailed,
			"last_error":   gorm.Expr("CASE WHEN last_error = '' THEN 'attempt budget exhausted' ELSE last_error END"),
			"finalized_on": time.Now().UTC(),
		}).
		Find(&exhausted)
	if result.Error != nil {
		span.RecordError(result.Error)
		span.SetStatus(codes.Error, "failed to finalize exhausted outbox rows")
		return nil, fmt.Errorf("failed to finalize exhausted outbox rows: %w", result.Error)
	}

	span.SetAttributes(attribute.Int("exhausted", len(exhausted)))
	span.RecordError(nil)
	span.SetStatus(codes.Ok, "finalized exhausted outbox rows")
	return exhausted, nil
}

// LatestForSubmission returns the newest outbox row for a submission. The
// web tier uses it to distinguish still-running from failed-to-execute.
func (s *Store) LatestForSubmission(
	ctx context.Context,
	submissionID uuid.UUID,
) (*models.SubmissionOutbox, error) {
	ctx, span := tracer.Start(ctx, "Store.LatestForSubmission")
	defer span.End()

	span.SetAttributes(attribute.String("submission.id", submissionID.String()))

	db := s.db.WithContext(ctx)

	var row models.SubmissionOutbox
	err := db.
		Where("submission_id = ?", submissionID).
		Order("created_at DESC, id DESC").
		First(&row).Error
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch latest outbox row")
		return nil, err
	}

	return &row, nil
}
