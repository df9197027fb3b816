package v1

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/gorm"

	srverr "github.com/algoclash/judge-api/judge-api/cmd/server/internal/error"
	"github.com/algoclash/judge-api/judge-api/cmd/server/internal/response"
	"github.com/algoclash/judge-api/judge-api/internal/audit"
	"github.com/algoclash/judge-api/judge-api/internal/models"
	"github.com/algoclash/judge-api/judge-api/internal/types"
	"github.com/algoclash/judge-api/judge-api/internal/validator"
)

// SubmitCode creates the submission and its pipeline entry point in one
// transaction, so no submission can exist without an outbox row.
func (h *Handler) SubmitCode(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "SubmitCode")
	defer span.End()

	db := h.DB.WithContext(ctx)

	account, ok := c.Get("auth").(*models.Account)
	if !ok {
		span.RecordError(srverr.ErrTypeAssertMismatch)
		span.SetStatus(codes.Error, fmt.Sprintf("auth: %s", srverr.ErrTypeAssertMismatch))
		return response.InternalServerError
	}

	span.SetAttributes(
		attribute.String("auth.note", account.Note),
		attribute.String("auth.id", account.ID.String()),
	)

	var rdata types.SubmissionCreate

	span.AddEvent("parsing request body")
	err := c.Bind(&rdata)
	if err != nil {
		span.SetStatus(codes.Ok, "failed to parse request data")
		span.RecordError(err)
		return echo.NewHTTPError(
			http.StatusBadRequest,
			types.StringError("failed to parse request data"),
		)
	}

	span.AddEvent("validating request body")
	err = c.Validate(rdata)
	if err != nil {
		span.SetStatus(codes.Ok, "failed to validate request data")
		span.RecordError(err)
		return echo.NewHTTPError(http.StatusBadRequest, types.ValidationError(err))
	}

	span.AddEvent("validating submission is within size limit")
	if !validator.ValidateCodeSize(len(rdata.Code)) {
		span.SetStatus(codes.Ok, "submission was too large")
		span.RecordError(nil)
		return echo.NewHTTPError(
			http.StatusBadRequest,
			types.Error{Message: "validation error", Fields: &map[string]string{
				"code": "must be <= 64kb",
			}},
		)
	}

	span.AddEvent("resolving problem and language")
	problem, err := models.ProblemBySlug(ctx, db, rdata.ProblemSlug)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			span.SetStatus(codes.Ok, "problem not found")
			return response.NotFoundError
		}

		span.SetStatus(codes.Error, "failed to fetch problem")
		return response.InternalServerError
	}

	language, err := models.LanguageByName(ctx, db, rdata.Language)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			span.SetStatus(codes.Ok, "language not found")
			return echo.NewHTTPError(
				http.StatusBadRequest,
				types.StringError("unsupported language"),
			)
		}

		span.SetStatus(codes.Error, "failed to fetch language")
		return response.InternalServerError
	}

	setup, err := models.SetupForProblem(ctx, db, problem.ID, language.ID)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			span.SetStatus(codes.Ok, "problem has no setup for language")
			return echo.NewHTTPError(
				http.StatusBadRequest,
				types.StringError("problem does not support this language"),
			)
		}

		span.SetStatus(codes.Error, "failed to fetch problem setup")
		return response.InternalServerError
	}

	submission := &models.Submission{
		Code:           rdata.Code,
		ProblemSetupID: setup.ID,
		CreatedByID:    account.ID,
	}

	span.AddEvent("creating submission and outbox row")
	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(submission).Error; err != nil {
			return err
		}

		return tx.Create(models.NewOutboxForSubmission(submission.ID)).Error
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create submission")
		return response.InternalServerError
	}

	accountID := account.ID.String()
	submissionID := submission.ID.String()
	audit.LogSubmissionCreated(
		audit.Context{AccountID: &accountID, SubmissionID: &submissionID},
		problem.Slug,
		len(rdata.Code),
	)

	span.SetAttributes(attribute.String("submission.id", submissionID))
	span.RecordError(nil)
	span.SetStatus(codes.Ok, "created submission")
	return c.JSON(http.StatusCreated, types.SubmissionCreated{
		SubmissionID: submissionID,
		Status:       string(types.SubmissionStatusInQueue),
	})
}

// GetSubmission reports the submission's current state. The outbox row is the
// source of truth for distinguishing still-running from failed-to-execute.
func (h *Handler) GetSubmission(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "GetSubmission")
	defer span.End()

	db := h.DB.WithContext(ctx)

	rawID := c.Param("submission_id")

	span.SetAttributes(attribute.String("id.raw", rawID))

	id, err := uuid.Parse(rawID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Ok, "failed to parse submission id")
		return response.NotFoundError
	}

	var submission models.Submission
	err = db.
		Preload("Results", func(db *gorm.DB) *gorm.DB {
			return db.Order("submission_result.position ASC")
		}).
		First(&submission, id).Error
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			span.SetStatus(codes.Ok, "submission not found")
			return response.NotFoundError
		}

		span.SetStatus(codes.Error, "failed to fetch submission")
		return response.InternalServerError
	}

	account, ok := c.Get("auth").(*models.Account)
	if !ok {
		span.RecordError(srverr.ErrTypeAssertMismatch)
		span.SetStatus(codes.Error, fmt.Sprintf("auth: %s", srverr.ErrTypeAssertMismatch))
		return response.InternalServerError
	}

	if submission.CreatedByID != account.ID {
		span.AddEvent("submission belongs to another account")
		span.RecordError(nil)
		span.SetStatus(codes.Ok, "submission belongs to another account")
		return response.NotFoundError
	}

	setup, err := models.ByID[models.ProblemSetup](ctx, db, submission.ProblemSetupID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch problem setup")
		return response.InternalServerError
	}

	problem, err := models.ByID[models.Problem](ctx, db, setup.ProblemID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch problem")
		return response.InternalServerError
	}

	row, err := h.outbox.LatestForSubmission(ctx, submission.ID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch outbox state")
		return response.InternalServerError
	}

	status := string(submission.OverallStatus())
	if row != nil && row.Stage == types.OutboxStageFailed {
		status = types.StatusExecutionFailed
	}

	view := types.SubmissionView{
		SubmissionID: submission.ID.String(),
		ProblemSlug:  problem.Slug,
		Status:       status,
		Results:      make([]types.SubmissionResultView, 0, len(submission.Results)),
		CreatedAt:    types.UnixMilli(submission.CreatedAt.UnixMilli()),
	}
	if submission.CompletedOn.Valid {
		completed := types.UnixMilli(submission.CompletedOn.V.UnixMilli())
		view.CompletedOn = &completed
	}

	for _, result := range submission.Results {
		view.Results = append(view.Results, types.SubmissionResultView{
			Token:         result.Token,
			Status:        result.Status,
			Stdout:        result.Stdout,
			Stderr:        result.Stderr,
			CompileOutput: result.CompileOutput,
			Message:       result.Message,
			Time:          result.Time,
			Memory:        result.Memory,
			Position:      result.Position,
		})
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "fetched submission")
	return c.JSON(http.StatusOK, view)
}
