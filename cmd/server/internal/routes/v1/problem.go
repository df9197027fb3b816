package v1

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/gorm"

	"github.com/algoclash/judge-api/judge-api/cmd/server/internal/response"
	"github.com/algoclash/judge-api/judge-api/internal/models"
	"github.com/algoclash/judge-api/judge-api/internal/types"
)

func (h *Handler) ListProblems(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "ListProblems")
	defer span.End()

	db := h.DB.WithContext(ctx)

	var problems []models.Problem
	err := db.Order("slug ASC").Find(&problems).Error
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list problems")
		return response.InternalServerError
	}

	views := make([]types.ProblemView, 0, len(problems))
	for _, problem := range problems {
		views = append(views, types.ProblemView{
			ProblemID: problem.ID.String(),
			Slug:      problem.Slug,
			Title:     problem.Title,
		})
	}

	span.SetAttributes(attribute.Int("problems", len(views)))
	span.RecordError(nil)
	span.SetStatus(codes.Ok, "listed problems")
	return c.JSON(http.StatusOK, views)
}

func (h *Handler) GetProblem(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "GetProblem")
	defer span.End()

	db := h.DB.WithContext(ctx)

	slug := c.Param("problem_slug")

	span.SetAttributes(attribute.String("slug", slug))

	problem, err := models.ProblemBySlug(ctx, db, slug)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			span.SetStatus(codes.Ok, "problem not found")
			return response.NotFoundError
		}

		span.SetStatus(codes.Error, "failed to fetch problem")
		return response.InternalServerError
	}

	var setups []models.ProblemSetup
	err = db.Preload("Language").Where("problem_id = ?", problem.ID).Find(&setups).Error
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch problem setups")
		return response.InternalServerError
	}

	languages := make([]string, 0, len(setups))
	for _, setup := range setups {
		if setup.Language != nil {
			languages = append(languages, setup.Language.Name)
		}
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "fetched problem")
	return c.JSON(http.StatusOK, types.ProblemView{
		ProblemID:   problem.ID.String(),
		Slug:        problem.Slug,
		Title:       problem.Title,
		Description: problem.Description,
		Languages:   languages,
	})
}

func (h *Handler) ListLanguages(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "ListLanguages")
	defer span.End()

	db := h.DB.WithContext(ctx)

	var languages []models.Language
	err := db.Order("name ASC").Find(&languages).Error
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list languages")
		return response.InternalServerError
	}

	views := make([]types.LanguageView, 0, len(languages))
	for _, language := range languages {
		views = append(views, types.LanguageView{
			LanguageID: language.ID.String(),
			Name:       language.Name,
			SandboxID:  language.SandboxID,
		})
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "listed languages")
	return c.JSON(http.StatusOK, views)
}
