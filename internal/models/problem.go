package models

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/gorm"
)

type Problem struct {
	Slug        string `gorm:"uniqueIndex"`
	Title       string
	Description string
	Model
}

func (Problem) TableName() string {
	return "problem"
}

func (p Problem) GetID() uuid.UUID {
	return p.ID
}

// ProblemSetup is the read-only input to the execution pipeline: the harness
// template, the name of the function the user implements, and the test suites
// to run the rendered harness against.
type ProblemSetup struct {
	InitialCode     string
	HarnessTemplate string
	FunctionName    string
	Model
	ProblemID  uuid.UUID `gorm:"index"`
	LanguageID uuid.UUID
	Language   *Language
	Suites     []TestSuite `gorm:"foreignKey:ProblemSetupID"`
}

func (ProblemSetup) TableName() string {
	return "problem_setup"
}

func (s ProblemSetup) GetID() uuid.UUID {
	return s.ID
}

type TestSuite struct {
	Name string
	Model
	ProblemSetupID uuid.UUID  `gorm:"index"`
	Cases          []TestCase `gorm:"foreignKey:TestSuiteID"`
}

func (TestSuite) TableName() string {
	return "test_suite"
}

func (s TestSuite) GetID() uuid.UUID {
	return s.ID
}

type TestCase struct {
	InputType      string
	Input          string
	ExpectedOutput string
	Position       int
	Model
	TestSuiteID uuid.UUID `gorm:"index"`
}

func (TestCase) TableName() string {
	return "test_case"
}

func (c TestCase) GetID() uuid.UUID {
	return c.ID
}

// OrderedCases flattens the setup's suites into one deterministic test case
// list. The pipeline relies on this order to map sandbox tokens back to test
// cases positionally.
func (s *ProblemSetup) OrderedCases() []TestCase {
	suites := make([]TestSuite, len(s.Suites))
	copy(suites, s.Suites)

	sort.SliceStable(suites, func(i, j int) bool {
		return suites[i].CreatedAt.Before(suites[j].CreatedAt)
	})

	cases := make([]TestCase, 0)
	for _, suite := range suites {
		ordered := make([]TestCase, len(suite.Cases))
		copy(ordered, suite.Cases)

		sort.SliceStable(ordered, func(i, j int) bool {
			return ordered[i].Position < ordered[j].Position
		})

		cases = append(cases, ordered...)
	}

	return cases
}

// SetupByID returns a fully hydrated problem setup: language, suites, and
// cases are loaded eagerly so the pipeline never depends on lazy loading.
func SetupByID(ctx context.Context, db *gorm.DB, id uuid.UUID) (*ProblemSetup, error) {
	ctx, span := tracer.Start(ctx, "SetupByID")
	defer span.End()

	span.SetAttributes(attribute.String("id", id.String()))

	db = db.WithContext(ctx)

	var setup ProblemSetup
	err := db.
		Preload("Language").
		Preload("Suites").
		Preload("Suites.Cases").
		First(&setup, id).Error
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch hydrated problem setup")
		return nil, err
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "fetched hydrated problem setup")
	return &setup, nil
}

// SetupForProblem finds the problem's setup for one language.
func SetupForProblem(
	ctx context.Context,
	db *gorm.DB,
	problemID uuid.UUID,
	languageID uuid.UUID,
) (*ProblemSetup, error) {
	db = db.WithContext(ctx)

	var setup ProblemSetup
	err := db.
		Where("problem_id = ? AND language_id = ?", problemID, languageID).
		First(&setup).Error
	if err != nil {
		return nil, err
	}

	return &setup, nil
}

// ProblemBySlug fetches a problem by its url-safe slug.
func ProblemBySlug(ctx context.Context, db *gorm.DB, slug string) (*Problem, error) {
	ctx, span := tracer.Start(ctx, "ProblemBySlug")
	defer span.End()

	span.SetAttributes(attribute.String("slug", slug))

	db = db.WithContext(ctx)

	var problem Problem
	err := db.Where("slug = ?", slug).First(&problem).Error
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch problem by slug")
		return nil, err
	}

	return &problem, nil
}
