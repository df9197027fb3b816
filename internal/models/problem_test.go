package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderedCases(t *testing.T) {
	earlier := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	later := earlier.Add(time.Hour)

	firstSuite := uuid.New()
	secondSuite := uuid.New()

	setup := ProblemSetup{
		Suites: []TestSuite{
			{
				Model: Model{ID: secondSuite, CreatedAt: later},
				Cases: []TestCase{
					{TestSuiteID: secondSuite, Position: 1, Input: "d"},
					{TestSuiteID: secondSuite, Position: 0, Input: "c"},
				},
			},
			{
				Model: Model{ID: firstSuite, CreatedAt: earlier},
				Cases: []TestCase{
					{TestSuiteID: firstSuite, Position: 1, Input: "b"},
					{TestSuiteID: firstSuite, Position: 0, Input: "a"},
				},
			},
		},
	}

	cases := setup.OrderedCases()

	require.Len(t, cases, 4)
	inputs := make([]string, 0, len(cases))
	for _, testCase := range cases {
		inputs = append(inputs, testCase.Input)
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, inputs,
		"cases must order by suite creation then position")

	assert.Len(t, setup.Suites[0].Cases, 2, "input setup must not be reordered")
	assert.Equal(t, 1, setup.Suites[0].Cases[0].Position)
}

func TestOrderedCasesEmpty(t *testing.T) {
	setup := ProblemSetup{}
	assert.Empty(t, setup.OrderedCases())
}
