package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const template = `__INPUT_PARSER__
__USER_CODE__
console.log(__FUNCTION_NAME__(parseInput(require("fs").readFileSync(0, "utf8"))));`

func TestBuild(t *testing.T) {
	t.Run("RendersAllPlaceholders", func(t *testing.T) {
		results, err := Build([]Context{
			{
				UserCode:        "X",
				HarnessTemplate: template,
				FunctionName:    "f",
				InputType:       "number",
				Input:           "42",
				ExpectedOutput:  "84",
			},
		})
		require.NoError(t, err, "failed to build harness")
		require.Len(t, results, 1)

		assert.Contains(t, results[0].Source, "X")
		assert.Contains(t, results[0].Source, "f(")
		assert.Contains(t, results[0].Source, "Number(raw.trim())")
		assert.NotContains(t, results[0].Source, PlaceholderUserCode)
		assert.NotContains(t, results[0].Source, PlaceholderFunctionName)
		assert.NotContains(t, results[0].Source, PlaceholderInputParser)
	})

	t.Run("CarriesTestCaseDataThrough", func(t *testing.T) {
		results, err := Build([]Context{
			{
				UserCode:        "const f = (n) => n",
				HarnessTemplate: template,
				FunctionName:    "f",
				InputType:       "number",
				Input:           "1 2 3",
				ExpectedOutput:  "6",
			},
		})
		require.NoError(t, err, "failed to build harness")
		require.Len(t, results, 1)

		assert.Equal(t, "1 2 3", results[0].Input)
		assert.Equal(t, "6", results[0].ExpectedOutput)
	})

	t.Run("ParserSnippetPerInputType", func(t *testing.T) {
		cases := map[string]string{
			"number":       "Number(raw.trim())",
			"array:number": "split(/\\s+/).map(Number)",
			"string":       "raw.trim();",
			"matrix:bool":  "(raw) => raw;",
			"":             "(raw) => raw;",
		}

		for inputType, want := range cases {
			results, err := Build([]Context{
				{
					UserCode:        "const f = (n) => n",
					HarnessTemplate: template,
					FunctionName:    "f",
					InputType:       inputType,
				},
			})
			require.NoError(t, err, "failed to build harness for input type %q", inputType)
			assert.Contains(t, results[0].Source, want, "wrong snippet for input type %q", inputType)
		}
	})

	t.Run("ShortCircuitsOnFirstInvalidContext", func(t *testing.T) {
		results, err := Build([]Context{
			{
				UserCode:        "const f = (n) => n",
				HarnessTemplate: template,
				FunctionName:    "f",
			},
			{
				UserCode:        "   ",
				HarnessTemplate: template,
				FunctionName:    "f",
			},
		})
		require.Error(t, err, "blank code must fail the whole batch")
		assert.Nil(t, results, "nothing should be rendered on validation failure")

		var validationErr *ValidationError
		require.ErrorAs(t, err, &validationErr)
		assert.Equal(t, 1, validationErr.Index)
		assert.Equal(t, "code", validationErr.Field)
	})

	t.Run("BlankFunctionName", func(t *testing.T) {
		_, err := Build([]Context{
			{
				UserCode:        "const f = (n) => n",
				HarnessTemplate: template,
				FunctionName:    "",
			},
		})

		var validationErr *ValidationError
		require.ErrorAs(t, err, &validationErr)
		assert.Equal(t, "function name", validationErr.Field)
	})

	t.Run("BlankTemplate", func(t *testing.T) {
		_, err := Build([]Context{
			{
				UserCode:     "const f = (n) => n",
				FunctionName: "f",
			},
		})

		var validationErr *ValidationError
		require.ErrorAs(t, err, &validationErr)
		assert.Equal(t, "harness template", validationErr.Field)
	})

	t.Run("EmptyBatch", func(t *testing.T) {
		results, err := Build(nil)
		require.NoError(t, err, "empty batch is valid")
		assert.Empty(t, results)
	})
}
