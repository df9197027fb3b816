// Package harness renders submitted user code into sandbox-ready source.
// Building is a pure string transformation; everything the sandbox needs
// beyond the rendered source travels alongside it untouched.
package harness

import (
	"fmt"
	"strings"
)

const (
	PlaceholderUserCode     = "__USER_CODE__"
	PlaceholderFunctionName = "__FUNCTION_NAME__"
	PlaceholderInputParser  = "__INPUT_PARSER__"
)

const (
	snippetNumber      = "const parseInput = (raw) => Number(raw.trim());"
	snippetNumberArray = "const parseInput = (raw) => raw.trim().split(/\\s+/).map(Number);"
	snippetString      = "const parseInput = (raw) => raw.trim();"
	snippetPassthrough = "const parseInput = (raw) => raw;"
)

// inputParserFor maps a declared input type to its parser snippet. Unknown
// type names fall back to verbatim passthrough so problem types not yet
// modeled here still execute.
func inputParserFor(inputType string) string {
	switch inputType {
	case "number":
		return snippetNumber
	case "array:number":
		return snippetNumberArray
	case "string":
		return snippetString
	default:
		return snippetPassthrough
	}
}

// Context is everything needed to render one test case's harness.
type Context struct {
	UserCode        string
	HarnessTemplate string
	FunctionName    string
	InputType       string
	Input           string
	ExpectedOutput  string
}

// Result is a rendered harness plus the test case data it was rendered for,
// so downstream code never re-fetches the test case.
type Result struct {
	Source         string
	Input          string
	ExpectedOutput string
}

// ValidationError reports the first context that failed pre-render checks.
type ValidationError struct {
	Field string
	Index int
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("harness context %d: %s must not be blank", e.Index, e.Field)
}

// Build renders a harness for every context. Validation short-circuits on the
// first invalid context and nothing is rendered in that case.
func Build(contexts []Context) ([]Result, error) {
	for i, context := range contexts {
		if err := validate(i, context); err != nil {
			return nil, err
		}
	}

	results := make([]Result, 0, len(contexts))
	for _, context := range contexts {
		results = append(results, Result{
			Source:         render(context),
			Input:          context.Input,
			ExpectedOutput: context.ExpectedOutput,
		})
	}

	return results, nil
}

func validate(index int, context Context) error {
	if strings.TrimSpace(context.UserCode) == "" {
		return &ValidationError{Field: "code", Index: index}
	}
	if strings.TrimSpace(context.FunctionName) == "" {
		return &ValidationError{Field: "function name", Index: index}
	}
	if strings.TrimSpace(context.HarnessTemplate) == "" {
		return &ValidationError{Field: "harness template", Index: index}
	}

	return nil
}

func render(context Context) string {
	replacer := strings.NewReplacer(
		PlaceholderUserCode, context.UserCode,
		PlaceholderFunctionName, context.FunctionName,
		PlaceholderInputParser, inputParserFor(context.InputType),
	)

	return replacer.Replace(context.HarnessTemplate)
}
