package assistant

import (
	"fmt"
	"strings"

	"github.com/tbarron/phaser/internal/types"
)

// maxErrorsInPrompt caps how many errors a fix prompt lists; past this
// point the extra detail stops helping.
const maxErrorsInPrompt = 10

// BuildFixPrompt assembles a follow-up prompt asking the assistant to fix
// build errors from the previous attempt. The original prompt is embedded
// so the fix stays on task.
func BuildFixPrompt(originalPrompt string, errs []types.BuildError) string {
	lines := make([]string, 0, len(errs))
	for i, e := range errs {
		if i == maxErrorsInPrompt {
			break
		}
		lines = append(lines, "- "+e.String())
	}
	return fmt.Sprintf(`The previous code generation resulted in build errors. Please fix them.

## Build Errors
%s

## Instructions
1. Analyze each error carefully
2. Generate corrected code for the affected files
3. Make sure to provide complete file contents, not just snippets
4. Ensure all imports are included
5. Fix any syntax errors or type mismatches

## Original Request
%s

Please provide the corrected code files.`, strings.Join(lines, "\n"), originalPrompt)
}

// BuildTestFixPrompt assembles a follow-up prompt for failing tests.
func BuildTestFixPrompt(originalPrompt string, failures []types.TestFailure) string {
	lines := make([]string, 0, len(failures))
	for i, f := range failures {
		if i == maxErrorsInPrompt {
			break
		}
		lines = append(lines, "- "+f.String())
	}
	return fmt.Sprintf(`The previous code generation resulted in test failures. Please fix them.

## Test Failures
%s

## Instructions
1. Analyze each test failure
2. Fix the implementation code (not just the tests) if the logic is wrong
3. If tests are testing incorrect behavior, fix the tests
4. Provide complete corrected file contents
5. Ensure all edge cases are handled

## Original Request
%s

Please provide the corrected code files.`, strings.Join(lines, "\n"), originalPrompt)
}
