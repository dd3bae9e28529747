package xcode

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/tbarron/phaser/internal/types"
)

// diagnosticLine matches compiler diagnostics of the form
// /path/file.swift:12:5: error: message
var diagnosticLine = regexp.MustCompile(`^(.+?):(\d+):(\d+):\s*(error|warning):\s*(.+)$`)

// testCaseLine matches per-test result lines:
// Test Case '-[EngineTests testTranslate]' passed (0.001 seconds).
var testCaseLine = regexp.MustCompile(`Test Case '-\[(\w+)\s+(\w+)\]' (passed|failed)`)

// testFailureLine matches failure detail lines:
// /path/file.swift:42: error: -[EngineTests testTranslate] : XCTAssertEqual failed
var testFailureLine = regexp.MustCompile(`^(.+?):(\d+):\s*error:\s*-\[(\w+)\s+(\w+)\]\s*:\s*(.+)$`)

// testSummaryLine matches the run summary:
// Executed 12 tests, with 2 failures (0 unexpected) in 3.456 seconds
var testSummaryLine = regexp.MustCompile(`Executed (\d+) tests?, with (\d+) failures?`)

// ParseBuildOutput scans xcodebuild output for compiler diagnostics and
// splits them into errors and warnings. When the output mentions errors
// but no diagnostic line matched (linker failures, tool crashes), each
// line containing "error:" becomes a location-free error so the failure
// is never silently dropped.
func ParseBuildOutput(output string) (errors, warnings []types.BuildError) {
	for _, line := range strings.Split(output, "\n") {
		m := diagnosticLine.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		lineNum, _ := strconv.Atoi(m[2])
		colNum, _ := strconv.Atoi(m[3])
		e := types.BuildError{
			FilePath:  m[1],
			Line:      lineNum,
			Column:    colNum,
			ErrorType: m[4],
			Message:   m[5],
		}
		if m[4] == "error" {
			errors = append(errors, e)
		} else {
			warnings = append(warnings, e)
		}
	}

	if len(errors) == 0 && strings.Contains(strings.ToLower(output), "error:") {
		for _, line := range strings.Split(output, "\n") {
			if strings.Contains(strings.ToLower(line), "error:") {
				errors = append(errors, types.BuildError{
					Message:   strings.TrimSpace(line),
					ErrorType: "error",
				})
			}
		}
	}
	return errors, warnings
}

// ParseTestOutput extracts per-test results, failure details, and the run
// summary from xcodebuild test output. The summary line, when present,
// overrides counts tallied from individual result lines.
func ParseTestOutput(output string) (failures []types.TestFailure, total, passed, failed int) {
	for _, m := range testCaseLine.FindAllStringSubmatch(output, -1) {
		total++
		if m[3] == "passed" {
			passed++
		} else {
			failed++
		}
	}

	for _, line := range strings.Split(output, "\n") {
		m := testFailureLine.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		lineNum, _ := strconv.Atoi(m[2])
		failures = append(failures, types.TestFailure{
			FilePath:  m[1],
			Line:      lineNum,
			TestClass: m[3],
			TestName:  m[4],
			Message:   m[5],
		})
	}

	if m := testSummaryLine.FindStringSubmatch(output); m != nil {
		total, _ = strconv.Atoi(m[1])
		failed, _ = strconv.Atoi(m[2])
		passed = total - failed
	}
	return failures, total, passed, failed
}

// tailLines keeps the last n lines of command output for logs and results,
// so a megabyte of xcodebuild noise does not swamp the state files.
func tailLines(output string, n int) string {
	lines := strings.Split(output, "\n")
	if len(lines) <= n {
		return output
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}
