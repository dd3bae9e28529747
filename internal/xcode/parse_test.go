package xcode

import (
	"testing"
)

const buildOutputWithErrors = `CompileSwift normal arm64
/Users/dev/App/Sources/Translate/Engine.swift:42:13: error: cannot find type 'Gloss' in scope
/Users/dev/App/Sources/Translate/Engine.swift:50:9: warning: variable 'result' was never used
/Users/dev/App/Sources/Views/Main.swift:12:1: error: expected declaration
** BUILD FAILED **
`

func TestParseBuildOutput(t *testing.T) {
	errors, warnings := ParseBuildOutput(buildOutputWithErrors)
	if len(errors) != 2 {
		t.Fatalf("got %d errors, want 2", len(errors))
	}
	if len(warnings) != 1 {
		t.Fatalf("got %d warnings, want 1", len(warnings))
	}

	e := errors[0]
	if e.FilePath != "/Users/dev/App/Sources/Translate/Engine.swift" {
		t.Errorf("FilePath = %q", e.FilePath)
	}
	if e.Line != 42 || e.Column != 13 {
		t.Errorf("location = %d:%d, want 42:13", e.Line, e.Column)
	}
	if e.Message != "cannot find type 'Gloss' in scope" {
		t.Errorf("Message = %q", e.Message)
	}
	if warnings[0].ErrorType != "warning" {
		t.Errorf("warning ErrorType = %q", warnings[0].ErrorType)
	}
}

func TestParseBuildOutputCleanBuild(t *testing.T) {
	errors, warnings := ParseBuildOutput("CompileSwift normal arm64\n** BUILD SUCCEEDED **\n")
	if len(errors) != 0 || len(warnings) != 0 {
		t.Errorf("got %d errors %d warnings from clean output", len(errors), len(warnings))
	}
}

func TestParseBuildOutputLinkerFallback(t *testing.T) {
	output := "ld: error: undefined symbol _main\nclang: error: linker command failed with exit code 1\n"
	errors, _ := ParseBuildOutput(output)
	if len(errors) != 2 {
		t.Fatalf("got %d errors, want 2 from generic fallback", len(errors))
	}
	if errors[0].FilePath != "" || errors[0].Line != 0 {
		t.Errorf("fallback error has location: %+v", errors[0])
	}
}

const testOutput = `Test Suite 'EngineTests' started
Test Case '-[EngineTests testTranslate]' passed (0.002 seconds).
Test Case '-[EngineTests testEmptyInput]' failed (0.001 seconds).
/Users/dev/App/Tests/EngineTests.swift:33: error: -[EngineTests testEmptyInput] : XCTAssertEqual failed: ("") is not equal to ("hello")
Test Case '-[GlossTests testParse]' passed (0.001 seconds).
Executed 3 tests, with 1 failure (0 unexpected) in 0.004 seconds
`

func TestParseTestOutput(t *testing.T) {
	failures, total, passed, failed := ParseTestOutput(testOutput)
	if total != 3 || passed != 2 || failed != 1 {
		t.Errorf("counts = %d/%d/%d, want 3/2/1", total, passed, failed)
	}
	if len(failures) != 1 {
		t.Fatalf("got %d failure details, want 1", len(failures))
	}
	f := failures[0]
	if f.TestClass != "EngineTests" || f.TestName != "testEmptyInput" {
		t.Errorf("failure = %s.%s", f.TestClass, f.TestName)
	}
	if f.Line != 33 {
		t.Errorf("Line = %d, want 33", f.Line)
	}
}

func TestParseTestOutputSummaryOverridesTally(t *testing.T) {
	// Truncated output: only one result line survived but the summary says 10.
	output := "Test Case '-[EngineTests testA]' passed (0.001 seconds).\nExecuted 10 tests, with 4 failures (0 unexpected) in 1.2 seconds\n"
	_, total, passed, failed := ParseTestOutput(output)
	if total != 10 || passed != 6 || failed != 4 {
		t.Errorf("counts = %d/%d/%d, want 10/6/4", total, passed, failed)
	}
}

func TestTailLines(t *testing.T) {
	if got := tailLines("a\nb\nc", 5); got != "a\nb\nc" {
		t.Errorf("short output changed: %q", got)
	}
	if got := tailLines("a\nb\nc\nd", 2); got != "c\nd" {
		t.Errorf("tail = %q, want last two lines", got)
	}
}
