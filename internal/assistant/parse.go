package assistant

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tbarron/phaser/internal/types"
)

// retryAfterPatterns pull a wait hint, in seconds, out of rate limit
// messages. Checked in order against the lowercased text.
var retryAfterPatterns = []*regexp.Regexp{
	regexp.MustCompile(`retry.?after[:\s]+(\d+)`),
	regexp.MustCompile(`wait[:\s]+(\d+)\s*second`),
	regexp.MustCompile(`(\d+)\s*seconds?\s*(?:before|until)`),
}

// ParseRetryAfter extracts a retry-after hint from an error message.
// Returns zero when no hint is present.
func ParseRetryAfter(text string) time.Duration {
	lower := strings.ToLower(text)
	for _, re := range retryAfterPatterns {
		if m := re.FindStringSubmatch(lower); m != nil {
			secs, err := strconv.Atoi(m[1])
			if err != nil {
				continue
			}
			return time.Duration(secs) * time.Second
		}
	}
	return 0
}

// fileMarker matches the ways the assistant labels a file in its markdown
// output: a heading, bold text, a "File:" prefix, or a bare backticked
// path. Each alternative captures the path in its own group.
var fileMarker = regexp.MustCompile(
	`(?m)(?:###\s+([\w/\-.]+\.(?:swift|md|yaml|json|txt|py)))` +
		`|(?:\*\*([\w/\-.]+\.(?:swift|md|yaml|json|txt|py))\*\*)` +
		`|(?:File:\s*([\w/\-.]+\.(?:swift|md|yaml|json|txt|py)))` +
		"|(?:`([\\w/\\-.]+\\.(?:swift|md|yaml|json|txt|py))`)",
)

// codeBlock matches the first fenced code block in a section, capturing its
// body. (?s) lets the body span lines.
var codeBlock = regexp.MustCompile("(?s)```(?:\\w+)?\n(.*?)```")

// ExtractFileChanges parses the assistant's markdown response into file
// changes. Each file marker is paired with the first fenced code block
// between it and the next marker; markers without a following block are
// dropped.
func ExtractFileChanges(response string) []types.FileChange {
	matches := fileMarker.FindAllStringSubmatchIndex(response, -1)
	if matches == nil {
		return nil
	}

	type marker struct {
		end  int
		path string
	}
	var markers []marker
	for _, m := range matches {
		// Groups 1..4 hold the path for whichever alternative matched.
		for g := 1; g <= 4; g++ {
			if m[2*g] >= 0 {
				markers = append(markers, marker{end: m[1], path: response[m[2*g]:m[2*g+1]]})
				break
			}
		}
	}

	var files []types.FileChange
	for i, mk := range markers {
		sectionEnd := len(response)
		if i+1 < len(markers) {
			sectionEnd = matches[i+1][0]
		}
		section := response[mk.end:sectionEnd]

		if cb := codeBlock.FindStringSubmatch(section); cb != nil {
			files = append(files, types.FileChange{
				Path:    mk.path,
				Content: strings.TrimSpace(cb[1]),
				Action:  "create",
			})
		}
	}
	return files
}
