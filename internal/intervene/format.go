package intervene

import (
	"fmt"
	"strings"

	"github.com/tbarron/phaser/internal/types"
)

const ruleLine = "======================================================================"

// FormatMessage renders a boxed, human-readable remediation block for an
// intervention, optionally including up to five of the triggering errors.
func FormatMessage(iv *types.Intervention, errors []types.BuildError) string {
	var b strings.Builder

	b.WriteString("\n" + ruleLine + "\n")
	b.WriteString("  MANUAL INTERVENTION REQUIRED\n")
	b.WriteString(ruleLine + "\n\n")
	fmt.Fprintf(&b, "  Category: %s\n", iv.Category)
	fmt.Fprintf(&b, "  Issue: %s\n\n", iv.Title)
	fmt.Fprintf(&b, "  %s\n\n", iv.Description)

	if len(iv.AffectedFiles) > 0 {
		b.WriteString("  Affected files:\n")
		for i, f := range iv.AffectedFiles {
			if i == 5 {
				fmt.Fprintf(&b, "    ... and %d more\n", len(iv.AffectedFiles)-5)
				break
			}
			fmt.Fprintf(&b, "    - %s\n", f)
		}
		b.WriteString("\n")
	}

	b.WriteString("  Steps to fix:\n")
	for _, step := range iv.Steps {
		fmt.Fprintf(&b, "    %s\n", step)
	}

	if len(errors) > 0 {
		b.WriteString("\n  Error details:\n")
		for i, e := range errors {
			if i == 5 {
				break
			}
			loc := ""
			if e.FilePath != "" {
				loc = fmt.Sprintf("%s:%d", e.FilePath, e.Line)
			}
			msg := e.Message
			if len(msg) > 100 {
				msg = msg[:100]
			}
			fmt.Fprintf(&b, "    [%s] %s\n", loc, msg)
		}
	}

	b.WriteString("\n" + ruleLine + "\n")
	b.WriteString("  Run paused. Fix the issue and resume with:\n")
	b.WriteString("    phaser run\n")
	b.WriteString(ruleLine + "\n")

	return b.String()
}
