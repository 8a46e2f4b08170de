package projector

import (
	"fmt"
	"strings"

	"github.com/roach88/threadsync/internal/ir"
)

// Outline renders a tree as indented text, one comment per line:
//
//	- 1@a Ann: "hello"
//	  - 2@b Bob: "hi" (edited)
//
// The rendering is stable, so it doubles as the golden-file format.
func Outline(tree []ir.ProjectedComment) string {
	if len(tree) == 0 {
		return "(empty)\n"
	}
	var b strings.Builder
	Walk(tree, func(c ir.ProjectedComment, depth int) bool {
		b.WriteString(strings.Repeat("  ", depth))
		fmt.Fprintf(&b, "- %s %s: %q", c.ID, c.Author.Name, c.Text)
		if c.Edited() {
			b.WriteString(" (edited)")
		}
		b.WriteByte('\n')
		return true
	})
	return b.String()
}
