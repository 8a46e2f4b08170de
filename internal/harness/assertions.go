package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/threadsync/internal/projector"
)

// AssertionError describes a failed check with enough context to debug it
// without rerunning.
type AssertionError struct {
	Type     string
	Replica  string
	Expected string
	Actual   string
	Outline  string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s", e.Type)
	if e.Replica != "" {
		fmt.Fprintf(&buf, " on %s", e.Replica)
	}
	buf.WriteByte('\n')
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)
	if e.Outline != "" {
		fmt.Fprintf(&buf, "\nThread:\n%s", e.Outline)
	}
	return buf.String()
}

// EvaluateAssertions runs every assertion and returns the failure messages.
func EvaluateAssertions(h *Harness, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(h, a); err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

func evaluate(h *Harness, a Assertion) error {
	if a.Type == AssertConverged {
		return assertConverged(h)
	}
	targets := h.scenario.Replicas
	if a.Replica != "" {
		targets = []string{a.Replica}
	}
	for _, name := range targets {
		if err := evaluateOn(h, name, a); err != nil {
			return err
		}
	}
	return nil
}

func evaluateOn(h *Harness, name string, a Assertion) error {
	tree := h.members[name].doc.Project()
	fail := func(expected, actual string) error {
		return &AssertionError{
			Type:     a.Type,
			Replica:  name,
			Expected: expected,
			Actual:   actual,
			Outline:  h.Outline(name),
		}
	}

	switch a.Type {
	case AssertVisibleCount:
		if got := projector.Count(tree); got != a.Count {
			return fail(fmt.Sprintf("%d visible comments", a.Count), fmt.Sprintf("%d", got))
		}

	case AssertText:
		c, _, ok := projector.Find(tree, h.refs[a.Target])
		if !ok {
			return fail(fmt.Sprintf("%s with text %q", a.Target, a.Text), "not visible")
		}
		if c.Text != a.Text {
			return fail(fmt.Sprintf("%s with text %q", a.Target, a.Text), fmt.Sprintf("%q", c.Text))
		}

	case AssertVisible:
		if _, _, ok := projector.Find(tree, h.refs[a.Target]); !ok {
			return fail(a.Target+" visible", "not visible")
		}

	case AssertHidden:
		if _, _, ok := projector.Find(tree, h.refs[a.Target]); ok {
			return fail(a.Target+" hidden", "visible")
		}

	case AssertOrder:
		level := tree
		if a.Target != "" {
			c, _, ok := projector.Find(tree, h.refs[a.Target])
			if !ok {
				return fail(fmt.Sprintf("replies of %s in order %v", a.Target, a.Refs), a.Target+" not visible")
			}
			level = c.Replies
		}
		got := make([]string, len(level))
		for i, c := range level {
			got[i] = h.label(c.ID)
		}
		want := a.Refs
		if want == nil {
			want = []string{}
		}
		if !slices.Equal(got, want) {
			return fail(fmt.Sprintf("%v", want), fmt.Sprintf("%v", got))
		}

	case AssertUnread:
		got := len(h.members[name].service.Unread(a.User))
		if got != a.Count {
			return fail(fmt.Sprintf("%d unread for %s", a.Count, a.User), fmt.Sprintf("%d", got))
		}

	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}

// assertConverged requires identical state on every replica, hidden
// nodes and notifications included.
func assertConverged(h *Harness) error {
	names := h.scenario.Replicas
	first, err := h.members[names[0]].doc.Digest()
	if err != nil {
		return err
	}
	for _, name := range names[1:] {
		d, err := h.members[name].doc.Digest()
		if err != nil {
			return err
		}
		if d != first {
			return &AssertionError{
				Type:     AssertConverged,
				Replica:  name,
				Expected: fmt.Sprintf("state of %s:\n%s", names[0], h.Outline(names[0])),
				Actual:   "\n" + h.Outline(name),
			}
		}
	}
	return nil
}
