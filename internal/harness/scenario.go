package harness

import (
	"bytes"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/roach88/threadsync/internal/ir"
)

// Scenario is one convergence test.
type Scenario struct {
	// Name uniquely identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what the scenario checks.
	Description string `yaml:"description"`

	// Room defaults to the scenario name.
	Room string `yaml:"room,omitempty"`

	// Replicas lists the participating replicas. Names double as replica
	// IDs and decide the tie-break between equal sequence numbers.
	Replicas []string `yaml:"replicas"`

	// Users is the mention directory shared by every replica.
	Users []ir.Author `yaml:"users"`

	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one action on one replica, or on the room as a whole.
type Step struct {
	// Action is one of the Action* constants.
	Action string `yaml:"action"`

	// Replica runs the action. Not used by sync.
	Replica string `yaml:"replica,omitempty"`

	// As is the acting user's ID.
	As string `yaml:"as,omitempty"`

	Text string `yaml:"text,omitempty"`

	// Target is the ref of the comment acted on.
	Target string `yaml:"target,omitempty"`

	// Ref names the comment an add or reply creates.
	Ref string `yaml:"ref,omitempty"`

	// ExpectError makes the step pass only if it fails with this class:
	// unauthorized, not_found, empty_text or too_long.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// Step actions.
const (
	ActionAdd         = "add"
	ActionReply       = "reply"
	ActionEdit        = "edit"
	ActionDelete      = "delete"
	ActionMarkAllRead = "mark_all_read"
	ActionDisconnect  = "disconnect"
	ActionReconnect   = "reconnect"
	ActionSync        = "sync"
)

// Assertion checks the settled room.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Replica restricts the check to one replica. Empty checks all.
	Replica string `yaml:"replica,omitempty"`

	// Target is a comment ref (text, visible, hidden, order).
	Target string `yaml:"target,omitempty"`

	// Text is the expected text (text).
	Text string `yaml:"text,omitempty"`

	// Refs is the expected child order of Target, or of the top level
	// when Target is empty (order).
	Refs []string `yaml:"refs,omitempty"`

	// User is the recipient whose unread notifications are counted (unread).
	User string `yaml:"user,omitempty"`

	// Count is the expected number (visible_count, unread).
	Count int `yaml:"count,omitempty"`
}

// Assertion types.
const (
	AssertConverged    = "converged"
	AssertVisibleCount = "visible_count"
	AssertText         = "text"
	AssertVisible      = "visible"
	AssertHidden       = "hidden"
	AssertOrder        = "order"
	AssertUnread       = "unread"
)

var expectErrors = []string{"unauthorized", "not_found", "empty_text", "too_long"}

// LoadScenario reads and validates a scenario file. Unknown fields are
// rejected so typos do not silently skip checks.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Replicas) == 0 {
		return fmt.Errorf("replicas list is required and must be non-empty")
	}
	for i, name := range s.Replicas {
		if name == "" {
			return fmt.Errorf("replicas[%d]: name is required", i)
		}
		if slices.Contains(s.Replicas[:i], name) {
			return fmt.Errorf("replicas[%d]: duplicate replica %q", i, name)
		}
	}
	users := make(map[string]bool, len(s.Users))
	for i, u := range s.Users {
		if u.ID == "" || u.Name == "" {
			return fmt.Errorf("users[%d]: id and name are required", i)
		}
		users[u.ID] = true
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	refs := make(map[string]bool)
	for i, step := range s.Steps {
		if err := validateStep(s, i, step, users, refs); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(s, i, a, refs); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(s *Scenario, i int, step Step, users, refs map[string]bool) error {
	needsReplica := step.Action != ActionSync
	if needsReplica && !slices.Contains(s.Replicas, step.Replica) {
		return fmt.Errorf("steps[%d]: unknown replica %q", i, step.Replica)
	}
	if step.ExpectError != "" && !slices.Contains(expectErrors, step.ExpectError) {
		return fmt.Errorf("steps[%d]: unknown expect_error %q", i, step.ExpectError)
	}

	switch step.Action {
	case ActionAdd, ActionReply, ActionEdit, ActionDelete, ActionMarkAllRead:
		if !users[step.As] {
			return fmt.Errorf("steps[%d]: unknown user %q", i, step.As)
		}
	case ActionDisconnect, ActionReconnect, ActionSync:
		return nil
	default:
		return fmt.Errorf("steps[%d]: unknown action %q", i, step.Action)
	}

	switch step.Action {
	case ActionReply, ActionEdit, ActionDelete:
		if !refs[step.Target] {
			return fmt.Errorf("steps[%d]: target %q is not defined by an earlier step", i, step.Target)
		}
	}
	switch step.Action {
	case ActionAdd, ActionReply:
		if step.Ref == "" {
			return fmt.Errorf("steps[%d]: ref is required for %s", i, step.Action)
		}
		if refs[step.Ref] {
			return fmt.Errorf("steps[%d]: ref %q already defined", i, step.Ref)
		}
		refs[step.Ref] = true
	}
	return nil
}

func validateAssertion(s *Scenario, i int, a Assertion, refs map[string]bool) error {
	if a.Replica != "" && !slices.Contains(s.Replicas, a.Replica) {
		return fmt.Errorf("assertions[%d]: unknown replica %q", i, a.Replica)
	}
	switch a.Type {
	case AssertConverged, AssertVisibleCount:
	case AssertText, AssertVisible, AssertHidden:
		if !refs[a.Target] {
			return fmt.Errorf("assertions[%d]: unknown target %q", i, a.Target)
		}
	case AssertOrder:
		if a.Target != "" && !refs[a.Target] {
			return fmt.Errorf("assertions[%d]: unknown target %q", i, a.Target)
		}
		for _, ref := range a.Refs {
			if !refs[ref] {
				return fmt.Errorf("assertions[%d]: unknown ref %q", i, ref)
			}
		}
	case AssertUnread:
		if a.User == "" {
			return fmt.Errorf("assertions[%d]: user is required for unread", i)
		}
	case "":
		return fmt.Errorf("assertions[%d]: type is required", i)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", i, a.Type)
	}
	return nil
}
