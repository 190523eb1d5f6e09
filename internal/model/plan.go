package model

import (
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"
	"time"
)

// StepStatus is the execution status of a single plan step.
type StepStatus string

// Step status constants.
const (
	StatusPending    StepStatus = "pending"
	StatusInProgress StepStatus = "in_progress"
	StatusCompleted  StepStatus = "completed"
	StatusBlocked    StepStatus = "blocked"
)

// Statuses lists every step status in lifecycle order.
var Statuses = []StepStatus{StatusPending, StatusInProgress, StatusCompleted, StatusBlocked}

// statusAliases maps normalized spellings accepted on input to a status.
var statusAliases = map[string]StepStatus{
	"pending":    StatusPending,
	"notstarted": StatusPending,
	"inprogress": StatusInProgress,
	"running":    StatusInProgress,
	"completed":  StatusCompleted,
	"complete":   StatusCompleted,
	"done":       StatusCompleted,
	"blocked":    StatusBlocked,
}

// ParseStepStatus parses a status string case-insensitively, ignoring
// underscores, hyphens and spaces ("in_progress", "InProgress", "in progress").
func ParseStepStatus(s string) (StepStatus, error) {
	key := strings.ToLower(s)
	key = strings.NewReplacer("_", "", "-", "", " ", "").Replace(key)
	st, ok := statusAliases[key]
	if !ok {
		return "", fmt.Errorf("%w: unknown step status %q", ErrInvalidArgument, s)
	}
	return st, nil
}

// Valid reports whether s is one of the defined step statuses.
func (s StepStatus) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusBlocked:
		return true
	}
	return false
}

// Active reports whether a step in this status still needs work.
func (s StepStatus) Active() bool {
	return s == StatusPending || s == StatusInProgress
}

// Step is a single unit of work within a plan.
type Step struct {
	Index        int        `json:"index"`
	Description  string     `json:"description"`
	Type         string     `json:"type,omitempty"`
	Status       StepStatus `json:"status"`
	Result       string     `json:"result"`
	IsBreakpoint bool       `json:"isBreakpoint"`
	StartedAt    *time.Time `json:"startedAt"`
	CompletedAt  *time.Time `json:"completedAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	// Metadata is caller-defined and stored verbatim.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Plan is an ordered, fixed-length sequence of steps produced by an upstream
// planner. Version increases by one on every stored mutation and orders
// durable snapshots; it is not part of the exported document.
type Plan struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Description     string    `json:"description,omitempty"`
	Steps           []Step    `json:"steps"`
	VisualGraphBlob string    `json:"visualGraphBlob"`
	// ExecutorKeys names the agents expected to carry out the steps. The
	// engine stores them and never dispatches to them.
	ExecutorKeys []string       `json:"executorKeys,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
	Version      int64          `json:"-"`
}

// Clone returns a deep copy of the plan. Timestamps behind pointers are
// copied so the clone shares no memory with p.
func (p *Plan) Clone() *Plan {
	if p == nil {
		return nil
	}
	c := *p
	c.ExecutorKeys = slices.Clone(p.ExecutorKeys)
	c.Metadata = CloneMetadata(p.Metadata)
	c.Steps = make([]Step, len(p.Steps))
	for i, s := range p.Steps {
		c.Steps[i] = s.clone()
	}
	return &c
}

func (s Step) clone() Step {
	if s.StartedAt != nil {
		t := *s.StartedAt
		s.StartedAt = &t
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		s.CompletedAt = &t
	}
	s.Metadata = CloneMetadata(s.Metadata)
	return s
}

// CloneMetadata deep-copies m. Nested JSON objects and arrays are copied;
// other values are shared, which is safe for the immutable scalars that
// encoding/json produces.
func CloneMetadata(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	c := maps.Clone(m)
	for k, v := range c {
		c[k] = cloneValue(v)
	}
	return c
}

func cloneValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		return CloneMetadata(v)
	case []any:
		c := make([]any, len(v))
		for i, e := range v {
			c[i] = cloneValue(e)
		}
		return c
	default:
		return v
	}
}

// Clone returns a deep copy of the step.
func (s *Step) Clone() *Step {
	if s == nil {
		return nil
	}
	c := s.clone()
	return &c
}

// stepTypeTag matches an upper-case tag such as "[CODE]" or "[WEB_SEARCH]"
// anywhere in a description.
var stepTypeTag = regexp.MustCompile(`\[([A-Z_]+)\]`)

// StepType returns the first type tag of a step description in lower case,
// or "" when the description carries none: "[CODE] write handler" is "code".
func StepType(description string) string {
	m := stepTypeTag.FindStringSubmatch(description)
	if m == nil {
		return ""
	}
	return strings.ToLower(m[1])
}

// NewSteps builds Pending steps for the given descriptions, indexed in order.
func NewSteps(descriptions []string, now time.Time) []Step {
	steps := make([]Step, len(descriptions))
	for i, d := range descriptions {
		steps[i] = Step{
			Index:       i,
			Description: d,
			Type:        StepType(d),
			Status:      StatusPending,
			UpdatedAt:   now,
		}
	}
	return steps
}
