package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/seantiz/stepwise/internal/model"
)

// Encode renders p as an indented JSON plan document.
func Encode(p *model.Plan) ([]byte, error) {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode plan: %w", err)
	}
	return data, nil
}

// Decode parses a JSON plan document and validates it. Malformed or invalid
// documents yield an error wrapping model.ErrInvalidFormat.
func Decode(data []byte) (*model.Plan, error) {
	dec := json.NewDecoder(bytes.NewReader(data))

	var p model.Plan
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("%w: decode plan: %v", model.ErrInvalidFormat, err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data after plan document", model.ErrInvalidFormat)
	}

	if err := Validate(&p); err != nil {
		return nil, err
	}
	for i := range p.Steps {
		if p.Steps[i].Type == "" {
			p.Steps[i].Type = model.StepType(p.Steps[i].Description)
		}
	}
	return &p, nil
}

// Validate checks the structural invariants of a decoded plan: a title, at
// least one step, steps indexed by position, and known statuses.
func Validate(p *model.Plan) error {
	if strings.TrimSpace(p.Title) == "" {
		return fmt.Errorf("%w: plan title is empty", model.ErrInvalidFormat)
	}
	if len(p.Steps) == 0 {
		return fmt.Errorf("%w: plan has no steps", model.ErrInvalidFormat)
	}
	for i, s := range p.Steps {
		if s.Index != i {
			return fmt.Errorf("%w: step at position %d has index %d", model.ErrInvalidFormat, i, s.Index)
		}
		if !s.Status.Valid() {
			return fmt.Errorf("%w: step %d has unknown status %q", model.ErrInvalidFormat, i, s.Status)
		}
	}
	return nil
}
