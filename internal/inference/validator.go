package inference

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidOutput means the engine's text did not contain a valid verdict
// object. One re-submission is allowed; a second failure is terminal.
var ErrInvalidOutput = errors.New("invalid engine output")

// Validator parses the engine's raw text into a Classification. It enforces
// shape only: suspicious normalized from Yes/No, description non-empty.
// Whether the description actually supports the flag is the engine's own
// self-consistency responsibility, not re-derived here.
type Validator struct{}

type rawVerdict struct {
	Suspicious  json.RawMessage `json:"suspicious"`
	Description string          `json:"description"`
}

// Validate parses raw strictly as a single structured verdict. RawText is
// always set on the returned Classification path; on error the caller keeps
// raw for diagnostics.
func (v Validator) Validate(raw string) (*Classification, error) {
	// Engines wrap the object in prose or code fences; take the outermost
	// braces.
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end <= start {
		return nil, fmt.Errorf("%w: no JSON object in response", ErrInvalidOutput)
	}

	dec := json.NewDecoder(strings.NewReader(raw[start : end+1]))
	dec.DisallowUnknownFields()

	var rv rawVerdict
	if err := dec.Decode(&rv); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOutput, err)
	}

	suspicious, err := normalizeSuspicious(rv.Suspicious)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(rv.Description) == "" {
		return nil, fmt.Errorf("%w: empty description", ErrInvalidOutput)
	}

	return &Classification{
		Suspicious:  suspicious,
		Description: rv.Description,
		RawText:     raw,
	}, nil
}

// normalizeSuspicious accepts a JSON bool or a Yes/No style string,
// case-insensitively.
func normalizeSuspicious(raw json.RawMessage) (bool, error) {
	if len(raw) == 0 {
		return false, fmt.Errorf("%w: missing suspicious field", ErrInvalidOutput)
	}

	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "yes", "true", "1":
			return true, nil
		case "no", "false", "0":
			return false, nil
		}
		return false, fmt.Errorf("%w: unrecognized suspicious value %q", ErrInvalidOutput, s)
	}

	return false, fmt.Errorf("%w: suspicious is neither bool nor string", ErrInvalidOutput)
}
