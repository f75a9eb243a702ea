package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// ErrNoDecision means the model reply held no usable decision.
	ErrNoDecision = errors.New("workflow: no decision in model reply")

	fenceJSON     = regexp.MustCompile("```json\\s*")
	fenceAny      = regexp.MustCompile("```\\s*")
	decisionBlock = regexp.MustCompile(`(?s)\{.*"post_type".*\}`)
)

// ParseDecision extracts a decision from a model reply: code fences are
// stripped, the widest {...} region mentioning post_type is decoded, and
// a decision with empty text is rejected.
func ParseDecision(reply string) (Decision, error) {
	s := strings.TrimSpace(reply)
	if s == "" {
		return Decision{}, ErrNoDecision
	}
	if strings.Contains(s, "```json") {
		s = fenceJSON.ReplaceAllString(s, "")
	}
	s = fenceAny.ReplaceAllString(s, "")
	if m := decisionBlock.FindString(s); m != "" {
		s = m
	}
	var d Decision
	if err := json.Unmarshal([]byte(s), &d); err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrNoDecision, err)
	}
	if !d.Actionable() {
		return Decision{}, fmt.Errorf("%w: empty text", ErrNoDecision)
	}
	return d, nil
}
