package workflow

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ToolInvocation is one tool call made during collection.
type ToolInvocation struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
	Items     int    `json:"items"`
	Err       string `json:"error,omitempty"`
}

// Decision sources.
const (
	SourceModel    = "model"
	SourceFallback = "fallback"
)

// RunSummary is the typed account of earlier stages handed to the refiner.
type RunSummary struct {
	Topic          string           `json:"topic"`
	Iterations     int              `json:"iterations"`
	ToolCalls      []ToolInvocation `json:"tool_calls"`
	ItemsCollected int              `json:"items_collected"`
	Decision       *Decision        `json:"decision,omitempty"`
	DecisionSource string           `json:"decision_source,omitempty"`
}

func (s *RunSummary) empty() bool {
	return s == nil || (s.Topic == "" && len(s.ToolCalls) == 0 && s.Decision == nil)
}

func preview(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}

// Narrative renders the summary for the refine prompt.
func (s *RunSummary) Narrative() string {
	if s.empty() {
		return "No previous context available."
	}
	var parts []string
	if len(s.ToolCalls) > 0 {
		parts = append(parts, "Step 1 - News Gathering:")
		for i, tc := range s.ToolCalls {
			if i == 3 {
				break
			}
			var args struct {
				Topic string `json:"topic"`
			}
			if json.Unmarshal([]byte(tc.Arguments), &args) == nil && args.Topic != "" {
				parts = append(parts, fmt.Sprintf("  - %s: %s", tc.Name, args.Topic))
			} else {
				parts = append(parts, fmt.Sprintf("  - %s: called", tc.Name))
			}
		}
		parts = append(parts, fmt.Sprintf("  Items collected: %d over %d iteration(s)", s.ItemsCollected, s.Iterations))
	}
	if s.Decision != nil {
		parts = append(parts, "\nStep 3 - Decision:")
		parts = append(parts, "  Post Type: "+string(s.Decision.Type()))
		if s.DecisionSource == SourceFallback {
			parts = append(parts, "  Source: fallback")
		}
		if s.Decision.Text != "" {
			parts = append(parts, "  Text: "+preview(s.Decision.Text, 150))
		}
		if img, ok := s.Decision.Variant.(ImagePost); ok && img.Prompt != "" {
			parts = append(parts, "  Image Prompt: "+preview(img.Prompt, 100))
		}
	}
	if s.Topic != "" {
		parts = append(parts, "\nNews Topics Researched: "+preview(strings.ReplaceAll(s.Topic, "\n", " "), 200))
	}
	return strings.Join(parts, "\n")
}
