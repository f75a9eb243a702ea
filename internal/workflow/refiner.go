package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/autoposter/internal/gateway"
	"github.com/mohammad-safakhou/autoposter/internal/logging"
)

const refinerSystemPrompt = "You are a LinkedIn content enhancement expert. Your job is to refine and improve post decisions to make them more engaging and effective."

// Refiner runs a second model pass over a decision.
type Refiner struct {
	model  Model
	logger logging.Logger
}

func NewRefiner(model Model, logger logging.Logger) *Refiner {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Refiner{model: model, logger: logger}
}

func itemsPreview(content CollectedContent) string {
	if len(content.Items) == 0 {
		return ""
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "\n\nNews Items Gathered (%d items):\n", len(content.Items))
	for i, it := range content.Items {
		if i == 5 {
			break
		}
		title := it.Title
		if title == "" {
			title = "N/A"
		}
		fmt.Fprintf(&sb, "%d. %s...\n", i+1, clip(title, 80))
	}
	if n := len(content.Items) - 5; n > 0 {
		fmt.Fprintf(&sb, "... and %d more items\n", n)
	}
	return sb.String()
}

func refinePrompt(decision Decision, content CollectedContent, summary *RunSummary) string {
	current, _ := json.MarshalIndent(decision, "", "  ")
	return fmt.Sprintf(`Refine and enhance this LinkedIn post decision. Make it the best possible version.

Workflow Journey & Context:
%s%s

Current Decision to Enhance:
%s

Enhancement Guidelines:
- For image posts: Create a highly detailed, vivid image_prompt that will generate an engaging visual
- Make the post text substantial, descriptive, and engaging (at least 3-4 sentences, not short)
- Ensure title and description are compelling and informative
- Keep the same post_type unless there's a strong reason to change
- Make URLs in text more natural if included

Return enhanced JSON in this exact format:
{
    "post_type": "text" | "url" | "image",
    "text": "enhanced substantial post text (make it bigger and more descriptive)",
    "url": "url if post_type is url",
    "title": "enhanced title if post_type is url or image",
    "description": "enhanced description if post_type is url or image",
    "image_prompt": "highly detailed vivid image prompt if post_type is image",
    "visibility": "PUBLIC" | "CONNECTIONS"
}`, summary.Narrative(), itemsPreview(content), current)
}

// Refine returns an improved decision, or decision itself when the model
// call fails or its reply cannot be used.
func (r *Refiner) Refine(ctx context.Context, decision Decision, content CollectedContent, summary *RunSummary) Decision {
	messages := []gateway.Message{
		gateway.System(refinerSystemPrompt),
		gateway.User(refinePrompt(decision, content, summary)),
	}
	resp, err := r.model.Complete(ctx, stepRefine, messages)
	if err != nil {
		r.logger.WithError(err).Warn("refine call failed, keeping original decision")
		return decision
	}
	refined, err := ParseDecision(resp.Content)
	if err != nil {
		r.logger.WithError(err).Warn("refine reply unusable, keeping original decision")
		return decision
	}
	return refined
}
