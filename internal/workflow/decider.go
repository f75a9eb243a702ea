package workflow

import (
	"context"
	"fmt"
	"math/rand"
	"strings"

	"github.com/mohammad-safakhou/autoposter/internal/gateway"
	"github.com/mohammad-safakhou/autoposter/internal/linkedin"
	"github.com/mohammad-safakhou/autoposter/internal/logging"
)

const deciderSystemPrompt = "You are a LinkedIn content strategist. Analyze news content and existing posts to decide the best post type. Prefer an image post if you can create a relevant image_prompt from the news content."

const decisionSchema = `Return JSON:
{
    "post_type": "text" | "url" | "image",
    "text": "substantial post text content (can include URLs as strings)",
    "url": "url if post_type is url",
    "title": "title if post_type is url or image",
    "description": "description if post_type is url or image",
    "image_prompt": "prompt for image generation if post_type is image",
    "visibility": "PUBLIC" | "CONNECTIONS"
}`

const defaultFallbackText = "Exciting developments in the tech world! 🚀"

// Decider asks the decision model what to post and falls back to a
// deterministic decision built from the collected items.
type Decider struct {
	model       Model
	logger      logging.Logger
	trustedHost string
	intn        func(n int) int
}

func NewDecider(model Model, logger logging.Logger, trustedImageHost string) *Decider {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Decider{model: model, logger: logger, trustedHost: trustedImageHost, intn: rand.Intn}
}

func clip(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

func newsSummary(content CollectedContent) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "News Items Found: %d\nTop Items:\n", len(content.Items))
	for i, it := range content.Items {
		if i == 5 {
			break
		}
		title := it.Title
		if title == "" {
			title = "N/A"
		}
		fmt.Fprintf(&sb, "%d. %s\n", i+1, title)
		if it.Summary != "" {
			fmt.Fprintf(&sb, "   %s...\n", clip(it.Summary, 100))
		}
		if it.URL != "" {
			fmt.Fprintf(&sb, "   URL: %s\n", it.URL)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

func recentSummary(recent []PublishedPost) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Recent Posts: %d\n", len(recent))
	for i, p := range recent {
		if i == 3 {
			break
		}
		postType := p.PostType
		if postType == "" {
			postType = "unknown"
		}
		fmt.Fprintf(&sb, "%d. [%s] %s...\n", i+1, strings.ToUpper(postType), clip(p.PostText, 100))
		if p.ImageURL != "" {
			fmt.Fprintf(&sb, "   Image URL: %s\n", p.ImageURL)
		} else {
			sb.WriteString("   (No image)\n")
		}
		if p.URL != "" {
			fmt.Fprintf(&sb, "   Article URL: %s\n", p.URL)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

func decidePrompt(content CollectedContent, recent []PublishedPost) string {
	return fmt.Sprintf(`Decide what type of LinkedIn post to create based on news content and existing posts.

%s

%s

Guidelines:
- If the last 1-2 posts are images, consider switching to text or url post for variety
- For text and image posts, you can include URLs as strings in the text field
- Make the text content substantial and engaging (not short)
- Choose image_post only if you can create a relevant image_prompt

%s`, newsSummary(content), recentSummary(recent), decisionSchema)
}

// Decide returns the decision and where it came from (SourceModel or
// SourceFallback). It never fails.
func (d *Decider) Decide(ctx context.Context, content CollectedContent, recent []PublishedPost) (Decision, string) {
	parts := []gateway.ContentPart{gateway.TextPart(decidePrompt(content, recent))}
	for _, u := range selectImages(content.ImageURLs, recent, d.trustedHost) {
		parts = append(parts, gateway.ImagePart(u))
	}
	messages := []gateway.Message{
		gateway.System(deciderSystemPrompt),
		{Role: "user", Parts: parts},
	}

	resp, err := d.model.Complete(ctx, stepDecide, messages)
	if err == nil {
		decision, perr := ParseDecision(resp.Content)
		if perr == nil {
			return decision, SourceModel
		}
		err = perr
	}
	d.logger.WithError(err).Warn("decision model unusable, using fallback")
	return d.fallback(content), SourceFallback
}

func (d *Decider) fallback(content CollectedContent) Decision {
	decision := Decision{Text: defaultFallbackText, Visibility: linkedin.VisibilityPublic, Variant: TextPost{}}
	if len(content.Items) == 0 {
		return decision
	}
	top := content.Items
	if len(top) > 5 {
		top = top[:5]
	}
	item := top[d.intn(len(top))]
	summary := clip(item.Summary, 150)
	switch {
	case item.URL != "" && item.Title != "":
		decision.Text = fmt.Sprintf("%s\n\n%s...\n\nWhat are your thoughts? 💭", item.Title, summary)
		decision.Variant = URLPost{URL: item.URL, Title: item.Title, Description: summary}
	case item.Title != "":
		decision.Text = fmt.Sprintf("%s\n\n%s...\n\n#TechNews #AI", item.Title, summary)
	}
	return decision
}
