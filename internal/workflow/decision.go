package workflow

import (
	"encoding/json"
	"strings"

	"github.com/mohammad-safakhou/autoposter/internal/linkedin"
)

// PostType names the kind of post a decision produces.
type PostType string

const (
	PostText  PostType = "text"
	PostURL   PostType = "url"
	PostImage PostType = "image"
)

// NormalizePostType maps anything outside the known set to text.
func NormalizePostType(s string) PostType {
	switch PostType(strings.ToLower(strings.TrimSpace(s))) {
	case PostURL:
		return PostURL
	case PostImage:
		return PostImage
	default:
		return PostText
	}
}

// Variant carries the fields specific to one post type.
type Variant interface {
	postType() PostType
}

type TextPost struct{}

type URLPost struct {
	URL         string
	Title       string
	Description string
}

type ImagePost struct {
	Prompt      string
	Title       string
	Description string
}

func (TextPost) postType() PostType  { return PostText }
func (URLPost) postType() PostType   { return PostURL }
func (ImagePost) postType() PostType { return PostImage }

// Decision is what to publish. A nil Variant is a text post.
type Decision struct {
	Text       string
	Visibility linkedin.Visibility
	Variant    Variant
}

// Type returns the post type of the decision.
func (d Decision) Type() PostType {
	if d.Variant == nil {
		return PostText
	}
	return d.Variant.postType()
}

// Actionable reports whether there is text to publish.
func (d Decision) Actionable() bool { return strings.TrimSpace(d.Text) != "" }

// AsText drops the variant, keeping text and visibility.
func (d Decision) AsText() Decision {
	return Decision{Text: d.Text, Visibility: d.Visibility, Variant: TextPost{}}
}

// wireDecision is the flat JSON shape exchanged with the model.
type wireDecision struct {
	PostType    string `json:"post_type"`
	Text        string `json:"text"`
	URL         string `json:"url,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	ImagePrompt string `json:"image_prompt,omitempty"`
	Visibility  string `json:"visibility"`
}

func normalizeVisibility(s string) linkedin.Visibility {
	if linkedin.Visibility(strings.ToUpper(strings.TrimSpace(s))) == linkedin.VisibilityConnections {
		return linkedin.VisibilityConnections
	}
	return linkedin.VisibilityPublic
}

func (w wireDecision) decision() Decision {
	d := Decision{Text: w.Text, Visibility: normalizeVisibility(w.Visibility)}
	switch NormalizePostType(w.PostType) {
	case PostURL:
		if strings.TrimSpace(w.URL) == "" {
			d.Variant = TextPost{}
			return d
		}
		d.Variant = URLPost{URL: strings.TrimSpace(w.URL), Title: w.Title, Description: w.Description}
	case PostImage:
		d.Variant = ImagePost{Prompt: w.ImagePrompt, Title: w.Title, Description: w.Description}
	default:
		d.Variant = TextPost{}
	}
	return d
}

func (d Decision) wire() wireDecision {
	w := wireDecision{PostType: string(d.Type()), Text: d.Text, Visibility: string(normalizeVisibility(string(d.Visibility)))}
	switch v := d.Variant.(type) {
	case URLPost:
		w.URL, w.Title, w.Description = v.URL, v.Title, v.Description
	case ImagePost:
		w.ImagePrompt, w.Title, w.Description = v.Prompt, v.Title, v.Description
	}
	return w
}

func (d Decision) MarshalJSON() ([]byte, error) { return json.Marshal(d.wire()) }

func (d *Decision) UnmarshalJSON(data []byte) error {
	var w wireDecision
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*d = w.decision()
	return nil
}
