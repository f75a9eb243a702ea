package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ContentPart is one element of a multi-part message.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

type ImageURL struct {
	URL string `json:"url"`
}

// TextPart and ImagePart build content parts.
func TextPart(text string) ContentPart { return ContentPart{Type: "text", Text: text} }
func ImagePart(url string) ContentPart {
	return ContentPart{Type: "image_url", ImageURL: &ImageURL{URL: url}}
}

// Message is a chat message; Parts takes precedence over Content.
type Message struct {
	Role    string
	Content string
	Parts   []ContentPart
}

func (m Message) MarshalJSON() ([]byte, error) {
	if len(m.Parts) > 0 {
		return json.Marshal(struct {
			Role    string        `json:"role"`
			Content []ContentPart `json:"content"`
		}{m.Role, m.Parts})
	}
	return json.Marshal(struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}{m.Role, m.Content})
}

// System and User build plain-text messages.
func System(content string) Message { return Message{Role: "system", Content: content} }
func User(content string) Message   { return Message{Role: "user", Content: content} }

// Tool is a function the model may call.
type Tool struct {
	Type     string       `json:"type"`
	Function FunctionSpec `json:"function"`
}

type FunctionSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolCall is a model request to invoke a tool. Arguments is the raw JSON
// argument object, which may be malformed.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// Usage reports token accounting for one call.
type Usage struct {
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	TotalTokens      int64   `json:"total_tokens"`
	EstimatedCost    float64 `json:"estimated_cost"`
}

// Completion is a successful chat completion.
type Completion struct {
	Content   string
	Reasoning string
	Usage     Usage
}

// ToolCompletion is a successful tool-calling completion.
type ToolCompletion struct {
	Completion
	ToolCalls []ToolCall
}

// Image is a generated image.
type Image struct {
	Data        []byte
	ContentType string
}

// StatusError is returned for any non-200 response from the endpoint.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string { return fmt.Sprintf("Error %d: %s", e.Status, e.Body) }

var (
	ErrNoChoices  = errors.New("gateway: response has no choices")
	ErrEmptyImage = errors.New("gateway: image response has no data")
)
