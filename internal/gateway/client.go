package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mohammad-safakhou/autoposter/config"
	"github.com/mohammad-safakhou/autoposter/internal/httpx"
	"github.com/mohammad-safakhou/autoposter/internal/logging"
	"github.com/mohammad-safakhou/autoposter/internal/telemetry"
	"github.com/mohammad-safakhou/autoposter/internal/trace"
)

const toolSystemPrompt = "You are a helpful assistant that can call tools to gather information. Use the available tools when they help answer the request."

// Client talks to an OpenAI-compatible inference endpoint. Every call is
// recorded on the run's trace.Recorder and persisted through the CallSink.
type Client struct {
	http      *httpx.Client
	baseURL   string
	apiKey    string
	models    config.LLMModels
	imageSize string
	pricing   map[string]config.LLMPricing

	sink   trace.CallSink
	tele   *telemetry.Telemetry
	logger logging.Logger
	now    func() time.Time
}

// NewClient builds a gateway client. sink and tele may be nil.
func NewClient(cfg config.LLMConfig, sink trace.CallSink, tele *telemetry.Telemetry, logger logging.Logger) *Client {
	if logger == nil {
		logger = logging.Discard()
	}
	size := cfg.ImageSize
	if size == "" {
		size = "1024x1024"
	}
	return &Client{
		http: httpx.New(httpx.Options{
			Timeout:    cfg.Timeout,
			MaxRetries: cfg.MaxRetries,
			BaseDelay:  cfg.RetryBackoff,
		}),
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:    cfg.APIKey,
		models:    cfg.Models,
		imageSize: size,
		pricing:   cfg.Pricing,
		sink:      sink,
		tele:      tele,
		logger:    logger,
		now:       time.Now,
	}
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Stream         bool            `json:"stream"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
	Tools          []Tool          `json:"tools,omitempty"`
	ToolChoice     string          `json:"tool_choice,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
			ToolCalls        []struct {
				ID       string `json:"id"`
				Function struct {
					Name      string          `json:"name"`
					Arguments json.RawMessage `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

type imageRequest struct {
	Prompt string `json:"prompt"`
	Size   string `json:"size"`
	Model  string `json:"model"`
	N      int    `json:"n"`
}

type imageResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
	} `json:"data"`
	Usage Usage `json:"usage"`
}

func (c *Client) headers() map[string]string {
	h := map[string]string{"Content-Type": "application/json"}
	if c.apiKey != "" {
		h["Authorization"] = "Bearer " + c.apiKey
	}
	return h
}

// post sends body and decodes a 200 response into out.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	resp, err := c.http.DoJSON(ctx, http.MethodPost, c.baseURL+path, c.headers(), body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return &StatusError{Status: resp.StatusCode, Body: string(resp.Body)}
	}
	return resp.Decode(out)
}

// Complete runs a structured-output (json_object) chat completion.
func (c *Client) Complete(ctx context.Context, step string, messages []Message) (Completion, error) {
	start := c.now()
	model := c.models.Decision
	input := encodeInput(messages)

	var out chatResponse
	err := c.post(ctx, "/chat/completions", chatRequest{
		Model:          model,
		Messages:       messages,
		ResponseFormat: &responseFormat{Type: "json_object"},
	}, &out)
	if err == nil && len(out.Choices) == 0 {
		err = ErrNoChoices
	}
	if err != nil {
		c.fail(ctx, step, model, input, start, err)
		return Completion{}, err
	}

	msg := out.Choices[0].Message
	res := Completion{Content: msg.Content, Reasoning: msg.ReasoningContent, Usage: out.Usage}
	c.succeed(ctx, step, model, input, res.Reasoning, res.Content, res.Usage, start)
	return res, nil
}

// CallTools asks the tool model to pick zero or more tools for prompt.
func (c *Client) CallTools(ctx context.Context, step, prompt string, tools []Tool) (ToolCompletion, error) {
	start := c.now()
	model := c.models.Tools
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		names = append(names, t.Function.Name)
	}
	input := encodeInput(map[string]any{"prompt": prompt, "tools": names})

	var out chatResponse
	err := c.post(ctx, "/chat/completions", chatRequest{
		Model:      model,
		Messages:   []Message{System(toolSystemPrompt), User(prompt)},
		Tools:      tools,
		ToolChoice: "auto",
	}, &out)
	if err == nil && len(out.Choices) == 0 {
		err = ErrNoChoices
	}
	if err != nil {
		c.fail(ctx, step, model, input, start, err)
		return ToolCompletion{}, err
	}

	msg := out.Choices[0].Message
	res := ToolCompletion{Completion: Completion{Content: msg.Content, Reasoning: msg.ReasoningContent, Usage: out.Usage}}
	for _, tc := range msg.ToolCalls {
		res.ToolCalls = append(res.ToolCalls, ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: rawArguments(tc.Function.Arguments)})
	}
	c.succeed(ctx, step, model, input, res.Reasoning, describeToolOutput(res), res.Usage, start)
	return res, nil
}

// GenerateImage returns the decoded image bytes for prompt.
func (c *Client) GenerateImage(ctx context.Context, step, prompt string) (Image, error) {
	start := c.now()
	model := c.models.Image
	input := encodeInput(map[string]string{"prompt": prompt, "size": c.imageSize})

	var out imageResponse
	err := c.post(ctx, "/images/generations", imageRequest{Prompt: prompt, Size: c.imageSize, Model: model, N: 1}, &out)
	var data []byte
	if err == nil {
		if len(out.Data) == 0 || out.Data[0].B64JSON == "" {
			err = ErrEmptyImage
		} else if data, err = base64.StdEncoding.DecodeString(out.Data[0].B64JSON); err != nil {
			err = fmt.Errorf("decode image: %w", err)
		}
	}
	if err != nil {
		c.fail(ctx, step, model, input, start, err)
		return Image{}, err
	}

	img := Image{Data: data, ContentType: http.DetectContentType(data)}
	c.succeed(ctx, step, model, input, "", fmt.Sprintf("generated image (%s, %d bytes)", img.ContentType, len(data)), out.Usage, start)
	return img, nil
}

func (c *Client) succeed(ctx context.Context, step, model, input, reasoning, output string, usage Usage, start time.Time) {
	rec := trace.FromContext(ctx)
	rec.RecordModel(step, input, reasoning, output)

	cost := c.cost(model, usage)
	total := usage.TotalTokens
	if total == 0 {
		total = usage.PromptTokens + usage.CompletionTokens
	}
	dur := c.now().Sub(start)
	c.tele.RecordModelCall(telemetry.ModelCallEvent{
		Step: step, Model: model, Success: true, Duration: dur,
		InputTokens: usage.PromptTokens, OutputTokens: usage.CompletionTokens, Cost: cost,
	})
	c.save(ctx, trace.CallRecord{
		RunID: rec.RunID(), StepName: step, Model: model, Input: input, Output: output,
		InputTokens: usage.PromptTokens, OutputTokens: usage.CompletionTokens, TotalTokens: total,
		Cost: cost, Duration: dur,
	})
}

func (c *Client) fail(ctx context.Context, step, model, input string, start time.Time, err error) {
	rec := trace.FromContext(ctx)
	rec.RecordModelError(step, input, err)

	dur := c.now().Sub(start)
	c.tele.RecordModelCall(telemetry.ModelCallEvent{Step: step, Model: model, Duration: dur})
	c.logger.WithFields(logging.Fields{"run_id": rec.RunID(), "step": step, "model": model}).WithError(err).Warn("model call failed")
	c.save(ctx, trace.CallRecord{
		RunID: rec.RunID(), StepName: step, Model: model, Input: input, Error: err.Error(), Duration: dur,
	})
}

// save persists the call record; failures never affect the caller.
func (c *Client) save(ctx context.Context, rec trace.CallRecord) {
	if c.sink == nil {
		return
	}
	rec.ID = uuid.NewString()
	rec.CreatedAt = c.now().UTC()
	if err := c.sink.SaveModelCall(ctx, rec); err != nil {
		c.logger.WithFields(logging.Fields{"run_id": rec.RunID, "step": rec.StepName}).WithError(err).Warn("persist model call")
	}
}

// cost prefers the endpoint's own estimate and falls back to configured pricing.
func (c *Client) cost(model string, usage Usage) float64 {
	if usage.EstimatedCost > 0 {
		return usage.EstimatedCost
	}
	p, ok := c.pricing[model]
	if !ok {
		return 0
	}
	return float64(usage.PromptTokens)/1000.0*p.CostPer1K + float64(usage.CompletionTokens)/1000.0*p.CostPer1KOutput
}

func encodeInput(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// rawArguments accepts both the string-encoded arguments of the OpenAI
// wire format and providers that send a bare JSON object.
func rawArguments(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	return string(raw)
}

func describeToolOutput(res ToolCompletion) string {
	if len(res.ToolCalls) == 0 {
		return res.Content
	}
	calls := make([]string, 0, len(res.ToolCalls))
	for _, tc := range res.ToolCalls {
		calls = append(calls, tc.Name+"("+tc.Arguments+")")
	}
	out := "tool_calls: " + strings.Join(calls, ", ")
	if res.Content != "" {
		out = res.Content + "\n" + out
	}
	return out
}
