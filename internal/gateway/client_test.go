package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/mohammad-safakhou/autoposter/config"
	"github.com/mohammad-safakhou/autoposter/internal/trace"
)

type memorySink struct {
	mu   sync.Mutex
	recs []trace.CallRecord
}

func (m *memorySink) SaveModelCall(_ context.Context, rec trace.CallRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, rec)
	return nil
}

func newTestClient(t *testing.T, h http.HandlerFunc) (*Client, *memorySink) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	sink := &memorySink{}
	c := NewClient(config.LLMConfig{
		BaseURL: srv.URL,
		APIKey:  "secret",
		Models:  config.LLMModels{Decision: "decider", Tools: "tooler", Image: "painter"},
		Pricing: map[string]config.LLMPricing{"tooler": {CostPer1K: 1, CostPer1KOutput: 2}},
	}, sink, nil, nil)
	return c, sink
}

func TestCompleteSendsJSONObjectFormat(t *testing.T) {
	c, sink := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("missing bearer token")
		}
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["model"] != "decider" || req["stream"] != false {
			t.Errorf("unexpected request %v", req)
		}
		if rf, _ := req["response_format"].(map[string]any); rf["type"] != "json_object" {
			t.Errorf("missing json_object response format: %v", req["response_format"])
		}
		msgs := req["messages"].([]any)
		parts := msgs[1].(map[string]any)["content"].([]any)
		if parts[1].(map[string]any)["image_url"].(map[string]any)["url"] != "https://i.redd.it/a.png" {
			t.Errorf("image part not encoded: %v", parts)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{\"post_type\":\"text\"}","reasoning_content":"hmm"}}],"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15,"estimated_cost":0.002}}`))
	})

	rec := trace.NewRecorder("run-9")
	ctx := trace.WithRecorder(context.Background(), rec)
	res, err := c.Complete(ctx, "Step 3: Decide Post Type", []Message{
		System("strategist"),
		{Role: "user", Parts: []ContentPart{TextPart("decide"), ImagePart("https://i.redd.it/a.png")}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if res.Content != `{"post_type":"text"}` || res.Reasoning != "hmm" {
		t.Fatalf("unexpected completion %+v", res)
	}
	blocks := rec.Blocks()
	if len(blocks) != 1 || blocks[0].Step != "Step 3: Decide Post Type" || blocks[0].Reasoning != "hmm" {
		t.Fatalf("unexpected trace %+v", blocks)
	}
	if len(sink.recs) != 1 {
		t.Fatalf("expected one call record, got %d", len(sink.recs))
	}
	got := sink.recs[0]
	if got.RunID != "run-9" || got.Cost != 0.002 || got.TotalTokens != 15 || got.Model != "decider" || got.ID == "" {
		t.Fatalf("unexpected call record %+v", got)
	}
}

func TestCompleteNonOKBecomesStatusError(t *testing.T) {
	c, sink := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("bad model"))
	})
	rec := trace.NewRecorder("run-1")
	_, err := c.Complete(trace.WithRecorder(context.Background(), rec), "decide", []Message{User("x")})
	var se *StatusError
	if !errors.As(err, &se) || se.Status != http.StatusBadRequest {
		t.Fatalf("expected StatusError 400, got %v", err)
	}
	if err.Error() != "Error 400: bad model" {
		t.Fatalf("unexpected error text %q", err.Error())
	}
	if rec.Len() != 1 || rec.Blocks()[0].Err == "" {
		t.Fatalf("failure must still be traced")
	}
	if len(sink.recs) != 1 || sink.recs[0].Error == "" || sink.recs[0].TotalTokens != 0 {
		t.Fatalf("failure must still be persisted without usage: %+v", sink.recs)
	}
}

func TestCallToolsParsesToolCalls(t *testing.T) {
	c, sink := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["tool_choice"] != "auto" || req["model"] != "tooler" {
			t.Errorf("unexpected request %v", req)
		}
		if tools, _ := req["tools"].([]any); len(tools) != 1 {
			t.Errorf("expected one tool, got %v", req["tools"])
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":null,"tool_calls":[
			{"id":"c1","function":{"name":"fetch_reddit","arguments":"{\"subreddit\":\"golang\"}"}},
			{"id":"c2","function":{"name":"fetch_gnews","arguments":{"topic":"science"}}}
		]}}],"usage":{"prompt_tokens":1000,"completion_tokens":500}}`))
	})

	tools := []Tool{{Type: "function", Function: FunctionSpec{Name: "fetch_reddit", Parameters: json.RawMessage(`{"type":"object"}`)}}}
	res, err := c.CallTools(context.Background(), "Step 1: Gather News", "research go", tools)
	if err != nil {
		t.Fatalf("CallTools: %v", err)
	}
	if len(res.ToolCalls) != 2 {
		t.Fatalf("expected 2 tool calls, got %d", len(res.ToolCalls))
	}
	if res.ToolCalls[0].Arguments != `{"subreddit":"golang"}` || res.ToolCalls[1].Arguments != `{"topic":"science"}` {
		t.Fatalf("unexpected arguments %+v", res.ToolCalls)
	}
	if sink.recs[0].Cost != 2 {
		t.Fatalf("expected priced cost 2, got %v", sink.recs[0].Cost)
	}
	if !strings.Contains(sink.recs[0].Output, "fetch_reddit") {
		t.Fatalf("tool calls missing from output %q", sink.recs[0].Output)
	}
}

func TestGenerateImageDecodesPayload(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n0000")
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/images/generations" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req imageRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Prompt != "a robot" || req.Size != "1024x1024" || req.Model != "painter" || req.N != 1 {
			t.Errorf("unexpected image request %+v", req)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []map[string]string{{"b64_json": base64.StdEncoding.EncodeToString(png)}}})
	})
	img, err := c.GenerateImage(context.Background(), "Step 4: Generate Image", "a robot")
	if err != nil {
		t.Fatalf("GenerateImage: %v", err)
	}
	if string(img.Data) != string(png) || img.ContentType != "image/png" {
		t.Fatalf("unexpected image %q %s", img.Data, img.ContentType)
	}
}

func TestGenerateImageEmptyData(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[]}`))
	})
	if _, err := c.GenerateImage(context.Background(), "img", "x"); !errors.Is(err, ErrEmptyImage) {
		t.Fatalf("expected ErrEmptyImage, got %v", err)
	}
}
