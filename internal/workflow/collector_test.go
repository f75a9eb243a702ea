package workflow

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/mohammad-safakhou/autoposter/internal/gateway"
	"github.com/mohammad-safakhou/autoposter/internal/news"
	"github.com/mohammad-safakhou/autoposter/internal/trace"
)

func contains(s, sub string) bool { return strings.Contains(s, sub) }

func TestCollectStopsAtMinItems(t *testing.T) {
	model := &fakeModel{toolCalls: []gateway.ToolCompletion{
		calls(toolCall(news.ToolFetchReddit, `{"subreddit":"golang"}`)),
	}}
	tools := &fakeTools{results: map[string]news.Result{
		news.ToolFetchReddit: {Items: items(3, "r")},
	}}
	c := NewCollector(model, tools, nil, nil, 5, 1, 20)
	summary := &RunSummary{}

	content, err := c.Collect(context.Background(), "Go", summary)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if model.toolsCalls != 1 {
		t.Fatalf("expected a single iteration, got %d", model.toolsCalls)
	}
	if len(content.Items) != 3 || summary.ItemsCollected != 3 || summary.Iterations != 1 {
		t.Fatalf("unexpected content=%d summary=%+v", len(content.Items), summary)
	}
	if len(summary.ToolCalls) != 1 || summary.ToolCalls[0].Items != 3 || summary.Topic != "Go" {
		t.Fatalf("unexpected tool calls %+v", summary.ToolCalls)
	}
	if !contains(model.prompts[0], "Research and gather comprehensive news content about: Go") {
		t.Fatalf("unexpected first prompt %q", model.prompts[0])
	}
}

func TestCollectBoundedByMaxIterations(t *testing.T) {
	model := &fakeModel{
		toolErrs:  []error{errors.New("Error 500: boom")},
		toolCalls: []gateway.ToolCompletion{calls(toolCall("not_a_tool", `{}`))},
	}
	tools := &fakeTools{results: map[string]news.Result{}}
	c := NewCollector(model, tools, nil, nil, 3, 1, 20)

	content, err := c.Collect(context.Background(), "quiet topic", nil)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if model.toolsCalls != 3 {
		t.Fatalf("expected 3 iterations, got %d", model.toolsCalls)
	}
	if len(content.Items) != 0 {
		t.Fatalf("expected no items, got %d", len(content.Items))
	}
	if !contains(model.prompts[1], "You've gathered 0 items so far about: quiet topic") {
		t.Fatalf("unexpected follow-up prompt %q", model.prompts[1])
	}
}

func TestCollectMalformedArgsAndToolErrors(t *testing.T) {
	model := &fakeModel{toolCalls: []gateway.ToolCompletion{
		calls(
			toolCall(news.ToolFetchGNews, `{"topic":`),
			toolCall(news.ToolDigDeeper, `{"topic":"rust"}`),
		),
	}}
	tools := &fakeTools{
		results: map[string]news.Result{
			news.ToolDigDeeper: {Partitioned: true, Reddit: items(1, "dr"), GNews: items(1, "dg")},
		},
		errs: map[string]error{news.ToolFetchGNews: news.ErrNoAPIKey},
	}
	rec := trace.NewRecorder("run-1")
	ctx := trace.WithRecorder(context.Background(), rec)
	summary := &RunSummary{}
	c := NewCollector(model, tools, nil, nil, 5, 1, 20)

	content, err := c.Collect(ctx, "rust", summary)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if tools.args[0] != "{}" {
		t.Fatalf("malformed args should become {}, got %q", tools.args[0])
	}
	if len(content.Reddit) != 1 || len(content.GNews) != 1 || len(content.Items) != 2 {
		t.Fatalf("unexpected partitions %+v", content)
	}
	if summary.ToolCalls[0].Err == "" || summary.ToolCalls[1].Items != 2 {
		t.Fatalf("unexpected summary %+v", summary.ToolCalls)
	}
	blocks := rec.Blocks()
	if len(blocks) != 2 || blocks[0].Err == "" || blocks[1].Output != "2 items" {
		t.Fatalf("unexpected trace %+v", blocks)
	}
}

func TestCollectDedupesAndTruncates(t *testing.T) {
	dup := items(15, "a")
	model := &fakeModel{toolCalls: []gateway.ToolCompletion{
		calls(toolCall(news.ToolFetchReddit, `{}`), toolCall(news.ToolWorldSnapshot, `{}`)),
	}}
	withImage := items(10, "b")
	withImage[0].ImageURL = "https://i.redd.it/x.png"
	tools := &fakeTools{results: map[string]news.Result{
		news.ToolFetchReddit:   {Items: dup},
		news.ToolWorldSnapshot: {Items: append(append([]news.Item{}, dup[:5]...), withImage...)},
	}}
	c := NewCollector(model, tools, nil, nil, 5, 1, 20)

	content, err := c.Collect(context.Background(), "x", nil)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(content.Items) != 20 {
		t.Fatalf("expected 20 items, got %d", len(content.Items))
	}
	if content.Items[0].ID != "a-0" || content.Items[15].ID != "b-0" {
		t.Fatalf("dedup should keep first occurrences in order: %s %s", content.Items[0].ID, content.Items[15].ID)
	}
	if len(content.ImageURLs) != 1 {
		t.Fatalf("expected image url collected, got %v", content.ImageURLs)
	}
}

func TestCollectCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := NewCollector(&fakeModel{}, &fakeTools{}, nil, nil, 5, 1, 20)
	if _, err := c.Collect(ctx, "x", nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
