package workflow

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/mohammad-safakhou/autoposter/config"
	"github.com/mohammad-safakhou/autoposter/internal/gateway"
	"github.com/mohammad-safakhou/autoposter/internal/news"
	"github.com/mohammad-safakhou/autoposter/internal/telemetry"
	"github.com/mohammad-safakhou/autoposter/internal/trace"
)

type fakeTopics struct {
	topics []news.Topic
	err    error
}

func (f fakeTopics) TrendingTopics(context.Context, int) ([]news.Topic, error) { return f.topics, f.err }

func newTestOrchestrator(t *testing.T, model *fakeModel, poster *fakePoster, posts *fakePosts, topics TopicSource) *Orchestrator {
	t.Helper()
	tools := &fakeTools{results: map[string]news.Result{
		news.ToolDigDeeper: {Partitioned: true, Reddit: items(3, "r"), GNews: items(2, "g")},
	}}
	if model.toolCalls == nil {
		model.toolCalls = []gateway.ToolCompletion{calls(toolCall(news.ToolDigDeeper, `{"topic":"ai"}`))}
	}
	return NewOrchestrator(config.WorkflowConfig{ImageSpoolDir: t.TempDir()}, Deps{
		Model:     model,
		Tools:     tools,
		Topics:    topics,
		Poster:    poster,
		Posts:     posts,
		Telemetry: telemetry.NewTelemetry(nil),
	})
}

func TestRunHappyPath(t *testing.T) {
	model := &fakeModel{completes: []completeReply{
		{content: `{"post_type":"url","text":"decided","url":"https://example.com/r/0","title":"T"}`},
		{content: `{"post_type":"url","text":"refined and longer","url":"https://example.com/r/0","title":"T"}`},
	}}
	poster := &fakePoster{}
	posts := &fakePosts{}
	o := newTestOrchestrator(t, model, poster, posts, nil)

	res, err := o.Run(context.Background(), RunRequest{RunID: "run-1", Topic: "AI", Trigger: TriggerManual})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.PostURN != "urn:li:share:1" || res.Decision.Text != "refined and longer" || res.Source != SourceModel {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(res.Content.Items) != 5 || res.Summary.ItemsCollected != 5 {
		t.Fatalf("unexpected content %d", len(res.Content.Items))
	}
	if len(posts.inserted) != 1 || posts.inserted[0].URL != "https://example.com/r/0" || posts.inserted[0].RunID != "run-1" {
		t.Fatalf("unexpected inserts %+v", posts.inserted)
	}
	if res.Trace == "" || len(res.Blocks) == 0 {
		t.Fatalf("expected trace to be captured")
	}
	want := []string{stepGather, stepDecide, stepRefine}
	for i, s := range want {
		if model.steps[i] != s {
			t.Fatalf("step %d: got %q want %q", i, model.steps[i], s)
		}
	}
}

func TestRunSummaryKeepsDecidedPost(t *testing.T) {
	model := &fakeModel{completes: []completeReply{
		{content: `{"post_type":"text","text":"stage three"}`},
		{content: `{"post_type":"text","text":"refined"}`},
	}}
	o := newTestOrchestrator(t, model, &fakePoster{}, &fakePosts{}, nil)

	res, err := o.Run(context.Background(), RunRequest{Topic: "AI"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Decision.Text != "refined" {
		t.Fatalf("expected refined decision to be published, got %q", res.Decision.Text)
	}
	if res.Summary.Decision == nil || res.Summary.Decision.Text != "stage three" || res.Summary.DecisionSource != SourceModel {
		t.Fatalf("summary should keep the decided post, got %+v", res.Summary.Decision)
	}
}

// chatReplies serves scripted /chat/completions bodies in order.
func chatReplies(t *testing.T, bodies ...string) (*httptest.Server, *int32) {
	t.Helper()
	var n int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		i := int(atomic.AddInt32(&n, 1)) - 1
		if r.URL.Path != "/chat/completions" || i >= len(bodies) {
			t.Errorf("unexpected call %d to %s", i+1, r.URL.Path)
			http.Error(w, "unexpected", http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(bodies[i]))
	}))
	t.Cleanup(srv.Close)
	return srv, &n
}

func TestRunRecordsOneBlockPerInvocation(t *testing.T) {
	srv, served := chatReplies(t,
		`{"choices":[{"message":{"content":"","tool_calls":[`+
			`{"id":"c1","function":{"name":"dig_deeper_topic","arguments":"{\"topic\":\"ai\"}"}},`+
			`{"id":"c2","function":{"name":"summon_unicorn","arguments":"{oops"}}]}}]}`,
		`{"choices":[{"message":{"content":"{\"post_type\":\"text\",\"text\":\"stage three\"}"}}]}`,
		`{"choices":[{"message":{"content":"{\"post_type\":\"text\",\"text\":\"refined\"}"}}]}`,
	)
	model := gateway.NewClient(config.LLMConfig{
		BaseURL: srv.URL,
		Models:  config.LLMModels{Decision: "decider", Tools: "tooler", Image: "painter"},
	}, nil, nil, nil)
	tools := &fakeTools{results: map[string]news.Result{
		news.ToolDigDeeper: {Partitioned: true, Reddit: items(3, "r"), GNews: items(2, "g")},
	}}
	poster := &fakePoster{}
	o := NewOrchestrator(config.WorkflowConfig{ImageSpoolDir: t.TempDir()}, Deps{
		Model:  model,
		Tools:  tools,
		Poster: poster,
		Posts:  &fakePosts{},
	})

	res, err := o.Run(context.Background(), RunRequest{RunID: "run-d", Topic: "AI"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := atomic.LoadInt32(served); got != 3 {
		t.Fatalf("expected 3 model calls, got %d", got)
	}

	want := []struct {
		kind   trace.Kind
		step   string
		action string
	}{
		{trace.KindModel, stepGather, ""},
		{trace.KindAction, stepGather, news.ToolDigDeeper},
		{trace.KindModel, stepDecide, ""},
		{trace.KindModel, stepRefine, ""},
		{trace.KindAction, stepTextPost, "create_text_post"},
		{trace.KindAction, stepSave, actionInsertPost},
	}
	if len(res.Blocks) != len(want) {
		t.Fatalf("expected %d blocks, got %d:\n%s", len(want), len(res.Blocks), res.Trace)
	}
	for i, w := range want {
		b := res.Blocks[i]
		if b.Kind != w.kind || b.Step != w.step || b.Action != w.action || b.Err != "" {
			t.Fatalf("block %d: got %+v want %+v", i, b, w)
		}
	}
	if len(poster.calls) != 1 || poster.calls[0].text != "refined" {
		t.Fatalf("unexpected posts %+v", poster.calls)
	}
}

func TestRunMissingCredentials(t *testing.T) {
	model := &fakeModel{}
	o := newTestOrchestrator(t, model, &fakePoster{noToken: true}, &fakePosts{}, nil)

	_, err := o.Run(context.Background(), RunRequest{Topic: "x"})
	if !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("expected ErrMissingCredentials, got %v", err)
	}
	if len(model.steps) != 0 {
		t.Fatalf("no model calls expected, got %v", model.steps)
	}
}

func TestRunPublishFailureIsStageError(t *testing.T) {
	model := &fakeModel{completes: []completeReply{{content: `{"post_type":"text","text":"t"}`}}}
	poster := &fakePoster{errs: []error{errDuplicate, errDuplicate}}
	posts := &fakePosts{}
	o := newTestOrchestrator(t, model, poster, posts, nil)

	res, err := o.Run(context.Background(), RunRequest{Topic: "x"})
	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != StagePublish || !errors.Is(err, ErrPublishFailed) {
		t.Fatalf("expected publish StageError, got %v", err)
	}
	if res == nil || res.Trace == "" || len(posts.inserted) != 0 {
		t.Fatalf("failed run should keep its trace and insert nothing")
	}
}

func TestRunDegradedStagesStillSucceed(t *testing.T) {
	model := &fakeModel{completes: []completeReply{{err: errors.New("Error 500: down")}}}
	poster := &fakePoster{}
	posts := &fakePosts{recentErr: errors.New("db down"), insertErr: errors.New("db down")}
	topics := fakeTopics{topics: []news.Topic{{Title: "Chips"}, {Title: "Rockets"}}}
	o := newTestOrchestrator(t, model, poster, posts, topics)

	res, err := o.Run(context.Background(), RunRequest{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Source != SourceFallback || res.PostURN == "" || res.PersistErr == "" {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Topic != "trending topics: Chips; Rockets" {
		t.Fatalf("unexpected topic %q", res.Topic)
	}
}

func TestResolveTopicDefaults(t *testing.T) {
	o := newTestOrchestrator(t, &fakeModel{}, &fakePoster{}, &fakePosts{}, fakeTopics{err: errors.New("reddit down")})
	if got := o.resolveTopic(context.Background(), ""); got != "technology" {
		t.Fatalf("expected technology default, got %q", got)
	}
	o.cfg.Topic = "Kubernetes"
	if got := o.resolveTopic(context.Background(), " "); got != "Kubernetes" {
		t.Fatalf("expected configured topic, got %q", got)
	}
}
