package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/mohammad-safakhou/autoposter/internal/gateway"
	"github.com/mohammad-safakhou/autoposter/internal/linkedin"
	"github.com/mohammad-safakhou/autoposter/internal/news"
)

type completeReply struct {
	content string
	err     error
}

// fakeModel replays scripted replies per call shape; once a script runs
// out the last reply repeats.
type fakeModel struct {
	mu         sync.Mutex
	completes  []completeReply
	toolCalls  []gateway.ToolCompletion
	toolErrs   []error
	image      gateway.Image
	imageErr   error
	steps      []string
	messages   [][]gateway.Message
	prompts    []string
	toolsCalls int
}

func (m *fakeModel) Complete(_ context.Context, step string, messages []gateway.Message) (gateway.Completion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = append(m.steps, step)
	m.messages = append(m.messages, messages)
	if len(m.completes) == 0 {
		return gateway.Completion{}, errors.New("no scripted completion")
	}
	r := m.completes[0]
	if len(m.completes) > 1 {
		m.completes = m.completes[1:]
	}
	return gateway.Completion{Content: r.content}, r.err
}

func (m *fakeModel) CallTools(_ context.Context, step, prompt string, _ []gateway.Tool) (gateway.ToolCompletion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.toolsCalls
	m.toolsCalls++
	m.steps = append(m.steps, step)
	m.prompts = append(m.prompts, prompt)
	if i < len(m.toolErrs) && m.toolErrs[i] != nil {
		return gateway.ToolCompletion{}, m.toolErrs[i]
	}
	if len(m.toolCalls) == 0 {
		return gateway.ToolCompletion{}, nil
	}
	if i >= len(m.toolCalls) {
		i = len(m.toolCalls) - 1
	}
	return m.toolCalls[i], nil
}

func (m *fakeModel) GenerateImage(_ context.Context, step, _ string) (gateway.Image, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = append(m.steps, step)
	return m.image, m.imageErr
}

func toolCall(name, args string) gateway.ToolCall {
	return gateway.ToolCall{ID: "call-" + name, Name: name, Arguments: args}
}

func calls(tc ...gateway.ToolCall) gateway.ToolCompletion {
	return gateway.ToolCompletion{ToolCalls: tc}
}

// fakeTools answers every known tool with results[name].
type fakeTools struct {
	mu      sync.Mutex
	results map[string]news.Result
	errs    map[string]error
	args    []string
}

func (f *fakeTools) Catalog() []gateway.Tool { return nil }

func (f *fakeTools) Invoke(_ context.Context, name string, args json.RawMessage) (news.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.args = append(f.args, string(args))
	if err := f.errs[name]; err != nil {
		return news.Result{}, err
	}
	res, ok := f.results[name]
	if !ok {
		return news.Result{}, fmt.Errorf("%w: %s", news.ErrUnknownTool, name)
	}
	return res, nil
}

func items(n int, prefix string) []news.Item {
	out := make([]news.Item, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, news.Item{
			ID:      fmt.Sprintf("%s-%d", prefix, i),
			Title:   fmt.Sprintf("%s title %d", prefix, i),
			Summary: fmt.Sprintf("%s summary %d", prefix, i),
			URL:     fmt.Sprintf("https://example.com/%s/%d", prefix, i),
			Source:  news.SourceReddit,
		})
	}
	return out
}

type postCall struct {
	kind string
	text string
	url  string
}

// fakePoster fails the first len(errs) create calls with the given errors.
type fakePoster struct {
	mu       sync.Mutex
	noToken  bool
	errs     []error
	calls    []postCall
	profile  linkedin.Profile
	infoErr  error
	imageErr error
}

func (p *fakePoster) HasCredentials() bool { return !p.noToken }

func (p *fakePoster) UserInfo(context.Context) (linkedin.Profile, error) {
	return p.profile, p.infoErr
}

func (p *fakePoster) next(c postCall) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, c)
	i := len(p.calls) - 1
	if i < len(p.errs) && p.errs[i] != nil {
		return "", p.errs[i]
	}
	return fmt.Sprintf("urn:li:share:%d", len(p.calls)), nil
}

func (p *fakePoster) CreateTextPost(_ context.Context, t linkedin.TextPost) (string, error) {
	return p.next(postCall{kind: "text", text: t.Text})
}

func (p *fakePoster) CreateURLPost(_ context.Context, u linkedin.URLPost) (string, error) {
	return p.next(postCall{kind: "url", text: u.Text, url: u.URL})
}

func (p *fakePoster) CreateImagePost(_ context.Context, m linkedin.MediaPost) (string, error) {
	if p.imageErr != nil {
		return "", p.imageErr
	}
	return p.next(postCall{kind: "image", text: m.Text})
}

type fakePosts struct {
	mu        sync.Mutex
	recent    []PublishedPost
	recentErr error
	insertErr error
	inserted  []PublishedPost
}

func (s *fakePosts) RecentPosts(context.Context, int) ([]PublishedPost, error) {
	return s.recent, s.recentErr
}

func (s *fakePosts) InsertPost(_ context.Context, p PublishedPost) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return s.insertErr
	}
	s.inserted = append(s.inserted, p)
	return nil
}

type fakeImages struct {
	url string
	err error
}

func (f *fakeImages) Upload(context.Context, []byte, string) (string, error) { return f.url, f.err }

var errDuplicate = &linkedin.APIError{Op: "create", Status: 422, Code: "DUPLICATE_POST", Message: "duplicate"}
