package news

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mohammad-safakhou/autoposter/internal/gateway"
	"github.com/mohammad-safakhou/autoposter/internal/logging"
)

// Tool names exposed to the model.
const (
	ToolFetchReddit   = "fetch_reddit"
	ToolFetchGNews    = "fetch_gnews"
	ToolDigDeeper     = "dig_deeper_topic"
	ToolWorldSnapshot = "get_world_snapshot"
)

// ErrUnknownTool is returned by Invoke for names outside the catalog.
var ErrUnknownTool = errors.New("news: unknown tool")

// Toolbox executes the news tools on behalf of the model.
type Toolbox struct {
	Reddit *Reddit
	GNews  *GNews
	Logger logging.Logger
}

func NewToolbox(reddit *Reddit, gnews *GNews, logger logging.Logger) *Toolbox {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Toolbox{Reddit: reddit, GNews: gnews, Logger: logger}
}

var catalog = []gateway.Tool{
	{Type: "function", Function: gateway.FunctionSpec{
		Name:        ToolFetchReddit,
		Description: "Fetch posts from a Reddit subreddit with an optional search query",
		Parameters: json.RawMessage(`{"type":"object","properties":{
			"subreddit":{"type":"string","description":"Subreddit name without r/ prefix (e.g. technology, programming, worldnews)","default":"technology"},
			"query":{"type":"string","description":"Optional search query to filter posts"},
			"limit":{"type":"integer","description":"Number of posts to fetch (max 25)","default":5},
			"sort":{"type":"string","enum":["new","hot","top","relevance"],"description":"Sort order for posts","default":"new"}
		},"required":[]}`),
	}},
	{Type: "function", Function: gateway.FunctionSpec{
		Name:        ToolFetchGNews,
		Description: "Fetch news articles from the GNews API by topic",
		Parameters: json.RawMessage(`{"type":"object","properties":{
			"topic":{"type":"string","description":"News topic (technology, world, business, sports, science, politics, general)","default":"technology"},
			"limit":{"type":"integer","description":"Number of articles to fetch (max 10)","default":5},
			"lang":{"type":"string","description":"Language code","default":"en"}
		},"required":[]}`),
	}},
	{Type: "function", Function: gateway.FunctionSpec{
		Name:        ToolDigDeeper,
		Description: "Deep dive into a topic across several subreddits and GNews search",
		Parameters: json.RawMessage(`{"type":"object","properties":{
			"topic":{"type":"string","description":"Topic to research (e.g. Python, AI, Elections)"},
			"max_results":{"type":"integer","description":"Maximum results per source","default":10}
		},"required":["topic"]}`),
	}},
	{Type: "function", Function: gateway.FunctionSpec{
		Name:        ToolWorldSnapshot,
		Description: "Get a combined news snapshot across categories",
		Parameters: json.RawMessage(`{"type":"object","properties":{
			"categories":{"type":"array","items":{"type":"string","enum":["tech","programming","webdev","machinelearning","world","politics","business","sports","science"]},"description":"Categories to include"}
		},"required":[]}`),
	}},
}

// Catalog returns the tool definitions offered to the model.
func (t *Toolbox) Catalog() []gateway.Tool {
	out := make([]gateway.Tool, len(catalog))
	copy(out, catalog)
	return out
}

type redditArgs struct {
	Subreddit string `json:"subreddit"`
	Query     string `json:"query"`
	Limit     int    `json:"limit"`
	Sort      string `json:"sort"`
}

type gnewsArgs struct {
	Topic string `json:"topic"`
	Limit int    `json:"limit"`
	Lang  string `json:"lang"`
}

type digArgs struct {
	Topic      string `json:"topic"`
	MaxResults int    `json:"max_results"`
}

type snapshotArgs struct {
	Categories []string `json:"categories"`
}

// decodeArgs fills v from raw; arguments that do not fit the tool's shape
// leave v at its zero value so defaults apply.
func decodeArgs(raw json.RawMessage, v any) {
	if len(raw) == 0 {
		return
	}
	_ = json.Unmarshal(raw, v)
}

// Invoke runs the named tool. Unknown names return ErrUnknownTool.
func (t *Toolbox) Invoke(ctx context.Context, name string, args json.RawMessage) (Result, error) {
	switch name {
	case ToolFetchReddit:
		var a redditArgs
		decodeArgs(args, &a)
		items, err := t.Reddit.Fetch(ctx, a.Subreddit, a.Query, a.Limit, a.Sort)
		if err != nil {
			return Result{}, err
		}
		return Result{Items: items}, nil
	case ToolFetchGNews:
		var a gnewsArgs
		decodeArgs(args, &a)
		items, err := t.GNews.TopHeadlines(ctx, a.Topic, a.Limit, a.Lang)
		if err != nil {
			return Result{}, err
		}
		return Result{Items: items}, nil
	case ToolDigDeeper:
		var a digArgs
		decodeArgs(args, &a)
		return t.DigDeeper(ctx, a.Topic, a.MaxResults), nil
	case ToolWorldSnapshot:
		var a snapshotArgs
		decodeArgs(args, &a)
		return t.WorldSnapshot(ctx, a.Categories), nil
	default:
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
}

var digSubreddits = []string{"technology", "programming", "worldnews", "news", "science"}

// DigDeeper searches several subreddits and GNews for topic. Source
// failures are logged and skipped.
func (t *Toolbox) DigDeeper(ctx context.Context, topic string, maxResults int) Result {
	if maxResults <= 0 {
		maxResults = 10
	}
	res := Result{Partitioned: true}

	seen := make(map[string]struct{})
	for _, sub := range digSubreddits {
		items, err := t.Reddit.Fetch(ctx, sub, topic, maxResults, "relevance")
		if err != nil {
			t.Logger.WithFields(logging.Fields{"subreddit": sub, "topic": topic}).WithError(err).Warn("reddit search failed")
			continue
		}
		for _, it := range items {
			if _, ok := seen[it.ID]; ok {
				continue
			}
			seen[it.ID] = struct{}{}
			res.Reddit = append(res.Reddit, it)
		}
	}
	if len(res.Reddit) > maxResults {
		res.Reddit = res.Reddit[:maxResults]
	}

	if !t.GNews.Enabled() {
		return res
	}
	items, err := t.GNews.Search(ctx, topic, maxResults, "en")
	if err != nil {
		t.Logger.WithField("topic", topic).WithError(err).Warn("gnews search failed, falling back to general headlines")
		items, err = t.GNews.TopHeadlines(ctx, "general", maxResults, "en")
		if err != nil {
			return res
		}
	}
	res.GNews = items
	return res
}

type redditSource struct{ subreddit, query string }

var (
	snapshotReddit = map[string]redditSource{
		"tech":            {"technology", "python OR AI OR programming OR tech"},
		"programming":     {"programming", "python OR javascript OR coding"},
		"webdev":          {"webdev", "react OR nextjs OR frontend"},
		"machinelearning": {"MachineLearning", "AI OR deep learning OR LLM"},
	}
	snapshotGNews = map[string]string{
		"world":    "world",
		"politics": "politics",
		"business": "business",
		"sports":   "sports",
		"science":  "science",
	}
	defaultSnapshot = []string{"tech", "programming", "world", "politics"}
)

// WorldSnapshot fetches five items for each category, in category order.
func (t *Toolbox) WorldSnapshot(ctx context.Context, categories []string) Result {
	if len(categories) == 0 {
		categories = defaultSnapshot
	}
	res := Result{Partitioned: true}
	for _, cat := range categories {
		if src, ok := snapshotReddit[cat]; ok {
			items, err := t.Reddit.Fetch(ctx, src.subreddit, src.query, 5, "new")
			if err != nil {
				t.Logger.WithField("category", cat).WithError(err).Warn("snapshot reddit fetch failed")
				continue
			}
			res.Reddit = append(res.Reddit, items...)
		} else if topic, ok := snapshotGNews[cat]; ok {
			items, err := t.GNews.TopHeadlines(ctx, topic, 5, "en")
			if err != nil {
				t.Logger.WithField("category", cat).WithError(err).Warn("snapshot gnews fetch failed")
				continue
			}
			res.GNews = append(res.GNews, items...)
		}
	}
	return res
}
