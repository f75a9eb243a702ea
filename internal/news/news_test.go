package news

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mohammad-safakhou/autoposter/config"
)

func TestCleanText(t *testing.T) {
	cases := []struct {
		in   string
		max  int
		want string
	}{
		{"", 10, ""},
		{"  Go &amp; Rust\n\n  news ", 220, "Go & Rust news"},
		{"alpha beta gamma delta", 12, "alpha beta..."},
		{"supercalifragilistic", 5, "super..."},
		{"<p>Go <b>1.24</b> released<script>alert(1)</script></p>", 220, "Go 1.24 released"},
	}
	for _, tc := range cases {
		if got := CleanText(tc.in, tc.max); got != tc.want {
			t.Fatalf("CleanText(%q, %d) = %q, want %q", tc.in, tc.max, got, tc.want)
		}
	}
}

func TestIsEnglish(t *testing.T) {
	cases := map[string]bool{
		"short":                               false,
		"Go 1.24 ships with new iterators":    true,
		"Новости технологий сегодня и завтра": false,
		"!!!!!!!!!!!!!!!!!!!!":                false,
	}
	for in, want := range cases {
		if got := IsEnglish(in); got != want {
			t.Fatalf("IsEnglish(%q) = %v, want %v", in, got, want)
		}
	}
}

const redditListingJSON = `{"data":{"children":[
 {"data":{"id":"a1","title":"Go generics in practice","selftext":"","subreddit":"golang","permalink":"/r/golang/comments/a1/","url_overridden_by_dest":"https://i.redd.it/pic.png","score":50,"num_comments":3}},
 {"data":{"id":"a2","title":"Новости технологий сегодня","selftext":"","subreddit":"golang","permalink":"/r/golang/comments/a2/","score":99}},
 {"data":{"id":"a3","title":"Preview image post here","selftext":"Body text of the post","subreddit":"golang","permalink":"/r/golang/comments/a3/","score":70,
   "preview":{"images":[{"source":{"url":"https://preview.redd.it/x.jpg?width=640&amp;s=abc"}}]}}}
]}}`

func newRedditServer(t *testing.T, check func(r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			check(r)
		}
		_, _ = w.Write([]byte(redditListingJSON))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRedditFetchSearch(t *testing.T) {
	srv := newRedditServer(t, func(r *http.Request) {
		if r.URL.Path != "/r/golang/search.json" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("q") != "generics" || q.Get("restrict_sr") != "1" || q.Get("limit") != "25" || q.Get("sort") != "top" {
			t.Errorf("unexpected query %v", q)
		}
		if r.Header.Get("User-Agent") != "test-agent" {
			t.Errorf("missing user agent")
		}
	})
	reddit := NewReddit(config.RedditConfig{BaseURL: srv.URL, UserAgent: "test-agent"})

	items, err := reddit.Fetch(context.Background(), "golang", "generics", 100, "top")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected non-English post to be skipped, got %d items", len(items))
	}
	if items[0].ImageURL != "https://i.redd.it/pic.png" || items[0].URL != "https://www.reddit.com/r/golang/comments/a1/" {
		t.Fatalf("unexpected first item %+v", items[0])
	}
	if items[0].Summary != "Go generics in practice" || items[0].Source != SourceReddit {
		t.Fatalf("expected title as summary, got %+v", items[0])
	}
	if items[1].ImageURL != "https://preview.redd.it/x.jpg?width=640&s=abc" || items[1].Summary != "Body text of the post" {
		t.Fatalf("unexpected preview item %+v", items[1])
	}
}

func TestRedditFetchListing(t *testing.T) {
	srv := newRedditServer(t, func(r *http.Request) {
		if r.URL.Path != "/r/technology/new.json" || r.URL.Query().Get("limit") != "5" {
			t.Errorf("unexpected request %s?%s", r.URL.Path, r.URL.RawQuery)
		}
	})
	reddit := NewReddit(config.RedditConfig{BaseURL: srv.URL})
	if _, err := reddit.Fetch(context.Background(), "", "", 0, ""); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
}

func TestTrendingTopicsSortedAndUnique(t *testing.T) {
	srv := newRedditServer(t, nil)
	reddit := NewReddit(config.RedditConfig{BaseURL: srv.URL})
	topics, err := reddit.TrendingTopics(context.Background(), 5)
	if err != nil {
		t.Fatalf("TrendingTopics: %v", err)
	}
	if len(topics) != 2 {
		t.Fatalf("expected 2 unique titles, got %d", len(topics))
	}
	if topics[0].Title != "Preview image post here" || topics[0].Score != 70 {
		t.Fatalf("expected highest score first, got %+v", topics[0])
	}
}

func TestGNewsWithoutKey(t *testing.T) {
	g := NewGNews(config.GNewsConfig{})
	if _, err := g.TopHeadlines(context.Background(), "world", 5, "en"); !errors.Is(err, ErrNoAPIKey) {
		t.Fatalf("expected ErrNoAPIKey, got %v", err)
	}
}

func newGNewsServer(t *testing.T, searchStatus int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") != "k" {
			t.Errorf("missing token")
		}
		if strings.HasSuffix(r.URL.Path, "/search") && searchStatus != http.StatusOK {
			w.WriteHeader(searchStatus)
			return
		}
		topic := r.URL.Query().Get("topic")
		if topic == "" {
			topic = "search-" + r.URL.Query().Get("q")
		}
		fmt.Fprintf(w, `{"articles":[{"title":"Headline about %s today","description":"Details of the story","url":"https://news.example/%s","image":"https://news.example/%s.jpg","source":{"name":"Example"}}]}`, topic, topic, topic)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGNewsTopHeadlines(t *testing.T) {
	srv := newGNewsServer(t, http.StatusOK)
	g := NewGNews(config.GNewsConfig{BaseURL: srv.URL, APIKey: "k"})
	items, err := g.TopHeadlines(context.Background(), "science", 50, "")
	if err != nil {
		t.Fatalf("TopHeadlines: %v", err)
	}
	if len(items) != 1 || items[0].ID != "https://news.example/science" || items[0].Publisher != "Example" || items[0].Source != SourceGNews {
		t.Fatalf("unexpected items %+v", items)
	}
}

func TestToolboxInvoke(t *testing.T) {
	reddit := NewReddit(config.RedditConfig{BaseURL: newRedditServer(t, nil).URL})
	gnews := NewGNews(config.GNewsConfig{BaseURL: newGNewsServer(t, http.StatusInternalServerError).URL, APIKey: "k"})
	box := NewToolbox(reddit, gnews, nil)

	if _, err := box.Invoke(context.Background(), "launch_rockets", nil); !errors.Is(err, ErrUnknownTool) {
		t.Fatalf("expected ErrUnknownTool, got %v", err)
	}

	res, err := box.Invoke(context.Background(), ToolFetchReddit, json.RawMessage(`{"limit":"lots"}`))
	if err != nil {
		t.Fatalf("fetch_reddit with bad args: %v", err)
	}
	if res.Partitioned || len(res.Items) != 2 {
		t.Fatalf("expected generic items, got %+v", res)
	}

	res, err = box.Invoke(context.Background(), ToolDigDeeper, json.RawMessage(`{"topic":"go","max_results":3}`))
	if err != nil {
		t.Fatalf("dig_deeper_topic: %v", err)
	}
	if !res.Partitioned {
		t.Fatalf("expected partitioned result")
	}
	if len(res.Reddit) != 2 {
		t.Fatalf("expected reddit results deduped across subreddits, got %d", len(res.Reddit))
	}
	if len(res.GNews) != 1 || res.GNews[0].ID != "https://news.example/general" {
		t.Fatalf("expected fallback to general headlines, got %+v", res.GNews)
	}
	if all := res.All(); len(all) != 3 || all[2].Source != SourceGNews {
		t.Fatalf("unexpected merge order %+v", all)
	}
}

func TestWorldSnapshot(t *testing.T) {
	reddit := NewReddit(config.RedditConfig{BaseURL: newRedditServer(t, nil).URL})
	gnews := NewGNews(config.GNewsConfig{BaseURL: newGNewsServer(t, http.StatusOK).URL, APIKey: "k"})
	box := NewToolbox(reddit, gnews, nil)

	res := box.WorldSnapshot(context.Background(), []string{"tech", "science", "unknown"})
	if len(res.Reddit) != 2 || len(res.GNews) != 1 {
		t.Fatalf("unexpected snapshot %+v", res)
	}
	if len(box.Catalog()) != 4 {
		t.Fatalf("expected 4 tools in catalog")
	}
}

func TestCanonicalURL(t *testing.T) {
	cases := map[string]string{
		"HTTPS://News.Example:443/a/../tech/?utm_source=x&b=2&a=1#top": "https://news.example/tech/?a=1&b=2",
		"http://news.example:80/story?fbclid=abc":                      "http://news.example/story",
		"news.example/story":                                           "https://news.example/story",
		"https://news.example":                                         "https://news.example/",
		"":                                                             "",
	}
	for in, want := range cases {
		if got := CanonicalURL(in); got != want {
			t.Fatalf("CanonicalURL(%q) = %q, want %q", in, got, want)
		}
	}
}
