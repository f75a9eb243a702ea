package news

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/mohammad-safakhou/autoposter/config"
	"github.com/mohammad-safakhou/autoposter/internal/httpx"
)

// ErrNoAPIKey is returned when GNews is called without a token.
var ErrNoAPIKey = errors.New("gnews: api key not configured")

// GNews reads the gnews.io v4 API.
type GNews struct {
	http    *httpx.Client
	baseURL string
	apiKey  string
}

func NewGNews(cfg config.GNewsConfig) *GNews {
	base := cfg.BaseURL
	if base == "" {
		base = "https://gnews.io/api/v4"
	}
	return &GNews{
		http:    httpx.New(httpx.Options{Timeout: cfg.Timeout, MaxRetries: 1}),
		baseURL: strings.TrimRight(base, "/"),
		apiKey:  cfg.APIKey,
	}
}

// Enabled reports whether an API key is configured.
func (g *GNews) Enabled() bool { return g != nil && g.apiKey != "" }

type gnewsResponse struct {
	Articles []struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		URL         string `json:"url"`
		Image       string `json:"image"`
		PublishedAt string `json:"publishedAt"`
		Source      struct {
			Name string `json:"name"`
		} `json:"source"`
	} `json:"articles"`
}

// TopHeadlines returns headlines for topic; limit is capped at 10.
func (g *GNews) TopHeadlines(ctx context.Context, topic string, limit int, lang string) ([]Item, error) {
	if topic == "" {
		topic = "technology"
	}
	if limit <= 0 {
		limit = 5
	}
	if limit > 10 {
		limit = 10
	}
	params := url.Values{}
	params.Set("topic", topic)
	return g.get(ctx, "/top-headlines", params, limit, lang)
}

// Search runs a keyword search.
func (g *GNews) Search(ctx context.Context, query string, limit int, lang string) ([]Item, error) {
	if limit <= 0 {
		limit = 10
	}
	params := url.Values{}
	params.Set("q", query)
	return g.get(ctx, "/search", params, limit, lang)
}

func (g *GNews) get(ctx context.Context, path string, params url.Values, limit int, lang string) ([]Item, error) {
	if !g.Enabled() {
		return nil, ErrNoAPIKey
	}
	if lang == "" {
		lang = "en"
	}
	params.Set("lang", lang)
	params.Set("max", strconv.Itoa(limit))
	params.Set("token", g.apiKey)

	resp, err := g.http.DoJSON(ctx, http.MethodGet, g.baseURL+path+"?"+params.Encode(), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("gnews %s: %w", path, err)
	}
	if !resp.OK() {
		return nil, fmt.Errorf("gnews %s: status %d", path, resp.StatusCode)
	}
	var out gnewsResponse
	if err := resp.Decode(&out); err != nil {
		return nil, fmt.Errorf("gnews %s: %w", path, err)
	}

	items := make([]Item, 0, len(out.Articles))
	for _, a := range out.Articles {
		if !IsEnglish(a.Title + " " + a.Description) {
			continue
		}
		summary := CleanText(a.Description, 220)
		if summary == "" {
			summary = CleanText(a.Title, 220)
		}
		publisher := a.Source.Name
		if publisher == "" {
			publisher = "Unknown"
		}
		items = append(items, Item{
			ID:          CanonicalURL(a.URL),
			Title:       CleanText(a.Title, 120),
			Summary:     summary,
			URL:         a.URL,
			ImageURL:    a.Image,
			Source:      SourceGNews,
			Publisher:   publisher,
			PublishedAt: a.PublishedAt,
		})
	}
	return items, nil
}
