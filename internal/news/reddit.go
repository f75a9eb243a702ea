package news

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sort"
	"strings"

	"github.com/mohammad-safakhou/autoposter/config"
	"github.com/mohammad-safakhou/autoposter/internal/httpx"
)

const redditWebURL = "https://www.reddit.com"

// Reddit reads public subreddit listings.
type Reddit struct {
	http      *httpx.Client
	baseURL   string
	userAgent string
}

func NewReddit(cfg config.RedditConfig) *Reddit {
	base := cfg.BaseURL
	if base == "" {
		base = redditWebURL
	}
	return &Reddit{
		http:      httpx.New(httpx.Options{Timeout: cfg.Timeout, MaxRetries: 1}),
		baseURL:   strings.TrimRight(base, "/"),
		userAgent: cfg.UserAgent,
	}
}

type redditListing struct {
	Data struct {
		Children []struct {
			Data redditPost `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type redditPost struct {
	ID                  string  `json:"id"`
	Title               string  `json:"title"`
	Selftext            string  `json:"selftext"`
	Subreddit           string  `json:"subreddit"`
	Permalink           string  `json:"permalink"`
	URLOverriddenByDest string  `json:"url_overridden_by_dest"`
	Score               int     `json:"score"`
	NumComments         int     `json:"num_comments"`
	CreatedUTC          float64 `json:"created_utc"`
	Preview             struct {
		Images []struct {
			Source struct {
				URL string `json:"url"`
			} `json:"source"`
		} `json:"images"`
	} `json:"preview"`
}

// Fetch lists posts from subreddit, searching within it when query is set.
// limit is capped at 25.
func (r *Reddit) Fetch(ctx context.Context, subreddit, query string, limit int, sort string) ([]Item, error) {
	if subreddit == "" {
		subreddit = "technology"
	}
	if sort == "" {
		sort = "new"
	}
	if limit <= 0 {
		limit = 5
	}
	if limit > 25 {
		limit = 25
	}

	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	var endpoint string
	if query != "" {
		endpoint = fmt.Sprintf("%s/r/%s/search.json", r.baseURL, url.PathEscape(subreddit))
		params.Set("q", query)
		params.Set("sort", sort)
		params.Set("restrict_sr", "1")
	} else {
		endpoint = fmt.Sprintf("%s/r/%s/%s.json", r.baseURL, url.PathEscape(subreddit), url.PathEscape(sort))
	}

	resp, err := r.http.DoJSON(ctx, http.MethodGet, endpoint+"?"+params.Encode(), map[string]string{"User-Agent": r.userAgent}, nil)
	if err != nil {
		return nil, fmt.Errorf("reddit r/%s: %w", subreddit, err)
	}
	if !resp.OK() {
		return nil, fmt.Errorf("reddit r/%s: status %d", subreddit, resp.StatusCode)
	}
	var listing redditListing
	if err := resp.Decode(&listing); err != nil {
		return nil, fmt.Errorf("reddit r/%s: %w", subreddit, err)
	}

	items := make([]Item, 0, len(listing.Data.Children))
	for _, child := range listing.Data.Children {
		p := child.Data
		if !IsEnglish(p.Title + " " + p.Selftext) {
			continue
		}
		summary := CleanText(p.Title, 220)
		if p.Selftext != "" {
			summary = CleanText(p.Selftext, 220)
		}
		if summary == "" {
			summary = "No description provided."
		}
		sub := p.Subreddit
		if sub == "" {
			sub = subreddit
		}
		items = append(items, Item{
			ID:         p.ID,
			Title:      CleanText(p.Title, 120),
			Summary:    summary,
			URL:        redditWebURL + p.Permalink,
			ImageURL:   redditImage(p),
			Score:      p.Score,
			Comments:   p.NumComments,
			Source:     SourceReddit,
			Subreddit:  sub,
			CreatedUTC: p.CreatedUTC,
		})
	}
	return items, nil
}

func redditImage(p redditPost) string {
	if p.URLOverriddenByDest != "" {
		if hasImageExt(p.URLOverriddenByDest) {
			return p.URLOverriddenByDest
		}
		return ""
	}
	if len(p.Preview.Images) > 0 {
		return strings.ReplaceAll(p.Preview.Images[0].Source.URL, "&amp;", "&")
	}
	return ""
}

// Topic is a trending headline used to seed a run.
type Topic struct {
	Title     string `json:"title"`
	Score     int    `json:"score"`
	Subreddit string `json:"subreddit"`
	URL       string `json:"url"`
}

// TrendingTopics returns up to limit unique hot headlines across a fixed set
// of subreddits, highest score first. Subreddits that fail are skipped.
func (r *Reddit) TrendingTopics(ctx context.Context, limit int) ([]Topic, error) {
	if limit <= 0 {
		limit = 10
	}
	var posts []Item
	var lastErr error
	for _, sub := range []string{"technology", "programming", "worldnews", "science"} {
		items, err := r.Fetch(ctx, sub, "", 5, "hot")
		if err != nil {
			lastErr = err
			continue
		}
		posts = append(posts, items...)
	}
	if len(posts) == 0 && lastErr != nil {
		return nil, lastErr
	}
	sortByScore(posts)

	seen := make(map[string]struct{})
	topics := make([]Topic, 0, limit)
	for _, p := range posts {
		if p.Title == "" {
			continue
		}
		if _, ok := seen[p.Title]; ok {
			continue
		}
		seen[p.Title] = struct{}{}
		topics = append(topics, Topic{Title: p.Title, Score: p.Score, Subreddit: p.Subreddit, URL: p.URL})
		if len(topics) >= limit {
			break
		}
	}
	return topics, nil
}

func sortByScore(items []Item) {
	sort.SliceStable(items, func(i, j int) bool { return items[i].Score > items[j].Score })
}
