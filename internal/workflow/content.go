package workflow

import "github.com/mohammad-safakhou/autoposter/internal/news"

// CollectedContent is the output of the collect stage.
type CollectedContent struct {
	Reddit    []news.Item `json:"reddit_items"`
	GNews     []news.Item `json:"gnews_items"`
	Items     []news.Item `json:"items"`
	ImageURLs []string    `json:"image_urls"`
}

// add merges a tool result. Generic items count only when the result
// carries neither partition.
func (c *CollectedContent) add(res news.Result) int {
	if res.Partitioned {
		c.Reddit = append(c.Reddit, res.Reddit...)
		c.GNews = append(c.GNews, res.GNews...)
	}
	all := res.All()
	c.appendItems(all)
	return len(all)
}

func (c *CollectedContent) appendItems(items []news.Item) {
	for _, it := range items {
		c.Items = append(c.Items, it)
		if it.ImageURL != "" {
			c.ImageURLs = append(c.ImageURLs, it.ImageURL)
		}
	}
}

// finalize deduplicates Items by key, first occurrence wins, and keeps at
// most max entries. Items without a key are dropped.
func (c *CollectedContent) finalize(max int) {
	seen := make(map[string]struct{}, len(c.Items))
	out := make([]news.Item, 0, len(c.Items))
	for _, it := range c.Items {
		key := it.Key()
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, it)
	}
	if max > 0 && len(out) > max {
		out = out[:max]
	}
	c.Items = out
}
