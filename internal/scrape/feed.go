package scrape

import (
	"context"
	"fmt"
	"strings"

	"github.com/mmcdole/gofeed"
)

// FeedEntry is one linkable entry of an RSS or Atom feed.
type FeedEntry struct {
	URL   string
	Title string
}

// FeedLinks reads a feed and returns up to limit entry links, in feed order,
// without duplicates. A limit of zero or less means no limit.
func FeedLinks(ctx context.Context, feedURL string, limit int) ([]FeedEntry, error) {
	feed, err := gofeed.NewParser().ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("parsing feed %s: %w", feedURL, err)
	}
	return feedEntries(feed, limit), nil
}

// ParseFeed is FeedLinks for a feed document already in memory.
func ParseFeed(doc string, limit int) ([]FeedEntry, error) {
	feed, err := gofeed.NewParser().ParseString(doc)
	if err != nil {
		return nil, fmt.Errorf("parsing feed: %w", err)
	}
	return feedEntries(feed, limit), nil
}

func feedEntries(feed *gofeed.Feed, limit int) []FeedEntry {
	seen := make(map[string]struct{})
	var entries []FeedEntry
	for _, item := range feed.Items {
		if limit > 0 && len(entries) >= limit {
			break
		}
		link := strings.TrimSpace(item.Link)
		if link == "" {
			link = strings.TrimSpace(item.GUID)
		}
		if !strings.HasPrefix(link, "http://") && !strings.HasPrefix(link, "https://") {
			continue
		}
		if _, ok := seen[link]; ok {
			continue
		}
		seen[link] = struct{}{}
		entries = append(entries, FeedEntry{URL: link, Title: strings.TrimSpace(item.Title)})
	}
	return entries
}
