package scrape

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/TobiSchelling/tunedesk/internal/content"
)

const articleHTML = `<!DOCTYPE html>
<html><head><title>Fine tuning field notes</title></head>
<body>
<nav><a href="/">Home</a></nav>
<article>
<h1>Fine tuning field notes</h1>
<p>Collecting enough domain text is the single most important step before training a customer support model on your own tickets.</p>
<p>Most teams underestimate how much cleaning the raw exports need, especially when signatures and quoted replies are left in place.</p>
<p>Once the corpus is clean, splitting it into prompt and completion pairs becomes a mechanical exercise that scales well.</p>
</article>
<footer>Copyright</footer>
</body></html>`

func TestReadabilityScrape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("User-Agent"), "tunedesk/") {
			t.Errorf("unexpected user agent %q", r.Header.Get("User-Agent"))
		}
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(articleHTML))
	}))
	defer srv.Close()

	p, err := NewReadability(5*time.Second, nil).Scrape(context.Background(), srv.URL+"/notes")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(p.Title, "Fine tuning") {
		t.Errorf("unexpected title %q", p.Title)
	}
	text := strings.Join(p.Paragraphs, "\n")
	if !strings.Contains(text, "domain text") {
		t.Errorf("expected article text in paragraphs, got %q", text)
	}
	if p.Length() == 0 {
		t.Error("expected non-zero length")
	}
}

func TestReadabilityHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewReadability(0, nil).Scrape(context.Background(), srv.URL)
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.Code != http.StatusNotFound {
		t.Errorf("expected HTTPError 404, got %v", err)
	}
}

type fakeSource struct {
	page content.Page
	err  error
}

func (f fakeSource) ScrapeWebsite(context.Context, string) (content.Page, error) {
	return f.page, f.err
}

func TestBackendCleansParagraphs(t *testing.T) {
	src := fakeSource{page: content.Page{
		Title:      "  Pricing  ",
		Paragraphs: []string{"", "short", "  This paragraph   has plenty of words in it.  "},
	}}
	p, err := NewBackend(src, nil).Scrape(context.Background(), "https://example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Title != "Pricing" {
		t.Errorf("unexpected title %q", p.Title)
	}
	if len(p.Paragraphs) != 1 || p.Paragraphs[0] != "This paragraph has plenty of words in it." {
		t.Errorf("unexpected paragraphs %q", p.Paragraphs)
	}
}

func TestBackendPassesErrors(t *testing.T) {
	want := errors.New("boom")
	_, err := NewBackend(fakeSource{err: want}, nil).Scrape(context.Background(), "https://example.com")
	if !errors.Is(err, want) {
		t.Errorf("expected backend error, got %v", err)
	}
}

func TestNewModes(t *testing.T) {
	if s, err := New("", fakeSource{}, 0, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	} else if _, ok := s.(*Backend); !ok {
		t.Errorf("expected backend scraper by default, got %T", s)
	}
	if s, _ := New(ModeLocal, nil, 0, nil); s == nil {
		t.Error("expected local scraper")
	} else if _, ok := s.(*Readability); !ok {
		t.Errorf("expected readability scraper, got %T", s)
	}
	if _, err := New("selenium", nil, 0, nil); err == nil {
		t.Error("expected error for unknown mode")
	}
}

const rssDoc = `<?xml version="1.0"?>
<rss version="2.0"><channel><title>Blog</title>
<item><title>First</title><link>https://blog.example.com/first</link></item>
<item><title>Dup</title><link>https://blog.example.com/first</link></item>
<item><title>No link</title><guid isPermaLink="false">tag:1</guid></item>
<item><title>Second</title><link>https://blog.example.com/second</link></item>
<item><title>Third</title><link>https://blog.example.com/third</link></item>
</channel></rss>`

func TestParseFeed(t *testing.T) {
	entries, err := ParseFeed(rssDoc, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].URL != "https://blog.example.com/first" || entries[1].URL != "https://blog.example.com/second" {
		t.Errorf("unexpected entries %+v", entries)
	}

	all, _ := ParseFeed(rssDoc, 0)
	if len(all) != 3 {
		t.Errorf("expected 3 unique links, got %d", len(all))
	}
}

func TestFeedLinksOverHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(rssDoc))
	}))
	defer srv.Close()

	entries, err := FeedLinks(context.Background(), srv.URL, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 || entries[0].Title != "First" {
		t.Errorf("unexpected entries %+v", entries)
	}
}
