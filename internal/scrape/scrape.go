// Package scrape turns web pages into paragraphs of training text.
package scrape

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"

	"github.com/TobiSchelling/tunedesk/internal/content"
	"github.com/TobiSchelling/tunedesk/internal/logger"
)

const (
	ModeBackend = "backend"
	ModeLocal   = "local"

	userAgent    = "tunedesk/1.0 (dataset builder)"
	maxPageBytes = 8 << 20
	minParagraph = 20
)

// PageSource is the backend operation that scrapes a page server-side.
type PageSource interface {
	ScrapeWebsite(ctx context.Context, pageURL string) (content.Page, error)
}

// New returns the scraper selected by mode.
func New(mode string, src PageSource, timeout time.Duration, log *logger.Logger) (content.Scraper, error) {
	switch mode {
	case "", ModeBackend:
		return NewBackend(src, log), nil
	case ModeLocal:
		return NewReadability(timeout, log), nil
	}
	return nil, fmt.Errorf("unknown scrape mode %q", mode)
}

// Backend scrapes through the backend.
type Backend struct {
	src PageSource
	log *logger.Logger
}

// NewBackend creates a Backend scraper.
func NewBackend(src PageSource, log *logger.Logger) *Backend {
	if log == nil {
		log = logger.Nop()
	}
	return &Backend{src: src, log: log}
}

// Scrape implements content.Scraper.
func (b *Backend) Scrape(ctx context.Context, pageURL string) (content.Page, error) {
	p, err := b.src.ScrapeWebsite(ctx, pageURL)
	if err != nil {
		return content.Page{}, err
	}
	p.Title = strings.TrimSpace(p.Title)
	p.Paragraphs = cleanParagraphs(p.Paragraphs)
	b.log.Debug("scraped via backend", "url", pageURL, "paragraphs", len(p.Paragraphs))
	return p, nil
}

// Readability fetches pages directly and extracts the main text locally.
type Readability struct {
	client *http.Client
	log    *logger.Logger
}

// NewReadability creates a local scraper.
func NewReadability(timeout time.Duration, log *logger.Logger) *Readability {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Readability{
		log: log,
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
	}
}

// HTTPError is a page fetch that came back with an error status.
type HTTPError struct {
	Code int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("fetching page: %d %s", e.Code, http.StatusText(e.Code))
}

// Scrape implements content.Scraper.
func (r *Readability) Scrape(ctx context.Context, pageURL string) (content.Page, error) {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return content.Page{}, fmt.Errorf("parsing url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return content.Page{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return content.Page{}, fmt.Errorf("fetching page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return content.Page{}, &HTTPError{Code: resp.StatusCode}
	}

	article, err := readability.FromReader(io.LimitReader(resp.Body, maxPageBytes), parsed)
	if err != nil {
		return content.Page{}, fmt.Errorf("extracting text: %w", err)
	}

	p := content.Page{
		Title:      strings.TrimSpace(article.Title),
		Paragraphs: cleanParagraphs(strings.Split(article.TextContent, "\n")),
	}
	r.log.Debug("scraped locally", "url", pageURL, "paragraphs", len(p.Paragraphs), "characters", p.Length())
	return p, nil
}

// cleanParagraphs collapses whitespace and drops fragments too short to be prose.
func cleanParagraphs(in []string) []string {
	var out []string
	for _, p := range in {
		p = strings.Join(strings.Fields(p), " ")
		if len([]rune(p)) < minParagraph {
			continue
		}
		out = append(out, p)
	}
	return out
}
