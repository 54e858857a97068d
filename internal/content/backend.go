package content

import (
	"context"
	"io"
	"net/url"
	"path/filepath"
	"strings"
)

// FileUpload is a file handed to the backend for extraction.
type FileUpload struct {
	Name   string
	Size   int64
	Reader io.Reader
}

// URLRequest is the payload for creating content from a link.
type URLRequest struct {
	ProjectID   string `json:"project_id" validate:"required"`
	URL         string `json:"url" validate:"required,url"`
	Name        string `json:"name,omitempty"`
	Type        Type   `json:"type" validate:"required"`
	Description string `json:"description,omitempty"`
}

// Backend is the content part of the REST API.
type Backend interface {
	CreateContentFromFile(ctx context.Context, projectID string, file FileUpload, metadata map[string]string) (Item, error)
	CreateContentFromURL(ctx context.Context, req URLRequest) (Item, error)
	GetContent(ctx context.Context, id string) (Item, error)
	ListContentByProject(ctx context.Context, projectID string) ([]Item, error)
	DeleteContent(ctx context.Context, id string) error
}

// Page is the text scraped from a website.
type Page struct {
	Title      string   `json:"title"`
	Paragraphs []string `json:"paragraphs"`
}

// Length returns the number of characters across all paragraphs.
func (p Page) Length() int {
	n := 0
	for _, para := range p.Paragraphs {
		n += len([]rune(para))
	}
	return n
}

// Scraper extracts readable text from a web page.
type Scraper interface {
	Scrape(ctx context.Context, pageURL string) (Page, error)
}

// TypeForFile guesses the content type from a file name.
func TypeForFile(name string) Type {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return TypePDF
	case ".txt", ".md", ".markdown", ".csv", ".json", ".jsonl":
		return TypeText
	default:
		return TypeFile
	}
}

// IsYouTubeURL reports whether raw points at a YouTube video.
func IsYouTubeURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	host = strings.TrimPrefix(host, "m.")
	switch host {
	case "youtu.be":
		return strings.Trim(u.Path, "/") != ""
	case "youtube.com", "music.youtube.com":
		return u.Query().Get("v") != "" || strings.HasPrefix(u.Path, "/shorts/") || strings.HasPrefix(u.Path, "/embed/")
	}
	return false
}
