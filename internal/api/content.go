package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"

	"github.com/TobiSchelling/tunedesk/internal/content"
)

// CreateContentFromFile uploads a file as multipart form data.
func (c *Client) CreateContentFromFile(ctx context.Context, projectID string, file content.FileUpload, metadata map[string]string) (content.Item, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("project_id", projectID); err != nil {
		return content.Item{}, fmt.Errorf("writing form: %w", err)
	}
	if len(metadata) > 0 {
		meta, err := json.Marshal(metadata)
		if err != nil {
			return content.Item{}, fmt.Errorf("marshaling metadata: %w", err)
		}
		if err := w.WriteField("metadata", string(meta)); err != nil {
			return content.Item{}, fmt.Errorf("writing form: %w", err)
		}
	}
	part, err := w.CreateFormFile("file", file.Name)
	if err != nil {
		return content.Item{}, fmt.Errorf("writing form: %w", err)
	}
	if _, err := io.Copy(part, file.Reader); err != nil {
		return content.Item{}, fmt.Errorf("reading %s: %w", file.Name, err)
	}
	if err := w.Close(); err != nil {
		return content.Item{}, fmt.Errorf("writing form: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/content/upload", &buf)
	if err != nil {
		return content.Item{}, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	var it content.Item
	if err := c.do(req, &it); err != nil {
		return content.Item{}, err
	}
	return it, nil
}

// CreateContentFromURL registers a YouTube video or website.
func (c *Client) CreateContentFromURL(ctx context.Context, in content.URLRequest) (content.Item, error) {
	var it content.Item
	if err := c.doJSON(ctx, http.MethodPost, "/content/url", in, &it); err != nil {
		return content.Item{}, err
	}
	return it, nil
}

// GetContent fetches one item.
func (c *Client) GetContent(ctx context.Context, id string) (content.Item, error) {
	var it content.Item
	if err := c.doJSON(ctx, http.MethodGet, "/content/"+url.PathEscape(id), nil, &it); err != nil {
		return content.Item{}, err
	}
	return it, nil
}

// ListContentByProject lists every item stored for a project.
func (c *Client) ListContentByProject(ctx context.Context, projectID string) ([]content.Item, error) {
	var items []content.Item
	if err := c.doJSON(ctx, http.MethodGet, "/projects/"+url.PathEscape(projectID)+"/content", nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// DeleteContent removes an item on the backend.
func (c *Client) DeleteContent(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/content/"+url.PathEscape(id), nil, nil)
}

// ScrapeWebsite asks the backend to extract a page's text.
func (c *Client) ScrapeWebsite(ctx context.Context, pageURL string) (content.Page, error) {
	var p content.Page
	in := map[string]string{"url": pageURL}
	if err := c.doJSON(ctx, http.MethodPost, "/scrape", in, &p); err != nil {
		return content.Page{}, err
	}
	return p, nil
}

var _ content.Backend = (*Client)(nil)
