package api

import (
	"context"
	"net/http"
	"net/url"
	"time"
)

// KeyVerification is the backend's verdict on a provider API key.
type KeyVerification struct {
	Valid   bool   `json:"valid"`
	Credits *int   `json:"credits"`
	Message string `json:"message"`
}

// Usage is the account's character consumption.
type Usage struct {
	FreeCharactersRemaining int `json:"free_characters_remaining"`
	TotalCharactersUsed     int `json:"total_characters_used"`
}

// Pricing is the server-side price list.
type Pricing struct {
	PricePerCharacter float64 `json:"price_per_character"`
	FreeCharacters    int     `json:"free_characters"`
}

// SystemPrompt is what the backend generates from a purpose statement.
type SystemPrompt struct {
	SystemContent            string `json:"system_content"`
	Category                 string `json:"category"`
	MinCharactersRecommended int    `json:"min_characters_recommended"`
}

// DatasetStatus is the processing state of a dataset.
type DatasetStatus string

const (
	DatasetProcessing DatasetStatus = "processing"
	DatasetReady      DatasetStatus = "ready"
	DatasetError      DatasetStatus = "error"
)

// Dataset is training data built from selected content.
type Dataset struct {
	ID           string        `json:"id"`
	ProjectID    string        `json:"project_id,omitempty"`
	Name         string        `json:"name,omitempty"`
	Status       DatasetStatus `json:"status"`
	ContentIDs   []string      `json:"content_ids,omitempty"`
	ExampleCount int           `json:"example_count,omitempty"`
	Error        string        `json:"error,omitempty"`
	CreatedAt    *time.Time    `json:"created_at,omitempty"`
}

// DatasetRequest is the payload for creating a dataset.
type DatasetRequest struct {
	ProjectID    string   `json:"project_id" validate:"required"`
	Name         string   `json:"name,omitempty"`
	ContentIDs   []string `json:"content_ids" validate:"required,min=1"`
	SystemPrompt string   `json:"system_prompt,omitempty"`
}

// JobStatus is the state of a fine-tuning job.
type JobStatus string

const (
	JobPendingPayment JobStatus = "pending_payment"
	JobQueued         JobStatus = "queued"
	JobProcessing     JobStatus = "processing"
	JobRunning        JobStatus = "running"
	JobSucceeded      JobStatus = "succeeded"
	JobFailed         JobStatus = "failed"
	JobCancelled      JobStatus = "cancelled"
)

// Terminal reports whether the job will not change any further.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobSucceeded, JobFailed, JobCancelled:
		return true
	}
	return false
}

// Job is a fine-tuning run.
type Job struct {
	ID             string     `json:"id"`
	Name           string     `json:"name,omitempty"`
	Status         JobStatus  `json:"status"`
	Provider       string     `json:"provider,omitempty"`
	Model          string     `json:"model,omitempty"`
	DatasetID      string     `json:"dataset_id,omitempty"`
	FineTunedModel string     `json:"fine_tuned_model,omitempty"`
	Error          string     `json:"error,omitempty"`
	CreatedAt      *time.Time `json:"created_at,omitempty"`
}

// JobRequest is the payload for starting a fine-tuning job.
type JobRequest struct {
	ProjectID string `json:"project_id" validate:"required"`
	DatasetID string `json:"dataset_id" validate:"required"`
	Provider  string `json:"provider" validate:"required"`
	Model     string `json:"model" validate:"required"`
	Name      string `json:"name,omitempty"`
	APIKey    string `json:"api_key" validate:"required"`
}

// JobLaunch is the backend's answer to a job submission. Status is either
// pending_payment, with RedirectURL pointing at checkout, or processing.
type JobLaunch struct {
	Job         Job       `json:"job"`
	Status      JobStatus `json:"status"`
	RedirectURL string    `json:"redirect_url,omitempty"`
}

// VerifyProviderAPIKey checks a provider key and reports remaining credits.
func (c *Client) VerifyProviderAPIKey(ctx context.Context, provider, key string) (KeyVerification, error) {
	var v KeyVerification
	in := map[string]string{"api_key": key}
	if err := c.doJSON(ctx, http.MethodPost, "/providers/"+url.PathEscape(provider)+"/verify", in, &v); err != nil {
		return KeyVerification{}, err
	}
	return v, nil
}

// GetUsageStats returns the account's usage.
func (c *Client) GetUsageStats(ctx context.Context) (Usage, error) {
	var u Usage
	if err := c.doJSON(ctx, http.MethodGet, "/usage", nil, &u); err != nil {
		return Usage{}, err
	}
	return u, nil
}

// GetPricingInfo returns the price list, served from cache while fresh.
func (c *Client) GetPricingInfo(ctx context.Context) (Pricing, error) {
	if c.pricing != nil {
		if p, ok := c.pricing.Get(pricingKey); ok {
			return p, nil
		}
	}
	var p Pricing
	if err := c.doJSON(ctx, http.MethodGet, "/pricing", nil, &p); err != nil {
		return Pricing{}, err
	}
	if c.pricing != nil {
		c.pricing.Add(pricingKey, p)
	}
	return p, nil
}

// GenerateSystemPrompt turns a purpose statement into a system prompt.
func (c *Client) GenerateSystemPrompt(ctx context.Context, purpose string) (SystemPrompt, error) {
	var sp SystemPrompt
	in := map[string]string{"purpose": purpose}
	if err := c.doJSON(ctx, http.MethodPost, "/system-prompt", in, &sp); err != nil {
		return SystemPrompt{}, err
	}
	return sp, nil
}

// CreateDataset starts building a dataset.
func (c *Client) CreateDataset(ctx context.Context, in DatasetRequest) (Dataset, error) {
	var d Dataset
	if err := c.doJSON(ctx, http.MethodPost, "/datasets", in, &d); err != nil {
		return Dataset{}, err
	}
	return d, nil
}

// GetDataset fetches a dataset.
func (c *Client) GetDataset(ctx context.Context, id string) (Dataset, error) {
	var d Dataset
	if err := c.doJSON(ctx, http.MethodGet, "/datasets/"+url.PathEscape(id), nil, &d); err != nil {
		return Dataset{}, err
	}
	return d, nil
}

// CreateFineTuningJob submits a job.
func (c *Client) CreateFineTuningJob(ctx context.Context, in JobRequest) (JobLaunch, error) {
	var l JobLaunch
	if err := c.doJSON(ctx, http.MethodPost, "/fine-tuning/jobs", in, &l); err != nil {
		return JobLaunch{}, err
	}
	if l.Status == "" {
		l.Status = l.Job.Status
	}
	return l, nil
}

// GetFineTuningJob fetches a job.
func (c *Client) GetFineTuningJob(ctx context.Context, id string) (Job, error) {
	var j Job
	if err := c.doJSON(ctx, http.MethodGet, "/fine-tuning/jobs/"+url.PathEscape(id), nil, &j); err != nil {
		return Job{}, err
	}
	return j, nil
}
