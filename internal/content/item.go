package content

import (
	"time"

	"github.com/TobiSchelling/tunedesk/internal/quality"
)

// Type is the kind of training material an item carries.
type Type string

const (
	TypeFile    Type = "file"
	TypeText    Type = "text"
	TypePDF     Type = "pdf"
	TypeYouTube Type = "youtube"
	TypeWebsite Type = "website"
)

// Valid reports whether t is a known content type.
func (t Type) Valid() bool {
	switch t {
	case TypeFile, TypeText, TypePDF, TypeYouTube, TypeWebsite:
		return true
	}
	return false
}

// Status is the backend processing state of an item.
type Status string

const (
	StatusPending               Status = "pending"
	StatusProcessing            Status = "processing"
	StatusAwaitingTranscription Status = "awaiting_transcription"
	StatusCompleted             Status = "completed"
	StatusError                 Status = "error"
	StatusFailed                Status = "failed"
)

// Terminal reports whether the backend will not change the item any further.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusError, StatusFailed:
		return true
	}
	return false
}

// Failed reports whether the item ended in an error state.
func (s Status) Failed() bool {
	return s == StatusError || s == StatusFailed
}

// Blocking reports whether an item in this status keeps the wizard from moving on.
// A YouTube item awaiting transcription is usable already and does not block.
func (s Status) Blocking(t Type) bool {
	if s.Terminal() {
		return false
	}
	if t == TypeYouTube && s == StatusAwaitingTranscription {
		return false
	}
	return true
}

// NeedsRefresh reports whether the item should still be polled. Awaiting
// transcription is polled too, since transcription can still complete.
func (s Status) NeedsRefresh() bool {
	return !s.Terminal()
}

// Metadata is the backend's extraction metadata.
type Metadata struct {
	CharacterCount  *int     `json:"character_count,omitempty"`
	DurationSeconds *float64 `json:"duration_seconds,omitempty"`
	ContentLength   *int     `json:"content_length,omitempty"`
}

// Item is one unit of training material.
type Item struct {
	ID                  string     `json:"id"`
	ProjectID           string     `json:"project_id,omitempty"`
	Type                Type       `json:"type"`
	Status              Status     `json:"status"`
	Name                string     `json:"name,omitempty"`
	Description         string     `json:"description,omitempty"`
	URL                 string     `json:"url,omitempty"`
	FileName            string     `json:"file_name,omitempty"`
	Size                int64      `json:"size,omitempty"`
	CharacterCount      *int       `json:"character_count,omitempty"`
	IsExactCount        bool       `json:"is_exact_count,omitempty"`
	EstimatedCharacters *int       `json:"estimated_characters,omitempty"`
	Metadata            *Metadata  `json:"metadata,omitempty"`
	CreatedAt           *time.Time `json:"created_at,omitempty"`

	// Local marks an item buffered on the client under a temporary id.
	Local bool `json:"local,omitempty"`
}

// SourceRef is the URL or file name the item came from.
func (it Item) SourceRef() string {
	if it.URL != "" {
		return it.URL
	}
	return it.FileName
}

// DisplayName returns the item name or, failing that, its source reference.
func (it Item) DisplayName() string {
	if it.Name != "" {
		return it.Name
	}
	if ref := it.SourceRef(); ref != "" {
		return ref
	}
	return it.ID
}

// Source converts the item into estimator input. A top-level count flagged
// exact counts as measured metadata; an unflagged one as an estimate.
func (it Item) Source() quality.Source {
	s := quality.Source{
		Kind:                string(it.Type),
		EstimatedCharacters: it.EstimatedCharacters,
		Size:                it.Size,
	}
	if it.Metadata != nil {
		s.MetadataCharacters = it.Metadata.CharacterCount
		s.DurationSeconds = it.Metadata.DurationSeconds
		s.ContentLength = it.Metadata.ContentLength
	}
	if s.MetadataCharacters == nil && it.CharacterCount != nil {
		if it.IsExactCount {
			s.MetadataCharacters = it.CharacterCount
		} else if s.EstimatedCharacters == nil {
			s.EstimatedCharacters = it.CharacterCount
		}
	}
	return s
}
