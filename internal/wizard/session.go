package wizard

import (
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"time"

	"github.com/TobiSchelling/tunedesk/internal/api"
	"github.com/TobiSchelling/tunedesk/internal/content"
	"github.com/TobiSchelling/tunedesk/internal/provider"
)

// Step is one stage of the fine-tuning wizard.
type Step string

const (
	StepDefine    Step = "define"
	StepContent   Step = "content"
	StepConfigure Step = "configure"
	StepLaunch    Step = "launch"
)

// Steps lists the wizard stages in order.
var Steps = []Step{StepDefine, StepContent, StepConfigure, StepLaunch}

func (s Step) index() int {
	for i, st := range Steps {
		if st == s {
			return i
		}
	}
	return -1
}

// Prompt is the generated system prompt with its normalised category.
type Prompt struct {
	Content       string `json:"content"`
	Category      string `json:"category"`
	MinCharacters int    `json:"min_characters"`
}

// Key records a verified provider key. Only a fingerprint of the key is kept.
type Key struct {
	provider.Verification
	Fingerprint string `json:"fingerprint"`
}

// Dataset is a dataset created by a launch that did not finish, with what it
// was built from.
type Dataset struct {
	ID           string   `json:"id"`
	ContentIDs   []string `json:"content_ids"`
	SystemPrompt string   `json:"system_prompt,omitempty"`
}

// matches reports whether the dataset was built from exactly these inputs.
func (d *Dataset) matches(contentIDs []string, systemPrompt string) bool {
	if d == nil || d.SystemPrompt != systemPrompt {
		return false
	}
	a, b := slices.Clone(d.ContentIDs), slices.Clone(contentIDs)
	slices.Sort(a)
	slices.Sort(b)
	return slices.Equal(a, b)
}

// Outcome is where a launch left the user.
type Outcome struct {
	Kind        string        `json:"kind"`
	JobID       string        `json:"job_id"`
	DatasetID   string        `json:"dataset_id"`
	RedirectURL string        `json:"redirect_url,omitempty"`
	Status      api.JobStatus `json:"status"`
}

// Session is the single authoritative state of one wizard run.
type Session struct {
	ProjectID string           `json:"project_id"`
	Step      Step             `json:"step"`
	Purpose   string           `json:"purpose,omitempty"`
	Prompt    *Prompt          `json:"prompt,omitempty"`
	Profile   string           `json:"profile,omitempty"`
	Provider  string           `json:"provider,omitempty"`
	Model     string           `json:"model,omitempty"`
	JobName   string           `json:"job_name,omitempty"`
	Key       *Key             `json:"key,omitempty"`
	Dataset   *Dataset         `json:"dataset,omitempty"`
	Outcome   *Outcome         `json:"outcome,omitempty"`
	Content   content.Snapshot `json:"content"`
	UpdatedAt time.Time        `json:"updated_at"`
}

func newSession(projectID, providerName, model, profile string) *Session {
	return &Session{
		ProjectID: projectID,
		Step:      StepDefine,
		Provider:  providerName,
		Model:     model,
		Profile:   profile,
	}
}

func fingerprint(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:8])
}
