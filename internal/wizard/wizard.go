// Package wizard gates the fine-tuning flow: define a purpose, pick content,
// configure a provider key, launch. Each step only opens once the previous
// one is satisfied.
package wizard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/iancoleman/strcase"
	errorsx "github.com/instill-ai/x/errors"
	"golang.org/x/sync/errgroup"

	"github.com/TobiSchelling/tunedesk/internal/api"
	"github.com/TobiSchelling/tunedesk/internal/content"
	"github.com/TobiSchelling/tunedesk/internal/database"
	"github.com/TobiSchelling/tunedesk/internal/logger"
	"github.com/TobiSchelling/tunedesk/internal/pipeline"
	"github.com/TobiSchelling/tunedesk/internal/provider"
	"github.com/TobiSchelling/tunedesk/internal/quality"
)

// ErrBlocked is returned when the current step's exit condition does not hold.
var ErrBlocked = errors.New("step blocked")

// Backend is the part of the REST API the wizard calls directly.
type Backend interface {
	GenerateSystemPrompt(ctx context.Context, purpose string) (api.SystemPrompt, error)
	GetUsageStats(ctx context.Context) (api.Usage, error)
	GetPricingInfo(ctx context.Context) (api.Pricing, error)
}

// Store persists sessions between runs.
type Store interface {
	GetJSON(key string, v any) (bool, error)
	SetJSON(key string, v any) error
	Delete(key string) error
}

// Options configures a Wizard.
type Options struct {
	ProjectID      string
	Backend        Backend
	Verifier       provider.Verifier
	Launcher       *pipeline.Launcher
	Content        *content.Aggregator
	Store          Store
	Profiles       []quality.Profile
	Extractor      quality.Extractor
	DefaultProfile string
	Provider       string
	Model          string
	Logger         *logger.Logger
}

// Wizard owns one session and the collaborators that move it forward.
type Wizard struct {
	backend   Backend
	verifier  provider.Verifier
	launcher  *pipeline.Launcher
	content   *content.Aggregator
	store     Store
	profiles  []quality.Profile
	extractor quality.Extractor
	defaults  Options
	log       *logger.Logger

	mu sync.Mutex
	s  *Session
}

// New creates a wizard with a fresh session.
func New(opts Options) *Wizard {
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if len(opts.Profiles) == 0 {
		opts.Profiles = quality.DefaultProfiles()
	}
	if opts.Extractor == (quality.Extractor{}) {
		opts.Extractor = quality.NewExtractor()
	}
	if opts.DefaultProfile == "" {
		opts.DefaultProfile = "other"
	}
	w := &Wizard{
		backend:   opts.Backend,
		verifier:  opts.Verifier,
		launcher:  opts.Launcher,
		content:   opts.Content,
		store:     opts.Store,
		profiles:  opts.Profiles,
		extractor: opts.Extractor,
		defaults:  opts,
		log:       opts.Logger.With("project_id", opts.ProjectID),
		s:         newSession(opts.ProjectID, opts.Provider, opts.Model, opts.DefaultProfile),
	}
	if w.content != nil && w.store != nil {
		w.content.OnChange(func() {
			if err := w.Save(); err != nil {
				w.log.Warn("autosave failed", "error", err)
			}
		})
	}
	return w
}

// Load creates a wizard and restores the project's stored session, if any.
func Load(opts Options) (*Wizard, error) {
	w := New(opts)
	if w.store == nil {
		return w, nil
	}
	var s Session
	ok, err := w.store.GetJSON(database.SessionKey(opts.ProjectID), &s)
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}
	if ok {
		if s.Step.index() < 0 {
			s.Step = StepDefine
		}
		w.s = &s
		if w.content != nil {
			w.content.Restore(s.Content)
		}
		w.log.Debug("session restored", "step", s.Step)
	}
	return w, nil
}

// Session returns a copy of the current session.
func (w *Wizard) Session() Session {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := *w.s
	if w.content != nil {
		s.Content = w.content.Snapshot()
	}
	return s
}

// Content returns the session's content aggregator.
func (w *Wizard) Content() *content.Aggregator {
	return w.content
}

// Entries returns the merged content view with per-item counts.
func (w *Wizard) Entries() []content.Entry {
	if w.content == nil {
		return nil
	}
	return w.content.Entries(w.extractor)
}

// Save persists the session, including the content snapshot.
func (w *Wizard) Save() error {
	if w.store == nil {
		return nil
	}
	w.mu.Lock()
	if w.content != nil {
		w.s.Content = w.content.Snapshot()
	}
	w.s.UpdatedAt = time.Now().UTC()
	s := *w.s
	w.mu.Unlock()

	if err := w.store.SetJSON(database.SessionKey(s.ProjectID), s); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	return nil
}

// Reset discards the session and starts over at the first step.
func (w *Wizard) Reset() error {
	w.mu.Lock()
	w.s = newSession(w.defaults.ProjectID, w.defaults.Provider, w.defaults.Model, w.defaults.DefaultProfile)
	w.mu.Unlock()
	if w.content != nil {
		w.content.Restore(content.Snapshot{})
	}
	if w.store == nil {
		return nil
	}
	if err := w.store.Delete(database.SessionKey(w.defaults.ProjectID)); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// Define submits the purpose and generates the system prompt. The define step
// is satisfied only once generation has succeeded.
func (w *Wizard) Define(ctx context.Context, purpose string) (Prompt, error) {
	purpose = strings.TrimSpace(purpose)
	if purpose == "" {
		return Prompt{}, invalid("Describe what the fine-tuned model should do.")
	}

	sp, err := w.backend.GenerateSystemPrompt(ctx, purpose)
	if err != nil {
		return Prompt{}, withFallback(fmt.Errorf("generating system prompt: %w", err), "The system prompt could not be generated.")
	}

	p := Prompt{
		Content:       strings.TrimSpace(sp.SystemContent),
		Category:      strcase.ToSnake(strings.TrimSpace(sp.Category)),
		MinCharacters: sp.MinCharactersRecommended,
	}
	profile, matched := quality.FindProfile(w.profiles, p.Category)

	w.mu.Lock()
	w.s.Purpose = purpose
	w.s.Prompt = &p
	w.s.Profile = w.defaults.DefaultProfile
	if matched {
		w.s.Profile = profile.Name
	}
	w.mu.Unlock()

	w.log.Info("system prompt generated", "category", p.Category, "min_characters", p.MinCharacters)
	return p, w.Save()
}

// Configure sets the provider, model and job name. Changing the provider
// drops a key verified for another provider.
func (w *Wizard) Configure(providerName, model, jobName string) error {
	w.mu.Lock()
	if providerName != "" && providerName != w.s.Provider {
		w.s.Provider = providerName
		w.s.Key = nil
	}
	if model != "" {
		w.s.Model = model
	}
	if jobName != "" {
		w.s.JobName = jobName
	}
	w.mu.Unlock()
	return w.Save()
}

// VerifyKey checks an API key with the verifier and records the verdict. The
// key itself is not stored, only its fingerprint.
func (w *Wizard) VerifyKey(ctx context.Context, providerName, key string) (provider.Verification, error) {
	if providerName == "" {
		w.mu.Lock()
		providerName = w.s.Provider
		w.mu.Unlock()
	}
	v, err := w.verifier.Verify(ctx, providerName, key)
	if err != nil {
		return provider.Verification{}, withFallback(err, "The API key could not be verified.")
	}

	w.mu.Lock()
	w.s.Provider = providerName
	w.s.Key = &Key{Verification: v, Fingerprint: fingerprint(key)}
	w.mu.Unlock()

	return v, w.Save()
}

// CanAdvance reports why the current step cannot be left, or nil.
func (w *Wizard) CanAdvance() error {
	w.mu.Lock()
	s := *w.s
	w.mu.Unlock()

	switch s.Step {
	case StepDefine:
		if s.Purpose == "" || s.Prompt == nil {
			return blocked("Describe the model's purpose and generate a system prompt first.")
		}
	case StepContent:
		if w.content == nil || len(w.content.SelectedIDs()) == 0 {
			return blocked("Select at least one content item.")
		}
		if w.content.AnySelectedProcessing() {
			return blocked("Wait until the selected content has finished processing.")
		}
	case StepConfigure:
		if s.Key == nil || !s.Key.Valid || s.Key.Provider != s.Provider {
			return blocked("Verify an API key with credits for " + s.Provider + ".")
		}
	case StepLaunch:
		return blocked("Launch is the final step.")
	}
	return nil
}

// Next moves forward when the current step's exit condition holds.
func (w *Wizard) Next() (Step, error) {
	if err := w.CanAdvance(); err != nil {
		return w.Step(), err
	}
	w.mu.Lock()
	w.s.Step = Steps[w.s.Step.index()+1]
	step := w.s.Step
	w.mu.Unlock()
	w.log.Debug("wizard advanced", "step", step)
	return step, w.Save()
}

// Advance is Next after refreshing content that is still processing, so the
// content step sees the backend's current statuses rather than saved ones.
func (w *Wizard) Advance(ctx context.Context) (Step, error) {
	if w.Step() == StepContent && w.content != nil {
		if failed := w.content.RefreshPending(ctx); failed > 0 {
			w.log.Warn("some content could not be refreshed", "failed", failed)
		}
	}
	return w.Next()
}

// Back moves to the previous step without re-validating anything.
func (w *Wizard) Back() (Step, error) {
	w.mu.Lock()
	i := w.s.Step.index()
	if i <= 0 {
		w.mu.Unlock()
		return StepDefine, blocked("This is the first step.")
	}
	w.s.Step = Steps[i-1]
	step := w.s.Step
	w.mu.Unlock()
	return step, w.Save()
}

// Step returns the current step.
func (w *Wizard) Step() Step {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.s.Step
}

// Profile returns the usage profile for the session's category.
func (w *Wizard) Profile() quality.Profile {
	w.mu.Lock()
	name := w.s.Profile
	w.mu.Unlock()
	p, _ := quality.FindProfile(w.profiles, name)
	return p
}

// Assess evaluates the current selection against the session profile.
func (w *Wizard) Assess(q quality.Quota) quality.Assessment {
	var total quality.Total
	if w.content != nil {
		total = w.content.Totals(w.extractor)
	}
	w.mu.Lock()
	minRecommended := 0
	if w.s.Prompt != nil {
		minRecommended = w.s.Prompt.MinCharacters
	}
	w.mu.Unlock()
	return quality.Assess(total, w.Profile(), minRecommended, q)
}

// Quote is the free-quota and cost picture for the current selection.
type Quote struct {
	Usage      api.Usage          `json:"usage"`
	Pricing    api.Pricing        `json:"pricing"`
	Assessment quality.Assessment `json:"assessment"`
}

// Quote loads usage and pricing concurrently and assesses the selection.
func (w *Wizard) Quote(ctx context.Context) (Quote, error) {
	var q Quote
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		u, err := w.backend.GetUsageStats(gctx)
		if err != nil {
			return fmt.Errorf("loading usage: %w", err)
		}
		q.Usage = u
		return nil
	})
	g.Go(func() error {
		p, err := w.backend.GetPricingInfo(gctx)
		if err != nil {
			return fmt.Errorf("loading pricing: %w", err)
		}
		q.Pricing = p
		return nil
	})
	if err := g.Wait(); err != nil {
		return Quote{}, withFallback(err, "Usage and pricing could not be loaded.")
	}

	q.Assessment = w.Assess(quality.Quota{
		FreeCharacters:    q.Usage.FreeCharactersRemaining,
		PricePerCharacter: q.Pricing.PricePerCharacter,
	})
	return q, nil
}

// Plan builds the launch plan from the session. key must be the key that
// was verified. A dataset left by an interrupted launch is reused only when it
// was built from the current selection and system prompt.
func (w *Wizard) Plan(key string) (pipeline.Plan, error) {
	w.mu.Lock()
	s := *w.s
	w.mu.Unlock()

	if s.Step != StepLaunch {
		return pipeline.Plan{}, blocked("Finish the earlier steps before launching.")
	}
	if s.Key == nil || !s.Key.Valid || s.Key.Provider != s.Provider {
		return pipeline.Plan{}, blocked("Verify an API key with credits for " + s.Provider + ".")
	}
	if fingerprint(key) != s.Key.Fingerprint {
		return pipeline.Plan{}, invalid("The API key differs from the one that was verified. Verify it again.")
	}
	if w.content == nil || len(w.content.SelectedIDs()) == 0 {
		return pipeline.Plan{}, blocked("Select at least one content item.")
	}
	if w.content.AnySelectedProcessing() {
		return pipeline.Plan{}, blocked("Wait until the selected content has finished processing.")
	}

	p := pipeline.Plan{
		ProjectID:  s.ProjectID,
		ContentIDs: w.content.SelectedIDs(),
		Name:       s.JobName,
		Provider:   s.Provider,
		Model:      s.Model,
		APIKey:     key,
		Characters: w.content.Totals(w.extractor).Characters,
	}
	if s.Prompt != nil {
		p.SystemPrompt = s.Prompt.Content
	}
	if s.Dataset != nil {
		if s.Dataset.matches(p.ContentIDs, p.SystemPrompt) {
			p.DatasetID = s.Dataset.ID
		} else {
			w.log.Info("selection changed since dataset was created, building a new one", "dataset_id", s.Dataset.ID)
		}
	}
	return p, nil
}

// DryRun reports what Launch would do without calling the backend.
func (w *Wizard) DryRun(key string) (*pipeline.Result, error) {
	plan, err := w.Plan(key)
	if err != nil {
		return nil, err
	}
	return w.launcher.DryRun(plan), nil
}

// Launch submits the fine-tuning job. It only runs on the launch step and
// returns where the user goes next: checkout or the running job.
func (w *Wizard) Launch(ctx context.Context, key string) (Outcome, *pipeline.Result, error) {
	w.mu.Lock()
	prev := w.s.Outcome
	w.mu.Unlock()
	if prev != nil {
		return *prev, nil, blocked("This session already launched job " + prev.JobID + ". Reset the wizard to start another.")
	}

	plan, err := w.Plan(key)
	if err != nil {
		return Outcome{}, nil, err
	}

	r := w.launcher.Run(ctx, plan)

	w.mu.Lock()
	w.s.Dataset = nil
	if r.DatasetID != "" {
		w.s.Dataset = &Dataset{ID: r.DatasetID, ContentIDs: plan.ContentIDs, SystemPrompt: plan.SystemPrompt}
	}
	w.mu.Unlock()

	if err := r.Err(); err != nil {
		if saveErr := w.Save(); saveErr != nil {
			w.log.Warn("saving session failed", "error", saveErr)
		}
		return Outcome{}, r, withFallback(err, "The fine-tuning job could not be launched.")
	}

	o := Outcome{
		Kind:        r.Outcome(),
		JobID:       r.Launch.Job.ID,
		DatasetID:   r.DatasetID,
		RedirectURL: r.Launch.RedirectURL,
		Status:      r.Launch.Status,
	}
	w.mu.Lock()
	w.s.Outcome = &o
	w.mu.Unlock()
	return o, r, w.Save()
}

// WatchJob follows a job until it finishes. An empty id watches the job this
// session launched.
func (w *Wizard) WatchJob(ctx context.Context, id string, fn func(api.Job)) (api.Job, error) {
	if id == "" {
		w.mu.Lock()
		if w.s.Outcome != nil {
			id = w.s.Outcome.JobID
		}
		w.mu.Unlock()
	}
	if id == "" {
		return api.Job{}, invalid("No job to watch. Launch one first or pass a job id.")
	}
	j, err := w.launcher.WatchJob(ctx, id, fn)
	if err != nil {
		return j, err
	}

	w.mu.Lock()
	if w.s.Outcome != nil && w.s.Outcome.JobID == id {
		w.s.Outcome.Status = j.Status
	}
	w.mu.Unlock()
	return j, w.Save()
}

func invalid(msg string) error {
	return errorsx.AddMessage(fmt.Errorf("%w: %s", errorsx.ErrInvalidArgument, msg), msg)
}

func blocked(msg string) error {
	return errorsx.AddMessage(fmt.Errorf("%w: %s", ErrBlocked, msg), msg)
}

func withFallback(err error, msg string) error {
	if errorsx.Message(err) != "" {
		return err
	}
	return errorsx.AddMessage(err, msg)
}
