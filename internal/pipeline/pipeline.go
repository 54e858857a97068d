// Package pipeline runs the launch sequence: build a dataset from the selected
// content, wait until the backend has processed it, submit the fine-tuning job
// and record the outcome.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator"
	errorsx "github.com/instill-ai/x/errors"

	"github.com/TobiSchelling/tunedesk/internal/api"
	"github.com/TobiSchelling/tunedesk/internal/database"
	"github.com/TobiSchelling/tunedesk/internal/logger"
	"github.com/TobiSchelling/tunedesk/internal/poll"
)

// Backend is the part of the REST API the launch sequence uses.
type Backend interface {
	CreateDataset(ctx context.Context, in api.DatasetRequest) (api.Dataset, error)
	GetDataset(ctx context.Context, id string) (api.Dataset, error)
	CreateFineTuningJob(ctx context.Context, in api.JobRequest) (api.JobLaunch, error)
	GetFineTuningJob(ctx context.Context, id string) (api.Job, error)
}

// History stores submitted jobs. It is optional.
type History interface {
	InsertLaunch(l database.Launch) (int64, error)
	UpdateLaunchStatus(jobID, status string) error
}

// Outcome kinds.
const (
	OutcomePayment = "payment"
	OutcomeStarted = "started"
)

// Plan is everything needed to launch one job.
type Plan struct {
	ProjectID    string
	ContentIDs   []string
	SystemPrompt string
	Name         string
	Provider     string
	Model        string
	APIKey       string
	Characters   int
	// DatasetID reuses a dataset created by an earlier, interrupted launch.
	DatasetID string
}

// StepResult holds the result of a single launch step.
type StepResult struct {
	Name    string
	Summary string
	Err     error
}

// Result holds the results of a launch run.
type Result struct {
	Steps     []StepResult
	DatasetID string
	Launch    *api.JobLaunch
}

// Outcome reports whether the user must pay before the job starts.
func (r *Result) Outcome() string {
	if r.Launch == nil {
		return ""
	}
	if r.Launch.Status == api.JobPendingPayment {
		return OutcomePayment
	}
	return OutcomeStarted
}

// Err returns the first failed step's error.
func (r *Result) Err() error {
	for _, s := range r.Steps {
		if s.Err != nil {
			return s.Err
		}
	}
	return nil
}

// Options configures a Launcher.
type Options struct {
	Backend         Backend
	History         History
	Logger          *logger.Logger
	DatasetInterval time.Duration
	JobInterval     time.Duration
	Ticker          poll.TickerFunc
}

// Launcher orchestrates the launch steps.
type Launcher struct {
	backend         Backend
	history         History
	log             *logger.Logger
	datasetInterval time.Duration
	jobInterval     time.Duration
	ticker          poll.TickerFunc
}

var validate = validator.New()

// New creates a launcher.
func New(opts Options) *Launcher {
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.DatasetInterval <= 0 {
		opts.DatasetInterval = 3 * time.Second
	}
	if opts.JobInterval <= 0 {
		opts.JobInterval = 30 * time.Second
	}
	return &Launcher{
		backend:         opts.Backend,
		history:         opts.History,
		log:             opts.Logger,
		datasetInterval: opts.DatasetInterval,
		jobInterval:     opts.JobInterval,
		ticker:          opts.Ticker,
	}
}

// Run executes the launch sequence. It stops at the first failing step; the
// returned Result carries the dataset id so a retry can reuse it.
func (l *Launcher) Run(ctx context.Context, p Plan) *Result {
	r := &Result{DatasetID: p.DatasetID}

	// Step 1: Dataset
	step := l.runDataset(ctx, p, r)
	r.Steps = append(r.Steps, step)
	if step.Err != nil {
		return r
	}

	// Step 2: Wait for processing
	step = l.runWait(ctx, r)
	r.Steps = append(r.Steps, step)
	if step.Err != nil {
		return r
	}

	// Step 3: Submit job
	step = l.runSubmit(ctx, p, r)
	r.Steps = append(r.Steps, step)
	if step.Err != nil {
		return r
	}

	// Step 4: Record
	r.Steps = append(r.Steps, l.runRecord(p, r))
	return r
}

// DryRun shows what would be done without calling the backend.
func (l *Launcher) DryRun(p Plan) *Result {
	r := &Result{DatasetID: p.DatasetID}
	if p.DatasetID != "" {
		r.Steps = append(r.Steps, StepResult{
			Name:    "Dataset",
			Summary: fmt.Sprintf("[dry-run] would reuse dataset %s", p.DatasetID),
		})
	} else {
		r.Steps = append(r.Steps, StepResult{
			Name:    "Dataset",
			Summary: fmt.Sprintf("[dry-run] would create a dataset from %d items (%d characters)", len(p.ContentIDs), p.Characters),
		})
	}
	r.Steps = append(r.Steps,
		StepResult{Name: "Wait", Summary: fmt.Sprintf("[dry-run] would poll the dataset every %s until ready", l.datasetInterval)},
		StepResult{Name: "Submit", Summary: fmt.Sprintf("[dry-run] would start %s on %s", p.Model, p.Provider)},
	)
	return r
}

func (l *Launcher) runDataset(ctx context.Context, p Plan, r *Result) StepResult {
	if p.DatasetID != "" {
		return StepResult{Name: "Dataset", Summary: fmt.Sprintf("Reusing dataset %s", p.DatasetID)}
	}
	req := api.DatasetRequest{
		ProjectID:    p.ProjectID,
		Name:         p.Name,
		ContentIDs:   p.ContentIDs,
		SystemPrompt: p.SystemPrompt,
	}
	if err := validate.Struct(req); err != nil {
		return StepResult{Name: "Dataset", Err: errorsx.AddMessage(
			fmt.Errorf("%w: %v", errorsx.ErrInvalidArgument, err),
			"Select at least one content item before launching.",
		)}
	}
	d, err := l.backend.CreateDataset(ctx, req)
	if err != nil {
		return StepResult{Name: "Dataset", Err: fmt.Errorf("creating dataset: %w", err)}
	}
	r.DatasetID = d.ID
	l.log.Info("dataset created", "dataset_id", d.ID, "items", len(p.ContentIDs))
	return StepResult{Name: "Dataset", Summary: fmt.Sprintf("Created dataset %s from %d items", d.ID, len(p.ContentIDs))}
}

func (l *Launcher) runWait(ctx context.Context, r *Result) StepResult {
	d, err := l.WaitDataset(ctx, r.DatasetID)
	if err != nil {
		if d.Status == api.DatasetError {
			// A failed dataset cannot be reused.
			r.DatasetID = ""
		}
		return StepResult{Name: "Wait", Err: err}
	}
	summary := "Dataset ready"
	if d.ExampleCount > 0 {
		summary = fmt.Sprintf("Dataset ready with %d examples", d.ExampleCount)
	}
	return StepResult{Name: "Wait", Summary: summary}
}

func (l *Launcher) runSubmit(ctx context.Context, p Plan, r *Result) StepResult {
	req := api.JobRequest{
		ProjectID: p.ProjectID,
		DatasetID: r.DatasetID,
		Provider:  p.Provider,
		Model:     p.Model,
		Name:      p.Name,
		APIKey:    p.APIKey,
	}
	if err := validate.Struct(req); err != nil {
		return StepResult{Name: "Submit", Err: errorsx.AddMessage(
			fmt.Errorf("%w: %v", errorsx.ErrInvalidArgument, err),
			"Choose a provider, a model and a verified API key before launching.",
		)}
	}
	launch, err := l.backend.CreateFineTuningJob(ctx, req)
	if err != nil {
		return StepResult{Name: "Submit", Err: fmt.Errorf("creating fine-tuning job: %w", err)}
	}
	r.Launch = &launch
	l.log.Info("fine-tuning job submitted", "job_id", launch.Job.ID, "status", launch.Status)

	if r.Outcome() == OutcomePayment {
		return StepResult{Name: "Submit", Summary: fmt.Sprintf("Job %s is waiting for payment", launch.Job.ID)}
	}
	return StepResult{Name: "Submit", Summary: fmt.Sprintf("Job %s started", launch.Job.ID)}
}

func (l *Launcher) runRecord(p Plan, r *Result) StepResult {
	if l.history == nil {
		return StepResult{Name: "Record", Summary: "History disabled"}
	}
	status := string(r.Launch.Job.Status)
	if status == "" {
		status = string(r.Launch.Status)
	}
	rec := database.Launch{
		ProjectID:  p.ProjectID,
		DatasetID:  r.DatasetID,
		JobID:      r.Launch.Job.ID,
		Provider:   p.Provider,
		Model:      p.Model,
		Characters: p.Characters,
		Outcome:    r.Outcome(),
		JobStatus:  &status,
	}
	if r.Launch.RedirectURL != "" {
		rec.RedirectURL = &r.Launch.RedirectURL
	}
	if _, err := l.history.InsertLaunch(rec); err != nil {
		// The job exists on the backend; a missing history row is not fatal.
		l.log.Warn("recording launch failed", "job_id", rec.JobID, "error", err)
		return StepResult{Name: "Record", Summary: "Launch not recorded locally"}
	}
	return StepResult{Name: "Record", Summary: "Launch recorded"}
}

// WaitDataset blocks until the dataset is ready or has failed. The dataset is
// fetched once immediately and then on the dataset interval.
func (l *Launcher) WaitDataset(ctx context.Context, id string) (api.Dataset, error) {
	settled := func(d api.Dataset) bool {
		return d.Status == api.DatasetReady || d.Status == api.DatasetError
	}

	d, err := l.backend.GetDataset(ctx, id)
	if err != nil {
		if ctx.Err() != nil {
			return d, ctx.Err()
		}
		l.log.Warn("dataset status check failed", "dataset_id", id, "error", err)
	}
	if err != nil || !settled(d) {
		d, err = waitFor(ctx, l, "dataset", l.datasetInterval, id, l.backend.GetDataset, settled, nil)
		if err != nil {
			return d, err
		}
	}

	if d.Status == api.DatasetError {
		msg := "Dataset processing failed."
		if d.Error != "" {
			msg = "Dataset processing failed: " + d.Error
		}
		return d, errorsx.AddMessage(fmt.Errorf("dataset %s failed: %s", id, d.Error), msg)
	}
	return d, nil
}

// WatchJob polls a job until it reaches a terminal status, calling fn with
// every fetched version. The latest status is kept in the history.
func (l *Launcher) WatchJob(ctx context.Context, id string, fn func(api.Job)) (api.Job, error) {
	observe := func(j api.Job) {
		if l.history != nil {
			if err := l.history.UpdateLaunchStatus(id, string(j.Status)); err != nil {
				l.log.Warn("updating launch status failed", "job_id", id, "error", err)
			}
		}
		if fn != nil {
			fn(j)
		}
	}
	terminal := func(j api.Job) bool { return j.Status.Terminal() }

	j, err := l.backend.GetFineTuningJob(ctx, id)
	if err == nil {
		observe(j)
		if terminal(j) {
			return j, nil
		}
	} else {
		l.log.Warn("job status check failed", "job_id", id, "error", err)
	}
	return waitFor(ctx, l, "job", l.jobInterval, id, l.backend.GetFineTuningJob, terminal, observe)
}

// waitFor polls one key until done reports true or ctx ends.
func waitFor[T any](ctx context.Context, l *Launcher, domain string, interval time.Duration, key string,
	fetch poll.FetchFunc[T], done func(T) bool, observe func(T)) (T, error) {
	result := make(chan T, 1)
	p := poll.New(fetch, func(_ string, _ uint64, v T) bool {
		if observe != nil {
			observe(v)
		}
		if !done(v) {
			return false
		}
		result <- v
		return true
	}, poll.Options{Domain: domain, Interval: interval, Ticker: l.ticker, Logger: l.log})
	defer p.Close()

	p.Track(key)
	select {
	case v := <-result:
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
