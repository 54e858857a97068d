package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	errorsx "github.com/instill-ai/x/errors"

	"github.com/TobiSchelling/tunedesk/internal/api"
	"github.com/TobiSchelling/tunedesk/internal/database"
)

type fakeBackend struct {
	mu          sync.Mutex
	datasets    []api.DatasetStatus
	jobs        []api.JobStatus
	launch      api.JobLaunch
	created     int
	submitted   int
	lastJobReq  api.JobRequest
	datasetFail string
}

func (f *fakeBackend) CreateDataset(_ context.Context, in api.DatasetRequest) (api.Dataset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++
	return api.Dataset{ID: "ds-1", Status: api.DatasetProcessing, ContentIDs: in.ContentIDs}, nil
}

func (f *fakeBackend) GetDataset(_ context.Context, id string) (api.Dataset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	status := api.DatasetProcessing
	if len(f.datasets) > 0 {
		status = f.datasets[0]
		f.datasets = f.datasets[1:]
	}
	return api.Dataset{ID: id, Status: status, Error: f.datasetFail}, nil
}

func (f *fakeBackend) CreateFineTuningJob(_ context.Context, in api.JobRequest) (api.JobLaunch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted++
	f.lastJobReq = in
	return f.launch, nil
}

func (f *fakeBackend) GetFineTuningJob(_ context.Context, id string) (api.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	status := api.JobRunning
	if len(f.jobs) > 0 {
		status = f.jobs[0]
		f.jobs = f.jobs[1:]
	}
	return api.Job{ID: id, Status: status}, nil
}

type fakeHistory struct {
	mu       sync.Mutex
	launches []database.Launch
	statuses []string
}

func (h *fakeHistory) InsertLaunch(l database.Launch) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.launches = append(h.launches, l)
	return int64(len(h.launches)), nil
}

func (h *fakeHistory) UpdateLaunchStatus(_ string, status string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.statuses = append(h.statuses, status)
	return nil
}

type manualTicker struct{ ch chan time.Time }

func (m *manualTicker) start(time.Duration) (<-chan time.Time, func()) { return m.ch, func() {} }

func newTestLauncher(be *fakeBackend, h History) (*Launcher, *manualTicker) {
	ticker := &manualTicker{ch: make(chan time.Time)}
	return New(Options{Backend: be, History: h, Ticker: ticker.start}), ticker
}

var testPlan = Plan{
	ProjectID:    "p1",
	ContentIDs:   []string{"c1", "c2"},
	SystemPrompt: "You are a helpful support agent.",
	Name:         "support-v1",
	Provider:     "openai",
	Model:        "gpt-4o-mini",
	APIKey:       "sk-test",
	Characters:   42000,
}

func TestRunPaymentOutcome(t *testing.T) {
	be := &fakeBackend{
		datasets: []api.DatasetStatus{api.DatasetProcessing, api.DatasetReady},
		launch: api.JobLaunch{
			Job:         api.Job{ID: "job-1", Status: api.JobPendingPayment},
			Status:      api.JobPendingPayment,
			RedirectURL: "https://pay.example.com/session/1",
		},
	}
	h := &fakeHistory{}
	l, ticker := newTestLauncher(be, h)

	done := make(chan *Result, 1)
	go func() { done <- l.Run(context.Background(), testPlan) }()
	ticker.ch <- time.Now()

	var r *Result
	select {
	case r = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("launch did not finish")
	}

	if err := r.Err(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Outcome() != OutcomePayment {
		t.Errorf("expected payment outcome, got %q", r.Outcome())
	}
	if r.DatasetID != "ds-1" || len(r.Steps) != 4 {
		t.Errorf("unexpected result %+v", r)
	}
	if be.lastJobReq.DatasetID != "ds-1" || be.lastJobReq.APIKey != "sk-test" {
		t.Errorf("unexpected job request %+v", be.lastJobReq)
	}
	if len(h.launches) != 1 || h.launches[0].Outcome != OutcomePayment || h.launches[0].RedirectURL == nil {
		t.Errorf("unexpected history %+v", h.launches)
	}
}

func TestRunReadyImmediately(t *testing.T) {
	be := &fakeBackend{
		datasets: []api.DatasetStatus{api.DatasetReady},
		launch:   api.JobLaunch{Job: api.Job{ID: "job-2", Status: api.JobProcessing}, Status: api.JobProcessing},
	}
	l, _ := newTestLauncher(be, nil)

	r := l.Run(context.Background(), testPlan)
	if err := r.Err(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Outcome() != OutcomeStarted {
		t.Errorf("expected started outcome, got %q", r.Outcome())
	}
}

func TestRunDatasetError(t *testing.T) {
	be := &fakeBackend{datasets: []api.DatasetStatus{api.DatasetError}, datasetFail: "no usable text"}
	l, _ := newTestLauncher(be, nil)

	r := l.Run(context.Background(), testPlan)
	err := r.Err()
	if err == nil {
		t.Fatal("expected error")
	}
	if got := errorsx.Message(err); got != "Dataset processing failed: no usable text" {
		t.Errorf("unexpected message %q", got)
	}
	if be.submitted != 0 {
		t.Error("expected no job submission after dataset failure")
	}
	if r.DatasetID != "" {
		t.Errorf("expected failed dataset to be dropped, got %q", r.DatasetID)
	}
}

func TestRunReusesDataset(t *testing.T) {
	be := &fakeBackend{
		datasets: []api.DatasetStatus{api.DatasetReady},
		launch:   api.JobLaunch{Job: api.Job{ID: "job-3"}, Status: api.JobProcessing},
	}
	l, _ := newTestLauncher(be, nil)

	plan := testPlan
	plan.DatasetID = "ds-old"
	r := l.Run(context.Background(), plan)
	if err := r.Err(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if be.created != 0 {
		t.Error("expected existing dataset to be reused")
	}
	if be.lastJobReq.DatasetID != "ds-old" {
		t.Errorf("unexpected dataset in job request %q", be.lastJobReq.DatasetID)
	}
}

func TestRunRequiresContent(t *testing.T) {
	be := &fakeBackend{}
	l, _ := newTestLauncher(be, nil)

	plan := testPlan
	plan.ContentIDs = nil
	err := l.Run(context.Background(), plan).Err()
	if !errors.Is(err, errorsx.ErrInvalidArgument) {
		t.Errorf("expected invalid argument, got %v", err)
	}
	if be.created != 0 {
		t.Error("expected no dataset call")
	}
}

func TestWaitDatasetCancelled(t *testing.T) {
	be := &fakeBackend{}
	l, _ := newTestLauncher(be, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	if _, err := l.WaitDataset(ctx, "ds-1"); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context cancellation, got %v", err)
	}
}

func TestWatchJobUntilTerminal(t *testing.T) {
	be := &fakeBackend{jobs: []api.JobStatus{api.JobQueued, api.JobRunning, api.JobSucceeded}}
	h := &fakeHistory{}
	l, ticker := newTestLauncher(be, h)

	var seen []api.JobStatus
	done := make(chan api.Job, 1)
	go func() {
		j, err := l.WatchJob(context.Background(), "job-1", func(j api.Job) { seen = append(seen, j.Status) })
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		done <- j
	}()
	ticker.ch <- time.Now()
	ticker.ch <- time.Now()

	select {
	case j := <-done:
		if j.Status != api.JobSucceeded {
			t.Errorf("expected succeeded, got %s", j.Status)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not finish")
	}
	if len(seen) != 3 || len(h.statuses) != 3 || h.statuses[2] != "succeeded" {
		t.Errorf("unexpected observations %v %v", seen, h.statuses)
	}
}

func TestDryRunMakesNoCalls(t *testing.T) {
	be := &fakeBackend{}
	l, _ := newTestLauncher(be, nil)
	r := l.DryRun(testPlan)
	if len(r.Steps) != 3 || be.created != 0 || be.submitted != 0 {
		t.Errorf("unexpected dry run %+v", r)
	}
}
