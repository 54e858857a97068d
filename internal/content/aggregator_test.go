package content

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	errorsx "github.com/instill-ai/x/errors"

	"github.com/TobiSchelling/tunedesk/internal/quality"
)

type fakeBackend struct {
	mu        sync.Mutex
	items     map[string]Item
	next      int
	deletes   int
	gets      int
	deleteErr error
	createErr error
	uploaded  []string
}

func newFakeBackend(items ...Item) *fakeBackend {
	f := &fakeBackend{items: make(map[string]Item)}
	for _, it := range items {
		f.items[it.ID] = it
	}
	return f
}

func (f *fakeBackend) newID() string {
	f.next++
	return fmt.Sprintf("srv-%d", f.next)
}

func (f *fakeBackend) CreateContentFromFile(_ context.Context, projectID string, file FileUpload, metadata map[string]string) (Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return Item{}, f.createErr
	}
	body, _ := io.ReadAll(file.Reader)
	f.uploaded = append(f.uploaded, string(body))
	it := Item{ID: f.newID(), ProjectID: projectID, Type: Type(metadata["type"]), Status: StatusProcessing, FileName: file.Name}
	f.items[it.ID] = it
	return it, nil
}

func (f *fakeBackend) CreateContentFromURL(_ context.Context, req URLRequest) (Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return Item{}, f.createErr
	}
	it := Item{ID: f.newID(), ProjectID: req.ProjectID, Type: req.Type, Status: StatusProcessing, URL: req.URL, Name: req.Name}
	f.items[it.ID] = it
	return it, nil
}

func (f *fakeBackend) GetContent(_ context.Context, id string) (Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	it, ok := f.items[id]
	if !ok {
		return Item{}, errors.New("not found")
	}
	return it, nil
}

func (f *fakeBackend) ListContentByProject(_ context.Context, projectID string) ([]Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Item
	for _, it := range f.items {
		if it.ProjectID == projectID {
			out = append(out, it)
		}
	}
	return out, nil
}

func (f *fakeBackend) DeleteContent(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.items, id)
	return nil
}

func (f *fakeBackend) set(it Item) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[it.ID] = it
}

func (f *fakeBackend) deleteCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deletes
}

type fakeScraper struct {
	page Page
	err  error
}

func (s fakeScraper) Scrape(context.Context, string) (Page, error) {
	return s.page, s.err
}

// manualTicker hands every polling loop the same channel.
type manualTicker struct {
	ch chan time.Time
}

func newManualTicker() *manualTicker {
	return &manualTicker{ch: make(chan time.Time)}
}

func (m *manualTicker) start(time.Duration) (<-chan time.Time, func()) {
	return m.ch, func() {}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func newTestAggregator(t *testing.T, be *fakeBackend, sc Scraper) (*Aggregator, *manualTicker) {
	t.Helper()
	ticker := newManualTicker()
	a := NewAggregator(Options{ProjectID: "p1", Backend: be, Scraper: sc, Ticker: ticker.start})
	t.Cleanup(a.Close)
	return a, ticker
}

func intp(n int) *int { return &n }

func TestMergedPrefersSessionCopy(t *testing.T) {
	a, _ := newTestAggregator(t, newFakeBackend(), nil)
	a.Restore(Snapshot{
		Buckets: map[Bucket][]Item{
			BucketPersisted: {
				{ID: "a", Type: TypeFile, Status: StatusProcessing},
				{ID: "b", Type: TypeFile, Status: StatusCompleted},
			},
			BucketFiles:   {{ID: "a", Type: TypeFile, Status: StatusCompleted}},
			BucketYouTube: {{ID: "c", Type: TypeYouTube, Status: StatusPending}},
		},
	})

	got := a.Merged()
	if len(got) != 3 {
		t.Fatalf("expected 3 items, got %d", len(got))
	}
	wantIDs := []string{"a", "b", "c"}
	for i, id := range wantIDs {
		if got[i].ID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, got[i].ID)
		}
	}
	if got[0].Status != StatusCompleted {
		t.Errorf("expected session copy of a to win, got status %s", got[0].Status)
	}
}

func TestAwaitingTranscriptionDoesNotBlock(t *testing.T) {
	a, _ := newTestAggregator(t, newFakeBackend(), nil)
	a.Restore(Snapshot{
		Buckets: map[Bucket][]Item{
			BucketYouTube: {{ID: "yt", Type: TypeYouTube, Status: StatusAwaitingTranscription}},
			BucketFiles:   {{ID: "f", Type: TypeFile, Status: StatusCompleted}},
		},
		Selected: []string{"yt", "f"},
	})
	if a.AnySelectedProcessing() {
		t.Error("youtube awaiting transcription should not block")
	}

	a.Restore(Snapshot{
		Buckets: map[Bucket][]Item{
			BucketFiles: {{ID: "f", Type: TypeFile, Status: StatusAwaitingTranscription}},
		},
		Selected: []string{"f"},
	})
	if !a.AnySelectedProcessing() {
		t.Error("a file awaiting transcription should block")
	}
}

func TestRemoveStagedItemSkipsBackend(t *testing.T) {
	be := newFakeBackend()
	a, _ := newTestAggregator(t, be, nil)
	staged, err := a.Stage(TypeWebsite, "https://example.com/faq", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := a.Remove(context.Background(), staged.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if be.deleteCount() != 0 {
		t.Errorf("expected no backend delete, got %d", be.deleteCount())
	}
	if len(a.Merged()) != 0 || len(a.SelectedIDs()) != 0 {
		t.Error("expected item removed from buckets and selection")
	}
}

func TestRemoveAddedItemDeletesOnBackend(t *testing.T) {
	be := newFakeBackend()
	a, _ := newTestAggregator(t, be, nil)
	ctx := context.Background()
	it, err := a.AddFile(ctx, FileUpload{Name: "notes.txt", Size: 5, Reader: strings.NewReader("notes")}, map[string]string{"type": "text"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := a.Remove(ctx, it.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if be.deleteCount() != 1 {
		t.Errorf("expected exactly one backend delete, got %d", be.deleteCount())
	}
	if a.poller.Tracking(it.ID) {
		t.Error("expected polling to stop for the removed item")
	}

	if err := a.LoadPersisted(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := a.Get(it.ID); ok {
		t.Error("expected removed item to stay gone after reloading")
	}
}

func TestRemovePersistedItemDeletesOnBackend(t *testing.T) {
	be := newFakeBackend(Item{ID: "p", ProjectID: "p1", Type: TypeFile, Status: StatusCompleted})
	a, _ := newTestAggregator(t, be, nil)
	if err := a.LoadPersisted(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := a.Remove(context.Background(), "p"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if be.deleteCount() != 1 {
		t.Errorf("expected exactly one backend delete, got %d", be.deleteCount())
	}
	if _, ok := a.Get("p"); ok {
		t.Error("expected item to be gone")
	}
}

func TestRemoveFailureKeepsState(t *testing.T) {
	be := newFakeBackend(Item{ID: "p", ProjectID: "p1", Type: TypeFile, Status: StatusCompleted})
	be.deleteErr = errors.New("boom")
	a, _ := newTestAggregator(t, be, nil)
	a.LoadPersisted(context.Background())
	a.Select("p")

	err := a.Remove(context.Background(), "p")
	if err == nil {
		t.Fatal("expected error")
	}
	if errorsx.Message(err) == "" {
		t.Error("expected a user-facing message on the error")
	}
	if _, ok := a.Get("p"); !ok {
		t.Error("expected item to remain after failed delete")
	}
	if ids := a.SelectedIDs(); len(ids) != 1 || ids[0] != "p" {
		t.Errorf("expected selection unchanged, got %v", ids)
	}
}

func TestRemoveUnknownItem(t *testing.T) {
	a, _ := newTestAggregator(t, newFakeBackend(), nil)
	err := a.Remove(context.Background(), "missing")
	if !errors.Is(err, errorsx.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestStaleRefreshIsDropped(t *testing.T) {
	a, _ := newTestAggregator(t, newFakeBackend(), nil)
	a.Restore(Snapshot{
		Buckets: map[Bucket][]Item{BucketFiles: {{ID: "x", Type: TypeFile, Status: StatusProcessing}}},
	})

	a.apply("x", 5, Item{ID: "x", Type: TypeFile, Status: StatusCompleted})
	a.apply("x", 3, Item{ID: "x", Type: TypeFile, Status: StatusProcessing})

	it, _ := a.Get("x")
	if it.Status != StatusCompleted {
		t.Errorf("expected late response to be ignored, got %s", it.Status)
	}
}

func TestFailedItemsCannotBeSelected(t *testing.T) {
	a, _ := newTestAggregator(t, newFakeBackend(), nil)
	a.Restore(Snapshot{
		Buckets: map[Bucket][]Item{
			BucketFiles: {
				{ID: "bad", Type: TypeFile, Status: StatusError},
				{ID: "ok", Type: TypeFile, Status: StatusProcessing},
			},
		},
		Selected: []string{"ok"},
	})

	if err := a.Select("bad"); !errors.Is(err, errorsx.ErrInvalidArgument) {
		t.Errorf("expected invalid argument, got %v", err)
	}

	a.apply("ok", 1, Item{ID: "ok", Type: TypeFile, Status: StatusFailed})
	if ids := a.SelectedIDs(); len(ids) != 0 {
		t.Errorf("expected failed item to be deselected, got %v", ids)
	}
}

func TestAddFilePollsUntilCompleted(t *testing.T) {
	be := newFakeBackend()
	a, ticker := newTestAggregator(t, be, nil)

	changes := 0
	var mu sync.Mutex
	a.OnChange(func() {
		mu.Lock()
		changes++
		mu.Unlock()
	})

	path := filepath.Join(t.TempDir(), "notes.txt")
	os.WriteFile(path, []byte("hello"), 0o644)
	f, _ := os.Open(path)
	defer f.Close()

	it, err := a.AddFile(context.Background(), FileUpload{Name: "notes.txt", Size: 5, Reader: f}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if it.Type != TypeText {
		t.Errorf("expected text type from extension, got %s", it.Type)
	}
	if ids := a.SelectedIDs(); len(ids) != 1 || ids[0] != it.ID {
		t.Errorf("expected new item selected, got %v", ids)
	}
	if !a.AnySelectedProcessing() {
		t.Error("expected processing item to block")
	}

	done := it
	done.Status = StatusCompleted
	done.Metadata = &Metadata{CharacterCount: intp(1234)}
	be.set(done)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := a.Wait(ctx); err == nil {
		t.Fatal("expected Wait to block while the item is processing")
	}

	ticker.ch <- time.Now()
	ctx, cancel = context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.Wait(ctx); err != nil {
		t.Fatalf("expected Wait to return once processing finished: %v", err)
	}
	if len(a.Polling()) != 0 {
		t.Errorf("expected nothing polled, got %v", a.Polling())
	}

	got, _ := a.Get(it.ID)
	if got.Status != StatusCompleted {
		t.Errorf("expected completed, got %s", got.Status)
	}
	if got.FileName != "notes.txt" || got.Size != 5 {
		t.Errorf("expected client-side file facts kept, got %q %d", got.FileName, got.Size)
	}
	total := a.Totals(quality.NewExtractor())
	if total.Characters != 1234 || total.Estimated {
		t.Errorf("unexpected total %+v", total)
	}
	mu.Lock()
	defer mu.Unlock()
	if changes < 2 {
		t.Errorf("expected listeners to be notified, got %d calls", changes)
	}
}

func TestAddValidatesBeforeCallingBackend(t *testing.T) {
	be := newFakeBackend()
	a, _ := newTestAggregator(t, be, fakeScraper{})

	if _, err := a.AddYouTube(context.Background(), "https://example.com/watch?v=1", ""); !errors.Is(err, errorsx.ErrInvalidArgument) {
		t.Errorf("expected invalid argument for non-youtube url, got %v", err)
	}
	if _, err := a.AddWebsite(context.Background(), "not a url", ""); !errors.Is(err, errorsx.ErrInvalidArgument) {
		t.Errorf("expected invalid argument for bad website url, got %v", err)
	}
	if len(be.items) != 0 {
		t.Error("expected no content created")
	}
}

func TestAddFailureLeavesStateUnchanged(t *testing.T) {
	be := newFakeBackend()
	be.createErr = errors.New("server exploded")
	a, _ := newTestAggregator(t, be, nil)

	_, err := a.AddYouTube(context.Background(), "https://www.youtube.com/watch?v=abc", "")
	if err == nil {
		t.Fatal("expected error")
	}
	if errorsx.Message(err) != "The video could not be added." {
		t.Errorf("unexpected message %q", errorsx.Message(err))
	}
	if len(a.Merged()) != 0 || len(a.Polling()) != 0 {
		t.Error("expected no state change after a failed add")
	}
}

func TestAddWebsiteKeepsScrapedLength(t *testing.T) {
	be := newFakeBackend()
	sc := fakeScraper{page: Page{Title: "Docs", Paragraphs: []string{"abcde", "fgh"}}}
	a, _ := newTestAggregator(t, be, sc)

	it, err := a.AddWebsite(context.Background(), "https://example.com/docs", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if it.Name != "Docs" {
		t.Errorf("expected page title as name, got %q", it.Name)
	}
	if it.Metadata == nil || it.Metadata.ContentLength == nil || *it.Metadata.ContentLength != 8 {
		t.Fatalf("expected content length 8, got %+v", it.Metadata)
	}

	// The backend echoes the item back without the length.
	a.apply(it.ID, a.poller.Sequence(), Item{ID: it.ID, Type: TypeWebsite, Status: StatusCompleted})
	got, _ := a.Get(it.ID)
	count := quality.NewExtractor().Extract(got.Source())
	if count.Characters != 8 || !count.Exact {
		t.Errorf("expected exact count 8, got %+v", count)
	}
}

func TestStageAndSubmit(t *testing.T) {
	be := newFakeBackend()
	a, _ := newTestAggregator(t, be, nil)

	path := filepath.Join(t.TempDir(), "manual.pdf")
	os.WriteFile(path, []byte("pdfbytes"), 0o644)

	staged, err := a.Stage(TypePDF, path, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !staged.Local || staged.Size != 8 {
		t.Errorf("unexpected staged item %+v", staged)
	}
	if len(a.Polling()) != 0 {
		t.Error("staged items must not be polled")
	}

	created, err := a.Submit(context.Background(), staged.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := a.Get(staged.ID); ok {
		t.Error("expected temporary id to be replaced")
	}
	if ids := a.SelectedIDs(); len(ids) != 1 || ids[0] != created.ID {
		t.Errorf("expected selection to follow new id, got %v", ids)
	}
	if len(be.uploaded) != 1 || be.uploaded[0] != "pdfbytes" {
		t.Errorf("unexpected uploads %v", be.uploaded)
	}
	if !a.poller.Tracking(created.ID) {
		t.Error("expected submitted item to be polled")
	}
}

func TestTotalsWithMissingSelection(t *testing.T) {
	a, _ := newTestAggregator(t, newFakeBackend(), nil)
	a.Restore(Snapshot{
		Buckets: map[Bucket][]Item{
			BucketFiles: {{ID: "f", Type: TypeFile, Status: StatusCompleted, Metadata: &Metadata{CharacterCount: intp(100)}}},
		},
		Selected: []string{"f", "ghost"},
	})

	total := a.Totals(quality.NewExtractor())
	if total.Characters != 100 {
		t.Errorf("expected 100 characters, got %d", total.Characters)
	}
	if !total.Estimated {
		t.Error("expected total to be marked estimated")
	}
}

func TestRefreshErrorKeepsCachedValue(t *testing.T) {
	be := newFakeBackend()
	a, _ := newTestAggregator(t, be, nil)
	a.Restore(Snapshot{
		Buckets: map[Bucket][]Item{BucketFiles: {{ID: "gone", Type: TypeFile, Status: StatusProcessing}}},
	})

	if failed := a.RefreshPending(context.Background()); failed != 1 {
		t.Errorf("expected 1 failed refresh, got %d", failed)
	}
	it, ok := a.Get("gone")
	if !ok || it.Status != StatusProcessing {
		t.Errorf("expected cached item unchanged, got %+v", it)
	}
}
