// Package content keeps the unified list of training material for one project:
// what the backend already had, what was added this session, what is selected,
// and whether anything selected is still being processed.
package content

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/TobiSchelling/tunedesk/internal/logger"
	"github.com/TobiSchelling/tunedesk/internal/poll"
	"github.com/TobiSchelling/tunedesk/internal/quality"
)

// Bucket records where an item came from.
type Bucket string

const (
	BucketPersisted Bucket = "persisted"
	BucketFiles     Bucket = "files"
	BucketYouTube   Bucket = "youtube"
	BucketWebsites  Bucket = "websites"
)

// sessionBuckets hold items added in this session, in merge order.
var sessionBuckets = []Bucket{BucketFiles, BucketYouTube, BucketWebsites}

func bucketFor(t Type) Bucket {
	switch t {
	case TypeYouTube:
		return BucketYouTube
	case TypeWebsite:
		return BucketWebsites
	default:
		return BucketFiles
	}
}

const localPrefix = "local-"

// Options configures an Aggregator.
type Options struct {
	ProjectID string
	Backend   Backend
	Scraper   Scraper
	Logger    *logger.Logger
	Interval  time.Duration
	Ticker    poll.TickerFunc
}

// Snapshot is the serialisable state of an Aggregator.
type Snapshot struct {
	Buckets  map[Bucket][]Item `json:"buckets"`
	Selected []string          `json:"selected"`
}

// Entry is one row of the merged view.
type Entry struct {
	Item     Item          `json:"item"`
	Bucket   Bucket        `json:"bucket"`
	Selected bool          `json:"selected"`
	Count    quality.Count `json:"count"`
}

// Aggregator owns the content buckets and selection of one wizard session.
type Aggregator struct {
	projectID string
	backend   Backend
	scraper   Scraper
	log       *logger.Logger
	poller    *poll.Poller[Item]

	mu        sync.Mutex
	buckets   map[Bucket][]Item
	selected  map[string]struct{}
	lastSeq   map[string]uint64
	listeners []func()
}

// NewAggregator creates an empty aggregator.
func NewAggregator(opts Options) *Aggregator {
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	a := &Aggregator{
		projectID: opts.ProjectID,
		backend:   opts.Backend,
		scraper:   opts.Scraper,
		log:       opts.Logger.With("project_id", opts.ProjectID),
		buckets:   make(map[Bucket][]Item),
		selected:  make(map[string]struct{}),
		lastSeq:   make(map[string]uint64),
	}
	a.poller = poll.New(
		func(ctx context.Context, id string) (Item, error) {
			return a.backend.GetContent(ctx, id)
		},
		a.apply,
		poll.Options{Domain: "content", Interval: opts.Interval, Ticker: opts.Ticker, Logger: opts.Logger},
	)
	return a
}

// ProjectID returns the project the aggregator belongs to.
func (a *Aggregator) ProjectID() string {
	return a.projectID
}

// OnChange registers fn to run after every state change.
func (a *Aggregator) OnChange(fn func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listeners = append(a.listeners, fn)
}

func (a *Aggregator) notify() {
	a.mu.Lock()
	listeners := append([]func(){}, a.listeners...)
	a.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}

// LoadPersisted replaces the persisted bucket with the project's content on the backend.
func (a *Aggregator) LoadPersisted(ctx context.Context) error {
	items, err := a.backend.ListContentByProject(ctx, a.projectID)
	if err != nil {
		return withFallback(fmt.Errorf("listing project content: %w", err), "Could not load the project's content.")
	}

	a.mu.Lock()
	a.buckets[BucketPersisted] = items
	for _, it := range items {
		if it.Status.Failed() {
			delete(a.selected, it.ID)
		}
	}
	a.mu.Unlock()

	a.log.Debug("loaded persisted content", "count", len(items))
	a.notify()
	return nil
}

// AddFile uploads a file and selects the created item.
func (a *Aggregator) AddFile(ctx context.Context, file FileUpload, metadata map[string]string) (Item, error) {
	if strings.TrimSpace(file.Name) == "" || file.Reader == nil {
		return Item{}, invalid("Choose a file to upload.")
	}
	if metadata == nil {
		metadata = map[string]string{}
	}
	if _, ok := metadata["type"]; !ok {
		metadata["type"] = string(TypeForFile(file.Name))
	}

	it, err := a.backend.CreateContentFromFile(ctx, a.projectID, file, metadata)
	if err != nil {
		return Item{}, withFallback(fmt.Errorf("uploading %s: %w", file.Name, err), "The file could not be uploaded.")
	}
	if it.FileName == "" {
		it.FileName = file.Name
	}
	if it.Size == 0 {
		it.Size = file.Size
	}
	a.added(it)
	return it, nil
}

// AddYouTube registers a YouTube link and selects the created item.
func (a *Aggregator) AddYouTube(ctx context.Context, rawURL, name string) (Item, error) {
	rawURL = strings.TrimSpace(rawURL)
	if !IsYouTubeURL(rawURL) {
		return Item{}, invalid("Enter a valid YouTube video URL.")
	}
	req := URLRequest{ProjectID: a.projectID, URL: rawURL, Name: name, Type: TypeYouTube}
	if err := validate.Struct(req); err != nil {
		return Item{}, invalid("Enter a valid YouTube video URL.")
	}

	it, err := a.backend.CreateContentFromURL(ctx, req)
	if err != nil {
		return Item{}, withFallback(fmt.Errorf("adding youtube video: %w", err), "The video could not be added.")
	}
	a.added(it)
	return it, nil
}

// AddWebsite scrapes a page, registers it and selects the created item. The
// scraped text length is kept as the item's content length when the backend
// does not report one.
func (a *Aggregator) AddWebsite(ctx context.Context, rawURL, name string) (Item, error) {
	rawURL = strings.TrimSpace(rawURL)
	if err := validate.Var(rawURL, "required,url"); err != nil {
		return Item{}, invalid("Enter a valid website URL.")
	}
	if a.scraper == nil {
		return Item{}, invalid("Website scraping is not configured.")
	}

	page, err := a.scraper.Scrape(ctx, rawURL)
	if err != nil {
		return Item{}, withFallback(fmt.Errorf("scraping %s: %w", rawURL, err), "The website could not be read.")
	}
	if len(page.Paragraphs) == 0 {
		return Item{}, invalid("No readable text was found on that page.")
	}
	if name == "" {
		name = page.Title
	}

	req := URLRequest{
		ProjectID:   a.projectID,
		URL:         rawURL,
		Name:        name,
		Type:        TypeWebsite,
		Description: summarize(page.Paragraphs[0], 200),
	}
	it, err := a.backend.CreateContentFromURL(ctx, req)
	if err != nil {
		return Item{}, withFallback(fmt.Errorf("adding website: %w", err), "The website could not be added.")
	}
	if it.Metadata == nil {
		it.Metadata = &Metadata{}
	}
	if it.Metadata.ContentLength == nil {
		n := page.Length()
		it.Metadata.ContentLength = &n
	}
	a.added(it)
	return it, nil
}

// Stage buffers an item on the client without contacting the backend. For
// files ref is a local path; otherwise it is a URL.
func (a *Aggregator) Stage(t Type, ref, name string) (Item, error) {
	ref = strings.TrimSpace(ref)
	if !t.Valid() {
		return Item{}, invalid("Unknown content type.")
	}
	it := Item{
		ID:        localPrefix + uuid.NewString(),
		ProjectID: a.projectID,
		Type:      t,
		Status:    StatusPending,
		Name:      name,
		Local:     true,
	}
	switch t {
	case TypeYouTube:
		if !IsYouTubeURL(ref) {
			return Item{}, invalid("Enter a valid YouTube video URL.")
		}
		it.URL = ref
	case TypeWebsite:
		if err := validate.Var(ref, "required,url"); err != nil {
			return Item{}, invalid("Enter a valid website URL.")
		}
		it.URL = ref
	default:
		info, err := os.Stat(ref)
		if err != nil || info.IsDir() {
			return Item{}, invalid("Choose a file to upload.")
		}
		it.FileName = ref
		it.Size = info.Size()
	}

	a.mu.Lock()
	b := bucketFor(t)
	a.buckets[b] = append(a.buckets[b], it)
	a.selected[it.ID] = struct{}{}
	a.mu.Unlock()
	a.notify()
	return it, nil
}

// Submit sends a staged item to the backend and swaps its temporary id for the
// backend id in both its bucket and the selection.
func (a *Aggregator) Submit(ctx context.Context, id string) (Item, error) {
	a.mu.Lock()
	staged, _, ok := a.locate(id)
	a.mu.Unlock()
	if !ok {
		return Item{}, notFound(id)
	}
	if !staged.Local {
		return Item{}, invalid("That item has already been submitted.")
	}

	var (
		created Item
		err     error
	)
	switch staged.Type {
	case TypeYouTube, TypeWebsite:
		created, err = a.backend.CreateContentFromURL(ctx, URLRequest{
			ProjectID: a.projectID,
			URL:       staged.URL,
			Name:      staged.Name,
			Type:      staged.Type,
		})
	default:
		created, err = a.submitFile(ctx, staged)
	}
	if err != nil {
		return Item{}, withFallback(fmt.Errorf("submitting %s: %w", id, err), "The item could not be submitted.")
	}

	a.mu.Lock()
	b := bucketFor(staged.Type)
	replaced := false
	for i, it := range a.buckets[b] {
		if it.ID == id {
			a.buckets[b][i] = created
			replaced = true
			break
		}
	}
	if !replaced {
		a.buckets[b] = append(a.buckets[b], created)
	}
	_, wasSelected := a.selected[id]
	delete(a.selected, id)
	if (wasSelected || !replaced) && !created.Status.Failed() {
		a.selected[created.ID] = struct{}{}
	}
	a.mu.Unlock()

	if created.Status.NeedsRefresh() {
		a.poller.Track(created.ID)
	}
	a.notify()
	return created, nil
}

func (a *Aggregator) submitFile(ctx context.Context, staged Item) (Item, error) {
	f, err := os.Open(staged.FileName)
	if err != nil {
		return Item{}, invalid("The staged file can no longer be read.")
	}
	defer f.Close()
	it, err := a.backend.CreateContentFromFile(ctx, a.projectID, FileUpload{
		Name:   filepath.Base(staged.FileName),
		Size:   staged.Size,
		Reader: f,
	}, map[string]string{"type": string(staged.Type)})
	if err != nil {
		return Item{}, err
	}
	if it.Size == 0 {
		it.Size = staged.Size
	}
	return it, nil
}

// added appends a freshly created item to its session bucket, selects it and
// starts polling it when the backend is still working on it.
func (a *Aggregator) added(it Item) {
	a.mu.Lock()
	b := bucketFor(it.Type)
	a.buckets[b] = append(a.buckets[b], it)
	if !it.Status.Failed() {
		a.selected[it.ID] = struct{}{}
	}
	a.mu.Unlock()

	a.log.Info("content added", "id", it.ID, "type", it.Type, "status", it.Status)
	if it.Status.NeedsRefresh() {
		a.poller.Track(it.ID)
	}
	a.notify()
}

// Remove deletes an item. Staged items only exist locally and are dropped;
// anything with a backend id is deleted on the backend first.
func (a *Aggregator) Remove(ctx context.Context, id string) error {
	a.mu.Lock()
	it, _, ok := a.locate(id)
	a.mu.Unlock()
	if !ok {
		return notFound(id)
	}

	persisted := !it.Local
	if persisted {
		if err := a.backend.DeleteContent(ctx, id); err != nil {
			return withFallback(fmt.Errorf("deleting %s: %w", id, err), "The item could not be deleted.")
		}
	}

	a.poller.Untrack(id)

	a.mu.Lock()
	for b, items := range a.buckets {
		a.buckets[b] = without(items, id)
	}
	delete(a.selected, id)
	delete(a.lastSeq, id)
	a.mu.Unlock()

	a.log.Info("content removed", "id", id, "persisted", persisted)
	a.notify()
	return nil
}

// Merged returns every item exactly once. Session buckets are fresher than the
// persisted bucket, so their copy wins when both hold the same id.
func (a *Aggregator) Merged() []Item {
	a.mu.Lock()
	defer a.mu.Unlock()
	entries := a.mergedLocked()
	out := make([]Item, len(entries))
	for i, e := range entries {
		out[i] = e.Item
	}
	return out
}

type merged struct {
	Item   Item
	Bucket Bucket
}

func (a *Aggregator) mergedLocked() []merged {
	fresh := make(map[string]merged)
	for _, b := range sessionBuckets {
		for _, it := range a.buckets[b] {
			if _, ok := fresh[it.ID]; !ok {
				fresh[it.ID] = merged{Item: it, Bucket: b}
			}
		}
	}

	seen := make(map[string]struct{})
	var out []merged
	for _, it := range a.buckets[BucketPersisted] {
		if _, ok := seen[it.ID]; ok {
			continue
		}
		seen[it.ID] = struct{}{}
		if f, ok := fresh[it.ID]; ok {
			out = append(out, f)
		} else {
			out = append(out, merged{Item: it, Bucket: BucketPersisted})
		}
	}
	for _, b := range sessionBuckets {
		for _, it := range a.buckets[b] {
			if _, ok := seen[it.ID]; ok {
				continue
			}
			seen[it.ID] = struct{}{}
			out = append(out, merged{Item: it, Bucket: b})
		}
	}
	return out
}

// Entries returns the merged view with selection flags and character counts.
func (a *Aggregator) Entries(e quality.Extractor) []Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []Entry
	for _, m := range a.mergedLocked() {
		_, sel := a.selected[m.Item.ID]
		out = append(out, Entry{
			Item:     m.Item,
			Bucket:   m.Bucket,
			Selected: sel,
			Count:    e.Extract(m.Item.Source()),
		})
	}
	return out
}

// Get returns the current merged copy of an item.
func (a *Aggregator) Get(id string) (Item, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	it, _, ok := a.locate(id)
	return it, ok
}

// Select adds an item to the selection. Failed items cannot be selected.
func (a *Aggregator) Select(id string) error {
	a.mu.Lock()
	it, _, ok := a.locate(id)
	if !ok {
		a.mu.Unlock()
		return notFound(id)
	}
	if it.Status.Failed() {
		a.mu.Unlock()
		return invalid("Content that failed processing cannot be selected.")
	}
	a.selected[id] = struct{}{}
	a.mu.Unlock()
	a.notify()
	return nil
}

// Deselect removes an item from the selection.
func (a *Aggregator) Deselect(id string) {
	a.mu.Lock()
	delete(a.selected, id)
	a.mu.Unlock()
	a.notify()
}

// Selected returns the selected items in merged order.
func (a *Aggregator) Selected() []Item {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []Item
	for _, m := range a.mergedLocked() {
		if _, ok := a.selected[m.Item.ID]; ok {
			out = append(out, m.Item)
		}
	}
	return out
}

// SelectedIDs returns the ids of the selected items in merged order.
func (a *Aggregator) SelectedIDs() []string {
	items := a.Selected()
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	return ids
}

// AnySelectedProcessing reports whether any selected item is still being
// processed. YouTube items awaiting transcription do not count.
func (a *Aggregator) AnySelectedProcessing() bool {
	for _, it := range a.Selected() {
		if it.Status.Blocking(it.Type) {
			return true
		}
	}
	return false
}

// Totals sums the selected items' character counts. A selected id that no
// longer resolves to an item makes the total an estimate.
func (a *Aggregator) Totals(e quality.Extractor) quality.Total {
	a.mu.Lock()
	defer a.mu.Unlock()
	items := make(map[string]Item)
	for _, m := range a.mergedLocked() {
		items[m.Item.ID] = m.Item
	}
	var counts []quality.Count
	failed := 0
	for id := range a.selected {
		it, ok := items[id]
		if !ok {
			failed++
			continue
		}
		counts = append(counts, e.Extract(it.Source()))
	}
	return quality.Sum(counts, failed)
}

// Refresh fetches one item now and merges it. Errors leave the cached copy in place.
func (a *Aggregator) Refresh(ctx context.Context, id string) error {
	if strings.HasPrefix(id, localPrefix) {
		return nil
	}
	seq := a.poller.Sequence()
	it, err := a.backend.GetContent(ctx, id)
	if err != nil {
		a.log.Warn("refresh failed, keeping cached value", "id", id, "error", err)
		return err
	}
	a.apply(id, seq, it)
	return nil
}

// RefreshPending refreshes every item that still needs it and returns how many
// refreshes failed.
func (a *Aggregator) RefreshPending(ctx context.Context) int {
	failed := 0
	for _, id := range a.pendingIDs() {
		if err := a.Refresh(ctx, id); err != nil {
			failed++
		}
	}
	return failed
}

// Watch starts background polling for every item that still needs refreshing.
func (a *Aggregator) Watch() {
	for _, id := range a.pendingIDs() {
		a.poller.Track(id)
	}
}

// Polling returns the ids currently being polled.
func (a *Aggregator) Polling() []string {
	return a.poller.Keys()
}

// Wait blocks until nothing is being polled or ctx ends.
func (a *Aggregator) Wait(ctx context.Context) error {
	select {
	case <-a.poller.Idle():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops all background polling.
func (a *Aggregator) Close() {
	a.poller.Close()
}

func (a *Aggregator) pendingIDs() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var ids []string
	for _, m := range a.mergedLocked() {
		if m.Item.Local || !m.Item.Status.NeedsRefresh() {
			continue
		}
		ids = append(ids, m.Item.ID)
	}
	return ids
}

// apply merges a fetched item into every bucket holding it. Responses older
// than the last applied one for the same id are dropped. It reports whether
// polling for the id can stop.
func (a *Aggregator) apply(id string, seq uint64, fresh Item) bool {
	a.mu.Lock()
	if seq < a.lastSeq[id] {
		a.mu.Unlock()
		a.log.Debug("dropping stale refresh", "id", id, "seq", seq)
		return false
	}

	found := false
	for b, items := range a.buckets {
		for i, it := range items {
			if it.ID != id {
				continue
			}
			a.buckets[b][i] = mergeItem(it, fresh)
			found = true
		}
	}
	if !found {
		// Removed while the fetch was in flight.
		a.mu.Unlock()
		return true
	}
	a.lastSeq[id] = seq
	if fresh.Status.Failed() {
		delete(a.selected, id)
	}
	a.mu.Unlock()

	if fresh.Status.Terminal() {
		a.log.Info("content settled", "id", id, "status", fresh.Status)
	}
	a.notify()
	return !fresh.Status.NeedsRefresh()
}

// mergeItem takes the fetched copy but keeps client-side facts the backend
// may not echo back.
func mergeItem(old, fresh Item) Item {
	if fresh.FileName == "" {
		fresh.FileName = old.FileName
	}
	if fresh.Size == 0 {
		fresh.Size = old.Size
	}
	if old.Metadata != nil && old.Metadata.ContentLength != nil {
		if fresh.Metadata == nil {
			fresh.Metadata = &Metadata{}
		}
		if fresh.Metadata.ContentLength == nil {
			fresh.Metadata.ContentLength = old.Metadata.ContentLength
		}
	}
	fresh.Local = false
	return fresh
}

// Snapshot copies the buckets and selection.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := Snapshot{Buckets: make(map[Bucket][]Item, len(a.buckets))}
	for b, items := range a.buckets {
		if len(items) > 0 {
			s.Buckets[b] = append([]Item(nil), items...)
		}
	}
	for _, m := range a.mergedLocked() {
		if _, ok := a.selected[m.Item.ID]; ok {
			s.Selected = append(s.Selected, m.Item.ID)
		}
	}
	return s
}

// Restore replaces the aggregator state with a snapshot.
func (a *Aggregator) Restore(s Snapshot) {
	a.mu.Lock()
	a.buckets = make(map[Bucket][]Item, len(s.Buckets))
	for b, items := range s.Buckets {
		a.buckets[b] = append([]Item(nil), items...)
	}
	a.selected = make(map[string]struct{}, len(s.Selected))
	for _, id := range s.Selected {
		a.selected[id] = struct{}{}
	}
	a.lastSeq = make(map[string]uint64)
	a.mu.Unlock()
	a.notify()
}

// locate finds the merged copy of id. Callers hold a.mu.
func (a *Aggregator) locate(id string) (Item, Bucket, bool) {
	for _, b := range sessionBuckets {
		for _, it := range a.buckets[b] {
			if it.ID == id {
				return it, b, true
			}
		}
	}
	for _, it := range a.buckets[BucketPersisted] {
		if it.ID == id {
			return it, BucketPersisted, true
		}
	}
	return Item{}, "", false
}

func without(items []Item, id string) []Item {
	out := items[:0]
	for _, it := range items {
		if it.ID != id {
			out = append(out, it)
		}
	}
	return out
}

func summarize(text string, limit int) string {
	text = strings.Join(strings.Fields(text), " ")
	r := []rune(text)
	if len(r) <= limit {
		return text
	}
	return string(r[:limit]) + "..."
}
