// Package poll re-fetches keyed resources on a fixed interval until they settle.
//
// Each key gets its own loop, so refreshes for one key never overlap. The loop
// stops when the apply callback reports the resource is done, when the key is
// untracked, or when the poller is closed.
package poll

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/TobiSchelling/tunedesk/internal/logger"
)

var (
	refreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tunedesk_poll_refreshes_total",
			Help: "Successful background refreshes.",
		},
		[]string{"domain"},
	)
	failuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tunedesk_poll_failures_total",
			Help: "Background refreshes that failed and kept the cached value.",
		},
		[]string{"domain"},
	)
	activeLoops = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tunedesk_poll_active",
			Help: "Keys currently being polled.",
		},
		[]string{"domain"},
	)
)

// TickerFunc starts a ticker and returns its channel and stop function.
type TickerFunc func(d time.Duration) (<-chan time.Time, func())

// RealTicker is the TickerFunc backed by time.NewTicker.
func RealTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// FetchFunc loads the current value for a key.
type FetchFunc[T any] func(ctx context.Context, key string) (T, error)

// ApplyFunc merges a fetched value. seq increases with every fetch started by
// the poller (and every Sequence call), so callers can drop late responses.
// Returning true stops polling the key.
type ApplyFunc[T any] func(key string, seq uint64, v T) (done bool)

// Options configures a Poller.
type Options struct {
	Domain   string
	Interval time.Duration
	Ticker   TickerFunc
	Logger   *logger.Logger
}

type task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Poller owns one refresh loop per tracked key.
type Poller[T any] struct {
	domain   string
	interval time.Duration
	ticker   TickerFunc
	fetch    FetchFunc[T]
	apply    ApplyFunc[T]
	log      *logger.Logger

	seq atomic.Uint64

	mu     sync.Mutex
	tasks  map[string]*task
	idle   chan struct{}
	closed bool
	wg     sync.WaitGroup
}

// New creates a poller. A zero interval defaults to five seconds.
func New[T any](fetch FetchFunc[T], apply ApplyFunc[T], opts Options) *Poller[T] {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	if opts.Ticker == nil {
		opts.Ticker = RealTicker
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.Domain == "" {
		opts.Domain = "default"
	}
	idle := make(chan struct{})
	close(idle)
	return &Poller[T]{
		idle:     idle,
		domain:   opts.Domain,
		interval: opts.Interval,
		ticker:   opts.Ticker,
		fetch:    fetch,
		apply:    apply,
		log:      opts.Logger.With("domain", opts.Domain),
		tasks:    make(map[string]*task),
	}
}

// Sequence reserves the next fetch sequence number. Callers refreshing a key
// outside the poller use it so their result orders against background fetches.
func (p *Poller[T]) Sequence() uint64 {
	return p.seq.Add(1)
}

// Track starts polling key. It reports false when the key is already tracked
// or the poller is closed.
func (p *Poller[T]) Track(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	if _, ok := p.tasks[key]; ok {
		return false
	}

	if len(p.tasks) == 0 {
		p.idle = make(chan struct{})
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &task{cancel: cancel, done: make(chan struct{})}
	p.tasks[key] = t
	p.wg.Add(1)
	activeLoops.WithLabelValues(p.domain).Inc()
	go p.loop(ctx, key, t)
	p.log.Debug("polling started", "key", key, "interval", p.interval.String())
	return true
}

// Untrack stops polling key and waits for its loop to exit.
func (p *Poller[T]) Untrack(key string) {
	p.mu.Lock()
	t, ok := p.tasks[key]
	if ok {
		delete(p.tasks, key)
		p.markIdleLocked()
	}
	p.mu.Unlock()
	if !ok {
		return
	}
	t.cancel()
	<-t.done
}

// Tracking reports whether key currently has a loop.
func (p *Poller[T]) Tracking(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.tasks[key]
	return ok
}

// Keys returns the tracked keys in sorted order.
func (p *Poller[T]) Keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	keys := make([]string, 0, len(p.tasks))
	for k := range p.tasks {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Idle returns a channel that is closed once no key is tracked. Tracking a key
// after that hands out a new channel.
func (p *Poller[T]) Idle() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.idle
}

func (p *Poller[T]) markIdleLocked() {
	if len(p.tasks) > 0 {
		return
	}
	select {
	case <-p.idle:
	default:
		close(p.idle)
	}
}

// Close stops every loop and waits for them. Late fetches still in flight are
// cancelled through their context.
func (p *Poller[T]) Close() {
	p.mu.Lock()
	p.closed = true
	tasks := p.tasks
	p.tasks = make(map[string]*task)
	p.markIdleLocked()
	p.mu.Unlock()

	for _, t := range tasks {
		t.cancel()
	}
	p.wg.Wait()
}

func (p *Poller[T]) loop(ctx context.Context, key string, t *task) {
	ch, stop := p.ticker(p.interval)
	defer func() {
		stop()
		p.mu.Lock()
		if p.tasks[key] == t {
			delete(p.tasks, key)
			p.markIdleLocked()
		}
		p.mu.Unlock()
		activeLoops.WithLabelValues(p.domain).Dec()
		close(t.done)
		p.wg.Done()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ch:
		}

		seq := p.seq.Add(1)
		v, err := p.fetch(ctx, key)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failuresTotal.WithLabelValues(p.domain).Inc()
			p.log.Warn("refresh failed, keeping cached value", "key", key, "error", err)
			continue
		}
		refreshesTotal.WithLabelValues(p.domain).Inc()

		if p.apply(key, seq, v) {
			p.log.Debug("polling finished", "key", key)
			return
		}
	}
}
