package poller

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/hangwatch/backend/internal/activity"
	"github.com/hangwatch/backend/internal/config"
	"github.com/hangwatch/backend/internal/session"
	"github.com/hangwatch/backend/internal/ws"
)

const (
	notifyTimeout   = 5 * time.Second
	dropLogInterval = 10 * time.Second
	pushBuffer      = 16
)

// searchOutcome is sent from the search worker back to the loop goroutine.
type searchOutcome struct {
	cycle   string
	step    Step
	results []session.RawResult
	err     error
}

// Poller drives periodic searches and owns the reconciler. The reconciler,
// the state machine and the event counters are only touched by the loop
// goroutine started by Start; searches run on a worker goroutine and hand
// their results back over a channel.
type Poller struct {
	mu    sync.RWMutex // protects query, limit, notifier, events
	query string
	limit int

	searcher    Searcher
	reconciler  *session.Reconciler
	store       *session.Store
	broadcaster *ws.Broadcaster
	notifier    activity.Notifier
	machine     *StateMachine
	health      *searchHealth
	logger      *slog.Logger

	interval        time.Duration
	timeout         time.Duration
	healthThreshold int

	intervalCh chan time.Duration
	results    chan searchOutcome
	pushes     chan []session.RawResult
	busy       atomic.Bool

	// resetPending is set when a cache violation cleared the reconciler and
	// held until the next successful search. Pushed batches are dropped
	// meanwhile so the cleared records stay available to that search.
	resetPending bool
	validate     func() error

	events        chan<- session.Event // nil disables event emission
	eventsDropped int64
	lastDropLog   time.Time

	now func() time.Time
}

// New builds a poller. broadcaster may be nil when nothing consumes deltas.
func New(cfg *config.Config, searcher Searcher, store *session.Store, broadcaster *ws.Broadcaster, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	threshold := cfg.Poll.HealthThreshold
	if threshold <= 0 {
		threshold = 3
	}
	p := &Poller{
		query:           cfg.Search.Query,
		limit:           cfg.Search.Limit,
		searcher:        searcher,
		reconciler:      session.NewReconciler(),
		store:           store,
		broadcaster:     broadcaster,
		machine:         NewStateMachine(cfg.Poll.MaxState, cfg.Poll.ReinitEvery),
		health:          newSearchHealth(searcher.Name()),
		logger:          logger.With("component", "poller", "source", searcher.Name()),
		interval:        cfg.Poll.Interval,
		timeout:         cfg.Search.Timeout,
		healthThreshold: threshold,
		intervalCh:      make(chan time.Duration, 1),
		results:         make(chan searchOutcome, 1),
		pushes:          make(chan []session.RawResult, pushBuffer),
		now:             time.Now,
	}
	p.validate = p.reconciler.Validate
	if broadcaster != nil {
		broadcaster.SetHealthHook(p.healthForSnapshot)
	}
	return p
}

// SetNotifier configures the collaborator told about every new signal.
func (p *Poller) SetNotifier(n activity.Notifier) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notifier = n
}

// SetEvents configures a channel for hangout lifecycle events. Sends never
// block the loop: when the consumer falls behind events are dropped and
// counted. Pass nil to disable.
func (p *Poller) SetEvents(ch chan<- session.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = ch
}

// WatchSettings subscribes to the reloadable poll and search keys. The
// returned function removes the subscriptions.
func (p *Poller) WatchSettings(s *config.Settings) func() {
	unsubs := []func(){
		config.Subscribe(s, config.KeyPollInterval, p.setInterval),
		config.Subscribe(s, config.KeySearchQuery, func(q string) {
			p.mu.Lock()
			p.query = q
			p.mu.Unlock()
		}),
		config.Subscribe(s, config.KeySearchLimit, func(n int) {
			p.mu.Lock()
			p.limit = n
			p.mu.Unlock()
		}),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// setInterval hands a new interval to the loop. Only the latest value is
// kept if the loop has not picked up the previous one yet.
func (p *Poller) setInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	for {
		select {
		case p.intervalCh <- d:
			return
		default:
		}
		select {
		case <-p.intervalCh:
		default:
		}
	}
}

// Start runs the poll loop until ctx is done. The first tick runs
// immediately.
func (p *Poller) Start(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("poller started", "interval", p.interval, "max_state", p.machine.MaxState())

	p.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("poller stopped")
			return
		case d := <-p.intervalCh:
			if d != p.interval {
				p.interval = d
				ticker.Reset(d)
				p.logger.Info("poll interval changed", "interval", d)
			}
		case <-ticker.C:
			p.tick(ctx)
		case out := <-p.results:
			p.finish(ctx, out)
		case batch := <-p.pushes:
			p.applyPush(ctx, batch)
		}
	}
}

// Observe queues a batch pushed from outside the poll cycle (for example a
// live notification) to be reconciled on the loop goroutine.
func (p *Poller) Observe(ctx context.Context, batch []session.RawResult) error {
	select {
	case p.pushes <- batch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Poller) applyPush(ctx context.Context, batch []session.RawResult) {
	logger := p.logger.With("cycle", uuid.NewString(), "origin", "push")
	if p.resetPending {
		logger.Debug("full reset pending, dropping pushed batch", "results", len(batch))
		return
	}
	p.apply(ctx, logger, batch)
}

func (p *Poller) Sessions() []*session.Record { return p.store.GetAll() }
func (p *Poller) SessionCount() int           { return p.store.Count() }
func (p *Poller) Signal() session.Signal      { return p.store.Signal() }

// Health returns the current search health report.
func (p *Poller) Health() ws.SearchHealthPayload {
	return p.health.snapshot(p.healthThreshold, p.now())
}

// healthForSnapshot feeds the broadcaster's periodic snapshots. Healthy
// sources are left out to keep snapshots small.
func (p *Poller) healthForSnapshot() *ws.SearchHealthPayload {
	h := p.Health()
	if h.Status == ws.StatusHealthy {
		return nil
	}
	return &h
}

func (p *Poller) tick(ctx context.Context) {
	if p.busy.Load() {
		p.health.recordSkippedTick()
		p.logger.Debug("search still in flight, skipping tick")
		return
	}

	step := p.machine.Next()
	p.health.recordStep(p.machine.State(), step.ErrorCount)

	cycle := uuid.NewString()
	logger := p.logger.With("cycle", cycle, "action", step.Action.String())

	if step.Action == ActionSkip {
		logger.Debug("search failing, skipping tick", "errors", step.ErrorCount)
		return
	}
	if step.Action == ActionReinit {
		logger.Info("reinitialising search session", "errors", step.ErrorCount)
	}

	p.mu.RLock()
	query, limit := p.query, p.limit
	p.mu.RUnlock()

	p.busy.Store(true)
	go p.search(ctx, searchOutcome{cycle: cycle, step: step}, query, limit)
}

// search runs on a worker goroutine. It is never cancelled by the loop;
// only shutdown of ctx or the per-search timeout stops it.
func (p *Poller) search(ctx context.Context, out searchOutcome, query string, limit int) {
	sctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if out.step.Action == ActionReinit {
		out.err = p.searcher.Reinit(sctx)
	} else {
		out.results, out.err = p.searcher.Search(sctx, query, SearchOptions{Limit: limit})
	}

	select {
	case p.results <- out:
	case <-ctx.Done():
	}
}

func (p *Poller) finish(ctx context.Context, out searchOutcome) {
	p.busy.Store(false)
	logger := p.logger.With("cycle", out.cycle, "action", out.step.Action.String())
	now := p.now()

	switch {
	case out.step.Action == ActionReinit && out.err != nil:
		p.health.recordFailure(out.err, now)
		logger.Warn("search reinit failed", "error", out.err)
	case out.step.Action == ActionReinit:
		p.machine.ReinitSucceeded()
		logger.Info("search session reinitialised")
	case out.err != nil:
		p.machine.RecordFailure()
		p.health.recordFailure(out.err, now)
		logger.Warn("search failed", "error", out.err)
	default:
		p.machine.RecordSuccess()
		p.health.recordSuccess(now)
		if out.step.Action == ActionReset {
			p.reconciler.Reset()
		}
		p.resetPending = false
		p.apply(ctx, logger, out.results)
	}

	p.health.recordStep(p.machine.State(), p.machine.ErrorCount())
	p.maybeEmitHealth(logger)
}

// apply reconciles a batch and publishes the result. A broken cache
// invariant is never published: the list is dropped, the last published
// view stays in place and the next search performs a full reset.
func (p *Poller) apply(ctx context.Context, logger *slog.Logger, batch []session.RawResult) {
	res := p.reconciler.Reconcile(batch)
	if res.Skipped > 0 {
		logger.Warn("skipped results without identifier", "count", res.Skipped)
	}

	if err := p.validate(); err != nil {
		logger.Error("session cache inconsistent, forcing full reset", "error", err)
		p.reconciler.Reset()
		p.machine.ForceReset()
		p.resetPending = true
		return
	}

	records := p.reconciler.Sessions()
	sig := activity.Compute(len(records), res, p.now())

	p.store.PublishAndNotify(records, sig, func() {
		p.queueDelta(res)
	})

	for _, ev := range res.Events {
		p.emitEvent(ev)
	}

	logger.Debug("pass complete",
		"count", sig.Count,
		"added", len(res.Added),
		"updated", len(res.Updated),
		"removed", len(res.Removed),
		"unchanged", res.Unchanged,
		"new_activity", sig.IsNewActivity)

	p.mu.RLock()
	notifier := p.notifier
	p.mu.RUnlock()
	if notifier == nil {
		return
	}
	nctx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()
	if err := notifier.Notify(nctx, sig); err != nil {
		logger.Warn("notify failed", "error", err)
	}
}

func (p *Poller) queueDelta(res session.Result) {
	if p.broadcaster == nil {
		return
	}
	var updates []*session.Record
	for _, ev := range res.Events {
		if ev.Type == session.EventNew || ev.Type == session.EventUpdate {
			updates = append(updates, ev.Record)
		}
	}
	if len(updates) > 0 {
		p.broadcaster.QueueUpdate(updates)
	}
	if len(res.Removed) > 0 {
		p.broadcaster.QueueRemoval(res.Removed)
	}
}

// emitEvent uses a non-blocking send so a slow consumer cannot stall the
// loop. Drops are logged at most once per dropLogInterval.
func (p *Poller) emitEvent(ev session.Event) {
	p.mu.RLock()
	ch := p.events
	p.mu.RUnlock()
	if ch == nil {
		return
	}
	select {
	case ch <- ev:
	default:
		p.eventsDropped++
		now := p.now()
		if p.lastDropLog.IsZero() || now.Sub(p.lastDropLog) >= dropLogInterval {
			p.logger.Warn("session events dropped, channel full", "dropped", p.eventsDropped)
			p.eventsDropped = 0
			p.lastDropLog = now
		}
	}
}

// maybeEmitHealth broadcasts a search_health message when the status
// transitions, e.g. healthy to degraded.
func (p *Poller) maybeEmitHealth(logger *slog.Logger) {
	payload, changed := p.health.snapshotAndEmit(p.healthThreshold, p.now())
	if !changed {
		return
	}
	logger.Info("search health changed",
		"status", payload.Status,
		"failures", payload.ConsecutiveFailures)
	if p.broadcaster != nil {
		p.broadcaster.BroadcastMessage(ws.WSMessage{
			Type:    ws.MsgSearchHealth,
			Payload: payload,
		})
	}
}
