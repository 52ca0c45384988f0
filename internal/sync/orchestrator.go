package sync

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Orchestrator drives the sync services: an immediate pull on start, a
// periodic pull+push cycle, and a debounced push when the addon collection
// changes locally. It is started and stopped by authentication state.
type Orchestrator struct {
	services []Service
	addons   *addonNotifier
	status   *StatusRegistry
	logger   *slog.Logger

	interval      time.Duration
	debounce      time.Duration
	retryAttempts int
	retryDelay    time.Duration

	mu          sync.Mutex
	ctx         context.Context
	running     bool
	inFlight    bool
	ticker      *time.Ticker
	tickerDone  chan struct{}
	debounceT   *time.Timer
	unsubscribe func()
}

// addonNotifier is the slice of the addon store the orchestrator uses to
// react to local mutations.
type addonNotifier struct {
	subscribe func(func()) func()
	push      Service
}

// OrchestratorConfig carries the timing knobs; zero values fall back to the
// production defaults so tests can shrink them.
type OrchestratorConfig struct {
	Interval      time.Duration
	PushDebounce  time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
}

// NewOrchestrator wires the services in pull order. addonSubscribe registers
// a listener on the addon store and returns an unsubscribe func; addonPush is
// the service whose Push runs after the debounce window closes.
func NewOrchestrator(services []Service, addonSubscribe func(func()) func(), addonPush Service, cfg OrchestratorConfig, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Minute
	}
	if cfg.PushDebounce <= 0 {
		cfg.PushDebounce = time.Second
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 3 * time.Second
	}

	o := &Orchestrator{
		services:      services,
		status:        NewStatusRegistry(),
		logger:        logger,
		interval:      cfg.Interval,
		debounce:      cfg.PushDebounce,
		retryAttempts: cfg.RetryAttempts,
		retryDelay:    cfg.RetryDelay,
	}
	if addonSubscribe != nil && addonPush != nil {
		o.addons = &addonNotifier{subscribe: addonSubscribe, push: addonPush}
	}
	for _, svc := range services {
		o.status.Register(svc.Name())
	}
	return o
}

// Start moves the orchestrator to running: kicks off an immediate cycle,
// arms the periodic ticker and subscribes to addon mutations. Idempotent.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return
	}
	o.running = true
	o.ctx = ctx
	o.ticker = time.NewTicker(o.interval)
	o.tickerDone = make(chan struct{})
	if o.addons != nil {
		o.unsubscribe = o.addons.subscribe(func() { o.SchedulePush() })
	}
	ticker := o.ticker
	done := o.tickerDone
	o.mu.Unlock()

	o.logger.Info("sync engine started", "interval", o.interval)

	go o.Cycle(ctx)
	go func() {
		for {
			select {
			case <-ticker.C:
				o.Cycle(ctx)
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the ticker, cancels any pending debounced push and drops the
// addon subscription. A cycle already in flight finishes on its own.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.running {
		return
	}
	o.running = false
	if o.ticker != nil {
		o.ticker.Stop()
		close(o.tickerDone)
		o.ticker = nil
		o.tickerDone = nil
	}
	if o.debounceT != nil {
		o.debounceT.Stop()
		o.debounceT = nil
	}
	if o.unsubscribe != nil {
		o.unsubscribe()
		o.unsubscribe = nil
	}
	o.logger.Info("sync engine stopped")
}

// Running reports whether the orchestrator has been started.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// Status returns the per-service sync status snapshot.
func (o *Orchestrator) Status() []ServiceStatus {
	return o.status.All()
}

// Cycle runs one full pull+push pass. It is a no-op while stopped or while
// another cycle is in flight, so a slow cycle is never stacked on.
func (o *Orchestrator) Cycle(ctx context.Context) {
	o.mu.Lock()
	if !o.running || o.inFlight {
		o.mu.Unlock()
		return
	}
	o.inFlight = true
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.inFlight = false
		o.mu.Unlock()
	}()

	if o.pullAll(ctx) {
		o.pushAll(ctx)
	}
}

// TriggerCycle runs a cycle outside the schedule, for the local API. The
// cycle runs on the engine's own context, not the caller's: an HTTP request
// context ends with the response, long before the cycle does.
func (o *Orchestrator) TriggerCycle() {
	o.mu.Lock()
	ctx := o.ctx
	running := o.running
	o.mu.Unlock()
	if !running {
		return
	}
	go o.Cycle(ctx)
}

// pullAll runs every service's pull in order, retrying the whole sequence a
// bounded number of times. Reports whether the final attempt was clean.
func (o *Orchestrator) pullAll(ctx context.Context) bool {
	for attempt := 1; attempt <= o.retryAttempts; attempt++ {
		var firstErr error
		for _, svc := range o.services {
			o.status.MarkRunning(svc.Name())
			err := svc.Refresh(ctx)
			o.status.MarkPull(svc.Name(), err)
			if err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if firstErr == nil {
			return true
		}
		o.logger.Warn("pull cycle failed", "attempt", attempt, "error", firstErr)
		if attempt < o.retryAttempts {
			select {
			case <-time.After(o.retryDelay):
			case <-ctx.Done():
				return false
			}
		}
	}
	return false
}

// pushAll runs every service's push once. Pushes are not retried here; the
// next scheduled cycle covers transient failures.
func (o *Orchestrator) pushAll(ctx context.Context) {
	for _, svc := range o.services {
		ok := svc.Push(ctx)
		o.status.MarkPush(svc.Name(), ok)
	}
}

// SchedulePush arms (or re-arms) the debounced addon push. A burst of
// mutations inside the window collapses to a single push.
func (o *Orchestrator) SchedulePush() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.running || o.addons == nil {
		return
	}
	if o.debounceT != nil {
		o.debounceT.Stop()
	}
	o.debounceT = time.AfterFunc(o.debounce, func() {
		o.mu.Lock()
		running := o.running
		o.debounceT = nil
		o.mu.Unlock()
		if !running {
			return
		}
		ok := o.addons.push.Push(context.Background())
		o.status.MarkPush(o.addons.push.Name(), ok)
	})
}
