package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentic-k/call-card-ai-assistant-sub000/internal/domain"
)

// Factory opens a new authenticated session wired to the given hooks.
// The controller guarantees it is never invoked concurrently with itself.
type Factory func(ctx context.Context, hooks Hooks) (Conn, error)

// StatusHooks let the owning pipeline observe the controller.
type StatusHooks struct {
	OnState        func(state domain.PipelineState)
	OnTranscript   func(text string, isFinal bool)
	OnReconnecting func(attempt int)
	OnRestored     func()
	OnTerminal     func(err error)
}

// Controller wraps connect/retry policy around one session at a time: at most
// one live socket, exponential backoff with jitter and a cold-start floor, a
// heartbeat staleness check, and a hard attempt ceiling.
type Controller struct {
	cfg     BackoffConfig
	factory Factory
	hooks   StatusHooks
	source  domain.Source
	log     *slog.Logger

	mu      sync.Mutex
	active  bool
	paused  bool
	state   domain.PipelineState
	session Conn
	retry   *stopTimer
	ctx     context.Context

	attemptCount        int
	consecutiveFailures int
	totalReconnects     int
	lastSuccess         time.Time

	lastTraffic atomic.Int64
	hbStop      chan struct{}
	hbStopOnce  sync.Once
}

// Stats is a snapshot of the controller's counters.
type Stats struct {
	State               domain.PipelineState
	AttemptCount        int
	ConsecutiveFailures int
	TotalReconnects     int
	LastSuccess         time.Time
}

// NewController builds a controller for one stream.
func NewController(source domain.Source, cfg BackoffConfig, factory Factory, hooks StatusHooks, log *slog.Logger) *Controller {
	return &Controller{
		cfg:     cfg.withDefaults(),
		factory: factory,
		hooks:   hooks,
		source:  source,
		log:     log.With("source", string(source)),
		state:   domain.StateIdle,
		hbStop:  make(chan struct{}),
	}
}

// Start performs the first connection attempt. Unlike later attempts, a
// failure here propagates to the caller instead of scheduling a retry.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.active {
		c.mu.Unlock()
		return errors.New("controller already started")
	}
	if c.state.Terminal() {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("controller is %s; construct a new one to restart", state)
	}
	c.active = true
	c.ctx = ctx
	c.attemptCount = 1
	c.state = domain.StateConnecting
	c.mu.Unlock()
	c.emitState(domain.StateConnecting)

	sess, err := c.factory(ctx, c.sessionHooks())
	if err != nil {
		c.mu.Lock()
		c.active = false
		c.state = domain.StateFailed
		c.mu.Unlock()
		c.emitState(domain.StateFailed)
		return err
	}

	c.install(sess)
	go c.heartbeatLoop()
	return nil
}

// Send forwards one binary frame to the live session. Frames arriving while
// no session is active are dropped; the producer is never blocked or failed.
func (c *Controller) Send(frame []byte) {
	c.mu.Lock()
	sess := c.session
	ok := c.active && c.state == domain.StateActive
	c.mu.Unlock()
	if !ok || sess == nil {
		return
	}
	sess.Send(frame)
}

// Stop tears the controller down: active flag first, then pending timers,
// then the session. forced skips the polite CloseStream handshake.
// Idempotent; a second call observes Stopped and returns.
func (c *Controller) Stop(forced bool) {
	c.mu.Lock()
	if c.state == domain.StateStopped {
		c.mu.Unlock()
		return
	}
	c.active = false
	retry := c.retry
	c.retry = nil
	sess := c.session
	c.session = nil
	c.state = domain.StateStopped
	c.attemptCount = 0
	c.consecutiveFailures = 0
	c.mu.Unlock()

	retry.Cancel()
	c.hbStopOnce.Do(func() { close(c.hbStop) })
	if sess != nil {
		if forced {
			sess.Abort()
		} else {
			sess.Shutdown()
		}
	}
	c.emitState(domain.StateStopped)
}

// SetPaused marks the stream as intentionally silent. While paused the
// staleness check is suspended: no frames flow and the backend has nothing to
// answer, so a quiet socket is expected rather than dead. Resuming restarts
// the staleness clock from now.
func (c *Controller) SetPaused(paused bool) {
	c.mu.Lock()
	c.paused = paused
	c.mu.Unlock()
	if !paused {
		c.lastTraffic.Store(time.Now().UnixNano())
	}
}

// State reports the current lifecycle state.
func (c *Controller) State() domain.PipelineState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Stats reports a snapshot of the counters.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		State:               c.state,
		AttemptCount:        c.attemptCount,
		ConsecutiveFailures: c.consecutiveFailures,
		TotalReconnects:     c.totalReconnects,
		LastSuccess:         c.lastSuccess,
	}
}

func (c *Controller) sessionHooks() Hooks {
	return Hooks{
		OnTraffic: func() {
			c.lastTraffic.Store(time.Now().UnixNano())
		},
		OnTranscript: c.hooks.OnTranscript,
		OnClosed:     c.handleClosed,
	}
}

// install records a successful connection. A restored notification fires only
// when failures preceded this connect, never on the first-ever success.
func (c *Controller) install(sess Conn) {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		sess.Shutdown()
		return
	}
	c.session = sess
	restored := c.consecutiveFailures > 0
	c.consecutiveFailures = 0
	c.lastSuccess = time.Now()
	c.lastTraffic.Store(time.Now().UnixNano())
	if restored {
		c.totalReconnects++
	}
	c.state = domain.StateActive
	c.mu.Unlock()

	c.emitState(domain.StateActive)
	if restored && c.hooks.OnRestored != nil {
		c.hooks.OnRestored()
	}
}

// handleClosed is the single closure path: close frames, send failures and
// heartbeat aborts all arrive here. A controller that is no longer active
// treats the event as a no-op, which is what makes teardown race-free.
func (c *Controller) handleClosed(policy ClosePolicy, code int, reason string) {
	var after []func()

	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return
	}
	c.session = nil
	c.log.Info("connection closed", "code", code, "reason", reason)

	switch policy {
	case CloseNoRetry:
		c.active = false
		c.state = domain.StateStopped
		after = append(after, func() { c.emitState(domain.StateStopped) })
	case CloseAuthFailure:
		c.active = false
		c.state = domain.StateFailed
		err := domain.NewError(domain.ErrAuthentication, c.source,
			fmt.Sprintf("backend rejected credentials (close code %d)", code))
		after = append(after, func() { c.emitState(domain.StateFailed) }, c.terminalFn(err))
	default:
		after = c.scheduleRetryLocked(policy == CloseRetryColdStart)
	}
	c.mu.Unlock()

	for _, fn := range after {
		fn()
	}
}

// scheduleRetryLocked increments the attempt counter, checks the ceiling and
// arms the backoff timer. Caller holds the lock; returned funcs run after it
// is released.
func (c *Controller) scheduleRetryLocked(coldStart bool) []func() {
	c.consecutiveFailures++
	next := c.attemptCount + 1
	if next > c.cfg.MaxAttempts {
		c.active = false
		c.state = domain.StateFailed
		err := domain.NewError(domain.ErrReconnectionExhausted, c.source,
			fmt.Sprintf("gave up after %d connection attempts", c.attemptCount))
		return []func(){func() { c.emitState(domain.StateFailed) }, c.terminalFn(err)}
	}
	c.attemptCount = next
	c.state = domain.StateReconnecting

	delay := backoffDelay(next, c.consecutiveFailures, c.cfg)
	if coldStart {
		delay += c.cfg.ColdStartRetryDelay
	}
	c.retry = afterFunc(delay, c.attemptReconnect)
	c.log.Info("reconnect scheduled", "attempt", next, "delay", delay, "cold_start", coldStart)

	failures := c.consecutiveFailures
	return []func(){
		func() { c.emitState(domain.StateReconnecting) },
		func() {
			if c.hooks.OnReconnecting != nil {
				c.hooks.OnReconnecting(failures)
			}
		},
	}
}

func (c *Controller) attemptReconnect() {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return
	}
	ctx := c.ctx
	c.retry = nil
	c.mu.Unlock()

	// A cancelled caller context is a teardown, not an outage; retrying
	// would only burn through the remaining attempts on doomed dials.
	if ctx.Err() != nil {
		c.mu.Lock()
		if !c.active {
			c.mu.Unlock()
			return
		}
		c.active = false
		c.state = domain.StateStopped
		c.mu.Unlock()
		c.emitState(domain.StateStopped)
		return
	}

	sess, err := c.factory(ctx, c.sessionHooks())
	if err == nil {
		c.install(sess)
		return
	}

	if domain.KindOf(err).Terminal() {
		c.mu.Lock()
		if !c.active {
			c.mu.Unlock()
			return
		}
		c.active = false
		c.state = domain.StateFailed
		c.mu.Unlock()
		c.emitState(domain.StateFailed)
		c.terminalFn(err)()
		return
	}

	var after []func()
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return
	}
	after = c.scheduleRetryLocked(false)
	c.mu.Unlock()
	for _, fn := range after {
		fn()
	}
}

// heartbeatLoop aborts the session when no traffic has been observed for
// longer than the staleness threshold, so silently dead sockets re-enter the
// normal closure path.
func (c *Controller) heartbeatLoop() {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.hbStop:
			return
		case <-ticker.C:
			c.mu.Lock()
			sess := c.session
			ok := c.active && c.state == domain.StateActive && !c.paused
			c.mu.Unlock()
			if !ok || sess == nil {
				continue
			}
			idle := time.Since(time.Unix(0, c.lastTraffic.Load()))
			if idle > c.cfg.StaleAfter {
				c.log.Warn("no traffic on connection, treating as dead", "idle", idle)
				sess.Abort()
			}
		}
	}
}

func (c *Controller) emitState(state domain.PipelineState) {
	if c.hooks.OnState != nil {
		c.hooks.OnState(state)
	}
}

func (c *Controller) terminalFn(err error) func() {
	return func() {
		if c.hooks.OnTerminal != nil {
			c.hooks.OnTerminal(err)
		}
	}
}
