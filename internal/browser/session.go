// Package browser owns the shared headless Chrome session and its lifecycle.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/quillhq/pagemd/internal/telemetry"
)

// ErrLaunchFailed indicates the browser could not be started after retries.
var ErrLaunchFailed = errors.New("browser launch failed")

// ErrNoSession indicates a tab was requested while no session is live.
var ErrNoSession = errors.New("no live browser session")

// State models the session lifecycle.
type State int

// Session states. A session is created on first demand and destroyed by the
// idle timer or Close.
const (
	StateAbsent State = iota
	StateLaunching
	StateActive
	StateClosing
)

// Config controls session behavior.
type Config struct {
	UserAgent       string
	LaunchRetries   int
	LaunchRetryWait time.Duration
	IdleTick        time.Duration
	IdleMax         time.Duration
}

// session is one live browser connection with its cancel chain.
type session struct {
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
}

func (s *session) connected() bool {
	return s != nil && s.browserCtx.Err() == nil
}

func (s *session) close() {
	s.browserCancel()
	s.allocCancel()
}

// Manager owns at most one live session and serializes lifecycle transitions.
// Tabs opened against the session are independent; extraction operations own
// their tab for their own lifetime and need no lock around session use.
type Manager struct {
	cfg    Config
	logger *zap.Logger

	mu      sync.Mutex
	state   State
	sess    *session
	idleSec int

	// launch is swapped out in tests.
	launch func(ctx context.Context) (*session, error)

	stopOnce sync.Once
	stop     chan struct{}
}

// NewManager creates a Manager and starts its idle-teardown ticker.
func NewManager(cfg Config, logger *zap.Logger) *Manager {
	if cfg.LaunchRetries <= 0 {
		cfg.LaunchRetries = 3
	}
	if cfg.LaunchRetryWait <= 0 {
		cfg.LaunchRetryWait = time.Second
	}
	if cfg.IdleTick <= 0 {
		cfg.IdleTick = 10 * time.Second
	}
	if cfg.IdleMax <= 0 {
		cfg.IdleMax = 60 * time.Second
	}
	m := &Manager{
		cfg:    cfg,
		logger: logger,
		stop:   make(chan struct{}),
	}
	m.launch = m.launchChrome
	go m.idleLoop()
	return m
}

// Ensure guarantees a connected session, launching one if needed. A connected
// session is never relaunched. Launch is attempted up to LaunchRetries times
// with a fixed wait between attempts; exhaustion leaves the state Absent and
// returns ErrLaunchFailed.
func (m *Manager) Ensure(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sess.connected() {
		return nil
	}
	if m.sess != nil {
		// Stale handle from a dropped connection.
		m.sess.close()
		m.sess = nil
	}

	m.state = StateLaunching
	var lastErr error
	for attempt := 1; attempt <= m.cfg.LaunchRetries; attempt++ {
		m.logger.Info("launching browser session", zap.Int("attempt", attempt))
		sess, err := m.launch(ctx)
		if err == nil {
			telemetry.ObserveSessionLaunch("ok")
			m.sess = sess
			m.state = StateActive
			m.idleSec = 0
			return nil
		}
		telemetry.ObserveSessionLaunch("error")
		m.logger.Error("browser launch failed", zap.Int("attempt", attempt), zap.Error(err))
		lastErr = err
		if attempt < m.cfg.LaunchRetries {
			select {
			case <-time.After(m.cfg.LaunchRetryWait):
			case <-ctx.Done():
				m.state = StateAbsent
				return fmt.Errorf("launch wait: %w", ctx.Err())
			}
		}
	}
	m.state = StateAbsent
	return fmt.Errorf("%w after %d attempts: %v", ErrLaunchFailed, m.cfg.LaunchRetries, lastErr)
}

// Touch zeroes the idle counter. Called once at the start of a batch of work;
// the counter is not refreshed during long-running fetches, so the idle timer
// can still tear down a session mid-flight. That race is accepted.
func (m *Manager) Touch() {
	m.mu.Lock()
	m.idleSec = 0
	m.mu.Unlock()
}

// NewTab opens an isolated tab scoped to the live session. The caller must
// invoke the returned cancel on every exit path.
func (m *Manager) NewTab() (context.Context, context.CancelFunc, error) {
	m.mu.Lock()
	sess := m.sess
	m.mu.Unlock()
	if !sess.connected() {
		return nil, nil, ErrNoSession
	}
	tabCtx, cancel := chromedp.NewContext(sess.browserCtx)
	return tabCtx, cancel, nil
}

// State reports the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateActive && !m.sess.connected() {
		return StateAbsent
	}
	return m.state
}

// Close stops the idle ticker and tears down any live session.
func (m *Manager) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeSessionLocked()
}

func (m *Manager) idleLoop() {
	ticker := time.NewTicker(m.cfg.IdleTick)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.tick()
		case <-m.stop:
			return
		}
	}
}

func (m *Manager) tick() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateActive {
		return
	}
	m.idleSec += int(m.cfg.IdleTick.Seconds())
	if m.idleSec < int(m.cfg.IdleMax.Seconds()) {
		return
	}
	m.logger.Info("closing idle browser session", zap.Int("idle_seconds", m.idleSec))
	telemetry.ObserveSessionTeardown()
	m.closeSessionLocked()
}

func (m *Manager) closeSessionLocked() {
	if m.sess == nil {
		m.state = StateAbsent
		return
	}
	m.state = StateClosing
	m.sess.close()
	m.sess = nil
	m.idleSec = 0
	m.state = StateAbsent
}

func (m *Manager) launchChrome(_ context.Context) (*session, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.UserAgent(m.cfg.UserAgent),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}
	return &session{
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		allocCancel:   allocCancel,
	}, nil
}
