// File: internal/browser/manager.go
package browser

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/xkilldash9x/cfgate/internal/config"
)

// Manager owns the browser processes and hands out isolated sessions. One process is launched
// lazily per headless mode and lives until Shutdown; every session is a separate browser context
// inside it.
type Manager struct {
	logger  *zap.Logger
	cfg     config.BrowserConfig
	baseCtx context.Context

	// sem bounds the number of concurrently open sessions.
	sem    *semaphore.Weighted
	active atomic.Int64

	mu        sync.Mutex
	processes map[bool]*process
	closed    bool

	// wg tracks open sessions for a graceful shutdown.
	wg sync.WaitGroup
}

// process is one running browser and the root chromedp context attached to it.
type process struct {
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

// NewManager prepares a manager. No browser is started until the first session is requested.
// ctx only provides values; the browser processes are not bound to its cancellation.
func NewManager(ctx context.Context, logger *zap.Logger, cfg config.BrowserConfig) *Manager {
	maxSessions := cfg.MaxSessions
	if maxSessions <= 0 {
		maxSessions = 1
	}
	if cfg.LaunchTimeout <= 0 {
		cfg.LaunchTimeout = 30 * time.Second
	}
	return &Manager{
		logger:    logger.Named("browser_manager"),
		cfg:       cfg,
		baseCtx:   Detach(ctx),
		sem:       semaphore.NewWeighted(int64(maxSessions)),
		processes: make(map[bool]*process),
	}
}

// NewSession opens an isolated browsing context. It blocks while the session limit is reached.
// Failures to start the browser or the context are wrapped with ErrSessionUnusable.
func (m *Manager) NewSession(ctx context.Context, opts SessionOptions) (Session, error) {
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for a free browser session: %w", err)
	}

	proc, err := m.acquireProcess(opts.Headless)
	if err != nil {
		m.sem.Release(1)
		return nil, err
	}

	release := func() {
		m.active.Add(-1)
		m.sem.Release(1)
		m.wg.Done()
	}

	sess, err := newCDPSession(ctx, proc.browserCtx, opts, m.cfg, m.logger)
	if err != nil {
		release()
		return nil, err
	}
	sess.onClose = release

	m.logger.Debug("Browser session opened.",
		zap.String("session_id", sess.ID()),
		zap.Bool("headless", opts.Headless),
		zap.Int64("active", m.active.Load()))
	return sess, nil
}

// acquireProcess returns the running process for the headless mode, launching it on first use,
// and registers a new session with the wait group.
func (m *Manager) acquireProcess(headless bool) (*process, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrManagerClosed
	}

	proc, ok := m.processes[headless]
	if !ok || proc.browserCtx.Err() != nil {
		if ok {
			m.logger.Warn("Browser process exited; relaunching.", zap.Bool("headless", headless))
			proc.browserCancel()
			proc.allocCancel()
		}
		var err error
		if proc, err = m.launch(headless); err != nil {
			delete(m.processes, headless)
			return nil, err
		}
		m.processes[headless] = proc
	}

	m.wg.Add(1)
	m.active.Add(1)
	return proc, nil
}

// launch starts a browser process and waits until it answers.
func (m *Manager) launch(headless bool) (*process, error) {
	m.logger.Info("Launching browser process...", zap.Bool("headless", headless))

	allocCtx, allocCancel := chromedp.NewExecAllocator(m.baseCtx, m.buildAllocatorOptions(headless)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithErrorf(m.logger.Sugar().Debugf),
	)

	// The first Run must use the context returned by NewContext; a derived one would tie the
	// browser's lifetime to it.
	if err := runWithin(m.baseCtx, m.cfg.LaunchTimeout, func() error { return chromedp.Run(browserCtx) }); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("%w: launching browser: %v", ErrSessionUnusable, err)
	}

	m.logger.Info("Browser process is up.", zap.Bool("headless", headless))
	return &process{allocCancel: allocCancel, browserCtx: browserCtx, browserCancel: browserCancel}, nil
}

// buildAllocatorOptions assembles the launch flags for one headless mode.
func (m *Manager) buildAllocatorOptions(headless bool) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", headless),
		chromedp.Flag("disable-gpu", m.cfg.DisableGPU || headless),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("mute-audio", true),
	)
	if m.cfg.IgnoreTLSErrors {
		opts = append(opts, chromedp.Flag("ignore-certificate-errors", true))
	}
	if m.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(m.cfg.ExecPath))
	}
	if m.cfg.Locale != "" {
		opts = append(opts, chromedp.Flag("lang", m.cfg.Locale))
	}

	// Extra flags from config.yaml, "--name=value" or "--name".
	for _, arg := range m.cfg.Args {
		parts := strings.SplitN(arg, "=", 2)
		name := strings.TrimPrefix(parts[0], "--")
		if name == "" {
			continue
		}
		if len(parts) == 2 {
			opts = append(opts, chromedp.Flag(name, parts[1]))
		} else {
			opts = append(opts, chromedp.Flag(name, true))
		}
	}

	// Required when running inside containers.
	if runtime.GOOS == "linux" {
		opts = append(opts,
			chromedp.NoSandbox,
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("disable-setuid-sandbox", true),
		)
	}
	return opts
}

// ActiveSessions reports the number of currently open sessions.
func (m *Manager) ActiveSessions() int {
	return int(m.active.Load())
}

// Status summarizes the manager for health checks: "closed", "idle" before any browser has
// been launched, or "running".
func (m *Manager) Status() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.closed:
		return "closed"
	case len(m.processes) == 0:
		return "idle"
	default:
		return "running"
	}
}

// Shutdown refuses new sessions, waits for open ones to close (bounded by ctx), then terminates
// every browser process.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.logger.Info("Browser manager shutdown initiated. Waiting for active sessions to complete...",
		zap.Int64("active", m.active.Load()))

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	var waitErr error
	select {
	case <-done:
		m.logger.Info("All sessions have completed.")
	case <-ctx.Done():
		waitErr = ctx.Err()
		m.logger.Warn("Shutdown deadline exceeded. Forcing browser termination.", zap.Error(waitErr))
	}

	m.mu.Lock()
	procs := m.processes
	m.processes = make(map[bool]*process)
	m.mu.Unlock()

	for headless, proc := range procs {
		m.logger.Info("Shutting down browser process...", zap.Bool("headless", headless))
		proc.browserCancel()
		proc.allocCancel()
	}
	return waitErr
}

// runWithin runs fn in the background and gives up after timeout or when ctx is done. fn must
// return once its own context is canceled by the caller's cleanup.
func runWithin(ctx context.Context, timeout time.Duration, fn func() error) error {
	errCh := make(chan error, 1)
	go func() { errCh <- fn() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-errCh:
		return err
	case <-timer.C:
		return fmt.Errorf("no response within %s", timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}
