// Package browser implements court.Browser on top of chromedp. Each arena is
// one Chrome process owned by a single request; sessions are tabs in it.
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/court-case-scraper/internal/court"
	"github.com/JakeFAU/court-case-scraper/internal/metrics"
)

// Config controls the behavior of the chromedp browser.
type Config struct {
	Headless      bool
	NoSandbox     bool
	ExecPath      string
	UserAgent     string
	MaxParallel   int
	ActionTimeout time.Duration
}

var errArenaClosed = errors.New("browser arena is closed")

// Chromedp hands out per-request arenas backed by headless Chrome.
type Chromedp struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger
}

// NewChromedp creates the exec allocator. Chrome itself is started lazily per
// arena.
func NewChromedp(cfg Config, logger *zap.Logger) (*Chromedp, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(cfg)...)

	return &Chromedp{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		logger:      logger,
	}, nil
}

func allocatorOptions(cfg Config) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	if cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox, chromedp.Flag("disable-setuid-sandbox", true))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	return opts
}

// Close cancels the allocator context, killing any browser still running.
func (b *Chromedp) Close() {
	b.allocCancel()
}

// NewArena starts a browser for one request. The arena closes itself when ctx
// is done.
func (b *Chromedp) NewArena(ctx context.Context) (court.Arena, error) {
	if err := b.acquire(ctx); err != nil {
		return nil, err
	}
	browserCtx, cancel := chromedp.NewContext(b.allocator)
	if err := chromedp.Run(browserCtx); err != nil {
		cancel()
		b.release()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	a := &arena{
		browserCtx:    browserCtx,
		cancel:        cancel,
		release:       b.release,
		userAgent:     b.cfg.UserAgent,
		actionTimeout: b.actionTimeout(),
		logger:        b.logger,
	}
	a.watch(ctx)
	return a, nil
}

func (b *Chromedp) actionTimeout() time.Duration {
	if b.cfg.ActionTimeout > 0 {
		return b.cfg.ActionTimeout
	}
	return 10 * time.Second
}

func (b *Chromedp) acquire(ctx context.Context) error {
	if b.limiter == nil {
		return nil
	}
	select {
	case b.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("browser slot wait canceled: %w", ctx.Err())
	}
}

func (b *Chromedp) release() {
	if b.limiter == nil {
		return
	}
	select {
	case <-b.limiter:
	default:
	}
}

type arena struct {
	browserCtx    context.Context
	cancel        context.CancelFunc
	release       func()
	stopForward   func()
	userAgent     string
	actionTimeout time.Duration
	logger        *zap.Logger

	mu       sync.Mutex
	closed   bool
	sessions []*session
	once     sync.Once
}

// watch closes the arena once ctx is done. The goroutine may fire before
// watch returns, so stopForward is only touched under mu.
func (a *arena) watch(ctx context.Context) {
	stop := forwardCancel(ctx, func() {
		if err := a.Close(); err != nil {
			a.logger.Warn("arena close after cancel failed", zap.Error(err))
		}
	})
	a.mu.Lock()
	a.stopForward = stop
	a.mu.Unlock()
}

func (a *arena) Open(ctx context.Context) (court.Session, error) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil, errArenaClosed
	}
	tabCtx, cancel := chromedp.NewContext(a.browserCtx)
	a.mu.Unlock()

	stop := forwardCancel(ctx, cancel)
	defer stop()
	if err := chromedp.Run(tabCtx, a.setupAction()); err != nil {
		cancel()
		return nil, fmt.Errorf("open tab: %w", err)
	}

	s := &session{
		tabCtx:        tabCtx,
		cancel:        cancel,
		actionTimeout: a.actionTimeout,
		meta:          newResponseMeta(),
	}
	chromedp.ListenTarget(tabCtx, s.meta.captureEvent)

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		cancel()
		return nil, errArenaClosed
	}
	a.sessions = append(a.sessions, s)
	a.mu.Unlock()
	metrics.IncOpenSessions()
	return s, nil
}

func (a *arena) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if a.userAgent != "" {
			if err := emulation.SetUserAgentOverride(a.userAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

// Close closes every session the arena opened, then the browser.
func (a *arena) Close() error {
	a.once.Do(func() {
		a.mu.Lock()
		a.closed = true
		stop := a.stopForward
		sessions := a.sessions
		a.sessions = nil
		a.mu.Unlock()
		if stop != nil {
			stop()
		}
		for _, s := range sessions {
			_ = s.Close()
		}
		a.cancel()
		a.release()
	})
	return nil
}

type session struct {
	tabCtx        context.Context
	cancel        context.CancelFunc
	actionTimeout time.Duration
	meta          *responseMeta
	once          sync.Once
}

// run executes actions on the tab, bounded by timeout and by the caller ctx.
func (s *session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if timeout <= 0 {
		timeout = s.actionTimeout
	}
	runCtx, cancel := context.WithTimeout(s.tabCtx, timeout)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()
	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("chromedp run: %w", ctxErr)
		}
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("chromedp run: %w", context.DeadlineExceeded)
		}
		return fmt.Errorf("chromedp run: %w", err)
	}
	return nil
}

func (s *session) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	s.meta.reset()
	err := s.run(ctx, timeout,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if status := s.meta.status(); status >= 400 {
		return fmt.Errorf("navigate %s: document status %d", url, status)
	}
	return nil
}

func (s *session) WaitText(ctx context.Context, selector string, timeout time.Duration) (string, error) {
	var text string
	err := s.run(ctx, timeout,
		chromedp.WaitReady(selector, chromedp.ByQuery),
		chromedp.TextContent(selector, &text, chromedp.ByQuery),
	)
	if err != nil {
		return "", fmt.Errorf("wait for %s: %w", selector, err)
	}
	return text, nil
}

func (s *session) Exists(ctx context.Context, selector string) (bool, error) {
	var ok bool
	expr := fmt.Sprintf(`document.querySelector(%s) !== null`, jsString(selector))
	if err := s.run(ctx, 0, chromedp.Evaluate(expr, &ok)); err != nil {
		return false, fmt.Errorf("query %s: %w", selector, err)
	}
	return ok, nil
}

const setValueJS = `(function(sel, val) {
	const el = document.querySelector(sel);
	if (!el) { return false; }
	el.value = val;
	el.dispatchEvent(new Event('input', {bubbles: true}));
	el.dispatchEvent(new Event('change', {bubbles: true}));
	return true;
})(%s, %s)`

func (s *session) SetValue(ctx context.Context, selector, value string) error {
	var ok bool
	expr := fmt.Sprintf(setValueJS, jsString(selector), jsString(value))
	if err := s.run(ctx, 0, chromedp.Evaluate(expr, &ok)); err != nil {
		return fmt.Errorf("set %s: %w", selector, err)
	}
	if !ok {
		return court.NewError(court.KindFieldNotFound, "set value", &court.FieldError{Selector: selector})
	}
	return nil
}

const selectOptionJS = `(function(sel, want) {
	const el = document.querySelector(sel);
	if (!el) { return "missing"; }
	const opt = Array.from(el.options || []).find(function(o) {
		return o.value === want || o.textContent.trim() === want;
	});
	if (!opt) { return "no-option"; }
	el.value = opt.value;
	el.dispatchEvent(new Event('change', {bubbles: true}));
	return "ok";
})(%s, %s)`

func (s *session) SelectOption(ctx context.Context, selector, value string) error {
	var res string
	expr := fmt.Sprintf(selectOptionJS, jsString(selector), jsString(value))
	if err := s.run(ctx, 0, chromedp.Evaluate(expr, &res)); err != nil {
		return fmt.Errorf("select %s: %w", selector, err)
	}
	switch res {
	case "ok":
		return nil
	case "missing":
		return court.NewError(court.KindFieldNotFound, "select option", &court.FieldError{Selector: selector})
	default:
		return court.NewError(court.KindInvalidQuery, "select option",
			fmt.Errorf("%q is not an option of %s", value, selector))
	}
}

func (s *session) Click(ctx context.Context, selector string) error {
	if err := s.run(ctx, 0, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible)); err != nil {
		return fmt.Errorf("click %s: %w", selector, err)
	}
	return nil
}

const outerHTMLJS = `(function(sel) {
	const el = document.querySelector(sel);
	return el ? el.outerHTML : "";
})(%s)`

func (s *session) HTML(ctx context.Context, selector string) (string, error) {
	var html string
	expr := fmt.Sprintf(outerHTMLJS, jsString(selector))
	if err := s.run(ctx, 0, chromedp.Evaluate(expr, &html)); err != nil {
		return "", fmt.Errorf("read %s: %w", selector, err)
	}
	return html, nil
}

func (s *session) Close() error {
	s.once.Do(func() {
		s.cancel()
		metrics.DecOpenSessions()
	})
	return nil
}

func jsString(v string) string {
	b, err := json.Marshal(v)
	if err != nil {
		return `""`
	}
	return string(b)
}

// forwardCancel invokes cancel when parent is done. The returned func stops
// forwarding.
func forwardCancel(parent context.Context, cancel func()) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	var once sync.Once
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { once.Do(func() { close(done) }) }
}

type responseMeta struct {
	mu   sync.RWMutex
	code int
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	m.mu.Lock()
	m.code = int(resp.Response.Status)
	m.mu.Unlock()
}

func (m *responseMeta) status() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.code
}

func (m *responseMeta) reset() {
	m.mu.Lock()
	m.code = 0
	m.mu.Unlock()
}
