package browser

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/stealth"
)

// Config controls the browser manager.
type Config struct {
	// RemoteURL connects to an existing Chrome DevTools endpoint instead of
	// launching a local instance.
	RemoteURL string `yaml:"remote_url"`
	// Headless launches Chrome without a display. Default: true.
	Headless *bool `yaml:"headless"`
	// NavigateTimeout bounds page navigation. Default: 30s.
	NavigateTimeout time.Duration `yaml:"navigate_timeout"`
	// ElementTimeout bounds individual element waits. Default: 5s.
	ElementTimeout time.Duration `yaml:"element_timeout"`
	Logger         *slog.Logger  `yaml:"-"`
}

func (c *Config) defaults() {
	if c.NavigateTimeout <= 0 {
		c.NavigateTimeout = 30 * time.Second
	}
	if c.ElementTimeout <= 0 {
		c.ElementTimeout = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Manager owns the Chrome instance and hands out pages.
type Manager struct {
	cfg     Config
	mu      sync.Mutex
	browser *rod.Browser
}

// NewManager creates a manager. Call Start before opening pages.
func NewManager(cfg Config) *Manager {
	cfg.defaults()
	return &Manager{cfg: cfg}
}

// Start launches (or connects to) Chrome.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.browser != nil {
		return nil
	}

	controlURL := m.cfg.RemoteURL
	if controlURL == "" {
		headless := true
		if m.cfg.Headless != nil {
			headless = *m.cfg.Headless
		}
		u, err := launcher.New().Headless(headless).Launch()
		if err != nil {
			return fmt.Errorf("browser: launch: %w", err)
		}
		controlURL = u
	}

	b := rod.New().Context(ctx).ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		return fmt.Errorf("browser: connect %s: %w", controlURL, err)
	}
	m.browser = b

	m.cfg.Logger.Info("browser: started", "control_url", controlURL)
	return nil
}

// Open creates a stealth tab, navigates to the URL and waits for load.
// The caller owns the returned page and must Close it.
func (m *Manager) Open(ctx context.Context, pageURL string) (Page, error) {
	m.mu.Lock()
	b := m.browser
	m.mu.Unlock()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}

	page, err := stealth.Page(b)
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	navCtx, cancel := context.WithTimeout(ctx, m.cfg.NavigateTimeout)
	defer cancel()

	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		page.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		m.cfg.Logger.Warn("browser: wait load timeout", "url", pageURL, "error", err)
	}

	return &rodPage{page: page, pageURL: pageURL, elementTimeout: m.cfg.ElementTimeout}, nil
}

// Wrap adapts an externally-owned rod page to the Page contract. Used when
// the caller (a test runner) already holds the page the failed step ran on.
// Closing the wrapper closes the underlying page.
func (m *Manager) Wrap(page *rod.Page, pageURL string) Page {
	return &rodPage{page: page, pageURL: pageURL, elementTimeout: m.cfg.ElementTimeout}
}

// Close shuts down the browser.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.browser == nil {
		return nil
	}
	err := m.browser.Close()
	m.browser = nil
	return err
}
