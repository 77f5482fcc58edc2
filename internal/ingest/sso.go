package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/docsage/docsage/internal/config"
)

const ssoPageTimeout = 45 * time.Second

// SSOSession drives a real browser for pages behind a login wall. The
// browser launches lazily on first fetch and the authenticated session is
// reused for the rest of the process lifetime.
type SSOSession struct {
	cfg config.SSOConfig

	mu      sync.Mutex
	browser *rod.Browser
}

func NewSSOSession(cfg config.SSOConfig) *SSOSession {
	return &SSOSession{cfg: cfg}
}

// Fetch loads one URL in the authenticated browser and returns the rendered
// HTML.
func (s *SSOSession) Fetch(ctx context.Context, url string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLogin(); err != nil {
		return nil, err
	}

	page, err := s.browser.Page(proto.TargetCreateTarget{URL: url})
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	defer page.Close()
	page = page.Timeout(ssoPageTimeout).Context(ctx)

	if err := page.WaitLoad(); err != nil {
		return nil, fmt.Errorf("wait load: %w", err)
	}
	html, err := page.HTML()
	if err != nil {
		return nil, fmt.Errorf("read page: %w", err)
	}
	return []byte(html), nil
}

func (s *SSOSession) ensureLogin() error {
	if s.browser != nil {
		return nil
	}

	l := launcher.New().Headless(s.cfg.Headless)
	controlURL, err := l.Launch()
	if err != nil {
		return fmt.Errorf("launch browser: %w", err)
	}
	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect browser: %w", err)
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: s.cfg.LoginURL})
	if err != nil {
		browser.Close()
		return fmt.Errorf("open login page: %w", err)
	}
	page = page.Timeout(ssoPageTimeout)
	if err := page.WaitLoad(); err != nil {
		browser.Close()
		return fmt.Errorf("load login page: %w", err)
	}

	if err := s.submitCredentials(page); err != nil {
		browser.Close()
		return err
	}
	if err := page.WaitLoad(); err != nil {
		browser.Close()
		return fmt.Errorf("login redirect: %w", err)
	}
	page.Close()

	s.browser = browser
	return nil
}

func (s *SSOSession) submitCredentials(page *rod.Page) error {
	user, err := page.Element(`input[name="username"], input[type="email"], #username`)
	if err != nil {
		return fmt.Errorf("find username field: %w", err)
	}
	if err := user.Input(s.cfg.Username); err != nil {
		return fmt.Errorf("enter username: %w", err)
	}
	pass, err := page.Element(`input[name="password"], input[type="password"], #password`)
	if err != nil {
		return fmt.Errorf("find password field: %w", err)
	}
	if err := pass.Input(s.cfg.Password); err != nil {
		return fmt.Errorf("enter password: %w", err)
	}
	submit, err := page.Element(`button[type="submit"], input[type="submit"]`)
	if err != nil {
		return fmt.Errorf("find submit button: %w", err)
	}
	if err := submit.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("submit login: %w", err)
	}
	return nil
}

// Close shuts the browser down if it was started.
func (s *SSOSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.browser == nil {
		return nil
	}
	err := s.browser.Close()
	s.browser = nil
	return err
}
