package session

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"permitwatch/pkg/config"
)

// PageFactory constructs a fresh browsing context bound to the target
// network identity
type PageFactory func(ctx context.Context) (Page, error)

// Switcher migrates an authenticated session to a browsing context on a
// different network identity by replaying its cookies
type Switcher struct {
	portalURL  string
	authDomain string
	factory    PageFactory
	log        *zap.Logger
}

// NewSwitcher builds a switcher whose factory creates contexts on the
// monitoring identity
func NewSwitcher(factory PageFactory, log *zap.Logger) *Switcher {
	return &Switcher{
		portalURL:  config.PortalURL,
		authDomain: config.AuthDomain,
		factory:    factory,
		log:        log,
	}
}

// Relocate captures the session from page, destroys it, and rebuilds
// the session in a new context on the target identity. There is never a
// window with two live contexts: the old one is closed before the new
// one exists. On ErrSessionTransfer the caller must re-authenticate
// from scratch; a partially restored session is never handed back.
func (s *Switcher) Relocate(ctx context.Context, page Page, sess *Session) (Page, *Session, error) {
	s.log.Info("🔄 switching network identity", zap.String("session", sess.ID))

	cookies, err := page.Cookies()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to capture session state: %w", err)
	}
	currentURL, err := page.Location()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to capture session state: %w", err)
	}
	s.log.Info("📦 session captured", zap.Int("cookies", len(cookies)), zap.String("url", currentURL))

	page.Close()

	fresh, err := s.factory(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start relocated context: %w", err)
	}

	if err := fresh.Navigate(s.portalURL); err != nil {
		fresh.Close()
		return nil, nil, fmt.Errorf("failed to reach portal on new identity: %w", err)
	}

	replayed := 0
	for _, c := range cookies {
		if err := fresh.SetCookie(c); err != nil {
			// One rejected cookie is not fatal to the transfer.
			s.log.Warn("cookie skipped", zap.String("name", c.Name), zap.Error(err))
			continue
		}
		replayed++
	}
	s.log.Info("🔧 cookies replayed", zap.Int("replayed", replayed), zap.Int("total", len(cookies)))

	if err := fresh.Navigate(currentURL); err != nil {
		fresh.Close()
		return nil, nil, fmt.Errorf("failed to return to %s: %w", currentURL, err)
	}

	loc, err := fresh.Location()
	if err != nil {
		fresh.Close()
		return nil, nil, fmt.Errorf("failed to verify relocation: %w", err)
	}
	if strings.Contains(loc, s.authDomain) {
		fresh.Close()
		return nil, nil, fmt.Errorf("%w: bounced to %s", ErrSessionTransfer, loc)
	}

	moved := &Session{
		ID:            sess.ID,
		Cookies:       cookies,
		CurrentURL:    loc,
		Authenticated: true,
	}
	s.log.Info("✅ identity switch complete", zap.String("url", loc))
	return fresh, moved, nil
}
