package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"permitwatch/internal/captcha"
	"permitwatch/pkg/config"
)

// Login page structure (Keycloak realm)
const (
	selUsername = "#username"
	selPassword = "#password"
	selSubmit   = "#kc-login"
)

// errorSelectors hold explicit feedback elements, probed in order
var errorSelectors = []string{".kc-feedback-text", "#kc-error-message"}

// Solver resolves a visible challenge into a token. *captcha.Solver
// satisfies it.
type Solver interface {
	Configured() bool
	Solve(ctx context.Context, ch captcha.Challenge) (string, error)
}

// Manager runs the login state machine over a Page
type Manager struct {
	loginURL   string
	authDomain string
	solver     Solver
	confirm    Confirmer
	log        *zap.Logger
	state      State

	formTimeout   time.Duration
	enablePoll    time.Duration
	enableBound   time.Duration
	solveTimeout  time.Duration
	redirectWait  time.Duration
	submitPause   time.Duration
	injectSettle  time.Duration
	submitRetries int
}

// NewManager builds a manager. solver and confirm may be nil; the
// corresponding fallback paths are then unavailable.
func NewManager(solver Solver, confirm Confirmer, log *zap.Logger) *Manager {
	return &Manager{
		loginURL:      config.LoginURL,
		authDomain:    config.AuthDomain,
		solver:        solver,
		confirm:       confirm,
		log:           log,
		formTimeout:   20 * time.Second,
		enablePoll:    2 * time.Second,
		enableBound:   90 * time.Second,
		solveTimeout:  180 * time.Second,
		redirectWait:  8 * time.Second,
		submitPause:   2 * time.Second,
		injectSettle:  3 * time.Second,
		submitRetries: 3,
	}
}

// State returns the current machine state. It reports authenticated
// only once the flow has fully terminated in success.
func (m *Manager) State() State {
	return m.state
}

// Authenticate drives the full login flow: load form, fill credentials,
// resolve any challenge, submit, verify. On success the returned
// session is authenticated and owned by the given page.
func (m *Manager) Authenticate(ctx context.Context, page Page, creds config.Credentials) (*Session, error) {
	m.state = StateInit

	m.log.Info("🔐 starting login", zap.String("url", m.loginURL))
	if err := page.Navigate(m.loginURL); err != nil {
		return m.fail(fmt.Errorf("failed to reach login page: %w", err))
	}

	if err := page.WaitVisible(selUsername, m.formTimeout); err != nil {
		page.SavePage("form_not_found")
		return m.fail(fmt.Errorf("%w: %v", ErrFormNotFound, err))
	}
	m.state = StateFormLoaded
	page.SavePage("form_loaded")

	if err := page.Fill(selUsername, creds.Username); err != nil {
		return m.fail(fmt.Errorf("failed to fill username: %w", err))
	}
	if err := page.Fill(selPassword, creds.Password); err != nil {
		return m.fail(fmt.Errorf("failed to fill password: %w", err))
	}
	m.state = StateCredentialsFilled
	m.log.Info("✍️  credentials filled")

	if err := m.resolveChallenge(ctx, page); err != nil {
		return m.fail(err)
	}
	m.state = StateCaptchaResolved

	if err := m.submit(ctx, page); err != nil {
		return m.fail(err)
	}
	m.state = StateSubmitted
	page.SavePage("post_submit")

	sess, err := m.verify(page)
	if err != nil {
		return m.fail(err)
	}

	m.state = StateAuthenticated
	m.log.Info("✅ login succeeded", zap.String("url", sess.CurrentURL))
	return sess, nil
}

func (m *Manager) fail(err error) (*Session, error) {
	m.state = StateFailed
	return nil, err
}

// resolveChallenge classifies the gate on the page and gets past it.
// With no challenge present the pending state is skipped entirely.
func (m *Manager) resolveChallenge(ctx context.Context, page Page) error {
	html, err := page.Content()
	if err != nil {
		return fmt.Errorf("failed to read login page: %w", err)
	}
	loc, err := page.Location()
	if err != nil {
		return fmt.Errorf("failed to read location: %w", err)
	}
	disabled, err := m.submitDisabled(page)
	if err != nil {
		return err
	}

	ch := captcha.Classify(html, loc, disabled)
	if ch.Kind == captcha.None {
		m.log.Info("✅ no challenge present")
		return nil
	}

	m.state = StateCaptchaPending
	m.log.Info("🔒 challenge detected",
		zap.String("type", ch.Kind.String()),
		zap.Bool("invisible", ch.Invisible))

	if ch.Invisible {
		if err := m.awaitSubmitEnabled(ctx, page); err == nil {
			return nil
		}
		m.log.Warn("challenge did not self-resolve within bound, asking operator")
		return m.manualConfirm(ctx, "Resolve the challenge in the browser, then confirm")
	}

	if m.solver != nil && m.solver.Configured() && ch.SiteKey != "" {
		if err := m.solveAndInject(ctx, page, ch); err == nil {
			return nil
		} else {
			m.log.Warn("automated solving failed", zap.Error(err))
		}
	}
	return m.manualConfirm(ctx, "Solve the visible challenge in the browser, then confirm")
}

func (m *Manager) solveAndInject(ctx context.Context, page Page, ch captcha.Challenge) error {
	solveCtx, cancel := context.WithTimeout(ctx, m.solveTimeout)
	defer cancel()

	token, err := m.solver.Solve(solveCtx, ch)
	if err != nil {
		return err
	}

	script, err := captcha.InjectionScript(ch, token)
	if err != nil {
		return err
	}
	if err := page.Evaluate(script, nil); err != nil {
		return fmt.Errorf("token injection failed: %w", err)
	}
	m.log.Info("💉 token injected")

	// The widget needs a beat to propagate the token to the form.
	select {
	case <-time.After(m.injectSettle):
	case <-ctx.Done():
		return ctx.Err()
	}

	disabled, err := m.submitDisabled(page)
	if err != nil {
		return err
	}
	if disabled {
		return fmt.Errorf("submit control still disabled after injection")
	}
	return nil
}

// awaitSubmitEnabled polls the submit control at a fixed interval until
// it unlocks or the bound elapses
func (m *Manager) awaitSubmitEnabled(ctx context.Context, page Page) error {
	deadline := time.Now().Add(m.enableBound)
	for {
		disabled, err := m.submitDisabled(page)
		if err != nil {
			return err
		}
		if !disabled {
			m.log.Info("✅ challenge self-resolved")
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("submit control still disabled after %s", m.enableBound)
		}
		select {
		case <-time.After(m.enablePoll):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (m *Manager) manualConfirm(ctx context.Context, prompt string) error {
	if m.confirm == nil {
		return fmt.Errorf("%w: no manual confirmation path available", ErrCaptchaUnresolved)
	}
	if err := m.confirm.Await(ctx, prompt); err != nil {
		return fmt.Errorf("%w: %v", ErrCaptchaUnresolved, err)
	}
	return nil
}

func (m *Manager) submitDisabled(page Page) (bool, error) {
	_, present, err := page.Attr(selSubmit, "disabled")
	if err != nil {
		return false, fmt.Errorf("failed to probe submit control: %w", err)
	}
	return present, nil
}

// submit clicks the submit control, retrying the primary path a fixed
// number of times before falling back to a script click
func (m *Manager) submit(ctx context.Context, page Page) error {
	var lastErr error
	for attempt := 1; attempt <= m.submitRetries; attempt++ {
		if err := page.Click(selSubmit); err == nil {
			m.log.Info("🔄 form submitted", zap.Int("attempt", attempt))
			return m.awaitRedirect(ctx)
		} else {
			lastErr = err
			m.log.Warn("submit click failed", zap.Int("attempt", attempt), zap.Error(err))
		}
		select {
		case <-time.After(m.submitPause):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := page.ClickByScript(selSubmit); err != nil {
		return fmt.Errorf("%w: primary clicks exhausted (%v), script click failed: %v", ErrSubmission, lastErr, err)
	}
	m.log.Info("🔄 form submitted via script fallback")
	return m.awaitRedirect(ctx)
}

func (m *Manager) awaitRedirect(ctx context.Context) error {
	select {
	case <-time.After(m.redirectWait):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// verify classifies the post-submit outcome by URL. Staying on the auth
// domain is failure; an explicit error element distinguishes rejected
// credentials from an ambiguous non-redirect.
func (m *Manager) verify(page Page) (*Session, error) {
	loc, err := page.Location()
	if err != nil {
		return nil, fmt.Errorf("failed to read post-submit location: %w", err)
	}

	if strings.Contains(loc, m.authDomain) || strings.Contains(loc, "login-actions") {
		page.SavePage("login_error")
		for _, sel := range errorSelectors {
			found, err := page.Exists(sel)
			if err != nil || !found {
				continue
			}
			var text string
			script := fmt.Sprintf(`document.querySelector(%q).innerText`, sel)
			if err := page.Evaluate(script, &text); err == nil && text != "" {
				return nil, fmt.Errorf("%w: %s", ErrAuthentication, strings.TrimSpace(text))
			}
			return nil, ErrAuthentication
		}
		return nil, ErrUnknownFailure
	}

	cookies, err := page.Cookies()
	if err != nil {
		return nil, fmt.Errorf("failed to capture session cookies: %w", err)
	}
	if len(cookies) == 0 {
		return nil, fmt.Errorf("%w: left auth domain without a session cookie", ErrUnknownFailure)
	}

	return &Session{
		ID:            uuid.NewString(),
		Cookies:       cookies,
		CurrentURL:    loc,
		Authenticated: true,
	}, nil
}
