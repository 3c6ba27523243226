package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"permitwatch/internal/captcha"
	"permitwatch/pkg/config"
)

// fakePage scripts the browsing context for state-machine tests
type fakePage struct {
	html          string
	location      string
	postSubmitURL string
	bounceTo      string

	waitErr           error
	failClicks        int
	failScriptClick   bool
	disabledRemaining int
	errorSelectors    map[string]bool
	errorText         string

	cookies       []*network.Cookie
	rejectCookies map[string]bool
	setCookies    []string

	filled      map[string]string
	navigations []string
	snapshots   []string
	injected    string
	clicks      int
	scriptClick int
	closed      int
	events      []string
}

func newFakePage() *fakePage {
	return &fakePage{
		location: config.LoginURL,
		filled:   map[string]string{},
		cookies:  []*network.Cookie{{Name: "AUTH_SESSION_ID", Value: "abc", Domain: "pro.permisdeconduire.gouv.fr"}},
	}
}

func (f *fakePage) Navigate(url string) error {
	f.navigations = append(f.navigations, url)
	if f.bounceTo != "" {
		f.location = f.bounceTo
	} else {
		f.location = url
	}
	return nil
}

func (f *fakePage) Reload() error { return nil }

func (f *fakePage) WaitVisible(sel string, timeout time.Duration) error { return f.waitErr }

func (f *fakePage) Fill(sel, text string) error {
	f.filled[sel] = text
	return nil
}

func (f *fakePage) Click(sel string) error {
	if f.failClicks > 0 {
		f.failClicks--
		return errors.New("click intercepted")
	}
	f.clicks++
	if f.postSubmitURL != "" {
		f.location = f.postSubmitURL
	}
	return nil
}

func (f *fakePage) ClickByScript(sel string) error {
	if f.failScriptClick {
		return errors.New("script click failed")
	}
	f.scriptClick++
	if f.postSubmitURL != "" {
		f.location = f.postSubmitURL
	}
	return nil
}

func (f *fakePage) Evaluate(script string, out interface{}) error {
	if strings.Contains(script, "innerText") {
		if p, ok := out.(*string); ok {
			*p = f.errorText
		}
		return nil
	}
	f.injected = script
	return nil
}

func (f *fakePage) Exists(sel string) (bool, error) {
	return f.errorSelectors[sel], nil
}

func (f *fakePage) Attr(sel, name string) (string, bool, error) {
	if name == "disabled" && f.disabledRemaining > 0 {
		f.disabledRemaining--
		return "", true, nil
	}
	return "", false, nil
}

func (f *fakePage) Content() (string, error)  { return f.html, nil }
func (f *fakePage) Location() (string, error) { return f.location, nil }

func (f *fakePage) Cookies() ([]*network.Cookie, error) { return f.cookies, nil }

func (f *fakePage) SetCookie(c *network.Cookie) error {
	if f.rejectCookies[c.Name] {
		return fmt.Errorf("cookie %s rejected", c.Name)
	}
	f.setCookies = append(f.setCookies, c.Name)
	return nil
}

func (f *fakePage) SavePage(label string) { f.snapshots = append(f.snapshots, label) }

func (f *fakePage) Close() {
	f.closed++
	f.events = append(f.events, "close")
}

type fakeConfirm struct {
	called bool
	err    error
}

func (c *fakeConfirm) Await(ctx context.Context, prompt string) error {
	c.called = true
	return c.err
}

type fakeSolver struct {
	token  string
	err    error
	called bool
}

func (s *fakeSolver) Configured() bool { return true }

func (s *fakeSolver) Solve(ctx context.Context, ch captcha.Challenge) (string, error) {
	s.called = true
	return s.token, s.err
}

func testManager(t *testing.T, solver Solver, confirm Confirmer) *Manager {
	t.Helper()
	m := NewManager(solver, confirm, zaptest.NewLogger(t))
	m.formTimeout = 10 * time.Millisecond
	m.enablePoll = time.Millisecond
	m.enableBound = 20 * time.Millisecond
	m.redirectWait = time.Millisecond
	m.submitPause = time.Millisecond
	m.injectSettle = time.Millisecond
	return m
}

var creds = config.Credentials{Username: "user@example.org", Password: "hunter2"}

func TestAuthenticateWithoutChallenge(t *testing.T) {
	page := newFakePage()
	page.postSubmitURL = "https://pro.permisdeconduire.gouv.fr/dashboard"
	m := testManager(t, nil, nil)

	sess, err := m.Authenticate(context.Background(), page, creds)
	require.NoError(t, err)

	assert.True(t, sess.Authenticated)
	assert.Equal(t, StateAuthenticated, m.State())
	assert.Equal(t, page.postSubmitURL, sess.CurrentURL)
	assert.NotEmpty(t, sess.ID)
	assert.NotEmpty(t, sess.Cookies)
	assert.Equal(t, config.LoginURL, page.navigations[0])
	assert.Equal(t, creds.Username, page.filled["#username"])
	assert.Equal(t, creds.Password, page.filled["#password"])
}

func TestAuthenticateFormNotFound(t *testing.T) {
	page := newFakePage()
	page.waitErr = errors.New("timeout waiting for #username")
	m := testManager(t, nil, nil)

	_, err := m.Authenticate(context.Background(), page, creds)
	assert.ErrorIs(t, err, ErrFormNotFound)
	assert.Equal(t, StateFailed, m.State())
	assert.Contains(t, page.snapshots, "form_not_found")
}

func TestAuthenticateWrongPassword(t *testing.T) {
	page := newFakePage()
	// No redirect: the location stays on the auth domain, and the
	// portal renders explicit feedback.
	page.errorSelectors = map[string]bool{".kc-feedback-text": true}
	page.errorText = "Invalid username or password."
	m := testManager(t, nil, nil)

	_, err := m.Authenticate(context.Background(), page, creds)
	assert.ErrorIs(t, err, ErrAuthentication)
	assert.Contains(t, err.Error(), "Invalid username or password.")
	assert.Equal(t, StateFailed, m.State())
	assert.Equal(t, 1, page.clicks, "bad credentials must not be retried")
	assert.Contains(t, page.snapshots, "login_error")
}

func TestAuthenticateUnknownFailure(t *testing.T) {
	page := newFakePage()
	// Still on the auth domain, but no error element anywhere.
	m := testManager(t, nil, nil)

	_, err := m.Authenticate(context.Background(), page, creds)
	assert.ErrorIs(t, err, ErrUnknownFailure)
	assert.Equal(t, StateFailed, m.State())
}

func TestInvisibleChallengeSelfResolves(t *testing.T) {
	page := newFakePage()
	page.html = `<div class="cf-turnstile" data-sitekey="sk"></div>`
	page.disabledRemaining = 4
	page.postSubmitURL = "https://pro.permisdeconduire.gouv.fr/dashboard"
	m := testManager(t, nil, nil)

	sess, err := m.Authenticate(context.Background(), page, creds)
	require.NoError(t, err)
	assert.True(t, sess.Authenticated)
	assert.Equal(t, 0, page.disabledRemaining, "submit control was polled until it unlocked")
}

func TestInvisibleChallengeFallsBackToManual(t *testing.T) {
	page := newFakePage()
	page.html = `<div class="cf-turnstile" data-sitekey="sk"></div>`
	page.disabledRemaining = 1 << 20
	page.postSubmitURL = "https://pro.permisdeconduire.gouv.fr/dashboard"
	confirm := &fakeConfirm{}
	m := testManager(t, nil, confirm)

	sess, err := m.Authenticate(context.Background(), page, creds)
	require.NoError(t, err)
	assert.True(t, confirm.called, "bound exhaustion must hand over to the operator")
	assert.True(t, sess.Authenticated)
}

func TestChallengeUnresolvedWithoutManualPath(t *testing.T) {
	page := newFakePage()
	page.html = `<div class="cf-turnstile" data-sitekey="sk"></div>`
	page.disabledRemaining = 1 << 20
	m := testManager(t, nil, nil)

	_, err := m.Authenticate(context.Background(), page, creds)
	assert.ErrorIs(t, err, ErrCaptchaUnresolved)
	assert.Equal(t, StateFailed, m.State())
	// Authenticated is reachable only through a resolved challenge:
	// submission was never even attempted.
	assert.Equal(t, 0, page.clicks)
	assert.Equal(t, 0, page.scriptClick)
}

func TestVisibleChallengeSolvedAutomatically(t *testing.T) {
	page := newFakePage()
	page.html = `<iframe src="https://www.google.com/recaptcha/api2/anchor?k=6LdKey"></iframe>`
	page.disabledRemaining = 1 // unlocked once the token lands
	page.postSubmitURL = "https://pro.permisdeconduire.gouv.fr/dashboard"
	solver := &fakeSolver{token: "tok-999"}
	m := testManager(t, solver, nil)

	sess, err := m.Authenticate(context.Background(), page, creds)
	require.NoError(t, err)
	assert.True(t, solver.called)
	assert.Contains(t, page.injected, "tok-999")
	assert.True(t, sess.Authenticated)
}

func TestVisibleChallengeSolverFailureFallsBackToManual(t *testing.T) {
	page := newFakePage()
	page.html = `<iframe src="https://www.google.com/recaptcha/api2/anchor?k=6LdKey"></iframe>`
	page.postSubmitURL = "https://pro.permisdeconduire.gouv.fr/dashboard"
	solver := &fakeSolver{err: errors.New("out of balance")}
	confirm := &fakeConfirm{}
	m := testManager(t, solver, confirm)

	_, err := m.Authenticate(context.Background(), page, creds)
	require.NoError(t, err)
	assert.True(t, solver.called)
	assert.True(t, confirm.called)
}

func TestSubmitFallsBackToScriptClick(t *testing.T) {
	page := newFakePage()
	page.failClicks = 1 << 20
	page.postSubmitURL = "https://pro.permisdeconduire.gouv.fr/dashboard"
	m := testManager(t, nil, nil)

	sess, err := m.Authenticate(context.Background(), page, creds)
	require.NoError(t, err)
	assert.Equal(t, 1, page.scriptClick)
	assert.True(t, sess.Authenticated)
}

func TestSubmissionErrorWhenAllClicksFail(t *testing.T) {
	page := newFakePage()
	page.failClicks = 1 << 20
	page.failScriptClick = true
	m := testManager(t, nil, nil)

	_, err := m.Authenticate(context.Background(), page, creds)
	assert.ErrorIs(t, err, ErrSubmission)
	assert.Equal(t, StateFailed, m.State())
}

func TestStateNeverAuthenticatedMidFlight(t *testing.T) {
	m := testManager(t, nil, nil)
	assert.NotEqual(t, StateAuthenticated, m.State())
	assert.False(t, m.State().Terminal())

	page := newFakePage()
	page.waitErr = errors.New("no form")
	_, _ = m.Authenticate(context.Background(), page, creds)
	assert.True(t, m.State().Terminal())
	assert.NotEqual(t, StateAuthenticated, m.State())
}
