// Package session drives the portal login state machine and the
// transfer of an authenticated session between network identities.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/chromedp/cdproto/network"
)

// Errors surfaced by the authentication and relocation flows
var (
	// ErrFormNotFound means the credential fields never appeared
	ErrFormNotFound = errors.New("login form not found")

	// ErrAuthentication means the portal gave explicit bad-credential feedback
	ErrAuthentication = errors.New("authentication rejected")

	// ErrCaptchaUnresolved means automated and manual challenge paths were exhausted
	ErrCaptchaUnresolved = errors.New("captcha unresolved")

	// ErrUnknownFailure means no redirect and no error text; outcome is ambiguous
	ErrUnknownFailure = errors.New("login outcome unknown")

	// ErrSubmission means every click strategy on the submit control failed
	ErrSubmission = errors.New("form submission failed")

	// ErrSessionTransfer means the relocated session fell back to the auth domain
	ErrSessionTransfer = errors.New("session lost during identity switch")
)

// State tracks progress through the login flow
type State int

const (
	StateInit State = iota
	StateFormLoaded
	StateCredentialsFilled
	StateCaptchaPending
	StateCaptchaResolved
	StateSubmitted
	StateAuthenticated
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateFormLoaded:
		return "form_loaded"
	case StateCredentialsFilled:
		return "credentials_filled"
	case StateCaptchaPending:
		return "captcha_pending"
	case StateCaptchaResolved:
		return "captcha_resolved"
	case StateSubmitted:
		return "submitted"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "failed"
	}
}

// Terminal reports whether the state machine has finished
func (s State) Terminal() bool {
	return s == StateAuthenticated || s == StateFailed
}

// Session is the authenticated browsing state. It is owned by exactly
// one Page at a time and moves by value during an identity switch.
type Session struct {
	ID            string
	Cookies       []*network.Cookie
	CurrentURL    string
	Authenticated bool
}

// Page is the browsing-context contract the login flow consumes.
// *browser.Harness satisfies it.
type Page interface {
	Navigate(url string) error
	Reload() error
	WaitVisible(sel string, timeout time.Duration) error
	Fill(sel, text string) error
	Click(sel string) error
	ClickByScript(sel string) error
	Evaluate(script string, out interface{}) error
	Exists(sel string) (bool, error)
	Attr(sel, name string) (string, bool, error)
	Content() (string, error)
	Location() (string, error)
	Cookies() ([]*network.Cookie, error)
	SetCookie(c *network.Cookie) error
	SavePage(label string)
	Close()
}

// Confirmer is a cancellable wait for external confirmation, used when
// a challenge has to be resolved by the operator. Implementations must
// honor ctx cancellation.
type Confirmer interface {
	Await(ctx context.Context, prompt string) error
}
