// Package browser wraps chromedp behind the small surface the rest of
// the monitor needs: navigation, element probes, paced form input,
// script evaluation and cookie transfer.
package browser

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// Options configures a harness instance
type Options struct {
	// ProxyServer is the egress proxy in host:port form, empty for a
	// direct connection. Credentials, when present, are embedded as
	// user:pass@host:port.
	ProxyServer string
	Headless    bool
	UserAgent   string
	SnapshotDir string
}

// Harness owns one browser instance. It is the exclusive holder of the
// session until Close; ownership moves between harnesses only through
// an identity switch.
type Harness struct {
	allocCtx    context.Context
	cancelAlloc context.CancelFunc
	ctx         context.Context
	cancel      context.CancelFunc
	log         *zap.Logger
	snapshotDir string
	closeOnce   sync.Once
}

const defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// New launches a browser bound to the given network identity
func New(parent context.Context, opts Options, log *zap.Logger) (*Harness, error) {
	ua := opts.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.WindowSize(1920, 1080),
		chromedp.NoSandbox,
		chromedp.UserAgent(ua),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-features", "SameSiteByDefaultCookies,CookiesWithoutSameSiteMustBeSecure"),
		chromedp.Flag("lang", "fr-FR"),
	)
	if opts.Headless {
		allocOpts = append(allocOpts, chromedp.Headless)
	} else {
		allocOpts = append(allocOpts, chromedp.Flag("headless", false))
	}
	if opts.ProxyServer != "" {
		allocOpts = append(allocOpts, chromedp.ProxyServer("http://"+opts.ProxyServer))
		log.Info("🌐 proxy configured", zap.String("server", opts.ProxyServer))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(parent, allocOpts...)

	ctx, cancel := chromedp.NewContext(
		allocCtx,
		chromedp.WithLogf(func(format string, args ...interface{}) {
			msg := fmt.Sprintf(format, args...)
			if (strings.Contains(msg, "error") || strings.Contains(msg, "failed")) &&
				!strings.Contains(msg, "cookiePart") &&
				!strings.Contains(msg, "unmarshal event") {
				log.Warn("🌐 browser", zap.String("msg", msg))
			}
		}),
	)

	// Start the browser process now so a broken Chrome install fails
	// here instead of on the first navigation.
	if err := chromedp.Run(ctx); err != nil {
		cancel()
		cancelAlloc()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	return &Harness{
		allocCtx:    allocCtx,
		cancelAlloc: cancelAlloc,
		ctx:         ctx,
		cancel:      cancel,
		log:         log,
		snapshotDir: opts.SnapshotDir,
	}, nil
}

// Close shuts the browser down. Safe to call more than once; every exit
// path of the caller is expected to reach it.
func (h *Harness) Close() {
	h.closeOnce.Do(func() {
		h.cancel()
		h.cancelAlloc()
	})
}

// Navigate loads the given URL
func (h *Harness) Navigate(url string) error {
	if err := chromedp.Run(h.ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

// Reload performs a soft refresh of the current page
func (h *Harness) Reload() error {
	if err := chromedp.Run(h.ctx, chromedp.Reload()); err != nil {
		return fmt.Errorf("failed to reload page: %w", err)
	}
	return nil
}

// WaitVisible blocks until the selector matches a visible element or
// the timeout elapses
func (h *Harness) WaitVisible(sel string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(h.ctx, timeout)
	defer cancel()
	if err := chromedp.Run(ctx, chromedp.WaitVisible(sel, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("element %q not visible within %s: %w", sel, timeout, err)
	}
	return nil
}

// Click clicks the first element matching the selector
func (h *Harness) Click(sel string) error {
	ctx, cancel := context.WithTimeout(h.ctx, 10*time.Second)
	defer cancel()
	if err := chromedp.Run(ctx, chromedp.Click(sel, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("failed to click %q: %w", sel, err)
	}
	return nil
}

// ClickByScript clicks through the DOM directly, bypassing the input
// pipeline. Last-resort path when the synthesized click fails.
func (h *Harness) ClickByScript(sel string) error {
	script := fmt.Sprintf(`document.querySelector(%q).click()`, sel)
	if err := chromedp.Run(h.ctx, chromedp.Evaluate(script, nil)); err != nil {
		return fmt.Errorf("script click on %q failed: %w", sel, err)
	}
	return nil
}

// Fill types text into the matched field one character at a time with
// random 50-150ms pacing. The portal profiles input cadence, so paste
// style filling gets the session flagged.
func (h *Harness) Fill(sel, text string) error {
	if err := h.Click(sel); err != nil {
		return err
	}
	for _, r := range text {
		if err := chromedp.Run(h.ctx, chromedp.SendKeys(sel, string(r), chromedp.ByQuery)); err != nil {
			return fmt.Errorf("failed to type into %q: %w", sel, err)
		}
		delay := time.Duration(50+rand.Intn(100)) * time.Millisecond
		select {
		case <-time.After(delay):
		case <-h.ctx.Done():
			return h.ctx.Err()
		}
	}
	return nil
}

// Evaluate runs the script in page context, unmarshalling the result
// into out when out is non-nil
func (h *Harness) Evaluate(script string, out interface{}) error {
	if err := chromedp.Run(h.ctx, chromedp.Evaluate(script, out)); err != nil {
		return fmt.Errorf("script evaluation failed: %w", err)
	}
	return nil
}

// Exists reports whether the selector matches anything on the page
func (h *Harness) Exists(sel string) (bool, error) {
	var found bool
	script := fmt.Sprintf(`document.querySelector(%q) !== null`, sel)
	if err := h.Evaluate(script, &found); err != nil {
		return false, err
	}
	return found, nil
}

// Attr returns the value of an attribute on the first matched element
func (h *Harness) Attr(sel, name string) (string, bool, error) {
	var value string
	var ok bool
	if err := chromedp.Run(h.ctx, chromedp.AttributeValue(sel, name, &value, &ok, chromedp.ByQuery)); err != nil {
		return "", false, fmt.Errorf("failed to read %s of %q: %w", name, sel, err)
	}
	return value, ok, nil
}

// Content returns the full page HTML
func (h *Harness) Content() (string, error) {
	var html string
	if err := chromedp.Run(h.ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("failed to read page content: %w", err)
	}
	return html, nil
}

// Location returns the current page URL
func (h *Harness) Location() (string, error) {
	var url string
	if err := chromedp.Run(h.ctx, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("failed to read location: %w", err)
	}
	return url, nil
}

// Cookies captures every cookie visible to the browser
func (h *Harness) Cookies() ([]*network.Cookie, error) {
	var cookies []*network.Cookie
	err := chromedp.Run(h.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = network.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to capture cookies: %w", err)
	}
	return cookies, nil
}

// SetCookie replays a single captured cookie into this browser. Callers
// treat a failure as skippable; one rejected cookie must not sink the
// whole transfer.
func (h *Harness) SetCookie(c *network.Cookie) error {
	err := chromedp.Run(h.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		params := network.SetCookie(c.Name, c.Value).
			WithDomain(c.Domain).
			WithPath(c.Path).
			WithSecure(c.Secure).
			WithHTTPOnly(c.HTTPOnly)
		if c.Expires > 0 {
			expires := cdp.TimeSinceEpoch(time.Unix(int64(c.Expires), 0))
			params = params.WithExpires(&expires)
		}
		return params.Do(ctx)
	}))
	if err != nil {
		return fmt.Errorf("failed to set cookie %s: %w", c.Name, err)
	}
	return nil
}

// SavePage dumps the current HTML under the snapshot directory for
// operator debugging. Advisory only: failures are logged, nothing in
// the monitor ever reads these back.
func (h *Harness) SavePage(label string) {
	if h.snapshotDir == "" {
		return
	}
	html, err := h.Content()
	if err != nil {
		h.log.Warn("snapshot skipped", zap.String("label", label), zap.Error(err))
		return
	}
	if err := os.MkdirAll(h.snapshotDir, 0750); err != nil {
		h.log.Warn("snapshot dir unavailable", zap.Error(err))
		return
	}
	name := fmt.Sprintf("%s_%s.html", time.Now().Format("20060102_150405"), label)
	path := filepath.Join(h.snapshotDir, name)
	if err := os.WriteFile(path, []byte(html), 0600); err != nil {
		h.log.Warn("snapshot write failed", zap.String("path", path), zap.Error(err))
		return
	}
	h.log.Info("📄 page snapshot saved", zap.String("path", path))
}
