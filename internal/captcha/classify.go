// Package captcha detects the human-verification gate on the login
// page and drives the external solving service when one is configured.
package captcha

import (
	"fmt"
	"regexp"
	"strings"
)

// Kind enumerates the challenge variants the portal is known to serve
type Kind int

const (
	None Kind = iota
	Turnstile
	RecaptchaV2
	RecaptchaV3
	HCaptcha
	Unknown
)

func (k Kind) String() string {
	switch k {
	case None:
		return "none"
	case Turnstile:
		return "turnstile"
	case RecaptchaV2:
		return "recaptcha_v2"
	case RecaptchaV3:
		return "recaptcha_v3"
	case HCaptcha:
		return "hcaptcha"
	default:
		return "unknown"
	}
}

// Challenge describes the gate found on a page. Invisible means no user
// interaction is structurally required: the widget validates on its own
// and the submit control unlocks when it is satisfied.
type Challenge struct {
	Kind      Kind
	SiteKey   string
	PageURL   string
	Invisible bool
}

var (
	sitekeyRe     = regexp.MustCompile(`data-sitekey="([^"]+)"`)
	recaptchaFrRe = regexp.MustCompile(`<iframe[^>]+src="([^"]*recaptcha[^"]*)"`)
	hcaptchaFrRe  = regexp.MustCompile(`<iframe[^>]+src="[^"]*hcaptcha[^"]*"`)
	grecaptchaRe  = regexp.MustCompile(`grecaptcha\.(execute|ready)`)
)

// Classify inspects page HTML and produces a typed challenge
// descriptor. Probes run in a fixed order; the first structural match
// wins. submitDisabled distinguishes an unidentified gate (the portal
// locks the submit control until its widget passes) from no gate at
// all.
func Classify(html, pageURL string, submitDisabled bool) Challenge {
	if strings.Contains(html, "challenges.cloudflare.com/turnstile") || strings.Contains(html, "cf-turnstile") {
		var sitekey string
		if m := sitekeyRe.FindStringSubmatch(html); m != nil {
			sitekey = m[1]
		}
		return Challenge{Kind: Turnstile, SiteKey: sitekey, PageURL: pageURL, Invisible: true}
	}

	if m := recaptchaFrRe.FindStringSubmatch(html); m != nil {
		if sitekey := sitekeyFromFrameSrc(m[1]); sitekey != "" {
			return Challenge{Kind: RecaptchaV2, SiteKey: sitekey, PageURL: pageURL}
		}
	}

	if grecaptchaRe.MatchString(html) {
		return Challenge{Kind: RecaptchaV3, PageURL: pageURL, Invisible: true}
	}

	if hcaptchaFrRe.MatchString(html) {
		var sitekey string
		if m := sitekeyRe.FindStringSubmatch(html); m != nil {
			sitekey = m[1]
		}
		return Challenge{Kind: HCaptcha, SiteKey: sitekey, PageURL: pageURL}
	}

	if submitDisabled {
		return Challenge{Kind: Unknown, PageURL: pageURL}
	}

	return Challenge{Kind: None, PageURL: pageURL}
}

// sitekeyFromFrameSrc pulls the k= query parameter out of a recaptcha
// iframe URL
func sitekeyFromFrameSrc(src string) string {
	idx := strings.Index(src, "k=")
	if idx < 0 {
		return ""
	}
	key := src[idx+2:]
	if amp := strings.IndexByte(key, '&'); amp >= 0 {
		key = key[:amp]
	}
	return key
}

// InjectionScript returns the page script that plants a solved token
// where the challenge widget would have put it
func InjectionScript(ch Challenge, token string) (string, error) {
	switch ch.Kind {
	case RecaptchaV2, RecaptchaV3:
		return fmt.Sprintf(`
			document.getElementById('g-recaptcha-response').innerHTML = %[1]q;
			if (typeof ___grecaptcha_cfg !== 'undefined') {
				var clients = ___grecaptcha_cfg.clients;
				for (var client in clients) {
					if (clients[client].callback) {
						clients[client].callback(%[1]q);
					}
				}
			}`, token), nil
	case HCaptcha:
		return fmt.Sprintf(`
			document.querySelector('[name="h-captcha-response"]').innerHTML = %[1]q;
			document.querySelector('[name="g-recaptcha-response"]').innerHTML = %[1]q;`, token), nil
	case Turnstile:
		return fmt.Sprintf(`
			var field = document.querySelector('[name="cf-turnstile-response"]');
			if (field) { field.value = %q; }`, token), nil
	default:
		return "", fmt.Errorf("no injection path for %s challenge", ch.Kind)
	}
}
