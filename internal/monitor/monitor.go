// Package monitor runs the long-lived surveillance loop: tick,
// dispatch, persist, sleep, repeat until cancelled.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"permitwatch/internal/history"
	"permitwatch/internal/notify"
	"permitwatch/internal/poller"
	"permitwatch/pkg/slots"
)

// Evaluator is the page slice needed to find the reservations link
type Evaluator interface {
	Evaluate(script string, out interface{}) error
}

// listingLinkTexts are the anchor labels the portal has used for the
// reservations area, tried in order
var listingLinkTexts = []string{
	"Réservation", "Réserver", "Créneaux",
	"Disponibilités", "Rendez-vous", "Planning", "Examens",
}

// LocateListing clicks through to the reservations page from the
// dashboard. Returns false when no known link is present; the caller
// may already be on the listing.
func LocateListing(page Evaluator, log *zap.Logger) bool {
	script := fmt.Sprintf(`
		(() => {
			const texts = %s;
			for (const t of texts) {
				const link = Array.from(document.querySelectorAll('a')).find((a) => a.textContent.includes(t));
				if (link) { link.click(); return t; }
			}
			return '';
		})()`, jsStringArray(listingLinkTexts))

	var matched string
	if err := page.Evaluate(script, &matched); err != nil {
		log.Warn("listing navigation failed", zap.Error(err))
		return false
	}
	if matched == "" {
		log.Warn("no reservations link found, assuming current page is the listing")
		return false
	}
	log.Info("🔍 navigated to reservations", zap.String("link", matched))
	return true
}

func jsStringArray(ss []string) string {
	out := "["
	for i, s := range ss {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("%q", s)
	}
	return out + "]"
}

// Monitor is the single sequential worker of the poll phase
type Monitor struct {
	poller     *poller.Poller
	dispatcher *notify.Dispatcher
	store      *history.Store
	interval   time.Duration
	backoff    time.Duration
	log        *zap.Logger
}

// New wires the loop together
func New(p *poller.Poller, d *notify.Dispatcher, s *history.Store, interval, backoff time.Duration, log *zap.Logger) *Monitor {
	return &Monitor{
		poller:     p,
		dispatcher: d,
		store:      s,
		interval:   interval,
		backoff:    backoff,
		log:        log,
	}
}

// Run polls until ctx is cancelled. Transient fetch failures use the
// short backoff and never clear the previous snapshot; the loop retries
// indefinitely because the monitor is meant to outlive network trouble.
func (m *Monitor) Run(ctx context.Context) error {
	m.log.Info("🔍 surveillance active",
		zap.Duration("interval", m.interval),
		zap.Int("channels", m.dispatcher.Channels()))

	for {
		fresh, err := m.poller.Tick()
		if err != nil {
			if !errors.Is(err, poller.ErrFetch) {
				return err
			}
			m.log.Warn("transient fetch failure, retrying shortly", zap.Error(err))
			if err := m.sleep(ctx, m.backoff); err != nil {
				return err
			}
			if err := m.poller.Refresh(); err != nil {
				m.log.Warn("refresh after fetch failure also failed", zap.Error(err))
			}
			continue
		}

		var results []notify.ChannelResult
		if len(fresh) > 0 {
			m.log.Info("🆕 new slots found", zap.Int("count", len(fresh)),
				zap.Strings("slots", slots.Summaries(fresh)))
			results = m.dispatcher.Dispatch(ctx, fresh)
		}

		rec := history.NewRecord(m.poller.Previous().Slots(), results)
		if err := m.store.Append(rec); err != nil {
			m.log.Warn("history append failed", zap.Error(err))
		}

		if err := m.sleep(ctx, m.interval); err != nil {
			return err
		}
		if err := m.poller.Refresh(); err != nil {
			m.log.Warn("soft refresh failed", zap.Error(err))
		}
	}
}

func (m *Monitor) sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
