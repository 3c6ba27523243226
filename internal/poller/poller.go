// Package poller turns the listing page into slot snapshots and
// computes the newly appeared slots cycle over cycle.
package poller

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"permitwatch/pkg/slots"
)

// ErrFetch marks a transient listing fetch or parse failure. The
// previous snapshot is left untouched when it occurs: a broken fetch
// must never read as "every slot disappeared".
var ErrFetch = errors.New("listing fetch failed")

// Lister is the slice of the browsing context the poller consumes
type Lister interface {
	Evaluate(script string, out interface{}) error
	Reload() error
}

// candidateSelectors are the locator strategies for slot elements,
// tried in order; the first that yields anything wins. The portal has
// shipped several markups for the availability widget.
var candidateSelectors = []string{
	".slot-disponible",
	".disponible",
	"[data-disponible='true']",
	".slot.available",
}

// Poller holds the one piece of cycle-to-cycle state: the snapshot of
// the previous tick, initially empty.
type Poller struct {
	page      Lister
	selectors []string
	prev      slots.Snapshot
	log       *zap.Logger
}

// New creates a poller over the given page
func New(page Lister, log *zap.Logger) *Poller {
	return &Poller{
		page:      page,
		selectors: candidateSelectors,
		prev:      slots.NewSnapshot(nil),
		log:       log,
	}
}

// Previous exposes the prior snapshot for logging and tests
func (p *Poller) Previous() slots.Snapshot {
	return p.prev
}

// Tick reads the current listing and returns the slots that were not
// present in the previous cycle, keyed by identity only. On success the
// previous snapshot is replaced wholesale, so a slot that vanishes for
// one cycle and returns later is reported as new again. On ErrFetch the
// previous snapshot is unchanged.
func (p *Poller) Tick() ([]slots.Slot, error) {
	found, err := p.extract()
	if err != nil {
		return nil, err
	}

	cur := slots.NewSnapshot(found)
	fresh := slots.Diff(p.prev, cur)
	p.prev = cur

	p.log.Info("🔄 cycle complete",
		zap.Int("visible", cur.Len()),
		zap.Int("new", len(fresh)))
	return fresh, nil
}

// Refresh soft-reloads the listing between cycles to keep the session
// warm
func (p *Poller) Refresh() error {
	if err := p.page.Reload(); err != nil {
		return fmt.Errorf("%w: %v", ErrFetch, err)
	}
	return nil
}

// extract probes each candidate selector until one yields elements.
// A page where every probe runs clean but matches nothing is a
// legitimate zero-slot listing, not an error.
func (p *Poller) extract() ([]slots.Slot, error) {
	var lastErr error
	failures := 0
	for _, sel := range p.selectors {
		var out []slots.Slot
		if err := p.page.Evaluate(extractScript(sel), &out); err != nil {
			failures++
			lastErr = err
			continue
		}
		if len(out) > 0 {
			return out, nil
		}
	}
	if failures == len(p.selectors) {
		return nil, fmt.Errorf("%w: %v", ErrFetch, lastErr)
	}
	return nil, nil
}

// extractScript maps matched elements to slot records. Field names line
// up with the Slot JSON tags so the evaluation unmarshals directly.
func extractScript(sel string) string {
	return fmt.Sprintf(`
		(() => {
			const out = [];
			document.querySelectorAll(%q).forEach((el) => {
				const pick = (q) => {
					const n = el.querySelector(q);
					return n ? n.textContent.trim() : '';
				};
				const date = pick('.date') || (el.dataset ? el.dataset.date || '' : '');
				if (!date) return;
				const places = parseInt(pick('.places'), 10);
				out.push({
					date: date,
					hour: pick('.heure') || pick('.hour'),
					location: pick('.lieu') || pick('.location'),
					exam_type: (el.dataset && el.dataset.type) || 'conduite',
					places_available: isNaN(places) ? 1 : places,
				});
			});
			return out;
		})()`, sel)
}
