// Package history keeps the append-only audit trail of poll cycles.
// It is never consulted for dedup; the poller owns that.
package history

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"permitwatch/internal/notify"
	"permitwatch/pkg/slots"
)

// Cap bounds the stored records; the oldest are evicted first
const Cap = 100

// Record is one cycle's findings plus the per-channel outcomes
type Record struct {
	ID         string                 `json:"id"`
	Timestamp  time.Time              `json:"timestamp"`
	TotalSlots int                    `json:"total_slots"`
	Slots      []slots.Slot           `json:"slots"`
	Results    []notify.ChannelResult `json:"results,omitempty"`
}

// NewRecord stamps a record for the given findings
func NewRecord(found []slots.Slot, results []notify.ChannelResult) Record {
	return Record{
		ID:         uuid.NewString(),
		Timestamp:  time.Now().UTC(),
		TotalSlots: len(found),
		Slots:      found,
		Results:    results,
	}
}

// Store persists records to a JSON file, keeping the most recent Cap
type Store struct {
	path    string
	cap     int
	records []Record
	log     *zap.Logger
}

// NewStore opens the store, loading whatever records the file already
// holds. A missing file is an empty store, a corrupt one starts fresh.
func NewStore(path string, log *zap.Logger) *Store {
	s := &Store{path: path, cap: Cap, log: log}

	data, err := os.ReadFile(path) // #nosec G304 - operator-supplied history path
	if err == nil {
		if err := json.Unmarshal(data, &s.records); err != nil {
			log.Warn("history file unreadable, starting fresh", zap.String("path", path), zap.Error(err))
			s.records = nil
		}
	}
	if len(s.records) > s.cap {
		s.records = s.records[len(s.records)-s.cap:]
	}
	return s
}

// Len returns the number of stored records
func (s *Store) Len() int {
	return len(s.records)
}

// Records returns the stored records, oldest first
func (s *Store) Records() []Record {
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

// Append adds a record, evicts beyond the cap, and rewrites the file
func (s *Store) Append(rec Record) error {
	s.records = append(s.records, rec)
	if len(s.records) > s.cap {
		s.records = s.records[len(s.records)-s.cap:]
	}

	data, err := json.MarshalIndent(s.records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode history: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write history: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace history file: %w", err)
	}

	s.log.Info("💾 history saved", zap.String("path", s.path), zap.Int("records", len(s.records)))
	return nil
}
