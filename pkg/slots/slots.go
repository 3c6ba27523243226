package slots

import "fmt"

// Slot represents one bookable appointment unit on the portal
type Slot struct {
	Date     string `json:"date"`
	Hour     string `json:"hour"`
	Location string `json:"location"`
	ExamType string `json:"exam_type"`
	Places   int    `json:"places_available"`
}

// Key identifies a slot across polling cycles. Two slots with the same
// key are the same appointment even if the remaining place count moved.
type Key struct {
	Date     string
	Hour     string
	Location string
}

// Key returns the identity key of the slot
func (s Slot) Key() Key {
	return Key{Date: s.Date, Hour: s.Hour, Location: s.Location}
}

func (s Slot) String() string {
	return fmt.Sprintf("%s at %s - %s (%d places)", s.Date, s.Hour, s.Location, s.Places)
}

// Snapshot is the complete slot result set produced by one poll cycle.
// Insertion order is preserved for logging; keys are unique.
type Snapshot struct {
	byKey map[Key]Slot
	order []Key
}

// NewSnapshot builds a snapshot from a slice of slots. Duplicate keys
// keep the first occurrence.
func NewSnapshot(ss []Slot) Snapshot {
	snap := Snapshot{byKey: make(map[Key]Slot, len(ss))}
	for _, s := range ss {
		k := s.Key()
		if _, ok := snap.byKey[k]; ok {
			continue
		}
		snap.byKey[k] = s
		snap.order = append(snap.order, k)
	}
	return snap
}

// Len returns the number of slots in the snapshot
func (s Snapshot) Len() int {
	return len(s.order)
}

// Contains reports whether the snapshot holds a slot with the given key
func (s Snapshot) Contains(k Key) bool {
	_, ok := s.byKey[k]
	return ok
}

// Slots returns the slots in insertion order
func (s Snapshot) Slots() []Slot {
	out := make([]Slot, 0, len(s.order))
	for _, k := range s.order {
		out = append(out, s.byKey[k])
	}
	return out
}

// Diff returns the slots of cur whose identity key does not appear in
// prev. Comparison is by key only: a slot whose place count changed but
// whose key matches is not reported.
func Diff(prev, cur Snapshot) []Slot {
	var fresh []Slot
	for _, k := range cur.order {
		if !prev.Contains(k) {
			fresh = append(fresh, cur.byKey[k])
		}
	}
	return fresh
}

// Summaries extracts one-line descriptions from slots
func Summaries(ss []Slot) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = s.String()
	}
	return out
}
