package slots

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func slotGen() *rapid.Generator[Slot] {
	return rapid.Custom(func(rt *rapid.T) Slot {
		return Slot{
			Date:     rapid.SampledFrom([]string{"01/08", "02/08", "03/08", "04/08"}).Draw(rt, "date"),
			Hour:     rapid.SampledFrom([]string{"08:30", "10:00", "14:00", "16:30"}).Draw(rt, "hour"),
			Location: rapid.SampledFrom([]string{"Paris", "Lyon", "Lille"}).Draw(rt, "location"),
			ExamType: rapid.SampledFrom([]string{"code", "conduite"}).Draw(rt, "examType"),
			Places:   rapid.IntRange(1, 5).Draw(rt, "places"),
		}
	})
}

func snapshotGen() *rapid.Generator[Snapshot] {
	return rapid.Custom(func(rt *rapid.T) Snapshot {
		return NewSnapshot(rapid.SliceOfN(slotGen(), 0, 12).Draw(rt, "slots"))
	})
}

func keySet(ss []Slot) map[Key]bool {
	out := make(map[Key]bool, len(ss))
	for _, s := range ss {
		out[s.Key()] = true
	}
	return out
}

// Property: Diff(A, B) = B \ A by identity key
func TestDiffIsSetDifferenceByKey(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		prev := snapshotGen().Draw(rt, "prev")
		cur := snapshotGen().Draw(rt, "cur")

		fresh := Diff(prev, cur)

		for _, s := range fresh {
			if prev.Contains(s.Key()) {
				rt.Errorf("slot %v reported new despite being in prev", s)
			}
			if !cur.Contains(s.Key()) {
				rt.Errorf("slot %v reported new but absent from cur", s)
			}
		}
		// Everything in cur but not prev must be reported.
		freshKeys := keySet(fresh)
		for _, s := range cur.Slots() {
			if !prev.Contains(s.Key()) && !freshKeys[s.Key()] {
				rt.Errorf("slot %v in cur\\prev but not reported", s)
			}
		}
	})
}

func TestDiffOfSnapshotWithItselfIsEmpty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		snap := snapshotGen().Draw(rt, "snap")
		assert.Empty(t, Diff(snap, snap))
	})
}

func TestDiffIsIdempotent(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		prev := snapshotGen().Draw(rt, "prev")
		cur := snapshotGen().Draw(rt, "cur")
		assert.Equal(t, Diff(prev, cur), Diff(prev, cur))
	})
}

// A slot that disappears for one cycle and comes back is new again:
// there is no memory beyond the immediately prior snapshot.
func TestReappearanceIsReportedAgain(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		snap := snapshotGen().Draw(rt, "snap")
		empty := NewSnapshot(nil)

		assert.Empty(t, Diff(snap, snap))
		assert.Empty(t, Diff(snap, empty))
		again := Diff(empty, snap)
		assert.Equal(t, keySet(snap.Slots()), keySet(again))
	})
}

func TestChangedPlaceCountIsNotNew(t *testing.T) {
	a := Slot{Date: "01/08", Hour: "10:00", Location: "Paris", ExamType: "conduite", Places: 2}
	b := a
	b.Places = 1

	fresh := Diff(NewSnapshot([]Slot{a}), NewSnapshot([]Slot{b}))
	assert.Empty(t, fresh, "matching identity key with changed places must not be reported")
}

func TestSnapshotDeduplicatesByKey(t *testing.T) {
	a := Slot{Date: "01/08", Hour: "10:00", Location: "Paris", Places: 2}
	dup := a
	dup.Places = 5

	snap := NewSnapshot([]Slot{a, dup})
	require.Equal(t, 1, snap.Len())
	assert.Equal(t, 2, snap.Slots()[0].Places, "first occurrence wins")
}

func TestSnapshotPreservesOrder(t *testing.T) {
	ss := []Slot{
		{Date: "03/08", Hour: "10:00", Location: "Lyon"},
		{Date: "01/08", Hour: "08:30", Location: "Paris"},
		{Date: "02/08", Hour: "14:00", Location: "Lille"},
	}
	assert.Equal(t, ss, NewSnapshot(ss).Slots())
}

func TestSummaries(t *testing.T) {
	ss := []Slot{{Date: "01/08", Hour: "10:00", Location: "Paris", Places: 2}}
	got := Summaries(ss)
	require.Len(t, got, 1)
	assert.Equal(t, "01/08 at 10:00 - Paris (2 places)", got[0])
}
