package ledger

import (
	"errors"
	"testing"
)

func TestOrderedEntries_FollowsKeyOrder(t *testing.T) {
	l := New()
	keys := []int{3, 7, 8, 20, 21, 50}
	for i, k := range keys {
		l.RecordState(k, float64(i)+50, i*100)
	}

	for pass := 0; pass < 2; pass++ {
		var got []int
		for entry := range l.OrderedEntries() {
			got = append(got, entry.Step)
		}
		if len(got) != len(keys) {
			t.Fatalf("pass %d: expected %d entries, got %d", pass, len(keys), len(got))
		}
		for i := range keys {
			if got[i] != keys[i] {
				t.Fatalf("pass %d: entry %d step=%d want %d", pass, i, got[i], keys[i])
			}
		}
	}
}

func TestOrderedEntries_OutOfOrderInsertsAreSorted(t *testing.T) {
	l := New()
	for _, k := range []int{5, 1, 3} {
		l.RecordState(k, 1, 0)
	}
	want := []int{1, 3, 5}
	i := 0
	for entry := range l.OrderedEntries() {
		if entry.Step != want[i] {
			t.Fatalf("entry %d step=%d want %d", i, entry.Step, want[i])
		}
		i++
	}
}

func TestOrderedEntries_EarlyBreak(t *testing.T) {
	l := New()
	for k := 0; k < 10; k++ {
		l.RecordState(k, 1, 0)
	}
	count := 0
	for range l.OrderedEntries() {
		count++
		if count == 3 {
			break
		}
	}
	if count != 3 {
		t.Fatalf("expected early break after 3, got %d", count)
	}
}

func TestAttach_RequiresState(t *testing.T) {
	l := New()
	if err := l.RecordAction(1, 100); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("RecordAction: expected ErrKeyNotFound, got %v", err)
	}
	if err := l.RecordUtility(1, 1.5); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("RecordUtility: expected ErrKeyNotFound, got %v", err)
	}
	if err := l.RecordExpertID(1, 2); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("RecordExpertID: expected ErrKeyNotFound, got %v", err)
	}

	l.RecordState(1, 50, 0)
	if err := l.RecordAction(1, 100); err != nil {
		t.Fatalf("RecordAction returned error: %v", err)
	}
	if err := l.RecordUtility(1, 1.5); err != nil {
		t.Fatalf("RecordUtility returned error: %v", err)
	}
	if err := l.RecordExpertID(1, 2); err != nil {
		t.Fatalf("RecordExpertID returned error: %v", err)
	}

	entry, ok := l.Get(1)
	if !ok {
		t.Fatalf("expected entry at step 1")
	}
	if !entry.HasAction || entry.Action != 100 {
		t.Errorf("unexpected action: %+v", entry)
	}
	if !entry.HasUtility || entry.Utility != 1.5 {
		t.Errorf("unexpected utility: %+v", entry)
	}
	if !entry.HasExpertID || entry.ExpertID != 2 {
		t.Errorf("unexpected expert id: %+v", entry)
	}
}

func TestRecordState_OverwriteDropsDerivedFields(t *testing.T) {
	l := New()
	l.RecordState(4, 10, 0)
	_ = l.RecordAction(4, 200)
	l.RecordState(4, 11, 100)

	entry, _ := l.Get(4)
	if entry.HasAction {
		t.Errorf("expected derived fields reset after overwrite")
	}
	if entry.Price != 11 || entry.Position != 100 {
		t.Errorf("unexpected state after overwrite: %+v", entry)
	}
	if l.Len() != 1 {
		t.Errorf("expected single key, got %d", l.Len())
	}
}

func TestMostRecent(t *testing.T) {
	l := New()
	if _, _, _, err := l.MostRecent(); !errors.Is(err, ErrEmptyLedger) {
		t.Fatalf("expected ErrEmptyLedger, got %v", err)
	}

	l.RecordState(0, 50, 0)
	l.RecordState(1, 51, 100)
	step, price, position, err := l.MostRecent()
	if err != nil {
		t.Fatalf("MostRecent returned error: %v", err)
	}
	if step != 1 || price != 51 || position != 100 {
		t.Fatalf("unexpected most recent: step=%d price=%f position=%d", step, price, position)
	}
}

func TestClearToLatest(t *testing.T) {
	l := New()
	if err := l.ClearToLatest(); !errors.Is(err, ErrEmptyLedger) {
		t.Fatalf("expected ErrEmptyLedger, got %v", err)
	}

	for k := 0; k <= 50; k++ {
		l.RecordState(k, 50+float64(k)/10, k)
		if k < 50 {
			_ = l.RecordAction(k, 0)
		}
	}
	step, price, position, _ := l.MostRecent()

	if err := l.ClearToLatest(); err != nil {
		t.Fatalf("ClearToLatest returned error: %v", err)
	}
	entries := l.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected exactly 1 entry, got %d", len(entries))
	}
	got := entries[0]
	if got.Step != step || got.Price != price || got.Position != position {
		t.Fatalf("unexpected surviving entry: %+v", got)
	}
	if got.HasAction || got.HasUtility || got.HasExpertID {
		t.Fatalf("expected surviving entry to carry state only: %+v", got)
	}
}

func TestCommit(t *testing.T) {
	l := New()
	l.RecordState(0, 50, 0)

	err := l.Commit(Transition{From: 0, Action: 100, Utility: -100.5, ExpertID: 3, To: 1, Price: 51, Position: 100})
	if err != nil {
		t.Fatalf("Commit returned error: %v", err)
	}

	from, _ := l.Get(0)
	if from.Action != 100 || from.Utility != -100.5 || from.ExpertID != 3 {
		t.Errorf("unexpected from entry: %+v", from)
	}
	to, _ := l.Get(1)
	if to.Price != 51 || to.Position != 100 || to.HasAction {
		t.Errorf("unexpected to entry: %+v", to)
	}
}

func TestCommit_InvalidLeavesLedgerUntouched(t *testing.T) {
	l := New()
	l.RecordState(5, 50, 0)

	if err := l.Commit(Transition{From: 4, To: 6}); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
	if err := l.Commit(Transition{From: 5, To: 5}); err == nil {
		t.Fatalf("expected error for non-increasing target step")
	}
	if l.Len() != 1 {
		t.Fatalf("expected ledger untouched, len=%d", l.Len())
	}
	entry, _ := l.Get(5)
	if entry.HasAction || entry.HasUtility {
		t.Fatalf("expected no partial writes: %+v", entry)
	}
}
