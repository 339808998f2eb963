package policy

import (
	"math"
	"slices"
	"testing"

	"trades-rl/internal/expert"
	"trades-rl/internal/pricing"
)

// stubPool 记录 BestAction 调用次数，并总是推荐固定动作。
type stubPool struct {
	ids      []int
	action   int
	expertID int
	picks    []int
	calls    int
}

func (s *stubPool) Len() int { return len(s.ids) }
func (s *stubPool) ExpertIDs() []int { return s.ids }
func (s *stubPool) Weights() []float64 { return nil }
func (s *stubPool) Score(expert.State, int) float64 { return 0 }
func (s *stubPool) Feedback(expert.Guess, []float64) error { return nil }
func (s *stubPool) Check(expert.Guess) error { return nil }
func (s *stubPool) Fit([][]float64, []float64) (expert.FitReport, error) {
	return expert.FitReport{}, nil
}

func (s *stubPool) BestAction(_ expert.State, candidates []int) (expert.Guess, error) {
	s.calls++
	return expert.Guess{Action: s.action, ExpertID: s.expertID, Candidates: candidates, Picks: s.picks}, nil
}

func TestSelect_ZeroEpsilonExploits(t *testing.T) {
	pool := &stubPool{ids: []int{7}, action: 100, expertID: 7, picks: []int{3}}
	p, err := NewEpsilonGreedy(pool, pricing.NewRand(1, 3))
	if err != nil {
		t.Fatalf("NewEpsilonGreedy returned error: %v", err)
	}

	for i := 0; i < 50; i++ {
		d, err := p.Select(expert.State{Price: 50}, []int{-100, 0, 100}, 0)
		if err != nil {
			t.Fatalf("Select returned error: %v", err)
		}
		if d.Explored || d.Action != 100 || d.ExpertID != 7 || d.Guess == nil {
			t.Fatalf("unexpected decision %+v", d)
		}
	}
	if pool.calls != 50 {
		t.Fatalf("expected 50 BestAction calls, got %d", pool.calls)
	}
}

func TestSelect_FullEpsilonExplores(t *testing.T) {
	pool := &stubPool{ids: []int{4, 5, 6}, action: 100}
	p, _ := NewEpsilonGreedy(pool, pricing.NewRand(2, 3))
	legal := []int{-200, -100, 0}

	seen := map[int]bool{}
	for i := 0; i < 200; i++ {
		d, err := p.Select(expert.State{Price: 50}, legal, 1)
		if err != nil {
			t.Fatalf("Select returned error: %v", err)
		}
		if !d.Explored || d.Guess != nil {
			t.Fatalf("expected exploration decision, got %+v", d)
		}
		if !slices.Contains(legal, d.Action) {
			t.Fatalf("explored action %d outside legal set", d.Action)
		}
		if !slices.Contains(pool.ids, d.ExpertID) {
			t.Fatalf("explored expert id %d outside pool", d.ExpertID)
		}
		seen[d.Action] = true
	}
	if len(seen) != len(legal) {
		t.Fatalf("expected all legal actions explored, got %v", seen)
	}
	if pool.calls != 0 {
		t.Fatalf("exploration must not query the pool")
	}
}

func TestSelect_ExploreEmptyPool(t *testing.T) {
	p, _ := NewEpsilonGreedy(&stubPool{}, pricing.NewRand(3, 3))
	d, err := p.Select(expert.State{}, []int{0}, 1)
	if err != nil {
		t.Fatalf("Select returned error: %v", err)
	}
	if d.ExpertID != expert.NoExpert || d.Action != 0 {
		t.Fatalf("unexpected decision %+v", d)
	}
}

func TestSelect_EmptyGuessHasNoFeedback(t *testing.T) {
	p, _ := NewEpsilonGreedy(&stubPool{action: 0, expertID: expert.NoExpert}, pricing.NewRand(4, 3))
	d, err := p.Select(expert.State{}, []int{0}, 0)
	if err != nil {
		t.Fatalf("Select returned error: %v", err)
	}
	if d.Guess != nil {
		t.Fatalf("empty-pool guess must not be forwarded for feedback")
	}
}

func TestSelect_InvalidInput(t *testing.T) {
	p, _ := NewEpsilonGreedy(&stubPool{}, pricing.NewRand(5, 3))
	if _, err := p.Select(expert.State{}, nil, 0); err == nil {
		t.Fatalf("expected error for empty legal set")
	}
	if _, err := p.Select(expert.State{}, []int{0}, 1.5); err == nil {
		t.Fatalf("expected error for epsilon > 1")
	}
}

func TestAnneal(t *testing.T) {
	if got := Anneal(0.5, 0.9, 0); got != 0.5 {
		t.Fatalf("Anneal(0)=%f", got)
	}
	if got := Anneal(0.5, 0.9, 2); math.Abs(got-0.405) > 1e-12 {
		t.Fatalf("Anneal(2)=%f want 0.405", got)
	}
}
