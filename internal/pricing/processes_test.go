package pricing

import (
	"errors"
	"math"
	"testing"
)

func defaultOU() OUParams {
	return OUParams{
		StartTime:  0,
		StartPrice: 50,
		Theta:      math.Ln2 / 5,
		Mu:         0,
		Sigma:      0.15,
		Range:      Range{Min: 0, Max: 100},
	}
}

func TestOU_SeedReproducible(t *testing.T) {
	a, err := NewOU(defaultOU(), NewRand(42, 1))
	if err != nil {
		t.Fatalf("NewOU returned error: %v", err)
	}
	b, _ := NewOU(defaultOU(), NewRand(42, 1))

	for i := 0; i < 200; i++ {
		_ = a.Advance()
		_ = b.Advance()
		ta, pa := a.Current()
		tb, pb := b.Current()
		if ta != tb || pa != pb {
			t.Fatalf("step %d diverged: (%d,%f) vs (%d,%f)", i, ta, pa, tb, pb)
		}
	}
}

func TestOU_StaysInRangeAndTicks(t *testing.T) {
	params := defaultOU()
	params.Sigma = 1.5
	p, _ := NewOU(params, NewRand(7, 1))

	for i := 1; i <= 500; i++ {
		if err := p.Advance(); err != nil {
			t.Fatalf("Advance returned error: %v", err)
		}
		step, price := p.Current()
		if step != i {
			t.Fatalf("expected time %d, got %d", i, step)
		}
		if price < 0 || price > 100 {
			t.Fatalf("price %f escaped range", price)
		}
		if math.Abs(price*10-math.Round(price*10)) > 1e-9 {
			t.Fatalf("price %f not rounded to one decimal", price)
		}
	}
}

func TestMixture_OneHotRegime(t *testing.T) {
	m, err := NewMixture(MixtureParams{
		StartPrice:    80,
		Anchors:       []float64{80, 70, 90, 100},
		Probabilities: []float64{0, 0, 1, 0},
		RegimeLength:  10,
		Theta:         math.Ln2 / 5,
		Sigma:         0.15,
		Range:         Range{Min: 1, Max: 100},
	}, NewRand(1, 1))
	if err != nil {
		t.Fatalf("NewMixture returned error: %v", err)
	}
	for i := 0; i < 50; i++ {
		_ = m.Advance()
		if m.Regime() != 2 {
			t.Fatalf("expected regime 2, got %d", m.Regime())
		}
	}
}

func TestMixture_ScaleShiftsLevel(t *testing.T) {
	// theta 与 sigma 为 0 时一步只做 p*scale/anchor 的换算。
	m, err := NewMixture(MixtureParams{
		StartPrice:    80,
		Anchors:       []float64{80, 90},
		Scales:        []float64{80, 70},
		Probabilities: []float64{0, 1},
		RegimeLength:  10,
		Range:         Range{Min: 1, Max: 100},
	}, NewRand(1, 1))
	if err != nil {
		t.Fatalf("NewMixture returned error: %v", err)
	}
	if err := m.Advance(); err != nil {
		t.Fatalf("Advance returned error: %v", err)
	}
	if _, price := m.Current(); price != 62.2 {
		t.Fatalf("expected 62.2 after regime rescale, got %f", price)
	}
}

func TestMixture_ScalesDefaultToAnchors(t *testing.T) {
	m, err := NewMixture(MixtureParams{
		StartPrice:    80,
		Anchors:       []float64{80},
		Probabilities: []float64{1},
		RegimeLength:  10,
	}, NewRand(1, 1))
	if err != nil {
		t.Fatalf("NewMixture returned error: %v", err)
	}
	_ = m.Advance()
	if _, price := m.Current(); price != 80 {
		t.Fatalf("expected price to stay at anchor, got %f", price)
	}
}

func TestMixture_InvalidParams(t *testing.T) {
	_, err := NewMixture(MixtureParams{
		StartPrice:    80,
		Anchors:       []float64{80, 70},
		Probabilities: []float64{1},
		RegimeLength:  10,
	}, NewRand(1, 1))
	if err == nil {
		t.Fatalf("expected error for mismatched anchors")
	}

	_, err = NewMixture(MixtureParams{
		StartPrice:    80,
		Anchors:       []float64{80, 70},
		Scales:        []float64{80},
		Probabilities: []float64{0.5, 0.5},
		RegimeLength:  10,
	}, NewRand(1, 1))
	if err == nil {
		t.Fatalf("expected error for mismatched scales")
	}
}

func TestGBM_Positive(t *testing.T) {
	g, err := NewGBM(GBMParams{StartPrice: 50, Drift: 0.005, Volatility: 0.01}, NewRand(3, 1))
	if err != nil {
		t.Fatalf("NewGBM returned error: %v", err)
	}
	for i := 0; i < 100; i++ {
		_ = g.Advance()
		if _, price := g.Current(); price <= 0 {
			t.Fatalf("non-positive price %f", price)
		}
	}
}

func TestSeries_Exhausts(t *testing.T) {
	s, err := NewSeries(10, []float64{50, 51})
	if err != nil {
		t.Fatalf("NewSeries returned error: %v", err)
	}
	if step, price := s.Current(); step != 10 || price != 50 {
		t.Fatalf("unexpected current (%d,%f)", step, price)
	}
	if err := s.Advance(); err != nil {
		t.Fatalf("Advance returned error: %v", err)
	}
	if step, price := s.Current(); step != 11 || price != 51 {
		t.Fatalf("unexpected current (%d,%f)", step, price)
	}
	if err := s.Advance(); !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
	if step, _ := s.Current(); step != 11 {
		t.Fatalf("exhausted source must not move, step=%d", step)
	}
}
