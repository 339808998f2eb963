package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"

	"trades-rl/internal/config"
	"trades-rl/internal/ledger"
	"trades-rl/internal/monitor"
	"trades-rl/internal/pricing"
	"trades-rl/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.NewSQLite(config.DatabaseConfig{
		Path:         filepath.Join(t.TempDir(), "runs.db"),
		MaxOpenConns: 2,
		MaxIdleConns: 2,
	})
	if err != nil {
		t.Fatalf("NewSQLite returned error: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func smallConfig() orchestratorConfig {
	return orchestratorConfig{
		app: config.AppConfig{Environment: "test", Agents: 2, Seed: 42},
		market: config.MarketConfig{
			Process:    config.ProcessOU,
			StartPrice: 50,
			Theta:      0.14,
			Sigma:      0.15,
			MaxPrice:   100,
		},
		player: config.PlayerConfig{
			Pool:        config.PoolRWM,
			Actions:     []int{-200, -100, 0, 100, 200},
			MinPosition: -1000,
			MaxPosition: 1000,
			Gamma:       0.9,
			Feedback:    true,
		},
		utility:   config.UtilityConfig{RiskAversion: 1e-4, CostMultiplier: 10, TickSize: 0.1},
		rwm:       config.RWMConfig{Beta: 0.995, Capacity: 30},
		ftpl:      config.FTPLConfig{Epsilon: 0.05, Capacity: 15, TopFraction: 0.5},
		cos:       config.COSConfig{Scale: 1},
		regressor: config.RegressorConfig{Estimators: 5, MaxDepth: 2, LearningRate: 0.3, MinSamplesSplit: 2},
		training: config.TrainingConfig{
			Iterations:     2,
			Steps:          30,
			EpsilonStart:   0.5,
			EpsilonDecay:   0.9,
			UtilityInitial: 1000,
			SharpeFactor:   252,
		},
		backtest: config.BacktestConfig{Enabled: true, Steps: 20, Epsilon: 0.01, InitialValue: 1e5, AnnualizationFactor: 250},
		monitor:  config.MonitorConfig{ArchiveLedger: true},
	}
}

func countEvents(t *testing.T, svc *monitor.Service, typ monitor.EventType) int {
	t.Helper()
	events, err := svc.ListEvents(context.Background(), typ, 1000)
	if err != nil {
		t.Fatalf("ListEvents returned error: %v", err)
	}
	return len(events)
}

func TestOrchestrator_RunRecordsEvents(t *testing.T) {
	orch, err := newOrchestrator(smallConfig(), zaptest.NewLogger(t), newTestStore(t))
	if err != nil {
		t.Fatalf("newOrchestrator returned error: %v", err)
	}
	if err := orch.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	svc := orch.Monitor()
	if n := countEvents(t, svc, monitor.EventIteration); n != 4 {
		t.Fatalf("expected 4 iteration events, got %d", n)
	}
	if n := countEvents(t, svc, monitor.EventRetrain); n != 4 {
		t.Fatalf("expected 4 retrain events, got %d", n)
	}
	if n := countEvents(t, svc, monitor.EventBacktest); n != 2 {
		t.Fatalf("expected 2 backtest events, got %d", n)
	}
	if n := countEvents(t, svc, monitor.EventError); n != 0 {
		t.Fatalf("expected no error events, got %d", n)
	}

	rec := httptest.NewRecorder()
	orch.Metrics().Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), `trades_rl_steps_total{agent="1"} 60`) {
		t.Fatalf("expected 60 steps recorded for agent 1:\n%s", rec.Body.String())
	}

	entries, err := svc.LedgerEntries(context.Background(), 1, 1)
	if err != nil {
		t.Fatalf("LedgerEntries returned error: %v", err)
	}
	if len(entries) != 31 {
		t.Fatalf("expected 31 archived entries, got %d", len(entries))
	}
	for _, a := range orch.agents {
		if a.player.Pool().Len() != 2 {
			t.Fatalf("agent %d expected 2 experts, got %d", a.id, a.player.Pool().Len())
		}
	}
}

func TestOrchestrator_FTPLWithoutBacktest(t *testing.T) {
	cfg := smallConfig()
	cfg.app.Agents = 1
	cfg.player.Pool = config.PoolFTPL
	cfg.market.Process = config.ProcessMixture
	cfg.market.Anchors = []float64{80, 90, 60, 70}
	cfg.market.Scales = []float64{80, 70, 90, 100}
	cfg.market.Probabilities = []float64{0.25, 0.25, 0.25, 0.25}
	cfg.market.RegimeLength = 10
	cfg.backtest.Enabled = false
	cfg.monitor.ArchiveLedger = false

	orch, err := newOrchestrator(cfg, zaptest.NewLogger(t), newTestStore(t))
	if err != nil {
		t.Fatalf("newOrchestrator returned error: %v", err)
	}
	if err := orch.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if n := countEvents(t, orch.Monitor(), monitor.EventBacktest); n != 0 {
		t.Fatalf("expected no backtest events, got %d", n)
	}
	entries, _ := orch.Monitor().LedgerEntries(context.Background(), 0, 0)
	if len(entries) != 0 {
		t.Fatalf("archive disabled but found %d entries", len(entries))
	}
}

func TestOrchestrator_AveragingAndMissCountPools(t *testing.T) {
	for _, kind := range []string{config.PoolSLA, config.PoolCOS} {
		cfg := smallConfig()
		cfg.app.Agents = 1
		cfg.player.Pool = kind
		cfg.backtest.Enabled = false

		orch, err := newOrchestrator(cfg, zaptest.NewLogger(t), newTestStore(t))
		if err != nil {
			t.Fatalf("%s: newOrchestrator returned error: %v", kind, err)
		}
		if err := orch.Run(context.Background()); err != nil {
			t.Fatalf("%s: Run returned error: %v", kind, err)
		}
		if n := countEvents(t, orch.Monitor(), monitor.EventRetrain); n != 2 {
			t.Fatalf("%s: expected 2 retrain events, got %d", kind, n)
		}
		if got := orch.agents[0].player.Pool().Len(); got != 2 {
			t.Fatalf("%s: expected 2 experts, got %d", kind, got)
		}
	}
}

func TestOrchestrator_Cancelled(t *testing.T) {
	orch, err := newOrchestrator(smallConfig(), zaptest.NewLogger(t), newTestStore(t))
	if err != nil {
		t.Fatalf("newOrchestrator returned error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := orch.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNewSource_Processes(t *testing.T) {
	base := smallConfig().market
	for _, process := range []string{config.ProcessOU, config.ProcessGBM} {
		m := base
		m.Process = process
		m.Drift = 0.005
		m.Volatility = 0.01
		src, err := newSource(m, pricing.NewRand(1, 1))
		if err != nil {
			t.Fatalf("%s: newSource returned error: %v", process, err)
		}
		if _, price := src.Current(); price != 50 {
			t.Fatalf("%s: expected start price 50, got %f", process, price)
		}
	}

	m := base
	m.Process = "brownian"
	if _, err := newSource(m, pricing.NewRand(1, 1)); err == nil {
		t.Fatalf("expected error for unknown process")
	}
}

func TestMonitorHandler(t *testing.T) {
	st := newTestStore(t)
	svc, err := monitor.NewService(st, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}
	ctx := context.Background()
	svc.RecordIteration(ctx, monitor.IterationPayload{Agent: 0, Iteration: 0, Steps: 10})
	svc.RecordBacktest(ctx, monitor.BacktestPayload{Agent: 0, Steps: 10})

	l := ledger.New()
	l.RecordState(0, 50, 0)
	_ = l.Commit(ledger.Transition{From: 0, Action: 100, Utility: 1, ExpertID: ledger.NoExpert, To: 1, Price: 51, Position: 100})
	if err := svc.ArchiveLedger(ctx, 0, 0, l.Entries()); err != nil {
		t.Fatalf("ArchiveLedger returned error: %v", err)
	}

	metrics := monitor.NewRecorder()
	metrics.RecordIteration(monitor.IterationPayload{Agent: 0, Steps: 10})
	srv := httptest.NewServer(newMonitorHandler(svc, metrics, zaptest.NewLogger(t)))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/events?type=ITERATION&limit=5")
	if err != nil {
		t.Fatalf("GET /events: %v", err)
	}
	var events []monitor.Event
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	resp.Body.Close()
	if len(events) != 1 || events[0].Type != monitor.EventIteration {
		t.Fatalf("unexpected events %+v", events)
	}

	resp, err = http.Get(srv.URL + "/ledger?agent=0&iteration=0")
	if err != nil {
		t.Fatalf("GET /ledger: %v", err)
	}
	var entries []ledger.Entry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		t.Fatalf("decode ledger: %v", err)
	}
	resp.Body.Close()
	if len(entries) != 2 || entries[0].Action != 100 || entries[1].Position != 100 {
		t.Fatalf("unexpected ledger %+v", entries)
	}

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), `trades_rl_steps_total{agent="0"} 10`) {
		t.Fatalf("metrics endpoint missing step counter:\n%s", body)
	}

	resp, err = http.Get(srv.URL + "/ledger?agent=x")
	if err != nil {
		t.Fatalf("GET /ledger: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}
