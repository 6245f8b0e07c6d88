package scheduler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kryptotron/engine/internal/broker"
	"github.com/kryptotron/engine/internal/cache"
	"github.com/kryptotron/engine/internal/database"
	"github.com/kryptotron/engine/internal/domain"
	"github.com/kryptotron/engine/internal/notify"
	"github.com/kryptotron/engine/internal/persistence"
	"github.com/kryptotron/engine/internal/risk"
	"github.com/kryptotron/engine/internal/strategy"
)

type fakeEvaluator struct {
	decision strategy.Decision
	err      error
}

func (f *fakeEvaluator) Evaluate(ctx *strategy.Context, strat *domain.Strategy) (strategy.Decision, *strategy.Trace, error) {
	if f.err != nil {
		return strategy.Decision{}, strategy.NewTrace(), f.err
	}
	return f.decision, strategy.NewTrace(), nil
}

type fakePrices struct {
	price float64
}

func (f *fakePrices) LastPrice(ctx context.Context, symbol string) (float64, bool) {
	return f.price, true
}

type recordingSink struct {
	trades []*domain.Trade
	vetoes []string
}

func (s *recordingSink) NotifyTrade(trade *domain.Trade) { s.trades = append(s.trades, trade) }
func (s *recordingSink) NotifyVeto(strategyID int64, symbol, reason string) {
	s.vetoes = append(s.vetoes, reason)
}

type harness struct {
	coord      *Coordinator
	strategies *persistence.StrategyRepository
	runLogs    *persistence.RunLogRepository
	accounts   *persistence.AccountRepository
	notify     *recordingSink
}

func newHarness(t *testing.T, evaluator strategy.Evaluator, riskCfg risk.Config, price float64) *harness {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := database.New(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())

	log := zerolog.Nop()
	strategies := persistence.NewStrategyRepository(db.Conn(), log)
	runLogs := persistence.NewRunLogRepository(db.Conn(), log)
	signals := persistence.NewSignalRepository(db.Conn(), log)
	accounts := persistence.NewAccountRepository(db.Conn(), log)
	positions := persistence.NewPositionRepository(db.Conn(), log)
	trades := persistence.NewTradeRepository(db.Conn(), log)

	require.NoError(t, accounts.EnsureSeeded(context.Background(), 100000))

	b := broker.New(accounts, positions, trades, &fakePrices{price: price}, broker.Config{FeeBps: 10, SlippageBps: 5}, log)

	sink := &recordingSink{}

	coord := New(Deps{
		Strategies: strategies,
		RunLogs:    runLogs,
		Signals:    signals,
		Accounts:   accounts,
		Broker:     b,
		Cache:      cache.New(log, time.Second),
		Bars:       nil,
		LLM:        nil,
		Evaluators: map[domain.StrategyKind]strategy.Evaluator{domain.StrategyTA: evaluator},
		Notify:     sink,
		Metrics:    nil,
		Risk:       riskCfg,
		Log:        log,
	})

	return &harness{coord: coord, strategies: strategies, runLogs: runLogs, accounts: accounts, notify: sink}
}

func permissiveRisk() risk.Config {
	return risk.Config{MaxTradeNotionalPct: 100, MaxSymbolExposurePct: 100, SoftDrawdownPct: 50, HardDrawdownPct: 90}
}

func createActiveStrategy(t *testing.T, h *harness, name string) *domain.Strategy {
	t.Helper()
	strat := &domain.Strategy{Name: name, Kind: domain.StrategyTA, Symbol: "BTC", Status: domain.StatusActive, ScheduleInterval: 60, Parameters: "{}"}
	require.NoError(t, h.strategies.Create(context.Background(), strat))
	return strat
}

func TestTick_PausedStrategyDoesNothing(t *testing.T) {
	h := newHarness(t, &fakeEvaluator{decision: strategy.Decision{Action: domain.ActionHold}}, permissiveRisk(), 100)
	strat := createActiveStrategy(t, h, "paused-one")
	require.NoError(t, h.strategies.SetStatus(context.Background(), strat.ID, domain.StatusPaused))

	err := h.coord.Tick(context.Background(), strat.ID)
	require.NoError(t, err)

	logs, err := h.runLogs.ForStrategy(context.Background(), strat.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestTick_HoldDecisionRecordsOKWithNoTrade(t *testing.T) {
	h := newHarness(t, &fakeEvaluator{decision: strategy.Decision{Action: domain.ActionHold, Reason: "nothing to do"}}, permissiveRisk(), 100)
	strat := createActiveStrategy(t, h, "hold-one")

	err := h.coord.Tick(context.Background(), strat.ID)
	require.NoError(t, err)

	logs, err := h.runLogs.ForStrategy(context.Background(), strat.ID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, domain.OutcomeOK, logs[0].Outcome)
	assert.Empty(t, h.notify.trades)
}

func TestTick_BuyDecisionExecutesTradeAndNotifies(t *testing.T) {
	h := newHarness(t, &fakeEvaluator{decision: strategy.Decision{Action: domain.ActionBuy, Conviction: 80, SuggestedNotional: 1000}}, permissiveRisk(), 100)
	strat := createActiveStrategy(t, h, "buy-one")

	err := h.coord.Tick(context.Background(), strat.ID)
	require.NoError(t, err)

	logs, err := h.runLogs.ForStrategy(context.Background(), strat.ID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, domain.OutcomeOK, logs[0].Outcome)
	require.Len(t, h.notify.trades, 1)
	assert.Equal(t, domain.SideBuy, h.notify.trades[0].Side)

	account, err := h.accounts.Get(context.Background())
	require.NoError(t, err)
	assert.Less(t, account.Cash, 100000.0)
}

func TestTick_RiskVetoRecordsVetoedOutcomeAndNotifies(t *testing.T) {
	tinyRisk := risk.Config{MaxTradeNotionalPct: 0.01, MaxSymbolExposurePct: 100, SoftDrawdownPct: 50, HardDrawdownPct: 90}
	h := newHarness(t, &fakeEvaluator{decision: strategy.Decision{Action: domain.ActionBuy, Conviction: 80, SuggestedNotional: 1000}}, tinyRisk, 100)
	strat := createActiveStrategy(t, h, "veto-one")

	err := h.coord.Tick(context.Background(), strat.ID)
	require.NoError(t, err)

	logs, err := h.runLogs.ForStrategy(context.Background(), strat.ID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, domain.OutcomeVetoed, logs[0].Outcome)
	assert.Empty(t, h.notify.trades)
	assert.Len(t, h.notify.vetoes, 1)
}

func TestTick_EvaluatorErrorRecordsFailedOutcome(t *testing.T) {
	h := newHarness(t, &fakeEvaluator{err: domain.ErrInsufficientData}, permissiveRisk(), 100)
	strat := createActiveStrategy(t, h, "fail-one")

	err := h.coord.Tick(context.Background(), strat.ID)
	require.NoError(t, err)

	logs, err := h.runLogs.ForStrategy(context.Background(), strat.ID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, domain.OutcomeFailed, logs[0].Outcome)
}

func TestTick_ThreeConsecutiveFailuresTripStrategyToError(t *testing.T) {
	h := newHarness(t, &fakeEvaluator{err: domain.ErrInsufficientData}, permissiveRisk(), 100)
	strat := createActiveStrategy(t, h, "three-strikes")

	for i := 0; i < 3; i++ {
		require.NoError(t, h.coord.Tick(context.Background(), strat.ID))
	}

	reloaded, err := h.strategies.Get(context.Background(), strat.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusError, reloaded.Status)
}

func TestPauseResumeStop_TransitionStatus(t *testing.T) {
	h := newHarness(t, &fakeEvaluator{decision: strategy.Decision{Action: domain.ActionHold}}, permissiveRisk(), 100)
	strat := createActiveStrategy(t, h, "lifecycle-one")

	require.NoError(t, h.coord.Pause(context.Background(), strat.ID))
	reloaded, err := h.strategies.Get(context.Background(), strat.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaused, reloaded.Status)

	require.NoError(t, h.coord.Resume(context.Background(), strat.ID))
	reloaded, err = h.strategies.Get(context.Background(), strat.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, reloaded.Status)

	require.NoError(t, h.coord.Stop(context.Background(), strat.ID))
	reloaded, err = h.strategies.Get(context.Background(), strat.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusStopped, reloaded.Status)
}
