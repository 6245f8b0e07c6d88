// Package scheduler is the run coordinator: it owns the per-strategy cron
// schedule, enforces at-most-one in-flight run per strategy, and drives
// the tick procedure from evaluation through risk filtering to broker
// execution, closing a RunLog no matter how the tick ends.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/kryptotron/engine/internal/broker"
	"github.com/kryptotron/engine/internal/cache"
	"github.com/kryptotron/engine/internal/domain"
	"github.com/kryptotron/engine/internal/locking"
	"github.com/kryptotron/engine/internal/metrics"
	"github.com/kryptotron/engine/internal/notify"
	"github.com/kryptotron/engine/internal/persistence"
	"github.com/kryptotron/engine/internal/risk"
	"github.com/kryptotron/engine/internal/strategy"
)

// failureWindow is the sliding window RecentFailures counts against for
// the three-strikes ERROR transition.
const failureWindow = time.Hour

// failureThreshold is how many FAILED runs within failureWindow force a
// strategy into ERROR status.
const failureThreshold = 3

// Deps bundles every collaborator the coordinator needs.
type Deps struct {
	Strategies *persistence.StrategyRepository
	RunLogs    *persistence.RunLogRepository
	Signals    *persistence.SignalRepository
	Accounts   *persistence.AccountRepository
	Broker     *broker.Broker
	Cache      *cache.Cache
	Bars       *cache.Bars
	LLM        strategy.AdvisoryClient
	Evaluators map[domain.StrategyKind]strategy.Evaluator
	Notify     notify.Sink
	Metrics    *metrics.Registry
	Risk       risk.Config
	Log        zerolog.Logger
}

// Coordinator is the scheduler described by Deps.
type Coordinator struct {
	deps  Deps
	cron  *cron.Cron
	locks *locking.Manager
	log   zerolog.Logger

	mu      sync.Mutex
	entries map[int64]cron.EntryID

	wg sync.WaitGroup
}

// New constructs a Coordinator. Call Start to begin scheduling active
// strategies.
func New(deps Deps) *Coordinator {
	return &Coordinator{
		deps:    deps,
		cron:    cron.New(cron.WithSeconds()),
		locks:   locking.NewManager(),
		log:     deps.Log.With().Str("component", "scheduler").Logger(),
		entries: make(map[int64]cron.EntryID),
	}
}

// Start loads every ACTIVE strategy, registers its cron entry, and begins
// the cron loop.
func (c *Coordinator) Start(ctx context.Context) error {
	active, err := c.deps.Strategies.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("load active strategies: %w", err)
	}
	for _, s := range active {
		if err := c.schedule(s); err != nil {
			c.log.Error().Err(err).Int64("strategy_id", s.ID).Msg("failed to schedule strategy")
		}
	}
	c.cron.Start()
	c.log.Info().Int("strategies", len(active)).Msg("scheduler started")
	return nil
}

// Shutdown stops new ticks from starting and waits up to grace for
// in-flight ticks to finish. Cron-fired ticks run under
// context.Background(), so a tick still running when grace elapses (or
// when ctx is done) is not cancelled.
func (c *Coordinator) Shutdown(ctx context.Context, grace time.Duration) {
	cronCtx := c.cron.Stop()
	<-cronCtx.Done()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.log.Info().Msg("scheduler drained cleanly")
	case <-time.After(grace):
		c.log.Warn().Dur("grace", grace).Msg("shutdown grace period elapsed with ticks still in flight")
	case <-ctx.Done():
	}
}

// schedule registers a cron entry for strat, firing every
// ScheduleInterval seconds.
func (c *Coordinator) schedule(strat domain.Strategy) error {
	interval := strat.ScheduleInterval
	if interval < 1 {
		interval = 1
	}
	spec := fmt.Sprintf("@every %ds", interval)

	id := strat.ID
	entryID, err := c.cron.AddFunc(spec, func() {
		c.wg.Add(1)
		defer c.wg.Done()
		if err := c.Tick(context.Background(), id); err != nil {
			c.log.Error().Err(err).Int64("strategy_id", id).Msg("tick failed")
		}
	})
	if err != nil {
		return fmt.Errorf("add cron entry: %w", err)
	}

	c.mu.Lock()
	c.entries[id] = entryID
	c.mu.Unlock()
	return nil
}

// Reschedule adds (or replaces) strat's cron entry, built from its current
// ScheduleInterval.
func (c *Coordinator) Reschedule(strat domain.Strategy) error {
	c.Unschedule(strat.ID)
	return c.schedule(strat)
}

// Unschedule removes a strategy's cron entry, if any — used on pause,
// stop, or delete.
func (c *Coordinator) Unschedule(strategyID int64) {
	c.mu.Lock()
	entryID, ok := c.entries[strategyID]
	delete(c.entries, strategyID)
	c.mu.Unlock()
	if ok {
		c.cron.Remove(entryID)
	}
}

// ManualRun runs Tick synchronously for one strategy, bypassing the cron
// schedule — the admin surface's trigger-now endpoint calls this.
func (c *Coordinator) ManualRun(ctx context.Context, strategyID int64) error {
	return c.Tick(ctx, strategyID)
}

// Pause sets a strategy to PAUSED and removes its cron entry.
func (c *Coordinator) Pause(ctx context.Context, strategyID int64) error {
	if err := c.deps.Strategies.SetStatus(ctx, strategyID, domain.StatusPaused); err != nil {
		return fmt.Errorf("pause strategy %d: %w", strategyID, err)
	}
	c.Unschedule(strategyID)
	return nil
}

// Resume sets a strategy back to ACTIVE and reinstates its cron entry.
func (c *Coordinator) Resume(ctx context.Context, strategyID int64) error {
	if err := c.deps.Strategies.SetStatus(ctx, strategyID, domain.StatusActive); err != nil {
		return fmt.Errorf("resume strategy %d: %w", strategyID, err)
	}
	strat, err := c.deps.Strategies.Get(ctx, strategyID)
	if err != nil {
		return fmt.Errorf("reload strategy %d: %w", strategyID, err)
	}
	return c.schedule(*strat)
}

// Stop sets a strategy to STOPPED and removes its cron entry permanently.
func (c *Coordinator) Stop(ctx context.Context, strategyID int64) error {
	if err := c.deps.Strategies.SetStatus(ctx, strategyID, domain.StatusStopped); err != nil {
		return fmt.Errorf("stop strategy %d: %w", strategyID, err)
	}
	c.Unschedule(strategyID)
	return nil
}

// Tick runs the full tick procedure for one strategy: load, lock, open
// run log, evaluate, persist signal, submit to risk, execute, close run
// log. Manual runs go through the same path as a cron fire.
func (c *Coordinator) Tick(ctx context.Context, strategyID int64) error {
	strat, err := c.deps.Strategies.Get(ctx, strategyID)
	if err != nil {
		return fmt.Errorf("load strategy %d: %w", strategyID, err)
	}
	if strat.Status != domain.StatusActive {
		return nil
	}

	lockKey := fmt.Sprintf("strategy:%d", strategyID)
	if !c.locks.TryAcquire(lockKey) {
		c.log.Debug().Int64("strategy_id", strategyID).Msg("skipping tick, previous run still in flight")
		return nil
	}
	defer c.locks.Release(lockKey)

	startedAt := time.Now()
	runLogID, err := c.deps.RunLogs.Open(ctx, strategyID, startedAt)
	if err != nil {
		return fmt.Errorf("open run log: %w", err)
	}

	outcome, reason, steps := c.runEvaluation(ctx, strat)

	if err := c.deps.RunLogs.Close(ctx, runLogID, time.Now(), outcome, reason, steps); err != nil {
		c.log.Error().Err(err).Int64("strategy_id", strategyID).Msg("failed to close run log")
	}

	if outcome == domain.OutcomeFailed {
		if err := c.maybeTransitionToError(ctx, strategyID); err != nil {
			c.log.Error().Err(err).Int64("strategy_id", strategyID).Msg("failed to check error transition")
		}
	}

	if err := c.deps.Strategies.SetLastRunAt(ctx, strategyID, time.Now()); err != nil {
		c.log.Error().Err(err).Int64("strategy_id", strategyID).Msg("failed to set last_run_at")
	}

	if c.deps.Metrics != nil {
		c.deps.Metrics.ObserveTick(string(strat.Kind), string(outcome), time.Since(startedAt))
	}

	return nil
}

func (c *Coordinator) runEvaluation(ctx context.Context, strat *domain.Strategy) (domain.RunOutcome, string, []domain.TraceStep) {
	evaluator, ok := c.deps.Evaluators[strat.Kind]
	if !ok {
		return domain.OutcomeFailed, fmt.Sprintf("no evaluator registered for kind %s", strat.Kind), nil
	}

	snapshot, err := c.deps.Broker.Snapshot(ctx)
	if err != nil {
		return domain.OutcomeFailed, fmt.Sprintf("snapshot failed: %v", err), nil
	}
	account, err := c.deps.Accounts.Get(ctx)
	if err != nil {
		return domain.OutcomeFailed, fmt.Sprintf("load account failed: %v", err), nil
	}

	stratCtx := strategy.NewContext(ctx, c.deps.Cache, c.deps.Bars, c.deps.LLM, strategy.AccountSnapshot{
		Cash:                 snapshot.Cash,
		Equity:               snapshot.Equity,
		EquityHighWaterMark:  account.EquityHighWaterMark,
		CircuitBreakerActive: account.CircuitBreakerActive,
		Positions:            snapshot.Positions,
	})

	decision, trace, err := evaluator.Evaluate(stratCtx, strat)
	if err != nil {
		return domain.OutcomeFailed, fmt.Sprintf("%s: %v", domain.ErrEvaluation, err), traceSteps(trace)
	}

	rawAnalysis, _ := json.Marshal(decision)
	signal := &domain.Signal{
		StrategyID:    strat.ID,
		Symbol:        strat.Symbol,
		Action:        decision.Action,
		Conviction:    decision.Conviction,
		PriceAtSignal: lastPriceOrZero(ctx, c.deps.Cache, strat.Symbol),
		Reason:        decision.Reason,
		RawAnalysis:   string(rawAnalysis),
	}
	if err := c.deps.Signals.Insert(ctx, signal); err != nil {
		c.log.Error().Err(err).Int64("strategy_id", strat.ID).Msg("failed to persist signal")
	}

	if decision.Action == domain.ActionHold {
		return domain.OutcomeOK, "", traceSteps(trace)
	}

	order := c.translateOrder(ctx, strat, decision, snapshot)

	price := lastPriceOrZero(ctx, c.deps.Cache, strat.Symbol)
	verdict := risk.Evaluate(order, risk.Inputs{
		Account:   account,
		Positions: snapshot.Positions,
		Equity:    snapshot.Equity,
		Price:     price,
	}, c.deps.Risk)

	if verdict.Reason == risk.ReasonDrawdownHard {
		if err := c.deps.Accounts.Update(ctx, account); err != nil {
			c.log.Error().Err(err).Msg("failed to persist circuit breaker state")
		}
	}

	if !verdict.Accepted {
		trace.Append(domain.StepOrder, "risk", string(decision.Action), "vetoed", string(verdict.Reason), 0)
		if c.deps.Notify != nil {
			c.deps.Notify.NotifyVeto(strat.ID, strat.Symbol, string(verdict.Reason))
		}
		if c.deps.Metrics != nil {
			c.deps.Metrics.VetoesTotal.WithLabelValues(string(verdict.Reason)).Inc()
		}
		return domain.OutcomeVetoed, string(verdict.Reason), traceSteps(trace)
	}

	trade, err := c.deps.Broker.Execute(ctx, order)
	if err != nil {
		return domain.OutcomeFailed, fmt.Sprintf("broker execute failed: %v", err), traceSteps(trace)
	}

	trace.Append(domain.StepOrder, "execute", string(decision.Action), fmt.Sprintf("%.8f@%.2f", trade.Amount, trade.Price), trade.Reason, 0)
	if c.deps.Notify != nil {
		c.deps.Notify.NotifyTrade(trade)
	}
	if c.deps.Metrics != nil {
		c.deps.Metrics.TradesTotal.WithLabelValues(string(trade.Side)).Inc()
		c.deps.Metrics.EquityGauge.Set(snapshot.Equity)
	}

	return domain.OutcomeOK, "", traceSteps(trace)
}

// translateOrder converts a Decision into an Order. BUY carries the
// suggested notional directly; SELL is converted to an amount of the
// underlying asset at the current price and capped at the held position,
// since the broker treats a SELL's quantity field as an amount, not a
// notional.
func (c *Coordinator) translateOrder(ctx context.Context, strat *domain.Strategy, decision strategy.Decision, snapshot broker.Snapshot) domain.Order {
	order := domain.Order{
		Symbol:     strat.Symbol,
		Side:       domain.Side(decision.Action),
		Reason:     decision.Reason,
		StrategyID: strat.ID,
	}

	if decision.Action == domain.ActionBuy {
		order.NotionalOrAmt = decision.SuggestedNotional
		return order
	}

	price := lastPriceOrZero(ctx, c.deps.Cache, strat.Symbol)
	amount := 0.0
	if price > 0 {
		amount = decision.SuggestedNotional / price
	}
	for _, p := range snapshot.Positions {
		if p.Symbol == strat.Symbol && amount > p.Amount {
			amount = p.Amount
		}
	}
	order.NotionalOrAmt = amount
	return order
}

func (c *Coordinator) maybeTransitionToError(ctx context.Context, strategyID int64) error {
	since := time.Now().Add(-failureWindow)
	failures, err := c.deps.RunLogs.RecentFailures(ctx, strategyID, since)
	if err != nil {
		return err
	}
	if failures >= failureThreshold {
		if err := c.deps.Strategies.SetStatus(ctx, strategyID, domain.StatusError); err != nil {
			return err
		}
		c.Unschedule(strategyID)
		c.log.Warn().Int64("strategy_id", strategyID).Int("failures", failures).Msg("strategy transitioned to ERROR")
	}
	return nil
}

func traceSteps(t *strategy.Trace) []domain.TraceStep {
	if t == nil {
		return nil
	}
	return t.Steps()
}

func lastPriceOrZero(ctx context.Context, c *cache.Cache, symbol string) float64 {
	res := c.Get(ctx, cache.SourceTicker24h, symbol)
	if res.State == cache.Absent {
		return 0
	}
	snap, ok := res.Value.(cache.TickerSnapshot)
	if !ok {
		return 0
	}
	return snap.LastPrice
}
