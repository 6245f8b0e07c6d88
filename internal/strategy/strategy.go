// Package strategy defines the common evaluator contract every strategy
// kind (TA, macro-trend, grid) implements, plus the Context a run
// coordinator hands to an evaluator for the duration of one tick.
package strategy

import (
	"context"
	"time"

	"github.com/kryptotron/engine/internal/broker"
	"github.com/kryptotron/engine/internal/cache"
	"github.com/kryptotron/engine/internal/domain"
	"github.com/kryptotron/engine/internal/llm"
)

// Decision is what an evaluator concludes from one tick. Evaluators never
// place orders themselves; the run coordinator translates a non-HOLD
// Decision into an Order and submits it to the risk filter.
type Decision struct {
	Action           domain.Action
	Conviction       float64
	SuggestedNotional float64
	StopLoss         *float64
	TakeProfit       *float64
	Reason           string
}

// Trace accumulates TraceSteps for one run, assigning dense 1-based
// indices as steps are appended.
type Trace struct {
	steps []domain.TraceStep
}

// NewTrace constructs an empty Trace.
func NewTrace() *Trace {
	return &Trace{}
}

// Step appends a TraceStep, filling in StepIndex and Duration.
func (t *Trace) Step(kind domain.TraceStepKind, label string, fn func() (inputDigest, outputDigest, details string)) {
	start := time.Now()
	inputDigest, outputDigest, details := fn()
	t.steps = append(t.steps, domain.TraceStep{
		StepIndex:    len(t.steps) + 1,
		Kind:         kind,
		Label:        label,
		InputDigest:  inputDigest,
		OutputDigest: outputDigest,
		Details:      details,
		Duration:     time.Since(start),
	})
}

// Append records a step whose timing was measured by the caller.
func (t *Trace) Append(kind domain.TraceStepKind, label, inputDigest, outputDigest, details string, duration time.Duration) {
	t.steps = append(t.steps, domain.TraceStep{
		StepIndex:    len(t.steps) + 1,
		Kind:         kind,
		Label:        label,
		InputDigest:  inputDigest,
		OutputDigest: outputDigest,
		Details:      details,
		Duration:     duration,
	})
}

// Steps returns the accumulated steps in order.
func (t *Trace) Steps() []domain.TraceStep {
	return t.steps
}

// AccountSnapshot is the read-only view of account state an evaluator may
// consult, e.g. to size a position as a fraction of equity.
type AccountSnapshot struct {
	Cash                  float64
	Equity                float64
	EquityHighWaterMark   float64
	CircuitBreakerActive  bool
	Positions             []domain.Position
}

// Context is the per-tick environment handed to Evaluate. It exposes the
// market data cache, the bar cache, the advisory client, the tick's start
// time and a read-only account snapshot; none of these lets an evaluator
// write account, position or trade state.
type Context struct {
	ctx     context.Context
	Cache   *cache.Cache
	Bars    *cache.Bars
	LLM     llm.AdvisoryClient
	Account AccountSnapshot
	Now     time.Time
}

// AdvisoryClient and AdvisoryRequest alias the llm package's types, so
// every strategy evaluator shares exactly one advisory contract with the
// run coordinator that constructs a Context.
type AdvisoryClient = llm.AdvisoryClient
type AdvisoryRequest = llm.AdvisoryRequest

// NewContext builds a Context for one evaluation.
func NewContext(ctx context.Context, c *cache.Cache, bars *cache.Bars, llmClient llm.AdvisoryClient, account AccountSnapshot) *Context {
	return &Context{ctx: ctx, Cache: c, Bars: bars, LLM: llmClient, Account: account, Now: time.Now()}
}

// Deadline exposes the underlying context for cache/LLM calls that need
// to observe cancellation.
func (c *Context) Deadline() context.Context { return c.ctx }

// PositionFor returns the held position for symbol, or nil if none.
func (c *Context) PositionFor(symbol string) *domain.Position {
	for i := range c.Account.Positions {
		if c.Account.Positions[i].Symbol == symbol {
			return &c.Account.Positions[i]
		}
	}
	return nil
}

// Evaluator is implemented by every strategy kind.
type Evaluator interface {
	// Evaluate runs one tick of the strategy against strategy's persisted
	// parameters and returns a Decision plus the Trace of how it was
	// reached. It never places orders or touches broker state; the grid
	// evaluator does persist its own level state and out-of-range pause
	// through its ParameterStore.
	Evaluate(ctx *Context, strat *domain.Strategy) (Decision, *Trace, error)
}

// BrokerPriceProvider aliases broker.PriceProvider, the last-price source
// the broker executes against; no evaluator in this module uses it.
type BrokerPriceProvider = broker.PriceProvider
