// Package broker owns the paper-trading account: cash, the symbol-keyed
// position table, and the append-only trade ledger. All mutations are
// serialized under a single writer lock; snapshot reads observe a
// consistent point-in-time view.
package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/kryptotron/engine/internal/domain"
)

// PriceProvider resolves the latest traded price for a symbol. Symbols
// without a fresh price fall back to the position's average cost when
// computing equity, per the snapshot contract.
type PriceProvider interface {
	LastPrice(ctx context.Context, symbol string) (float64, bool)
}

// AccountStore persists the singleton Account row.
type AccountStore interface {
	Get(ctx context.Context) (*domain.Account, error)
	Update(ctx context.Context, a *domain.Account) error
}

// PositionStore persists Position rows, one per symbol.
type PositionStore interface {
	Get(ctx context.Context, symbol string) (*domain.Position, error)
	List(ctx context.Context) ([]domain.Position, error)
	Upsert(ctx context.Context, p *domain.Position) error
	Delete(ctx context.Context, symbol string) error
}

// TradeStore appends to the immutable trade ledger.
type TradeStore interface {
	Insert(ctx context.Context, t *domain.Trade) error
}

// Config holds the broker's fee/slippage parameters, expressed in basis
// points per spec.
type Config struct {
	FeeBps      float64
	SlippageBps float64
}

// Snapshot is a point-in-time view of the paper account.
type Snapshot struct {
	Cash      float64
	Positions []domain.Position
	Equity    float64
}

// Broker is the engine's single writer of Account, Position, and Trade
// state.
type Broker struct {
	mu sync.Mutex

	accounts  AccountStore
	positions PositionStore
	trades    TradeStore
	prices    PriceProvider
	cfg       Config
	log       zerolog.Logger
}

// New constructs a Broker.
func New(accounts AccountStore, positions PositionStore, trades TradeStore, prices PriceProvider, cfg Config, log zerolog.Logger) *Broker {
	return &Broker{
		accounts:  accounts,
		positions: positions,
		trades:    trades,
		prices:    prices,
		cfg:       cfg,
		log:       log.With().Str("component", "broker").Logger(),
	}
}

// Snapshot returns {cash, positions, equity}. equity = cash +
// Σ amount*last_price(symbol); symbols without a last price contribute
// amount*average_cost.
func (b *Broker) Snapshot(ctx context.Context) (Snapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked(ctx)
}

func (b *Broker) snapshotLocked(ctx context.Context) (Snapshot, error) {
	account, err := b.accounts.Get(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: load account: %v", domain.ErrPersistence, err)
	}
	positions, err := b.positions.List(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: list positions: %v", domain.ErrPersistence, err)
	}

	equity := account.Cash
	for _, p := range positions {
		if price, ok := b.prices.LastPrice(ctx, p.Symbol); ok {
			equity += p.Amount * price
		} else {
			equity += p.Amount * p.AverageCost
		}
	}

	return Snapshot{Cash: account.Cash, Positions: positions, Equity: equity}, nil
}

// Execute applies order against the latest price snapshot, charging fee
// and slippage, and appends a Trade to the ledger.
func (b *Broker) Execute(ctx context.Context, order domain.Order) (*domain.Trade, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	lastPrice, ok := b.prices.LastPrice(ctx, order.Symbol)
	if !ok {
		return nil, fmt.Errorf("%w: no last price for %s", domain.ErrUpstreamUnavailable, order.Symbol)
	}

	if order.ClientOrderID == "" {
		order.ClientOrderID = uuid.NewString()
	}

	switch order.Side {
	case domain.SideBuy:
		return b.executeBuy(ctx, order, lastPrice)
	case domain.SideSell:
		return b.executeSell(ctx, order, lastPrice)
	default:
		return nil, fmt.Errorf("invalid order side %q", order.Side)
	}
}

// bpsOf returns amount * bps/10000 computed in decimal, so repeated
// fee/slippage application across many trades does not accumulate the
// rounding drift plain float64 multiplication would.
func bpsOf(amount decimal.Decimal, bps float64) decimal.Decimal {
	return amount.Mul(decimal.NewFromFloat(bps)).Div(decimal.NewFromInt(10000))
}

func (b *Broker) executeBuy(ctx context.Context, order domain.Order, lastPrice float64) (*domain.Trade, error) {
	price := decimal.NewFromFloat(lastPrice)
	execPriceDec := price.Add(bpsOf(price, b.cfg.FeeBps+b.cfg.SlippageBps))
	notional := decimal.NewFromFloat(order.NotionalOrAmt)
	amountDec := notional.Div(execPriceDec)
	costDec := execPriceDec.Mul(amountDec)
	feeDec := bpsOf(costDec, b.cfg.FeeBps)

	execPrice, _ := execPriceDec.Float64()
	amount, _ := amountDec.Float64()
	cost, _ := costDec.Float64()
	fee, _ := feeDec.Float64()

	account, err := b.accounts.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: load account: %v", domain.ErrPersistence, err)
	}
	if cost > account.Cash {
		return nil, domain.ErrInsufficientCash
	}

	account.Cash -= cost

	pos, err := b.positions.Get(ctx, order.Symbol)
	if err != nil {
		return nil, fmt.Errorf("%w: load position: %v", domain.ErrPersistence, err)
	}
	now := time.Now()
	if pos == nil {
		pos = &domain.Position{Symbol: order.Symbol, Amount: 0, AverageCost: 0, OpenedAt: now}
	}
	totalCostBefore := pos.Amount * pos.AverageCost
	newAmount := pos.Amount + amount
	pos.AverageCost = (totalCostBefore + cost) / newAmount
	pos.Amount = newAmount
	pos.LastUpdatedAt = now

	if err := b.accounts.Update(ctx, account); err != nil {
		return nil, fmt.Errorf("%w: update account: %v", domain.ErrPersistence, err)
	}
	if err := b.positions.Upsert(ctx, pos); err != nil {
		return nil, fmt.Errorf("%w: upsert position: %v", domain.ErrPersistence, err)
	}

	trade := &domain.Trade{
		StrategyID:    order.StrategyID,
		Symbol:        order.Symbol,
		Side:          domain.SideBuy,
		Price:         execPrice,
		Amount:        amount,
		Value:         cost,
		Fee:           fee,
		Reason:        order.Reason,
		ClientOrderID: order.ClientOrderID,
		ExecutedAt:    now,
	}
	if err := b.trades.Insert(ctx, trade); err != nil {
		return nil, fmt.Errorf("%w: insert trade: %v", domain.ErrPersistence, err)
	}

	if err := b.bumpHighWaterMark(ctx, account); err != nil {
		b.log.Warn().Err(err).Msg("failed to update equity high-water mark")
	}

	return trade, nil
}

func (b *Broker) executeSell(ctx context.Context, order domain.Order, lastPrice float64) (*domain.Trade, error) {
	price := decimal.NewFromFloat(lastPrice)
	execPriceDec := price.Sub(bpsOf(price, b.cfg.FeeBps+b.cfg.SlippageBps))
	execPrice, _ := execPriceDec.Float64()

	pos, err := b.positions.Get(ctx, order.Symbol)
	if err != nil {
		return nil, fmt.Errorf("%w: load position: %v", domain.ErrPersistence, err)
	}

	amount := order.NotionalOrAmt
	if pos == nil || amount > pos.Amount {
		return nil, domain.ErrInsufficientHolding
	}

	proceedsDec := execPriceDec.Mul(decimal.NewFromFloat(amount))
	feeDec := bpsOf(proceedsDec, b.cfg.FeeBps)
	netProceedsDec := proceedsDec.Sub(feeDec)

	proceeds, _ := proceedsDec.Float64()
	fee, _ := feeDec.Float64()
	netProceeds, _ := netProceedsDec.Float64()

	account, err := b.accounts.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: load account: %v", domain.ErrPersistence, err)
	}
	account.Cash += netProceeds

	now := time.Now()
	pos.Amount -= amount
	pos.LastUpdatedAt = now
	// average_cost is preserved unchanged on SELL.

	if err := b.accounts.Update(ctx, account); err != nil {
		return nil, fmt.Errorf("%w: update account: %v", domain.ErrPersistence, err)
	}

	if pos.Amount == 0 {
		if err := b.positions.Delete(ctx, order.Symbol); err != nil {
			return nil, fmt.Errorf("%w: delete position: %v", domain.ErrPersistence, err)
		}
	} else if err := b.positions.Upsert(ctx, pos); err != nil {
		return nil, fmt.Errorf("%w: upsert position: %v", domain.ErrPersistence, err)
	}

	trade := &domain.Trade{
		StrategyID:    order.StrategyID,
		Symbol:        order.Symbol,
		Side:          domain.SideSell,
		Price:         execPrice,
		Amount:        amount,
		Value:         proceeds,
		Fee:           fee,
		Reason:        order.Reason,
		ClientOrderID: order.ClientOrderID,
		ExecutedAt:    now,
	}
	if err := b.trades.Insert(ctx, trade); err != nil {
		return nil, fmt.Errorf("%w: insert trade: %v", domain.ErrPersistence, err)
	}

	if err := b.bumpHighWaterMark(ctx, account); err != nil {
		b.log.Warn().Err(err).Msg("failed to update equity high-water mark")
	}

	return trade, nil
}

// CloseAll is a convenience SELL of the entire position in symbol.
func (b *Broker) CloseAll(ctx context.Context, strategyID int64, symbol, reason string) (*domain.Trade, error) {
	b.mu.Lock()
	pos, err := b.positions.Get(ctx, symbol)
	b.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("%w: load position: %v", domain.ErrPersistence, err)
	}
	if pos == nil || pos.Amount <= 0 {
		return nil, domain.ErrInsufficientHolding
	}
	return b.Execute(ctx, domain.Order{
		Symbol:        symbol,
		Side:          domain.SideSell,
		NotionalOrAmt: pos.Amount,
		Reason:        reason,
		StrategyID:    strategyID,
	})
}

// bumpHighWaterMark recomputes equity and raises the high-water mark if
// current equity exceeds the prior mark. Must be called with mu held.
func (b *Broker) bumpHighWaterMark(ctx context.Context, account *domain.Account) error {
	snap, err := b.snapshotLocked(ctx)
	if err != nil {
		return err
	}
	if snap.Equity > account.EquityHighWaterMark {
		account.EquityHighWaterMark = snap.Equity
		return b.accounts.Update(ctx, account)
	}
	return nil
}
