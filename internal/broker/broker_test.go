package broker

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kryptotron/engine/internal/domain"
)

type fakeAccounts struct {
	account *domain.Account
}

func (f *fakeAccounts) Get(ctx context.Context) (*domain.Account, error) { return f.account, nil }
func (f *fakeAccounts) Update(ctx context.Context, a *domain.Account) error {
	f.account = a
	return nil
}

type fakePositions struct {
	bySymbol map[string]*domain.Position
}

func newFakePositions() *fakePositions {
	return &fakePositions{bySymbol: map[string]*domain.Position{}}
}

func (f *fakePositions) Get(ctx context.Context, symbol string) (*domain.Position, error) {
	return f.bySymbol[symbol], nil
}

func (f *fakePositions) List(ctx context.Context) ([]domain.Position, error) {
	var out []domain.Position
	for _, p := range f.bySymbol {
		out = append(out, *p)
	}
	return out, nil
}

func (f *fakePositions) Upsert(ctx context.Context, p *domain.Position) error {
	cp := *p
	f.bySymbol[p.Symbol] = &cp
	return nil
}

func (f *fakePositions) Delete(ctx context.Context, symbol string) error {
	delete(f.bySymbol, symbol)
	return nil
}

type fakeTrades struct {
	inserted []domain.Trade
}

func (f *fakeTrades) Insert(ctx context.Context, t *domain.Trade) error {
	t.ID = int64(len(f.inserted) + 1)
	f.inserted = append(f.inserted, *t)
	return nil
}

type fakePrices struct {
	prices map[string]float64
}

func (f *fakePrices) LastPrice(ctx context.Context, symbol string) (float64, bool) {
	p, ok := f.prices[symbol]
	return p, ok
}

func newHarness(cash float64, price float64) (*Broker, *fakeAccounts, *fakePositions, *fakeTrades) {
	accounts := &fakeAccounts{account: &domain.Account{Cash: cash}}
	positions := newFakePositions()
	trades := &fakeTrades{}
	prices := &fakePrices{prices: map[string]float64{"BTC": price}}
	b := New(accounts, positions, trades, prices, Config{FeeBps: 10, SlippageBps: 5}, zerolog.Nop())
	return b, accounts, positions, trades
}

func TestExecute_BuyChargesFeeAndSlippage(t *testing.T) {
	b, accounts, positions, trades := newHarness(10000, 100)

	trade, err := b.Execute(context.Background(), domain.Order{
		Symbol: "BTC", Side: domain.SideBuy, NotionalOrAmt: 1000, StrategyID: 1,
	})
	require.NoError(t, err)

	// execPrice = 100 * (1 + 15bps) = 100.15
	assert.InDelta(t, 100.15, trade.Price, 0.001)
	assert.InDelta(t, 1000, trade.Value, 0.01)
	assert.Greater(t, trade.Fee, 0.0)
	assert.NotEmpty(t, trade.ClientOrderID, "broker must mint an idempotency key when the caller leaves it blank")

	assert.InDelta(t, 9000, accounts.account.Cash, 0.01)
	pos, _ := positions.Get(context.Background(), "BTC")
	require.NotNil(t, pos)
	assert.InDelta(t, trade.Amount, pos.Amount, 1e-9)
	assert.Len(t, trades.inserted, 1)
}

func TestExecute_BuyInsufficientCash(t *testing.T) {
	b, _, _, _ := newHarness(10, 100)

	_, err := b.Execute(context.Background(), domain.Order{
		Symbol: "BTC", Side: domain.SideBuy, NotionalOrAmt: 1000, StrategyID: 1,
	})

	assert.ErrorIs(t, err, domain.ErrInsufficientCash)
}

func TestExecute_BuyWeightedAverageCost(t *testing.T) {
	b, _, positions, _ := newHarness(100000, 100)
	ctx := context.Background()

	_, err := b.Execute(ctx, domain.Order{Symbol: "BTC", Side: domain.SideBuy, NotionalOrAmt: 1000, StrategyID: 1})
	require.NoError(t, err)

	first, _ := positions.Get(ctx, "BTC")
	firstAvgCost := first.AverageCost

	_, err = b.Execute(ctx, domain.Order{Symbol: "BTC", Side: domain.SideBuy, NotionalOrAmt: 1000, StrategyID: 1})
	require.NoError(t, err)

	second, _ := positions.Get(ctx, "BTC")
	// Same price both times, so weighted average cost should be unchanged.
	assert.InDelta(t, firstAvgCost, second.AverageCost, 1e-6)
	assert.InDelta(t, first.Amount*2, second.Amount, 1e-6)
}

func TestExecute_SellPreservesAverageCost(t *testing.T) {
	b, _, positions, _ := newHarness(100000, 100)
	ctx := context.Background()

	_, err := b.Execute(ctx, domain.Order{Symbol: "BTC", Side: domain.SideBuy, NotionalOrAmt: 10000, StrategyID: 1})
	require.NoError(t, err)

	before, _ := positions.Get(ctx, "BTC")
	sellAmount := before.Amount / 2

	trade, err := b.Execute(ctx, domain.Order{Symbol: "BTC", Side: domain.SideSell, NotionalOrAmt: sellAmount, StrategyID: 1})
	require.NoError(t, err)

	after, _ := positions.Get(ctx, "BTC")
	assert.InDelta(t, before.AverageCost, after.AverageCost, 1e-6, "average_cost must be unchanged on SELL")
	assert.InDelta(t, before.Amount-sellAmount, after.Amount, 1e-6)
	assert.Equal(t, domain.SideSell, trade.Side)
}

func TestExecute_SellMoreThanHeldFails(t *testing.T) {
	b, _, _, _ := newHarness(100000, 100)
	ctx := context.Background()

	_, err := b.Execute(ctx, domain.Order{Symbol: "BTC", Side: domain.SideBuy, NotionalOrAmt: 1000, StrategyID: 1})
	require.NoError(t, err)

	_, err = b.Execute(ctx, domain.Order{Symbol: "BTC", Side: domain.SideSell, NotionalOrAmt: 1000, StrategyID: 1})
	assert.ErrorIs(t, err, domain.ErrInsufficientHolding)
}

func TestExecute_SellClearsPositionAtZero(t *testing.T) {
	b, _, positions, _ := newHarness(100000, 100)
	ctx := context.Background()

	_, err := b.Execute(ctx, domain.Order{Symbol: "BTC", Side: domain.SideBuy, NotionalOrAmt: 1000, StrategyID: 1})
	require.NoError(t, err)
	before, _ := positions.Get(ctx, "BTC")

	_, err = b.Execute(ctx, domain.Order{Symbol: "BTC", Side: domain.SideSell, NotionalOrAmt: before.Amount, StrategyID: 1})
	require.NoError(t, err)

	after, _ := positions.Get(ctx, "BTC")
	assert.Nil(t, after, "fully closed position must be deleted, not left at zero amount")
}

func TestExecute_BumpsEquityHighWaterMark(t *testing.T) {
	b, accounts, _, _ := newHarness(100000, 100)
	ctx := context.Background()

	_, err := b.Execute(ctx, domain.Order{Symbol: "BTC", Side: domain.SideBuy, NotionalOrAmt: 1000, StrategyID: 1})
	require.NoError(t, err)

	assert.Greater(t, accounts.account.EquityHighWaterMark, 0.0)
}

func TestExecute_ClientOrderIDIsPreservedWhenProvided(t *testing.T) {
	b, _, _, _ := newHarness(100000, 100)

	trade, err := b.Execute(context.Background(), domain.Order{
		Symbol: "BTC", Side: domain.SideBuy, NotionalOrAmt: 1000, StrategyID: 1, ClientOrderID: "caller-supplied-key",
	})
	require.NoError(t, err)

	assert.Equal(t, "caller-supplied-key", trade.ClientOrderID)
}

func TestCloseAll_SellsEntirePosition(t *testing.T) {
	b, _, positions, _ := newHarness(100000, 100)
	ctx := context.Background()

	_, err := b.Execute(ctx, domain.Order{Symbol: "BTC", Side: domain.SideBuy, NotionalOrAmt: 1000, StrategyID: 1})
	require.NoError(t, err)

	trade, err := b.CloseAll(ctx, 1, "BTC", "manual close")
	require.NoError(t, err)
	assert.Equal(t, domain.SideSell, trade.Side)

	after, _ := positions.Get(ctx, "BTC")
	assert.Nil(t, after)
}

func TestCloseAll_NoPositionFails(t *testing.T) {
	b, _, _, _ := newHarness(100000, 100)

	_, err := b.CloseAll(context.Background(), 1, "BTC", "manual close")

	assert.ErrorIs(t, err, domain.ErrInsufficientHolding)
}
