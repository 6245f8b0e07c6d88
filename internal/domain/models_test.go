package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStrategyKind_IsValid(t *testing.T) {
	assert.True(t, StrategyTA.IsValid())
	assert.True(t, StrategyMacro.IsValid())
	assert.True(t, StrategyGrid.IsValid())
	assert.False(t, StrategyKind("nope").IsValid())
	assert.False(t, StrategyKind("").IsValid())
}

func TestSide_IsValid(t *testing.T) {
	assert.True(t, SideBuy.IsValid())
	assert.True(t, SideSell.IsValid())
	assert.False(t, Side("HOLD").IsValid())
}

func TestAction_IsValid(t *testing.T) {
	assert.True(t, ActionBuy.IsValid())
	assert.True(t, ActionSell.IsValid())
	assert.True(t, ActionHold.IsValid())
	assert.False(t, Action("nope").IsValid())
}
