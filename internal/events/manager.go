// Package events provides structured, log-backed event emission. It is
// the logging half of notifications; internal/notify layers a
// write-only sink (webhook or null) on top for anything that needs to
// leave the process.
package events

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
)

// EventType names a kind of engine event.
type EventType string

const (
	TradeExecuted   EventType = "TRADE_EXECUTED"
	OrderVetoed     EventType = "ORDER_VETOED"
	StrategyErrored EventType = "STRATEGY_ERRORED"
	CircuitBreaker  EventType = "CIRCUIT_BREAKER_TRIPPED"
	RunFailed       EventType = "RUN_FAILED"
)

// Event is a structured record of something the engine did.
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
	Module    string                 `json:"module"`
}

// Manager logs every emitted event as structured JSON.
type Manager struct {
	log zerolog.Logger
}

// NewManager creates an event Manager.
func NewManager(log zerolog.Logger) *Manager {
	return &Manager{log: log.With().Str("component", "events").Logger()}
}

// Emit logs an event.
func (m *Manager) Emit(eventType EventType, module string, data map[string]interface{}) Event {
	event := Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
		Module:    module,
	}

	eventJSON, _ := json.Marshal(event)
	m.log.Info().
		Str("event_type", string(eventType)).
		Str("module", module).
		RawJSON("event", eventJSON).
		Msg("event emitted")

	return event
}

// EmitError logs an error event.
func (m *Manager) EmitError(module string, err error, context map[string]interface{}) Event {
	data := map[string]interface{}{
		"error":   err.Error(),
		"context": context,
	}
	return m.Emit(RunFailed, module, data)
}
