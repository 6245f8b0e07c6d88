// Package notify is the write-only notification sink the scheduler calls
// on trade execution and risk veto. The chat-bot channel itself is out of
// scope; this package only defines the contract and a webhook-based
// best-effort implementation.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/kryptotron/engine/internal/domain"
	"github.com/kryptotron/engine/internal/events"
)

// Sink is notified of trade executions and risk vetoes. Implementations
// must not block the scheduler for long; failures are logged, never
// propagated.
type Sink interface {
	NotifyTrade(trade *domain.Trade)
	NotifyVeto(strategyID int64, symbol string, reason string)
}

// NullSink discards everything. Used when no webhook is configured.
type NullSink struct{}

func (NullSink) NotifyTrade(*domain.Trade)       {}
func (NullSink) NotifyVeto(int64, string, string) {}

// LoggingSink emits structured events via events.Manager, unconditionally.
// It is always composed in front of whichever Sink the engine is
// configured with.
type LoggingSink struct {
	manager *events.Manager
	next    Sink
}

// NewLoggingSink wraps next, logging every notification before forwarding.
func NewLoggingSink(manager *events.Manager, next Sink) *LoggingSink {
	return &LoggingSink{manager: manager, next: next}
}

func (s *LoggingSink) NotifyTrade(trade *domain.Trade) {
	s.manager.Emit(events.TradeExecuted, "scheduler", map[string]interface{}{
		"symbol": trade.Symbol,
		"side":   trade.Side,
		"amount": trade.Amount,
		"price":  trade.Price,
	})
	s.next.NotifyTrade(trade)
}

func (s *LoggingSink) NotifyVeto(strategyID int64, symbol, reason string) {
	s.manager.Emit(events.OrderVetoed, "scheduler", map[string]interface{}{
		"strategy_id": strategyID,
		"symbol":      symbol,
		"reason":      reason,
	})
	s.next.NotifyVeto(strategyID, symbol, reason)
}

// WebhookSink POSTs a JSON payload to a configured URL, best-effort with a
// short timeout.
type WebhookSink struct {
	url    string
	client *http.Client
	log    zerolog.Logger
}

// NewWebhookSink constructs a WebhookSink.
func NewWebhookSink(url string, client *http.Client, log zerolog.Logger) *WebhookSink {
	return &WebhookSink{url: url, client: client, log: log.With().Str("component", "notify.webhook").Logger()}
}

func (s *WebhookSink) NotifyTrade(trade *domain.Trade) {
	s.post(map[string]interface{}{
		"event":  "trade_executed",
		"symbol": trade.Symbol,
		"side":   trade.Side,
		"amount": trade.Amount,
		"price":  trade.Price,
		"value":  trade.Value,
		"reason": trade.Reason,
	})
}

func (s *WebhookSink) NotifyVeto(strategyID int64, symbol, reason string) {
	s.post(map[string]interface{}{
		"event":       "order_vetoed",
		"strategy_id": strategyID,
		"symbol":      symbol,
		"reason":      reason,
	})
}

func (s *WebhookSink) post(payload map[string]interface{}) {
	body, err := json.Marshal(payload)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to marshal webhook payload")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		s.log.Error().Err(err).Msg("failed to build webhook request")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		s.log.Warn().Err(err).Msg("webhook delivery failed")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		s.log.Warn().Int("status", resp.StatusCode).Msg("webhook rejected delivery")
	}
}
