package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	t.Run("ObserveTick increments ticks and records duration", func(t *testing.T) {
		r.ObserveTick("ta", "ok", 150*time.Millisecond)
		assert.Equal(t, 1.0, testutil.ToFloat64(r.TicksTotal.WithLabelValues("ta", "ok")))
	})

	t.Run("TradesTotal and VetoesTotal are independently labeled", func(t *testing.T) {
		r.TradesTotal.WithLabelValues("buy").Inc()
		r.VetoesTotal.WithLabelValues("trade_cap").Inc()
		assert.Equal(t, 1.0, testutil.ToFloat64(r.TradesTotal.WithLabelValues("buy")))
		assert.Equal(t, 1.0, testutil.ToFloat64(r.VetoesTotal.WithLabelValues("trade_cap")))
	})

	t.Run("cache counters are labeled by source", func(t *testing.T) {
		r.CacheHits.WithLabelValues("ticker24h").Inc()
		r.CacheMisses.WithLabelValues("ticker24h").Inc()
		r.CacheStale.WithLabelValues("ticker24h").Inc()
		assert.Equal(t, 1.0, testutil.ToFloat64(r.CacheHits.WithLabelValues("ticker24h")))
		assert.Equal(t, 1.0, testutil.ToFloat64(r.CacheMisses.WithLabelValues("ticker24h")))
		assert.Equal(t, 1.0, testutil.ToFloat64(r.CacheStale.WithLabelValues("ticker24h")))
	})

	t.Run("gauges reflect the last set value", func(t *testing.T) {
		r.CircuitBreaker.Set(1)
		r.EquityGauge.Set(105000)
		assert.Equal(t, 1.0, testutil.ToFloat64(r.CircuitBreaker))
		assert.Equal(t, 105000.0, testutil.ToFloat64(r.EquityGauge))
	})
}

func TestServer_StartAndShutdown(t *testing.T) {
	s := NewServer("127.0.0.1:0", zerolog.Nop())
	s.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
}
