package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNullClient_AlwaysFailsFast(t *testing.T) {
	c := NewNullClient()
	summary, err := c.Advise(context.Background(), AdvisoryRequest{Symbol: "BTC"})
	assert.Empty(t, summary)
	assert.Error(t, err)
}

func TestHTTPClient_Advise_ReturnsSummaryFromJSONResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"summary":"cautiously bullish on BTC"}`))
	}))
	defer server.Close()

	c := NewHTTPClient(server.URL, &http.Client{Timeout: 2 * time.Second}, zerolog.Nop())
	summary, err := c.Advise(context.Background(), AdvisoryRequest{Symbol: "BTC", RawSum: 5})
	require.NoError(t, err)
	assert.Equal(t, "cautiously bullish on BTC", summary)
}

func TestHTTPClient_Advise_TreatsPlainTextBodyAsSummary(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json at all"))
	}))
	defer server.Close()

	c := NewHTTPClient(server.URL, &http.Client{Timeout: 2 * time.Second}, zerolog.Nop())
	summary, err := c.Advise(context.Background(), AdvisoryRequest{Symbol: "BTC"})
	require.NoError(t, err)
	assert.Equal(t, "not json at all", summary)
}

func TestHTTPClient_Advise_NonSuccessStatusIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := NewHTTPClient(server.URL, &http.Client{Timeout: 2 * time.Second}, zerolog.Nop())
	_, err := c.Advise(context.Background(), AdvisoryRequest{Symbol: "BTC"})
	assert.Error(t, err)
}

func TestHTTPClient_Advise_ContextCancellationIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		w.Write([]byte(`{"summary":"too late"}`))
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	c := NewHTTPClient(server.URL, &http.Client{}, zerolog.Nop())
	_, err := c.Advise(ctx, AdvisoryRequest{Symbol: "BTC"})
	assert.Error(t, err)
}
