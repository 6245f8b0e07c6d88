// Package llm provides the optional, best-effort advisory client the
// macro-trend evaluator may consult. The model never chooses actions or
// sizes; it only appends a short textual summary to a Decision's reason.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// AdvisoryRequest carries the scored macro table and a brief market
// snapshot to the advisory model.
type AdvisoryRequest struct {
	Symbol   string             `json:"symbol"`
	Scores   map[string]float64 `json:"scores"`
	RawSum   float64            `json:"raw_sum"`
	Snapshot map[string]float64 `json:"snapshot"`
}

// AdvisoryClient is consulted for a short textual opinion. It must never
// block the caller beyond its own context deadline, and failures must be
// non-fatal to the evaluator.
type AdvisoryClient interface {
	Advise(ctx context.Context, req AdvisoryRequest) (string, error)
}

// NullClient always fails fast with no network activity. It is the
// default when llm_enabled is false.
type NullClient struct{}

// NewNullClient constructs a NullClient.
func NewNullClient() NullClient { return NullClient{} }

func (NullClient) Advise(context.Context, AdvisoryRequest) (string, error) {
	return "", fmt.Errorf("llm: advisory disabled")
}

// HTTPClient POSTs the request to a configured endpoint and reads back a
// short plain-text summary. It is deliberately simple: no retries, no
// streaming, a single timeout owned by the caller's context.
type HTTPClient struct {
	endpoint string
	client   *http.Client
	log      zerolog.Logger
}

// NewHTTPClient constructs an HTTPClient against endpoint.
func NewHTTPClient(endpoint string, client *http.Client, log zerolog.Logger) *HTTPClient {
	return &HTTPClient{endpoint: endpoint, client: client, log: log.With().Str("component", "llm").Logger()}
}

// Advise submits req and returns the model's summary text. The caller
// supplies the 15s advisory timeout via ctx.
func (c *HTTPClient) Advise(ctx context.Context, req AdvisoryRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal advisory request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build advisory request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("advisory request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("advisory endpoint returned status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8*1024))
	if err != nil {
		return "", fmt.Errorf("read advisory response: %w", err)
	}

	var decoded struct {
		Summary string `json:"summary"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		// Tolerate a plain-text response body too.
		decoded.Summary = string(raw)
	}

	c.log.Debug().Dur("latency", time.Since(start)).Msg("advisory round trip complete")
	return decoded.Summary, nil
}
