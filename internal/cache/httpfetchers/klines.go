package httpfetchers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kryptotron/engine/internal/domain"
)

// klineRow is the wire shape one OHLCV candle is decoded from — an opaque
// JSON object keyed the way the cache source table documents, independent
// of any one exchange's actual response format.
type klineRow struct {
	OpenTime int64   `json:"open_time"`
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	Volume   float64 `json:"volume"`
}

// KlinesFetcher implements cache.KlinesFetcher against a configured base
// URL, fetching capped history on the first request and incremental bars
// on every poll thereafter.
type KlinesFetcher struct {
	client     *http.Client
	baseURL    string
	historyCap int
}

// NewKlinesFetcher builds a KlinesFetcher sharing the engine's one HTTP
// client.
func NewKlinesFetcher(client *http.Client, baseURL string, historyCap int) *KlinesFetcher {
	return &KlinesFetcher{client: client, baseURL: baseURL, historyCap: historyCap}
}

// FetchKlines implements cache.KlinesFetcher.
func (f *KlinesFetcher) FetchKlines(ctx context.Context, symbol string, timeframe domain.Timeframe, since *time.Time) ([]domain.PriceBar, error) {
	limit := f.historyCap
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("timeframe", string(timeframe))
	if since != nil {
		q.Set("since", strconv.FormatInt(since.UnixMilli(), 10))
		limit = 500
	}
	q.Set("limit", strconv.Itoa(limit))

	u := strings.TrimRight(f.baseURL, "/") + "/klines?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build klines request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch klines %s/%s: %w", symbol, timeframe, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch klines %s/%s: unexpected status %d", symbol, timeframe, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read klines body: %w", err)
	}

	var rows []klineRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode klines: %w", err)
	}

	bars := make([]domain.PriceBar, len(rows))
	for i, row := range rows {
		bars[i] = domain.PriceBar{
			Symbol:    symbol,
			Timeframe: timeframe,
			OpenTime:  time.UnixMilli(row.OpenTime).UTC(),
			Open:      row.Open,
			High:      row.High,
			Low:       row.Low,
			Close:     row.Close,
			Volume:    row.Volume,
		}
	}
	return bars, nil
}
