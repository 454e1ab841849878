package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"marketchart/internal/model"
)

// ErrUnexpectedStatus is wrapped when the endpoint answers with a non-2xx code.
var ErrUnexpectedStatus = errors.New("history: unexpected status")

type candlesResponse struct {
	Candles []model.Candle `json:"candles"`
}

// HTTPSource fetches candles from a retrieval endpoint:
//
//	GET {BaseURL}?exchange=&market=&code=&interval=1d&limit=N[&before=T]
//
// answering {"candles":[{"time":...,"open":...}, ...]}.
type HTTPSource struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPSource creates a source against baseURL with a default client.
func NewHTTPSource(baseURL string) *HTTPSource {
	return &HTTPSource{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// Fetch implements Source.
func (s *HTTPSource) Fetch(ctx context.Context, req Request) ([]model.Candle, error) {
	u, err := url.Parse(s.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("history: parse base url: %w", err)
	}
	q := u.Query()
	q.Set("exchange", req.Instrument.Exchange)
	q.Set("market", req.Instrument.Market)
	q.Set("code", req.Instrument.Code)
	interval := req.Interval
	if interval == "" {
		interval = IntervalDaily
	}
	q.Set("interval", interval)
	q.Set("limit", strconv.Itoa(req.Limit))
	if req.Before != 0 {
		q.Set("before", strconv.FormatInt(req.Before, 10))
	}
	u.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("history: build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("history: fetch %s: %w", req.Instrument.Key(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: %d %s", ErrUnexpectedStatus, resp.StatusCode, body)
	}

	var out candlesResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("history: decode: %w", err)
	}
	sort.Slice(out.Candles, func(i, j int) bool { return out.Candles[i].Time < out.Candles[j].Time })
	return out.Candles, nil
}
