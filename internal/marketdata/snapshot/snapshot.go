// Package snapshot polls a quote endpoint for the selected instrument's
// full-day quote while the market is open.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"marketchart/internal/history"
	"marketchart/internal/markethours"
	"marketchart/internal/model"
)

// DefaultSchedule is used when no cron spec is configured.
const DefaultSchedule = "@every 30s"

// Fetcher retrieves the current quote for an instrument.
type Fetcher interface {
	FetchQuote(ctx context.Context, inst model.Instrument) (model.QuoteSnapshot, error)
}

// HTTPFetcher reads quotes from
//
//	GET {BaseURL}?exchange=&market=&code=
//
// answering a model.QuoteSnapshot JSON object.
type HTTPFetcher struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPFetcher creates a fetcher against baseURL.
func NewHTTPFetcher(baseURL string) *HTTPFetcher {
	return &HTTPFetcher{BaseURL: baseURL, Client: &http.Client{Timeout: 10 * time.Second}}
}

// FetchQuote implements Fetcher.
func (f *HTTPFetcher) FetchQuote(ctx context.Context, inst model.Instrument) (model.QuoteSnapshot, error) {
	var q model.QuoteSnapshot
	u, err := url.Parse(f.BaseURL)
	if err != nil {
		return q, fmt.Errorf("snapshot: parse base url: %w", err)
	}
	v := u.Query()
	v.Set("exchange", inst.Exchange)
	v.Set("market", inst.Market)
	v.Set("code", inst.Code)
	u.RawQuery = v.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return q, fmt.Errorf("snapshot: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return q, fmt.Errorf("snapshot: fetch %s: %w", inst.Key(), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return q, fmt.Errorf("%w: %d %s", history.ErrUnexpectedStatus, resp.StatusCode, body)
	}
	if err := json.NewDecoder(resp.Body).Decode(&q); err != nil {
		return q, fmt.Errorf("snapshot: decode: %w", err)
	}
	if q.Code == "" {
		q.Code = inst.Code
	}
	return q, nil
}

// ErrNoInstrument is returned by Poll before an instrument is selected.
var ErrNoInstrument = errors.New("snapshot: no instrument selected")

// Poller runs Poll on a cron schedule and hands results to deliver.
type Poller struct {
	cron    *cron.Cron
	fetch   Fetcher
	cal     *markethours.Calendar
	deliver func(model.QuoteSnapshot)
	now     func() time.Time

	mu   sync.Mutex
	inst model.Instrument

	OnError func(err error)
}

// New creates a poller. spec is a robfig/cron spec, evaluated in the
// calendar's location.
func New(spec string, f Fetcher, cal *markethours.Calendar, deliver func(model.QuoteSnapshot)) (*Poller, error) {
	if spec == "" {
		spec = DefaultSchedule
	}
	p := &Poller{
		cron:    cron.New(cron.WithLocation(cal.Location())),
		fetch:   f,
		cal:     cal,
		deliver: deliver,
		now:     time.Now,
	}
	if _, err := p.cron.AddFunc(spec, p.tick); err != nil {
		return nil, fmt.Errorf("snapshot: register schedule %q: %w", spec, err)
	}
	return p, nil
}

// SetInstrument switches the polled instrument.
func (p *Poller) SetInstrument(inst model.Instrument) {
	p.mu.Lock()
	p.inst = inst
	p.mu.Unlock()
}

// Start begins the schedule.
func (p *Poller) Start() {
	p.cron.Start()
	slog.Info("snapshot poller started")
}

// Stop halts the schedule and waits for a running poll to finish.
func (p *Poller) Stop() {
	<-p.cron.Stop().Done()
	slog.Info("snapshot poller stopped")
}

func (p *Poller) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if _, err := p.Poll(ctx); err != nil && !errors.Is(err, ErrNoInstrument) {
		slog.Warn("snapshot poll failed", "error", err)
		if p.OnError != nil {
			p.OnError(err)
		}
	}
}

// Poll fetches and delivers one snapshot. It reports false without
// fetching while the market is closed.
func (p *Poller) Poll(ctx context.Context) (bool, error) {
	if !p.cal.IsMarketOpen(p.now()) {
		return false, nil
	}
	p.mu.Lock()
	inst := p.inst
	p.mu.Unlock()
	if inst.IsZero() {
		return false, ErrNoInstrument
	}

	q, err := p.fetch.FetchQuote(ctx, inst)
	if err != nil {
		return false, err
	}
	if q.DayKey == 0 {
		q.DayKey = p.cal.DayKey(p.now())
	}
	p.deliver(q)
	return true, nil
}
