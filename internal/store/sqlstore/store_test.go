package sqlstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"marketchart/internal/history"
	"marketchart/internal/model"
)

const day = int64(86400)

var samsung = model.Instrument{Exchange: "KRX", Market: "KOSPI", Code: "005930"}

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), "sqlite3", filepath.Join(t.TempDir(), "candles.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seed(t *testing.T, s *Store, inst model.Instrument, n int) {
	t.Helper()
	candles := make([]model.Candle, n)
	for i := range candles {
		p := float64(100 + i)
		candles[i] = model.Candle{Time: int64(i+1) * day, Open: p, High: p + 1, Low: p - 1, Close: p, Volume: int64(i)}
	}
	require.NoError(t, s.UpsertCandles(context.Background(), inst, candles))
}

func TestStore_FetchNewestPage(t *testing.T) {
	s := openTemp(t)
	seed(t, s, samsung, 30)

	page, err := s.Fetch(context.Background(), history.Request{Instrument: samsung, Interval: history.IntervalDaily, Limit: 10})
	require.NoError(t, err)
	require.Len(t, page, 10)
	require.Equal(t, 21*day, page[0].Time)
	require.Equal(t, 30*day, page[9].Time)
}

func TestStore_FetchBefore(t *testing.T) {
	s := openTemp(t)
	seed(t, s, samsung, 30)

	page, err := s.Fetch(context.Background(), history.Request{Instrument: samsung, Limit: 10, Before: 21 * day})
	require.NoError(t, err)
	require.Len(t, page, 10)
	require.Equal(t, 11*day, page[0].Time)
	require.Equal(t, 20*day, page[9].Time)

	page, err = s.Fetch(context.Background(), history.Request{Instrument: samsung, Limit: 10, Before: 4 * day})
	require.NoError(t, err)
	require.Len(t, page, 3, "short page at the start of history")
}

func TestStore_InstrumentsAreIsolated(t *testing.T) {
	s := openTemp(t)
	seed(t, s, samsung, 5)
	hynix := model.Instrument{Exchange: "KRX", Market: "KOSPI", Code: "000660"}
	seed(t, s, hynix, 2)

	n, err := s.Count(context.Background(), hynix)
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestStore_UpsertReplaces(t *testing.T) {
	s := openTemp(t)
	seed(t, s, samsung, 3)

	require.NoError(t, s.UpsertCandles(context.Background(), samsung, []model.Candle{
		{Time: 3 * day, Open: 1, High: 9, Low: 1, Close: 8, Volume: 77, Turnover: 1.5},
	}))
	page, err := s.Fetch(context.Background(), history.Request{Instrument: samsung, Limit: 10})
	require.NoError(t, err)
	require.Len(t, page, 3)
	require.Equal(t, model.Candle{Time: 3 * day, Open: 1, High: 9, Low: 1, Close: 8, Volume: 77, Turnover: 1.5}, page[2])
}

func TestStore_RejectsOtherIntervals(t *testing.T) {
	s := openTemp(t)
	_, err := s.Fetch(context.Background(), history.Request{Instrument: samsung, Interval: "1m", Limit: 1})
	require.Error(t, err)
}
