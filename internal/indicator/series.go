package indicator

import "marketchart/internal/model"

// MACDSeries holds the three MACD output lines.
type MACDSeries struct {
	Line   []model.LinePoint
	Signal []model.LinePoint
	Hist   []model.LinePoint
}

// BandSeries holds the three Bollinger band lines.
type BandSeries struct {
	Upper  []model.LinePoint
	Middle []model.LinePoint
	Lower  []model.LinePoint
}

// Compute runs the study described by spec over candles and returns its
// lines in Spec.Lines order.
func Compute(spec Spec, candles []model.Candle) ([][]model.LinePoint, error) {
	study, err := spec.New()
	if err != nil {
		return nil, err
	}
	return run(study, len(spec.Lines()), candles), nil
}

// MASeries returns the simple moving average of closes. A period-N series starts
// at the N-th candle.
func MASeries(candles []model.Candle, period int) []model.LinePoint {
	if period <= 0 {
		return nil
	}
	return run(&closeStudy{k: NewSMA(period)}, 1, candles)[0]
}

// EMASeries returns the SMA-seeded exponential moving average of closes.
func EMASeries(candles []model.Candle, period int) []model.LinePoint {
	if period <= 0 {
		return nil
	}
	return run(&closeStudy{k: NewEMA(period)}, 1, candles)[0]
}

// RSISeries returns Wilder's relative strength index of closes.
func RSISeries(candles []model.Candle, period int) []model.LinePoint {
	if period <= 0 {
		return nil
	}
	return run(&closeStudy{k: NewRSI(period)}, 1, candles)[0]
}

// MACDLines returns the MACD line, its signal and the histogram.
func MACDLines(candles []model.Candle, fast, slow, signal int) MACDSeries {
	if fast <= 0 || slow <= 0 || signal <= 0 {
		return MACDSeries{}
	}
	lines := run(NewMACD(fast, slow, signal), 3, candles)
	return MACDSeries{Line: lines[0], Signal: lines[1], Hist: lines[2]}
}

// BollingerBands returns the upper, middle and lower bands.
func BollingerBands(candles []model.Candle, period int, k float64) BandSeries {
	if period <= 0 {
		return BandSeries{}
	}
	lines := run(NewBollinger(period, k), 3, candles)
	return BandSeries{Upper: lines[0], Middle: lines[1], Lower: lines[2]}
}

func run(study Study, width int, candles []model.Candle) [][]model.LinePoint {
	lines := make([][]model.LinePoint, width)
	for _, c := range candles {
		study.Update(c)
		for i, s := range study.Values() {
			if s.Ready {
				lines[i] = append(lines[i], model.LinePoint{Time: c.Time, Value: s.Value})
			}
		}
	}
	return lines
}
