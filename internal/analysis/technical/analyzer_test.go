package technical

import (
	"math"
	"testing"

	"github.com/skalibog/tradesignal/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seriesFromCloses(closes []float64) models.Series {
	s := make(models.Series, len(closes))
	for i, c := range closes {
		open := int64(i) * 60_000
		s[i] = models.Candle{OpenTime: open, Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 1, CloseTime: open + 59_999}
	}
	return s
}

func wave(n int) []float64 {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = 100 + 10*math.Sin(float64(i)/5) + 0.3*float64(i)
	}
	return closes
}

func sameFloat(a, b float64) bool {
	return a == b || (math.IsNaN(a) && math.IsNaN(b))
}

func sameRow(a, b models.IndicatorRow) bool {
	return sameFloat(a.RSI, b.RSI) && sameFloat(a.EMAFast, b.EMAFast) && sameFloat(a.EMASlow, b.EMASlow) &&
		sameFloat(a.BBLower, b.BBLower) && sameFloat(a.BBMid, b.BBMid) && sameFloat(a.BBUpper, b.BBUpper) &&
		sameFloat(a.MACD, b.MACD) && sameFloat(a.MACDSignal, b.MACDSignal) && sameFloat(a.MACDHist, b.MACDHist)
}

func referenceEMA(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	alpha := 2.0 / float64(period+1)
	sum := 0.0
	for i, v := range values {
		switch {
		case i < period-1:
			sum += v
			out[i] = math.NaN()
		case i == period-1:
			sum += v
			out[i] = sum / float64(period)
		default:
			out[i] = alpha*v + (1-alpha)*out[i-1]
		}
	}
	return out
}

func referenceRSI(closes []float64, period int) []float64 {
	out := make([]float64, len(closes))
	var avgGain, avgLoss float64
	for i := range closes {
		if i < period {
			out[i] = math.NaN()
			if i > 0 {
				d := closes[i] - closes[i-1]
				avgGain += math.Max(d, 0)
				avgLoss += math.Max(-d, 0)
			}
			continue
		}
		d := closes[i] - closes[i-1]
		if i == period {
			avgGain = (avgGain + math.Max(d, 0)) / float64(period)
			avgLoss = (avgLoss + math.Max(-d, 0)) / float64(period)
		} else {
			avgGain = (avgGain*float64(period-1) + math.Max(d, 0)) / float64(period)
			avgLoss = (avgLoss*float64(period-1) + math.Max(-d, 0)) / float64(period)
		}
		out[i] = 100 * avgGain / (avgGain + avgLoss)
	}
	return out
}

func TestRequiredBars(t *testing.T) {
	assert.Equal(t, 34, DefaultParams().RequiredBars())

	p := DefaultParams()
	p.BBLength = 50
	assert.Equal(t, 50, p.RequiredBars())

	p = DefaultParams()
	p.RSILength = 40
	assert.Equal(t, 41, p.RequiredBars())
}

func TestComputeAlignsAndWarmsUp(t *testing.T) {
	p := DefaultParams()
	rows, err := Compute(seriesFromCloses(wave(120)), p)
	require.NoError(t, err)
	require.Len(t, rows, 120)

	for i, r := range rows {
		assert.Equal(t, i >= p.RSILength, !math.IsNaN(r.RSI), "rsi at %d", i)
		assert.Equal(t, i >= p.EMAFast-1, !math.IsNaN(r.EMAFast), "ema_fast at %d", i)
		assert.Equal(t, i >= p.EMASlow-1, !math.IsNaN(r.EMASlow), "ema_slow at %d", i)
		assert.Equal(t, i >= p.BBLength-1, !math.IsNaN(r.BBMid), "bb_mid at %d", i)
		assert.Equal(t, i >= p.BBLength-1, !math.IsNaN(r.BBLower), "bb_lower at %d", i)
		assert.Equal(t, i >= p.BBLength-1, !math.IsNaN(r.BBUpper), "bb_upper at %d", i)
		assert.Equal(t, i >= p.MACDSlow-1, !math.IsNaN(r.MACD), "macd at %d", i)
		assert.Equal(t, i >= p.MACDSlow+p.MACDSignal-2, !math.IsNaN(r.MACDSignal), "macd_signal at %d", i)
		assert.Equal(t, i >= p.RequiredBars()-1, r.Defined(), "defined at %d", i)
	}
}

func TestComputeMatchesReferenceFormulas(t *testing.T) {
	closes := wave(150)
	p := DefaultParams()
	rows, err := Compute(seriesFromCloses(closes), p)
	require.NoError(t, err)

	fast := referenceEMA(closes, p.EMAFast)
	slow := referenceEMA(closes, p.EMASlow)
	rsi := referenceRSI(closes, p.RSILength)

	for i := p.RequiredBars() - 1; i < len(closes); i++ {
		assert.InDelta(t, fast[i], rows[i].EMAFast, 1e-9, "ema_fast at %d", i)
		assert.InDelta(t, slow[i], rows[i].EMASlow, 1e-9, "ema_slow at %d", i)
		assert.InDelta(t, rsi[i], rows[i].RSI, 1e-9, "rsi at %d", i)
		assert.InDelta(t, fast[i]-slow[i], rows[i].MACD, 1e-9, "macd at %d", i)
		assert.InDelta(t, rows[i].MACD-rows[i].MACDSignal, rows[i].MACDHist, 1e-12, "macd_hist at %d", i)
	}

	// сигнальная линия MACD - EMA от определенной части macd
	start := p.MACDSlow - 1
	macd := make([]float64, 0, len(closes)-start)
	for i := start; i < len(closes); i++ {
		macd = append(macd, fast[i]-slow[i])
	}
	signal := referenceEMA(macd, p.MACDSignal)
	for j := p.MACDSignal - 1; j < len(signal); j++ {
		assert.InDelta(t, signal[j], rows[start+j].MACDSignal, 1e-9, "macd_signal at %d", start+j)
	}

	// Bollinger: SMA и популяционное стандартное отклонение
	last := len(closes) - 1
	window := closes[last-p.BBLength+1:]
	mean := 0.0
	for _, v := range window {
		mean += v
	}
	mean /= float64(len(window))
	variance := 0.0
	for _, v := range window {
		variance += (v - mean) * (v - mean)
	}
	std := math.Sqrt(variance / float64(len(window)))

	assert.InDelta(t, mean, rows[last].BBMid, 1e-9)
	assert.InDelta(t, mean+p.BBStd*std, rows[last].BBUpper, 1e-6)
	assert.InDelta(t, mean-p.BBStd*std, rows[last].BBLower, 1e-6)
}

func TestComputeIsDeterministic(t *testing.T) {
	series := seriesFromCloses(wave(80))

	first, err := Compute(series, DefaultParams())
	require.NoError(t, err)
	second, err := Compute(series, DefaultParams())
	require.NoError(t, err)

	for i := range first {
		assert.True(t, sameRow(first[i], second[i]), "row %d differs", i)
	}
}

func TestComputePrefixMatchesFullSeries(t *testing.T) {
	series := seriesFromCloses(wave(100))
	full, err := Compute(series, DefaultParams())
	require.NoError(t, err)

	for _, k := range []int{34, 50, 77} {
		prefix, err := Compute(series[:k], DefaultParams())
		require.NoError(t, err)
		for i := 0; i < k; i++ {
			assert.True(t, sameRow(full[i], prefix[i]), "prefix %d row %d differs", k, i)
		}
	}
}

func TestComputeMonotonicRSI(t *testing.T) {
	up := make([]float64, 40)
	down := make([]float64, 40)
	for i := range up {
		up[i] = 100 + float64(i)
		down[i] = 200 - float64(i)
	}

	rows, err := Compute(seriesFromCloses(up), DefaultParams())
	require.NoError(t, err)
	assert.InDelta(t, 100.0, rows[len(rows)-1].RSI, 1e-9)
	assert.Greater(t, rows[len(rows)-1].EMAFast, rows[len(rows)-1].EMASlow)

	rows, err = Compute(seriesFromCloses(down), DefaultParams())
	require.NoError(t, err)
	assert.InDelta(t, 0.0, rows[len(rows)-1].RSI, 1e-9)
	assert.Less(t, rows[len(rows)-1].EMAFast, rows[len(rows)-1].EMASlow)
}

func TestComputeFlatSeriesBands(t *testing.T) {
	closes := make([]float64, 40)
	for i := range closes {
		closes[i] = 100
	}

	rows, err := Compute(seriesFromCloses(closes), DefaultParams())
	require.NoError(t, err)

	last := rows[len(rows)-1]
	assert.InDelta(t, 100.0, last.BBMid, 1e-9)
	assert.InDelta(t, 100.0, last.BBUpper, 1e-9)
	assert.InDelta(t, 100.0, last.BBLower, 1e-9)
	assert.InDelta(t, 0.0, last.MACD, 1e-9)

	// без движения цены RSI не определен, бар не участвует в голосовании
	for i, r := range rows {
		assert.True(t, math.IsNaN(r.RSI), "rsi at %d", i)
		assert.False(t, r.Defined(), "defined at %d", i)
	}
}

func TestComputeRSIDefinedAfterFirstMove(t *testing.T) {
	closes := make([]float64, 40)
	for i := range closes {
		closes[i] = 100
	}
	closes[30] = 101

	rows, err := Compute(seriesFromCloses(closes), DefaultParams())
	require.NoError(t, err)

	for i := 0; i < 30; i++ {
		assert.True(t, math.IsNaN(rows[i].RSI), "rsi at %d", i)
	}
	assert.InDelta(t, 100.0, rows[30].RSI, 1e-9)
	assert.False(t, math.IsNaN(rows[len(rows)-1].RSI))
	assert.True(t, rows[len(rows)-1].Defined())
}

func TestComputeInsufficientData(t *testing.T) {
	_, err := Compute(seriesFromCloses(wave(33)), DefaultParams())
	assert.ErrorIs(t, err, models.ErrInsufficientData)

	_, err = Compute(nil, DefaultParams())
	assert.ErrorIs(t, err, models.ErrInsufficientData)
}

func TestComputeInvalidParams(t *testing.T) {
	cases := map[string]func(p *Params){
		"rsi":         func(p *Params) { p.RSILength = 1 },
		"ema fast":    func(p *Params) { p.EMAFast = 0 },
		"ema slow":    func(p *Params) { p.EMASlow = -3 },
		"bb length":   func(p *Params) { p.BBLength = 1 },
		"bb std":      func(p *Params) { p.BBStd = 0 },
		"macd signal": func(p *Params) { p.MACDSignal = 0 },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			p := DefaultParams()
			mutate(&p)
			_, err := Compute(seriesFromCloses(wave(100)), p)
			assert.ErrorIs(t, err, models.ErrInvalidParameter)
		})
	}
}
