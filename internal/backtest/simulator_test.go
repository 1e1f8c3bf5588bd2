package backtest

import (
	"math"
	"testing"

	"github.com/skalibog/tradesignal/internal/analysis/strategy"
	"github.com/skalibog/tradesignal/internal/analysis/technical"
	"github.com/skalibog/tradesignal/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	B = models.SignalBuy
	S = models.SignalSell
	H = models.SignalHold
)

func seriesFromCloses(closes ...float64) models.Series {
	s := make(models.Series, len(closes))
	for i, c := range closes {
		open := int64(i) * 3_600_000
		s[i] = models.Candle{OpenTime: open, Open: c, High: c, Low: c, Close: c, Volume: 1, CloseTime: open + 3_599_999}
	}
	return s
}

func TestRunAllHold(t *testing.T) {
	series := seriesFromCloses(100, 101, 99, 105, 103)
	stats, err := Run(series, []models.Signal{H, H, H, H, H}, 5)
	require.NoError(t, err)

	assert.Equal(t, 0, stats.NTrades)
	assert.Equal(t, 0.0, stats.PnLPct)
	assert.Equal(t, 0.0, stats.MaxDrawdownPct)
	assert.Equal(t, 0.0, stats.WinRate)
	assert.Equal(t, 0.0, stats.Sharpe)
	assert.Equal(t, []float64{1, 1, 1, 1}, stats.EquityCurve)
	assert.Empty(t, stats.Trades)
}

func TestRunWinningTrade(t *testing.T) {
	series := seriesFromCloses(100, 100, 110, 110)
	stats, err := Run(series, []models.Signal{H, B, S, H}, 0)
	require.NoError(t, err)

	require.Len(t, stats.EquityCurve, 3)
	assert.InDelta(t, 1.0, stats.EquityCurve[0], 1e-12)
	assert.InDelta(t, 1.10, stats.EquityCurve[1], 1e-12)
	assert.InDelta(t, 1.10, stats.EquityCurve[2], 1e-12)

	assert.Equal(t, 1, stats.NTrades)
	assert.Equal(t, 100.0, stats.WinRate)
	assert.Equal(t, 10.0, stats.PnLPct)
	assert.Equal(t, 0.0, stats.MaxDrawdownPct)
	assert.Greater(t, stats.Sharpe, 0.0)

	require.Len(t, stats.Trades, 1)
	assert.Equal(t, models.Trade{EntryIndex: 1, ExitIndex: 2, EntryPrice: 100, ExitPrice: 110, ReturnPct: stats.Trades[0].ReturnPct}, stats.Trades[0])
	assert.InDelta(t, 10.0, stats.Trades[0].ReturnPct, 1e-9)
}

func TestRunLosingTrade(t *testing.T) {
	series := seriesFromCloses(100, 100, 90)
	stats, err := Run(series, []models.Signal{H, B, S}, 0)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.NTrades)
	assert.Equal(t, 0.0, stats.WinRate)
	assert.Equal(t, -10.0, stats.PnLPct)
	assert.Equal(t, -10.0, stats.MaxDrawdownPct)
}

func TestRunTrailingBuyNotCounted(t *testing.T) {
	series := seriesFromCloses(100, 100, 110, 120, 90)
	stats, err := Run(series, []models.Signal{H, B, S, B, H}, 0)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.NTrades)
	assert.Equal(t, 100.0, stats.WinRate)
	assert.Equal(t, 10.0, stats.PnLPct)
	assert.Len(t, stats.Trades, 1)
}

func TestRunIgnoresFirstBarAndRedundantSignals(t *testing.T) {
	series := seriesFromCloses(50, 100, 105, 110, 120)
	// BUY на баре 0 не исполняется, повторный BUY в позиции и SELL без позиции игнорируются
	stats, err := Run(series, []models.Signal{B, S, B, B, S}, 0)
	require.NoError(t, err)

	require.Len(t, stats.Trades, 1)
	assert.Equal(t, 2, stats.Trades[0].EntryIndex)
	assert.Equal(t, 105.0, stats.Trades[0].EntryPrice)
	assert.Equal(t, 120.0, stats.Trades[0].ExitPrice)
	assert.InDelta(t, 14.29, stats.PnLPct, 1e-9)
}

func TestRunAppliesFees(t *testing.T) {
	series := seriesFromCloses(100, 100, 100)
	stats, err := Run(series, []models.Signal{H, B, S}, 10)
	require.NoError(t, err)

	require.Len(t, stats.EquityCurve, 2)
	assert.InDelta(t, 0.999, stats.EquityCurve[0], 1e-12)
	assert.InDelta(t, 0.998001, stats.EquityCurve[1], 1e-12)
	assert.Equal(t, -0.2, stats.PnLPct)
	// пик считается по кривой, а она начинается после первой комиссии
	assert.Equal(t, -0.1, stats.MaxDrawdownPct)
	assert.Equal(t, 0.0, stats.WinRate)
}

func TestRunZeroEntryPriceGuard(t *testing.T) {
	series := seriesFromCloses(1, 0, 10)
	stats, err := Run(series, []models.Signal{H, B, S}, 0)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.NTrades)
	assert.Equal(t, 0.0, stats.PnLPct)
	assert.InDelta(t, 0.0, stats.Trades[0].ReturnPct, 1e-12)
}

func TestRunDegenerateSeries(t *testing.T) {
	for _, series := range []models.Series{nil, seriesFromCloses(100)} {
		signals := make([]models.Signal, len(series))
		for i := range signals {
			signals[i] = B
		}
		stats, err := Run(series, signals, 5)
		require.NoError(t, err)

		assert.Equal(t, []float64{1.0}, stats.EquityCurve)
		assert.Equal(t, 0, stats.NTrades)
		assert.Equal(t, 0.0, stats.Sharpe)
		assert.Equal(t, 0.0, stats.MaxDrawdownPct)
		assert.Equal(t, 0.0, stats.PnLPct)
	}
}

func TestRunRejectsMismatchAndNegativeFee(t *testing.T) {
	series := seriesFromCloses(100, 101)

	_, err := Run(series, []models.Signal{H}, 0)
	assert.ErrorIs(t, err, models.ErrInvalidParameter)

	_, err = Run(series, []models.Signal{H, H}, -1)
	assert.ErrorIs(t, err, models.ErrInvalidParameter)
}

func TestRunDrawdownNeverPositive(t *testing.T) {
	series := seriesFromCloses(100, 100, 80, 95, 95, 130, 120, 60, 61)
	signals := []models.Signal{H, B, H, S, B, S, B, H, S}

	stats, err := Run(series, signals, 7)
	require.NoError(t, err)
	assert.LessOrEqual(t, stats.MaxDrawdownPct, 0.0)
	assert.Equal(t, 3, stats.NTrades)
	assert.InDelta(t, 100.0/3.0, stats.WinRate, 0.01)
}

func TestRunIsDeterministic(t *testing.T) {
	series := seriesFromCloses(100, 100, 80, 95, 95, 130, 120, 60, 61)
	signals := []models.Signal{H, B, H, S, B, S, B, H, S}

	first, err := Run(series, signals, 5)
	require.NoError(t, err)
	second, err := Run(series, signals, 5)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestSharpe(t *testing.T) {
	assert.Equal(t, 0.0, sharpe([]float64{1.0}))
	assert.Equal(t, 0.0, sharpe([]float64{1, 1, 1}))

	// доходности 0.1 и 0: mean 0.05, std 0.05
	want := 0.05 / (0.05 + 1e-9) * math.Sqrt(252)
	assert.InDelta(t, want, sharpe([]float64{1.0, 1.1, 1.1}), 1e-6)
}

func wave(n int) models.Series {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = 100 + 15*math.Sin(float64(i)/7) + 0.05*float64(i)
	}
	return seriesFromCloses(closes...)
}

func TestSignalColumnWarmUp(t *testing.T) {
	series := wave(200)
	rows, err := technical.Compute(series, technical.DefaultParams())
	require.NoError(t, err)

	signals := SignalColumn(rows, 50)
	require.Len(t, signals, len(series))
	for i := 0; i < 50; i++ {
		assert.Equal(t, H, signals[i], "bar %d", i)
	}

	// колонка совпадает с наивной оценкой по расширяющимся префиксам
	for i := 50; i < len(series); i++ {
		prefix, err := technical.Compute(series[:i+1], technical.DefaultParams())
		require.NoError(t, err)
		want, _, _ := strategy.Evaluate(prefix[len(prefix)-1])
		assert.Equal(t, want, signals[i], "bar %d", i)
	}
}

func TestSignalColumnHoldsUndefinedRows(t *testing.T) {
	rows := []models.IndicatorRow{models.UndefinedRow(), models.UndefinedRow()}
	assert.Equal(t, []models.Signal{H, H}, SignalColumn(rows, 0))
}

func TestEvaluate(t *testing.T) {
	_, _, err := Evaluate(wave(99), DefaultOptions())
	assert.ErrorIs(t, err, models.ErrInsufficientData)

	stats, signals, err := Evaluate(wave(400), DefaultOptions())
	require.NoError(t, err)
	require.Len(t, signals, 400)
	assert.Len(t, stats.EquityCurve, 399)
	assert.LessOrEqual(t, stats.MaxDrawdownPct, 0.0)
	assert.Equal(t, len(stats.Trades), stats.NTrades)

	var buys int
	for _, s := range signals {
		if s == B {
			buys++
		}
	}
	assert.Greater(t, buys, 0)
}

func TestStateTracksPeakAndDrawdown(t *testing.T) {
	state := NewState(0)

	state.Step(1, B, 100)
	assert.Equal(t, 1.0, state.Peak)

	state.Step(2, H, 120)
	state.Step(3, S, 120)
	assert.InDelta(t, 1.2, state.Peak, 1e-12)
	assert.Equal(t, 0.0, state.Drawdown)

	state.Step(4, B, 100)
	state.Step(5, S, 90)
	assert.InDelta(t, 1.2, state.Peak, 1e-12)
	assert.InDelta(t, -0.1, state.Drawdown, 1e-12)

	stats := state.Finalize()
	assert.Equal(t, -10.0, stats.MaxDrawdownPct)
}

func TestStatePeakStartsFromFirstBar(t *testing.T) {
	state := NewState(10)
	state.Step(1, B, 100)

	// пик берется с кривой, стартовая 1.0 не учитывается
	assert.InDelta(t, 0.999, state.Peak, 1e-12)
	assert.Equal(t, 0.0, state.Drawdown)
}
