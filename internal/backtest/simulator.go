// Package backtest воспроизводит сигналы бар за баром и считает
// статистику стратегии long/flat с комиссией.
package backtest

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
	"github.com/skalibog/tradesignal/internal/analysis/strategy"
	"github.com/skalibog/tradesignal/internal/analysis/technical"
	"github.com/skalibog/tradesignal/pkg/models"
)

// Notes пояснение к результату бэктеста
const Notes = "Naive long/flat backtest with fees, no slippage."

const (
	tradingPeriods = 252
	sharpeEpsilon  = 1e-9
)

// Position позиция симулятора
type Position int

const (
	Flat Position = iota
	Long
)

func (p Position) String() string {
	if p == Long {
		return "LONG"
	}
	return "FLAT"
}

// State изменяемое состояние одного прогона
type State struct {
	Position   Position
	EntryPrice float64
	EntryIndex int
	Equity     float64
	// Peak максимум кривой equity. Стартовая 1.0 в него не входит
	Peak float64
	// Drawdown худшее падение от Peak, доля (<= 0)
	Drawdown float64
	Trades   []models.Trade
	Curve    []float64

	fee float64
}

// NewState создает состояние прогона: equity = 1, позиции нет
func NewState(feeBps float64) *State {
	return &State{
		Equity: 1.0,
		fee:    feeBps / 10000.0,
	}
}

// Step применяет сигнал бара i с ценой закрытия price
func (s *State) Step(i int, signal models.Signal, price float64) {
	switch {
	case s.Position == Flat && signal == models.SignalBuy:
		s.Position = Long
		s.EntryPrice = price
		s.EntryIndex = i
		s.Equity *= 1 - s.fee

	case s.Position == Long && signal == models.SignalSell:
		ret := 0.0
		if s.EntryPrice != 0 {
			ret = price/s.EntryPrice - 1
		}
		s.Equity *= (1 + ret) * (1 - s.fee)
		s.Trades = append(s.Trades, models.Trade{
			EntryIndex: s.EntryIndex,
			ExitIndex:  i,
			EntryPrice: s.EntryPrice,
			ExitPrice:  price,
			ReturnPct:  ret * 100,
		})
		s.Position = Flat
	}

	s.Curve = append(s.Curve, s.Equity)
	if len(s.Curve) == 1 || s.Equity > s.Peak {
		s.Peak = s.Equity
	}
	if s.Peak != 0 {
		if dd := s.Equity/s.Peak - 1; dd < s.Drawdown {
			s.Drawdown = dd
		}
	}
}

// Finalize считает итоговую статистику
func (s *State) Finalize() models.BacktestStats {
	curve := s.Curve
	if len(curve) == 0 {
		curve = []float64{1.0}
	}

	wins := 0
	for _, t := range s.Trades {
		if t.Won() {
			wins++
		}
	}
	winRate := 0.0
	if len(s.Trades) > 0 {
		winRate = float64(wins) / float64(len(s.Trades)) * 100
	}

	trades := s.Trades
	if trades == nil {
		trades = []models.Trade{}
	}

	return models.BacktestStats{
		NTrades:        len(s.Trades),
		WinRate:        round2(winRate),
		PnLPct:         round2((s.Equity - 1) * 100),
		MaxDrawdownPct: round2(s.Drawdown * 100),
		Sharpe:         round2(sharpe(curve)),
		EquityCurve:    append([]float64(nil), curve...),
		Trades:         trades,
	}
}

// Run воспроизводит ряд начиная с индекса 1. signals выровнены с series.
func Run(series models.Series, signals []models.Signal, feeBps float64) (models.BacktestStats, error) {
	if len(series) != len(signals) {
		return models.BacktestStats{}, fmt.Errorf("%w: %d свечей и %d сигналов", models.ErrInvalidParameter, len(series), len(signals))
	}
	if feeBps < 0 || math.IsNaN(feeBps) {
		return models.BacktestStats{}, fmt.Errorf("%w: fee_bps=%v", models.ErrInvalidParameter, feeBps)
	}

	state := NewState(feeBps)
	for i := 1; i < len(series); i++ {
		state.Step(i, signals[i], series[i].Close)
	}
	return state.Finalize(), nil
}

// SignalColumn сигнал для каждого бара. Первые warmUp баров и бары с
// неопределенными индикаторами - HOLD. Индикаторы причинны, поэтому строка i
// полного ряда совпадает с последней строкой префикса [0..i].
func SignalColumn(rows []models.IndicatorRow, warmUp int) []models.Signal {
	signals := make([]models.Signal, len(rows))
	for i, row := range rows {
		if i < warmUp || !row.Defined() {
			signals[i] = models.SignalHold
			continue
		}
		signals[i], _, _ = strategy.Evaluate(row)
	}
	return signals
}

// Options параметры полного прогона
type Options struct {
	Params     technical.Params
	WarmUp     int
	MinCandles int
	FeeBps     float64
}

// DefaultOptions: стандартные периоды, прогрев 50, минимум 100 свечей, 5 bps
func DefaultOptions() Options {
	return Options{
		Params:     technical.DefaultParams(),
		WarmUp:     50,
		MinCandles: 100,
		FeeBps:     5.0,
	}
}

// Evaluate считает индикаторы, колонку сигналов и прогоняет симулятор
func Evaluate(series models.Series, opts Options) (models.BacktestStats, []models.Signal, error) {
	if len(series) < opts.MinCandles {
		return models.BacktestStats{}, nil, fmt.Errorf("%w: для бэктеста нужно %d свечей, получено %d",
			models.ErrInsufficientData, opts.MinCandles, len(series))
	}

	rows, err := technical.Compute(series, opts.Params)
	if err != nil {
		return models.BacktestStats{}, nil, err
	}

	signals := SignalColumn(rows, opts.WarmUp)
	stats, err := Run(series, signals, opts.FeeBps)
	if err != nil {
		return models.BacktestStats{}, nil, err
	}
	return stats, signals, nil
}

// sharpe по простым доходностям шагов, годовая нормировка sqrt(252)
func sharpe(curve []float64) float64 {
	if len(curve) < 2 {
		return 0
	}

	returns := make([]float64, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		if curve[i-1] != 0 {
			returns[i-1] = (curve[i] - curve[i-1]) / curve[i-1]
		}
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	std := math.Sqrt(variance / float64(len(returns)))

	return mean / (std + sharpeEpsilon) * math.Sqrt(tradingPeriods)
}

func round2(v float64) float64 {
	// decimal паникует на NaN и Inf
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	f, _ := decimal.NewFromFloat(v).Round(2).Float64()
	return f
}
