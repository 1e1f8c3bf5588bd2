package models

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// Ошибки ядра, общие для всех пакетов анализа
var (
	ErrInsufficientData = errors.New("недостаточно данных")
	ErrInvalidParameter = errors.New("некорректный параметр")
	ErrUnorderedSeries  = errors.New("свечи не упорядочены по времени")
)

// Candle представляет свечу. Время в миллисекундах unix epoch
type Candle struct {
	OpenTime  int64   `json:"open_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	CloseTime int64   `json:"close_time"`
}

// Series упорядоченный по open_time ряд свечей
type Series []Candle

// Closes возвращает цены закрытия
func (s Series) Closes() []float64 {
	closes := make([]float64, len(s))
	for i, c := range s {
		closes[i] = c.Close
	}
	return closes
}

// Last возвращает последнюю свечу
func (s Series) Last() (Candle, bool) {
	if len(s) == 0 {
		return Candle{}, false
	}
	return s[len(s)-1], true
}

// Normalize сортирует свечи по времени и удаляет дубликаты (остается первая)
func (s Series) Normalize() Series {
	out := make(Series, len(s))
	copy(out, s)
	sort.SliceStable(out, func(i, j int) bool { return out[i].OpenTime < out[j].OpenTime })

	n := 0
	for i, c := range out {
		if i > 0 && c.OpenTime == out[n-1].OpenTime {
			continue
		}
		out[n] = c
		n++
	}
	return out[:n]
}

// Validate проверяет строгое возрастание open_time
func (s Series) Validate() error {
	for i := 1; i < len(s); i++ {
		if s[i].OpenTime <= s[i-1].OpenTime {
			return fmt.Errorf("%w: позиция %d (%d <= %d)", ErrUnorderedSeries, i, s[i].OpenTime, s[i-1].OpenTime)
		}
	}
	return nil
}

// IndicatorRow значения индикаторов для одного бара. NaN на участке прогрева
type IndicatorRow struct {
	RSI        float64 `json:"rsi"`
	EMAFast    float64 `json:"ema_fast"`
	EMASlow    float64 `json:"ema_slow"`
	BBLower    float64 `json:"bb_lower"`
	BBMid      float64 `json:"bb_mid"`
	BBUpper    float64 `json:"bb_upper"`
	MACD       float64 `json:"macd"`
	MACDSignal float64 `json:"macd_signal"`
	MACDHist   float64 `json:"macd_hist"`
}

// Defined true, когда все значения конечны и бар пригоден для решения
func (r IndicatorRow) Defined() bool {
	for _, v := range []float64{r.RSI, r.EMAFast, r.EMASlow, r.BBLower, r.BBMid, r.BBUpper, r.MACD, r.MACDSignal, r.MACDHist} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// UndefinedRow строка прогрева
func UndefinedRow() IndicatorRow {
	nan := math.NaN()
	return IndicatorRow{nan, nan, nan, nan, nan, nan, nan, nan, nan}
}

// Signal торговый сигнал
type Signal string

const (
	SignalBuy  Signal = "BUY"
	SignalSell Signal = "SELL"
	SignalHold Signal = "HOLD"
)

// Confidence уверенность сигнала
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// RiskLevels уровни стоп-лосса и тейк-профитов
type RiskLevels struct {
	StopLoss    float64 `json:"stop_loss"`
	TakeProfit1 float64 `json:"take_profit_1"`
	TakeProfit2 float64 `json:"take_profit_2"`
}

// RiskProfile волатильность и ее корзина
type RiskProfile struct {
	VolatilityPct float64 `json:"volatility_pct"`
	Bucket        string  `json:"bucket"`
}

// Trade закрытая сделка long: вход по BUY, выход по SELL
type Trade struct {
	EntryIndex int     `json:"entry_index"`
	ExitIndex  int     `json:"exit_index"`
	EntryPrice float64 `json:"entry_price"`
	ExitPrice  float64 `json:"exit_price"`
	ReturnPct  float64 `json:"return_pct"`
}

// Won сделка прибыльна, если цена выхода выше цены входа
func (t Trade) Won() bool {
	return t.ExitPrice > t.EntryPrice
}

// BacktestStats итоговая статистика бэктеста
type BacktestStats struct {
	NTrades        int       `json:"n_trades"`
	WinRate        float64   `json:"win_rate"`
	PnLPct         float64   `json:"pnl_pct"`
	MaxDrawdownPct float64   `json:"max_drawdown_pct"`
	Sharpe         float64   `json:"sharpe"`
	EquityCurve    []float64 `json:"equity_curve"`
	Trades         []Trade   `json:"trades"`
}

// SignalResult представляет результат сигнала по символу
type SignalResult struct {
	Symbol     string                 `json:"symbol"`
	Interval   string                 `json:"interval"`
	Signal     Signal                 `json:"signal"`
	Confidence Confidence             `json:"confidence"`
	Rationale  string                 `json:"rationale"`
	Risk       RiskProfile            `json:"risk"`
	Levels     RiskLevels             `json:"levels"`
	Price      float64                `json:"price"`
	Snapshot   map[string]interface{} `json:"-"`
}
