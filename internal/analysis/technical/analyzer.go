package technical

import (
	"fmt"
	"math"

	"github.com/markcheno/go-talib"
	"github.com/skalibog/tradesignal/internal/config"
	"github.com/skalibog/tradesignal/pkg/models"
)

// Params периоды индикаторов
type Params struct {
	RSILength  int     `json:"rsi_length"`
	EMAFast    int     `json:"ema_fast"`
	EMASlow    int     `json:"ema_slow"`
	BBLength   int     `json:"bb_length"`
	BBStd      float64 `json:"bb_std"`
	MACDFast   int     `json:"macd_fast"`
	MACDSlow   int     `json:"macd_slow"`
	MACDSignal int     `json:"macd_signal"`
}

// DefaultParams стандартные периоды: RSI 14, EMA 12/26, BB 20x2, MACD 12/26/9
func DefaultParams() Params {
	return Params{
		RSILength:  14,
		EMAFast:    12,
		EMASlow:    26,
		BBLength:   20,
		BBStd:      2.0,
		MACDFast:   12,
		MACDSlow:   26,
		MACDSignal: 9,
	}
}

// ParamsFromConfig переносит периоды из конфигурации
func ParamsFromConfig(cfg config.IndicatorConfig) Params {
	return Params{
		RSILength:  cfg.RSILength,
		EMAFast:    cfg.EMAFast,
		EMASlow:    cfg.EMASlow,
		BBLength:   cfg.BBLength,
		BBStd:      cfg.BBStd,
		MACDFast:   cfg.MACDFast,
		MACDSlow:   cfg.MACDSlow,
		MACDSignal: cfg.MACDSignal,
	}
}

// Validate проверяет периоды до расчета
func (p Params) Validate() error {
	if p.RSILength < 2 {
		return fmt.Errorf("%w: rsi_length=%d (минимум 2)", models.ErrInvalidParameter, p.RSILength)
	}
	if p.BBLength < 2 {
		return fmt.Errorf("%w: bb_length=%d (минимум 2)", models.ErrInvalidParameter, p.BBLength)
	}
	for name, v := range map[string]int{
		"ema_fast":    p.EMAFast,
		"ema_slow":    p.EMASlow,
		"macd_fast":   p.MACDFast,
		"macd_slow":   p.MACDSlow,
		"macd_signal": p.MACDSignal,
	} {
		if v < 1 {
			return fmt.Errorf("%w: %s=%d", models.ErrInvalidParameter, name, v)
		}
	}
	if !(p.BBStd > 0) {
		return fmt.Errorf("%w: bb_std=%v", models.ErrInvalidParameter, p.BBStd)
	}
	return nil
}

// RequiredBars минимальная длина ряда, при которой последний бар полностью определен
func (p Params) RequiredBars() int {
	return max(
		p.RSILength+1,
		p.EMAFast,
		p.EMASlow,
		p.BBLength,
		max(p.MACDFast, p.MACDSlow)+p.MACDSignal-1,
	)
}

// Compute рассчитывает индикаторы для каждого бара ряда.
// Значения на участке прогрева каждого индикатора равны NaN.
func Compute(series models.Series, p Params) ([]models.IndicatorRow, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	required := p.RequiredBars()
	if len(series) < required {
		return nil, fmt.Errorf("%w: %d свечей, требуется %d", models.ErrInsufficientData, len(series), required)
	}

	closes := series.Closes()

	rsi := calculateRSI(closes, p.RSILength)
	emaFast := talib.Ema(closes, p.EMAFast)
	emaSlow := talib.Ema(closes, p.EMASlow)
	upper, middle, lower := talib.BBands(closes, p.BBLength, p.BBStd, p.BBStd, talib.SMA)
	macd, macdSignal, macdHist := calculateMACD(closes, p.MACDFast, p.MACDSlow, p.MACDSignal)

	rows := make([]models.IndicatorRow, len(closes))
	for i := range rows {
		rows[i] = models.IndicatorRow{
			RSI:        valueFrom(rsi, i, p.RSILength),
			EMAFast:    valueFrom(emaFast, i, p.EMAFast-1),
			EMASlow:    valueFrom(emaSlow, i, p.EMASlow-1),
			BBLower:    valueFrom(lower, i, p.BBLength-1),
			BBMid:      valueFrom(middle, i, p.BBLength-1),
			BBUpper:    valueFrom(upper, i, p.BBLength-1),
			MACD:       macd[i],
			MACDSignal: macdSignal[i],
			MACDHist:   macdHist[i],
		}
	}

	return rows, nil
}

// calculateRSI RSI Уайлдера. Пока цена не менялась, средние прирост и падение
// равны нулю и RSI не определен (0/0). talib в этом случае отдает 0, такие
// значения заменяются на NaN.
func calculateRSI(closes []float64, length int) []float64 {
	rsi := talib.Rsi(closes, length)

	firstMove := len(closes)
	for i := 1; i < len(closes); i++ {
		if closes[i] != closes[i-1] {
			firstMove = i
			break
		}
	}
	for i := 0; i < firstMove && i < len(rsi); i++ {
		rsi[i] = math.NaN()
	}

	return rsi
}

// calculateMACD: macd = EMA(fast) - EMA(slow), сигнальная линия - EMA от первых
// определенных значений macd. talib.Macd сдвигает затравку быстрой EMA, поэтому
// линии собираются из talib.Ema.
func calculateMACD(closes []float64, fast, slow, signal int) (macd, macdSignal, macdHist []float64) {
	n := len(closes)
	macd = nanSlice(n)
	macdSignal = nanSlice(n)
	macdHist = nanSlice(n)

	start := max(fast, slow) - 1
	if n <= start {
		return macd, macdSignal, macdHist
	}

	fastEMA := talib.Ema(closes, fast)
	slowEMA := talib.Ema(closes, slow)
	for i := start; i < n; i++ {
		macd[i] = fastEMA[i] - slowEMA[i]
	}

	if n-start < signal {
		return macd, macdSignal, macdHist
	}

	signalEMA := talib.Ema(macd[start:], signal)
	for i := signal - 1; i < len(signalEMA); i++ {
		macdSignal[start+i] = signalEMA[i]
		macdHist[start+i] = macd[start+i] - signalEMA[i]
	}

	return macd, macdSignal, macdHist
}

// valueFrom возвращает values[i] начиная с индекса first, до него NaN
func valueFrom(values []float64, i, first int) float64 {
	if i < first {
		return math.NaN()
	}
	return values[i]
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
