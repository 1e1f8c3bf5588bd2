package risk

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
	"github.com/skalibog/tradesignal/pkg/models"
)

// Точность округления
const (
	PricePrecision   = 6
	PercentPrecision = 2
)

// Множители уровней на процент волатильности
const (
	stopLossFactor    = 0.008
	takeProfit1Factor = 0.012
	takeProfit2Factor = 0.024
)

// VolatilityPct ширина полос Боллинджера в процентах от средней линии.
// При bb_mid == 0 возвращает 0.
func VolatilityPct(row models.IndicatorRow) float64 {
	if row.BBMid == 0 {
		return 0
	}
	return (row.BBUpper - row.BBLower) / row.BBMid * 100
}

// Bucket корзина волатильности
func Bucket(volatilityPct float64) string {
	if volatilityPct < 1.0 {
		return "low"
	}
	if volatilityPct < 2.5 {
		return "medium"
	}
	return "high"
}

// Profile округленная волатильность и корзина
func Profile(volatilityPct float64) models.RiskProfile {
	return models.RiskProfile{
		VolatilityPct: Round(volatilityPct, PercentPrecision),
		Bucket:        Bucket(volatilityPct),
	}
}

// Levels рассчитывает стоп-лосс и два тейк-профита от цены и волатильности
func Levels(lastPrice, volatilityPct float64) (models.RiskLevels, error) {
	if !(lastPrice > 0) || math.IsInf(lastPrice, 0) {
		return models.RiskLevels{}, fmt.Errorf("%w: last_price=%v", models.ErrInvalidParameter, lastPrice)
	}
	if math.IsNaN(volatilityPct) || math.IsInf(volatilityPct, 0) {
		return models.RiskLevels{}, fmt.Errorf("%w: volatility_pct=%v", models.ErrInvalidParameter, volatilityPct)
	}

	return models.RiskLevels{
		StopLoss:    Round(lastPrice*(1-stopLossFactor*volatilityPct), PricePrecision),
		TakeProfit1: Round(lastPrice*(1+takeProfit1Factor*volatilityPct), PricePrecision),
		TakeProfit2: Round(lastPrice*(1+takeProfit2Factor*volatilityPct), PricePrecision),
	}, nil
}

// Round округляет до places знаков после запятой. NaN и Inf дают 0
func Round(v float64, places int32) float64 {
	// decimal паникует на NaN и Inf
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	f, _ := decimal.NewFromFloat(v).Round(places).Float64()
	return f
}
