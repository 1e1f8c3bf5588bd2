// Package strategy реализует правило ema_rsi_macd: три независимые проверки
// последнего бара голосуют за быков или медведей.
package strategy

import (
	"errors"
	"fmt"
	"strings"

	"github.com/skalibog/tradesignal/pkg/models"
)

// Name имя стратегии, единственной поддерживаемой бэктестом
const Name = "ema_rsi_macd"

// Пороги RSI
const (
	RSIOversold   = 30.0
	RSIOverbought = 70.0
)

// ErrNoDefinedRow последний бар еще в прогреве
var ErrNoDefinedRow = errors.New("последний бар не содержит всех индикаторов")

// Vote голос одной проверки
type Vote string

const (
	VoteBullishTrend    Vote = "bullish_trend"
	VoteBearishTrend    Vote = "bearish_trend"
	VoteOversold        Vote = "oversold"
	VoteOverbought      Vote = "overbought"
	VoteBullishMomentum Vote = "bullish_momentum"
	VoteBearishMomentum Vote = "bearish_momentum"
)

// Bullish голос за рост
func (v Vote) Bullish() bool {
	return v == VoteBullishTrend || v == VoteBullishMomentum || v == VoteOversold
}

// Bearish голос за падение
func (v Vote) Bearish() bool {
	return v == VoteBearishTrend || v == VoteBearishMomentum || v == VoteOverbought
}

// Rationale набор голосов и итоговые баллы
type Rationale struct {
	Votes     []Vote `json:"votes"`
	BullScore int    `json:"bull_score"`
	BearScore int    `json:"bear_score"`
}

// String текстовое объяснение решения
func (r Rationale) String() string {
	votes := make([]string, len(r.Votes))
	for i, v := range r.Votes {
		votes[i] = string(v)
	}
	return fmt.Sprintf("Votes=[%s], bull=%d, bear=%d", strings.Join(votes, ", "), r.BullScore, r.BearScore)
}

// Has проверяет наличие голоса
func (r Rationale) Has(v Vote) bool {
	for _, vote := range r.Votes {
		if vote == v {
			return true
		}
	}
	return false
}

// Evaluate превращает строку индикаторов в сигнал.
// NaN ни с чем не сравнивается, поэтому бар прогрева дает HOLD.
func Evaluate(row models.IndicatorRow) (models.Signal, models.Confidence, Rationale) {
	votes := make([]Vote, 0, 3)

	// Тренд по EMA
	if row.EMAFast > row.EMASlow {
		votes = append(votes, VoteBullishTrend)
	} else if row.EMAFast < row.EMASlow {
		votes = append(votes, VoteBearishTrend)
	}

	// Режим RSI
	if row.RSI < RSIOversold {
		votes = append(votes, VoteOversold)
	} else if row.RSI > RSIOverbought {
		votes = append(votes, VoteOverbought)
	}

	// Импульс MACD
	if row.MACD > row.MACDSignal {
		votes = append(votes, VoteBullishMomentum)
	} else if row.MACD < row.MACDSignal {
		votes = append(votes, VoteBearishMomentum)
	}

	rationale := Rationale{Votes: votes}
	for _, v := range votes {
		if v.Bullish() {
			rationale.BullScore++
		}
		if v.Bearish() {
			rationale.BearScore++
		}
	}

	bull, bear := rationale.BullScore, rationale.BearScore

	signal := models.SignalHold
	if bull >= 2 && bull > bear {
		signal = models.SignalBuy
	} else if bear >= 2 && bear > bull {
		signal = models.SignalSell
	}

	return signal, confidence(bull - bear), rationale
}

// confidence: разница 1 - medium, от 2 - high, иначе low
func confidence(diff int) models.Confidence {
	if diff < 0 {
		diff = -diff
	}
	switch {
	case diff == 1:
		return models.ConfidenceMedium
	case diff >= 2:
		return models.ConfidenceHigh
	default:
		return models.ConfidenceLow
	}
}

// Latest оценивает последний бар ряда индикаторов
func Latest(rows []models.IndicatorRow) (models.Signal, models.Confidence, Rationale, error) {
	if len(rows) == 0 {
		return models.SignalHold, models.ConfidenceLow, Rationale{}, fmt.Errorf("%w: пустой ряд", models.ErrInsufficientData)
	}
	last := rows[len(rows)-1]
	if !last.Defined() {
		return models.SignalHold, models.ConfidenceLow, Rationale{}, ErrNoDefinedRow
	}
	signal, conf, rationale := Evaluate(last)
	return signal, conf, rationale, nil
}
