package api

import (
	"github.com/skalibog/tradesignal/internal/analysis/aggregator"
	"github.com/skalibog/tradesignal/internal/analysis/technical"
	"github.com/skalibog/tradesignal/pkg/models"
)

// CandleRequest запрос свечей
type CandleRequest struct {
	Symbol   string `json:"symbol" binding:"required"`
	Interval string `json:"interval" binding:"oneof=1m 5m 15m 30m 1h 4h 1d 1w 1mo"`
	Limit    int    `json:"limit" binding:"min=50,max=1000"`
}

// IndicatorRequest запрос индикаторов и сигнала
type IndicatorRequest struct {
	CandleRequest
	RSILength int     `json:"rsi_length" binding:"min=2"`
	EMAFast   int     `json:"ema_fast" binding:"min=1"`
	EMASlow   int     `json:"ema_slow" binding:"min=1"`
	BBLength  int     `json:"bb_length" binding:"min=2"`
	BBStd     float64 `json:"bb_std" binding:"gt=0"`
}

// BacktestRequest запрос бэктеста
type BacktestRequest struct {
	Symbol   string  `json:"symbol" binding:"required"`
	Interval string  `json:"interval" binding:"oneof=1m 5m 15m 30m 1h 4h 1d 1w 1mo"`
	Limit    int     `json:"limit" binding:"min=1,max=10000"`
	Strategy string  `json:"strategy" binding:"oneof=ema_rsi_macd"`
	FeeBps   float64 `json:"fee_bps" binding:"min=0"`
}

// CommentaryRequest запрос комментария по снимку
type CommentaryRequest struct {
	Symbol   string                 `json:"symbol" binding:"required"`
	Interval string                 `json:"interval" binding:"oneof=1m 5m 15m 30m 1h 4h 1d 1w 1mo"`
	Snapshot map[string]interface{} `json:"snapshot" binding:"required"`
	Style    string                 `json:"style" binding:"oneof=concise detailed"`
}

// CandlesResponse ответ /candles
type CandlesResponse struct {
	Symbol   string        `json:"symbol"`
	Interval string        `json:"interval"`
	Count    int           `json:"count"`
	Candles  models.Series `json:"candles"`
}

// BacktestResponse ответ /backtest
type BacktestResponse struct {
	Symbol         string    `json:"symbol"`
	Interval       string    `json:"interval"`
	NTrades        int       `json:"n_trades"`
	WinRate        float64   `json:"win_rate"`
	PnLPct         float64   `json:"pnl_pct"`
	MaxDrawdownPct float64   `json:"max_drawdown_pct"`
	Sharpe         float64   `json:"sharpe"`
	EquityCurve    []float64 `json:"equity_curve"`
	Notes          string    `json:"notes"`
}

func (r IndicatorRequest) toRequest(base technical.Params) aggregator.Request {
	params := base
	params.RSILength = r.RSILength
	params.EMAFast = r.EMAFast
	params.EMASlow = r.EMASlow
	params.BBLength = r.BBLength
	params.BBStd = r.BBStd

	return aggregator.Request{
		Symbol:   r.Symbol,
		Interval: r.Interval,
		Limit:    r.Limit,
		Params:   params,
	}
}

func newBacktestResponse(res *aggregator.BacktestResult) BacktestResponse {
	return BacktestResponse{
		Symbol:         res.Symbol,
		Interval:       res.Interval,
		NTrades:        res.NTrades,
		WinRate:        res.WinRate,
		PnLPct:         res.PnLPct,
		MaxDrawdownPct: res.MaxDrawdownPct,
		Sharpe:         res.Sharpe,
		EquityCurve:    res.EquityCurve,
		Notes:          res.Notes,
	}
}
