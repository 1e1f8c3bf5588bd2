package aggregator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/skalibog/tradesignal/internal/analysis/risk"
	"github.com/skalibog/tradesignal/internal/analysis/strategy"
	"github.com/skalibog/tradesignal/internal/analysis/technical"
	"github.com/skalibog/tradesignal/internal/backtest"
	"github.com/skalibog/tradesignal/internal/commentary"
	"github.com/skalibog/tradesignal/internal/config"
	"github.com/skalibog/tradesignal/internal/exchange"
	"github.com/skalibog/tradesignal/internal/metrics"
	"github.com/skalibog/tradesignal/internal/storage"
	"github.com/skalibog/tradesignal/pkg/logger"
	"github.com/skalibog/tradesignal/pkg/models"
)

// ErrProvider ошибка источника свечей
var ErrProvider = errors.New("источник свечей недоступен")

// Request запрос свечей и индикаторов. Нулевые поля берутся из конфигурации
type Request struct {
	Symbol   string
	Interval string
	Limit    int
	Params   technical.Params
}

// BacktestRequest запрос бэктеста
type BacktestRequest struct {
	Symbol   string
	Interval string
	Limit    int
	FeeBps   *float64
}

// IndicatorSnapshot значения индикаторов последнего бара и цена закрытия
type IndicatorSnapshot struct {
	models.IndicatorRow
	Close float64 `json:"close"`
}

// IndicatorsResult свечи и снимок индикаторов
type IndicatorsResult struct {
	Symbol     string            `json:"symbol"`
	Interval   string            `json:"interval"`
	Candles    models.Series     `json:"candles"`
	Indicators IndicatorSnapshot `json:"indicators"`
}

// BacktestResult статистика бэктеста с пояснением
type BacktestResult struct {
	Symbol   string `json:"symbol"`
	Interval string `json:"interval"`
	models.BacktestStats
	Notes string `json:"notes"`
}

// Analyzer собирает конвейер: свечи, индикаторы, сигнал, риск, комментарий, журнал
type Analyzer struct {
	provider   exchange.CandleProvider
	commentary commentary.Generator
	storage    storage.Storage
	metrics    *metrics.Metrics

	source   string
	symbols  []string
	interval string
	limit    int
	params   technical.Params
	backtest config.BacktestConfig

	now func() time.Time
}

// Option настройка Analyzer
type Option func(*Analyzer)

// WithCommentary подключает генератор комментариев
func WithCommentary(g commentary.Generator) Option {
	return func(a *Analyzer) { a.commentary = g }
}

// WithStorage подключает журнал
func WithStorage(s storage.Storage) Option {
	return func(a *Analyzer) { a.storage = s }
}

// WithMetrics подключает метрики
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Analyzer) { a.metrics = m }
}

// NewAnalyzer создает новый анализатор
func NewAnalyzer(cfg config.Config, provider exchange.CandleProvider, opts ...Option) *Analyzer {
	a := &Analyzer{
		provider: provider,
		storage:  storage.Nop{},
		source:   cfg.Exchange.DataSource,
		symbols:  cfg.Trading.Symbols,
		interval: cfg.Trading.Interval,
		limit:    cfg.Trading.Limit,
		params:   technical.ParamsFromConfig(cfg.Indicators),
		backtest: cfg.Backtest,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Params периоды индикаторов по умолчанию
func (a *Analyzer) Params() technical.Params {
	return a.params
}

// HasCommentary true, если генератор комментариев подключен
func (a *Analyzer) HasCommentary() bool {
	return a.commentary != nil
}

func (a *Analyzer) normalize(req Request) Request {
	if req.Interval == "" {
		req.Interval = a.interval
	}
	if req.Limit <= 0 {
		req.Limit = a.limit
	}
	if req.Params == (technical.Params{}) {
		req.Params = a.params
	}
	return req
}

// Candles получает свечи и записывает их в журнал
func (a *Analyzer) Candles(ctx context.Context, req Request) (models.Series, error) {
	req = a.normalize(req)
	return a.fetch(ctx, req.Symbol, req.Interval, req.Limit)
}

func (a *Analyzer) fetch(ctx context.Context, symbol, interval string, limit int) (models.Series, error) {
	series, err := a.provider.FetchCandles(ctx, symbol, interval, limit)
	if err != nil {
		if a.metrics != nil {
			a.metrics.FetchErrors.WithLabelValues(a.source).Inc()
		}
		if errors.Is(err, exchange.ErrUnsupportedInterval) || errors.Is(err, models.ErrInvalidParameter) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s %s: %w", ErrProvider, symbol, interval, err)
	}
	if err := series.Validate(); err != nil {
		return nil, err
	}

	logger.Debug("Свечи получены",
		zap.String("symbol", symbol),
		zap.String("interval", interval),
		zap.Int("count", len(series)))

	if err := a.storage.SaveCandles(ctx, symbol, interval, series); err != nil {
		logger.Warn("Предупреждение: не удалось сохранить свечи", zap.String("symbol", symbol), zap.Error(err))
	}
	return series, nil
}

// Indicators считает индикаторы и возвращает снимок последнего бара
func (a *Analyzer) Indicators(ctx context.Context, req Request) (*IndicatorsResult, error) {
	req = a.normalize(req)

	series, rows, err := a.compute(ctx, req)
	if err != nil {
		return nil, err
	}

	last, _ := series.Last()
	return &IndicatorsResult{
		Symbol:   req.Symbol,
		Interval: req.Interval,
		Candles:  series,
		Indicators: IndicatorSnapshot{
			IndicatorRow: rows[len(rows)-1],
			Close:        last.Close,
		},
	}, nil
}

func (a *Analyzer) compute(ctx context.Context, req Request) (models.Series, []models.IndicatorRow, error) {
	series, err := a.fetch(ctx, req.Symbol, req.Interval, req.Limit)
	if err != nil {
		return nil, nil, err
	}
	rows, err := technical.Compute(series, req.Params)
	if err != nil {
		return nil, nil, err
	}
	return series, rows, nil
}

// Signal рассчитывает сигнал, риск и уровни. Текст обоснования берется у
// генератора комментариев, а без него или при его ошибке - из голосов стратегии.
func (a *Analyzer) Signal(ctx context.Context, req Request) (*models.SignalResult, error) {
	return a.signal(ctx, a.normalize(req), true)
}

func (a *Analyzer) signal(ctx context.Context, req Request, withCommentary bool) (*models.SignalResult, error) {
	series, rows, err := a.compute(ctx, req)
	if err != nil {
		return nil, err
	}

	sig, conf, rationale, err := strategy.Latest(rows)
	if err != nil {
		return nil, err
	}

	last := rows[len(rows)-1]
	candle, _ := series.Last()
	volatility := risk.VolatilityPct(last)
	profile := risk.Profile(volatility)
	levels, err := risk.Levels(candle.Close, volatility)
	if err != nil {
		return nil, err
	}

	result := &models.SignalResult{
		Symbol:     req.Symbol,
		Interval:   req.Interval,
		Signal:     sig,
		Confidence: conf,
		Rationale:  rationale.String(),
		Risk:       profile,
		Levels:     levels,
		Price:      risk.Round(candle.Close, risk.PricePrecision),
	}
	result.Snapshot = snapshot(result, last)

	if withCommentary && a.commentary != nil {
		text, err := a.commentary.Generate(ctx, result.Snapshot, commentary.StyleConcise)
		if err != nil {
			if a.metrics != nil {
				a.metrics.CommentaryFails.Inc()
			}
			logger.Warn("Предупреждение: комментарий недоступен, используется обоснование стратегии",
				zap.String("symbol", req.Symbol), zap.Error(err))
		} else {
			result.Rationale = text
		}
	}

	if a.metrics != nil {
		a.metrics.SignalsTotal.WithLabelValues(string(sig), string(conf)).Inc()
	}
	logger.Debug("AGGREGATOR: сигнал рассчитан",
		zap.String("symbol", req.Symbol),
		zap.String("signal", string(sig)),
		zap.String("confidence", string(conf)),
		zap.String("votes", rationale.String()))

	if err := a.storage.SaveSignal(ctx, result, a.now()); err != nil {
		logger.Warn("Предупреждение: не удалось сохранить сигнал", zap.String("symbol", req.Symbol), zap.Error(err))
	}
	return result, nil
}

// snapshot данные для комментария
func snapshot(result *models.SignalResult, row models.IndicatorRow) map[string]interface{} {
	return map[string]interface{}{
		"symbol":       result.Symbol,
		"interval":     result.Interval,
		"price":        result.Price,
		"rsi":          risk.Round(row.RSI, risk.PercentPrecision),
		"ema_fast":     risk.Round(row.EMAFast, risk.PricePrecision),
		"ema_slow":     risk.Round(row.EMASlow, risk.PricePrecision),
		"macd":         risk.Round(row.MACD, risk.PricePrecision),
		"macd_signal":  risk.Round(row.MACDSignal, risk.PricePrecision),
		"bb_width_pct": result.Risk.VolatilityPct,
		"signal":       string(result.Signal),
		"confidence":   string(result.Confidence),
		"levels": map[string]interface{}{
			"stop_loss":     result.Levels.StopLoss,
			"take_profit_1": result.Levels.TakeProfit1,
			"take_profit_2": result.Levels.TakeProfit2,
		},
	}
}

// Backtest прогоняет стратегию по истории
func (a *Analyzer) Backtest(ctx context.Context, req BacktestRequest) (*BacktestResult, error) {
	if req.Interval == "" {
		req.Interval = a.interval
	}
	if req.Limit <= 0 {
		req.Limit = a.backtest.DefaultLimit
	}
	fee := a.backtest.FeeBps
	if req.FeeBps != nil {
		fee = *req.FeeBps
	}

	series, err := a.fetch(ctx, req.Symbol, req.Interval, req.Limit)
	if err != nil {
		return nil, err
	}

	stats, _, err := backtest.Evaluate(series, backtest.Options{
		Params:     a.params,
		WarmUp:     a.backtest.WarmUp,
		MinCandles: a.backtest.MinCandles,
		FeeBps:     fee,
	})
	if err != nil {
		return nil, err
	}

	if a.metrics != nil {
		a.metrics.BacktestsTotal.Inc()
		a.metrics.BacktestTrades.Observe(float64(stats.NTrades))
	}
	logger.Info("Бэктест завершен",
		zap.String("symbol", req.Symbol),
		zap.String("interval", req.Interval),
		zap.Int("candles", len(series)),
		zap.Int("trades", stats.NTrades),
		zap.Float64("pnl_pct", stats.PnLPct))

	if err := a.storage.SaveBacktest(ctx, req.Symbol, req.Interval, stats, a.now()); err != nil {
		logger.Warn("Предупреждение: не удалось сохранить бэктест", zap.String("symbol", req.Symbol), zap.Error(err))
	}

	return &BacktestResult{
		Symbol:        req.Symbol,
		Interval:      req.Interval,
		BacktestStats: stats,
		Notes:         backtest.Notes,
	}, nil
}

// Commentary комментарий по произвольному снимку
func (a *Analyzer) Commentary(ctx context.Context, snapshot map[string]interface{}, style string) (string, error) {
	if a.commentary == nil {
		return "", commentary.ErrNotConfigured
	}
	text, err := a.commentary.Generate(ctx, snapshot, style)
	if err != nil {
		if a.metrics != nil {
			a.metrics.CommentaryFails.Inc()
		}
		return "", err
	}
	return text, nil
}

// GenerateSignals генерирует сигналы для всех отслеживаемых символов
func (a *Analyzer) GenerateSignals(ctx context.Context) map[string]*models.SignalResult {
	results := make(map[string]*models.SignalResult)
	var wg sync.WaitGroup
	var mutex sync.Mutex

	for _, symbol := range a.symbols {
		wg.Add(1)
		go func(sym string) {
			defer wg.Done()

			signal, err := a.signal(ctx, a.normalize(Request{Symbol: sym}), false)
			if err != nil {
				// Логируем ошибку, но продолжаем для других символов
				logger.Error("Ошибка генерации сигнала", zap.String("symbol", sym), zap.Error(err))
				return
			}

			mutex.Lock()
			results[sym] = signal
			mutex.Unlock()
		}(symbol)
	}

	wg.Wait()
	return results
}
