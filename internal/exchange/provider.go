package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jpillora/backoff"
	"github.com/skalibog/tradesignal/internal/config"
	"github.com/skalibog/tradesignal/pkg/logger"
	"github.com/skalibog/tradesignal/pkg/models"
	"go.uber.org/zap"
)

// ErrUnsupportedInterval интервал вне списка поддерживаемых
var ErrUnsupportedInterval = errors.New("неподдерживаемый интервал")

// Intervals поддерживаемые интервалы свечей
var Intervals = []string{"1m", "5m", "15m", "30m", "1h", "4h", "1d", "1w", "1mo"}

var binanceIntervals = map[string]string{
	"1m": "1m", "5m": "5m", "15m": "15m", "30m": "30m",
	"1h": "1h", "4h": "4h", "1d": "1d", "1w": "1w", "1mo": "1M",
}

var yahooIntervals = map[string]string{
	"1m": "1m", "5m": "5m", "15m": "15m", "30m": "30m",
	"1h": "60m", "4h": "240m", "1d": "1d", "1w": "1wk", "1mo": "1mo",
}

// CandleProvider источник исторических свечей
type CandleProvider interface {
	FetchCandles(ctx context.Context, symbol, interval string, limit int) (models.Series, error)
}

// ValidInterval проверяет интервал
func ValidInterval(interval string) bool {
	_, ok := binanceIntervals[interval]
	return ok
}

// PermanentError ошибка, которую бессмысленно повторять
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

func permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// NewProvider создает источник свечей по конфигурации, с повторами
func NewProvider(cfg config.ExchangeConfig) (CandleProvider, error) {
	var provider CandleProvider
	switch cfg.DataSource {
	case config.DataSourceBinance:
		client, err := NewBinanceClient(cfg)
		if err != nil {
			return nil, err
		}
		provider = client
	case config.DataSourceYahoo:
		provider = NewYahooClient(cfg)
	default:
		return nil, fmt.Errorf("неизвестный источник данных: %q", cfg.DataSource)
	}

	return WithRetry(provider, cfg.MaxRetries, 200*time.Millisecond, 3*time.Second), nil
}

// RetryingProvider повторяет временные ошибки с экспоненциальной задержкой
type RetryingProvider struct {
	next       CandleProvider
	maxRetries int
	minDelay   time.Duration
	maxDelay   time.Duration
}

// WithRetry оборачивает provider. maxRetries <= 0 - без повторов
func WithRetry(provider CandleProvider, maxRetries int, minDelay, maxDelay time.Duration) *RetryingProvider {
	return &RetryingProvider{
		next:       provider,
		maxRetries: maxRetries,
		minDelay:   minDelay,
		maxDelay:   maxDelay,
	}
}

// FetchCandles получает свечи, повторяя временные ошибки
func (r *RetryingProvider) FetchCandles(ctx context.Context, symbol, interval string, limit int) (models.Series, error) {
	b := &backoff.Backoff{Min: r.minDelay, Max: r.maxDelay, Factor: 2, Jitter: true}

	for attempt := 0; ; attempt++ {
		series, err := r.next.FetchCandles(ctx, symbol, interval, limit)
		if err == nil {
			return series, nil
		}

		var perm *PermanentError
		if attempt >= r.maxRetries || errors.As(err, &perm) || errors.Is(err, ErrUnsupportedInterval) || ctx.Err() != nil {
			return nil, err
		}

		delay := b.Duration()
		logger.Warn("Повтор запроса свечей",
			zap.String("symbol", symbol),
			zap.String("interval", interval),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}
