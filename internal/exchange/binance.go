package exchange

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/skalibog/tradesignal/internal/config"
	"github.com/skalibog/tradesignal/pkg/models"
)

// binanceMaxLimit максимум свечей в одном запросе klines
const binanceMaxLimit = 1000

// rawKline свеча в формате Binance: цены строками
type rawKline struct {
	OpenTime  int64
	Open      string
	High      string
	Low       string
	Close     string
	Volume    string
	CloseTime int64
}

// klinesFunc один запрос klines. endTime == 0 - без ограничения
type klinesFunc func(ctx context.Context, symbol, interval string, limit int, endTime int64) ([]rawKline, error)

// BinanceClient клиент для получения свечей Binance (spot или futures)
type BinanceClient struct {
	klines klinesFunc
}

// NewBinanceClient создает новый клиент Binance
func NewBinanceClient(cfg config.ExchangeConfig) (*BinanceClient, error) {
	httpClient := &http.Client{Timeout: cfg.Timeout}

	switch cfg.Market {
	case "", "spot":
		binance.UseTestnet = cfg.Testnet
		spot := binance.NewClient(cfg.APIKey, cfg.APISecret)
		spot.HTTPClient = httpClient
		return &BinanceClient{klines: spotKlines(spot)}, nil
	case "futures":
		futures.UseTestnet = cfg.Testnet
		fc := futures.NewClient(cfg.APIKey, cfg.APISecret)
		fc.HTTPClient = httpClient
		return &BinanceClient{klines: futuresKlines(fc)}, nil
	default:
		return nil, fmt.Errorf("неизвестный рынок Binance: %q", cfg.Market)
	}
}

func spotKlines(c *binance.Client) klinesFunc {
	return func(ctx context.Context, symbol, interval string, limit int, endTime int64) ([]rawKline, error) {
		svc := c.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit)
		if endTime > 0 {
			svc = svc.EndTime(endTime)
		}
		klines, err := svc.Do(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]rawKline, len(klines))
		for i, k := range klines {
			out[i] = rawKline{k.OpenTime, k.Open, k.High, k.Low, k.Close, k.Volume, k.CloseTime}
		}
		return out, nil
	}
}

func futuresKlines(c *futures.Client) klinesFunc {
	return func(ctx context.Context, symbol, interval string, limit int, endTime int64) ([]rawKline, error) {
		svc := c.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit)
		if endTime > 0 {
			svc = svc.EndTime(endTime)
		}
		klines, err := svc.Do(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]rawKline, len(klines))
		for i, k := range klines {
			out[i] = rawKline{k.OpenTime, k.Open, k.High, k.Low, k.Close, k.Volume, k.CloseTime}
		}
		return out, nil
	}
}

// FetchCandles получает limit последних свечей. Больше 1000 - несколькими
// запросами назад по времени.
func (c *BinanceClient) FetchCandles(ctx context.Context, symbol, interval string, limit int) (models.Series, error) {
	binanceInterval, ok := binanceIntervals[interval]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedInterval, interval)
	}
	if limit <= 0 {
		return nil, permanent(fmt.Errorf("%w: limit=%d", models.ErrInvalidParameter, limit))
	}

	var chunks [][]rawKline
	remaining := limit
	var endTime int64

	for remaining > 0 {
		batchLimit := min(remaining, binanceMaxLimit)
		batch, err := c.klines(ctx, symbol, binanceInterval, batchLimit, endTime)
		if err != nil {
			var apiErr *common.APIError
			if errors.As(err, &apiErr) {
				return nil, permanent(fmt.Errorf("ошибка получения свечей: %w", err))
			}
			return nil, fmt.Errorf("ошибка получения свечей: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		chunks = append(chunks, batch)
		remaining -= len(batch)
		endTime = batch[0].OpenTime - 1

		if len(batch) < batchLimit || endTime < 0 {
			break
		}
	}

	series := make(models.Series, 0, limit-remaining)
	for i := len(chunks) - 1; i >= 0; i-- {
		for _, k := range chunks[i] {
			candle, err := k.toCandle()
			if err != nil {
				return nil, permanent(err)
			}
			series = append(series, candle)
		}
	}

	return series.Normalize(), nil
}

func (k rawKline) toCandle() (models.Candle, error) {
	var values [5]float64
	for i, s := range []string{k.Open, k.High, k.Low, k.Close, k.Volume} {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return models.Candle{}, fmt.Errorf("ошибка разбора свечи %d: %w", k.OpenTime, err)
		}
		values[i] = v
	}

	return models.Candle{
		OpenTime:  k.OpenTime,
		Open:      values[0],
		High:      values[1],
		Low:       values[2],
		Close:     values[3],
		Volume:    values[4],
		CloseTime: k.CloseTime,
	}, nil
}
