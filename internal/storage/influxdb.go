package storage

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/skalibog/tradesignal/internal/config"
	"github.com/skalibog/tradesignal/pkg/models"
)

// Storage журнал свечей, сигналов и результатов бэктестов
type Storage interface {
	SaveCandles(ctx context.Context, symbol, interval string, candles models.Series) error
	SaveSignal(ctx context.Context, signal *models.SignalResult, at time.Time) error
	SaveBacktest(ctx context.Context, symbol, interval string, stats models.BacktestStats, at time.Time) error
	Close()
}

// InfluxDBStorage реализует интерфейс Storage с использованием InfluxDB
type InfluxDBStorage struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	org      string
	bucket   string
}

// NewInfluxDBStorage создает новое хранилище InfluxDB
func NewInfluxDBStorage(ctx context.Context, cfg config.StorageConfig) (*InfluxDBStorage, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	// Проверка соединения
	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("ошибка соединения с InfluxDB: %w", err)
	}
	if health == nil || health.Status != "pass" {
		client.Close()
		return nil, fmt.Errorf("InfluxDB не в состоянии 'pass': %+v", health)
	}

	return &InfluxDBStorage{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Organization, cfg.Bucket),
		org:      cfg.Organization,
		bucket:   cfg.Bucket,
	}, nil
}

// New возвращает InfluxDB-журнал, если он включен, иначе пустой журнал
func New(ctx context.Context, cfg config.StorageConfig) (Storage, error) {
	if !cfg.Enabled {
		return Nop{}, nil
	}
	s, err := NewInfluxDBStorage(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Close закрывает соединение с базой данных
func (s *InfluxDBStorage) Close() {
	s.client.Close()
}

// SaveCandles сохраняет свечи
func (s *InfluxDBStorage) SaveCandles(ctx context.Context, symbol, interval string, candles models.Series) error {
	if len(candles) == 0 {
		return nil
	}
	if err := s.writeAPI.WritePoint(ctx, CandlePoints(symbol, interval, candles)...); err != nil {
		return fmt.Errorf("ошибка записи свечей: %w", err)
	}
	return nil
}

// SaveSignal сохраняет сигнал
func (s *InfluxDBStorage) SaveSignal(ctx context.Context, signal *models.SignalResult, at time.Time) error {
	if err := s.writeAPI.WritePoint(ctx, SignalPoint(signal, at)); err != nil {
		return fmt.Errorf("ошибка записи сигнала: %w", err)
	}
	return nil
}

// SaveBacktest сохраняет итог бэктеста
func (s *InfluxDBStorage) SaveBacktest(ctx context.Context, symbol, interval string, stats models.BacktestStats, at time.Time) error {
	if err := s.writeAPI.WritePoint(ctx, BacktestPoint(symbol, interval, stats, at)); err != nil {
		return fmt.Errorf("ошибка записи бэктеста: %w", err)
	}
	return nil
}

// CandlePoints точки измерения candles
func CandlePoints(symbol, interval string, candles models.Series) []*write.Point {
	points := make([]*write.Point, 0, len(candles))
	for _, candle := range candles {
		points = append(points, influxdb2.NewPoint(
			"candles",
			map[string]string{
				"symbol":   symbol,
				"interval": interval,
			},
			map[string]interface{}{
				"open":   candle.Open,
				"high":   candle.High,
				"low":    candle.Low,
				"close":  candle.Close,
				"volume": candle.Volume,
			},
			time.UnixMilli(candle.OpenTime),
		))
	}
	return points
}

// SignalPoint точка измерения signals
func SignalPoint(signal *models.SignalResult, at time.Time) *write.Point {
	return influxdb2.NewPoint(
		"signals",
		map[string]string{
			"symbol":   signal.Symbol,
			"interval": signal.Interval,
		},
		map[string]interface{}{
			"signal":         string(signal.Signal),
			"confidence":     string(signal.Confidence),
			"price":          signal.Price,
			"volatility_pct": signal.Risk.VolatilityPct,
			"bucket":         signal.Risk.Bucket,
			"stop_loss":      signal.Levels.StopLoss,
			"take_profit_1":  signal.Levels.TakeProfit1,
			"take_profit_2":  signal.Levels.TakeProfit2,
		},
		at,
	)
}

// BacktestPoint точка измерения backtests
func BacktestPoint(symbol, interval string, stats models.BacktestStats, at time.Time) *write.Point {
	return influxdb2.NewPoint(
		"backtests",
		map[string]string{
			"symbol":   symbol,
			"interval": interval,
		},
		map[string]interface{}{
			"n_trades":         stats.NTrades,
			"win_rate":         stats.WinRate,
			"pnl_pct":          stats.PnLPct,
			"max_drawdown_pct": stats.MaxDrawdownPct,
			"sharpe":           stats.Sharpe,
		},
		at,
	)
}

// Nop журнал, который ничего не сохраняет
type Nop struct{}

func (Nop) SaveCandles(context.Context, string, string, models.Series) error  { return nil }
func (Nop) SaveSignal(context.Context, *models.SignalResult, time.Time) error { return nil }
func (Nop) SaveBacktest(context.Context, string, string, models.BacktestStats, time.Time) error {
	return nil
}
func (Nop) Close() {}
