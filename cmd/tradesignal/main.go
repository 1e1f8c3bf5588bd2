package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/skalibog/tradesignal/internal/analysis/aggregator"
	"github.com/skalibog/tradesignal/internal/api"
	"github.com/skalibog/tradesignal/internal/commentary"
	"github.com/skalibog/tradesignal/internal/config"
	"github.com/skalibog/tradesignal/internal/exchange"
	"github.com/skalibog/tradesignal/internal/metrics"
	"github.com/skalibog/tradesignal/internal/storage"
	"github.com/skalibog/tradesignal/internal/ui"
	"github.com/skalibog/tradesignal/pkg/logger"
	"github.com/skalibog/tradesignal/pkg/models"
)

func main() {
	// Обработка флагов командной строки
	configPath := flag.String("config", "", "путь к файлу конфигурации (YAML)")
	mode := flag.String("mode", "serve", "режим: serve | ui | backtest | signal")
	symbol := flag.String("symbol", "", "символ (по умолчанию trading.default_symbol)")
	interval := flag.String("interval", "", "интервал свечей (по умолчанию trading.interval)")
	limit := flag.Int("limit", 0, "количество свечей")
	feeBps := flag.Float64("fee-bps", -1, "комиссия бэктеста в б.п. (по умолчанию backtest.fee_bps)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка загрузки конфигурации: %v\n", err)
		os.Exit(1)
	}

	// В режиме UI консоль занята дашбордом
	if err := logger.Init(logger.Options{
		Level:    cfg.Log.Level,
		File:     cfg.Log.File,
		JSONFile: cfg.Log.JSONFile,
		Console:  cfg.Log.Console && *mode != "ui",
		Truncate: *mode == "ui",
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка инициализации логгера: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *mode, *symbol, *interval, *limit, *feeBps); err != nil {
		logger.Error("Завершение с ошибкой", zap.String("mode", *mode), zap.Error(err))
		fmt.Fprintf(os.Stderr, "Ошибка: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, mode, symbol, interval string, limit int, feeBps float64) error {
	provider, err := exchange.NewProvider(cfg.Exchange)
	if err != nil {
		return fmt.Errorf("ошибка инициализации источника свечей: %w", err)
	}

	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		logger.Warn("Журнал InfluxDB недоступен, запись отключена", zap.Error(err))
		store = storage.Nop{}
	}
	defer store.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	opts := []aggregator.Option{aggregator.WithStorage(store), aggregator.WithMetrics(m)}
	generator, err := commentary.NewGroqClient(cfg.Commentary)
	switch {
	case err == nil:
		opts = append(opts, aggregator.WithCommentary(generator))
	case errors.Is(err, commentary.ErrNotConfigured):
		logger.Info("GROQ_API_KEY не задан, обоснование сигналов без комментария модели")
	default:
		return err
	}

	analyzer := aggregator.NewAnalyzer(*cfg, provider, opts...)

	if symbol == "" {
		symbol = cfg.Trading.DefaultSymbol
	}

	logger.Info("Запуск",
		zap.String("mode", mode),
		zap.String("data_source", cfg.Exchange.DataSource),
		zap.Strings("symbols", cfg.Trading.Symbols))

	switch mode {
	case "serve":
		return api.NewServer(*cfg, analyzer, m).Run(ctx)

	case "ui":
		return ui.NewTermUI(cfg.UI, analyzer, cfg.Log.JSONFile).Run(ctx)

	case "signal":
		res, err := analyzer.Signal(ctx, aggregator.Request{Symbol: symbol, Interval: interval, Limit: limit})
		if err != nil {
			return err
		}
		printSignal(res)
		return nil

	case "backtest":
		req := aggregator.BacktestRequest{Symbol: symbol, Interval: interval, Limit: limit}
		if feeBps >= 0 {
			req.FeeBps = &feeBps
		}
		res, err := analyzer.Backtest(ctx, req)
		if err != nil {
			return err
		}
		printBacktest(res)
		return nil

	default:
		return fmt.Errorf("неизвестный режим: %q", mode)
	}
}

func printSignal(res *models.SignalResult) {
	fmt.Printf("%s %s: %s (%s) цена %v\n", res.Symbol, res.Interval, res.Signal, res.Confidence, res.Price)
	fmt.Printf("Волатильность: %.2f%% (%s)\n", res.Risk.VolatilityPct, res.Risk.Bucket)
	fmt.Printf("Стоп-лосс: %v  Тейк-профит 1: %v  Тейк-профит 2: %v\n", res.Levels.StopLoss, res.Levels.TakeProfit1, res.Levels.TakeProfit2)
	fmt.Println(strings.TrimSpace(res.Rationale))
}

func printBacktest(res *aggregator.BacktestResult) {
	fmt.Printf("%s %s: сделок %d, win rate %.2f%%, PnL %.2f%%, просадка %.2f%%, sharpe %.2f\n",
		res.Symbol, res.Interval, res.NTrades, res.WinRate, res.PnLPct, res.MaxDrawdownPct, res.Sharpe)
	for _, t := range res.Trades {
		fmt.Printf("  #%d -> #%d  %v -> %v  %.2f%%\n", t.EntryIndex, t.ExitIndex, t.EntryPrice, t.ExitPrice, t.ReturnPct)
	}
	fmt.Println(res.Notes)
}
