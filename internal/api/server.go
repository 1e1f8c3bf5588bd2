package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/skalibog/tradesignal/internal/analysis/aggregator"
	"github.com/skalibog/tradesignal/internal/analysis/technical"
	"github.com/skalibog/tradesignal/internal/config"
	"github.com/skalibog/tradesignal/internal/metrics"
	"github.com/skalibog/tradesignal/pkg/logger"
	"github.com/skalibog/tradesignal/pkg/models"
)

// Service конвейер анализа, который обслуживает API
type Service interface {
	Params() technical.Params
	Candles(ctx context.Context, req aggregator.Request) (models.Series, error)
	Indicators(ctx context.Context, req aggregator.Request) (*aggregator.IndicatorsResult, error)
	Signal(ctx context.Context, req aggregator.Request) (*models.SignalResult, error)
	Backtest(ctx context.Context, req aggregator.BacktestRequest) (*aggregator.BacktestResult, error)
	Commentary(ctx context.Context, snapshot map[string]interface{}, style string) (string, error)
}

// Server HTTP API сигналов и бэктестов
type Server struct {
	Router   *gin.Engine
	cfg      config.Config
	service  Service
	metrics  *metrics.Metrics
	limiters *ipLimiters
}

// NewServer создает сервер и регистрирует маршруты
func NewServer(cfg config.Config, service Service, m *metrics.Metrics) *Server {
	r := gin.New()

	s := &Server{
		Router:   r,
		cfg:      cfg,
		service:  service,
		metrics:  m,
		limiters: newIPLimiters(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst),
	}

	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(m))
	r.Use(RateLimitMiddleware(s.limiters))
	r.Use(TimeoutMiddleware(cfg.Server.RequestTimeout))
	r.Use(CORSMiddleware(cfg.Server.CORSOrigins))

	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.POST("/candles", s.candles)
	s.Router.POST("/indicators", s.indicators)
	s.Router.POST("/signal", s.signal)
	s.Router.POST("/backtest", s.backtest)
	s.Router.POST("/ai/commentary", s.commentary)

	if s.metrics != nil {
		s.Router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}
}

// Run обслуживает запросы до отмены ctx, затем завершает сервер
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Server.Addr,
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP сервер запущен", zap.String("addr", s.cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// лимитеры по IP периодически сбрасываются
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case err, ok := <-errCh:
			if ok {
				return fmt.Errorf("ошибка HTTP сервера: %w", err)
			}
			return nil
		case <-ticker.C:
			s.limiters.reset()
		case <-ctx.Done():
			logger.Info("Остановка HTTP сервера")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("ошибка остановки HTTP сервера: %w", err)
			}
			return nil
		}
	}
}
