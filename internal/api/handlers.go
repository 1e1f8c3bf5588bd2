package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/skalibog/tradesignal/internal/analysis/aggregator"
	"github.com/skalibog/tradesignal/internal/analysis/strategy"
	"github.com/skalibog/tradesignal/internal/commentary"
	"github.com/skalibog/tradesignal/internal/exchange"
	"github.com/skalibog/tradesignal/pkg/logger"
	"github.com/skalibog/tradesignal/pkg/models"
)

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"data_source":    s.cfg.Exchange.DataSource,
		"default_symbol": s.cfg.Trading.DefaultSymbol,
	})
}

func (s *Server) defaultCandleRequest() CandleRequest {
	return CandleRequest{Interval: "1h", Limit: 200}
}

func (s *Server) defaultIndicatorRequest() IndicatorRequest {
	p := s.service.Params()
	return IndicatorRequest{
		CandleRequest: s.defaultCandleRequest(),
		RSILength:     p.RSILength,
		EMAFast:       p.EMAFast,
		EMASlow:       p.EMASlow,
		BBLength:      p.BBLength,
		BBStd:         p.BBStd,
	}
}

func (s *Server) candles(c *gin.Context) {
	req := s.defaultCandleRequest()
	if !bind(c, &req) {
		return
	}

	series, err := s.service.Candles(c.Request.Context(), aggregator.Request{
		Symbol:   req.Symbol,
		Interval: req.Interval,
		Limit:    req.Limit,
	})
	if err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, CandlesResponse{
		Symbol:   req.Symbol,
		Interval: req.Interval,
		Count:    len(series),
		Candles:  series,
	})
}

func (s *Server) indicators(c *gin.Context) {
	req := s.defaultIndicatorRequest()
	if !bind(c, &req) {
		return
	}

	res, err := s.service.Indicators(c.Request.Context(), req.toRequest(s.service.Params()))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) signal(c *gin.Context) {
	req := s.defaultIndicatorRequest()
	if !bind(c, &req) {
		return
	}

	res, err := s.service.Signal(c.Request.Context(), req.toRequest(s.service.Params()))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) backtest(c *gin.Context) {
	req := BacktestRequest{
		Interval: "1h",
		Limit:    s.cfg.Backtest.DefaultLimit,
		Strategy: strategy.Name,
		FeeBps:   s.cfg.Backtest.FeeBps,
	}
	if !bind(c, &req) {
		return
	}

	fee := req.FeeBps
	res, err := s.service.Backtest(c.Request.Context(), aggregator.BacktestRequest{
		Symbol:   req.Symbol,
		Interval: req.Interval,
		Limit:    req.Limit,
		FeeBps:   &fee,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newBacktestResponse(res))
}

func (s *Server) commentary(c *gin.Context) {
	req := CommentaryRequest{Interval: "1h", Style: commentary.StyleConcise}
	if !bind(c, &req) {
		return
	}

	text, err := s.service.Commentary(c.Request.Context(), req.Snapshot, req.Style)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"commentary": text})
}

func bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":  "validation_error",
			"detail": err.Error(),
		})
		return false
	}
	return true
}

// fail переводит ошибку конвейера в HTTP статус
func (s *Server) fail(c *gin.Context, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		logger.Error("Ошибка обработки запроса",
			zap.String("request_id", c.GetString(requestIDKey)),
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	c.JSON(status, gin.H{"error": code, "detail": err.Error()})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, models.ErrInsufficientData), errors.Is(err, strategy.ErrNoDefinedRow):
		return http.StatusBadRequest, "insufficient_data"
	case errors.Is(err, models.ErrInvalidParameter),
		errors.Is(err, models.ErrUnorderedSeries),
		errors.Is(err, exchange.ErrUnsupportedInterval):
		return http.StatusBadRequest, "invalid_parameter"
	case errors.Is(err, commentary.ErrNotConfigured):
		return http.StatusInternalServerError, "commentary_not_configured"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, aggregator.ErrProvider):
		return http.StatusBadGateway, "provider_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
