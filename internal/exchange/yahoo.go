package exchange

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/skalibog/tradesignal/internal/config"
	"github.com/skalibog/tradesignal/pkg/models"
)

// YahooClient свечи из публичного chart API Yahoo Finance
type YahooClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewYahooClient создает клиента Yahoo
func NewYahooClient(cfg config.ExchangeConfig) *YahooClient {
	base := cfg.YahooURL
	if base == "" {
		base = "https://query1.finance.yahoo.com"
	}
	return &YahooClient{
		baseURL:    strings.TrimRight(base, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

type yahooChart struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// yahooRange глубина истории: 5 лет для дневных и старше, иначе 60 дней
func yahooRange(interval string) string {
	switch interval {
	case "1d", "1w", "1mo":
		return "5y"
	default:
		return "60d"
	}
}

// FetchCandles получает limit последних свечей
func (c *YahooClient) FetchCandles(ctx context.Context, symbol, interval string, limit int) (models.Series, error) {
	yahooInterval, ok := yahooIntervals[interval]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedInterval, interval)
	}
	if limit <= 0 {
		return nil, permanent(fmt.Errorf("%w: limit=%d", models.ErrInvalidParameter, limit))
	}

	query := url.Values{}
	query.Set("interval", yahooInterval)
	query.Set("range", yahooRange(interval))
	endpoint := fmt.Sprintf("%s/v8/finance/chart/%s?%s", c.baseURL, url.PathEscape(symbol), query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, permanent(fmt.Errorf("ошибка формирования запроса: %w", err))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса свечей Yahoo: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения ответа Yahoo: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("yahoo вернул статус %d: %s", resp.StatusCode, truncate(string(body), 200))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, permanent(err)
		}
		return nil, err
	}

	return parseYahooChart(body, limit)
}

// parseYahooChart разбирает ответ chart API. Бары с пустыми котировками пропускаются
func parseYahooChart(body []byte, limit int) (models.Series, error) {
	var chart yahooChart
	if err := sonic.Unmarshal(body, &chart); err != nil {
		return nil, permanent(fmt.Errorf("ошибка разбора ответа Yahoo: %w", err))
	}

	if chart.Chart.Error != nil {
		return nil, permanent(fmt.Errorf("yahoo: %s: %s", chart.Chart.Error.Code, chart.Chart.Error.Description))
	}
	if len(chart.Chart.Result) == 0 || len(chart.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, permanent(fmt.Errorf("yahoo: пустой результат"))
	}

	result := chart.Chart.Result[0]
	quote := result.Indicators.Quote[0]

	series := make(models.Series, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		open, okO := at(quote.Open, i)
		high, okH := at(quote.High, i)
		low, okL := at(quote.Low, i)
		closePrice, okC := at(quote.Close, i)
		if !okO || !okH || !okL || !okC {
			continue
		}
		volume, _ := at(quote.Volume, i)

		series = append(series, models.Candle{
			OpenTime:  ts * 1000,
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closePrice,
			Volume:    volume,
			CloseTime: ts * 1000,
		})
	}

	series = series.Normalize()
	if len(series) > limit {
		series = series[len(series)-limit:]
	}
	return series, nil
}

func at(values []*float64, i int) (float64, bool) {
	if i >= len(values) || values[i] == nil {
		return 0, false
	}
	return *values[i], true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
