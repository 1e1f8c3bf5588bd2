package exchange

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/skalibog/tradesignal/internal/config"
	"github.com/skalibog/tradesignal/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hour = int64(3_600_000)

// fakeKlines отдает свечи 0..total-1 с шагом в час, как Binance: последние limit до endTime
func fakeKlines(total int, calls *[]int64) klinesFunc {
	return func(_ context.Context, _, _ string, limit int, endTime int64) ([]rawKline, error) {
		*calls = append(*calls, endTime)
		last := total - 1
		if endTime > 0 {
			last = int(endTime / hour)
			if int64(last)*hour > endTime {
				last--
			}
		}
		first := max(0, last-limit+1)
		var out []rawKline
		for i := first; i <= last; i++ {
			price := strconv.Itoa(100 + i)
			out = append(out, rawKline{
				OpenTime: int64(i) * hour, Open: price, High: price, Low: price, Close: price, Volume: "1.5",
				CloseTime: int64(i)*hour + hour - 1,
			})
		}
		return out, nil
	}
}

func TestBinanceFetchSingleBatch(t *testing.T) {
	var calls []int64
	client := &BinanceClient{klines: fakeKlines(500, &calls)}

	series, err := client.FetchCandles(context.Background(), "BTCUSDT", "1h", 200)
	require.NoError(t, err)
	require.Len(t, series, 200)
	assert.Len(t, calls, 1)
	assert.Equal(t, int64(300)*hour, series[0].OpenTime)
	assert.Equal(t, 599.0, series[len(series)-1].Close)
	assert.Equal(t, 1.5, series[0].Volume)
	assert.NoError(t, series.Validate())
}

func TestBinanceFetchPaginates(t *testing.T) {
	var calls []int64
	client := &BinanceClient{klines: fakeKlines(5000, &calls)}

	series, err := client.FetchCandles(context.Background(), "BTCUSDT", "1h", 2500)
	require.NoError(t, err)
	require.Len(t, series, 2500)
	assert.Len(t, calls, 3)
	assert.NoError(t, series.Validate())
	assert.Equal(t, int64(2500)*hour, series[0].OpenTime)
	assert.Equal(t, int64(4999)*hour, series[len(series)-1].OpenTime)
}

func TestBinanceFetchStopsWhenHistoryEnds(t *testing.T) {
	var calls []int64
	client := &BinanceClient{klines: fakeKlines(1200, &calls)}

	series, err := client.FetchCandles(context.Background(), "BTCUSDT", "1h", 3000)
	require.NoError(t, err)
	assert.Len(t, series, 1200)
	assert.Len(t, calls, 2)
}

func TestBinanceFetchRejectsUnknownInterval(t *testing.T) {
	client := &BinanceClient{klines: func(context.Context, string, string, int, int64) ([]rawKline, error) {
		t.Fatal("запрос не должен выполняться")
		return nil, nil
	}}

	_, err := client.FetchCandles(context.Background(), "BTCUSDT", "2h", 10)
	assert.ErrorIs(t, err, ErrUnsupportedInterval)
}

func TestBinanceFetchBadPrice(t *testing.T) {
	client := &BinanceClient{klines: func(context.Context, string, string, int, int64) ([]rawKline, error) {
		return []rawKline{{OpenTime: 1, Open: "x", High: "1", Low: "1", Close: "1", Volume: "1"}}, nil
	}}

	_, err := client.FetchCandles(context.Background(), "BTCUSDT", "1h", 10)
	var perm *PermanentError
	assert.ErrorAs(t, err, &perm)
}

func TestIntervalMaps(t *testing.T) {
	for _, iv := range Intervals {
		assert.True(t, ValidInterval(iv), iv)
		assert.Contains(t, yahooIntervals, iv)
	}
	assert.Equal(t, "1M", binanceIntervals["1mo"])
	assert.Equal(t, "60m", yahooIntervals["1h"])
	assert.Equal(t, "240m", yahooIntervals["4h"])
	assert.Equal(t, "1wk", yahooIntervals["1w"])
	assert.False(t, ValidInterval("2h"))

	assert.Equal(t, "5y", yahooRange("1d"))
	assert.Equal(t, "60d", yahooRange("15m"))
}

const yahooBody = `{"chart":{"result":[{"timestamp":[1000,2000,3000,4000],
"indicators":{"quote":[{"open":[1,2,null,4],"high":[1.5,2.5,3.5,4.5],"low":[0.5,1.5,2.5,3.5],
"close":[1.2,2.2,3.2,4.2],"volume":[10,20,30,null]}]}}],"error":null}}`

func TestYahooFetch(t *testing.T) {
	var gotPath, gotInterval, gotRange string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotInterval = r.URL.Query().Get("interval")
		gotRange = r.URL.Query().Get("range")
		_, _ = w.Write([]byte(yahooBody))
	}))
	defer srv.Close()

	client := NewYahooClient(config.ExchangeConfig{YahooURL: srv.URL, Timeout: time.Second})
	series, err := client.FetchCandles(context.Background(), "AAPL", "1h", 2)
	require.NoError(t, err)

	assert.Equal(t, "/v8/finance/chart/AAPL", gotPath)
	assert.Equal(t, "60m", gotInterval)
	assert.Equal(t, "60d", gotRange)

	// бар 3000 без open пропущен, остаются два последних валидных
	require.Len(t, series, 2)
	assert.Equal(t, models.Candle{OpenTime: 2_000_000, Open: 2, High: 2.5, Low: 1.5, Close: 2.2, Volume: 20, CloseTime: 2_000_000}, series[0])
	assert.Equal(t, int64(4_000_000), series[1].OpenTime)
	assert.Equal(t, 0.0, series[1].Volume)
}

func TestYahooErrors(t *testing.T) {
	status := http.StatusNotFound
	body := `{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found"}}}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	client := NewYahooClient(config.ExchangeConfig{YahooURL: srv.URL, Timeout: time.Second})

	_, err := client.FetchCandles(context.Background(), "NOPE", "1d", 10)
	var perm *PermanentError
	assert.ErrorAs(t, err, &perm)

	status = http.StatusOK
	_, err = client.FetchCandles(context.Background(), "NOPE", "1d", 10)
	assert.ErrorAs(t, err, &perm)
	assert.Contains(t, err.Error(), "No data found")

	status = http.StatusBadGateway
	_, err = client.FetchCandles(context.Background(), "NOPE", "1d", 10)
	require.Error(t, err)
	assert.False(t, errors.As(err, &perm))
}

type flakyProvider struct {
	failures int
	err      error
	calls    int
}

func (f *flakyProvider) FetchCandles(context.Context, string, string, int) (models.Series, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, f.err
	}
	return models.Series{{OpenTime: 1, Close: 1}}, nil
}

func TestRetryRecoversTransientErrors(t *testing.T) {
	flaky := &flakyProvider{failures: 2, err: errors.New("connection reset")}
	p := WithRetry(flaky, 3, time.Millisecond, 2*time.Millisecond)

	series, err := p.FetchCandles(context.Background(), "BTCUSDT", "1h", 1)
	require.NoError(t, err)
	assert.Len(t, series, 1)
	assert.Equal(t, 3, flaky.calls)
}

func TestRetryGivesUp(t *testing.T) {
	flaky := &flakyProvider{failures: 10, err: errors.New("timeout")}
	p := WithRetry(flaky, 2, time.Millisecond, 2*time.Millisecond)

	_, err := p.FetchCandles(context.Background(), "BTCUSDT", "1h", 1)
	assert.Error(t, err)
	assert.Equal(t, 3, flaky.calls)
}

func TestRetrySkipsPermanentErrors(t *testing.T) {
	flaky := &flakyProvider{failures: 10, err: permanent(errors.New("invalid symbol"))}
	p := WithRetry(flaky, 5, time.Millisecond, 2*time.Millisecond)

	_, err := p.FetchCandles(context.Background(), "BTCUSDT", "1h", 1)
	assert.Error(t, err)
	assert.Equal(t, 1, flaky.calls)
}

func TestRetryHonorsContext(t *testing.T) {
	flaky := &flakyProvider{failures: 10, err: errors.New("timeout")}
	p := WithRetry(flaky, 5, time.Hour, time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := p.FetchCandles(ctx, "BTCUSDT", "1h", 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, flaky.calls)
}

func TestNewProviderSelectsSource(t *testing.T) {
	cfg := config.Default().Exchange
	cfg.DataSource = config.DataSourceYahoo
	p, err := NewProvider(cfg)
	require.NoError(t, err)
	_, isYahoo := p.(*RetryingProvider).next.(*YahooClient)
	assert.True(t, isYahoo)

	cfg.DataSource = config.DataSourceBinance
	p, err = NewProvider(cfg)
	require.NoError(t, err)
	_, isBinance := p.(*RetryingProvider).next.(*BinanceClient)
	assert.True(t, isBinance)

	cfg.DataSource = "CSV"
	_, err = NewProvider(cfg)
	assert.Error(t, err)
}
