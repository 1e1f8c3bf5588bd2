package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// Источники свечей
const (
	DataSourceBinance = "BINANCE"
	DataSourceYahoo   = "YAHOO"
)

// Config представляет полную конфигурацию приложения
type Config struct {
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Trading    TradingConfig    `yaml:"trading"`
	Indicators IndicatorConfig  `yaml:"indicators"`
	Backtest   BacktestConfig   `yaml:"backtest"`
	Server     ServerConfig     `yaml:"server"`
	Commentary CommentaryConfig `yaml:"commentary"`
	Storage    StorageConfig    `yaml:"storage"`
	UI         UIConfig         `yaml:"ui"`
	Log        LogConfig        `yaml:"log"`
}

// ExchangeConfig содержит настройки источника свечей
type ExchangeConfig struct {
	DataSource string        `yaml:"data_source"`
	APIKey     string        `yaml:"api_key"`
	APISecret  string        `yaml:"api_secret"`
	Testnet    bool          `yaml:"testnet"`
	Market     string        `yaml:"market"` // spot | futures
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
	YahooURL   string        `yaml:"yahoo_url"`
}

// TradingConfig содержит отслеживаемые символы
type TradingConfig struct {
	DefaultSymbol string   `yaml:"default_symbol"`
	Symbols       []string `yaml:"symbols"`
	Interval      string   `yaml:"interval"`
	Limit         int      `yaml:"limit"`
}

// IndicatorConfig периоды индикаторов
type IndicatorConfig struct {
	RSILength  int     `yaml:"rsi_length"`
	EMAFast    int     `yaml:"ema_fast"`
	EMASlow    int     `yaml:"ema_slow"`
	BBLength   int     `yaml:"bb_length"`
	BBStd      float64 `yaml:"bb_std"`
	MACDFast   int     `yaml:"macd_fast"`
	MACDSlow   int     `yaml:"macd_slow"`
	MACDSignal int     `yaml:"macd_signal"`
}

// BacktestConfig настройки бэктеста
type BacktestConfig struct {
	WarmUp       int     `yaml:"warm_up"`
	MinCandles   int     `yaml:"min_candles"`
	FeeBps       float64 `yaml:"fee_bps"`
	DefaultLimit int     `yaml:"default_limit"`
}

// ServerConfig настройки HTTP API
type ServerConfig struct {
	Addr           string        `yaml:"addr"`
	CORSOrigins    []string      `yaml:"cors_origins"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	RateLimitRPS   float64       `yaml:"rate_limit_rps"`
	RateLimitBurst int           `yaml:"rate_limit_burst"`
}

// CommentaryConfig настройки LLM-комментариев
type CommentaryConfig struct {
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	BaseURL     string        `yaml:"base_url"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
}

// StorageConfig настройки журнала в InfluxDB
type StorageConfig struct {
	Enabled      bool   `yaml:"enabled"`
	URL          string `yaml:"url"`
	Token        string `yaml:"token"`
	Organization string `yaml:"organization"`
	Bucket       string `yaml:"bucket"`
}

// UIConfig настройки пользовательского интерфейса
type UIConfig struct {
	RefreshRate     int `yaml:"refresh_rate_ms"`
	IntervalSeconds int `yaml:"interval_seconds"`
}

// LogConfig настройки логирования
type LogConfig struct {
	Level    string `yaml:"level"`
	File     string `yaml:"file"`
	JSONFile string `yaml:"json_file"`
	Console  bool   `yaml:"console"`
}

// Default возвращает конфигурацию по умолчанию
func Default() Config {
	return Config{
		Exchange: ExchangeConfig{
			DataSource: DataSourceBinance,
			Market:     "spot",
			Timeout:    20 * time.Second,
			MaxRetries: 2,
			YahooURL:   "https://query1.finance.yahoo.com",
		},
		Trading: TradingConfig{
			DefaultSymbol: "BTCUSDT",
			Symbols:       []string{"BTCUSDT"},
			Interval:      "1h",
			Limit:         200,
		},
		Indicators: IndicatorConfig{
			RSILength:  14,
			EMAFast:    12,
			EMASlow:    26,
			BBLength:   20,
			BBStd:      2.0,
			MACDFast:   12,
			MACDSlow:   26,
			MACDSignal: 9,
		},
		Backtest: BacktestConfig{
			WarmUp:       50,
			MinCandles:   100,
			FeeBps:       5.0,
			DefaultLimit: 2000,
		},
		Server: ServerConfig{
			Addr:           ":8000",
			CORSOrigins:    []string{"*"},
			RequestTimeout: 60 * time.Second,
			RateLimitRPS:   20,
			RateLimitBurst: 50,
		},
		Commentary: CommentaryConfig{
			Model:       "llama-3.1-70b-versatile",
			BaseURL:     "https://api.groq.com/openai/v1",
			Temperature: 0.2,
			MaxTokens:   400,
			Timeout:     30 * time.Second,
		},
		Storage: StorageConfig{
			URL:    "http://localhost:8086",
			Bucket: "tradesignal",
		},
		UI: UIConfig{
			RefreshRate:     500,
			IntervalSeconds: 60,
		},
		Log: LogConfig{
			Level:    "info",
			File:     "app.log",
			JSONFile: "app.json.log",
		},
	}
}

// Load загружает конфигурацию из файла поверх значений по умолчанию.
// Пустой path - только значения по умолчанию и переменные окружения.
func Load(path string) (*Config, error) {
	// .env необязателен
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("ошибка чтения .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения файла конфигурации: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("ошибка разбора файла конфигурации: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv переопределяет секреты и основные настройки из окружения
func (c *Config) applyEnv() {
	if v := os.Getenv("GROQ_API_KEY"); v != "" {
		c.Commentary.APIKey = v
	}
	if v := os.Getenv("DATA_SOURCE"); v != "" {
		c.Exchange.DataSource = v
	}
	if v := os.Getenv("DEFAULT_SYMBOL"); v != "" {
		c.Trading.DefaultSymbol = v
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		c.Server.CORSOrigins = origins
	}
	if v := os.Getenv("BINANCE_API_KEY"); v != "" {
		c.Exchange.APIKey = v
	}
	if v := os.Getenv("BINANCE_API_SECRET"); v != "" {
		c.Exchange.APISecret = v
	}
	if v := os.Getenv("INFLUX_TOKEN"); v != "" {
		c.Storage.Token = v
	}

	c.Exchange.DataSource = strings.ToUpper(c.Exchange.DataSource)
}

// Validate проверяет конфигурацию
func (c *Config) Validate() error {
	switch c.Exchange.DataSource {
	case DataSourceBinance, DataSourceYahoo:
	default:
		return fmt.Errorf("неизвестный источник данных: %q", c.Exchange.DataSource)
	}

	switch c.Exchange.Market {
	case "spot", "futures":
	default:
		return fmt.Errorf("неизвестный рынок: %q", c.Exchange.Market)
	}

	ind := c.Indicators
	if ind.RSILength < 2 {
		return fmt.Errorf("indicators.rsi_length должен быть не меньше 2: %d", ind.RSILength)
	}
	if ind.BBLength < 2 {
		return fmt.Errorf("indicators.bb_length должен быть не меньше 2: %d", ind.BBLength)
	}
	for name, v := range map[string]int{
		"ema_fast":    ind.EMAFast,
		"ema_slow":    ind.EMASlow,
		"macd_fast":   ind.MACDFast,
		"macd_slow":   ind.MACDSlow,
		"macd_signal": ind.MACDSignal,
	} {
		if v <= 0 {
			return fmt.Errorf("indicators.%s должен быть положительным: %d", name, v)
		}
	}
	if ind.BBStd <= 0 {
		return fmt.Errorf("indicators.bb_std должен быть положительным: %v", ind.BBStd)
	}

	if c.Backtest.FeeBps < 0 {
		return fmt.Errorf("backtest.fee_bps не может быть отрицательным: %v", c.Backtest.FeeBps)
	}
	if c.Backtest.WarmUp < 0 {
		return fmt.Errorf("backtest.warm_up не может быть отрицательным: %d", c.Backtest.WarmUp)
	}

	if c.Trading.DefaultSymbol == "" {
		return errors.New("trading.default_symbol не задан")
	}
	if len(c.Trading.Symbols) == 0 {
		c.Trading.Symbols = []string{c.Trading.DefaultSymbol}
	}

	if c.Storage.Enabled && (c.Storage.URL == "" || c.Storage.Bucket == "") {
		return errors.New("storage: url и bucket обязательны при enabled: true")
	}

	return nil
}
