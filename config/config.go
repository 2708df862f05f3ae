// Package config loads and validates the trading agent's operating
// parameters. A Config is built once per process and is read-only after
// Load returns.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Exchange names the venue the agent trades on.
type Exchange string

const (
	ExchangeBinance  Exchange = "binance"
	ExchangeCoinbase Exchange = "coinbase"
	ExchangeKraken   Exchange = "kraken"
)

var exchanges = []Exchange{ExchangeBinance, ExchangeCoinbase, ExchangeKraken}

// TradingMode controls whether orders are simulated, replayed or sent to a
// real account.
type TradingMode string

const (
	ModePaper    TradingMode = "paper"
	ModeLive     TradingMode = "live"
	ModeBacktest TradingMode = "backtest"
)

var tradingModes = []TradingMode{ModePaper, ModeLive, ModeBacktest}

// StoreBackend selects the document store implementation.
type StoreBackend string

const (
	BackendS3     StoreBackend = "s3"
	BackendMemory StoreBackend = "memory"
)

var storeBackends = []StoreBackend{BackendS3, BackendMemory}

func oneOf[T ~string](raw string, allowed []T) (T, error) {
	v := T(strings.ToLower(strings.TrimSpace(raw)))
	for _, a := range allowed {
		if v == a {
			return v, nil
		}
	}
	names := make([]string, len(allowed))
	for i, a := range allowed {
		names[i] = string(a)
	}
	return "", fmt.Errorf("must be one of %s", strings.Join(names, ", "))
}

// LoggingConfig configures the logger sinks.
type LoggingConfig struct {
	Level  string
	Format string // json or text
	File   string // empty means stdout only
	MaxAge int    // days; > 0 enables rotation
}

// Config is the validated configuration snapshot. Fields are unexported so
// a loaded snapshot cannot be modified; use the accessor methods.
type Config struct {
	exchange          Exchange
	exchangeAPIKey    string
	exchangeAPISecret string

	tradingMode     TradingMode
	initialCapital  float64
	maxPositionSize float64
	maxDailyLoss    float64

	storeProjectID       string
	storeCredentialsPath string
	collection           string
	storeBackend         StoreBackend
	storeRequestsPerSec  float64

	modelUpdateInterval time.Duration
	confidenceThreshold float64

	symbols         []string
	dataInterval    time.Duration
	lookbackPeriods int

	stopLossPercent   float64
	takeProfitPercent float64
	maxOpenPositions  int

	heartbeatInterval time.Duration
	maxRetries        int
	retryDelay        time.Duration

	logging          LoggingConfig
	metricsNamespace string
	environment      string
}

// Exchange is the configured trading venue.
func (c *Config) Exchange() Exchange { return c.exchange }

// ExchangeAPIKey returns the key and whether one was configured.
func (c *Config) ExchangeAPIKey() (string, bool) {
	return c.exchangeAPIKey, c.exchangeAPIKey != ""
}

// ExchangeAPISecret returns the secret and whether one was configured.
func (c *Config) ExchangeAPISecret() (string, bool) {
	return c.exchangeAPISecret, c.exchangeAPISecret != ""
}

// TradingMode is paper, live or backtest.
func (c *Config) TradingMode() TradingMode { return c.tradingMode }

// InitialCapital is the starting account value in quote currency.
func (c *Config) InitialCapital() float64 { return c.initialCapital }

// MaxPositionSize is the largest single position as a fraction of capital.
func (c *Config) MaxPositionSize() float64 { return c.maxPositionSize }

// MaxDailyLoss is the loss fraction that halts trading for the day.
func (c *Config) MaxDailyLoss() float64 { return c.maxDailyLoss }

// StoreProjectID identifies the remote store project (the bucket for S3).
func (c *Config) StoreProjectID() string { return c.storeProjectID }

// StoreCredentialsPath is the service-account file; it existed at load time.
func (c *Config) StoreCredentialsPath() string { return c.storeCredentialsPath }

// Collection is the default document collection.
func (c *Config) Collection() string { return c.collection }

// StoreBackend selects the persistence implementation.
func (c *Config) StoreBackend() StoreBackend { return c.storeBackend }

// StoreRequestsPerSecond caps store calls; zero disables throttling.
func (c *Config) StoreRequestsPerSecond() float64 { return c.storeRequestsPerSec }

// ModelUpdateInterval is how often the prediction model is retrained.
func (c *Config) ModelUpdateInterval() time.Duration { return c.modelUpdateInterval }

// PredictionConfidenceThreshold is the minimum confidence to act on a signal.
func (c *Config) PredictionConfidenceThreshold() float64 { return c.confidenceThreshold }

// Symbols returns a copy of the configured symbol list in its original order.
func (c *Config) Symbols() []string {
	out := make([]string, len(c.symbols))
	copy(out, c.symbols)
	return out
}

// DataInterval is the candle width.
func (c *Config) DataInterval() time.Duration { return c.dataInterval }

// LookbackPeriods is the number of candles fed to the model.
func (c *Config) LookbackPeriods() int { return c.lookbackPeriods }

// StopLossPercent is the per-position stop loss as a fraction.
func (c *Config) StopLossPercent() float64 { return c.stopLossPercent }

// TakeProfitPercent is the per-position take profit as a fraction.
func (c *Config) TakeProfitPercent() float64 { return c.takeProfitPercent }

// MaxOpenPositions caps concurrently open positions.
func (c *Config) MaxOpenPositions() int { return c.maxOpenPositions }

// HeartbeatInterval is the liveness and runtime report period.
func (c *Config) HeartbeatInterval() time.Duration { return c.heartbeatInterval }

// MaxRetries is the number of retries after a transient store failure.
func (c *Config) MaxRetries() int { return c.maxRetries }

// RetryDelay is the fixed wait between store attempts.
func (c *Config) RetryDelay() time.Duration { return c.retryDelay }

// Logging returns the logger sink settings.
func (c *Config) Logging() LoggingConfig { return c.logging }

// MetricsNamespace enables CloudWatch publishing when non-empty.
func (c *Config) MetricsNamespace() string { return c.metricsNamespace }

// Environment is the normalised APP_ENV value, "development" when unset.
func (c *Config) Environment() string { return c.environment }

// IsLive reports whether orders would hit a real exchange account.
func (c *Config) IsLive() bool { return c.tradingMode == ModeLive }
