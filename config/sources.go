package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"apte/logger"
)

// Environment variable names. They double as keys in the YAML override file.
const (
	envExchange            = "EXCHANGE"
	envAPIKey              = "EXCHANGE_API_KEY"
	envAPISecret           = "EXCHANGE_API_SECRET"
	envTradingMode         = "TRADING_MODE"
	envInitialCapital      = "INITIAL_CAPITAL"
	envMaxPositionSize     = "MAX_POSITION_SIZE"
	envMaxDailyLoss        = "MAX_DAILY_LOSS"
	envProjectID           = "FIREBASE_PROJECT_ID"
	envCredentialsPath     = "FIREBASE_CREDENTIALS_PATH"
	envCollection          = "FIRESTORE_COLLECTION"
	envStoreBackend        = "STORE_BACKEND"
	envStoreRPS            = "STORE_REQUESTS_PER_SECOND"
	envModelUpdateInterval = "MODEL_UPDATE_INTERVAL_MINUTES"
	envConfidence          = "PREDICTION_CONFIDENCE_THRESHOLD"
	envSymbols             = "DATA_SYMBOLS"
	envDataInterval        = "DATA_INTERVAL_MINUTES"
	envLookback            = "LOOKBACK_PERIODS"
	envStopLoss            = "STOP_LOSS_PERCENT"
	envTakeProfit          = "TAKE_PROFIT_PERCENT"
	envMaxOpenPositions    = "MAX_OPEN_POSITIONS"
	envHeartbeat           = "HEARTBEAT_INTERVAL_SECONDS"
	envMaxRetries          = "MAX_RETRIES"
	envRetryDelay          = "RETRY_DELAY_SECONDS"
	envLogLevel            = "LOG_LEVEL"
	envLogFormat           = "LOG_FORMAT"
	envLogFile             = "LOG_FILE"
	envLogMaxAge           = "LOG_MAX_AGE_DAYS"
	envMetricsNamespace    = "METRICS_NAMESPACE"

	// EnvFileVar and OverrideFileVar point at the optional override files.
	EnvFileVar      = "APTE_ENV_FILE"
	OverrideFileVar = "APTE_CONFIG_FILE"
)

var defaultSymbols = []string{"BTC/USDT", "ETH/USDT", "SOL/USDT"}

// Loader merges configuration sources. Precedence, highest first: process
// environment, .env file, YAML override file, built-in defaults.
type Loader struct {
	lookupEnv    func(string) (string, bool)
	envFile      string
	overrideFile string
	overrideDir  string
	log          *logger.Log
}

type Option func(*Loader)

// WithLookup replaces os.LookupEnv as the process environment source.
func WithLookup(fn func(string) (string, bool)) Option {
	return func(l *Loader) { l.lookupEnv = fn }
}

func WithEnvFile(path string) Option {
	return func(l *Loader) { l.envFile = path }
}

func WithOverrideFile(path string) Option {
	return func(l *Loader) { l.overrideFile = path }
}

// WithOverrideDir sets where apte.<APP_ENV>.yaml is looked up when no
// override file is named explicitly.
func WithOverrideDir(dir string) Option {
	return func(l *Loader) { l.overrideDir = dir }
}

func WithLogger(log *logger.Log) Option {
	return func(l *Loader) { l.log = log }
}

func NewLoader(opts ...Option) *Loader {
	l := &Loader{lookupEnv: os.LookupEnv, overrideDir: overrideDir, log: logger.GetLogger()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load builds a Config from the process environment and default override
// file locations.
func Load() (*Config, error) {
	return NewLoader().Load()
}

// Load returns a validated snapshot or a *ConfigurationError.
func (l *Loader) Load() (*Config, error) {
	lookup, err := l.sources()
	if err != nil {
		return nil, err
	}

	r := &fieldReader{lookup: lookup}
	cfg := r.read()
	if len(r.errs) > 0 {
		l.log.WithComponent("config").WithError(r.errs).Error("configuration values rejected")
		return nil, &ConfigurationError{Errors: r.errs}
	}

	if errs := checkCredentialsFile(cfg, l.log); len(errs) > 0 {
		return nil, &ConfigurationError{Errors: errs}
	}

	if errs := Validate(cfg); len(errs) > 0 {
		l.log.WithComponent("config").WithFields(logger.Fields{
			"trading_mode": cfg.tradingMode,
			"fields":       errs.Fields(),
		}).Error("live trading requires exchange API credentials")
		return nil, &ConfigurationError{Errors: errs}
	}

	return cfg, nil
}

// sources layers env over .env over YAML into one lookup function.
func (l *Loader) sources() (func(string) (string, bool), error) {
	envFile := l.envFile
	if envFile == "" {
		envFile = ".env"
		if v, ok := l.lookupEnv(EnvFileVar); ok && v != "" {
			envFile = v
		}
	}
	dotenv, err := godotenv.Read(envFile)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, &ConfigurationError{Errors: ValidationErrors{{
				Field:   EnvFileVar,
				Message: fmt.Sprintf("cannot parse %s: %v", envFile, err),
			}}}
		}
		dotenv = map[string]string{}
	}

	overrideFile := l.overrideFile
	if overrideFile == "" {
		if v, ok := dotenv[OverrideFileVar]; ok {
			overrideFile = v
		}
		if v, ok := l.lookupEnv(OverrideFileVar); ok && v != "" {
			overrideFile = v
		}
	}
	if overrideFile == "" {
		appEnv := dotenv[appEnvVar]
		if v, ok := l.lookupEnv(appEnvVar); ok && v != "" {
			appEnv = v
		}
		overrideFile = environmentOverridePath(l.overrideDir, normalizeEnvironment(appEnv))
	}
	overrides := map[string]string{}
	if overrideFile != "" {
		overrides, err = readOverrideFile(overrideFile)
		if err != nil {
			return nil, &ConfigurationError{Errors: ValidationErrors{{Field: OverrideFileVar, Message: err.Error()}}}
		}
	}

	return func(key string) (string, bool) {
		if v, ok := l.lookupEnv(key); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v), true
		}
		if v, ok := dotenv[key]; ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v), true
		}
		if v, ok := overrides[key]; ok && v != "" {
			return v, true
		}
		return "", false
	}, nil
}

// readOverrideFile parses a flat YAML document keyed by env var name.
// Sequences are joined with commas so DATA_SYMBOLS can be a YAML list.
func readOverrideFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read override file: %w", err)
	}
	raw := map[string]interface{}{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse override file: %w", err)
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case nil:
		case []interface{}:
			parts := make([]string, 0, len(val))
			for _, item := range val {
				parts = append(parts, fmt.Sprint(item))
			}
			out[k] = strings.Join(parts, ",")
		case map[string]interface{}:
			return nil, fmt.Errorf("override file key %s: nested values are not supported", k)
		default:
			out[k] = strings.TrimSpace(fmt.Sprint(val))
		}
	}
	return out, nil
}

// fieldReader coerces raw strings into typed fields, recording every
// failure instead of stopping at the first one.
type fieldReader struct {
	lookup func(string) (string, bool)
	errs   ValidationErrors
}

func (r *fieldReader) fail(field, msg string) {
	r.errs = append(r.errs, ValidationError{Field: field, Message: msg})
}

func (r *fieldReader) str(key, def string) string {
	if v, ok := r.lookup(key); ok {
		return v
	}
	return def
}

func (r *fieldReader) required(key string) string {
	v, ok := r.lookup(key)
	if !ok {
		r.fail(key, "is required")
	}
	return v
}

func (r *fieldReader) number(key string, def float64, rules ...rule) float64 {
	v := def
	if raw, ok := r.lookup(key); ok {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			r.fail(key, fmt.Sprintf("invalid number %q", raw))
			return def
		}
		v = parsed
	}
	for _, check := range rules {
		if msg := check(v); msg != "" {
			r.fail(key, msg)
			break
		}
	}
	return v
}

func (r *fieldReader) integer(key string, def int, rules ...rule) int {
	v := def
	if raw, ok := r.lookup(key); ok {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			r.fail(key, fmt.Sprintf("invalid integer %q", raw))
			return def
		}
		v = parsed
	}
	for _, check := range rules {
		if msg := check(float64(v)); msg != "" {
			r.fail(key, msg)
			break
		}
	}
	return v
}

func (r *fieldReader) list(key string, def []string) []string {
	raw, ok := r.lookup(key)
	if !ok {
		return append([]string(nil), def...)
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		r.fail(key, "must contain at least one symbol")
	}
	return out
}

func readEnum[T ~string](r *fieldReader, key string, def T, allowed []T) T {
	raw, ok := r.lookup(key)
	if !ok {
		return def
	}
	v, err := oneOf(raw, allowed)
	if err != nil {
		r.fail(key, err.Error())
		return def
	}
	return v
}

var logLevels = []string{"panic", "fatal", "error", "warn", "warning", "info", "debug", "trace"}

// logFile maps "none" to an empty path, which disables the file sink.
func logFile(v string) string {
	if strings.EqualFold(v, "none") {
		return ""
	}
	return v
}

// Largest counts that still fit in a time.Duration.
const (
	maxMinutes = math.MaxInt64 / int64(time.Minute)
	maxSeconds = math.MaxInt64 / int64(time.Second)
)

func minutes(n int) time.Duration { return time.Duration(n) * time.Minute }
func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func (r *fieldReader) read() *Config {
	cfg := &Config{
		exchange:          readEnum(r, envExchange, ExchangeBinance, exchanges),
		exchangeAPIKey:    r.str(envAPIKey, ""),
		exchangeAPISecret: r.str(envAPISecret, ""),

		tradingMode:     readEnum(r, envTradingMode, ModePaper, tradingModes),
		initialCapital:  r.number(envInitialCapital, 10000.0, greaterThan(0)),
		maxPositionSize: r.number(envMaxPositionSize, 0.1, between(0, 1)),
		maxDailyLoss:    r.number(envMaxDailyLoss, 0.02, between(0, 0.1)),

		storeProjectID:       r.required(envProjectID),
		storeCredentialsPath: r.required(envCredentialsPath),
		collection:           r.str(envCollection, "apte_trading"),
		storeBackend:         readEnum(r, envStoreBackend, BackendS3, storeBackends),
		storeRequestsPerSec:  r.number(envStoreRPS, 0, atLeast(0)),

		modelUpdateInterval: minutes(r.integer(envModelUpdateInterval, 60, greaterThan(0), atMost(float64(maxMinutes)))),
		confidenceThreshold: r.number(envConfidence, 0.65, between(0.5, 1.0)),

		symbols:         r.list(envSymbols, defaultSymbols),
		dataInterval:    minutes(r.integer(envDataInterval, 5, greaterThan(0), atMost(float64(maxMinutes)))),
		lookbackPeriods: r.integer(envLookback, 100, greaterThan(0)),

		stopLossPercent:   r.number(envStopLoss, 0.02, aboveUpTo(0, 0.1)),
		takeProfitPercent: r.number(envTakeProfit, 0.04, aboveUpTo(0, 0.2)),
		maxOpenPositions:  r.integer(envMaxOpenPositions, 3, greaterThan(0)),

		heartbeatInterval: seconds(r.integer(envHeartbeat, 30, greaterThan(0), atMost(float64(maxSeconds)))),
		maxRetries:        r.integer(envMaxRetries, 3, atLeast(0)),
		retryDelay:        seconds(r.integer(envRetryDelay, 5, atLeast(0), atMost(float64(maxSeconds)))),

		logging: LoggingConfig{
			Level:  readEnum(r, envLogLevel, "info", logLevels),
			Format: readEnum(r, envLogFormat, "json", []string{"json", "text"}),
			File:   logFile(r.str(envLogFile, "apte.log")),
			MaxAge: r.integer(envLogMaxAge, 0, atLeast(0)),
		},
		metricsNamespace: r.str(envMetricsNamespace, ""),
		environment:      normalizeEnvironment(r.str(appEnvVar, "")),
	}
	return cfg
}
