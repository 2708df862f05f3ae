package config

import (
	"fmt"
	"os"
	"strings"

	"apte/logger"
)

// ValidationError is a single violated rule for one field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors collects every rule violated during one validation stage.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	messages := make([]string, 0, len(e))
	for _, err := range e {
		messages = append(messages, err.Error())
	}
	return strings.Join(messages, "; ")
}

// Fields lists the offending field names in the order they were found.
func (e ValidationErrors) Fields() []string {
	out := make([]string, 0, len(e))
	for _, err := range e {
		out = append(out, err.Field)
	}
	return out
}

// ConfigurationError aborts startup. No snapshot accompanies it.
type ConfigurationError struct {
	Errors ValidationErrors
}

func (e *ConfigurationError) Error() string {
	return "invalid configuration: " + e.Errors.Error()
}

func (e *ConfigurationError) Unwrap() error { return e.Errors }

// Has reports whether field is among the violations.
func (e *ConfigurationError) Has(field string) bool {
	for _, v := range e.Errors {
		if v.Field == field {
			return true
		}
	}
	return false
}

// numeric range rules; each returns "" when v satisfies it. Conditions are
// written positively so NaN always fails.
type rule func(v float64) string

func greaterThan(min float64) rule {
	return func(v float64) string {
		if v > min {
			return ""
		}
		return fmt.Sprintf("must be greater than %g", min)
	}
}

func atLeast(min float64) rule {
	return func(v float64) string {
		if v >= min {
			return ""
		}
		return fmt.Sprintf("must be at least %g", min)
	}
}

func atMost(max float64) rule {
	return func(v float64) string {
		if v <= max {
			return ""
		}
		return fmt.Sprintf("must be at most %g", max)
	}
}

func between(min, max float64) rule {
	return func(v float64) string {
		if v >= min && v <= max {
			return ""
		}
		return fmt.Sprintf("must be between %g and %g", min, max)
	}
}

// aboveUpTo is the half-open range (min, max].
func aboveUpTo(min, max float64) rule {
	return func(v float64) string {
		if v > min && v <= max {
			return ""
		}
		return fmt.Sprintf("must be greater than %g and at most %g", min, max)
	}
}

// checkCredentialsFile verifies the store credential document exists.
func checkCredentialsFile(cfg *Config, log *logger.Log) ValidationErrors {
	path := cfg.storeCredentialsPath
	info, err := os.Stat(path)
	switch {
	case err != nil:
		log.WithComponent("config").WithFields(logger.Fields{"path": path}).
			WithError(err).Error("store credentials file not found")
		return ValidationErrors{{Field: envCredentialsPath, Message: fmt.Sprintf("credentials file not found: %s", path)}}
	case info.IsDir():
		log.WithComponent("config").WithFields(logger.Fields{"path": path}).
			Error("store credentials path is a directory")
		return ValidationErrors{{Field: envCredentialsPath, Message: fmt.Sprintf("credentials path is a directory: %s", path)}}
	}
	return nil
}

// Validate applies the cross-field rules to an already range-checked
// snapshot. Every rule that spans more than one field lives here.
func Validate(cfg *Config) ValidationErrors {
	var errs ValidationErrors
	if cfg.tradingMode == ModeLive {
		if cfg.exchangeAPIKey == "" {
			errs = append(errs, ValidationError{Field: envAPIKey, Message: "required when TRADING_MODE is live"})
		}
		if cfg.exchangeAPISecret == "" {
			errs = append(errs, ValidationError{Field: envAPISecret, Message: "required when TRADING_MODE is live"})
		}
	}
	return errs
}
