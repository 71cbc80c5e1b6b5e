package backtest

import (
	"errors"
	"fmt"
)

var (
	ErrNoCandles     = errors.New("no candles")
	ErrPositionOpen  = errors.New("position already open")
	ErrPositionFlat  = errors.New("no open position")
	ErrInvalidFill   = errors.New("invalid fill price")
	ErrUnknownSource = errors.New("no candle source configured")
)

// ConfigError reports an invalid top-level configuration, detected before
// any simulation starts.
type ConfigError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid config %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return e.Err }

func configCause(field string, err error) error {
	return &ConfigError{Field: field, Reason: err.Error(), Err: err}
}

func configErr(field, format string, args ...any) error {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
