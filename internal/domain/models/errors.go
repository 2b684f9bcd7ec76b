package models

import (
	"fmt"
	"time"
)

// ConfigError reports a malformed market configuration. It is fatal at startup.
type ConfigError struct {
	Market string
	Field  string
	Err    error
}

func (e *ConfigError) Error() string {
	switch {
	case e.Market != "" && e.Field != "":
		return fmt.Sprintf("config: market %q: %s: %v", e.Market, e.Field, e.Err)
	case e.Market != "":
		return fmt.Sprintf("config: market %q: %v", e.Market, e.Err)
	default:
		return fmt.Sprintf("config: %v", e.Err)
	}
}

func (e *ConfigError) Unwrap() error { return e.Err }

// ResolutionError means no trading day was found within the forward scan.
type ResolutionError struct {
	Market string
	From   Date
	Days   int
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve: market %q: no trading day within %d days after %s", e.Market, e.Days, e.From)
}

// PersistenceError wraps a state store failure for one market.
type PersistenceError struct {
	Market string
	Op     string
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist: market %q: %s: %v", e.Market, e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// PublishError wraps an event sink failure for one market.
type PublishError struct {
	Market string
	Event  TransitionKind
	At     time.Time
	Err    error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish: market %q: %s at %s: %v", e.Market, e.Event, e.At.Format(time.RFC3339), e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }
