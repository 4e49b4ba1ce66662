package pipeline

import (
	"errors"
	"fmt"
)

// Outcome is the terminal state of one execution.
type Outcome int

const (
	Succeeded Outcome = iota
	Cached
	FallenBack
	Suppressed
	Propagated
	Canceled
)

func (o Outcome) String() string {
	switch o {
	case Succeeded:
		return "succeeded"
	case Cached:
		return "cached"
	case FallenBack:
		return "fallen_back"
	case Suppressed:
		return "suppressed"
	case Propagated:
		return "propagated"
	case Canceled:
		return "canceled"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// ok reports whether the outcome carries a usable value.
func (o Outcome) ok() bool {
	return o == Succeeded || o == Cached || o == FallenBack
}

// Result is what Run returns. Err is set for Suppressed, Propagated and
// Canceled.
type Result[T any] struct {
	Value   T
	Outcome Outcome
	Err     error
}

// ConfigError reports a builder call made out of order.
type ConfigError struct {
	Op     string
	Reason string
}

func (e *ConfigError) Error() string {
	return "pipeline: " + e.Op + ": " + e.Reason
}

func misuse(op, reason string) {
	panic(&ConfigError{Op: op, Reason: reason})
}

// ErrProducerPanic wraps a panic raised by a producer or fallback.
var ErrProducerPanic = errors.New("pipeline: producer panicked")
