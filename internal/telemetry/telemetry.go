// Package telemetry defines the observability hooks the pipeline emits into.
// The hooks are optional: the Noop implementation is always safe to use and
// their absence never changes processing behavior.
package telemetry

import (
	"log"
	"time"
)

// Hooks receives processing events.
type Hooks interface {
	// RecordCaseProcessed is called once per document with its processing
	// duration and outcome.
	RecordCaseProcessed(elapsed time.Duration, success bool)
	// RecordAlert is called for operator-significant events: freezes,
	// rollbacks, gate failures.
	RecordAlert(ruleName, severity, message string)
}

// Noop discards all events.
type Noop struct{}

var _ Hooks = Noop{}

func (Noop) RecordCaseProcessed(time.Duration, bool) {}
func (Noop) RecordAlert(string, string, string)      {}

// Logger writes events to the process log. Used by the CLI.
type Logger struct{}

var _ Hooks = Logger{}

func (Logger) RecordCaseProcessed(elapsed time.Duration, success bool) {
	if !success {
		log.Printf("case failed after %v", elapsed.Round(time.Millisecond))
	}
}

func (Logger) RecordAlert(ruleName, severity, message string) {
	log.Printf("alert [%s] %s: %s", severity, ruleName, message)
}
