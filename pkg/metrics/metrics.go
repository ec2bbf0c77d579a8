package metrics

import "time"

type Metrics interface {
	// Business
	RecordSagaTransition(from, to string)
	RecordSagaFinished(status string)
	RecordCommandEmitted(command string)
	RecordEventIgnored(event, reason string)
	RecordUseCaseExecution(useCaseName string, success bool, duration time.Duration)

	// Infrastructure
	ObserveHTTPRequestDuration(method, path, statusCode string, duration float64)

	// Performance and Resilience
	IncVersionConflict()
	IncTimeoutFired(step string)
	IncDuplicateDropped(handler string)
	IncOutboxEventsProcessed(status string)
}

type nop struct{}

// Nop returns a Metrics that records nothing.
func Nop() Metrics { return nop{} }

func (nop) RecordSagaTransition(string, string)                        {}
func (nop) RecordSagaFinished(string)                                  {}
func (nop) RecordCommandEmitted(string)                                {}
func (nop) RecordEventIgnored(string, string)                          {}
func (nop) RecordUseCaseExecution(string, bool, time.Duration)         {}
func (nop) ObserveHTTPRequestDuration(string, string, string, float64) {}
func (nop) IncVersionConflict()                                        {}
func (nop) IncTimeoutFired(string)                                     {}
func (nop) IncDuplicateDropped(string)                                 {}
func (nop) IncOutboxEventsProcessed(string)                            {}
