// Package metrics defines the instrumentation contract for the engine.
package metrics

import "time"

// Recorder receives counters and latencies from every pipeline stage.
type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}

// NoopRecorder drops all observations. Default when metrics are not wired.
type NoopRecorder struct{}

func (NoopRecorder) IncCounter(string, map[string]string)                    {}
func (NoopRecorder) ObserveLatency(string, time.Duration, map[string]string) {}
