// Package metrics provides lightweight hooks for instrumentation.
package metrics

import "time"

// Auth outcome labels.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Recorder captures metric events for the application.
// Implementations can expose these to Prometheus, StatsD, etc.
type Recorder interface {
	// Account metrics
	IncUserRegistered()
	IncAPIKeyRotated()
	IncAuthentication(status string) // status: "success" or "failure"
	ObservePasswordHash(duration time.Duration)

	// Expense metrics
	IncExpenseCreated()
	IncExpenseDeleted()

	// Store metrics
	IncStoreRetry()
}

// Snapshotter exposes a snapshot of current metrics.
type Snapshotter interface {
	Snapshot() Snapshot
}
