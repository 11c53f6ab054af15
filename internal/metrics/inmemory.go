package metrics

import (
	"sync/atomic"
	"time"
)

// Snapshot captures current in-memory counters.
type Snapshot struct {
	UsersRegistered     uint64
	APIKeysRotated      uint64
	AuthSuccesses       uint64
	AuthFailures        uint64
	PasswordHashCount   uint64
	PasswordHashTotalNs int64
	ExpensesCreated     uint64
	ExpensesDeleted     uint64
	StoreRetries        uint64
}

// InMemoryRecorder stores metrics in memory.
type InMemoryRecorder struct {
	usersRegistered     atomic.Uint64
	apiKeysRotated      atomic.Uint64
	authSuccesses       atomic.Uint64
	authFailures        atomic.Uint64
	passwordHashCount   atomic.Uint64
	passwordHashTotalNs atomic.Int64
	expensesCreated     atomic.Uint64
	expensesDeleted     atomic.Uint64
	storeRetries        atomic.Uint64
}

// NewInMemory returns a Recorder that stores counters in memory.
func NewInMemory() *InMemoryRecorder {
	return &InMemoryRecorder{}
}

// Snapshot returns a copy of the counters.
func (m *InMemoryRecorder) Snapshot() Snapshot {
	return Snapshot{
		UsersRegistered:     m.usersRegistered.Load(),
		APIKeysRotated:      m.apiKeysRotated.Load(),
		AuthSuccesses:       m.authSuccesses.Load(),
		AuthFailures:        m.authFailures.Load(),
		PasswordHashCount:   m.passwordHashCount.Load(),
		PasswordHashTotalNs: m.passwordHashTotalNs.Load(),
		ExpensesCreated:     m.expensesCreated.Load(),
		ExpensesDeleted:     m.expensesDeleted.Load(),
		StoreRetries:        m.storeRetries.Load(),
	}
}

// IncUserRegistered increments the registration counter.
func (m *InMemoryRecorder) IncUserRegistered() {
	m.usersRegistered.Add(1)
}

// IncAPIKeyRotated increments the key rotation counter.
func (m *InMemoryRecorder) IncAPIKeyRotated() {
	m.apiKeysRotated.Add(1)
}

// IncAuthentication increments the success or failure counter.
func (m *InMemoryRecorder) IncAuthentication(status string) {
	if status == StatusSuccess {
		m.authSuccesses.Add(1)
		return
	}
	m.authFailures.Add(1)
}

// ObservePasswordHash records one password derivation.
func (m *InMemoryRecorder) ObservePasswordHash(duration time.Duration) {
	m.passwordHashCount.Add(1)
	m.passwordHashTotalNs.Add(duration.Nanoseconds())
}

// IncExpenseCreated increments the expense created counter.
func (m *InMemoryRecorder) IncExpenseCreated() {
	m.expensesCreated.Add(1)
}

// IncExpenseDeleted increments the expense deleted counter.
func (m *InMemoryRecorder) IncExpenseDeleted() {
	m.expensesDeleted.Add(1)
}

// IncStoreRetry increments the transient store failure retry counter.
func (m *InMemoryRecorder) IncStoreRetry() {
	m.storeRetries.Add(1)
}
