package handler

import (
	"fmt"
	"net/http"

	"github.com/tallyhq/tally/internal/metrics"
)

// MetricsHandler exposes in-memory metrics.
type MetricsHandler struct {
	snapshotter metrics.Snapshotter
}

// NewMetricsHandler creates a new MetricsHandler.
func NewMetricsHandler(snapshotter metrics.Snapshotter) *MetricsHandler {
	return &MetricsHandler{snapshotter: snapshotter}
}

// Metrics returns metrics in Prometheus exposition format.
func (h *MetricsHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	if h.snapshotter == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	snap := h.snapshotter.Snapshot()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	writeMetric(w, "tally_users_registered_total %d\n", snap.UsersRegistered)
	writeMetric(w, "tally_api_keys_rotated_total %d\n", snap.APIKeysRotated)
	writeMetric(w, "tally_authentications_total{status=\"success\"} %d\n", snap.AuthSuccesses)
	writeMetric(w, "tally_authentications_total{status=\"failure\"} %d\n", snap.AuthFailures)
	writeMetric(w, "tally_password_hash_duration_seconds_count %d\n", snap.PasswordHashCount)
	writeMetric(w, "tally_password_hash_duration_seconds_sum %.6f\n", float64(snap.PasswordHashTotalNs)/1e9)

	writeMetric(w, "tally_expenses_created_total %d\n", snap.ExpensesCreated)
	writeMetric(w, "tally_expenses_deleted_total %d\n", snap.ExpensesDeleted)

	writeMetric(w, "tally_store_retries_total %d\n", snap.StoreRetries)
}

func writeMetric(w http.ResponseWriter, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
