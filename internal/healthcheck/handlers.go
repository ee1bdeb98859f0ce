package healthcheck

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"
)

// HealthHandler serves /healthz. A stale daemon answers 503 and asks callers to retry
// after one monitor interval.
func HealthHandler(tracker *Tracker, interval time.Duration) http.HandlerFunc {
	retryAfter := strconv.Itoa(int(math.Ceil(interval.Seconds())))
	return func(w http.ResponseWriter, r *http.Request) {
		if tracker.Healthy(time.Now().UTC(), interval) {
			writeJSON(w, http.StatusOK, tracker.Snapshot())
			return
		}
		if interval > 0 {
			w.Header().Set("Retry-After", retryAfter)
		}
		writeJSON(w, http.StatusServiceUnavailable, tracker.Snapshot())
	}
}

// ReadyHandler serves /readyz; ready once the first pass has been recorded.
func ReadyHandler(tracker *Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusServiceUnavailable
		if tracker.Ready() {
			status = http.StatusOK
		}
		writeJSON(w, status, tracker.Snapshot())
	}
}

func writeJSON(w http.ResponseWriter, status int, payload Snapshot) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
