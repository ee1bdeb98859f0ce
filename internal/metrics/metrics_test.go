package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsUpdates(t *testing.T) {
	m := New()

	m.IncDispatch("Success")
	m.IncDispatch("Success")
	m.IncDeployment("api", "ok")
	m.IncHealthAction("api", "rolled_back_to_stable")
	m.ObservePassDuration(2 * time.Second)
	m.ObserveLeaseWait(10 * time.Millisecond)
	m.IncNotificationErrors()
	m.SetLastPassTimestamp(time.Unix(100, 0))

	if got := testutil.ToFloat64(m.dispatchesTotal.WithLabelValues("Success")); got != 2 {
		t.Fatalf("expected 2 dispatches, got %v", got)
	}
	if got := testutil.ToFloat64(m.deploymentsTotal.WithLabelValues("api", "ok")); got != 1 {
		t.Fatalf("expected 1 deployment, got %v", got)
	}
	if got := testutil.ToFloat64(m.healthActionsTotal.WithLabelValues("api", "rolled_back_to_stable")); got != 1 {
		t.Fatalf("expected 1 rollback, got %v", got)
	}
	if got := testutil.ToFloat64(m.notificationErrorsTotal); got != 1 {
		t.Fatalf("expected 1 notification error, got %v", got)
	}
	if got := testutil.ToFloat64(m.lastPassGauge); got != 100 {
		t.Fatalf("expected last pass 100, got %v", got)
	}
	if count := testutil.CollectAndCount(m.passDurationSeconds); count == 0 {
		t.Fatalf("expected pass duration histogram to be collected")
	}
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.IncDispatch("Failed")
	m.IncDeployment("api", "ok")
	m.IncHealthAction("api", "healthy")
	m.ObservePassDuration(time.Second)
	m.ObserveLeaseWait(time.Second)
	m.IncNotificationErrors()
	m.SetLastPassTimestamp(time.Now())
	if m.Handler() == nil {
		t.Fatalf("expected default handler for nil metrics")
	}
}

func TestMetricsHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.IncDeployment("web", "health_check_failure")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `smso_deployments_total{kind="health_check_failure",service="web"} 1`) {
		t.Fatalf("expected deployment counter in output:\n%s", rec.Body.String())
	}
}
