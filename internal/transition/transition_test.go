package transition

import (
	"testing"

	"github.com/nholik/smso/internal/health"
)

func TestDetectServiceTransitions_FirstRun(t *testing.T) {
	current := []health.Record{
		{Service: "ok", Action: health.ActionHealthy, Health: "ok"},
		{Service: "bad", Action: health.ActionNoStableImage, Health: "__HEALTH_FAIL__", Result: health.NoStableResult},
	}

	transitions := DetectServiceTransitions(nil, current)

	if len(transitions) != 1 {
		t.Fatalf("expected 1 transition, got %d", len(transitions))
	}
	if transitions[0].Name != "bad" {
		t.Fatalf("expected transition for bad, got %s", transitions[0].Name)
	}
	if transitions[0].CurrentStatus != health.StatusFailed {
		t.Fatalf("expected failed status, got %s", transitions[0].CurrentStatus)
	}
	if transitions[0].PreviousStatus != "" {
		t.Fatalf("expected empty previous status, got %s", transitions[0].PreviousStatus)
	}
	if len(transitions[0].Reasons) != 2 || transitions[0].Reasons[0] != health.NoStableResult {
		t.Fatalf("unexpected reasons %v", transitions[0].Reasons)
	}
}

func TestDetectServiceTransitions_NoOp(t *testing.T) {
	prev := []health.Record{{Service: "api", Action: health.ActionNoStableImage}}
	current := []health.Record{{Service: "api", Action: health.ActionNoStableImage}}

	if transitions := DetectServiceTransitions(prev, current); len(transitions) != 0 {
		t.Fatalf("expected no transitions, got %d", len(transitions))
	}
}

func TestDetectServiceTransitions_Recovery(t *testing.T) {
	prev := []health.Record{{Service: "api", Action: health.ActionNoStableImage}}
	current := []health.Record{{Service: "api", Action: health.ActionHealthy}}

	transitions := DetectServiceTransitions(prev, current)
	if len(transitions) != 1 {
		t.Fatalf("expected 1 transition, got %d", len(transitions))
	}
	change := transitions[0]
	if change.PreviousStatus != health.StatusFailed || change.CurrentStatus != health.StatusOK {
		t.Fatalf("unexpected statuses %s -> %s", change.PreviousStatus, change.CurrentStatus)
	}
	if change.PreviousAction != health.ActionNoStableImage || change.CurrentAction != health.ActionHealthy {
		t.Fatalf("unexpected actions %s -> %s", change.PreviousAction, change.CurrentAction)
	}
	if len(change.Reasons) != 0 {
		t.Fatalf("expected no reasons for recovery, got %v", change.Reasons)
	}
}

func TestDetectServiceTransitions_RepeatedRollbackReported(t *testing.T) {
	prev := []health.Record{{Service: "api", Action: health.ActionRolledBack}}
	current := []health.Record{{Service: "api", Action: health.ActionRolledBack, Health: "__HEALTH_FAIL__"}}

	transitions := DetectServiceTransitions(prev, current)
	if len(transitions) != 1 {
		t.Fatalf("expected rollback to be reported, got %d", len(transitions))
	}
	if transitions[0].CurrentStatus != health.StatusDegraded {
		t.Fatalf("expected degraded, got %s", transitions[0].CurrentStatus)
	}
}

func TestDetectServiceTransitions_NewHealthyServiceIgnored(t *testing.T) {
	prev := []health.Record{{Service: "api", Action: health.ActionHealthy}}
	current := []health.Record{
		{Service: "api", Action: health.ActionHealthy},
		{Service: "new", Action: health.ActionHealthy},
		{Service: "busy", Action: health.ActionSkippedBusy, Result: "lease held"},
	}

	transitions := DetectServiceTransitions(prev, current)
	if len(transitions) != 1 || transitions[0].Name != "busy" {
		t.Fatalf("expected only busy service, got %+v", transitions)
	}
	if transitions[0].Reasons[0] != "lease held" {
		t.Fatalf("unexpected reasons %v", transitions[0].Reasons)
	}
}

func TestDetectServiceTransitions_KeepsPassOrder(t *testing.T) {
	current := []health.Record{
		{Service: "zeta", Action: health.ActionNoStableImage},
		{Service: "alpha", Action: health.ActionNoStableImage},
	}

	transitions := DetectServiceTransitions(nil, current)
	if len(transitions) != 2 || transitions[0].Name != "zeta" || transitions[1].Name != "alpha" {
		t.Fatalf("expected pass order, got %+v", transitions)
	}
}

func TestDeployFailed(t *testing.T) {
	change := DeployFailed("web", "Deploy failed: web health check failed.")
	if change.CurrentStatus != health.StatusFailed || change.Name != "web" {
		t.Fatalf("unexpected transition %+v", change)
	}
	if len(change.Reasons) != 1 || change.Reasons[0] != "Deploy failed: web health check failed." {
		t.Fatalf("unexpected reasons %v", change.Reasons)
	}
}
