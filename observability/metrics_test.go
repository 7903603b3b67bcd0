package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestVaultMetricsRecordOperation(t *testing.T) {
	m := Vault()
	before := testutil.ToFloat64(m.operations.WithLabelValues("borrow", "ok"))
	m.RecordOperation("borrow", "", 5*time.Millisecond)
	m.RecordOperation("borrow", "paused", time.Millisecond)
	if got := testutil.ToFloat64(m.operations.WithLabelValues("borrow", "ok")); got != before+1 {
		t.Fatalf("expected ok counter %v, got %v", before+1, got)
	}
	if got := testutil.ToFloat64(m.operations.WithLabelValues("borrow", "paused")); got < 1 {
		t.Fatalf("expected paused outcome recorded, got %v", got)
	}

	m.SetPendingWithdrawals(3)
	if got := testutil.ToFloat64(m.pending); got != 3 {
		t.Fatalf("expected pending 3, got %v", got)
	}
}

func TestModuleMetricsObserve(t *testing.T) {
	m := ModuleMetrics()
	m.Observe("vault", "vault_borrow", 0, time.Millisecond)
	m.Observe("vault", "vault_borrow", -32001, time.Millisecond)
	if got := testutil.ToFloat64(m.errors.WithLabelValues("vault", "vault_borrow", "-32001")); got < 1 {
		t.Fatalf("expected error recorded, got %v", got)
	}
	m.RecordThrottle("")
	if got := testutil.ToFloat64(m.throttles.WithLabelValues("unspecified")); got < 1 {
		t.Fatalf("expected throttle recorded, got %v", got)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var vault *VaultMetrics
	vault.RecordOperation("stake", "", time.Second)
	vault.SetPendingWithdrawals(1)
	var events *eventMetrics
	events.RecordEvent("vault.staked")
}
