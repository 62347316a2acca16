package metric

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegistry_Counters(t *testing.T) {
	r := NewRegistry()

	r.TokenIssued("qr_checkin")
	r.TokenIssued("qr_checkin")
	r.TokenConsumed("qr_checkin", "ok")
	r.TokenValidated("learner_access", "CT-TOKN-4100")
	r.TokenRevoked("document_signature")
	r.AuditDropped()

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"issued", testutil.ToFloat64(r.TokensIssued.WithLabelValues("qr_checkin")), 2},
		{"consumed", testutil.ToFloat64(r.TokensConsumed.WithLabelValues("qr_checkin", "ok")), 1},
		{"validated", testutil.ToFloat64(r.TokensValidated.WithLabelValues("learner_access", "CT-TOKN-4100")), 1},
		{"revoked", testutil.ToFloat64(r.TokensRevoked.WithLabelValues("document_signature")), 1},
		{"audit dropped", testutil.ToFloat64(r.AuditDroppedCnt), 1},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestRegistry_Proximity(t *testing.T) {
	r := NewRegistry()
	r.ProximityChecked("qr_checkin", 80, true)
	r.ProximityChecked("qr_checkin", 200, false)
	r.ProximityChecked("qr_checkin", -1, false)

	if got := testutil.ToFloat64(r.ProximityChecks.WithLabelValues("qr_checkin", "fail")); got != 2 {
		t.Errorf("fail checks = %v, want 2", got)
	}
	if n := testutil.CollectAndCount(r.ProximityDistance); n != 1 {
		t.Errorf("distance histogram series = %d, want 1", n)
	}
}

func TestRegistry_Sweep(t *testing.T) {
	r := NewRegistry()
	r.SweepCompleted(3, 2, 1, 0, 10*time.Millisecond)
	r.SweepCompleted(0, 0, 0, 1, time.Millisecond)

	if got := testutil.ToFloat64(r.SweepRuns); got != 2 {
		t.Errorf("runs = %v", got)
	}
	if got := testutil.ToFloat64(r.SweepExpired.WithLabelValues("token")); got != 3 {
		t.Errorf("expired tokens = %v", got)
	}
	if got := testutil.ToFloat64(r.SweepFailures); got != 1 {
		t.Errorf("failures = %v", got)
	}
}

func TestRegistry_Handler(t *testing.T) {
	r := NewRegistry()
	r.ObserveHTTP("POST", "/tokens", 201, 5*time.Millisecond)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		`captoken_http_requests_total{method="POST",route="/tokens",status="201"} 1`,
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestNewRegistry_Independent(t *testing.T) {
	a, b := NewRegistry(), NewRegistry()
	a.TokenIssued("qr_checkin")
	if got := testutil.ToFloat64(b.TokensIssued.WithLabelValues("qr_checkin")); got != 0 {
		t.Errorf("registries share state: %v", got)
	}
}
