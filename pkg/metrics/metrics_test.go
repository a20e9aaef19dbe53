package metrics

import (
	"testing"
	"time"
)

func TestNoopBeforeInit(t *testing.T) {
	Incr("not_initialized")
	pts, err := Query("not_initialized", time.Now().Add(-time.Minute), time.Now())
	if err != nil || pts != nil {
		t.Fatalf("got pts=%v err=%v", pts, err)
	}
}

func TestGaugeRoundTrip(t *testing.T) {
	if err := InitMetrics(t.TempDir()); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() { _ = Close() })

	SetGauge("sessions_connected", 4)
	Incr("webhook_delivered")

	start := time.Now().Add(-time.Minute)
	end := time.Now().Add(time.Minute)
	pts, err := Query("sessions_connected", start, end)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(pts) != 1 || pts[0].Value != 4 {
		t.Fatalf("points got=%v", pts)
	}

	pts, err = Query("absent_metric", start, end)
	if err != nil || len(pts) != 0 {
		t.Fatalf("absent metric got=%v err=%v", pts, err)
	}
}
