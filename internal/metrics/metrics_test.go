package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorderCounts(t *testing.T) {
	r := New(prometheus.NewRegistry())

	r.RecordCycle("ok")
	r.RecordCycle("ok")
	r.RecordDecision("1h", "fire")
	r.RecordNotice("alert", nil)
	r.RecordNotice("alert", errors.New("telegram down"))
	r.SetTrackedKeys(7)
	r.ObserveFetch(150 * time.Millisecond)

	if got := testutil.ToFloat64(r.cyclesTotal.WithLabelValues("ok")); got != 2 {
		t.Fatalf("expected 2 ok cycles, got %v", got)
	}
	if got := testutil.ToFloat64(r.notices.WithLabelValues("alert")); got != 2 {
		t.Fatalf("expected 2 alert notices, got %v", got)
	}
	if got := testutil.ToFloat64(r.dispatchErrs.WithLabelValues("alert")); got != 1 {
		t.Fatalf("expected 1 dispatch error, got %v", got)
	}
	if got := testutil.ToFloat64(r.trackedKeys); got != 7 {
		t.Fatalf("expected 7 tracked keys, got %v", got)
	}
}

func TestNilRecorderIsNoop(t *testing.T) {
	var r *Recorder
	r.RecordCycle("ok")
	r.RecordDecision("1h", "fire")
	r.RecordNotice("quiet", nil)
	r.SetTrackedKeys(1)
	r.ObserveFetch(time.Second)
	if r.Registry() != nil {
		t.Fatal("nil recorder should have no registry")
	}
}
