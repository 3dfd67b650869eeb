package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersRecord(t *testing.T) {
	_, m := NewRegistry()

	m.Rounds.WithLabelValues("edit").Inc()
	m.Rounds.WithLabelValues("edit").Inc()
	m.ParseStrategyHits.WithLabelValues("brace_scan").Inc()
	m.Finalizations.WithLabelValues("success").Inc()

	if got := testutil.ToFloat64(m.Rounds.WithLabelValues("edit")); got != 2 {
		t.Errorf("expected 2 edit rounds, got %v", got)
	}
	if got := testutil.ToFloat64(m.ParseStrategyHits.WithLabelValues("brace_scan")); got != 1 {
		t.Errorf("expected 1 strategy hit, got %v", got)
	}
}

func TestIsolatedRegistries(t *testing.T) {
	_, a := NewRegistry()
	_, b := NewRegistry()

	a.Finalizations.WithLabelValues("failure").Inc()

	if got := testutil.ToFloat64(b.Finalizations.WithLabelValues("failure")); got != 0 {
		t.Errorf("registries should be isolated, got %v", got)
	}
}
