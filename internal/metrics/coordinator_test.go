package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterCoordinatorMetrics_Idempotent(t *testing.T) {
	RegisterCoordinatorMetrics()
	RegisterCoordinatorMetrics()

	CyclesTotal.WithLabelValues("completed").Inc()
	if v := testutil.ToFloat64(CyclesTotal.WithLabelValues("completed")); v < 1 {
		t.Errorf("expected cycles_total >= 1, got %f", v)
	}

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var found bool
	for _, f := range families {
		if f.GetName() == "matchd_cycles_total" {
			found = true
		}
	}
	if !found {
		t.Error("matchd_cycles_total not registered")
	}
}
