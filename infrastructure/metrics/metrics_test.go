package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveCountsByOutcome(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.Observe("recordSale", "")
	m.Observe("recordSale", "INSUFFICIENT_QUANTITY")
	m.Observe("recordSale", "INSUFFICIENT_QUANTITY")

	if got := testutil.ToFloat64(m.Operations.WithLabelValues("recordSale", "ok")); got != 1 {
		t.Fatalf("expected 1 ok, got %v", got)
	}
	if got := testutil.ToFloat64(m.Operations.WithLabelValues("recordSale", "INSUFFICIENT_QUANTITY")); got != 2 {
		t.Fatalf("expected 2 failures, got %v", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Observe("createBatch", "")
	m.CacheHit("detail")
	m.CacheMiss("detail")
	m.CacheInvalidated("prefix", 3)
	m.CacheError("get")
}
