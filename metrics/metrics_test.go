package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.ObserveRequest("completed", 120*time.Millisecond)
	c.ObserveRequest("completed", 80*time.Millisecond)
	c.ObserveRequest("superseded", time.Millisecond)
	c.RecordCacheLookup(true)
	c.RecordCacheLookup(false)
	c.RecordCacheLookup(false)
	c.Inflight(1)
	c.RecordTimeout("completion", false)
	c.RecordBackendError("rate_limited")
	c.SetSessions(3)

	if got := testutil.ToFloat64(c.RequestsTotal.WithLabelValues("completed")); got != 2 {
		t.Errorf("expected 2 completed requests, got %v", got)
	}
	if got := testutil.ToFloat64(c.CacheLookupsTotal.WithLabelValues("miss")); got != 2 {
		t.Errorf("expected 2 misses, got %v", got)
	}
	if got := testutil.ToFloat64(c.InflightRequests); got != 1 {
		t.Errorf("expected 1 in flight, got %v", got)
	}
	if got := testutil.ToFloat64(c.TimeoutsTotal.WithLabelValues("completion", "false")); got != 1 {
		t.Errorf("expected 1 timeout, got %v", got)
	}
	if got := testutil.ToFloat64(c.Sessions); got != 3 {
		t.Errorf("expected 3 sessions, got %v", got)
	}
	if n := testutil.CollectAndCount(c.RequestDuration); n != 2 {
		t.Errorf("expected 2 duration series, got %d", n)
	}
}

func TestNilCollectorsAreNoops(t *testing.T) {
	var c *Collectors
	c.ObserveRequest("completed", time.Second)
	c.RecordCacheLookup(true)
	c.Inflight(1)
	c.RecordTimeout("edit", true)
	c.RecordBackendError("api_error")
	c.SetSessions(1)
}

func TestDuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	defer func() {
		if recover() == nil {
			t.Error("expected registering twice on one registry to panic")
		}
	}()
	New(reg)
}
