package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRegisterIdempotentAndCountersWork(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := Register(reg); err != nil {
		t.Fatalf("second register: %v", err)
	}

	IncStart("dev")
	IncStart("dev")
	IncSpawnFailure("dev")
	IncStop("dev")
	IncKill("dev")
	IncURLDetected()
	SetRunning(2)
	ObserveRunDuration("dev", 12)
	RecordBatchTask("install", "success", 3.5)
	SetLimiter(1, 4)
	IncEventPublished("script-started")
	IncEventDropped()
	SetSubscribers(3)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	wantNames := map[string]bool{
		"devdash_script_starts_total":         false,
		"devdash_script_spawn_failures_total": false,
		"devdash_script_stops_total":          false,
		"devdash_script_kills_total":          false,
		"devdash_script_urls_detected_total":  false,
		"devdash_script_running":              false,
		"devdash_script_run_duration_seconds": false,
		"devdash_batch_tasks_total":           false,
		"devdash_batch_task_duration_seconds": false,
		"devdash_limiter_in_flight":           false,
		"devdash_limiter_waiting":             false,
		"devdash_events_published_total":      false,
		"devdash_events_dropped_total":        false,
		"devdash_events_subscribers":          false,
	}
	for _, mf := range mfs {
		n := mf.GetName()
		if _, ok := wantNames[n]; ok {
			wantNames[n] = true
			if len(mf.GetMetric()) == 0 {
				t.Fatalf("metric %s has no samples", n)
			}
		}
	}
	for n, ok := range wantNames {
		if !ok {
			t.Fatalf("expected to find metric %s", n)
		}
	}
}

func TestHandlerForServesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewUsageCollector(UsageConfig{Enabled: true}, nil)
	if err := c.RegisterMetrics(reg); err != nil {
		t.Fatalf("register: %v", err)
	}
	c.Collect([]Target{{Unit: "/apps/web", Script: "dev", PID: os.Getpid()}})
	srv := httptest.NewServer(HandlerFor(reg))
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	b, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(b), `devdash_script_memory_rss_bytes{script="dev",unit="/apps/web"}`) {
		t.Fatalf("metrics output missing gauge: %s", b)
	}
}

func TestUsageCollectorSamplesSelf(t *testing.T) {
	c := NewUsageCollector(UsageConfig{Enabled: true}, nil)
	reg := prometheus.NewRegistry()
	if err := c.RegisterMetrics(reg); err != nil {
		t.Fatalf("register: %v", err)
	}
	self := Target{Unit: "/apps/web", Script: "dev", PID: os.Getpid()}
	c.Collect([]Target{self, {Unit: "/apps/none", Script: "dev", PID: 0}})
	got := c.Latest()
	if len(got) != 1 {
		t.Fatalf("expected one sample, got %+v", got)
	}
	if got[0].MemoryRSS == 0 || got[0].Processes < 1 || got[0].Unit != "/apps/web" {
		t.Fatalf("unexpected sample: %+v", got[0])
	}

	c.Collect(nil)
	if len(c.Latest()) != 0 {
		t.Fatalf("samples for vanished targets should be dropped")
	}
	mfs, _ := reg.Gather()
	for _, mf := range mfs {
		if len(mf.GetMetric()) != 0 {
			t.Fatalf("stale gauge %s kept", mf.GetName())
		}
	}
}

func TestUsageCollectorDisabled(t *testing.T) {
	c := NewUsageCollector(UsageConfig{}, nil)
	if c.Enabled() {
		t.Fatalf("collector should be disabled")
	}
	if err := c.RegisterMetrics(prometheus.NewRegistry()); err != nil {
		t.Fatalf("register: %v", err)
	}
	c.Start(t.Context(), func(ctx context.Context) []Target { return nil })
	c.Stop()
}
