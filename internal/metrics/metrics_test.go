package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// ============================================================
// Counter and gauge basics
// ============================================================

func TestCounter(t *testing.T) {
	c := NewCounter("test_total", "help", nil)
	c.Inc()
	c.Add(4)
	if got := c.Value(); got != 5 {
		t.Errorf("counter = %d, want 5", got)
	}
}

func TestGauge(t *testing.T) {
	g := NewGauge("test_gauge", "help", nil)
	g.Set(2.5)
	g.Add(0.5)
	if got := g.Value(); got != 3.0 {
		t.Errorf("gauge = %v, want 3.0", got)
	}
	g.Dec()
	if got := g.Value(); got != 2.0 {
		t.Errorf("gauge after Dec = %v, want 2.0", got)
	}
}

func TestGaugeSetInt(t *testing.T) {
	g := NewGauge("test_gauge", "help", nil)
	g.SetInt(42)
	if got := g.Value(); got != 42.0 {
		t.Errorf("gauge = %v, want 42", got)
	}
}

// ============================================================
// Histograms
// ============================================================

func TestHistogramObserve(t *testing.T) {
	h := NewHistogram("test_seconds", "help", nil, []float64{1, 5, 10})
	h.Observe(0.5)
	h.Observe(3)
	h.Observe(20)

	if got := h.Count(); got != 3 {
		t.Errorf("count = %d, want 3", got)
	}
	if got := h.Sum(); got != 23.5 {
		t.Errorf("sum = %v, want 23.5", got)
	}
	if got := h.Mean(); got < 7.8 || got > 7.9 {
		t.Errorf("mean = %v, want ~7.83", got)
	}
}

func TestHistogramTimer(t *testing.T) {
	h := NewHistogram("test_seconds", "help", nil, DurationBuckets)
	timer := h.Timer()
	time.Sleep(time.Millisecond)
	d := timer.Stop()

	if d <= 0 {
		t.Error("timer should return a positive duration")
	}
	if h.Count() != 1 {
		t.Errorf("count = %d, want 1", h.Count())
	}
}

// ============================================================
// Registry
// ============================================================

func TestRegistryFullName(t *testing.T) {
	r := NewRegistry("sunwatch", "")
	c := r.RegisterCounter("measurements_total", "help", nil)
	if c.Name() != "sunwatch_measurements_total" {
		t.Errorf("name = %q", c.Name())
	}
}

func TestRegistryDedup(t *testing.T) {
	r := NewRegistry("sunwatch", "")
	a := r.RegisterCounter("x_total", "help", nil)
	b := r.RegisterCounter("x_total", "help", nil)
	if a != b {
		t.Error("same name and labels should return the same counter")
	}
}

func TestRegistryLabelledVariants(t *testing.T) {
	r := NewRegistry("sunwatch", "")
	a := r.RegisterCounter("windows_rejected_total", "help", Labels{"reason": "gap_too_large"})
	b := r.RegisterCounter("windows_rejected_total", "help", Labels{"reason": "insufficient_data"})
	if a == b {
		t.Error("different label sets should get distinct counters")
	}

	a.Inc()
	a.Inc()
	b.Inc()

	got := r.GetCounter("windows_rejected_total", Labels{"reason": "gap_too_large"})
	if got == nil || got.Value() != 2 {
		t.Errorf("labelled lookup failed: %+v", got)
	}
}

func TestWritePrometheus(t *testing.T) {
	r := NewRegistry("sunwatch", "")
	r.RegisterCounter("detections_total", "Confirmed detections", nil).Add(3)
	r.RegisterGauge("last_confidence", "Confidence", nil).Set(0.75)
	r.RegisterCounter("windows_rejected_total", "Rejected windows", Labels{"reason": "gap_too_large"}).Inc()

	var sb strings.Builder
	if err := r.WritePrometheus(&sb); err != nil {
		t.Fatal(err)
	}
	out := sb.String()

	for _, want := range []string{
		"# TYPE sunwatch_detections_total counter",
		"sunwatch_detections_total 3",
		"sunwatch_last_confidence 0.75",
		`sunwatch_windows_rejected_total{reason="gap_too_large"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestHTTPHandler(t *testing.T) {
	r := NewRegistry("sunwatch", "")
	r.RegisterCounter("measurements_total", "help", nil).Inc()

	srv := httptest.NewServer(r.HTTPHandler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("content type = %q", ct)
	}

	req, _ := http.NewRequest("GET", srv.URL, nil)
	req.Header.Set("Accept", "application/json")
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp2.Body.Close()
	if ct := resp2.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("json content type = %q", ct)
	}
}

// ============================================================
// Pipeline metric set
// ============================================================

func TestPipelineMetrics(t *testing.T) {
	r := NewRegistry("sunwatch", "")
	m := NewPipelineMetrics(r)

	m.RecordMeasurement(time.Unix(1700000000, 0))
	m.RecordMeasurement(time.Unix(1700000300, 0))
	m.RecordWindowRejected("gap_too_large")
	m.RecordWindowRejected("gap_too_large")
	m.RecordWindowRejected("insufficient_data")
	m.RecordDetection(0.8)

	if m.MeasurementsTotal.Value() != 2 {
		t.Errorf("measurements = %d, want 2", m.MeasurementsTotal.Value())
	}
	if m.LastMeasurementTs.Value() != 1700000300 {
		t.Errorf("last ts = %v", m.LastMeasurementTs.Value())
	}
	if m.DetectionsTotal.Value() != 1 {
		t.Errorf("detections = %d, want 1", m.DetectionsTotal.Value())
	}
	if m.LastConfidence.Value() != 0.8 {
		t.Errorf("confidence = %v, want 0.8", m.LastConfidence.Value())
	}

	gap := r.GetCounter("windows_rejected_total", Labels{"reason": "gap_too_large"})
	if gap == nil || gap.Value() != 2 {
		t.Errorf("gap_too_large counter wrong: %+v", gap)
	}

	snap := m.Snapshot()
	if snap["measurements_total"].(uint64) != 2 {
		t.Errorf("snapshot measurements = %v", snap["measurements_total"])
	}
}
