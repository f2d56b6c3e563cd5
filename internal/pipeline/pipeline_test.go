package pipeline

import (
	"context"
	"testing"
	"time"

	"sunwatch/internal/alert"
	"sunwatch/internal/detect"
	"sunwatch/internal/influx"
	"sunwatch/internal/measurement"
	"sunwatch/internal/metrics"
	"sunwatch/internal/store"
)

type fakeSeries struct {
	measurements []measurement.Measurement
	marks        []influx.Mark
}

func (f *fakeSeries) WriteMeasurement(ctx context.Context, device string, m measurement.Measurement) error {
	f.measurements = append(f.measurements, m)
	return nil
}

func (f *fakeSeries) WriteMarks(ctx context.Context, marks []influx.Mark) error {
	f.marks = append(f.marks, marks...)
	return nil
}

type fakeArchive struct {
	detections []store.Detection
}

func (f *fakeArchive) InsertDetection(d *store.Detection) (int64, error) {
	f.detections = append(f.detections, *d)
	return int64(len(f.detections)), nil
}

type fakeSink struct {
	alerts []alert.Alert
}

func (f *fakeSink) Notify(ctx context.Context, a alert.Alert) error {
	f.alerts = append(f.alerts, a)
	return nil
}

var daylight = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

// spikeMeasurement produces the i-th point of a sunlight-like spike at a
// 10-minute cadence.
func spikeMeasurement(start time.Time, i int) measurement.Measurement {
	at := start.Add(time.Duration(i) * 10 * time.Minute)
	h := at.Sub(start).Hours()
	return measurement.Measurement{
		Time:        at,
		Temperature: 22 + 2.5*h,
		Humidity:    45 - 5*h,
		CO2:         650,
	}
}

func newTestPipeline(t *testing.T, series *fakeSeries, archive *fakeArchive, sink *fakeSink) (*Pipeline, *metrics.PipelineMetrics) {
	t.Helper()
	pm := metrics.NewPipelineMetrics(metrics.NewRegistry("sunwatch", ""))
	opts := Options{
		Params:            detect.DefaultParams(),
		WriteMeasurements: true,
		Metrics:           pm,
	}
	// Assign the fakes only when present so a nil pointer does not become a
	// non-nil interface value in Options.
	if series != nil {
		opts.Series = series
	}
	if archive != nil {
		opts.Archive = archive
	}
	if sink != nil {
		opts.Alerts = sink
	}
	p, err := New(opts)
	if err != nil {
		t.Fatal(err)
	}
	return p, pm
}

func TestPipelineConfirmsSpikeOnce(t *testing.T) {
	series := &fakeSeries{}
	archive := &fakeArchive{}
	sink := &fakeSink{}
	p, pm := newTestPipeline(t, series, archive, sink)

	ctx := context.Background()
	for i := 0; i < 30; i++ {
		p.HandleMeasurement(ctx, "esp32-lab", spikeMeasurement(daylight, i))
	}

	if len(sink.alerts) != 1 {
		t.Fatalf("alerts = %d, want exactly 1 for a continuous spike", len(sink.alerts))
	}
	a := sink.alerts[0]
	if a.Device != "esp32-lab" {
		t.Errorf("alert device = %q", a.Device)
	}
	if a.Confidence <= 0 {
		t.Errorf("alert confidence = %v", a.Confidence)
	}
	if d := a.ConfirmedAt.Sub(a.StartedAt); d < 90*time.Minute {
		t.Errorf("spike persisted %v, confirmation requires at least 90m", d)
	}

	if len(archive.detections) != 1 {
		t.Fatalf("archived detections = %d, want 1", len(archive.detections))
	}
	if archive.detections[0].WindowPoints < 8 {
		t.Errorf("window points = %d", archive.detections[0].WindowPoints)
	}

	if len(series.marks) != 1 {
		t.Fatalf("marks = %d, want 1", len(series.marks))
	}
	if !series.marks[0].Sunlight {
		t.Error("mark should be flagged as sunlight")
	}

	if len(series.measurements) != 30 {
		t.Errorf("forwarded measurements = %d, want 30", len(series.measurements))
	}
	if pm.DetectionsTotal.Value() != 1 {
		t.Errorf("detections metric = %d", pm.DetectionsTotal.Value())
	}
	if pm.MeasurementsTotal.Value() != 30 {
		t.Errorf("measurements metric = %d", pm.MeasurementsTotal.Value())
	}
}

func TestPipelineFlatSeriesNeverAlerts(t *testing.T) {
	series := &fakeSeries{}
	archive := &fakeArchive{}
	sink := &fakeSink{}
	p, _ := newTestPipeline(t, series, archive, sink)

	ctx := context.Background()
	for i := 0; i < 30; i++ {
		at := daylight.Add(time.Duration(i) * 10 * time.Minute)
		p.HandleMeasurement(ctx, "esp32-lab", measurement.Measurement{
			Time: at, Temperature: 22, Humidity: 45, CO2: 650,
		})
	}

	if len(sink.alerts) != 0 {
		t.Errorf("alerts = %d, want 0", len(sink.alerts))
	}
	if len(archive.detections) != 0 {
		t.Errorf("detections = %d, want 0", len(archive.detections))
	}
	if len(series.marks) != 0 {
		t.Errorf("marks = %d, want 0", len(series.marks))
	}
}

func TestPipelineDropsOutOfOrder(t *testing.T) {
	series := &fakeSeries{}
	sink := &fakeSink{}
	p, pm := newTestPipeline(t, series, nil, sink)

	ctx := context.Background()
	p.HandleMeasurement(ctx, "esp32-lab", spikeMeasurement(daylight, 1))
	p.HandleMeasurement(ctx, "esp32-lab", spikeMeasurement(daylight, 0))

	if pm.OutOfOrderTotal.Value() != 1 {
		t.Errorf("out of order metric = %d, want 1", pm.OutOfOrderTotal.Value())
	}
	// The stale reading is still forwarded to storage; only detection
	// skips it.
	if len(series.measurements) != 2 {
		t.Errorf("forwarded measurements = %d, want 2", len(series.measurements))
	}
}

func TestPipelinePerDeviceIsolation(t *testing.T) {
	sink := &fakeSink{}
	p, _ := newTestPipeline(t, nil, nil, sink)

	ctx := context.Background()
	for i := 0; i < 30; i++ {
		p.HandleMeasurement(ctx, "esp32-attic", spikeMeasurement(daylight, i))
		at := daylight.Add(time.Duration(i) * 10 * time.Minute)
		p.HandleMeasurement(ctx, "esp32-cellar", measurement.Measurement{
			Time: at, Temperature: 18, Humidity: 60, CO2: 700,
		})
	}

	if p.Devices() != 2 {
		t.Errorf("devices = %d, want 2", p.Devices())
	}
	if len(sink.alerts) != 1 {
		t.Fatalf("alerts = %d, want 1", len(sink.alerts))
	}
	if sink.alerts[0].Device != "esp32-attic" {
		t.Errorf("alert device = %q, want esp32-attic", sink.alerts[0].Device)
	}
}

func TestPipelineUpdateParamsAppliesToNewDevices(t *testing.T) {
	sink := &fakeSink{}
	p, _ := newTestPipeline(t, nil, nil, sink)

	ctx := context.Background()
	for i := 0; i < 30; i++ {
		p.HandleMeasurement(ctx, "esp32-attic", spikeMeasurement(daylight, i))
	}
	if len(sink.alerts) != 1 {
		t.Fatalf("alerts = %d before reload, want 1", len(sink.alerts))
	}

	// Reloaded daylight hours exclude the morning spike; a device first seen
	// after the update is gated by them.
	params := detect.DefaultParams()
	params.DaylightStart = 0
	params.DaylightEnd = 1
	if err := p.UpdateParams(params); err != nil {
		t.Fatalf("UpdateParams failed: %v", err)
	}

	for i := 0; i < 30; i++ {
		p.HandleMeasurement(ctx, "esp32-porch", spikeMeasurement(daylight, i))
	}
	if len(sink.alerts) != 1 {
		t.Errorf("alerts = %d, the post-reload device must be gated by the new daylight hours", len(sink.alerts))
	}
	if p.Devices() != 2 {
		t.Errorf("devices = %d, want 2", p.Devices())
	}
}

func TestPipelineUpdateParamsRejectsInvalid(t *testing.T) {
	p, _ := newTestPipeline(t, nil, nil, nil)

	bad := detect.DefaultParams()
	bad.MinPoints = 1
	if err := p.UpdateParams(bad); err == nil {
		t.Fatal("UpdateParams accepted invalid parameters")
	}

	// The previous parameters stay in effect for devices seen afterwards.
	p.HandleMeasurement(context.Background(), "esp32-lab", spikeMeasurement(daylight, 0))
	if p.Devices() != 1 {
		t.Errorf("devices = %d, want 1", p.Devices())
	}
}

func TestPipelineHandleEventDoesNotTrack(t *testing.T) {
	p, _ := newTestPipeline(t, nil, nil, nil)

	uptime := uint64(300)
	p.HandleEvent(context.Background(), &measurement.DeviceMessage{
		Device:        "esp32-lab",
		Status:        measurement.StatusAlive,
		UptimeSeconds: &uptime,
	})

	if p.Devices() != 0 {
		t.Errorf("events should not create detectors, devices = %d", p.Devices())
	}
}
