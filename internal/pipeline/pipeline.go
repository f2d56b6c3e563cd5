// Package pipeline routes live measurements through per-device detectors and
// fans detections out to the archive, the time-series database, and alert
// sinks.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"sunwatch/internal/alert"
	"sunwatch/internal/detect"
	"sunwatch/internal/influx"
	"sunwatch/internal/logging"
	"sunwatch/internal/measurement"
	"sunwatch/internal/metrics"
	"sunwatch/internal/store"
)

// SeriesWriter persists live readings and anomaly markings to the
// time-series database.
type SeriesWriter interface {
	WriteMeasurement(ctx context.Context, device string, m measurement.Measurement) error
	WriteMarks(ctx context.Context, marks []influx.Mark) error
}

// Archiver persists confirmed detections locally.
type Archiver interface {
	InsertDetection(d *store.Detection) (int64, error)
}

// Options configures the pipeline's collaborators. Any of them may be nil,
// in which case that concern is skipped.
type Options struct {
	Params detect.Params

	// Series receives live measurements and detection markings.
	Series SeriesWriter

	// WriteMeasurements controls whether live readings are forwarded to
	// Series as they arrive.
	WriteMeasurements bool

	// Archive receives confirmed detections.
	Archive Archiver

	// Alerts receives confirmed detections.
	Alerts alert.Sink

	// Metrics receives pipeline instrumentation.
	Metrics *metrics.PipelineMetrics

	Log *logging.Logger
}

// deviceState tracks one sensor's detector and delivery bookkeeping.
type deviceState struct {
	detector *detect.Detector
	lastSeen time.Time

	// alerted is true while the current spike has already been announced,
	// so a long exposure produces one alert rather than one per cycle.
	alerted bool
}

// Pipeline implements ingest.Handler over a set of per-device detectors.
type Pipeline struct {
	opts Options
	log  *logging.Logger

	mu      sync.Mutex
	params  detect.Params
	devices map[string]*deviceState
}

// New creates a pipeline.
func New(opts Options) (*Pipeline, error) {
	if err := opts.Params.Validate(); err != nil {
		return nil, err
	}
	log := opts.Log
	if log == nil {
		log = logging.Default()
	}
	return &Pipeline{
		opts:    opts,
		log:     log.With("component", "pipeline"),
		params:  opts.Params,
		devices: make(map[string]*deviceState),
	}, nil
}

// UpdateParams replaces the detector parameters used for devices seen from
// now on. Running detectors keep the parameters they were created with;
// their buffered history was accumulated under them.
func (p *Pipeline) UpdateParams(params detect.Params) error {
	if err := params.Validate(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.params = params
	return nil
}

// Devices returns the number of devices with a running detector.
func (p *Pipeline) Devices() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.devices)
}

// HandleMeasurement runs one full detection cycle for a live reading.
func (p *Pipeline) HandleMeasurement(ctx context.Context, device string, m measurement.Measurement) {
	p.mu.Lock()
	defer p.mu.Unlock()

	state, err := p.deviceStateLocked(device)
	if err != nil {
		p.log.Error("detector setup failed", "device", device, "error", err)
		return
	}

	if p.opts.Metrics != nil {
		p.opts.Metrics.RecordMeasurement(m.Time)
		if !state.lastSeen.IsZero() {
			p.opts.Metrics.RecordMeasurementInterval(m.Time.Sub(state.lastSeen))
		}
	}
	state.lastSeen = m.Time

	if p.opts.Series != nil && p.opts.WriteMeasurements {
		start := time.Now()
		err := p.opts.Series.WriteMeasurement(ctx, device, m)
		if p.opts.Metrics != nil {
			p.opts.Metrics.RecordInfluxWrite(time.Since(start), err)
		}
		if err != nil {
			p.log.Error("measurement write failed", "device", device, "error", err)
		}
	}

	evalStart := time.Now()
	res, err := state.detector.Process(m)
	if p.opts.Metrics != nil {
		p.opts.Metrics.RecordEvaluation(time.Since(evalStart))
	}
	if err != nil {
		if errors.Is(err, detect.ErrOutOfOrder) {
			if p.opts.Metrics != nil {
				p.opts.Metrics.RecordOutOfOrder()
			}
			p.log.Warn("measurement out of order, dropped", "device", device, "time", m.Time)
			return
		}
		p.log.Error("detection cycle failed", "device", device, "error", err)
		return
	}

	p.publishGaugesLocked(state)
	p.recordOutcome(device, res)

	switch {
	case res.Detected && !state.alerted:
		state.alerted = true
		p.deliverDetection(ctx, device, state, res, m.Time)
	case !res.Detected && res.State != detect.StateCooldown:
		// Cooldown keeps the spike alive for one cycle; anything else
		// ends it.
		state.alerted = false
	}
}

// HandleEvent logs operational device traffic.
func (p *Pipeline) HandleEvent(ctx context.Context, msg *measurement.DeviceMessage) {
	switch msg.Status {
	case measurement.StatusError, measurement.StatusFrcError,
		measurement.StatusSetOffsetError, measurement.StatusGetOffsetError:
		p.log.Warn("device reported error", "device", msg.Device, "status", msg.Status, "detail", msg.Detail)
	case measurement.StatusAlive:
		uptime := uint64(0)
		if msg.UptimeSeconds != nil {
			uptime = *msg.UptimeSeconds
		}
		p.log.Debug("device alive", "device", msg.Device, "uptime_seconds", uptime)
	default:
		p.log.Info("device event", "device", msg.Device, "status", msg.Status)
	}
}

func (p *Pipeline) deviceStateLocked(device string) (*deviceState, error) {
	state, ok := p.devices[device]
	if !ok {
		det, err := detect.New(p.params)
		if err != nil {
			return nil, err
		}
		state = &deviceState{detector: det}
		p.devices[device] = state
		p.log.Info("tracking new device", "device", device)
		if p.opts.Metrics != nil {
			p.opts.Metrics.SetActiveDevices(len(p.devices))
		}
	}
	return state, nil
}

func (p *Pipeline) publishGaugesLocked(state *deviceState) {
	if p.opts.Metrics == nil {
		return
	}
	p.opts.Metrics.SetBufferedMeasurements(state.detector.BufferLen())
	if temp, humidity, ok := state.detector.Baseline(); ok {
		p.opts.Metrics.SetBaseline(temp, humidity)
	}
}

func (p *Pipeline) recordOutcome(device string, res detect.Result) {
	switch res.Reason {
	case detect.ReasonInsufficientData, detect.ReasonGapTooLarge:
		if p.opts.Metrics != nil {
			p.opts.Metrics.RecordWindowRejected(string(res.Reason))
		}
		p.log.Debug("window not evaluated",
			"device", device,
			"reason", res.Reason,
			"points", res.MeasurementsInWindow,
			"largest_gap", res.LargestGap,
		)
	case detect.ReasonOnset:
		if p.opts.Metrics != nil {
			p.opts.Metrics.RecordOnset(res.Confidence)
		}
		p.log.Info("possible sunlight onset",
			"device", device,
			"confidence", res.Confidence,
			"temp_deviation", res.TempDeviation,
			"humidity_deviation", res.HumidityDeviation,
			"correlation", res.Correlation,
		)
	}
}

// deliverDetection archives, marks, and announces a newly confirmed spike.
func (p *Pipeline) deliverDetection(ctx context.Context, device string, state *deviceState, res detect.Result, at time.Time) {
	startedAt := state.detector.SpikeStartedAt()
	if p.opts.Metrics != nil {
		p.opts.Metrics.RecordDetection(res.Confidence)
	}
	p.log.Warn("sunlight exposure confirmed",
		"device", device,
		"confidence", res.Confidence,
		"started_at", startedAt,
		"temp_deviation", res.TempDeviation,
		"humidity_deviation", res.HumidityDeviation,
		"correlation", res.Correlation,
	)

	if p.opts.Archive != nil {
		_, err := p.opts.Archive.InsertDetection(&store.Detection{
			Device:            device,
			StartedAt:         startedAt,
			ConfirmedAt:       at,
			Confidence:        res.Confidence,
			TempDeviation:     res.TempDeviation,
			HumidityDeviation: res.HumidityDeviation,
			Correlation:       res.Correlation,
			WindowPoints:      res.MeasurementsInWindow,
			LargestGap:        res.LargestGap,
		})
		if err != nil {
			p.log.Error("archive write failed", "device", device, "error", err)
			if p.opts.Metrics != nil {
				p.opts.Metrics.RecordError()
			}
		}
	}

	if p.opts.Series != nil {
		start := time.Now()
		err := p.opts.Series.WriteMarks(ctx, []influx.Mark{{
			Time:       at,
			Device:     device,
			Sunlight:   true,
			Confidence: res.Confidence,
		}})
		if p.opts.Metrics != nil {
			p.opts.Metrics.RecordInfluxWrite(time.Since(start), err)
		}
		if err != nil {
			p.log.Error("mark write failed", "device", device, "error", err)
		}
	}

	if p.opts.Alerts != nil {
		a := alert.Alert{
			Device:            device,
			StartedAt:         startedAt,
			ConfirmedAt:       at,
			Confidence:        res.Confidence,
			TempDeviation:     res.TempDeviation,
			HumidityDeviation: res.HumidityDeviation,
			Correlation:       res.Correlation,
		}
		if err := p.opts.Alerts.Notify(ctx, a); err != nil {
			p.log.Error("alert delivery failed", "device", device, "error", err)
		} else if p.opts.Metrics != nil {
			p.opts.Metrics.RecordAlert()
		}
	}
}
