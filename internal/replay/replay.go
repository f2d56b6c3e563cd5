// Package replay runs the detector over stored historical measurements and
// writes anomaly markings back to the time-series database.
package replay

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"sunwatch/internal/detect"
	"sunwatch/internal/influx"
	"sunwatch/internal/logging"
	"sunwatch/internal/measurement"
)

// Source supplies the stored measurement history.
type Source interface {
	AllMeasurements(ctx context.Context) ([]measurement.Row, error)
}

// Sink receives anomaly markings.
type Sink interface {
	WriteMarks(ctx context.Context, marks []influx.Mark) error
}

// Stats summarizes one historical run.
type Stats struct {
	// Rows is the number of measurements fetched.
	Rows int

	// Devices is the number of distinct devices seen.
	Devices int

	// OutOfOrder counts measurements skipped for breaking per-device
	// chronology.
	OutOfOrder int

	// Marked counts measurements flagged as possible sunlight exposure.
	Marked int
}

// progressEvery controls how often the run logs progress on large datasets.
const progressEvery = 1000

// MarkHistorical replays the full measurement history through a fresh
// detector per device and writes a marking for every evaluation where the
// spike was at least in onset.
func MarkHistorical(ctx context.Context, src Source, sink Sink, params detect.Params, log *logging.Logger) (Stats, error) {
	var stats Stats
	if log == nil {
		log = logging.Default()
	}

	rows, err := src.AllMeasurements(ctx)
	if err != nil {
		return stats, fmt.Errorf("fetch history: %w", err)
	}
	stats.Rows = len(rows)
	log.Info("fetched measurement history", "rows", len(rows))

	// The query returns global chronological order; per-device streams
	// keep that order after partitioning.
	detectors := make(map[string]*detect.Detector)
	var marks []influx.Mark

	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		det, ok := detectors[row.Device]
		if !ok {
			det, err = detect.New(params)
			if err != nil {
				return stats, fmt.Errorf("create detector: %w", err)
			}
			detectors[row.Device] = det
		}

		res, err := det.Process(row.Measurement)
		if err != nil {
			if errors.Is(err, detect.ErrOutOfOrder) {
				stats.OutOfOrder++
				continue
			}
			return stats, fmt.Errorf("process measurement at %s: %w", row.Time, err)
		}

		if res.Detected || res.Reason == detect.ReasonOnset {
			marks = append(marks, influx.Mark{
				Time:       row.Time,
				Device:     row.Device,
				Sunlight:   res.Detected,
				Confidence: res.Confidence,
			})
			stats.Marked++
		}

		if i > 0 && i%progressEvery == 0 {
			log.Debug("replay progress", "processed", i, "total", len(rows), "marked", stats.Marked)
		}
	}
	stats.Devices = len(detectors)

	if len(marks) > 0 {
		if err := sink.WriteMarks(ctx, marks); err != nil {
			return stats, fmt.Errorf("write marks: %w", err)
		}
	}

	log.Info("historical marking complete",
		"rows", stats.Rows,
		"devices", stats.Devices,
		"out_of_order", stats.OutOfOrder,
		"marked", stats.Marked,
	)
	return stats, nil
}

// SortRows orders rows chronologically, breaking ties by device. Sources are
// expected to return ordered data already; this is for callers assembling
// rows from elsewhere.
func SortRows(rows []measurement.Row) {
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Time.Equal(rows[j].Time) {
			return rows[i].Device < rows[j].Device
		}
		return rows[i].Time.Before(rows[j].Time)
	})
}
