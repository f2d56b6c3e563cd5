// Package influx talks to an InfluxDB v3 server over its SQL query and line
// protocol write endpoints.
package influx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"sunwatch/internal/measurement"
)

// measurementTable is the table live sensor readings are written to.
const measurementTable = "scd40_data"

// anomalyTable is the measurement anomaly markings are written to.
const anomalyTable = "anomalies"

// writeBatchSize caps how many line protocol lines go into one request.
const writeBatchSize = 100

// Client is an InfluxDB v3 HTTP client.
type Client struct {
	baseURL  string
	token    string
	database string
	http     *http.Client
}

// NewClient creates a client for the given server. The base URL must include
// the scheme, e.g. "http://localhost:8181".
func NewClient(baseURL, token, database string, timeout time.Duration) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		token:    token,
		database: database,
		http:     &http.Client{Timeout: timeout},
	}
}

// row mirrors one record of a scd40_data query response.
type row struct {
	Time            string  `json:"time"`
	CO2PPM          float64 `json:"co2_ppm"`
	TemperatureC    float64 `json:"temperature_c"`
	HumidityPercent float64 `json:"humidity_percent"`
	Device          string  `json:"device"`
}

func (r row) toRow() (measurement.Row, error) {
	// The server omits the zone suffix on UTC timestamps.
	ts := r.Time
	if !strings.HasSuffix(ts, "Z") && !strings.Contains(ts, "+") {
		ts += "Z"
	}
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return measurement.Row{}, fmt.Errorf("parse row time %q: %w", r.Time, err)
	}
	return measurement.Row{
		Device: r.Device,
		Measurement: measurement.Measurement{
			Time:        t.UTC(),
			Temperature: r.TemperatureC,
			Humidity:    r.HumidityPercent,
			CO2:         int(r.CO2PPM),
		},
	}, nil
}

// query posts a SQL query and returns the raw response body.
func (c *Client) query(ctx context.Context, sql string) ([]byte, error) {
	body, err := json.Marshal(map[string]string{
		"db": c.database,
		"q":  sql,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal query: %w", err)
	}

	endpoint := fmt.Sprintf("%s/api/v3/query_sql?db=%s", c.baseURL, url.QueryEscape(c.database))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build query request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read query response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("query failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return data, nil
}

func (c *Client) queryRows(ctx context.Context, sql string) ([]measurement.Row, error) {
	data, err := c.query(ctx, sql)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var raw []row
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode query response: %w", err)
	}

	rows := make([]measurement.Row, 0, len(raw))
	for i, r := range raw {
		out, err := r.toRow()
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		rows = append(rows, out)
	}
	return rows, nil
}

// AllMeasurements fetches every stored measurement in chronological order.
func (c *Client) AllMeasurements(ctx context.Context) ([]measurement.Row, error) {
	sql := fmt.Sprintf(`SELECT time, co2_ppm, temperature_c, humidity_percent, device FROM %s ORDER BY time ASC`, measurementTable)
	return c.queryRows(ctx, sql)
}

// MeasurementsBetween fetches measurements in [start, end] in chronological
// order.
func (c *Client) MeasurementsBetween(ctx context.Context, start, end time.Time) ([]measurement.Row, error) {
	sql := fmt.Sprintf(
		`SELECT time, co2_ppm, temperature_c, humidity_percent, device FROM %s WHERE time >= '%s' AND time <= '%s' ORDER BY time ASC`,
		measurementTable,
		start.UTC().Format(time.RFC3339),
		end.UTC().Format(time.RFC3339),
	)
	return c.queryRows(ctx, sql)
}

// writeLP posts line protocol to the write endpoint.
func (c *Client) writeLP(ctx context.Context, body string) error {
	endpoint := fmt.Sprintf("%s/api/v3/write_lp?db=%s", c.baseURL, url.QueryEscape(c.database))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("build write request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("write request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("write failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return nil
}

// WriteMeasurement stores one live reading. A zero measurement time lets the
// server assign the timestamp.
func (c *Client) WriteMeasurement(ctx context.Context, device string, m measurement.Measurement) error {
	line := fmt.Sprintf("%s,device=%s co2_ppm=%d,temperature_c=%g,humidity_percent=%g",
		measurementTable, escapeTag(device), m.CO2, m.Temperature, m.Humidity)
	if !m.Time.IsZero() {
		line += fmt.Sprintf(" %d", m.Time.UnixNano())
	}
	return c.writeLP(ctx, line)
}

// Mark flags one measurement timestamp as possible sunlight exposure.
type Mark struct {
	Time       time.Time
	Device     string
	Sunlight   bool
	Confidence float64
}

func (m Mark) line() string {
	return fmt.Sprintf("%s,device=%s possible_sunlight=%t,confidence=%g %d",
		anomalyTable, escapeTag(m.Device), m.Sunlight, m.Confidence, m.Time.UnixNano())
}

// WriteMarks stores anomaly markings, batching the line protocol so a long
// historical run does not build one huge request.
func (c *Client) WriteMarks(ctx context.Context, marks []Mark) error {
	for start := 0; start < len(marks); start += writeBatchSize {
		end := start + writeBatchSize
		if end > len(marks) {
			end = len(marks)
		}

		lines := make([]string, 0, end-start)
		for _, m := range marks[start:end] {
			lines = append(lines, m.line())
		}
		if err := c.writeLP(ctx, strings.Join(lines, "\n")); err != nil {
			return fmt.Errorf("write marks batch at %d: %w", start, err)
		}
	}
	return nil
}

// DeleteMarks removes every anomaly marking from the database.
func (c *Client) DeleteMarks(ctx context.Context) error {
	_, err := c.query(ctx, fmt.Sprintf("DELETE FROM %s", anomalyTable))
	return err
}

// escapeTag escapes the characters line protocol reserves in tag values.
func escapeTag(s string) string {
	r := strings.NewReplacer(",", `\,`, " ", `\ `, "=", `\=`)
	return r.Replace(s)
}
