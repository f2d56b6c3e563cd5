package influx

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"sunwatch/internal/measurement"
)

func mkMeasurement(temp, humidity float64, co2 int) measurement.Measurement {
	return measurement.Measurement{Temperature: temp, Humidity: humidity, CO2: co2}
}

// ============================================================
// Query endpoint
// ============================================================

func TestAllMeasurements(t *testing.T) {
	var gotAuth, gotPath string
	var gotBody map[string]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		io.WriteString(w, `[
			{"time":"2025-06-01T10:00:00","co2_ppm":640,"temperature_c":22.5,"humidity_percent":45.2,"device":"esp32-lab"},
			{"time":"2025-06-01T10:05:00Z","co2_ppm":655,"temperature_c":22.7,"humidity_percent":44.9,"device":"esp32-lab"}
		]`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", "sensors", 5*time.Second)
	rows, err := c.AllMeasurements(context.Background())
	if err != nil {
		t.Fatalf("AllMeasurements failed: %v", err)
	}

	if gotAuth != "Bearer secret" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if gotPath != "/api/v3/query_sql" {
		t.Errorf("path = %q", gotPath)
	}
	if gotBody["db"] != "sensors" || !strings.Contains(gotBody["q"], "FROM scd40_data") {
		t.Errorf("query body = %+v", gotBody)
	}

	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	// Bare timestamps are treated as UTC.
	want := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	if !rows[0].Time.Equal(want) {
		t.Errorf("row time = %v, want %v", rows[0].Time, want)
	}
	if rows[0].CO2 != 640 || rows[0].Temperature != 22.5 || rows[0].Device != "esp32-lab" {
		t.Errorf("row = %+v", rows[0])
	}
}

func TestMeasurementsBetween(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		gotQuery = body["q"]
		io.WriteString(w, `[]`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", "sensors", 5*time.Second)
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	if _, err := c.MeasurementsBetween(context.Background(), start, end); err != nil {
		t.Fatal(err)
	}

	if !strings.Contains(gotQuery, "time >= '2025-06-01T00:00:00Z'") ||
		!strings.Contains(gotQuery, "time <= '2025-06-02T00:00:00Z'") {
		t.Errorf("query = %q", gotQuery)
	}
}

func TestQueryEmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", "sensors", 5*time.Second)
	rows, err := c.AllMeasurements(context.Background())
	if err != nil {
		t.Fatalf("empty response should not error: %v", err)
	}
	if rows != nil {
		t.Errorf("rows = %v, want nil", rows)
	}
}

func TestQueryServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad query", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", "sensors", 5*time.Second)
	if _, err := c.AllMeasurements(context.Background()); err == nil {
		t.Error("expected error for 400 response")
	} else if !strings.Contains(err.Error(), "bad query") {
		t.Errorf("error should carry server message: %v", err)
	}
}

// ============================================================
// Write endpoint
// ============================================================

func TestWriteMeasurement(t *testing.T) {
	var gotBody, gotRawQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		gotBody = string(data)
		gotRawQuery = r.URL.RawQuery
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", "sensors", 5*time.Second)
	err := c.WriteMeasurement(context.Background(), "esp32-lab", mkMeasurement(22.5, 45.2, 640))
	if err != nil {
		t.Fatal(err)
	}

	if gotRawQuery != "db=sensors" {
		t.Errorf("raw query = %q", gotRawQuery)
	}
	want := "scd40_data,device=esp32-lab co2_ppm=640,temperature_c=22.5,humidity_percent=45.2"
	if gotBody != want {
		t.Errorf("body = %q, want %q", gotBody, want)
	}
}

func TestWriteMarksBatching(t *testing.T) {
	var bodies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(data))
	}))
	defer srv.Close()

	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	marks := make([]Mark, 0, 250)
	for i := 0; i < 250; i++ {
		marks = append(marks, Mark{
			Time:       base.Add(time.Duration(i) * time.Minute),
			Device:     "esp32-lab",
			Sunlight:   true,
			Confidence: 0.7,
		})
	}

	c := NewClient(srv.URL, "secret", "sensors", 5*time.Second)
	if err := c.WriteMarks(context.Background(), marks); err != nil {
		t.Fatal(err)
	}

	if len(bodies) != 3 {
		t.Fatalf("requests = %d, want 3", len(bodies))
	}
	if n := strings.Count(bodies[0], "\n") + 1; n != 100 {
		t.Errorf("first batch lines = %d, want 100", n)
	}
	if n := strings.Count(bodies[2], "\n") + 1; n != 50 {
		t.Errorf("last batch lines = %d, want 50", n)
	}
	firstLine := strings.SplitN(bodies[0], "\n", 2)[0]
	wantPrefix := "anomalies,device=esp32-lab possible_sunlight=true,confidence=0.7 "
	if !strings.HasPrefix(firstLine, wantPrefix) {
		t.Errorf("line = %q, want prefix %q", firstLine, wantPrefix)
	}
}

func TestDeleteMarks(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		gotQuery = body["q"]
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", "sensors", 5*time.Second)
	if err := c.DeleteMarks(context.Background()); err != nil {
		t.Fatal(err)
	}
	if gotQuery != "DELETE FROM anomalies" {
		t.Errorf("query = %q", gotQuery)
	}
}

func TestEscapeTag(t *testing.T) {
	if got := escapeTag("esp32 lab,a=b"); got != `esp32\ lab\,a\=b` {
		t.Errorf("escaped = %q", got)
	}
}
