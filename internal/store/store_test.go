package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "detections.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleDetection(confirmed time.Time) *Detection {
	return &Detection{
		Device:            "esp32-lab",
		StartedAt:         confirmed.Add(-90 * time.Minute),
		ConfirmedAt:       confirmed,
		Confidence:        0.82,
		TempDeviation:     4.1,
		HumidityDeviation: -7.3,
		Correlation:       -0.91,
		WindowPoints:      13,
		LargestGap:        10 * time.Minute,
	}
}

func TestInsertAndGetDetection(t *testing.T) {
	s := openTestStore(t)

	confirmed := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)
	id, err := s.InsertDetection(sampleDetection(confirmed))
	require.NoError(t, err)
	require.Greater(t, id, int64(0))

	got, err := s.GetDetection(id)
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, "esp32-lab", got.Device)
	assert.True(t, got.ConfirmedAt.Equal(confirmed))
	assert.True(t, got.StartedAt.Equal(confirmed.Add(-90*time.Minute)))
	assert.InDelta(t, 0.82, got.Confidence, 1e-9)
	assert.InDelta(t, -7.3, got.HumidityDeviation, 1e-9)
	assert.Equal(t, 13, got.WindowPoints)
	assert.Equal(t, 10*time.Minute, got.LargestGap)
}

func TestGetDetectionMissing(t *testing.T) {
	s := openTestStore(t)

	got, err := s.GetDetection(999)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRecentDetectionsOrder(t *testing.T) {
	s := openTestStore(t)

	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		_, err := s.InsertDetection(sampleDetection(base.Add(time.Duration(i) * time.Hour)))
		require.NoError(t, err)
	}

	got, err := s.RecentDetections(3)
	require.NoError(t, err)
	require.Len(t, got, 3)

	// Newest first.
	assert.True(t, got[0].ConfirmedAt.Equal(base.Add(4*time.Hour)))
	assert.True(t, got[1].ConfirmedAt.Equal(base.Add(3*time.Hour)))
	assert.True(t, got[2].ConfirmedAt.Equal(base.Add(2*time.Hour)))
}

func TestDetectionsBetween(t *testing.T) {
	s := openTestStore(t)

	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		_, err := s.InsertDetection(sampleDetection(base.Add(time.Duration(i) * time.Hour)))
		require.NoError(t, err)
	}

	got, err := s.DetectionsBetween(base.Add(time.Hour), base.Add(3*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 3)

	// Oldest first, boundaries inclusive.
	assert.True(t, got[0].ConfirmedAt.Equal(base.Add(time.Hour)))
	assert.True(t, got[2].ConfirmedAt.Equal(base.Add(3*time.Hour)))
}

func TestDetectionsForDevice(t *testing.T) {
	s := openTestStore(t)

	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	a := sampleDetection(base)
	b := sampleDetection(base.Add(time.Hour))
	b.Device = "esp32-attic"

	_, err := s.InsertDetection(a)
	require.NoError(t, err)
	_, err = s.InsertDetection(b)
	require.NoError(t, err)

	got, err := s.DetectionsForDevice("esp32-attic", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "esp32-attic", got[0].Device)
}

func TestLatestDetection(t *testing.T) {
	s := openTestStore(t)

	latest, err := s.LatestDetection()
	require.NoError(t, err)
	assert.Nil(t, latest, "empty archive should yield nil")

	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	_, err = s.InsertDetection(sampleDetection(base))
	require.NoError(t, err)
	_, err = s.InsertDetection(sampleDetection(base.Add(2 * time.Hour)))
	require.NoError(t, err)

	latest, err = s.LatestDetection()
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.True(t, latest.ConfirmedAt.Equal(base.Add(2*time.Hour)))
}

func TestCountAndPrune(t *testing.T) {
	s := openTestStore(t)

	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		_, err := s.InsertDetection(sampleDetection(base.Add(time.Duration(i) * time.Hour)))
		require.NoError(t, err)
	}

	n, err := s.CountDetections()
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	pruned, err := s.PruneBefore(base.Add(2 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), pruned)

	n, err = s.CountDetections()
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestReopenPersists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "detections.db")

	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.InsertDetection(sampleDetection(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	n, err := s2.CountDetections()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
