package detect

import (
	"math"
	"testing"
	"time"
)

// =============================================================================
// Tests for Baseline
// =============================================================================

func TestBaselineWarmup(t *testing.T) {
	b := NewBaseline(5*time.Minute, 24*time.Hour)

	if _, _, ok := b.Current(); ok {
		t.Fatal("Current should report false before any update")
	}

	b.Update(mk(t0, 22, 45))

	temp, humidity, ok := b.Current()
	if !ok {
		t.Fatal("Current reported false after an update")
	}
	if temp != 22 || humidity != 45 {
		t.Errorf("baseline = (%v, %v), want (22, 45)", temp, humidity)
	}
}

func TestBaselineSeed(t *testing.T) {
	b := NewBaseline(5*time.Minute, 24*time.Hour)
	b.Seed(21.5, 48)

	temp, humidity, ok := b.Current()
	if !ok {
		t.Fatal("Current reported false after Seed")
	}
	if temp != 21.5 || humidity != 48 {
		t.Errorf("baseline = (%v, %v), want (21.5, 48)", temp, humidity)
	}
}

func TestBaselineTracksSlowly(t *testing.T) {
	b := NewBaseline(5*time.Minute, 24*time.Hour)
	b.Update(mk(t0, 22, 45))

	// A two-hour excursion barely moves a 24-hour baseline: fewer than 3% of
	// the horizon's samples have seen the new level.
	for i := 1; i <= 24; i++ {
		b.Update(mk(t0.Add(time.Duration(i)*5*time.Minute), 30, 30))
	}

	temp, humidity, _ := b.Current()
	if temp > 23.5 {
		t.Errorf("temperature baseline %v chased a short excursion too fast", temp)
	}
	if humidity < 42.5 {
		t.Errorf("humidity baseline %v chased a short excursion too fast", humidity)
	}

	// But it must move toward the new level, not ignore it.
	if temp <= 22 {
		t.Errorf("temperature baseline %v did not move at all", temp)
	}
}

func TestBaselineConvergesOverHorizon(t *testing.T) {
	b := NewBaseline(5*time.Minute, 24*time.Hour)
	b.Update(mk(t0, 22, 45))

	// Two full horizons of a new steady level.
	for i := 1; i <= 2*288; i++ {
		b.Update(mk(t0.Add(time.Duration(i)*5*time.Minute), 26, 40))
	}

	temp, humidity, _ := b.Current()
	if math.Abs(temp-26) > 0.6 {
		t.Errorf("temperature baseline = %v, want near 26", temp)
	}
	if math.Abs(humidity-40) > 0.8 {
		t.Errorf("humidity baseline = %v, want near 40", humidity)
	}
}

func TestBaselineAlphaFromHorizon(t *testing.T) {
	// 24h horizon at 5-minute cadence is 288 samples; alpha = 2/(288+1).
	b := NewBaseline(5*time.Minute, 24*time.Hour)
	want := 2.0 / 289.0
	if math.Abs(b.alpha-want) > 1e-12 {
		t.Errorf("alpha = %v, want %v", b.alpha, want)
	}
}
