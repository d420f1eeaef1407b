package geo

import (
	"math"
	"testing"
)

func TestDistanceZeroForSamePoint(t *testing.T) {
	if d := DistanceKM(51.1694, 71.4491, 51.1694, 71.4491); d != 0 {
		t.Errorf("distance to self = %v, want 0", d)
	}
}

func TestDistanceSymmetry(t *testing.T) {
	a := DistanceKM(48.8566, 2.3522, 51.5074, -0.1278)
	b := DistanceKM(51.5074, -0.1278, 48.8566, 2.3522)
	if math.Abs(a-b) > 1e-9 {
		t.Errorf("distance not symmetric: %v vs %v", a, b)
	}
}

func TestDistanceKnownValue(t *testing.T) {
	// Paris -> London is roughly 344 km great-circle
	d := DistanceKM(48.8566, 2.3522, 51.5074, -0.1278)
	if d < 330 || d > 355 {
		t.Errorf("Paris-London = %v km, expected ~344", d)
	}
}

func TestBearingRange(t *testing.T) {
	points := [][4]float64{
		{0, 0, 10, 10},
		{10, 10, 0, 0},
		{-35, 150, 40, -75},
		{51, 0, 51, 1},
	}
	for _, p := range points {
		b := BearingDegrees(p[0], p[1], p[2], p[3])
		if b < 0 || b >= 360 {
			t.Errorf("bearing(%v) = %v, want [0, 360)", p, b)
		}
	}
}

func TestBearingDueNorth(t *testing.T) {
	if b := BearingDegrees(0, 0, 10, 0); math.Abs(b) > 1e-9 {
		t.Errorf("due-north bearing = %v, want 0", b)
	}
}

func TestETAFallbackSpeed(t *testing.T) {
	// 30 km at the 30 km/h fallback is an hour
	if eta := ETAMinutes(30, 0); math.Abs(eta-60) > 1e-9 {
		t.Errorf("ETA with fallback speed = %v, want 60", eta)
	}
	if eta := ETAMinutes(30, 60); math.Abs(eta-30) > 1e-9 {
		t.Errorf("ETA at 60 km/h = %v, want 30", eta)
	}
}
