package geo

import (
	"math"
	"testing"
)

func TestHaversineKnownDistances(t *testing.T) {
	tests := []struct {
		name string
		a, b Point
		want float64
		tol  float64
	}{
		{name: "same point", a: Point{12.97, 77.59}, b: Point{12.97, 77.59}, want: 0, tol: 1e-9},
		{name: "one degree of latitude", a: Point{0, 0}, b: Point{1, 0}, want: 111.195, tol: 0.01},
		{name: "bengaluru to chennai", a: Point{12.9716, 77.5946}, b: Point{13.0827, 80.2707}, want: 290.2, tol: 1.5},
		{name: "antipodal", a: Point{0, 0}, b: Point{0, 180}, want: math.Pi * EarthRadiusKm, tol: 1e-6},
	}
	for _, tt := range tests {
		got := Haversine(tt.a, tt.b)
		if math.Abs(got-tt.want) > tt.tol {
			t.Fatalf("%s: expected %.3f got %.3f", tt.name, tt.want, got)
		}
	}
}

func TestHaversineSymmetric(t *testing.T) {
	a := Point{12.97, 77.59}
	b := Point{12.99, 77.61}
	if math.Abs(Haversine(a, b)-Haversine(b, a)) > 1e-12 {
		t.Fatalf("distance should be symmetric")
	}
}

func TestNewPoint(t *testing.T) {
	lat, lng := 12.97, 77.59
	if _, ok := NewPoint(&lat, nil); ok {
		t.Fatalf("missing lng should not produce a point")
	}
	p, ok := NewPoint(&lat, &lng)
	if !ok || p.Lat != lat || p.Lng != lng {
		t.Fatalf("unexpected point %+v ok=%v", p, ok)
	}
	if p.String() != "12.970000,77.590000" {
		t.Fatalf("unexpected label %q", p.String())
	}
}
