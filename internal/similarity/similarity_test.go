package similarity

import (
	"math"
	"testing"
)

func TestRatio(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
	}{
		{"", "", 1},
		{"abc", "", 0},
		{"temperature", "temperature", 1},
		{"abcd", "acbd", 0.75},
		{"kitten", "sitting", 8.0 / 13.0},
		{"héllo", "hello", 0.8},
	}

	for _, tt := range tests {
		got := Ratio(tt.a, tt.b)
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("Ratio(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
		if rev := Ratio(tt.b, tt.a); math.Abs(rev-got) > 1e-9 {
			t.Errorf("Ratio not symmetric for %q/%q: %v vs %v", tt.a, tt.b, got, rev)
		}
	}
}

func TestRatio_RanksCloserDescriptionsHigher(t *testing.T) {
	query := "temperature Ambient temperature"
	near := Ratio(query, "temp Measured ambient temperature")
	far := Ratio(query, "co2 Carbon dioxide concentration")
	if near <= far {
		t.Errorf("near = %v, far = %v; want near > far", near, far)
	}
}

func TestDistanceProfile(t *testing.T) {
	profile := DistanceProfile([]float64{1, 2}, []float64{0, 1, 2, 5})
	want := []float64{math.Sqrt(2), 0, math.Sqrt(1 + 9)}

	if len(profile) != len(want) {
		t.Fatalf("len(profile) = %d, want %d", len(profile), len(want))
	}
	for i := range want {
		if math.Abs(profile[i]-want[i]) > 1e-9 {
			t.Errorf("profile[%d] = %v, want %v", i, profile[i], want[i])
		}
	}
}

func TestMinDistance(t *testing.T) {
	tests := []struct {
		name   string
		query  []float64
		series []float64
		want   float64
		ok     bool
	}{
		{"exact subsequence", []float64{3, 4}, []float64{1, 2, 3, 4, 5}, 0, true},
		{"offset", []float64{10, 10}, []float64{7, 6}, 5, true},
		{"series too short", []float64{1, 2, 3}, []float64{1, 2}, 0, false},
		{"empty query", nil, []float64{1}, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := MinDistance(tt.query, tt.series)
			if ok != tt.ok || math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("MinDistance() = %v, %v; want %v, %v", got, ok, tt.want, tt.ok)
			}
		})
	}
}
