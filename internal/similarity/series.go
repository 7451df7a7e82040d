package similarity

import "math"

// DistanceProfile slides query over series and returns the Euclidean
// distance at every offset, without z-normalisation. The result has
// len(series)-len(query)+1 entries, or none when the series is shorter
// than the query or the query is empty.
func DistanceProfile(query, series []float64) []float64 {
	m, n := len(query), len(series)
	if m == 0 || n < m {
		return nil
	}

	profile := make([]float64, n-m+1)
	for i := range profile {
		var sum float64
		for j, q := range query {
			d := q - series[i+j]
			sum += d * d
		}
		profile[i] = math.Sqrt(sum)
	}
	return profile
}

// MinDistance returns the smallest entry of the distance profile.
// ok is false when no window of series can be compared.
func MinDistance(query, series []float64) (dist float64, ok bool) {
	profile := DistanceProfile(query, series)
	if len(profile) == 0 {
		return 0, false
	}

	dist = profile[0]
	for _, d := range profile[1:] {
		if d < dist {
			dist = d
		}
	}
	return dist, true
}
