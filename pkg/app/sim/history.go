package sim

// Normalize returns series stretched or cut to exactly n points. Missing
// points repeat the last value, or 0 for an empty series.
func Normalize(series []float64, n int) []float64 {
	if n <= 0 {
		return []float64{}
	}
	out := make([]float64, n)
	copied := copy(out, series)
	if copied == n {
		return out
	}
	var fill float64
	if copied > 0 {
		fill = out[copied-1]
	}
	for i := copied; i < n; i++ {
		out[i] = fill
	}
	return out
}

// NormalizeAll applies Normalize to every series of a history map.
func NormalizeAll(history map[string][]float64, n int) map[string][]float64 {
	out := make(map[string][]float64, len(history))
	for k, series := range history {
		out[k] = Normalize(series, n)
	}
	return out
}
