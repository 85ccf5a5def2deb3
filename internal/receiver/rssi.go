package receiver

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// smoothRSSI computes the outlier-rejecting weighted moving average over
// the RSSI history. With at least armSize samples, values outside
// [Q1 - 1.5 IQR, Q3 + 1.5 IQR] are discarded unless fewer than
// minRetained would survive. The weighted mean weights the oldest
// retained sample 1 and the newest n, rounded to integer dBm.
func smoothRSSI(history []int, armSize, minRetained int) int {
	values := make([]float64, len(history))
	for i, v := range history {
		values[i] = float64(v)
	}

	retained := values
	if len(values) >= armSize {
		sorted := append([]float64{}, values...)
		sort.Float64s(sorted)

		q1 := stat.Quantile(0.25, stat.Empirical, sorted, nil)
		q3 := stat.Quantile(0.75, stat.Empirical, sorted, nil)
		iqr := q3 - q1
		lo := q1 - 1.5*iqr
		hi := q3 + 1.5*iqr

		kept := make([]float64, 0, len(values))
		for _, v := range values {
			if v >= lo && v <= hi {
				kept = append(kept, v)
			}
		}
		if len(kept) >= minRetained {
			retained = kept
		}
	}

	weights := make([]float64, len(retained))
	for i := range weights {
		weights[i] = float64(i + 1)
	}

	return int(math.Round(stat.Mean(retained, weights)))
}
