package audience

import (
	"math"

	contractx "github.com/tanpawarit/ad-buyer-orchestrator/agent/contract"
)

// Similarity compares two vectors under metric. Vectors of different
// length are incomparable and score 0. L2 distance is mapped to a
// similarity in (0,1] as 1/(1+d) so every metric reads "higher is closer".
func Similarity(metric contractx.SimilarityMetric, a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	switch metric {
	case contractx.MetricDot:
		return dot(a, b)
	case contractx.MetricL2:
		return 1 / (1 + l2(a, b))
	default:
		return cosine(a, b)
	}
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func cosine(a, b []float64) float64 {
	na, nb := math.Sqrt(dot(a, a)), math.Sqrt(dot(b, b))
	if na == 0 || nb == 0 {
		return 0
	}
	return dot(a, b) / (na * nb)
}

func l2(a, b []float64) float64 {
	var s float64
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return math.Sqrt(s)
}
