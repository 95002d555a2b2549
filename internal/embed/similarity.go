package embed

import "math"

// CosineSimilarity is dot(a,b)/(|a||b|) clamped to [-1, 1]. It is NaN when
// the lengths differ or either vector has zero norm.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return float32(math.NaN())
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return float32(math.NaN())
	}
	return float32(max(-1, min(1, dot/(math.Sqrt(na)*math.Sqrt(nb)))))
}
