package shapefile

import "math"

// ESRINaN is the value ESRI uses for "no data" in Z and M fields. Any value
// at or below it is read back as NaN.
const ESRINaN = -1e38

// ToESRI converts a Z or M value for storage. Non-finite values become
// ESRINaN.
func ToESRI(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return ESRINaN
	}
	return v
}

// FromESRI converts a stored Z or M value. No-data values become NaN.
func FromESRI(v float64) float64 {
	if IsESRINaN(v) {
		return math.NaN()
	}
	return v
}

// IsESRINaN reports whether v encodes "no data".
func IsESRINaN(v float64) bool {
	return math.IsNaN(v) || math.IsInf(v, 0) || v <= ESRINaN
}

// isFinite reports whether v is usable as an X or Y coordinate.
func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
