// Package mathx holds small numeric helpers used by the mock instrument
// generators.
package mathx

import "math"

// Round rounds a float to the nearest "unit" (0.1 for tenth, 0.01 for hundredth, and so on).
func Round(x, unit float64) float64 {
	return math.Floor(x/unit+0.5) * unit
}
