// Package temperature gives decoded channel values a unit-carrying type.
package temperature

import "math"

// Celsius is the value type of every channel a sensor decoder in this
// repository produces: a temperature in degrees C on temperature
// channels, while the HX85A/HX85BA humidity (%) and pressure (hPa)
// channels are carried in the same type. NaN marks an unread or invalid
// channel.
type Celsius float64

// IsValid reports whether c is a finite, non-NaN reading.
func (c Celsius) IsValid() bool {
	return !math.IsNaN(float64(c)) && !math.IsInf(float64(c), 0)
}
