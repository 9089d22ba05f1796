/*Package sensor implements the line-oriented decoders for each
instrument sensor_type: SEL multi-channel temperature probes, and the
HX85A/HX85BA humidity sensors. This is the hard part of the system per
spec section 1 -- fixed-width field framing, per-channel validation,
and error-kind classification -- so every decoder is built and tested
independently of the transport and runner layers around it.
*/
package sensor

import (
	"math"
	"time"

	"github.com/lsst-ts/ts-envsensors/temperature"
	"github.com/lsst-ts/ts-envsensors/transport"
)

// Record is the typed, in-memory form of spec.md's TelemetryRecord: one
// acquisition's worth of channel values plus the metadata the socket
// server needs to build the wire envelope.
type Record struct {
	// Name is the owning device's configured name.
	Name string

	// Timestamp is the Unix time, in seconds, the record was produced.
	Timestamp float64

	// Error is "OK" or a human-readable description of what went wrong.
	// Channel values remain populated for any channel that did decode
	// successfully even when Error is non-OK, per spec section 4.3.1's
	// tie-break rule.
	Error string

	// Values holds one entry per channel, in channel order. Invalid or
	// unread channels carry math.NaN().
	Values []temperature.Celsius
}

// NaN returns a Celsius value representing an unread or invalid channel.
func NaN() temperature.Celsius {
	return temperature.Celsius(math.NaN())
}

// nanRecord builds a Record with every channel set to NaN, used whenever
// a decoder must report a line-level failure without partial data.
func nanRecord(name string, n int, errMsg string) Record {
	vals := make([]temperature.Celsius, n)
	for i := range vals {
		vals[i] = NaN()
	}
	return Record{
		Name:      name,
		Timestamp: nowUnix(),
		Error:     errMsg,
		Values:    vals,
	}
}

// nowUnix returns the current wall-clock Unix time in seconds.
func nowUnix() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// Now returns the current Unix time in seconds, exported so callers
// outside this package (runner.Runner's failure path) can stamp a
// Record they build themselves.
func Now() float64 {
	return nowUnix()
}

// Decoder is one instrument's line-oriented protocol implementation.
// A Decoder owns the instrument's name and channel count; Start/Stop
// bracket one acquisition session and push framing parameters onto the
// transport, matching spec section 4.3.
type Decoder interface {
	// Start opens t and configures its framing parameters
	// (line size, terminator, baud, read timeout) for this instrument.
	Start(t transport.Transport) error

	// Stop closes the transport opened by Start.
	Stop() error

	// Read performs one ReadLine, validates it, and returns a populated Record.
	Read() Record

	// NumChannels returns the fixed or configured channel count.
	NumChannels() int
}
