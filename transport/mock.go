package transport

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/lsst-ts/ts-envsensors/mathx"
)

// NaNSentinel is substituted for a channel's value when that channel is
// configured as the mock's NaNChannel, letting tests exercise a decoder's
// NaN handling without needing real hardware to misbehave.
const NaNSentinel = 9999.9990

/*MockTransport implements Transport with a synthetic data generator in
place of a real instrument, selected by simulation_mode at server
construction. One MockTransport instance produces lines for exactly one
sensor type; the Kind/NumChannels fields determine the line shape.

Grounded in the teacher's habit (fluke.ParseTHFromBuffer,
granvillephillips, lesker) of instruments replying with a bare
comma-separated list of fixed-width fields: the humidity sensors here
follow that shape, while the SEL temperature format adds the
"C00="-style preamble spec section 4.3.1 requires.
*/
type MockTransport struct {
	// Kind selects the line format: "TEMPERATURE", "HX85A", or "HX85BA".
	Kind string

	// NumChannels is only consulted when Kind == "TEMPERATURE".
	NumChannels int

	// NaNChannel, if >= 0, substitutes NaNSentinel at that channel index.
	NaNChannel int

	params Params
	open   bool
	rng    *rand.Rand
}

// NewMockTransport creates a mock generator for one sensor kind.
func NewMockTransport(kind string, numChannels int) *MockTransport {
	return &MockTransport{
		Kind:        kind,
		NumChannels: numChannels,
		NaNChannel:  -1,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetParams is accepted for interface conformance; MockTransport does not
// depend on baud rate and derives line size/terminator from Kind.
func (m *MockTransport) SetParams(p Params) {
	m.params = p
}

// Open marks the mock as ready to generate lines.
func (m *MockTransport) Open() error {
	m.open = true
	return nil
}

// Close marks the mock as no longer generating lines.
func (m *MockTransport) Close() error {
	m.open = false
	return nil
}

// ReadLine sleeps approximately one second, then returns a synthetic
// line in the shape of m.Kind. The terminator is always "\r\n",
// matching every sensor decoder in this repository.
func (m *MockTransport) ReadLine() (ReadCode, string) {
	if !m.open {
		return ReadTimeout, ""
	}
	time.Sleep(time.Second)

	var fields []string
	switch m.Kind {
	case "TEMPERATURE":
		fields = make([]string, m.NumChannels)
		for i := range fields {
			v := mathx.Round(18.0+m.rng.Float64()*12.0, 0.0001)
			if i == m.NaNChannel {
				v = NaNSentinel
			}
			fields[i] = fmt.Sprintf("C%02d=%s", i, formatFixed(v))
		}
		return ReadOK, strings.Join(fields, ",") + "\r\n"
	case "HX85A":
		rh := m.rng.Float64() * 100.0
		t := 18.0 + m.rng.Float64()*12.0
		dp := t - (5.0 + m.rng.Float64()*5.0)
		vals := roundAll(rh, t, dp)
		return ReadOK, m.joinHumidity(vals) + "\r\n"
	case "HX85BA":
		rh := m.rng.Float64() * 100.0
		t := 18.0 + m.rng.Float64()*12.0
		p := 950.0 + m.rng.Float64()*100.0
		dp := t - (5.0 + m.rng.Float64()*5.0)
		vals := roundAll(rh, t, p, dp)
		return ReadOK, m.joinHumidity(vals) + "\r\n"
	default:
		return ReadTimeout, ""
	}
}

func (m *MockTransport) joinHumidity(vals []float64) string {
	fields := make([]string, len(vals))
	for i, v := range vals {
		if i == m.NaNChannel {
			v = NaNSentinel
		}
		fields[i] = formatFixed(v)
	}
	return strings.Join(fields, ",")
}

// roundAll rounds each value to the 4-decimal-place precision the SEL
// and humidity line formats carry, so a mock reading looks like an
// instrument's own rounded output rather than an unrounded float64.
func roundAll(vals ...float64) []float64 {
	out := make([]float64, len(vals))
	for i, v := range vals {
		out[i] = mathx.Round(v, 0.0001)
	}
	return out
}

// formatFixed renders v as the signed, 9-character fixed-width decimal
// spec section 4.2 requires: e.g. 20.0 -> "0020.0000", -10.25 -> "-010.2500".
func formatFixed(v float64) string {
	return fmt.Sprintf("%09.4f", v)
}
