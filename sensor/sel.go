package sensor

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lsst-ts/ts-envsensors/temperature"
	"github.com/lsst-ts/ts-envsensors/transport"
)

const (
	selPreambleWidth = 4
	selValueWidth    = 9
	selDelimWidth    = 1
	selTerminator    = "\r\n"
)

// SELDecoder decodes the SEL multi-channel temperature probe's line
// format, spec section 4.3.1:
//
//	C00=snnn.nnnn,C01=snnn.nnnn,...,C{N-1}=snnn.nnnn\r\n
type SELDecoder struct {
	Name        string
	Channels    int
	Baud        int
	ReadTimeout time.Duration

	t transport.Transport
}

// NewSELDecoder creates a decoder for an N-channel SEL probe named name.
// Baud and ReadTimeout default to the SEL temperature reader's own
// constants (BAUDRATE, READ_TIMEOUT in the original source) -- a
// shorter read timeout than the humidity decoders' 2s -- since spec.md
// leaves both as implementation defaults rather than naming values.
func NewSELDecoder(name string, channels int) *SELDecoder {
	return &SELDecoder{
		Name:        name,
		Channels:    channels,
		Baud:        19200,
		ReadTimeout: 1500 * time.Millisecond,
	}
}

// NumChannels returns the configured channel count.
func (d *SELDecoder) NumChannels() int { return d.Channels }

func (d *SELDecoder) expectedLen() int {
	return d.Channels*(selPreambleWidth+selValueWidth+selDelimWidth) - 1 + len(selTerminator)
}

// Start opens t and pushes this instrument's framing parameters onto it.
func (d *SELDecoder) Start(t transport.Transport) error {
	d.t = t
	t.SetParams(transport.Params{
		LineSize:    d.expectedLen(),
		Terminator:  selTerminator,
		Baud:        d.Baud,
		ReadTimeout: d.ReadTimeout,
	})
	return t.Open()
}

// Stop closes the transport opened by Start.
func (d *SELDecoder) Stop() error {
	if d.t == nil {
		return nil
	}
	return d.t.Close()
}

// Read performs one acquisition and returns a fully validated Record.
func (d *SELDecoder) Read() Record {
	code, line := d.t.ReadLine()

	// step 1: transport-level fault
	if code != transport.ReadOK {
		return nanRecord(d.Name, d.Channels, string(code))
	}

	// step 2: terminator and exact frame length
	expected := d.expectedLen()
	if !strings.HasSuffix(line, selTerminator) || len(line) != expected {
		return nanRecord(d.Name, d.Channels,
			fmt.Sprintf("Malformed response. Terminator or line size incorrect: %s", line))
	}

	body := strings.TrimSuffix(line, selTerminator)
	fields := strings.Split(body, ",")
	if len(fields) != d.Channels {
		return nanRecord(d.Name, d.Channels,
			fmt.Sprintf("Malformed response. Terminator or line size incorrect: %s", line))
	}

	values := make([]temperature.Celsius, d.Channels)
	lastErr := ""
	for i, field := range fields {
		// step 3: preamble, accepting both 0-indexed and legacy 1-indexed
		// forms, plus a float-parseability check over the fixed-width
		// value window -- this mirrors the two-test _test_val predicate
		// of the original reader, which treats a preamble match against
		// a non-numeric window exactly like a preamble mismatch.
		if len(field) < selPreambleWidth+selValueWidth {
			values[i] = NaN()
			lastErr = fmt.Sprintf("Malformed response. Channel preamble or channel data incorrect: %s", line)
			continue
		}
		preamble := field[:selPreambleWidth]
		zeroIdx := fmt.Sprintf("C%02d=", i)
		oneIdx := fmt.Sprintf("C%02d=", i+1)
		window := field[selPreambleWidth : selPreambleWidth+selValueWidth]
		if _, err := strconv.ParseFloat(window, 64); (preamble != zeroIdx && preamble != oneIdx) || err != nil {
			values[i] = NaN()
			lastErr = fmt.Sprintf("Malformed response. Channel preamble or channel data incorrect: %s", line)
			continue
		}

		// step 4: the preamble and fixed-width window both validated,
		// but a field padded with trailing bytes beyond the window can
		// still fail to parse in full -- that gets its own error text,
		// distinct from step 3's, matching the original's two error
		// strings for what are two different failure modes.
		raw := field[selPreambleWidth:]
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			values[i] = NaN()
			lastErr = fmt.Sprintf("Temperature data error. Could not convert value(s) to float: %s", line)
			continue
		}
		values[i] = temperature.Celsius(f)
	}

	errStr := "OK"
	if lastErr != "" {
		errStr = lastErr
	}
	return Record{
		Name:      d.Name,
		Timestamp: nowUnix(),
		Error:     errStr,
		Values:    values,
	}
}
