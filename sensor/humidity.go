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
	humidityValueWidth = 9
	humidityTerminator = "\r\n"
)

/*humidityDecoder implements the common framing discipline of spec
section 4.3.2 shared by HX85A and HX85BA: strict line size, ASCII-only,
CRLF-terminated, comma-delimited fixed-width fields, no per-field
preamble (grounded in fluke.ParseTHFromBuffer's plain comma-split of a
raw humidity/temperature reply). The two sensors differ only in field
count and field naming, which the exported wrapper types supply.
*/
type humidityDecoder struct {
	name        string
	fieldCount  int
	baud        int
	readTimeout time.Duration

	t transport.Transport
}

func (d *humidityDecoder) expectedLen() int {
	return d.fieldCount*(humidityValueWidth+1) - 1 + len(humidityTerminator)
}

func (d *humidityDecoder) start(t transport.Transport) error {
	d.t = t
	t.SetParams(transport.Params{
		LineSize:    d.expectedLen(),
		Terminator:  humidityTerminator,
		Baud:        d.baud,
		ReadTimeout: d.readTimeout,
	})
	return t.Open()
}

func (d *humidityDecoder) stop() error {
	if d.t == nil {
		return nil
	}
	return d.t.Close()
}

func (d *humidityDecoder) read() Record {
	code, line := d.t.ReadLine()
	if code != transport.ReadOK {
		return nanRecord(d.name, d.fieldCount, string(code))
	}

	expected := d.expectedLen()
	if !strings.HasSuffix(line, humidityTerminator) || len(line) != expected {
		return nanRecord(d.name, d.fieldCount,
			fmt.Sprintf("Malformed response. Terminator or line size incorrect: %s", line))
	}

	body := strings.TrimSuffix(line, humidityTerminator)
	fields := strings.Split(body, ",")
	if len(fields) != d.fieldCount {
		return nanRecord(d.name, d.fieldCount,
			fmt.Sprintf("Malformed response. Terminator or line size incorrect: %s", line))
	}

	values := make([]temperature.Celsius, d.fieldCount)
	lastErr := ""
	for i, field := range fields {
		if len(field) != humidityValueWidth {
			values[i] = NaN()
			lastErr = "Malformed response. Channel preamble or channel data incorrect"
			continue
		}
		f, err := strconv.ParseFloat(field, 64)
		if err != nil {
			values[i] = NaN()
			lastErr = "Malformed response. Channel preamble or channel data incorrect"
			continue
		}
		values[i] = temperature.Celsius(f)
	}

	errStr := "OK"
	if lastErr != "" {
		errStr = lastErr
	}
	return Record{
		Name:      d.name,
		Timestamp: nowUnix(),
		Error:     errStr,
		Values:    values,
	}
}

// HX85ADecoder decodes the HX85A's 3-field reply: relative humidity (%),
// ambient temperature (C), dew point (C).
type HX85ADecoder struct{ humidityDecoder }

// NewHX85ADecoder creates a decoder for an HX85A sensor named name.
func NewHX85ADecoder(name string) *HX85ADecoder {
	return &HX85ADecoder{humidityDecoder{name: name, fieldCount: 3, baud: 19200, readTimeout: 2 * time.Second}}
}

// NumChannels returns 3, the fixed field count for HX85A.
func (d *HX85ADecoder) NumChannels() int { return 3 }

// Start opens t and configures HX85A framing.
func (d *HX85ADecoder) Start(t transport.Transport) error { return d.start(t) }

// Stop closes the transport opened by Start.
func (d *HX85ADecoder) Stop() error { return d.stop() }

// Read performs one acquisition and returns a validated Record.
func (d *HX85ADecoder) Read() Record { return d.read() }

// HX85BADecoder decodes the HX85BA's 4-field reply: relative humidity
// (%), ambient temperature (C), barometric pressure (hPa), dew point (C).
type HX85BADecoder struct{ humidityDecoder }

// NewHX85BADecoder creates a decoder for an HX85BA sensor named name.
func NewHX85BADecoder(name string) *HX85BADecoder {
	return &HX85BADecoder{humidityDecoder{name: name, fieldCount: 4, baud: 19200, readTimeout: 2 * time.Second}}
}

// NumChannels returns 4, the fixed field count for HX85BA.
func (d *HX85BADecoder) NumChannels() int { return 4 }

// Start opens t and configures HX85BA framing.
func (d *HX85BADecoder) Start(t transport.Transport) error { return d.start(t) }

// Stop closes the transport opened by Start.
func (d *HX85BADecoder) Stop() error { return d.stop() }

// Read performs one acquisition and returns a validated Record.
func (d *HX85BADecoder) Read() Record { return d.read() }
