package sensor_test

import (
	"math"
	"testing"

	"github.com/lsst-ts/ts-envsensors/protocol"
	"github.com/lsst-ts/ts-envsensors/sensor"
	"github.com/lsst-ts/ts-envsensors/transport"
)

// fixedLineTransport is a Transport stub that always returns one
// preprogrammed line, letting decoder tests exercise exact wire bytes
// without a real or mock instrument underneath.
type fixedLineTransport struct {
	code transport.ReadCode
	line string
}

func (f *fixedLineTransport) Open() error            { return nil }
func (f *fixedLineTransport) Close() error           { return nil }
func (f *fixedLineTransport) SetParams(transport.Params) {}
func (f *fixedLineTransport) ReadLine() (transport.ReadCode, string) {
	return f.code, f.line
}

func TestSELDecoderWellFormedLine(t *testing.T) {
	ft := &fixedLineTransport{
		code: transport.ReadOK,
		line: "C00=0020.0000,C01=0021.5000,C02=-010.2500,C03=0030.0000\r\n",
	}
	d := sensor.NewSELDecoder("Test01", 4)
	if err := d.Start(ft); err != nil {
		t.Fatalf("Start: %v", err)
	}
	rec := d.Read()
	if rec.Error != "OK" {
		t.Fatalf("expected OK, got %q", rec.Error)
	}
	want := []float64{20.0, 21.5, -10.25, 30.0}
	for i, w := range want {
		if float64(rec.Values[i]) != w {
			t.Errorf("channel %d = %v, want %v", i, rec.Values[i], w)
		}
	}
}

func TestSELDecoderSizeWrongLine(t *testing.T) {
	ft := &fixedLineTransport{
		code: transport.ReadOK,
		line: "C00=0020.0000\r\n",
	}
	d := sensor.NewSELDecoder("Test01", 4)
	d.Start(ft)
	rec := d.Read()
	wantPrefix := "Malformed response. Terminator or line size incorrect"
	if len(rec.Error) < len(wantPrefix) || rec.Error[:len(wantPrefix)] != wantPrefix {
		t.Fatalf("expected error prefix %q, got %q", wantPrefix, rec.Error)
	}
	if len(rec.Values) != 4 {
		t.Fatalf("expected 4 channels, got %d", len(rec.Values))
	}
	for i, v := range rec.Values {
		if !math.IsNaN(float64(v)) {
			t.Errorf("channel %d = %v, want NaN", i, v)
		}
	}
}

func TestSELDecoderLegacyOneIndexedPreamble(t *testing.T) {
	// legacy firmware numbers preambles from 1 instead of 0
	ft := &fixedLineTransport{
		code: transport.ReadOK,
		line: "C01=0020.0000,C02=0021.5000\r\n",
	}
	d := sensor.NewSELDecoder("Test01", 2)
	d.Start(ft)
	rec := d.Read()
	if rec.Error != "OK" {
		t.Fatalf("expected legacy preamble to be accepted, got %q", rec.Error)
	}
}

func TestSELDecoderTransportFault(t *testing.T) {
	ft := &fixedLineTransport{code: transport.ReadTimeout, line: "C00=0020"}
	d := sensor.NewSELDecoder("Test01", 2)
	d.Start(ft)
	rec := d.Read()
	if rec.Error != "TIMEOUT" {
		t.Fatalf("expected TIMEOUT, got %q", rec.Error)
	}
	for _, v := range rec.Values {
		if !math.IsNaN(float64(v)) {
			t.Errorf("expected all channels NaN on transport fault")
		}
	}
}

func TestSELDecoderBadChannelPreservesOthers(t *testing.T) {
	ft := &fixedLineTransport{
		code: transport.ReadOK,
		line: "C00=0020.0000,XXXXXXXXXXXXX,C02=0030.0000\r\n",
	}
	d := sensor.NewSELDecoder("Test01", 3)
	d.Start(ft)
	rec := d.Read()
	if rec.Values[0] != 20.0 || rec.Values[2] != 30.0 {
		t.Fatalf("expected valid channels to retain values, got %v", rec.Values)
	}
	if !math.IsNaN(float64(rec.Values[1])) {
		t.Fatalf("expected bad channel 1 to be NaN")
	}
	if rec.Error == "OK" {
		t.Fatalf("expected a non-OK error string")
	}
}

func TestSELDecoderTrailingGarbageReportsDataError(t *testing.T) {
	// Channel 1's fixed-width value window ("0021.5000") parses fine on
	// its own, but the field carries one extra trailing byte beyond the
	// window; the full-field float parse fails where the window parse
	// did not, which is a distinct failure from a bad preamble or an
	// unparseable window and gets its own error text. Channel 0 is
	// shortened by the same one byte to keep the overall frame length
	// exact, which itself fails channel 0 with the preamble/data error.
	ft := &fixedLineTransport{
		code: transport.ReadOK,
		line: "C00=020.0000,C01=0021.5000X\r\n",
	}
	d := sensor.NewSELDecoder("Test01", 2)
	d.Start(ft)
	rec := d.Read()
	wantPrefix := "Temperature data error. Could not convert value(s) to float"
	if len(rec.Error) < len(wantPrefix) || rec.Error[:len(wantPrefix)] != wantPrefix {
		t.Fatalf("expected error prefix %q, got %q", wantPrefix, rec.Error)
	}
	if !math.IsNaN(float64(rec.Values[1])) {
		t.Fatalf("expected channel 1 to be NaN")
	}
}

func TestHX85ADecoderFieldCount(t *testing.T) {
	ft := &fixedLineTransport{
		code: transport.ReadOK,
		line: "0045.0000,0022.5000,0010.2500\r\n",
	}
	d := sensor.NewHX85ADecoder("Test02")
	d.Start(ft)
	rec := d.Read()
	if rec.Error != "OK" {
		t.Fatalf("expected OK, got %q", rec.Error)
	}
	if len(rec.Values) != 3 {
		t.Fatalf("expected 3 values, got %d", len(rec.Values))
	}
}

func TestHX85BADecoderFieldCount(t *testing.T) {
	ft := &fixedLineTransport{
		code: transport.ReadOK,
		line: "0045.0000,0022.5000,1013.2500,0010.2500\r\n",
	}
	d := sensor.NewHX85BADecoder("Test03")
	d.Start(ft)
	rec := d.Read()
	if rec.Error != "OK" {
		t.Fatalf("expected OK, got %q", rec.Error)
	}
	if len(rec.Values) != 4 {
		t.Fatalf("expected 4 values, got %d", len(rec.Values))
	}
}

func TestNewFactoryUnknownSensorType(t *testing.T) {
	cfg := protocol.DeviceConfig{Name: "Bad01", SensorType: "BOGUS"}
	_, err := sensor.New(cfg)
	if err == nil {
		t.Fatal("expected an error for an unrecognized sensor_type")
	}
}

func TestMockToDecoderRoundTrip(t *testing.T) {
	mt := transport.NewMockTransport("TEMPERATURE", 4)
	d := sensor.NewSELDecoder("Test01", 4)
	if err := d.Start(mt); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop()
	rec := d.Read()
	if rec.Error != "OK" {
		t.Fatalf("expected OK from a well-formed mock line, got %q", rec.Error)
	}
	if len(rec.Values) != 4 {
		t.Fatalf("expected 4 channels, got %d", len(rec.Values))
	}
	for _, v := range rec.Values {
		f := float64(v)
		if f < 18.0 || f > 30.0 {
			t.Errorf("expected channel in [18,30], got %v", f)
		}
	}
}
