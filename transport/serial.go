package transport

import (
	"bufio"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/tarm/serial"
)

/*SerialTransport is the real Transport backing device_type=SERIAL and
device_type=FTDI instruments. Resolving an FTDI dev_id (a USB serial
number) to an OS device path is a physical-serial-driver concern the
spec places out of scope (section 1); callers are expected to pass the
already-resolved path as devPath.

Open, Close and SetParams run under the embedded lock, mirroring
comm.RemoteDevice. ReadLine holds the lock only to take the current
port and parameters, and reads from the port outside it.
*/
type SerialTransport struct {
	sync.Mutex

	devPath string
	params  Params
	port    *serial.Port
}

// NewSerialTransport creates a transport bound to an OS serial device path.
func NewSerialTransport(devPath string) *SerialTransport {
	return &SerialTransport{devPath: devPath}
}

// SetParams installs the framing parameters used by the next Open/ReadLine.
func (t *SerialTransport) SetParams(p Params) {
	t.Lock()
	defer t.Unlock()
	t.params = p
}

/*Open establishes the serial link, retrying the OS-level open with a
bounded exponential backoff. This is the same policy the teacher uses
in comm.RemoteDevice.Open to avoid connection-thrashing hardware that
has just been power-cycled or USB-replugged: several instruments in the
pack refuse a connection attempted too soon after the previous one.
*/
func (t *SerialTransport) Open() error {
	t.Lock()
	defer t.Unlock()
	if t.port != nil {
		return nil
	}
	cfg := &serial.Config{
		Name:        t.devPath,
		Baud:        t.params.Baud,
		ReadTimeout: t.params.ReadTimeout,
	}
	op := func() error {
		p, err := serial.OpenPort(cfg)
		if err != nil {
			return err
		}
		t.port = p
		return nil
	}
	return backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      3 * time.Second,
		Clock:               backoff.SystemClock,
	})
}

// Close tears down the serial link. A nil port is treated as already closed.
func (t *SerialTransport) Close() error {
	t.Lock()
	defer t.Unlock()
	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	return err
}

/*ReadLine reads one terminator-delimited frame, bounded by
Params.ReadTimeout. It never returns a Go error: an unreachable port, a
timeout, and a non-ASCII frame are all reported as a ReadCode so the
decoder above can turn them into a telemetry error string instead of
unwinding the acquisition loop.
*/
func (t *SerialTransport) ReadLine() (ReadCode, string) {
	t.Lock()
	port := t.port
	params := t.params
	t.Unlock()
	if port == nil {
		return ReadTimeout, ""
	}

	type result struct {
		line string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		reader := bufio.NewReader(port)
		var sb strings.Builder
		for {
			b, err := reader.ReadByte()
			if err != nil {
				done <- result{sb.String(), err}
				return
			}
			sb.WriteByte(b)
			if strings.HasSuffix(sb.String(), params.Terminator) {
				done <- result{sb.String(), nil}
				return
			}
		}
	}()

	timeout := params.ReadTimeout
	if timeout <= 0 {
		timeout = time.Second
	}
	select {
	case r := <-done:
		if r.err != nil {
			return ReadTimeout, r.line
		}
		if !isPrintableASCII(r.line) {
			return ReadNonASCII, r.line
		}
		return ReadOK, r.line
	case <-time.After(timeout):
		return ReadTimeout, ""
	}
}

// isPrintableASCII reports whether every byte of s is either the
// terminator's CR/LF or within the printable ASCII range.
func isPrintableASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\r' || c == '\n' {
			continue
		}
		if c < 0x20 || c > 0x7e {
			return false
		}
	}
	return true
}
