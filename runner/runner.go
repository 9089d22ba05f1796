/*Package runner implements the per-device acquisition loop, spec
section 4.4: one long-lived task per configured device that drives a
transport through a decoder and emits telemetry, surfacing every
failure as a Record rather than propagating it.

The cancellation idiom -- a buffered signal channel checked with a
non-blocking select at the top of each loop iteration -- is adapted
from the teacher's fsm.Disturbance.Play, which runs a CSV-playback loop
cancellable by the same pattern (fsm/fsm.go). Here the loop body is an
instrument read instead of a CSV row, and a run ends on cancellation
or an unexpected failure, instead of reaching the end of a buffer.
*/
package runner

import (
	"fmt"
	"sync"

	"github.com/lsst-ts/ts-envsensors/sensor"
	"github.com/lsst-ts/ts-envsensors/transport"
)

// State is a DeviceRunner's lifecycle state, spec section 3.
type State string

// Recognized State values.
const (
	StateIdle     State = "IDLE"
	StateRunning  State = "RUNNING"
	StateStopping State = "STOPPING"
	StateFailed   State = "FAILED"
)

// Runner drives one device's decoder/transport pair and reports every
// reading through callback. One Runner exists per configured device for
// the lifetime of a start/stop cycle; Start may be called again after a
// clean Stop to begin a fresh acquisition session.
type Runner struct {
	Name string

	decoder  sensor.Decoder
	trans    transport.Transport
	callback func(sensor.Record)

	mu     sync.Mutex
	state  State
	signal chan struct{}
	done   chan struct{}
}

// New creates a Runner for one device. callback is invoked from the
// runner's own goroutine once per acquisition, and from Start's caller
// when the decoder fails to start; it must not block on anything the
// command handler holds a lock on.
func New(name string, d sensor.Decoder, t transport.Transport, callback func(sensor.Record)) *Runner {
	return &Runner{
		Name:     name,
		decoder:  d,
		trans:    t,
		callback: callback,
		state:    StateIdle,
	}
}

// State returns the runner's current lifecycle state.
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Start opens the decoder/transport and begins the acquisition loop on
// its own goroutine. Start is a no-op if the runner is already running.
// If the decoder fails to start, the runner becomes FAILED, one
// DEVICE_FAILED record is reported through callback, and the error is
// returned.
func (r *Runner) Start() error {
	r.mu.Lock()
	if r.state == StateRunning {
		r.mu.Unlock()
		return nil
	}
	if err := r.decoder.Start(r.trans); err != nil {
		r.state = StateFailed
		r.mu.Unlock()
		r.callback(sensor.Record{
			Name:      r.Name,
			Timestamp: sensor.Now(),
			Error:     fmt.Sprintf("DEVICE_FAILED: %v", err),
		})
		return err
	}
	r.state = StateRunning
	r.signal = make(chan struct{}, 1)
	r.done = make(chan struct{})
	r.mu.Unlock()

	go r.loop()
	return nil
}

/*Stop requests cancellation and blocks until the runner has reached
IDLE or FAILED. Per spec section 5, the runner finishes its in-flight
Read (bounded by read_timeout), closes its transport, then exits; Stop
observes that exit by waiting on the done channel rather than polling
state, so it returns exactly when the runner is quiescent.
*/
func (r *Runner) Stop() {
	r.mu.Lock()
	if r.state != StateRunning {
		r.mu.Unlock()
		return
	}
	r.state = StateStopping
	signal, done := r.signal, r.done
	r.mu.Unlock()

	select {
	case signal <- struct{}{}:
	default:
	}
	<-done
}

func (r *Runner) loop() {
	defer close(r.done)
	for {
		select {
		case <-r.signal:
			r.decoder.Stop()
			r.mu.Lock()
			r.state = StateIdle
			r.mu.Unlock()
			return
		default:
		}

		rec, failed := r.readOnce()
		r.callback(rec)
		if failed {
			r.mu.Lock()
			r.state = StateFailed
			r.mu.Unlock()
			return
		}
	}
}

// readOnce performs one decoder.Read, converting an unexpected panic
// (a decoder bug, not an instrument fault -- those are already values on
// the Record) into a DEVICE_FAILED record instead of crashing the server.
func (r *Runner) readOnce() (rec sensor.Record, failed bool) {
	defer func() {
		if p := recover(); p != nil {
			failed = true
			rec = sensor.Record{
				Name:      r.Name,
				Timestamp: sensor.Now(),
				Error:     fmt.Sprintf("DEVICE_FAILED: %v", p),
			}
		}
	}()
	rec = r.decoder.Read()
	return rec, false
}
