/*Package control implements the command handler, spec section 4.5: it
validates configure payloads, owns the set of device runners, and
implements the configure/start/stop/disconnect/exit state machine.

Every exported method is safe to call only from the single goroutine
that owns a client connection (server.Server never dispatches two
commands concurrently), which is what lets HandleCommand mutate state
and the runner map without its own external synchronization beyond the
mutex that protects reads from other goroutines (the runners'
telemetry callback, which runs on each runner's own goroutine).
*/
package control

import (
	"sync"

	"github.com/lsst-ts/ts-envsensors/protocol"
	"github.com/lsst-ts/ts-envsensors/runner"
	"github.com/lsst-ts/ts-envsensors/sensor"
	"github.com/lsst-ts/ts-envsensors/transport"
)

// State is the handler-local subset of spec section 3's ControlState:
// the connection-lifecycle states (DISCONNECTED, CONNECTED_UNCONFIGURED)
// belong to server.Server, which wraps a Handler.
type State string

// Recognized State values.
const (
	StateUnconfigured State = "UNCONFIGURED"
	StateConfigured   State = "CONFIGURED"
	StateRunning      State = "RUNNING"
)

// TransportFactory builds the Transport backing one DeviceConfig --
// a real SerialTransport or a MockTransport, selected by simulation_mode
// at server construction (spec section 6).
type TransportFactory func(protocol.DeviceConfig) transport.Transport

// Handler owns the control state and the live runner set.
type Handler struct {
	factory TransportFactory
	onTelem func(sensor.Record)

	mu      sync.Mutex
	state   State
	config  protocol.Configuration
	runners map[string]*runner.Runner
}

// New creates a Handler. onTelem is invoked once per acquisition, from
// whichever runner produced it; it is expected to forward to the socket
// server's single writer goroutine without blocking.
func New(factory TransportFactory, onTelem func(sensor.Record)) *Handler {
	return &Handler{
		factory: factory,
		onTelem: onTelem,
		state:   StateUnconfigured,
		runners: make(map[string]*runner.Runner),
	}
}

// State returns the handler's current control state.
func (h *Handler) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// HandleCommand is the handler's single entry point, spec section 4.5's table.
func (h *Handler) HandleCommand(cmd protocol.CommandFrame) protocol.ResponseFrame {
	switch cmd.Command {
	case protocol.CmdConfigure:
		return h.handleConfigure(cmd.Parameters)
	case protocol.CmdStart:
		return h.handleStart()
	case protocol.CmdStop:
		return h.handleStop()
	case protocol.CmdDisconnect, protocol.CmdExit:
		h.stopAll()
		return protocol.ResponseFrame{Response: protocol.RespOK}
	default:
		// Unrecognized command: no dedicated response code exists for
		// this per spec section 6's fixed set. See DESIGN.md's
		// "response code for unknown command / malformed JSON".
		return protocol.ResponseFrame{Response: protocol.RespInvalidConfiguration}
	}
}

func (h *Handler) handleConfigure(params map[string]interface{}) protocol.ResponseFrame {
	h.mu.Lock()
	running := h.state == StateRunning
	h.mu.Unlock()
	if running {
		return protocol.ResponseFrame{Response: protocol.RespAlreadyStarted}
	}

	cfg, err := Validate(params)
	if err != nil {
		return protocol.ResponseFrame{Response: protocol.RespInvalidConfiguration}
	}

	h.mu.Lock()
	h.config = cfg
	h.state = StateConfigured
	h.mu.Unlock()
	return protocol.ResponseFrame{Response: protocol.RespOK}
}

func (h *Handler) handleStart() protocol.ResponseFrame {
	h.mu.Lock()
	switch h.state {
	case StateRunning:
		h.mu.Unlock()
		return protocol.ResponseFrame{Response: protocol.RespAlreadyStarted}
	case StateUnconfigured:
		h.mu.Unlock()
		return protocol.ResponseFrame{Response: protocol.RespNotConfigured}
	}
	cfg := h.config
	h.mu.Unlock()

	runners := make(map[string]*runner.Runner, len(cfg.Devices))
	for _, dc := range cfg.Devices {
		dec, err := sensor.New(dc)
		if err != nil {
			// Validate already rejected unrecognized sensor types, so this
			// can only happen for a TEMPERATURE device with channels <1,
			// which Validate also rejects; defensive, not reachable.
			return protocol.ResponseFrame{Response: protocol.RespInvalidConfiguration}
		}
		t := h.factory(dc)
		name := dc.Name
		runners[name] = runner.New(name, dec, t, h.onTelem)
	}

	for _, r := range runners {
		r.Start()
	}

	h.mu.Lock()
	h.runners = runners
	h.state = StateRunning
	h.mu.Unlock()
	return protocol.ResponseFrame{Response: protocol.RespOK}
}

func (h *Handler) handleStop() protocol.ResponseFrame {
	h.mu.Lock()
	if h.state != StateRunning {
		h.mu.Unlock()
		return protocol.ResponseFrame{Response: protocol.RespNotStarted}
	}
	runners := h.runners
	h.mu.Unlock()

	stopAllRunners(runners)

	h.mu.Lock()
	h.state = StateConfigured
	h.runners = make(map[string]*runner.Runner)
	h.mu.Unlock()
	return protocol.ResponseFrame{Response: protocol.RespOK}
}

// stopAll stops every runner and returns the handler to CONFIGURED (or
// leaves it UNCONFIGURED if it never reached CONFIGURED). Used by
// disconnect/exit and by server.Server on client departure.
func (h *Handler) stopAll() {
	h.mu.Lock()
	if h.state != StateRunning {
		h.mu.Unlock()
		return
	}
	runners := h.runners
	h.mu.Unlock()

	stopAllRunners(runners)

	h.mu.Lock()
	h.state = StateConfigured
	h.runners = make(map[string]*runner.Runner)
	h.mu.Unlock()
}

// stopAllRunners stops every runner concurrently -- spec section 5 makes
// no ordering promise across devices, and a Stop may itself take up to
// one read_timeout, so stopping N runners serially would cost N times
// that instead of one.
func stopAllRunners(runners map[string]*runner.Runner) {
	var wg sync.WaitGroup
	wg.Add(len(runners))
	for _, r := range runners {
		r := r
		go func() {
			defer wg.Done()
			r.Stop()
		}()
	}
	wg.Wait()
}
