/*Package server implements the command/telemetry socket, spec section
4.6: a single-client TCP listener that frames line-delimited JSON in
both directions and dispatches decoded commands to a control.Handler.

The accept loop keeps running while a client is connected so that a
second connection attempt can be actively rejected rather than left to
queue in the OS backlog, per spec section 1's "one client at a time by
design" non-goal. The busy flag that implements the rejection is the
same shape as the teacher's server/middleware/locker.Locker.isLocked --
a boolean guarded by a mutex, set on acquire and cleared on release --
stripped of the HTTP/JSON plumbing that locker wrapped it in, since
there is no middleware chain here to gate.

Egress framing follows spec section 9's single-writer discipline: each
connection gets one writeLoop goroutine reading off a buffered channel,
so command responses and per-device telemetry converging from many
runner goroutines never interleave mid-frame.
*/
package server

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"strings"
	"sync"

	"github.com/lsst-ts/ts-envsensors/control"
	"github.com/lsst-ts/ts-envsensors/protocol"
	"github.com/lsst-ts/ts-envsensors/sensor"
)

// Server accepts the single client described in spec section 4.6 and
// wires its commands to a freshly constructed control.Handler per
// connection, so a new client always starts CONNECTED_UNCONFIGURED
// regardless of what a prior client had configured.
type Server struct {
	factory control.TransportFactory

	ln net.Listener

	mu   sync.Mutex
	busy bool

	exitOnce sync.Once
	exit     chan struct{}
}

// New creates a Server. factory selects the real or mock transport for
// each configured device, per simulation_mode (spec section 6).
func New(factory control.TransportFactory) *Server {
	return &Server{
		factory: factory,
		exit:    make(chan struct{}),
	}
}

// Done is closed once a connected client issues the exit command. The
// process entry point waits on it to terminate with exit code 0.
func (s *Server) Done() <-chan struct{} {
	return s.exit
}

// ListenAndServe binds addr and accepts clients until the listener is
// closed or a server-fatal error occurs (spec section 7's error kind
// 5). A bind failure is returned directly so the caller can treat it
// as the unrecoverable startup failure spec section 6 calls for.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("envsensorsd: listen on %s: %w", addr, err)
	}
	s.ln = ln
	log.Printf("envsensorsd: listening on %s", addr)

	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go s.serve(conn)
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	if s.ln == nil {
		return nil
	}
	return s.ln.Close()
}

func (s *Server) acquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return false
	}
	s.busy = true
	return true
}

func (s *Server) release() {
	s.mu.Lock()
	s.busy = false
	s.mu.Unlock()
}

func (s *Server) serve(conn net.Conn) {
	defer conn.Close()
	if !s.acquire() {
		// A second connection attempt while one client is active is
		// rejected by closing without a reply; there is no response
		// code for a connection-level refusal, only command-level ones.
		return
	}
	defer s.release()

	remote := conn.RemoteAddr()
	log.Printf("envsensorsd: client connected from %s", remote)

	writeCh := make(chan interface{}, 64)
	writerDone := make(chan struct{})
	go writeLoop(conn, writeCh, writerDone)

	h := control.New(s.factory, func(rec sensor.Record) {
		writeCh <- telemetryFrame(rec)
	})

	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			break
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}

		var cmd protocol.CommandFrame
		if err := json.Unmarshal([]byte(line), &cmd); err != nil {
			// Malformed JSON: same response-code reuse and rationale as
			// control.Handler's unrecognized-command case; see
			// DESIGN.md's "response code for unknown command / malformed JSON".
			writeCh <- protocol.ResponseFrame{Response: protocol.RespInvalidConfiguration}
			continue
		}

		resp := h.HandleCommand(cmd)
		writeCh <- resp

		if cmd.Command == protocol.CmdExit {
			s.exitOnce.Do(func() { close(s.exit) })
			break
		}
		if cmd.Command == protocol.CmdDisconnect {
			break
		}
	}

	// Client socket close implicitly triggers stop then disconnect
	// (spec section 5); an explicit exit or disconnect command already
	// took this path, so running it again here is a no-op for those
	// cases and the only path taken for an unexpected drop.
	h.HandleCommand(protocol.CommandFrame{Command: protocol.CmdDisconnect})

	close(writeCh)
	<-writerDone
	log.Printf("envsensorsd: client %s disconnected", remote)
}

// writeLoop is the single writer for one connection: every command
// response and telemetry record is marshaled and written here, so
// concurrent runner goroutines calling the handler's callback never
// race on the socket itself.
func writeLoop(conn net.Conn, writeCh <-chan interface{}, done chan<- struct{}) {
	defer close(done)
	broken := false
	for frame := range writeCh {
		if broken {
			continue
		}
		b, err := json.Marshal(frame)
		if err != nil {
			log.Printf("envsensorsd: failed to marshal %T: %v", frame, err)
			continue
		}
		b = append(b, '\r', '\n')
		if _, err := conn.Write(b); err != nil {
			log.Printf("envsensorsd: write error, dropping further output for this client: %v", err)
			broken = true
		}
	}
}

// telemetryFrame builds the egress telemetry envelope, spec section 6:
// [name, timestamp, error, value0, value1, ...]. NaN channel values
// marshal as JSON null -- encoding/json refuses to encode NaN directly --
// which is the "JSON implementation choice" spec section 6 calls out.
func telemetryFrame(rec sensor.Record) protocol.TelemetryFrame {
	values := make([]interface{}, 0, 3+len(rec.Values))
	values = append(values, rec.Name, rec.Timestamp, rec.Error)
	for _, v := range rec.Values {
		if v.IsValid() {
			values = append(values, float64(v))
		} else {
			values = append(values, nil)
		}
	}
	return protocol.TelemetryFrame{Telemetry: values}
}
