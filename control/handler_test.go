package control_test

import (
	"sync"
	"testing"
	"time"

	"github.com/lsst-ts/ts-envsensors/control"
	"github.com/lsst-ts/ts-envsensors/protocol"
	"github.com/lsst-ts/ts-envsensors/sensor"
	"github.com/lsst-ts/ts-envsensors/transport"
)

func mockFactory(dc protocol.DeviceConfig) transport.Transport {
	n := dc.NumChannels
	return transport.NewMockTransport(string(dc.SensorType), n)
}

func threeDeviceConfig() map[string]interface{} {
	return map[string]interface{}{
		"devices": []interface{}{
			map[string]interface{}{
				"name": "Test01", "device_type": "FTDI", "ftdi_id": "FT1",
				"sensor_type": "TEMPERATURE", "channels": float64(4),
			},
			map[string]interface{}{
				"name": "Test02", "device_type": "SERIAL", "serial_port": "/dev/ttyS0",
				"sensor_type": "HX85A",
			},
			map[string]interface{}{
				"name": "Test03", "device_type": "SERIAL", "serial_port": "/dev/ttyS1",
				"sensor_type": "HX85BA",
			},
		},
	}
}

func TestUnconfiguredStartRejected(t *testing.T) {
	h := control.New(mockFactory, func(sensor.Record) {})
	resp := h.HandleCommand(protocol.CommandFrame{Command: protocol.CmdStart})
	if resp.Response != protocol.RespNotConfigured {
		t.Fatalf("expected NOT_CONFIGURED, got %s", resp.Response)
	}
	if h.State() != control.StateUnconfigured {
		t.Fatalf("expected state unchanged, got %v", h.State())
	}
}

func TestEmptyDevicesListRejected(t *testing.T) {
	h := control.New(mockFactory, func(sensor.Record) {})
	resp := h.HandleCommand(protocol.CommandFrame{
		Command:    protocol.CmdConfigure,
		Parameters: map[string]interface{}{"devices": []interface{}{}},
	})
	if resp.Response != protocol.RespInvalidConfiguration {
		t.Fatalf("expected INVALID_CONFIGURATION, got %s", resp.Response)
	}
}

func TestThreeDeviceConfigStartAndTelemetry(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[string]sensor.Record)
	h := control.New(mockFactory, func(rec sensor.Record) {
		mu.Lock()
		seen[rec.Name] = rec
		mu.Unlock()
	})

	resp := h.HandleCommand(protocol.CommandFrame{
		Command:    protocol.CmdConfigure,
		Parameters: threeDeviceConfig(),
	})
	if resp.Response != protocol.RespOK {
		t.Fatalf("configure: expected OK, got %s", resp.Response)
	}

	resp = h.HandleCommand(protocol.CommandFrame{Command: protocol.CmdStart})
	if resp.Response != protocol.RespOK {
		t.Fatalf("start: expected OK, got %s", resp.Response)
	}

	deadline := time.After(5 * time.Second)
	for {
		mu.Lock()
		n := len(seen)
		mu.Unlock()
		if n == 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for telemetry from all 3 devices, got %d", n)
		case <-time.After(20 * time.Millisecond):
		}
	}

	mu.Lock()
	t01 := seen["Test01"]
	mu.Unlock()
	if len(t01.Values) != 4 {
		t.Errorf("Test01 (TEMPERATURE, 4ch): expected 7-entry record (3+4), got %d values", len(t01.Values))
	}

	resp = h.HandleCommand(protocol.CommandFrame{Command: protocol.CmdStop})
	if resp.Response != protocol.RespOK {
		t.Fatalf("stop: expected OK, got %s", resp.Response)
	}
	if h.State() != control.StateConfigured {
		t.Fatalf("expected CONFIGURED after stop, got %v", h.State())
	}
}

func TestStopWhenNotRunningIsNotStarted(t *testing.T) {
	h := control.New(mockFactory, func(sensor.Record) {})
	resp := h.HandleCommand(protocol.CommandFrame{Command: protocol.CmdStop})
	if resp.Response != protocol.RespNotStarted {
		t.Fatalf("expected NOT_STARTED, got %s", resp.Response)
	}
}

func TestRestartAfterStopWithoutReconfiguring(t *testing.T) {
	h := control.New(mockFactory, func(sensor.Record) {})
	h.HandleCommand(protocol.CommandFrame{Command: protocol.CmdConfigure, Parameters: threeDeviceConfig()})
	h.HandleCommand(protocol.CommandFrame{Command: protocol.CmdStart})
	h.HandleCommand(protocol.CommandFrame{Command: protocol.CmdStop})

	resp := h.HandleCommand(protocol.CommandFrame{Command: protocol.CmdStart})
	if resp.Response != protocol.RespOK {
		t.Fatalf("expected OK restarting without reconfiguring, got %s", resp.Response)
	}
	h.HandleCommand(protocol.CommandFrame{Command: protocol.CmdStop})
}

func TestReconfigureWhileRunningIsAlreadyStarted(t *testing.T) {
	h := control.New(mockFactory, func(sensor.Record) {})
	h.HandleCommand(protocol.CommandFrame{Command: protocol.CmdConfigure, Parameters: threeDeviceConfig()})
	h.HandleCommand(protocol.CommandFrame{Command: protocol.CmdStart})

	resp := h.HandleCommand(protocol.CommandFrame{Command: protocol.CmdConfigure, Parameters: threeDeviceConfig()})
	if resp.Response != protocol.RespAlreadyStarted {
		t.Fatalf("expected ALREADY_STARTED, got %s", resp.Response)
	}
	h.HandleCommand(protocol.CommandFrame{Command: protocol.CmdStop})
}
