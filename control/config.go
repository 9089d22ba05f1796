package control

import (
	"fmt"

	"github.com/lsst-ts/ts-envsensors/protocol"
	"github.com/lsst-ts/ts-envsensors/util"
)

/*Validate decodes and checks a configure payload against spec section
4.5's rules, returning a Configuration only if every rule passes. This
is a pure function run before any state mutation, per the design note
in spec section 9: a rejected configuration must never disturb the
configuration already in place.
*/
func Validate(payload map[string]interface{}) (protocol.Configuration, error) {
	rawDevices, ok := payload["devices"]
	if !ok {
		return protocol.Configuration{}, fmt.Errorf("payload missing \"devices\"")
	}
	list, ok := rawDevices.([]interface{})
	if !ok || len(list) == 0 {
		return protocol.Configuration{}, fmt.Errorf("\"devices\" must be a non-empty list")
	}

	devices := make([]protocol.DeviceConfig, 0, len(list))
	names := make([]string, 0, len(list))
	for i, raw := range list {
		m, ok := raw.(map[string]interface{})
		if !ok {
			return protocol.Configuration{}, fmt.Errorf("devices[%d] is not an object", i)
		}
		cfg, err := validateDevice(m)
		if err != nil {
			return protocol.Configuration{}, fmt.Errorf("devices[%d]: %w", i, err)
		}
		devices = append(devices, cfg)
		names = append(names, cfg.Name)
	}

	if len(util.UniqueString(names)) != len(names) {
		return protocol.Configuration{}, fmt.Errorf("device names must be unique")
	}

	return protocol.Configuration{Devices: devices}, nil
}

func validateDevice(m map[string]interface{}) (protocol.DeviceConfig, error) {
	name, _ := m["name"].(string)
	if name == "" {
		return protocol.DeviceConfig{}, fmt.Errorf("missing \"name\"")
	}

	deviceTypeStr, _ := m["device_type"].(string)
	if deviceTypeStr == "" {
		return protocol.DeviceConfig{}, fmt.Errorf("missing \"device_type\"")
	}
	deviceType, err := protocol.ParseDeviceType(deviceTypeStr)
	if err != nil {
		return protocol.DeviceConfig{}, err
	}

	var devID string
	switch deviceType {
	case protocol.DeviceFTDI:
		devID, _ = m["ftdi_id"].(string)
		if devID == "" {
			return protocol.DeviceConfig{}, fmt.Errorf("device_type FTDI requires \"ftdi_id\"")
		}
	case protocol.DeviceSerial:
		devID, _ = m["serial_port"].(string)
		if devID == "" {
			return protocol.DeviceConfig{}, fmt.Errorf("device_type SERIAL requires \"serial_port\"")
		}
	}

	sensorTypeStr, _ := m["sensor_type"].(string)
	if sensorTypeStr == "" {
		return protocol.DeviceConfig{}, fmt.Errorf("missing \"sensor_type\"")
	}
	sensorType, err := protocol.ParseSensorType(sensorTypeStr)
	if err != nil {
		return protocol.DeviceConfig{}, err
	}

	numChannels := 0
	if sensorType == protocol.SensorTemperature {
		n, ok := numberField(m, "channels")
		if !ok || n < 1 {
			return protocol.DeviceConfig{}, fmt.Errorf("sensor_type TEMPERATURE requires channels >= 1")
		}
		numChannels = n
	}

	return protocol.DeviceConfig{
		Name:        name,
		DeviceType:  deviceType,
		DevID:       devID,
		SensorType:  sensorType,
		NumChannels: numChannels,
	}, nil
}

// numberField extracts an integer from a JSON-decoded map, where numbers
// decode to float64 by default.
func numberField(m map[string]interface{}, key string) (int, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	default:
		return 0, false
	}
}
