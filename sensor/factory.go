package sensor

import (
	"fmt"

	"github.com/lsst-ts/ts-envsensors/protocol"
)

// New builds the Decoder for a DeviceConfig's sensor_type. This is the
// tagged-variant factory the design notes (spec section 9) call for:
// three sensor kinds modeled as implementations of one capability set.
func New(cfg protocol.DeviceConfig) (Decoder, error) {
	switch cfg.SensorType {
	case protocol.SensorTemperature:
		if cfg.NumChannels < 1 {
			return nil, fmt.Errorf("sensor_type TEMPERATURE requires num_channels >= 1")
		}
		return NewSELDecoder(cfg.Name, cfg.NumChannels), nil
	case protocol.SensorHX85A:
		return NewHX85ADecoder(cfg.Name), nil
	case protocol.SensorHX85BA:
		return NewHX85BADecoder(cfg.Name), nil
	default:
		return nil, fmt.Errorf("unrecognized sensor_type %q", cfg.SensorType)
	}
}
