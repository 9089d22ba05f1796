/*Command envsensorsd runs the environmental-sensor controller's socket
server, spec section 6. It takes exactly one optional CONFIGPATH
argument for its own bootstrap settings -- listen address,
simulation_mode, and a read_timeout value -- not the device
configuration itself, which a client supplies later over the wire via
the configure command. read_timeout is loaded and logged at startup but
is not passed to device transports; each sensor decoder sets its own
transport read timeout.
*/
package main

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"

	"github.com/lsst-ts/ts-envsensors/control"
	"github.com/lsst-ts/ts-envsensors/protocol"
	"github.com/lsst-ts/ts-envsensors/server"
	"github.com/lsst-ts/ts-envsensors/transport"
)

const helpBlurb = `
Usage: envsensorsd [CONFIGPATH]

CONFIGPATH is a YAML file of bootstrap settings for the daemon itself;
device configuration is never read from disk, it arrives over the
socket via the "configure" command.

Example CONFIGPATH contents:
  addr: ":8900"
  simulation_mode: true
  read_timeout: 2s
`

// Config is envsensorsd's own bootstrap configuration -- distinct from
// protocol.Configuration, which a connected client supplies over the wire.
type Config struct {
	Addr           string        `koanf:"addr" yaml:"addr"`
	SimulationMode bool          `koanf:"simulation_mode" yaml:"simulation_mode"`
	ReadTimeout    time.Duration `koanf:"read_timeout" yaml:"read_timeout"`
}

func defaultConfig() Config {
	return Config{
		Addr:           ":8900",
		SimulationMode: false,
		ReadTimeout:    2 * time.Second,
	}
}

var k = koanf.New(".")

// loadConfig layers a YAML file over the defaults, same two-step load
// as the teacher's cmd/multiserver: a missing file is not an error,
// since the defaults alone make a valid configuration.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if err := k.Load(structs.Provider(cfg, "koanf"), nil); err != nil {
		return cfg, err
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if !strings.Contains(err.Error(), "no such") {
				return cfg, err
			}
		}
	}
	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// buildFactory selects the transport kind per spec section 6's
// simulation_mode flag, resolving a TEMPERATURE device's channel count
// from the configuration rather than the sensor type's fixed count.
func buildFactory(cfg Config) control.TransportFactory {
	if cfg.SimulationMode {
		return func(dc protocol.DeviceConfig) transport.Transport {
			n := dc.NumChannels
			if fixed, ok := dc.SensorType.NumChannels(); ok {
				n = fixed
			}
			return transport.NewMockTransport(string(dc.SensorType), n)
		}
	}
	return func(dc protocol.DeviceConfig) transport.Transport {
		return transport.NewSerialTransport(dc.DevID)
	}
}

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "help", "-h", "--help":
			fmt.Println(helpBlurb)
			return
		}
	}

	var path string
	if len(os.Args) > 1 {
		path = os.Args[1]
	}

	cfg, err := loadConfig(path)
	if err != nil {
		log.Fatalf("envsensorsd: error loading config: %v", err)
	}

	log.Printf("envsensorsd: starting, simulation_mode=%v read_timeout=%s addr=%s",
		cfg.SimulationMode, cfg.ReadTimeout, cfg.Addr)

	srv := server.New(buildFactory(cfg))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe(cfg.Addr) }()

	select {
	case err := <-errCh:
		log.Fatalf("envsensorsd: server-fatal error: %v", err)
	case <-srv.Done():
		log.Println("envsensorsd: exit command received, shutting down")
		srv.Close()
		os.Exit(0)
	}
}
