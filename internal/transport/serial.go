package transport

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"go.bug.st/serial"
)

// SerialConfig describes the NCP UART.
type SerialConfig struct {
	Port        string
	Baud        int
	RTSCTS      bool
	ReadTimeout time.Duration
}

const DefaultBaud = 115200

// OpenSerial opens the UART as a Channel using 8N1 framing.
func OpenSerial(cfg SerialConfig) (Channel, error) {
	name := strings.TrimSpace(cfg.Port)
	if name == "" {
		return nil, errors.New("transport: serial port not configured")
	}
	if cfg.Baud <= 0 {
		cfg.Baud = DefaultBaud
	}
	mode := &serial.Mode{
		BaudRate: cfg.Baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, errors.Wrapf(err, "transport: open serial %s", name)
	}
	if err := port.SetDTR(true); err != nil {
		log.Debug().Msgf("transport.OpenSerial port=%s set dtr: %v", name, err)
	}
	if err := port.SetRTS(cfg.RTSCTS); err != nil {
		log.Debug().Msgf("transport.OpenSerial port=%s set rts: %v", name, err)
	}
	if cfg.ReadTimeout > 0 {
		if err := port.SetReadTimeout(cfg.ReadTimeout); err != nil {
			_ = port.Close()
			return nil, errors.Wrapf(err, "transport: serial read timeout %s", name)
		}
	}
	log.Info().Msgf("transport.OpenSerial port=%s baud=%d rts_cts=%t", name, cfg.Baud, cfg.RTSCTS)
	return port, nil
}

// ListPorts returns the serial ports visible to the host.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, errors.Wrap(err, "transport: list serial ports")
	}
	return ports, nil
}
