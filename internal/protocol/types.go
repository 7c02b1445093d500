package protocol

import (
	"fmt"
	"strings"
)

// CommandType is the 3-bit frame type carried in the top bits of CMD0.
type CommandType uint8

const (
	POLL CommandType = 0
	SREQ CommandType = 1
	AREQ CommandType = 2
	SRSP CommandType = 3
)

func (t CommandType) String() string {
	switch t {
	case POLL:
		return "POLL"
	case SREQ:
		return "SREQ"
	case AREQ:
		return "AREQ"
	case SRSP:
		return "SRSP"
	default:
		return fmt.Sprintf("TYPE%d", uint8(t))
	}
}

// ParseCommandType accepts the names produced by String.
func ParseCommandType(raw string) (CommandType, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "POLL":
		return POLL, nil
	case "SREQ":
		return SREQ, nil
	case "AREQ":
		return AREQ, nil
	case "SRSP":
		return SRSP, nil
	default:
		return 0, fmt.Errorf("protocol: unknown command type %q", raw)
	}
}

// Subsystem is the 5-bit command namespace carried in the low bits of CMD0.
type Subsystem uint8

const (
	SubsystemRPCError  Subsystem = 0x00
	SubsystemSYS       Subsystem = 0x01
	SubsystemMAC       Subsystem = 0x02
	SubsystemNWK       Subsystem = 0x03
	SubsystemAF        Subsystem = 0x04
	SubsystemZDO       Subsystem = 0x05
	SubsystemSAPI      Subsystem = 0x06
	SubsystemUTIL      Subsystem = 0x07
	SubsystemDEBUG     Subsystem = 0x08
	SubsystemAPP       Subsystem = 0x09
	SubsystemAPPConfig Subsystem = 0x0F
	SubsystemZGP       Subsystem = 0x15
)

var subsystemNames = map[Subsystem]string{
	SubsystemRPCError:  "RPCError",
	SubsystemSYS:       "SYS",
	SubsystemMAC:       "MAC",
	SubsystemNWK:       "NWK",
	SubsystemAF:        "AF",
	SubsystemZDO:       "ZDO",
	SubsystemSAPI:      "SAPI",
	SubsystemUTIL:      "UTIL",
	SubsystemDEBUG:     "DEBUG",
	SubsystemAPP:       "APP",
	SubsystemAPPConfig: "APPConfig",
	SubsystemZGP:       "ZGP",
}

func (s Subsystem) String() string {
	if name, ok := subsystemNames[s]; ok {
		return name
	}
	return fmt.Sprintf("SUBSYS0x%02X", uint8(s))
}

// ParseSubsystem resolves a subsystem by its String name, case-insensitively.
func ParseSubsystem(raw string) (Subsystem, error) {
	raw = strings.TrimSpace(raw)
	for sub, name := range subsystemNames {
		if strings.EqualFold(name, raw) {
			return sub, nil
		}
	}
	return 0, fmt.Errorf("protocol: unknown subsystem %q", raw)
}

const (
	typeShift     = 5
	subsystemMask = 0x1F
	typeMask      = 0x07
)

// Header identifies a command on the wire: CMD0 = type<<5 | subsystem, CMD1 = id.
type Header struct {
	Type      CommandType
	Subsystem Subsystem
	ID        uint8
}

// HeaderFromBytes splits the two command bytes of a frame.
func HeaderFromBytes(cmd0, cmd1 byte) Header {
	return Header{
		Type:      CommandType((cmd0 >> typeShift) & typeMask),
		Subsystem: Subsystem(cmd0 & subsystemMask),
		ID:        cmd1,
	}
}

func (h Header) Cmd0() byte {
	return byte(h.Type&typeMask)<<typeShift | byte(h.Subsystem&subsystemMask)
}

func (h Header) Cmd1() byte {
	return h.ID
}

// Response returns the SRSP header answering this SREQ header.
func (h Header) Response() Header {
	return Header{Type: SRSP, Subsystem: h.Subsystem, ID: h.ID}
}

// Request returns the SREQ header answered by this SRSP header.
func (h Header) Request() Header {
	return Header{Type: SREQ, Subsystem: h.Subsystem, ID: h.ID}
}

// WithType returns h with its frame type replaced.
func (h Header) WithType(t CommandType) Header {
	h.Type = t
	return h
}

// Uint16 packs the header as CMD0 | CMD1<<8, the order used in RPC error frames.
func (h Header) Uint16() uint16 {
	return uint16(h.Cmd0()) | uint16(h.Cmd1())<<8
}

// HeaderFromUint16 reverses Uint16.
func HeaderFromUint16(v uint16) Header {
	return HeaderFromBytes(byte(v), byte(v>>8))
}

func (h Header) String() string {
	return fmt.Sprintf("%s %s 0x%02X", h.Type, h.Subsystem, h.ID)
}
