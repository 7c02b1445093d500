package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/danmuck/znplink/internal/protocol"
)

const (
	VersionZNP12 = "znp-1.2"
	VersionZNP3x = "znp-3.x"

	DefaultVersion = VersionZNP3x
)

func param(name string, t protocol.ParamType) protocol.Param {
	return protocol.Param{Name: name, Type: t}
}

func sreq(sub protocol.Subsystem, id uint8) protocol.Header {
	return protocol.Header{Type: protocol.SREQ, Subsystem: sub, ID: id}
}

func areq(sub protocol.Subsystem, id uint8) protocol.Header {
	return protocol.Header{Type: protocol.AREQ, Subsystem: sub, ID: id}
}

var statusOnly = []protocol.Param{param(StatusParam, protocol.TypeStatus)}

// rpcErrorDescriptor decodes the SRSP the NCP returns for requests it could
// not parse. RequestHeader packs the offending CMD0|CMD1<<8.
var rpcErrorDescriptor = Descriptor{
	Name:   "RPCError.CommandNotRecognized",
	Header: sreq(protocol.SubsystemRPCError, 0x00),
	Reply:  ReplySync,
	Response: []protocol.Param{
		param("ErrorCode", protocol.TypeUint8),
		param("RequestHeader", protocol.TypeUint16),
	},
}

// RPCErrorName is the command name of RPC error frames.
var RPCErrorName = rpcErrorDescriptor.Name

// RPC error codes carried in ErrorCode.
const (
	RPCErrorInvalidSubsystem = 0x01
	RPCErrorInvalidCommandID = 0x02
	RPCErrorInvalidParameter = 0x03
	RPCErrorInvalidLength    = 0x04
)

func commonCommands() []Descriptor {
	return []Descriptor{
		{
			Name:     "SYS.Ping",
			Header:   sreq(protocol.SubsystemSYS, 0x01),
			Reply:    ReplySync,
			Response: []protocol.Param{param("Capabilities", protocol.TypeUint16)},
		},
		{
			Name:    "SYS.ResetReq",
			Header:  areq(protocol.SubsystemSYS, 0x00),
			Request: []protocol.Param{param("Type", protocol.TypeUint8)},
		},
		{
			Name:   "SYS.ResetInd",
			Header: areq(protocol.SubsystemSYS, 0x80),
			Request: []protocol.Param{
				param("Reason", protocol.TypeUint8),
				param("TransportRev", protocol.TypeUint8),
				param("ProductId", protocol.TypeUint8),
				param("MajorRel", protocol.TypeUint8),
				param("MinorRel", protocol.TypeUint8),
				param("HwRev", protocol.TypeUint8),
			},
		},
		{
			Name:   "SYS.OSALNVRead",
			Header: sreq(protocol.SubsystemSYS, 0x08),
			Reply:  ReplySync,
			Request: []protocol.Param{
				param("Id", protocol.TypeUint16),
				param("Offset", protocol.TypeUint8),
			},
			Response: []protocol.Param{
				param(StatusParam, protocol.TypeStatus),
				param("Value", protocol.TypeShortBytes),
			},
		},
		{
			Name:   "SYS.OSALNVWrite",
			Header: sreq(protocol.SubsystemSYS, 0x09),
			Reply:  ReplySync,
			Request: []protocol.Param{
				param("Id", protocol.TypeUint16),
				param("Offset", protocol.TypeUint8),
				param("Value", protocol.TypeShortBytes),
			},
			Response: statusOnly,
		},
		{
			Name:   "UTIL.GetDeviceInfo",
			Header: sreq(protocol.SubsystemUTIL, 0x00),
			Reply:  ReplySync,
			Response: []protocol.Param{
				param(StatusParam, protocol.TypeStatus),
				param("IEEE", protocol.TypeEUI64),
				param("NWK", protocol.TypeNWK),
				param("DeviceType", protocol.TypeUint8),
				param("DeviceState", protocol.TypeUint8),
				param("AssociatedDevices", protocol.TypeList16),
			},
		},
		{
			Name:   "AF.Register",
			Header: sreq(protocol.SubsystemAF, 0x00),
			Reply:  ReplySync,
			Request: []protocol.Param{
				param("Endpoint", protocol.TypeUint8),
				param("ProfileId", protocol.TypeUint16),
				param("DeviceId", protocol.TypeUint16),
				param("DeviceVersion", protocol.TypeUint8),
				param("LatencyReq", protocol.TypeUint8),
				param("InputClusters", protocol.TypeList16),
				param("OutputClusters", protocol.TypeList16),
			},
			Response: statusOnly,
		},
		{
			Name:   "AF.DataRequest",
			Header: sreq(protocol.SubsystemAF, 0x01),
			Reply:  ReplyConfirmThenCallback,
			Request: []protocol.Param{
				param("DstAddr", protocol.TypeNWK),
				param("DstEndpoint", protocol.TypeUint8),
				param("SrcEndpoint", protocol.TypeUint8),
				param("ClusterId", protocol.TypeUint16),
				param("TSN", protocol.TypeUint8),
				param("Options", protocol.TypeUint8),
				param("Radius", protocol.TypeUint8),
				param("Data", protocol.TypeShortBytes),
			},
			Response:      statusOnly,
			Callback:      "AF.DataConfirm",
			CallbackMatch: []string{"SrcEndpoint:Endpoint", "TSN"},
		},
		{
			Name:   "AF.DataConfirm",
			Header: areq(protocol.SubsystemAF, 0x80),
			Request: []protocol.Param{
				param(StatusParam, protocol.TypeStatus),
				param("Endpoint", protocol.TypeUint8),
				param("TSN", protocol.TypeUint8),
			},
		},
		{
			Name:   "AF.IncomingMsg",
			Header: areq(protocol.SubsystemAF, 0x81),
			Request: []protocol.Param{
				param("GroupId", protocol.TypeUint16),
				param("ClusterId", protocol.TypeUint16),
				param("SrcAddr", protocol.TypeNWK),
				param("SrcEndpoint", protocol.TypeUint8),
				param("DstEndpoint", protocol.TypeUint8),
				param("WasBroadcast", protocol.TypeBool),
				param("LQI", protocol.TypeUint8),
				param("SecurityUse", protocol.TypeBool),
				param("TimeStamp", protocol.TypeUint32),
				param("TSN", protocol.TypeUint8),
				param("Data", protocol.TypeShortBytes),
				param("MacSrcAddr", protocol.TypeNWK),
				param("MsgResultRadius", protocol.TypeUint8),
			},
		},
		{
			Name:   "ZDO.ActiveEpReq",
			Header: sreq(protocol.SubsystemZDO, 0x05),
			Reply:  ReplyConfirmThenCallback,
			Request: []protocol.Param{
				param("DstAddr", protocol.TypeNWK),
				param("NWKAddrOfInterest", protocol.TypeNWK),
			},
			Response:      statusOnly,
			Callback:      "ZDO.ActiveEpRsp",
			CallbackMatch: []string{"DstAddr:Src", "NWKAddrOfInterest:NWK"},
		},
		{
			Name:   "ZDO.ActiveEpRsp",
			Header: areq(protocol.SubsystemZDO, 0x85),
			Request: []protocol.Param{
				param("Src", protocol.TypeNWK),
				param(StatusParam, protocol.TypeStatus),
				param("NWK", protocol.TypeNWK),
				param("ActiveEndpoints", protocol.TypeShortBytes),
			},
		},
		{
			Name:   "ZDO.MgmtPermitJoinReq",
			Header: sreq(protocol.SubsystemZDO, 0x36),
			Reply:  ReplyConfirmThenCallback,
			Request: []protocol.Param{
				param("AddrMode", protocol.TypeUint8),
				param("Dst", protocol.TypeNWK),
				param("Duration", protocol.TypeUint8),
				param("TCSignificance", protocol.TypeUint8),
			},
			Response:      statusOnly,
			Callback:      "ZDO.MgmtPermitJoinRsp",
			CallbackMatch: []string{"Dst:Src"},
		},
		{
			Name:   "ZDO.MgmtPermitJoinRsp",
			Header: areq(protocol.SubsystemZDO, 0xB6),
			Request: []protocol.Param{
				param("Src", protocol.TypeNWK),
				param(StatusParam, protocol.TypeStatus),
			},
		},
		{
			Name:    "ZDO.StateChangeInd",
			Header:  areq(protocol.SubsystemZDO, 0xC0),
			Request: []protocol.Param{param("State", protocol.TypeUint8)},
		},
		{
			Name:   "ZDO.EndDeviceAnnceInd",
			Header: areq(protocol.SubsystemZDO, 0xC1),
			Request: []protocol.Param{
				param("Src", protocol.TypeNWK),
				param("NWK", protocol.TypeNWK),
				param("IEEE", protocol.TypeEUI64),
				param("Capabilities", protocol.TypeUint8),
			},
		},
		{
			Name:   "ZDO.LeaveInd",
			Header: areq(protocol.SubsystemZDO, 0xC9),
			Request: []protocol.Param{
				param("NWK", protocol.TypeNWK),
				param("IEEE", protocol.TypeEUI64),
				param("Request", protocol.TypeBool),
				param("Remove", protocol.TypeBool),
				param("Rejoin", protocol.TypeBool),
			},
		},
	}
}

var versionResponse12 = []protocol.Param{
	param("TransportRev", protocol.TypeUint8),
	param("ProductId", protocol.TypeUint8),
	param("MajorRel", protocol.TypeUint8),
	param("MinorRel", protocol.TypeUint8),
	param("MaintRel", protocol.TypeUint8),
}

func znp12() Set {
	commands := commonCommands()
	commands = append(commands, Descriptor{
		Name:     "SYS.Version",
		Header:   sreq(protocol.SubsystemSYS, 0x02),
		Reply:    ReplySync,
		Response: versionResponse12,
	})
	return Set{Version: VersionZNP12, Checksum: "xor", Commands: commands}
}

func znp3x() Set {
	commands := commonCommands()
	version := make([]protocol.Param, 0, len(versionResponse12)+3)
	version = append(version, versionResponse12...)
	version = append(version,
		param("CodeRevision", protocol.TypeUint32),
		param("BootloaderBuildType", protocol.TypeUint8),
		param("BootloaderRevision", protocol.TypeUint32),
	)
	commands = append(commands,
		Descriptor{
			Name:     "SYS.Version",
			Header:   sreq(protocol.SubsystemSYS, 0x02),
			Reply:    ReplySync,
			Response: version,
		},
		Descriptor{
			Name:   "AF.DataRequestExt",
			Header: sreq(protocol.SubsystemAF, 0x02),
			Reply:  ReplyConfirmThenCallback,
			Request: []protocol.Param{
				param("DstAddrMode", protocol.TypeUint8),
				param("DstAddr", protocol.TypeEUI64),
				param("DstEndpoint", protocol.TypeUint8),
				param("DstPanId", protocol.TypeUint16),
				param("SrcEndpoint", protocol.TypeUint8),
				param("ClusterId", protocol.TypeUint16),
				param("TSN", protocol.TypeUint8),
				param("Options", protocol.TypeUint8),
				param("Radius", protocol.TypeUint8),
				param("Data", protocol.TypeLongBytes),
			},
			Response:      statusOnly,
			Callback:      "AF.DataConfirm",
			CallbackMatch: []string{"SrcEndpoint:Endpoint", "TSN"},
		},
		Descriptor{
			Name:          "APPConfig.BDBStartCommissioning",
			Header:        sreq(protocol.SubsystemAPPConfig, 0x05),
			Reply:         ReplyConfirmThenCallback,
			Request:       []protocol.Param{param("Mode", protocol.TypeUint8)},
			Response:      statusOnly,
			Callback:      "APPConfig.BDBCommissioningNotification",
			CallbackMatch: []string{"Mode"},
		},
		Descriptor{
			Name:   "APPConfig.BDBCommissioningNotification",
			Header: areq(protocol.SubsystemAPPConfig, 0x80),
			Request: []protocol.Param{
				param(StatusParam, protocol.TypeUint8),
				param("Mode", protocol.TypeUint8),
				param("RemainingModes", protocol.TypeUint8),
			},
		},
	)
	return Set{Version: VersionZNP3x, Checksum: "xor", Commands: commands}
}

var builtins = map[string]func() Set{
	VersionZNP12: znp12,
	VersionZNP3x: znp3x,
}

// Builtin returns a fresh copy of a bundled command table.
func Builtin(version string) (Set, error) {
	build, ok := builtins[strings.ToLower(strings.TrimSpace(version))]
	if !ok {
		return Set{}, fmt.Errorf("%w: %q", ErrUnknownVersion, version)
	}
	return build(), nil
}

// BuiltinVersions lists the bundled table versions.
func BuiltinVersions() []string {
	out := make([]string, 0, len(builtins))
	for v := range builtins {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
