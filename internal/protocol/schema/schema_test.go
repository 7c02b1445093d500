package schema

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/danmuck/znplink/internal/protocol"
	"github.com/danmuck/znplink/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

func TestBuiltinSetsBuildRegistries(t *testing.T) {
	testlog.Start(t)
	for _, version := range BuiltinVersions() {
		set, err := Builtin(version)
		require.NoError(t, err)
		reg, err := NewRegistry(set)
		require.NoError(t, err, "version=%s", version)
		require.Equal(t, version, reg.Version())
		require.Equal(t, "xor", reg.Checksum())
	}
	_, err := Builtin("znp-9")
	require.ErrorIs(t, err, ErrUnknownVersion)
}

func TestLookupResolvesResponsesToRequests(t *testing.T) {
	testlog.Start(t)
	reg, err := Select(SelectConfig{})
	require.NoError(t, err)
	require.Equal(t, DefaultVersion, reg.Version())

	ping, err := reg.ByName("SYS.Ping")
	require.NoError(t, err)

	got, err := reg.Lookup(ping.Header)
	require.NoError(t, err)
	require.Equal(t, "SYS.Ping", got.Name)

	layout, d, err := reg.Layout(ping.ResponseHeader())
	require.NoError(t, err)
	require.Equal(t, "SYS.Ping", d.Name)
	require.Equal(t, []protocol.Param{{Name: "Capabilities", Type: protocol.TypeUint16}}, layout)

	reset, err := reg.ByName("SYS.ResetInd")
	require.NoError(t, err)
	_, err = reg.Lookup(reset.Header.WithType(protocol.SRSP))
	require.ErrorIs(t, err, ErrNotFound)

	_, err = reg.Lookup(protocol.Header{Type: protocol.SREQ, Subsystem: protocol.SubsystemDEBUG, ID: 0x7F})
	require.ErrorIs(t, err, ErrNotFound)

	rpc, err := reg.Lookup(protocol.Header{Type: protocol.SRSP, Subsystem: protocol.SubsystemRPCError})
	require.NoError(t, err)
	require.Equal(t, RPCErrorName, rpc.Name)
}

func TestVersionsDifferInLayout(t *testing.T) {
	testlog.Start(t)
	old, err := Select(SelectConfig{Version: VersionZNP12})
	require.NoError(t, err)
	current, err := Select(SelectConfig{Version: VersionZNP3x})
	require.NoError(t, err)

	v12, err := old.ByName("SYS.Version")
	require.NoError(t, err)
	v3, err := current.ByName("SYS.Version")
	require.NoError(t, err)
	require.Less(t, len(v12.Response), len(v3.Response))

	_, err = old.ByName("AF.DataRequestExt")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = current.ByName("AF.DataRequestExt")
	require.NoError(t, err)
}

func TestValidateRequiredFieldsDeterministic(t *testing.T) {
	testlog.Start(t)
	reg, err := Select(SelectConfig{})
	require.NoError(t, err)
	d, err := reg.ByName("SYS.OSALNVRead")
	require.NoError(t, err)

	require.NoError(t, Validate(d, protocol.Fields{
		protocol.F("Id", protocol.U16(0x0003)),
		protocol.F("Offset", protocol.U8(0)),
	}))

	err = Validate(d, protocol.Fields{protocol.F("Id", protocol.U16(3))})
	var ve ValidationError
	require.True(t, errors.As(err, &ve))
	require.Equal(t, "Offset", ve.Param)
	require.Equal(t, "missing required field", ve.Reason)
	require.ErrorIs(t, err, protocol.ErrEncoding)

	err = Validate(d, protocol.Fields{
		protocol.F("Id", protocol.U8(3)),
		protocol.F("Offset", protocol.U8(0)),
	})
	require.True(t, errors.As(err, &ve))
	require.Equal(t, "Id", ve.Param)
	require.Equal(t, "type mismatch", ve.Reason)

	err = Validate(d, protocol.Fields{
		protocol.F("Id", protocol.U16(3)),
		protocol.F("Offset", protocol.U8(0)),
		protocol.F("Extra", protocol.U8(0)),
	})
	require.True(t, errors.As(err, &ve))
	require.Equal(t, "unknown field", ve.Reason)
}

func TestNewRegistryRejectsInvalidSets(t *testing.T) {
	testlog.Start(t)
	h := sreq(protocol.SubsystemSYS, 0x01)
	cases := map[string][]Descriptor{
		"duplicate header": {
			{Name: "A", Header: h, Reply: ReplySync},
			{Name: "B", Header: h, Reply: ReplySync},
		},
		"sreq without reply": {
			{Name: "A", Header: h},
		},
		"areq with reply": {
			{Name: "A", Header: areq(protocol.SubsystemSYS, 0x80), Reply: ReplySync},
		},
		"bytes not last": {
			{Name: "A", Header: h, Reply: ReplySync, Request: []protocol.Param{
				param("Rest", protocol.TypeBytes),
				param("Tail", protocol.TypeUint8),
			}},
		},
		"callback missing": {
			{Name: "A", Header: h, Reply: ReplyConfirmThenCallback, Response: statusOnly, Callback: "Nope"},
		},
		"callback match field missing": {
			{
				Name: "A", Header: h, Reply: ReplyConfirmThenCallback, Response: statusOnly,
				Callback: "B", CallbackMatch: []string{"Missing"},
			},
			{Name: "B", Header: areq(protocol.SubsystemSYS, 0x81)},
		},
		"two-phase without status": {
			{Name: "A", Header: h, Reply: ReplyConfirmThenCallback, Callback: "B"},
			{Name: "B", Header: areq(protocol.SubsystemSYS, 0x81)},
		},
	}
	for name, commands := range cases {
		_, err := NewRegistry(Set{Version: "test", Commands: commands})
		require.ErrorIs(t, err, ErrInvalidSet, name)
	}
}

func TestLoadFileTOMLExtendsBuiltin(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "custom.toml")
	body := `
version = "custom-1"
base = "znp-1.2"

[[commands]]
name = "SYS.Echo"
type = "SREQ"
subsystem = "SYS"
id = 0x7E
reply = "sync"
request = [{ name = "Value", type = "uint8" }]
response = [{ name = "Value", type = "uint8" }]
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	reg, err := Select(SelectConfig{File: path, Version: "ignored"})
	require.NoError(t, err)
	require.Equal(t, "custom-1", reg.Version())

	echo, err := reg.ByName("SYS.Echo")
	require.NoError(t, err)
	require.Equal(t, protocol.Header{Type: protocol.SREQ, Subsystem: protocol.SubsystemSYS, ID: 0x7E}, echo.Header)
	require.Equal(t, ReplySync, echo.Reply)

	_, err = reg.ByName("SYS.Ping")
	require.NoError(t, err)
}

func TestLoadFileYAML(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "custom.yaml")
	body := `
version: bench
checksum: sum8
commands:
  - name: SYS.Ping
    type: SREQ
    subsystem: SYS
    id: 1
    reply: sync
    response:
      - {name: Capabilities, type: uint16}
  - name: AF.Send
    type: SREQ
    subsystem: AF
    id: 1
    reply: callback
    request:
      - {name: TSN, type: uint8}
    response:
      - {name: Status, type: status}
    callback: AF.Sent
    callback_match: [TSN]
  - name: AF.Sent
    type: AREQ
    subsystem: AF
    id: 0x80
    request:
      - {name: Status, type: status}
      - {name: TSN, type: uint8}
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	set, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, "sum8", set.Checksum)

	reg, err := NewRegistry(set)
	require.NoError(t, err)
	send, err := reg.ByName("AF.Send")
	require.NoError(t, err)
	require.Equal(t, ReplyConfirmThenCallback, send.Reply)
	require.Equal(t, [][2]string{{"TSN", "TSN"}}, send.MatchPairs())
}

func TestLoadFileRejectsUnknownExtensionAndTypes(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	json := filepath.Join(dir, "table.json")
	require.NoError(t, os.WriteFile(json, []byte("{}"), 0o600))
	_, err := LoadFile(json)
	require.Error(t, err)

	bad := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(bad, []byte(`
version = "x"
[[commands]]
name = "SYS.Ping"
type = "SREQ"
subsystem = "SYS"
id = 1
reply = "sync"
response = [{ name = "Capabilities", type = "float" }]
`), 0o600))
	_, err = LoadFile(bad)
	require.ErrorIs(t, err, ErrInvalidSet)
}
