package main

import (
	"bytes"
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/znplink/internal/protocol"
	"github.com/danmuck/znplink/internal/protocol/codec"
	"github.com/danmuck/znplink/internal/protocol/frame"
	"github.com/danmuck/znplink/internal/protocol/schema"
	"github.com/danmuck/znplink/internal/testutil/testlog"
	"github.com/danmuck/znplink/internal/transport"
	"github.com/stretchr/testify/require"
)

// fakeCoprocessor answers SYS.Ping and SYS.OSALNVRead on the far end of a pipe.
func fakeCoprocessor(t *testing.T) func(transport.SerialConfig) (transport.Channel, error) {
	t.Helper()
	reg, err := schema.Select(schema.SelectConfig{})
	require.NoError(t, err)
	c, err := codec.ForRegistry(reg, frame.DefaultLimits())
	require.NoError(t, err)

	return func(cfg transport.SerialConfig) (transport.Channel, error) {
		local, remote := net.Pipe()
		t.Cleanup(func() { _ = remote.Close() })
		go func() {
			dec := transport.NewDecoder(c)
			buf := make([]byte, 256)
			for {
				n, err := remote.Read(buf)
				if err != nil {
					return
				}
				for _, req := range dec.Feed(buf[:n]) {
					d, err := reg.ByName(req.Command)
					if err != nil {
						continue
					}
					var fields protocol.Fields
					switch d.Name {
					case "SYS.Ping":
						fields = protocol.Fields{protocol.F("Capabilities", protocol.U16(0x0659))}
					case "SYS.OSALNVRead":
						fields = protocol.Fields{
							protocol.F("Status", protocol.Status(0)),
							protocol.F("Value", protocol.ShortBytes([]byte{0xAB, 0xCD})),
						}
					default:
						continue
					}
					out, err := c.EncodeResponse(d, fields)
					if err != nil {
						t.Errorf("encode %s: %v", d.Name, err)
						return
					}
					if _, err := remote.Write(out); err != nil {
						return
					}
				}
			}
		}()
		return local, nil
	}
}

func run(t *testing.T, a *app, args ...string) (string, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	root := newRootCmd(a)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func TestPingPrintsCapabilities(t *testing.T) {
	testlog.Start(t)
	a := newApp()
	a.open = fakeCoprocessor(t)

	out, err := run(t, a, "ping", "--port", "pipe")
	require.NoError(t, err)
	require.Contains(t, out, "capabilities=0x0659")
	require.Equal(t, "pipe", a.cfg.Serial.Port)
}

func TestIssueParsesAssignments(t *testing.T) {
	testlog.Start(t)
	a := newApp()
	a.open = fakeCoprocessor(t)

	out, err := run(t, a, "issue", "SYS.OSALNVRead", "Id=0x0021", "Offset=0")
	require.NoError(t, err)
	require.Contains(t, out, "Value=ABCD")

	_, err = run(t, newApp(), "issue", "SYS.OSALNVRead", "Id")
	require.Error(t, err)
}

func TestParseAssignments(t *testing.T) {
	testlog.Start(t)
	got, err := parseAssignments([]string{"Id=33", "Data=", " Offset =1"})
	require.NoError(t, err)
	require.Equal(t, map[string]string{"Id": "33", "Data": "", "Offset": "1"}, got)

	_, err = parseAssignments([]string{"=1"})
	require.Error(t, err)
	_, err = parseAssignments([]string{"Id=1", "Id=2"})
	require.Error(t, err)
}

func TestSchemaFollowsVersionFlag(t *testing.T) {
	testlog.Start(t)
	out, err := run(t, newApp(), "schema", "--schema-version", schema.VersionZNP12)
	require.NoError(t, err)
	require.Contains(t, out, "version="+schema.VersionZNP12)
	require.Contains(t, out, "SYS.Ping")
	require.NotContains(t, out, "AF.DataRequestExt")

	_, err = run(t, newApp(), "schema", "--schema-version", "znp-9")
	require.ErrorIs(t, err, schema.ErrUnknownVersion)
}

func TestConfigInitThenValidate(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.toml")

	out, err := run(t, newApp(), "config", "init", "--output", cfgPath)
	require.NoError(t, err)
	require.Contains(t, out, cfgPath)

	a := newApp()
	out, err = run(t, a, "config", "validate", "--config", cfgPath, "--port", "/dev/ttyACM1")
	require.NoError(t, err)
	require.Contains(t, out, "port=/dev/ttyACM1")
	require.Contains(t, out, "schema="+schema.VersionZNP3x)

	_, err = run(t, newApp(), "config", "validate")
	require.Error(t, err)
}
