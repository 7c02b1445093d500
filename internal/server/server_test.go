package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/danmuck/znplink/internal/link"
	"github.com/danmuck/znplink/internal/protocol"
	"github.com/danmuck/znplink/internal/protocol/schema"
	"github.com/danmuck/znplink/internal/protocol/session"
	"github.com/danmuck/znplink/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	reg  *schema.Registry
	down chan struct{}
	got  []link.Request
	rsp  link.Response
	err  error
}

func newFakeEngine(t *testing.T) *fakeEngine {
	t.Helper()
	reg, err := schema.Select(schema.SelectConfig{Version: schema.VersionZNP3x})
	require.NoError(t, err)
	return &fakeEngine{reg: reg, down: make(chan struct{})}
}

func (f *fakeEngine) ID() string                 { return "diag-link" }
func (f *fakeEngine) Registry() *schema.Registry { return f.reg }
func (f *fakeEngine) LinkDown() <-chan struct{}  { return f.down }

func (f *fakeEngine) Stats(context.Context) (link.Stats, error) {
	return link.Stats{ID: f.ID(), Version: f.reg.Version(), Up: true}, nil
}
func (f *fakeEngine) Request(_ context.Context, req link.Request) (link.Response, error) {
	f.got = append(f.got, req)
	return f.rsp, f.err
}

func do(t *testing.T, s *Server, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	out := map[string]any{}
	if strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	}
	return rr, out
}

func TestProbesFollowLinkState(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	eng := newFakeEngine(t)
	s := New(eng, Config{Addr: ":0"})

	rr, body := do(t, s, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "ok", body["status"])

	rr, body = do(t, s, http.MethodGet, "/ready", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, true, body["ready"])
	require.Equal(t, schema.VersionZNP3x, body["version"])

	close(eng.down)
	rr, body = do(t, s, http.MethodGet, "/ready", "")
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	require.Equal(t, false, body["ready"])
}

func TestLinkSchemaAndMetricsRoutes(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	s := New(newFakeEngine(t), Config{})

	rr, body := do(t, s, http.MethodGet, "/link", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "diag-link", body["id"])
	require.Equal(t, true, body["up"])

	rr, body = do(t, s, http.MethodGet, "/schema", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "xor", body["checksum"])
	commands, ok := body["commands"].([]any)
	require.True(t, ok)
	names := make([]string, 0, len(commands))
	for _, c := range commands {
		names = append(names, c.(map[string]any)["name"].(string))
	}
	require.Contains(t, names, "SYS.Ping")
	require.Contains(t, names, "AF.DataRequestExt")

	rr, _ = do(t, s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "znplink_http_requests_total")
}

func TestCommandRouteParsesFieldsAndMapsErrors(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	eng := newFakeEngine(t)
	s := New(eng, Config{})

	d, err := eng.reg.ByName("SYS.OSALNVRead")
	require.NoError(t, err)
	eng.rsp = link.Response{
		Confirm: protocol.Message{
			Header:  d.ResponseHeader(),
			Command: d.Name,
			Known:   true,
			Fields: protocol.Fields{
				protocol.F("Status", protocol.Status(0)),
				protocol.F("Value", protocol.ShortBytes([]byte{0xAB})),
			},
		},
		Attempts: 1,
	}

	rr, body := do(t, s, http.MethodPost, "/commands/SYS.OSALNVRead", `{"fields":{"Id":"0x0021","Offset":"0"},"timeout":"1s"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Len(t, eng.got, 1)
	require.Equal(t, "SYS.OSALNVRead", eng.got[0].Command)
	require.Equal(t, protocol.Fields{
		protocol.F("Id", protocol.U16(0x21)),
		protocol.F("Offset", protocol.U8(0)),
	}, eng.got[0].Fields)
	confirm := body["confirm"].(map[string]any)
	require.Equal(t, "AB", confirm["fields"].(map[string]any)["Value"])

	rr, _ = do(t, s, http.MethodPost, "/commands/SYS.Nope", "")
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr, _ = do(t, s, http.MethodPost, "/commands/SYS.OSALNVRead", `{"fields":{"Bogus":"1"}}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	cases := []struct {
		err  error
		want int
	}{
		{&session.CommandRejectedError{Command: "SYS.OSALNVRead", Status: 0x02}, http.StatusBadGateway},
		{fmt.Errorf("%w: SYS.OSALNVRead exceeded 1s", session.ErrTimeout), http.StatusGatewayTimeout},
		{link.ErrLinkDown, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		eng.err = tc.err
		rr, body = do(t, s, http.MethodPost, "/commands/SYS.OSALNVRead", `{"fields":{"Id":"33","Offset":"0"}}`)
		require.Equal(t, tc.want, rr.Code, tc.err.Error())
		require.Equal(t, tc.err.Error(), body["error"])
	}
}
