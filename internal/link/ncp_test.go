package link

import (
	"net"
	"sync"
	"testing"

	"github.com/danmuck/znplink/internal/protocol"
	"github.com/danmuck/znplink/internal/protocol/codec"
	"github.com/danmuck/znplink/internal/transport"
)

// ncp is an in-process coprocessor on the far end of a net.Pipe. Every
// request it decodes is recorded and handed to the script, whose returned
// frames are written back in order.
type ncp struct {
	t      *testing.T
	conn   net.Conn
	codec  *codec.Codec
	script func(n *ncp, req protocol.Message) [][]byte

	mu       sync.Mutex
	received []protocol.Message
	seen     chan protocol.Message
}

func startNCP(t *testing.T, c *codec.Codec, script func(n *ncp, req protocol.Message) [][]byte) (*ncp, net.Conn) {
	t.Helper()
	return startHeldNCP(t, c, script, nil)
}

// startHeldNCP leaves the pipe unread until release is closed, so writes
// from the link stall the way they do against a busy serial port.
func startHeldNCP(t *testing.T, c *codec.Codec, script func(n *ncp, req protocol.Message) [][]byte, release <-chan struct{}) (*ncp, net.Conn) {
	t.Helper()
	local, remote := net.Pipe()
	n := &ncp{
		t:      t,
		conn:   remote,
		codec:  c,
		script: script,
		seen:   make(chan protocol.Message, 64),
	}
	go func() {
		if release != nil {
			<-release
		}
		n.run()
	}()
	t.Cleanup(func() { _ = remote.Close() })
	return n, local
}

func (n *ncp) run() {
	dec := transport.NewDecoder(n.codec)
	buf := make([]byte, 256)
	for {
		k, err := n.conn.Read(buf)
		if err != nil {
			return
		}
		for _, msg := range dec.Feed(buf[:k]) {
			n.mu.Lock()
			n.received = append(n.received, msg)
			n.mu.Unlock()
			select {
			case n.seen <- msg:
			default:
			}
			if n.script == nil {
				continue
			}
			for _, out := range n.script(n, msg) {
				if _, err := n.conn.Write(out); err != nil {
					return
				}
			}
		}
	}
}

func (n *ncp) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.received)
}

// emit writes raw bytes as if the coprocessor sent them unprompted.
func (n *ncp) emit(b []byte) {
	if _, err := n.conn.Write(b); err != nil {
		n.t.Errorf("ncp emit: %v", err)
	}
}

func (n *ncp) response(name string, fields protocol.Fields) []byte {
	d, err := n.codec.Registry().ByName(name)
	if err == nil {
		var out []byte
		if out, err = n.codec.EncodeResponse(d, fields); err == nil {
			return out
		}
	}
	n.t.Errorf("ncp response %s: %v", name, err)
	return nil
}

func (n *ncp) callback(name string, fields protocol.Fields) []byte {
	d, err := n.codec.Registry().ByName(name)
	if err == nil {
		var out []byte
		if out, err = n.codec.EncodeCallback(d, fields); err == nil {
			return out
		}
	}
	n.t.Errorf("ncp callback %s: %v", name, err)
	return nil
}
