// Package transport moves raw bytes between the link and the NCP. A reader
// goroutine forwards received chunks and a writer goroutine drains a bounded
// send queue; frame interpretation happens in the Decoder.
package transport

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/danmuck/znplink/internal/observability"
	"github.com/danmuck/znplink/internal/protocol"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Channel is the byte-level duplex connection to the NCP.
type Channel = io.ReadWriteCloser

var (
	ErrLinkLost = errors.New("transport: link lost")
	ErrClosed   = errors.New("transport: closed")
)

// Config sizes the transport queues.
type Config struct {
	WriteQueue int
	ReadBuffer int
	ChunkQueue int
}

func DefaultConfig() Config {
	return Config{WriteQueue: 32, ReadBuffer: 256, ChunkQueue: 16}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.WriteQueue <= 0 {
		c.WriteQueue = d.WriteQueue
	}
	if c.ReadBuffer <= 0 {
		c.ReadBuffer = d.ReadBuffer
	}
	if c.ChunkQueue <= 0 {
		c.ChunkQueue = d.ChunkQueue
	}
	return c
}

type Transport struct {
	ch  Channel
	cfg Config

	chunks chan []byte
	writes chan []byte

	startOnce sync.Once
	closeOnce sync.Once
	closed    chan struct{}

	lostOnce sync.Once
	lost     chan struct{}
	mu       sync.Mutex
	err      error
}

func New(ch Channel, cfg Config) *Transport {
	cfg = cfg.withDefaults()
	return &Transport{
		ch:     ch,
		cfg:    cfg,
		chunks: make(chan []byte, cfg.ChunkQueue),
		writes: make(chan []byte, cfg.WriteQueue),
		closed: make(chan struct{}),
		lost:   make(chan struct{}),
	}
}

// Start launches the reader and writer goroutines. Cancelling ctx closes the
// transport.
func (t *Transport) Start(ctx context.Context) {
	t.startOnce.Do(func() {
		go t.readLoop()
		go t.writeLoop()
		go func() {
			select {
			case <-ctx.Done():
				t.Close()
			case <-t.closed:
			}
		}()
	})
}

// Chunks delivers received bytes in arrival order.
func (t *Transport) Chunks() <-chan []byte { return t.chunks }

// Lost is closed once the channel fails or the transport is closed.
func (t *Transport) Lost() <-chan struct{} { return t.lost }

// Err is the reason Lost fired. It wraps ErrLinkLost, or is ErrClosed after
// Close.
func (t *Transport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Send enqueues one frame, blocking while the queue is full.
func (t *Transport) Send(ctx context.Context, b []byte) error {
	select {
	case <-t.lost:
		return t.Err()
	default:
	}
	select {
	case t.writes <- b:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-t.lost:
		return t.Err()
	}
}

// TrySend enqueues one frame only if the queue has room.
func (t *Transport) TrySend(b []byte) bool {
	select {
	case <-t.lost:
		return false
	default:
	}
	select {
	case t.writes <- b:
		return true
	default:
		return false
	}
}

// Close shuts the channel down. Pending reads and writes end with ErrClosed.
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closed)
		t.fail(ErrClosed)
		err = t.ch.Close()
	})
	return err
}

func (t *Transport) fail(err error) {
	t.lostOnce.Do(func() {
		t.mu.Lock()
		t.err = err
		t.mu.Unlock()
		close(t.lost)
		if errors.Is(err, ErrClosed) {
			log.Debug().Msg("transport.Transport closed")
			return
		}
		observability.RecordLinkLost()
		log.Error().Msgf("transport.Transport link lost: %v", err)
	})
}

func linkLost(op string, err error) error {
	return fmt.Errorf("%w: %w", ErrLinkLost, errors.Wrap(err, op))
}

func (t *Transport) readLoop() {
	buf := make([]byte, t.cfg.ReadBuffer)
	for {
		n, err := t.ch.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case t.chunks <- chunk:
			case <-t.lost:
				return
			}
		}
		if err != nil {
			t.fail(linkLost("transport read", err))
			return
		}
	}
}

func (t *Transport) writeLoop() {
	for {
		select {
		case b := <-t.writes:
			if _, err := t.ch.Write(b); err != nil {
				t.fail(linkLost("transport write", err))
				return
			}
			if len(b) > 2 {
				observability.RecordFrame("out", protocol.HeaderFromBytes(b[2], 0).Type.String())
			}
		case <-t.lost:
			return
		}
	}
}
