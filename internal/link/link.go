// Package link runs the protocol engine for one NCP connection.
//
// A single goroutine (Run) owns the receive buffer, the pending transaction
// table and the listener registry. Callers reach it only through channels:
// submissions, send notices, cancellations, subscription changes and stats
// queries. Blocking I/O happens on the transport's reader and writer
// goroutines.
package link

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/znplink/internal/dispatch"
	"github.com/danmuck/znplink/internal/protocol"
	"github.com/danmuck/znplink/internal/protocol/codec"
	"github.com/danmuck/znplink/internal/protocol/schema"
	"github.com/danmuck/znplink/internal/protocol/session"
	"github.com/danmuck/znplink/internal/transport"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrAlreadyRunning = errors.New("link: already running")
	ErrLinkDown       = errors.New("link: down")
)

type Option func(*Link)

// WithLogger replaces the link logger. The link id field is still added.
func WithLogger(logger zerolog.Logger) Option {
	return func(l *Link) { l.log = logger }
}

// WithID fixes the link id instead of generating a uuid.
func WithID(id string) Option {
	return func(l *Link) { l.id = id }
}

type Link struct {
	id    string
	log   zerolog.Logger
	cfg   Config
	codec *codec.Codec
	tr    *transport.Transport

	// Owned by the Run goroutine.
	dec     *transport.Decoder
	mgr     *session.Manager
	subs    *dispatch.Registry
	waiters map[uint64]*submission
	streams map[dispatch.Handle]*Subscription

	submits  chan *submission
	sent     chan uint64
	cancels  chan uint64
	subOps   chan subOp
	statsReq chan chan Stats

	running   atomic.Bool
	closeOnce sync.Once
	closing   chan struct{}
	downOnce  sync.Once
	down      chan struct{}
	mu        sync.Mutex
	err       error
}

// New builds a link over ch. The registry's checksum selects the frame
// check sequence.
func New(ch transport.Channel, reg *schema.Registry, cfg Config, opts ...Option) (*Link, error) {
	cfg = cfg.withDefaults()
	c, err := codec.ForRegistry(reg, cfg.Limits)
	if err != nil {
		return nil, err
	}
	l := &Link{
		log:      log.Logger,
		cfg:      cfg,
		codec:    c,
		tr:       transport.New(ch, cfg.Transport),
		dec:      transport.NewDecoder(c),
		mgr:      session.NewManager(cfg.Session, reg),
		subs:     dispatch.NewRegistry(),
		waiters:  make(map[uint64]*submission),
		streams:  make(map[dispatch.Handle]*Subscription),
		submits:  make(chan *submission),
		sent:     make(chan uint64),
		cancels:  make(chan uint64),
		subOps:   make(chan subOp),
		statsReq: make(chan chan Stats),
		closing:  make(chan struct{}),
		down:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.id == "" {
		l.id = uuid.NewString()
	}
	l.log = l.log.With().Str("link", l.id).Logger()
	return l, nil
}

func (l *Link) ID() string                 { return l.id }
func (l *Link) Registry() *schema.Registry { return l.codec.Registry() }
func (l *Link) Codec() *codec.Codec        { return l.codec }

// LinkDown is closed when Run returns.
func (l *Link) LinkDown() <-chan struct{} { return l.down }

// Err is why the link went down. Channel failures wrap transport.ErrLinkLost.
func (l *Link) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Close stops Run and the transport.
func (l *Link) Close() error {
	l.closeOnce.Do(func() { close(l.closing) })
	if l.running.CompareAndSwap(false, true) {
		l.mu.Lock()
		l.err = ErrLinkDown
		l.mu.Unlock()
		l.downOnce.Do(func() { close(l.down) })
		return l.tr.Close()
	}
	<-l.down
	return nil
}

type result struct {
	confirm  protocol.Message
	result   protocol.Message
	attempts int
	err      error
}

type registration struct {
	id  uint64
	err error
}

type submission struct {
	req        session.Request
	registered chan registration
	reply      chan result
}

// Run is the event loop. It returns the reason the link went down: an error
// wrapping transport.ErrLinkLost, the ctx error, or ErrLinkDown after Close.
func (l *Link) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	l.tr.Start(ctx)
	l.log.Info().Msgf("link.Run start version=%s checksum=%s", l.Registry().Version(), l.codec.Frames().Checksum.Name())

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		if next, ok := l.mgr.NextDeadline(); ok {
			timer.Reset(time.Until(next))
		} else {
			timer.Stop()
		}
		select {
		case <-ctx.Done():
			return l.shutdown(ctx.Err())
		case <-l.closing:
			return l.shutdown(ErrLinkDown)
		case <-l.tr.Lost():
			if ctx.Err() != nil {
				return l.shutdown(ctx.Err())
			}
			l.drainChunks()
			return l.shutdown(l.tr.Err())
		case chunk := <-l.tr.Chunks():
			l.onChunk(chunk)
		case sub := <-l.submits:
			l.onSubmit(sub)
		case id := <-l.sent:
			if err := l.mgr.MarkSent(id, time.Now()); err != nil {
				l.log.Trace().Msgf("link.Run sent notice for finished id=%d", id)
			}
		case id := <-l.cancels:
			if txn, ok := l.mgr.Cancel(id, time.Now()); ok {
				l.log.Debug().Msgf("link.Run cancelled id=%d command=%s", id, txn.Command.Name)
			}
			delete(l.waiters, id)
		case op := <-l.subOps:
			l.onSubOp(op)
		case reply := <-l.statsReq:
			reply <- l.stats()
		case <-timer.C:
			l.onExpire()
		}
	}
}

func (l *Link) drainChunks() {
	for {
		select {
		case chunk := <-l.tr.Chunks():
			l.onChunk(chunk)
		default:
			return
		}
	}
}

// onChunk runs one chunk to completion: decode, match, dispatch.
func (l *Link) onChunk(chunk []byte) {
	now := time.Now()
	for _, msg := range l.dec.Feed(chunk) {
		out := l.mgr.Match(msg, now)
		if !out.Matched {
			l.subs.Dispatch(msg)
			continue
		}
		if out.Finished {
			l.complete(out.Txn)
		}
	}
}

func (l *Link) onSubmit(sub *submission) {
	txn, err := l.mgr.Register(sub.req, time.Now())
	if err != nil {
		sub.registered <- registration{err: err}
		return
	}
	l.waiters[txn.ID] = sub
	sub.registered <- registration{id: txn.ID}
}

func (l *Link) onExpire() {
	now := time.Now()
	retries, finished := l.mgr.Expire(now)
	for _, r := range retries {
		if l.tr.TrySend(r.Wire) {
			continue
		}
		l.log.Warn().Msgf("link.onExpire write queue full id=%d command=%s attempt=%d deferred", r.ID, r.Command, r.Attempt)
		l.mgr.RetryDeferred(r.ID, now)
	}
	for _, txn := range finished {
		l.complete(txn)
	}
}

func (l *Link) complete(txn *session.Transaction) {
	sub, ok := l.waiters[txn.ID]
	if !ok {
		return
	}
	delete(l.waiters, txn.ID)
	sub.reply <- result{confirm: txn.Confirm, result: txn.Result, attempts: txn.Attempts, err: txn.Err}
}

func (l *Link) shutdown(cause error) error {
	if cause == nil {
		cause = ErrLinkDown
	}
	if errors.Is(cause, transport.ErrClosed) {
		cause = ErrLinkDown
	}
	failWith := cause
	if !errors.Is(cause, transport.ErrLinkLost) && !errors.Is(cause, ErrLinkDown) {
		failWith = fmt.Errorf("%w: %v", ErrLinkDown, cause)
	}
	for _, txn := range l.mgr.FailAll(failWith, time.Now()) {
		l.complete(txn)
	}
	for h, s := range l.streams {
		close(s.ch)
		delete(l.streams, h)
	}
	_ = l.tr.Close()

	if errors.Is(cause, transport.ErrLinkLost) {
		l.log.Error().Msgf("link.Run down: %v", cause)
	} else {
		l.log.Info().Msgf("link.Run stopped: %v", cause)
	}
	l.mu.Lock()
	l.err = cause
	l.mu.Unlock()
	l.downOnce.Do(func() { close(l.down) })
	return cause
}

// Stats is a point-in-time view of the engine.
type Stats struct {
	ID        string                 `json:"id"`
	Version   string                 `json:"version"`
	Up        bool                   `json:"up"`
	Pending   []session.Info         `json:"pending"`
	Listeners int                    `json:"listeners"`
	Decoder   transport.DecoderStats `json:"decoder"`
}

func (l *Link) stats() Stats {
	return Stats{
		ID:        l.id,
		Version:   l.Registry().Version(),
		Up:        true,
		Pending:   l.mgr.Snapshot(),
		Listeners: l.subs.Len(),
		Decoder:   l.dec.Stats(),
	}
}

// Stats asks the loop for a snapshot.
func (l *Link) Stats(ctx context.Context) (Stats, error) {
	reply := make(chan Stats, 1)
	select {
	case l.statsReq <- reply:
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	case <-l.down:
		return Stats{ID: l.id, Version: l.Registry().Version()}, nil
	}
	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
}
