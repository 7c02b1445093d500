package link

import (
	"context"
	"sync"

	"github.com/danmuck/znplink/internal/dispatch"
	"github.com/danmuck/znplink/internal/observability"
	"github.com/danmuck/znplink/internal/protocol"
)

// Subscription receives unmatched messages accepted by its predicate. The
// channel is closed after Close or when the link goes down.
type Subscription struct {
	link   *Link
	handle dispatch.Handle
	ch     chan protocol.Message
	once   sync.Once
}

func (s *Subscription) C() <-chan protocol.Message { return s.ch }

// Close unregisters the subscription.
func (s *Subscription) Close() {
	s.once.Do(func() {
		if s.link == nil {
			return
		}
		op := subOp{remove: s.handle}
		select {
		case s.link.subOps <- op:
		case <-s.link.down:
		}
	})
}

type subscribeConfig struct {
	card   dispatch.Cardinality
	buffer int
}

type SubscribeOption func(*subscribeConfig)

// Once removes the subscription after its first message.
func Once() SubscribeOption {
	return func(c *subscribeConfig) { c.card = dispatch.Once }
}

// WithBuffer overrides Config.SubscriberBuffer.
func WithBuffer(n int) SubscribeOption {
	return func(c *subscribeConfig) {
		if n > 0 {
			c.buffer = n
		}
	}
}

type subOp struct {
	add    *Subscription
	pred   protocol.Predicate
	card   dispatch.Cardinality
	remove dispatch.Handle
	done   chan struct{}
}

// Subscribe registers pred with the dispatcher. A message that no
// transaction claims is offered to every subscription; a full buffer drops
// the message for that subscriber.
//
// Registration is served by Run, so Subscribe waits until Run is started or
// the link is closed. A subscription made on a closed link has its channel
// already closed.
func (l *Link) Subscribe(pred protocol.Predicate, opts ...SubscribeOption) *Subscription {
	cfg := subscribeConfig{card: dispatch.Every, buffer: l.cfg.SubscriberBuffer}
	for _, opt := range opts {
		opt(&cfg)
	}
	s := &Subscription{link: l, ch: make(chan protocol.Message, cfg.buffer)}
	op := subOp{add: s, pred: pred, card: cfg.card, done: make(chan struct{})}
	select {
	case l.subOps <- op:
		<-op.done
	case <-l.closing:
		close(s.ch)
		s.link = nil
	case <-l.down:
		close(s.ch)
		s.link = nil
	}
	return s
}

// WaitFor blocks until a message accepted by pred arrives unclaimed.
func (l *Link) WaitFor(ctx context.Context, pred protocol.Predicate) (protocol.Message, error) {
	s := l.Subscribe(pred, Once(), WithBuffer(1))
	defer s.Close()
	select {
	case msg, ok := <-s.C():
		if !ok {
			return protocol.Message{}, l.downErr()
		}
		return msg, nil
	case <-ctx.Done():
		return protocol.Message{}, ctx.Err()
	}
}

// onSubOp runs on the loop goroutine.
func (l *Link) onSubOp(op subOp) {
	if op.add == nil {
		if s, ok := l.streams[op.remove]; ok {
			l.subs.Unsubscribe(op.remove)
			delete(l.streams, op.remove)
			close(s.ch)
		}
		return
	}
	s := op.add
	var h dispatch.Handle
	h = l.subs.Subscribe(op.pred, op.card, func(msg protocol.Message) {
		select {
		case s.ch <- msg:
		default:
			observability.RecordSubscriberDrop()
			l.log.Warn().Msgf("link.Dispatch subscriber=%d buffer full, dropped %s", h, msg)
		}
		if op.card == dispatch.Once {
			delete(l.streams, h)
			close(s.ch)
		}
	})
	s.handle = h
	l.streams[h] = s
	close(op.done)
}
