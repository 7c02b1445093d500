package link

import (
	"context"
	"fmt"
	"time"

	"github.com/danmuck/znplink/internal/protocol"
	"github.com/danmuck/znplink/internal/protocol/schema"
	"github.com/danmuck/znplink/internal/protocol/session"
)

// Request describes one command for Request.
type Request struct {
	Command string
	Fields  protocol.Fields
	// Timeout bounds the whole exchange; zero uses Config.CommandTimeout.
	Timeout time.Duration
	// Result overrides the callback predicate of two-phase commands.
	Result protocol.Predicate
}

// Response carries both halves of an exchange. Result is empty for
// single-phase commands.
type Response struct {
	Confirm  protocol.Message
	Result   protocol.Message
	Attempts int
}

// Issue sends the command with header h and waits for its reply. For
// two-phase commands the returned message is the callback result; for
// commands without a reply it returns once the frame is queued.
func (l *Link) Issue(ctx context.Context, h protocol.Header, fields protocol.Fields, timeout time.Duration) (protocol.Message, error) {
	d, err := l.Registry().Lookup(h)
	if err != nil {
		return protocol.Message{}, err
	}
	rsp, err := l.exchange(ctx, d, fields, timeout, nil)
	if err != nil {
		return protocol.Message{}, err
	}
	return rsp.final(d), nil
}

// IssueNamed is Issue addressed by command name, e.g. "SYS.Ping".
func (l *Link) IssueNamed(ctx context.Context, name string, fields protocol.Fields, timeout time.Duration) (protocol.Message, error) {
	d, err := l.Registry().ByName(name)
	if err != nil {
		return protocol.Message{}, err
	}
	rsp, err := l.exchange(ctx, d, fields, timeout, nil)
	if err != nil {
		return protocol.Message{}, err
	}
	return rsp.final(d), nil
}

// Request runs a command and returns the confirmation and, for two-phase
// commands, the result.
func (l *Link) Request(ctx context.Context, req Request) (Response, error) {
	d, err := l.Registry().ByName(req.Command)
	if err != nil {
		return Response{}, err
	}
	return l.exchange(ctx, d, req.Fields, req.Timeout, req.Result)
}

func (r Response) final(d schema.Descriptor) protocol.Message {
	if d.Reply == schema.ReplyConfirmThenCallback {
		return r.Result
	}
	return r.Confirm
}

func (l *Link) exchange(
	ctx context.Context,
	d schema.Descriptor,
	fields protocol.Fields,
	timeout time.Duration,
	resultPred protocol.Predicate,
) (Response, error) {
	if d.Header.Type != protocol.SREQ && d.Header.Type != protocol.AREQ {
		return Response{}, &protocol.EncodingError{Reason: fmt.Sprintf("%s is not a request", d.Name)}
	}
	if err := schema.Validate(d, fields); err != nil {
		return Response{}, err
	}
	wire, err := l.codec.Encode(d, fields)
	if err != nil {
		return Response{}, err
	}
	if timeout <= 0 {
		timeout = l.cfg.CommandTimeout
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if d.Reply == schema.ReplyNone {
		if err := l.send(waitCtx, wire); err != nil {
			return Response{}, l.waitErr(ctx, err, d, timeout)
		}
		return Response{}, nil
	}

	sub := &submission{
		req:        session.Request{Command: d, Fields: fields, Wire: wire, Result: resultPred},
		registered: make(chan registration, 1),
		reply:      make(chan result, 1),
	}
	select {
	case l.submits <- sub:
	case <-waitCtx.Done():
		return Response{}, l.waitErr(ctx, waitCtx.Err(), d, timeout)
	case <-l.down:
		return Response{}, l.downErr()
	}
	var reg registration
	select {
	case reg = <-sub.registered:
	case <-l.down:
		return Response{}, l.downErr()
	}
	if reg.err != nil {
		return Response{}, reg.err
	}

	if err := l.send(waitCtx, wire); err != nil {
		l.cancel(reg.id)
		return Response{}, l.waitErr(ctx, err, d, timeout)
	}
	select {
	case l.sent <- reg.id:
	case r := <-sub.reply:
		return r.response()
	case <-l.down:
	}

	select {
	case r := <-sub.reply:
		return r.response()
	case <-l.down:
		select {
		case r := <-sub.reply:
			return r.response()
		default:
		}
		return Response{}, l.downErr()
	case <-waitCtx.Done():
		l.cancel(reg.id)
		// The loop may have finished the transaction first.
		select {
		case r := <-sub.reply:
			return r.response()
		default:
		}
		return Response{}, l.waitErr(ctx, waitCtx.Err(), d, timeout)
	}
}

func (r result) response() (Response, error) {
	rsp := Response{Confirm: r.confirm, Result: r.result, Attempts: r.attempts}
	if r.err != nil {
		return rsp, r.err
	}
	return rsp, nil
}

func (l *Link) send(ctx context.Context, wire []byte) error {
	select {
	case <-l.down:
		return l.downErr()
	default:
	}
	return l.tr.Send(ctx, wire)
}

func (l *Link) cancel(id uint64) {
	select {
	case l.cancels <- id:
	case <-l.down:
	}
}

func (l *Link) downErr() error {
	if err := l.Err(); err != nil {
		return err
	}
	return ErrLinkDown
}

// waitErr tells a caller cancellation apart from the outer timeout.
func (l *Link) waitErr(ctx context.Context, err error, d schema.Descriptor, timeout time.Duration) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err == context.DeadlineExceeded {
		return fmt.Errorf("%w: %s exceeded %s", session.ErrTimeout, d.Name, timeout)
	}
	return err
}
