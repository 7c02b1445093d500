// Package codec turns schema descriptors and typed fields into MT frames and
// back.
package codec

import (
	"errors"
	"fmt"

	"github.com/danmuck/znplink/internal/protocol"
	"github.com/danmuck/znplink/internal/protocol/frame"
	"github.com/danmuck/znplink/internal/protocol/schema"
	"github.com/rs/zerolog/log"
)

// MalformedError reports an integrity-valid frame whose payload does not fit
// the layout registered for its header. Consumed is the frame length the
// caller must drop.
type MalformedError struct {
	Header   protocol.Header
	Command  string
	Consumed int
	Err      error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("codec: malformed %s (%s) consumed=%d: %v", e.Command, e.Header, e.Consumed, e.Err)
}

func (e *MalformedError) Unwrap() error {
	return e.Err
}

// Codec pairs a schema registry with a frame envelope.
type Codec struct {
	reg    *schema.Registry
	frames frame.Codec
}

func New(reg *schema.Registry, frames frame.Codec) *Codec {
	return &Codec{reg: reg, frames: frames}
}

// ForRegistry builds a codec using the checksum the registry declares.
func ForRegistry(reg *schema.Registry, limits frame.Limits) (*Codec, error) {
	sum, err := frame.ChecksumByName(reg.Checksum())
	if err != nil {
		return nil, err
	}
	return New(reg, frame.NewCodec(sum, limits)), nil
}

func (c *Codec) Registry() *schema.Registry { return c.reg }
func (c *Codec) Frames() frame.Codec        { return c.frames }

// Encode serializes a request for d.
func (c *Codec) Encode(d schema.Descriptor, fields protocol.Fields) ([]byte, error) {
	return c.encode(d.Header, d.Request, fields)
}

// EncodeResponse serializes the SRSP answering d.
func (c *Codec) EncodeResponse(d schema.Descriptor, fields protocol.Fields) ([]byte, error) {
	if d.Reply == schema.ReplyNone {
		return nil, &protocol.EncodingError{Reason: fmt.Sprintf("%s has no response", d.Name)}
	}
	return c.encode(d.ResponseHeader(), d.Response, fields)
}

// EncodeCallback serializes an AREQ notification.
func (c *Codec) EncodeCallback(d schema.Descriptor, fields protocol.Fields) ([]byte, error) {
	if d.Header.Type != protocol.AREQ {
		return nil, &protocol.EncodingError{Reason: fmt.Sprintf("%s is not an AREQ", d.Name)}
	}
	return c.encode(d.Header, d.Request, fields)
}

// EncodeRaw wraps an already serialized payload.
func (c *Codec) EncodeRaw(h protocol.Header, data []byte) ([]byte, error) {
	out, err := c.frames.Encode(frame.Frame{Header: h, Data: data})
	if errors.Is(err, frame.ErrPayloadTooLarge) {
		return nil, &protocol.EncodingError{Reason: fmt.Sprintf("payload of %d bytes over frame limit", len(data))}
	}
	return out, err
}

func (c *Codec) encode(h protocol.Header, layout []protocol.Param, fields protocol.Fields) ([]byte, error) {
	data, err := protocol.EncodeParams(layout, fields)
	if err != nil {
		log.Debug().Msgf("codec.Encode header=%s: %v", h, err)
		return nil, err
	}
	return c.EncodeRaw(h, data)
}

// Decode extracts the first message of buf. Errors are frame.ErrNeedMoreData,
// *frame.CorruptError or *MalformedError; the last two carry how many bytes
// to drop.
func (c *Codec) Decode(buf []byte) (protocol.Message, int, error) {
	f, n, err := c.frames.Decode(buf)
	if err != nil {
		return protocol.Message{}, 0, err
	}
	msg, err := c.Interpret(f)
	if err != nil {
		var de *protocol.DecodeError
		if errors.As(err, &de) {
			return protocol.Message{}, 0, &MalformedError{Header: f.Header, Command: msg.Command, Consumed: n, Err: err}
		}
		return protocol.Message{}, 0, err
	}
	return msg, n, nil
}

// Interpret applies the registry layout to a decoded frame. Headers the
// registry does not know yield a message with Known false.
func (c *Codec) Interpret(f frame.Frame) (protocol.Message, error) {
	msg := protocol.Message{Header: f.Header, Data: f.Data}
	layout, d, err := c.reg.Layout(f.Header)
	if err != nil {
		log.Trace().Msgf("codec.Interpret unknown header=%s len=%d", f.Header, len(f.Data))
		return msg, nil
	}
	msg.Command = d.Name
	fields, err := protocol.DecodeParams(layout, f.Data)
	if err != nil {
		log.Debug().Msgf("codec.Interpret malformed command=%s header=%s: %v", d.Name, f.Header, err)
		return msg, err
	}
	msg.Fields = fields
	msg.Known = true
	return msg, nil
}
