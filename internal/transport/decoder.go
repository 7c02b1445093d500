package transport

import (
	"errors"

	"github.com/danmuck/znplink/internal/observability"
	"github.com/danmuck/znplink/internal/protocol"
	"github.com/danmuck/znplink/internal/protocol/codec"
	"github.com/danmuck/znplink/internal/protocol/frame"
	"github.com/rs/zerolog/log"
)

// DecoderStats counts what the decoder has extracted or discarded.
type DecoderStats struct {
	Frames       uint64 `json:"frames"`
	CorruptBytes uint64 `json:"corrupt_bytes"`
	Malformed    uint64 `json:"malformed"`
	Buffered     int    `json:"buffered"`
}

// Decoder owns the receive buffer of one link. It is not safe for
// concurrent use.
type Decoder struct {
	codec *codec.Codec
	buf   []byte
	stats DecoderStats
}

func NewDecoder(c *codec.Codec) *Decoder {
	return &Decoder{codec: c}
}

// Feed appends chunk and returns every complete message now available, in
// arrival order. Corrupt runs and malformed frames are dropped and counted.
func (d *Decoder) Feed(chunk []byte) []protocol.Message {
	d.buf = append(d.buf, chunk...)
	var out []protocol.Message
	for {
		msg, n, err := d.codec.Decode(d.buf)
		if err == nil {
			d.buf = d.buf[n:]
			d.stats.Frames++
			observability.RecordFrame("in", msg.Header.Type.String())
			log.Trace().Msgf("transport.Decoder.Feed frame=%s", msg)
			out = append(out, msg)
			continue
		}
		if errors.Is(err, frame.ErrNeedMoreData) {
			d.compact()
			return out
		}
		var ce *frame.CorruptError
		if errors.As(err, &ce) {
			d.buf = d.buf[ce.Skip:]
			d.stats.CorruptBytes += uint64(ce.Skip)
			observability.RecordCorruptBytes(ce.Skip)
			log.Debug().Msgf("transport.Decoder.Feed dropped=%d: %s", ce.Skip, ce.Reason)
			continue
		}
		var me *codec.MalformedError
		if errors.As(err, &me) {
			d.buf = d.buf[me.Consumed:]
			d.stats.Malformed++
			observability.RecordMalformedFrame()
			log.Warn().Msgf("transport.Decoder.Feed discarded: %v", me)
			continue
		}
		// Unreachable with the codec error contract; drop the buffer rather
		// than spin.
		log.Error().Msgf("transport.Decoder.Feed unexpected decode error: %v", err)
		d.stats.CorruptBytes += uint64(len(d.buf))
		d.buf = nil
		return out
	}
}

func (d *Decoder) compact() {
	if len(d.buf) == 0 {
		d.buf = nil
		return
	}
	if cap(d.buf) > 2*frame.MinFrameLen+2*frame.DefaultMaxData {
		d.buf = append([]byte(nil), d.buf...)
	}
}

func (d *Decoder) Stats() DecoderStats {
	s := d.stats
	s.Buffered = len(d.buf)
	return s
}
