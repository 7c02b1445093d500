package frame

import (
	"errors"
	"fmt"

	"github.com/danmuck/znplink/internal/protocol"
)

const (
	SOF            byte = 0xFE
	HeaderLen           = 4 // sof + len + cmd0 + cmd1
	TrailerLen          = 1 // fcs
	MinFrameLen         = HeaderLen + TrailerLen
	DefaultMaxData      = 250
)

var (
	ErrNeedMoreData    = errors.New("frame: need more data")
	ErrCorrupt         = errors.New("frame: corrupt frame")
	ErrPayloadTooLarge = errors.New("frame: payload too large")
)

// CorruptError reports bytes at the head of a buffer that can never start a
// valid frame. Skip is how many bytes the caller must drop before rescanning.
type CorruptError struct {
	Skip   int
	Reason string
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("frame: corrupt frame (skip=%d): %s", e.Skip, e.Reason)
}

func (e *CorruptError) Unwrap() error {
	return ErrCorrupt
}

// Frame is one complete wire message before schema interpretation.
type Frame struct {
	Header protocol.Header
	Data   []byte
}

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxData int
}

func DefaultLimits() Limits {
	return Limits{MaxData: DefaultMaxData}
}

// Codec encodes and incrementally decodes the SOF|LEN|CMD0|CMD1|DATA|FCS envelope.
type Codec struct {
	Checksum Checksum
	Limits   Limits
}

func NewCodec(sum Checksum, limits Limits) Codec {
	if sum == nil {
		sum = XOR{}
	}
	if limits.MaxData <= 0 || limits.MaxData > 255 {
		limits.MaxData = DefaultMaxData
	}
	return Codec{Checksum: sum, Limits: limits}
}

func DefaultCodec() Codec {
	return NewCodec(XOR{}, DefaultLimits())
}

// Encode returns the wire bytes of f.
func (c Codec) Encode(f Frame) ([]byte, error) {
	if len(f.Data) > c.limits().MaxData {
		return nil, ErrPayloadTooLarge
	}
	buf := make([]byte, 0, MinFrameLen+len(f.Data))
	buf = append(buf, SOF, byte(len(f.Data)), f.Header.Cmd0(), f.Header.Cmd1())
	buf = append(buf, f.Data...)
	buf = append(buf, c.checksum().Sum(buf[1:]))
	return buf, nil
}

// Decode extracts the first frame of buf and reports how many bytes it used.
//
// ErrNeedMoreData means buf is a prefix of a frame that may still be valid.
// A *CorruptError means the head of buf can never form a frame; the caller
// drops Skip bytes and calls Decode again. An incomplete head that is followed
// by a complete, checksum-valid frame is reported corrupt up to that frame,
// so a stray SOF cannot hold back frames already received.
func (c Codec) Decode(buf []byte) (Frame, int, error) {
	if len(buf) == 0 {
		return Frame{}, 0, ErrNeedMoreData
	}
	if buf[0] != SOF {
		skip := 1
		for skip < len(buf) && buf[skip] != SOF {
			skip++
		}
		return Frame{}, 0, &CorruptError{Skip: skip, Reason: "missing start of frame"}
	}
	if len(buf) < 2 {
		return Frame{}, 0, ErrNeedMoreData
	}
	dataLen := int(buf[1])
	if dataLen > c.limits().MaxData {
		return Frame{}, 0, &CorruptError{Skip: 1, Reason: fmt.Sprintf("length %d over limit", dataLen)}
	}
	total := MinFrameLen + dataLen
	if len(buf) < total {
		if skip := c.nextComplete(buf); skip > 0 {
			return Frame{}, 0, &CorruptError{Skip: skip, Reason: fmt.Sprintf("truncated frame (len %d) before a complete one", dataLen)}
		}
		return Frame{}, 0, ErrNeedMoreData
	}
	want := c.checksum().Sum(buf[1 : total-1])
	if got := buf[total-1]; got != want {
		return Frame{}, 0, &CorruptError{
			Skip:   1,
			Reason: fmt.Sprintf("%s mismatch got=0x%02X want=0x%02X", c.checksum().Name(), got, want),
		}
	}
	var data []byte
	if dataLen > 0 {
		data = make([]byte, dataLen)
		copy(data, buf[HeaderLen:HeaderLen+dataLen])
	}
	return Frame{
		Header: protocol.HeaderFromBytes(buf[2], buf[3]),
		Data:   data,
	}, total, nil
}

// nextComplete returns the offset of the first SOF after buf[0] that starts a
// complete frame with a valid FCS, or 0 when there is none.
func (c Codec) nextComplete(buf []byte) int {
	for i := 1; i+MinFrameLen <= len(buf); i++ {
		if buf[i] != SOF {
			continue
		}
		dataLen := int(buf[i+1])
		end := i + MinFrameLen + dataLen
		if dataLen > c.limits().MaxData || end > len(buf) {
			continue
		}
		if c.checksum().Sum(buf[i+1:end-1]) == buf[end-1] {
			return i
		}
	}
	return 0
}

func (c Codec) checksum() Checksum {
	if c.Checksum == nil {
		return XOR{}
	}
	return c.Checksum
}

func (c Codec) limits() Limits {
	if c.Limits.MaxData <= 0 {
		return DefaultLimits()
	}
	return c.Limits
}
