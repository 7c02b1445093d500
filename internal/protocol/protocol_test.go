package protocol

import (
	"errors"
	"testing"

	"github.com/danmuck/znplink/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

var allTypesLayout = []Param{
	{Name: "A", Type: TypeUint8},
	{Name: "B", Type: TypeUint16},
	{Name: "C", Type: TypeUint32},
	{Name: "D", Type: TypeUint64},
	{Name: "E", Type: TypeInt8},
	{Name: "F", Type: TypeBool},
	{Name: "G", Type: TypeStatus},
	{Name: "H", Type: TypeEUI64},
	{Name: "I", Type: TypeNWK},
	{Name: "J", Type: TypeShortBytes},
	{Name: "K", Type: TypeLongBytes},
	{Name: "L", Type: TypeList16},
	{Name: "M", Type: TypeBytes},
}

func allTypesFields() Fields {
	return Fields{
		F("A", U8(0xAB)),
		F("B", U16(0x1234)),
		F("C", U32(0xDEADBEEF)),
		F("D", U64(1<<40+7)),
		F("E", I8(-5)),
		F("F", Bool(true)),
		F("G", Status(0)),
		F("H", EUI64([8]byte{1, 2, 3, 4, 5, 6, 7, 8})),
		F("I", NWK(0xFFFC)),
		F("J", ShortBytes([]byte{9, 9})),
		F("K", LongBytes([]byte("long"))),
		F("L", List16([]uint16{0x0006, 0x0008})),
		F("M", Bytes([]byte{0xCA, 0xFE})),
	}
}

func TestRoundTripEncodeDecodeParams(t *testing.T) {
	testlog.Start(t)
	in := allTypesFields()
	data, err := EncodeParams(allTypesLayout, in)
	require.NoError(t, err)

	out, err := DecodeParams(allTypesLayout, data)
	require.NoError(t, err)
	require.True(t, in.Equal(out), "got=%s want=%s", out, in)
}

func TestEncodeParamsLittleEndian(t *testing.T) {
	testlog.Start(t)
	layout := []Param{{Name: "Addr", Type: TypeNWK}, {Name: "Len", Type: TypeUint32}}
	data, err := EncodeParams(layout, Fields{F("Len", U32(1)), F("Addr", NWK(0x1234))})
	require.NoError(t, err)
	require.Equal(t, []byte{0x34, 0x12, 0x01, 0x00, 0x00, 0x00}, data)
}

func TestEncodeParamsRejectsInvalidFields(t *testing.T) {
	testlog.Start(t)
	layout := []Param{{Name: "X", Type: TypeUint8}}

	_, err := EncodeParams(layout, Fields{})
	var encErr *EncodingError
	require.True(t, errors.As(err, &encErr))
	require.Equal(t, "X", encErr.Param)
	require.ErrorIs(t, err, ErrEncoding)

	_, err = EncodeParams(layout, Fields{F("X", U16(1))})
	require.ErrorIs(t, err, ErrEncoding)

	_, err = EncodeParams(layout, Fields{F("X", Value{Type: TypeUint8, Uint: 300})})
	require.ErrorIs(t, err, ErrEncoding)

	_, err = EncodeParams(layout, Fields{F("X", U8(1)), F("Y", U8(2))})
	require.ErrorIs(t, err, ErrEncoding)

	_, err = EncodeParams(layout, Fields{F("X", U8(1)), F("X", U8(2))})
	require.ErrorIs(t, err, ErrEncoding)
}

func TestDecodeParamsTruncatedAndTrailing(t *testing.T) {
	testlog.Start(t)
	layout := []Param{{Name: "Value", Type: TypeUint16}}

	_, err := DecodeParams(layout, []byte{0x01})
	require.ErrorIs(t, err, ErrTruncated)

	_, err = DecodeParams(layout, []byte{0x01, 0x02, 0x03})
	require.ErrorIs(t, err, ErrTrailingData)

	_, err = DecodeParams([]Param{{Name: "Data", Type: TypeShortBytes}}, []byte{0x05, 0x01})
	require.ErrorIs(t, err, ErrTruncated)

	_, err = DecodeParams([]Param{{Name: "Flag", Type: TypeBool}}, []byte{0x02})
	require.ErrorIs(t, err, ErrInvalidValue)
	require.NotErrorIs(t, err, ErrInvalidLength)
	var de *DecodeError
	require.True(t, errors.As(err, &de))
	require.Equal(t, "Flag", de.Param)
}

func TestHeaderBitLayout(t *testing.T) {
	testlog.Start(t)
	h := Header{Type: SREQ, Subsystem: SubsystemSYS, ID: 0x01}
	require.Equal(t, byte(0x21), h.Cmd0())
	require.Equal(t, byte(0x01), h.Cmd1())

	rsp := h.Response()
	require.Equal(t, byte(0x61), rsp.Cmd0())
	require.Equal(t, h, rsp.Request())
	require.Equal(t, rsp, HeaderFromBytes(0x61, 0x01))
	require.Equal(t, h, HeaderFromUint16(h.Uint16()))

	areq := HeaderFromBytes(0x45, 0xC0)
	require.Equal(t, AREQ, areq.Type)
	require.Equal(t, SubsystemZDO, areq.Subsystem)
	require.Equal(t, uint8(0xC0), areq.ID)
}

func TestMatchPartialWildcards(t *testing.T) {
	testlog.Start(t)
	h := Header{Type: AREQ, Subsystem: SubsystemAF, ID: 0x80}
	msg := Message{
		Header:  h,
		Known:   true,
		Command: "AF.DataConfirm",
		Fields:  Fields{F("Status", Status(0)), F("Endpoint", U8(1)), F("TSN", U8(7))},
	}

	require.True(t, MatchPartial(h, Fields{F("Endpoint", U8(1))})(msg))
	require.True(t, MatchPartial(h, nil)(msg))
	require.False(t, MatchPartial(h, Fields{F("TSN", U8(8))})(msg))
	require.False(t, MatchPartial(h, Fields{F("Missing", U8(1))})(msg))
	require.False(t, MatchPartial(h.WithType(SRSP), nil)(msg))
}

func TestValueAccessorsTypeChecked(t *testing.T) {
	testlog.Start(t)
	_, err := U8(1).AsBool()
	require.ErrorIs(t, err, ErrFieldTypeMismatch)

	v, err := Status(3).AsUint()
	require.NoError(t, err)
	require.Equal(t, uint64(3), v)

	eui, err := EUI64([8]byte{1, 2, 3, 4, 5, 6, 7, 8}).AsEUI64()
	require.NoError(t, err)
	require.Equal(t, [8]byte{1, 2, 3, 4, 5, 6, 7, 8}, eui)
	require.Equal(t, "08:07:06:05:04:03:02:01", EUI64(eui).String())
}

func TestParseFieldsReadsStringForm(t *testing.T) {
	testlog.Start(t)
	want := allTypesFields()

	got, err := ParseFields(allTypesLayout, want.Text())
	require.NoError(t, err)
	require.True(t, want.Equal(got), "got %s want %s", got, want)

	_, err = ParseFields(allTypesLayout, map[string]string{"Z": "1"})
	require.ErrorIs(t, err, ErrFieldTypeMismatch)

	_, err = ParseFields(allTypesLayout, map[string]string{"A": "256"})
	require.ErrorIs(t, err, ErrFieldTypeMismatch)

	partial, err := ParseFields(allTypesLayout, map[string]string{"I": "0x0000", "A": "7"})
	require.NoError(t, err)
	require.Equal(t, Fields{F("A", U8(7)), F("I", NWK(0))}, partial)
}
