package protocol

import (
	"encoding/binary"
	"fmt"
)

// DecodeParams parses data positionally according to layout. The whole
// payload must be consumed.
func DecodeParams(layout []Param, data []byte) (Fields, error) {
	fields := make(Fields, 0, len(layout))
	offset := 0
	for _, p := range layout {
		v, n, err := readValue(p.Type, data[offset:])
		if err != nil {
			return nil, &DecodeError{Param: p.Name, Err: err}
		}
		offset += n
		fields = append(fields, Field{Name: p.Name, Value: v})
	}
	if offset != len(data) {
		return nil, &DecodeError{Err: ErrTrailingData}
	}
	return fields, nil
}

func readValue(t ParamType, buf []byte) (Value, int, error) {
	need := func(n int) error {
		if len(buf) < n {
			return ErrTruncated
		}
		return nil
	}
	switch t {
	case TypeUint8:
		if err := need(1); err != nil {
			return Value{}, 0, err
		}
		return U8(buf[0]), 1, nil
	case TypeStatus:
		if err := need(1); err != nil {
			return Value{}, 0, err
		}
		return Status(buf[0]), 1, nil
	case TypeUint16, TypeNWK:
		if err := need(2); err != nil {
			return Value{}, 0, err
		}
		return Value{Type: t, Uint: uint64(binary.LittleEndian.Uint16(buf))}, 2, nil
	case TypeUint32:
		if err := need(4); err != nil {
			return Value{}, 0, err
		}
		return U32(binary.LittleEndian.Uint32(buf)), 4, nil
	case TypeUint64:
		if err := need(8); err != nil {
			return Value{}, 0, err
		}
		return U64(binary.LittleEndian.Uint64(buf)), 8, nil
	case TypeInt8:
		if err := need(1); err != nil {
			return Value{}, 0, err
		}
		return I8(int8(buf[0])), 1, nil
	case TypeBool:
		if err := need(1); err != nil {
			return Value{}, 0, err
		}
		switch buf[0] {
		case 0:
			return Bool(false), 1, nil
		case 1:
			return Bool(true), 1, nil
		default:
			return Value{}, 0, fmt.Errorf("%w: bool byte 0x%02X", ErrInvalidValue, buf[0])
		}
	case TypeEUI64:
		if err := need(8); err != nil {
			return Value{}, 0, err
		}
		var raw [8]byte
		copy(raw[:], buf[:8])
		return EUI64(raw), 8, nil
	case TypeShortBytes:
		if err := need(1); err != nil {
			return Value{}, 0, err
		}
		n := int(buf[0])
		if err := need(1 + n); err != nil {
			return Value{}, 0, err
		}
		return ShortBytes(buf[1 : 1+n]), 1 + n, nil
	case TypeLongBytes:
		if err := need(2); err != nil {
			return Value{}, 0, err
		}
		n := int(binary.LittleEndian.Uint16(buf))
		if err := need(2 + n); err != nil {
			return Value{}, 0, err
		}
		return LongBytes(buf[2 : 2+n]), 2 + n, nil
	case TypeList16:
		if err := need(1); err != nil {
			return Value{}, 0, err
		}
		count := int(buf[0])
		if err := need(1 + 2*count); err != nil {
			return Value{}, 0, err
		}
		items := make([]uint16, count)
		for i := range items {
			items[i] = binary.LittleEndian.Uint16(buf[1+2*i:])
		}
		return List16(items), 1 + 2*count, nil
	case TypeBytes:
		return Bytes(buf), len(buf), nil
	default:
		return Value{}, 0, ErrUnknownParamType
	}
}
