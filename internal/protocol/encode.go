package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
)

// EncodeParams serializes fields positionally according to layout.
// Field order in the input is free; every layout parameter must be present
// exactly once and no other names may appear.
func EncodeParams(layout []Param, fields Fields) ([]byte, error) {
	byName := make(map[string]Value, len(fields))
	for _, f := range fields {
		if _, dup := byName[f.Name]; dup {
			return nil, &EncodingError{Param: f.Name, Reason: "duplicate field"}
		}
		byName[f.Name] = f.Value
	}
	for name := range byName {
		if !layoutHas(layout, name) {
			return nil, &EncodingError{Param: name, Reason: "unknown field"}
		}
	}

	out := make([]byte, 0, 16)
	for i, p := range layout {
		v, ok := byName[p.Name]
		if !ok {
			return nil, &EncodingError{Param: p.Name, Reason: "missing field"}
		}
		if p.Type == TypeBytes && i != len(layout)-1 {
			return nil, &EncodingError{Param: p.Name, Reason: "bytes parameter must be last"}
		}
		var err error
		out, err = appendValue(out, p, v)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func layoutHas(layout []Param, name string) bool {
	for _, p := range layout {
		if p.Name == name {
			return true
		}
	}
	return false
}

func appendValue(out []byte, p Param, v Value) ([]byte, error) {
	if v.Type != p.Type {
		return nil, &EncodingError{
			Param:  p.Name,
			Reason: fmt.Sprintf("type mismatch: got %s want %s", v.Type, p.Type),
		}
	}
	switch p.Type {
	case TypeUint8, TypeStatus:
		if v.Uint > math.MaxUint8 {
			return nil, &EncodingError{Param: p.Name, Reason: "value out of range"}
		}
		return append(out, byte(v.Uint)), nil
	case TypeUint16, TypeNWK:
		if v.Uint > math.MaxUint16 {
			return nil, &EncodingError{Param: p.Name, Reason: "value out of range"}
		}
		return binary.LittleEndian.AppendUint16(out, uint16(v.Uint)), nil
	case TypeUint32:
		if v.Uint > math.MaxUint32 {
			return nil, &EncodingError{Param: p.Name, Reason: "value out of range"}
		}
		return binary.LittleEndian.AppendUint32(out, uint32(v.Uint)), nil
	case TypeUint64:
		return binary.LittleEndian.AppendUint64(out, v.Uint), nil
	case TypeInt8:
		if v.Int < math.MinInt8 || v.Int > math.MaxInt8 {
			return nil, &EncodingError{Param: p.Name, Reason: "value out of range"}
		}
		return append(out, byte(int8(v.Int))), nil
	case TypeBool:
		if v.Bool {
			return append(out, 1), nil
		}
		return append(out, 0), nil
	case TypeEUI64:
		if len(v.Bytes) != 8 {
			return nil, &EncodingError{Param: p.Name, Reason: "eui64 must be 8 bytes"}
		}
		return append(out, v.Bytes...), nil
	case TypeShortBytes:
		if len(v.Bytes) > math.MaxUint8 {
			return nil, &EncodingError{Param: p.Name, Reason: "short_bytes longer than 255"}
		}
		out = append(out, byte(len(v.Bytes)))
		return append(out, v.Bytes...), nil
	case TypeLongBytes:
		if len(v.Bytes) > math.MaxUint16 {
			return nil, &EncodingError{Param: p.Name, Reason: "long_bytes longer than 65535"}
		}
		out = binary.LittleEndian.AppendUint16(out, uint16(len(v.Bytes)))
		return append(out, v.Bytes...), nil
	case TypeList16:
		if len(v.List) > math.MaxUint8 {
			return nil, &EncodingError{Param: p.Name, Reason: "list16 longer than 255"}
		}
		out = append(out, byte(len(v.List)))
		for _, item := range v.List {
			out = binary.LittleEndian.AppendUint16(out, item)
		}
		return out, nil
	case TypeBytes:
		return append(out, v.Bytes...), nil
	default:
		return nil, &EncodingError{Param: p.Name, Reason: ErrUnknownParamType.Error()}
	}
}
