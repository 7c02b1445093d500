package protocol

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// ParseValue reads the textual form produced by Value.String. Integers
// accept any strconv base prefix; byte strings are hex; EUI64 is written
// most significant byte first with optional colons; list16 is a comma
// separated list, optionally bracketed.
func ParseValue(t ParamType, raw string) (Value, error) {
	raw = strings.TrimSpace(raw)
	switch t {
	case TypeUint8, TypeUint16, TypeUint32, TypeUint64, TypeStatus, TypeNWK:
		bits := map[ParamType]int{
			TypeUint8: 8, TypeStatus: 8, TypeUint16: 16, TypeNWK: 16, TypeUint32: 32, TypeUint64: 64,
		}[t]
		n, err := strconv.ParseUint(raw, 0, bits)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %s %q", ErrFieldTypeMismatch, t, raw)
		}
		return Value{Type: t, Uint: n}, nil
	case TypeInt8:
		n, err := strconv.ParseInt(raw, 0, 8)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %s %q", ErrFieldTypeMismatch, t, raw)
		}
		return I8(int8(n)), nil
	case TypeBool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %s %q", ErrFieldTypeMismatch, t, raw)
		}
		return Bool(b), nil
	case TypeEUI64:
		b, err := hex.DecodeString(strings.ReplaceAll(raw, ":", ""))
		if err != nil || len(b) != 8 {
			return Value{}, fmt.Errorf("%w: %s %q", ErrFieldTypeMismatch, t, raw)
		}
		var v [8]byte
		for i := range b {
			v[7-i] = b[i]
		}
		return EUI64(v), nil
	case TypeShortBytes, TypeLongBytes, TypeBytes:
		b, err := hex.DecodeString(strings.TrimPrefix(strings.ToLower(raw), "0x"))
		if err != nil {
			return Value{}, fmt.Errorf("%w: %s %q", ErrFieldTypeMismatch, t, raw)
		}
		return Value{Type: t, Bytes: cloneBytes(b)}, nil
	case TypeList16:
		raw = strings.TrimSuffix(strings.TrimPrefix(raw, "["), "]")
		if strings.TrimSpace(raw) == "" {
			return List16(nil), nil
		}
		parts := strings.Split(raw, ",")
		list := make([]uint16, 0, len(parts))
		for _, p := range parts {
			n, err := strconv.ParseUint(strings.TrimSpace(p), 0, 16)
			if err != nil {
				return Value{}, fmt.Errorf("%w: %s %q", ErrFieldTypeMismatch, t, raw)
			}
			list = append(list, uint16(n))
		}
		return List16(list), nil
	default:
		return Value{}, fmt.Errorf("%w: %s", ErrUnknownParamType, t)
	}
}

// ParseFields builds Fields in layout order from name=text pairs. Names
// absent from the layout are an error; missing names are left for
// validation to report.
func ParseFields(layout []Param, raw map[string]string) (Fields, error) {
	for name := range raw {
		if !layoutHas(layout, name) {
			return nil, fmt.Errorf("%w: unknown field %q", ErrFieldTypeMismatch, name)
		}
	}
	out := make(Fields, 0, len(layout))
	for _, p := range layout {
		text, ok := raw[p.Name]
		if !ok {
			continue
		}
		v, err := ParseValue(p.Type, text)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p.Name, err)
		}
		out = append(out, F(p.Name, v))
	}
	return out, nil
}

// Text renders fields as name -> Value.String.
func (fs Fields) Text() map[string]string {
	out := make(map[string]string, len(fs))
	for _, f := range fs {
		out[f.Name] = f.Value.String()
	}
	return out
}
