package protocol

import (
	"bytes"
	"fmt"
	"strings"
)

// ParamType is the wire representation of one positional parameter.
type ParamType uint8

const (
	TypeUint8 ParamType = iota + 1
	TypeUint16
	TypeUint32
	TypeUint64
	TypeInt8
	TypeBool
	TypeStatus
	TypeEUI64
	TypeNWK
	TypeShortBytes
	TypeLongBytes
	TypeList16
	TypeBytes
)

var paramTypeNames = map[ParamType]string{
	TypeUint8:      "uint8",
	TypeUint16:     "uint16",
	TypeUint32:     "uint32",
	TypeUint64:     "uint64",
	TypeInt8:       "int8",
	TypeBool:       "bool",
	TypeStatus:     "status",
	TypeEUI64:      "eui64",
	TypeNWK:        "nwk",
	TypeShortBytes: "short_bytes",
	TypeLongBytes:  "long_bytes",
	TypeList16:     "list16",
	TypeBytes:      "bytes",
}

func (t ParamType) String() string {
	if name, ok := paramTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("type%d", uint8(t))
}

// ParseParamType resolves the names used in schema table files.
func ParseParamType(raw string) (ParamType, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	for t, name := range paramTypeNames {
		if name == raw {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownParamType, raw)
}

// Param declares one positional parameter of a layout.
type Param struct {
	Name string
	Type ParamType
}

// Value is a typed parameter value.
type Value struct {
	Type  ParamType
	Uint  uint64
	Int   int64
	Bool  bool
	Bytes []byte
	List  []uint16
}

func U8(v uint8) Value   { return Value{Type: TypeUint8, Uint: uint64(v)} }
func U16(v uint16) Value { return Value{Type: TypeUint16, Uint: uint64(v)} }
func U32(v uint32) Value { return Value{Type: TypeUint32, Uint: uint64(v)} }
func U64(v uint64) Value { return Value{Type: TypeUint64, Uint: v} }
func I8(v int8) Value    { return Value{Type: TypeInt8, Int: int64(v)} }
func NWK(v uint16) Value { return Value{Type: TypeNWK, Uint: uint64(v)} }

// Status creates a status value; zero means success.
func Status(v uint8) Value { return Value{Type: TypeStatus, Uint: uint64(v)} }

func Bool(v bool) Value { return Value{Type: TypeBool, Bool: v} }

func EUI64(v [8]byte) Value {
	buf := make([]byte, 8)
	copy(buf, v[:])
	return Value{Type: TypeEUI64, Bytes: buf}
}

func ShortBytes(v []byte) Value { return Value{Type: TypeShortBytes, Bytes: cloneBytes(v)} }
func LongBytes(v []byte) Value  { return Value{Type: TypeLongBytes, Bytes: cloneBytes(v)} }
func Bytes(v []byte) Value      { return Value{Type: TypeBytes, Bytes: cloneBytes(v)} }

func List16(v []uint16) Value {
	if len(v) == 0 {
		return Value{Type: TypeList16}
	}
	buf := make([]uint16, len(v))
	copy(buf, v)
	return Value{Type: TypeList16, List: buf}
}

func cloneBytes(v []byte) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, len(v))
	copy(buf, v)
	return buf
}

// AsUint returns any unsigned integer-like value (uint8..uint64, status, nwk).
func (v Value) AsUint() (uint64, error) {
	switch v.Type {
	case TypeUint8, TypeUint16, TypeUint32, TypeUint64, TypeStatus, TypeNWK:
		return v.Uint, nil
	default:
		return 0, ErrFieldTypeMismatch
	}
}

func (v Value) AsInt8() (int8, error) {
	if v.Type != TypeInt8 {
		return 0, ErrFieldTypeMismatch
	}
	return int8(v.Int), nil
}

func (v Value) AsBool() (bool, error) {
	if v.Type != TypeBool {
		return false, ErrFieldTypeMismatch
	}
	return v.Bool, nil
}

func (v Value) AsEUI64() ([8]byte, error) {
	var out [8]byte
	if v.Type != TypeEUI64 {
		return out, ErrFieldTypeMismatch
	}
	if len(v.Bytes) != 8 {
		return out, ErrInvalidLength
	}
	copy(out[:], v.Bytes)
	return out, nil
}

// AsBytes returns a copy of any byte-string value.
func (v Value) AsBytes() ([]byte, error) {
	switch v.Type {
	case TypeShortBytes, TypeLongBytes, TypeBytes, TypeEUI64:
		return cloneBytes(v.Bytes), nil
	default:
		return nil, ErrFieldTypeMismatch
	}
}

func (v Value) AsList16() ([]uint16, error) {
	if v.Type != TypeList16 {
		return nil, ErrFieldTypeMismatch
	}
	out := make([]uint16, len(v.List))
	copy(out, v.List)
	return out, nil
}

// Equal compares type and content.
func (v Value) Equal(o Value) bool {
	if v.Type != o.Type || v.Uint != o.Uint || v.Int != o.Int || v.Bool != o.Bool {
		return false
	}
	if !bytes.Equal(v.Bytes, o.Bytes) || len(v.List) != len(o.List) {
		return false
	}
	for i := range v.List {
		if v.List[i] != o.List[i] {
			return false
		}
	}
	return true
}

func (v Value) String() string {
	switch v.Type {
	case TypeUint8, TypeUint16, TypeUint32, TypeUint64, TypeStatus:
		return fmt.Sprintf("%d", v.Uint)
	case TypeNWK:
		return fmt.Sprintf("0x%04X", v.Uint)
	case TypeInt8:
		return fmt.Sprintf("%d", v.Int)
	case TypeBool:
		return fmt.Sprintf("%t", v.Bool)
	case TypeEUI64:
		parts := make([]string, 0, len(v.Bytes))
		for i := len(v.Bytes) - 1; i >= 0; i-- {
			parts = append(parts, fmt.Sprintf("%02x", v.Bytes[i]))
		}
		return strings.Join(parts, ":")
	case TypeShortBytes, TypeLongBytes, TypeBytes:
		return fmt.Sprintf("%X", v.Bytes)
	case TypeList16:
		parts := make([]string, 0, len(v.List))
		for _, item := range v.List {
			parts = append(parts, fmt.Sprintf("0x%04X", item))
		}
		return "[" + strings.Join(parts, ",") + "]"
	default:
		return "<invalid>"
	}
}

// Field is one named parameter value.
type Field struct {
	Name  string
	Value Value
}

// F is shorthand for building Fields literals.
func F(name string, v Value) Field {
	return Field{Name: name, Value: v}
}

// Fields is an ordered parameter list; decoded fields follow layout order.
type Fields []Field

func (fs Fields) Get(name string) (Value, bool) {
	for _, f := range fs {
		if f.Name == name {
			return f.Value, true
		}
	}
	return Value{}, false
}

// Uint looks up an unsigned integer-like field.
func (fs Fields) Uint(name string) (uint64, error) {
	v, ok := fs.Get(name)
	if !ok {
		return 0, fmt.Errorf("protocol: missing field %q", name)
	}
	return v.AsUint()
}

func (fs Fields) Equal(o Fields) bool {
	if len(fs) != len(o) {
		return false
	}
	for i := range fs {
		if fs[i].Name != o[i].Name || !fs[i].Value.Equal(o[i].Value) {
			return false
		}
	}
	return true
}

func (fs Fields) String() string {
	parts := make([]string, 0, len(fs))
	for _, f := range fs {
		parts = append(parts, f.Name+"="+f.Value.String())
	}
	return "{" + strings.Join(parts, " ") + "}"
}
