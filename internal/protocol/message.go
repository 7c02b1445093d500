package protocol

import "fmt"

// Message is one decoded frame. Known is false when the header is absent
// from the active schema; such messages only carry Data.
type Message struct {
	Header  Header
	Command string
	Fields  Fields
	Data    []byte
	Known   bool
}

func (m Message) String() string {
	if !m.Known {
		return fmt.Sprintf("%s data=%X", m.Header, m.Data)
	}
	return fmt.Sprintf("%s.%s %s", m.Command, m.Header.Type, m.Fields)
}

// Predicate selects messages for transactions and listeners.
type Predicate func(Message) bool

// MatchAny accepts every message.
func MatchAny() Predicate {
	return func(Message) bool { return true }
}

// MatchHeader accepts messages with exactly this header.
func MatchHeader(h Header) Predicate {
	return func(m Message) bool { return m.Header == h }
}

// MatchSubsystem accepts messages of one subsystem and type.
func MatchSubsystem(t CommandType, s Subsystem) Predicate {
	return func(m Message) bool {
		return m.Header.Type == t && m.Header.Subsystem == s
	}
}

// MatchPartial accepts messages with header h whose fields equal every
// entry of partial. Fields missing from partial are wildcards.
func MatchPartial(h Header, partial Fields) Predicate {
	want := make(Fields, len(partial))
	copy(want, partial)
	return func(m Message) bool {
		if m.Header != h || !m.Known {
			return false
		}
		for _, f := range want {
			got, ok := m.Fields.Get(f.Name)
			if !ok || !got.Equal(f.Value) {
				return false
			}
		}
		return true
	}
}
