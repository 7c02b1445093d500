package schema

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/danmuck/znplink/internal/protocol"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotFound       = errors.New("schema: command not found")
	ErrInvalidSet     = errors.New("schema: invalid command set")
	ErrUnknownVersion = errors.New("schema: unknown protocol version")
)

// Reply declares what the NCP sends back for a command.
type Reply uint8

const (
	// ReplyNone is fire-and-forget (host AREQ) or an unsolicited notification.
	ReplyNone Reply = iota
	// ReplySync is answered by an SRSP with the same subsystem and id.
	ReplySync
	// ReplyConfirmThenCallback is answered by an SRSP carrying Status and,
	// when that status is success, later by the AREQ named by Callback.
	ReplyConfirmThenCallback
)

func (r Reply) String() string {
	switch r {
	case ReplyNone:
		return "none"
	case ReplySync:
		return "sync"
	case ReplyConfirmThenCallback:
		return "callback"
	default:
		return fmt.Sprintf("reply%d", uint8(r))
	}
}

func ParseReply(raw string) (Reply, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "none":
		return ReplyNone, nil
	case "sync":
		return ReplySync, nil
	case "callback", "confirm_then_callback":
		return ReplyConfirmThenCallback, nil
	default:
		return 0, fmt.Errorf("%w: unknown reply %q", ErrInvalidSet, raw)
	}
}

// StatusParam is the confirmation field inspected for two-phase commands.
const StatusParam = "Status"

// Descriptor is the immutable definition of one command.
type Descriptor struct {
	Name     string
	Header   protocol.Header
	Request  []protocol.Param
	Response []protocol.Param
	Reply    Reply
	// Callback names the AREQ descriptor carrying the asynchronous result.
	Callback string
	// CallbackMatch lists request fields the result must echo, either
	// "Name" or "RequestName:CallbackName".
	CallbackMatch []string
}

// ResponseHeader is the SRSP header answering this command.
func (d Descriptor) ResponseHeader() protocol.Header {
	return d.Header.Response()
}

// MatchPairs splits CallbackMatch into request/callback field name pairs.
func (d Descriptor) MatchPairs() [][2]string {
	out := make([][2]string, 0, len(d.CallbackMatch))
	for _, raw := range d.CallbackMatch {
		req, cb, found := strings.Cut(raw, ":")
		req = strings.TrimSpace(req)
		if !found {
			out = append(out, [2]string{req, req})
			continue
		}
		out = append(out, [2]string{req, strings.TrimSpace(cb)})
	}
	return out
}

// Set is one versioned command table.
type Set struct {
	Version  string
	Checksum string
	Commands []Descriptor
}

// Registry is a read-only index over a validated Set.
type Registry struct {
	version  string
	checksum string
	commands []Descriptor
	byHeader map[protocol.Header]int
	byName   map[string]int
}

// NewRegistry validates set and indexes it. The RPC error descriptor is
// always present.
func NewRegistry(set Set) (*Registry, error) {
	r := &Registry{
		version:  strings.TrimSpace(set.Version),
		checksum: strings.TrimSpace(set.Checksum),
		byHeader: make(map[protocol.Header]int, len(set.Commands)+1),
		byName:   make(map[string]int, len(set.Commands)+1),
	}
	commands := make([]Descriptor, 0, len(set.Commands)+1)
	commands = append(commands, set.Commands...)
	if !hasHeader(commands, rpcErrorDescriptor.Header) {
		commands = append(commands, rpcErrorDescriptor)
	}
	for _, d := range commands {
		if err := r.add(d); err != nil {
			log.Error().Msgf("schema.NewRegistry version=%q: %v", r.version, err)
			return nil, err
		}
	}
	for _, d := range r.commands {
		if err := r.checkCallback(d); err != nil {
			log.Error().Msgf("schema.NewRegistry version=%q: %v", r.version, err)
			return nil, err
		}
	}
	log.Debug().Msgf("schema.NewRegistry version=%q commands=%d", r.version, len(r.commands))
	return r, nil
}

func hasHeader(commands []Descriptor, h protocol.Header) bool {
	for _, d := range commands {
		if d.Header == h {
			return true
		}
	}
	return false
}

func (r *Registry) add(d Descriptor) error {
	name := strings.TrimSpace(d.Name)
	if name == "" {
		return fmt.Errorf("%w: command %s has no name", ErrInvalidSet, d.Header)
	}
	if _, dup := r.byName[name]; dup {
		return fmt.Errorf("%w: duplicate command name %q", ErrInvalidSet, name)
	}
	if _, dup := r.byHeader[d.Header]; dup {
		return fmt.Errorf("%w: duplicate header %s (%s)", ErrInvalidSet, d.Header, name)
	}
	switch d.Header.Type {
	case protocol.SREQ:
		if d.Reply == ReplyNone {
			return fmt.Errorf("%w: %s: SREQ must declare a reply", ErrInvalidSet, name)
		}
	case protocol.AREQ:
		if d.Reply != ReplyNone {
			return fmt.Errorf("%w: %s: AREQ cannot expect a reply", ErrInvalidSet, name)
		}
	default:
		return fmt.Errorf("%w: %s: header type must be SREQ or AREQ", ErrInvalidSet, name)
	}
	if err := checkLayout(name, d.Request); err != nil {
		return err
	}
	if err := checkLayout(name, d.Response); err != nil {
		return err
	}
	if d.Reply == ReplyConfirmThenCallback {
		if !hasStatus(d.Response) {
			return fmt.Errorf("%w: %s: two-phase command needs a %s response field", ErrInvalidSet, name, StatusParam)
		}
		if strings.TrimSpace(d.Callback) == "" {
			return fmt.Errorf("%w: %s: two-phase command needs a callback", ErrInvalidSet, name)
		}
	}
	d.Name = name
	r.byName[name] = len(r.commands)
	r.byHeader[d.Header] = len(r.commands)
	r.commands = append(r.commands, d)
	return nil
}

func checkLayout(name string, layout []protocol.Param) error {
	seen := make(map[string]struct{}, len(layout))
	for i, p := range layout {
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("%w: %s: duplicate parameter %q", ErrInvalidSet, name, p.Name)
		}
		seen[p.Name] = struct{}{}
		if p.Type == protocol.TypeBytes && i != len(layout)-1 {
			return fmt.Errorf("%w: %s: bytes parameter %q must be last", ErrInvalidSet, name, p.Name)
		}
	}
	return nil
}

func hasStatus(layout []protocol.Param) bool {
	for _, p := range layout {
		if p.Name == StatusParam && p.Type == protocol.TypeStatus {
			return true
		}
	}
	return false
}

func (r *Registry) checkCallback(d Descriptor) error {
	if d.Reply != ReplyConfirmThenCallback {
		return nil
	}
	cb, err := r.ByName(d.Callback)
	if err != nil {
		return fmt.Errorf("%w: %s: callback %q not defined", ErrInvalidSet, d.Name, d.Callback)
	}
	if cb.Header.Type != protocol.AREQ {
		return fmt.Errorf("%w: %s: callback %q is not an AREQ", ErrInvalidSet, d.Name, d.Callback)
	}
	for _, pair := range d.MatchPairs() {
		reqParam, ok := findParam(d.Request, pair[0])
		if !ok {
			return fmt.Errorf("%w: %s: callback match field %q not in request", ErrInvalidSet, d.Name, pair[0])
		}
		cbParam, ok := findParam(cb.Request, pair[1])
		if !ok {
			return fmt.Errorf("%w: %s: callback match field %q not in %s", ErrInvalidSet, d.Name, pair[1], cb.Name)
		}
		if reqParam.Type != cbParam.Type {
			return fmt.Errorf("%w: %s: callback match %q type differs from %s.%s", ErrInvalidSet, d.Name, pair[0], cb.Name, pair[1])
		}
	}
	return nil
}

func findParam(layout []protocol.Param, name string) (protocol.Param, bool) {
	for _, p := range layout {
		if p.Name == name {
			return p, true
		}
	}
	return protocol.Param{}, false
}

func (r *Registry) Version() string  { return r.version }
func (r *Registry) Checksum() string { return r.checksum }

// Lookup resolves a header to its descriptor. SRSP headers resolve to the
// SREQ they answer.
func (r *Registry) Lookup(h protocol.Header) (Descriptor, error) {
	key := h
	if h.Type == protocol.SRSP {
		key = h.Request()
	}
	idx, ok := r.byHeader[key]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrNotFound, h)
	}
	d := r.commands[idx]
	if h.Type == protocol.SRSP && d.Reply == ReplyNone {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrNotFound, h)
	}
	return d, nil
}

func (r *Registry) ByName(name string) (Descriptor, error) {
	idx, ok := r.byName[strings.TrimSpace(name)]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return r.commands[idx], nil
}

// Layout returns the payload layout carried by a frame with header h.
func (r *Registry) Layout(h protocol.Header) ([]protocol.Param, Descriptor, error) {
	d, err := r.Lookup(h)
	if err != nil {
		return nil, Descriptor{}, err
	}
	if h.Type == protocol.SRSP {
		return d.Response, d, nil
	}
	return d.Request, d, nil
}

// Commands returns every descriptor sorted by name.
func (r *Registry) Commands() []Descriptor {
	out := make([]Descriptor, len(r.commands))
	copy(out, r.commands)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ValidationError reports fields that do not satisfy a descriptor layout.
type ValidationError struct {
	Command string
	Param   string
	Reason  string
}

func (e ValidationError) Error() string {
	if e.Param == "" {
		return fmt.Sprintf("schema: command=%s: %s", e.Command, e.Reason)
	}
	return fmt.Sprintf("schema: command=%s param=%s: %s", e.Command, e.Param, e.Reason)
}

// Unwrap makes validation failures EncodingErrors for callers.
func (e ValidationError) Unwrap() error {
	return protocol.ErrEncoding
}

// Validate enforces required fields, their types and the absence of unknown
// fields for a request layout.
func Validate(d Descriptor, fields protocol.Fields) error {
	return validateLayout(d.Name, d.Request, fields)
}

// ValidateResponse is Validate for the SRSP layout.
func ValidateResponse(d Descriptor, fields protocol.Fields) error {
	return validateLayout(d.Name, d.Response, fields)
}

func validateLayout(name string, layout []protocol.Param, fields protocol.Fields) error {
	log.Trace().Msgf("schema.Validate command=%s fields=%d", name, len(fields))
	for _, p := range layout {
		v, found := fields.Get(p.Name)
		if !found {
			log.Debug().Msgf("schema.Validate missing field command=%s param=%s", name, p.Name)
			return ValidationError{Command: name, Param: p.Name, Reason: "missing required field"}
		}
		if v.Type != p.Type {
			log.Debug().Msgf(
				"schema.Validate type mismatch command=%s param=%s got=%s want=%s",
				name,
				p.Name,
				v.Type,
				p.Type,
			)
			return ValidationError{Command: name, Param: p.Name, Reason: "type mismatch"}
		}
	}
	for _, f := range fields {
		if _, ok := findParam(layout, f.Name); !ok {
			log.Debug().Msgf("schema.Validate unknown field command=%s param=%s", name, f.Name)
			return ValidationError{Command: name, Param: f.Name, Reason: "unknown field"}
		}
	}
	return nil
}
