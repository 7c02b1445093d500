package session

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/danmuck/znplink/internal/observability"
	"github.com/danmuck/znplink/internal/protocol"
	"github.com/danmuck/znplink/internal/protocol/schema"
	"github.com/rs/zerolog/log"
)

// State is the lifecycle position of one transaction.
type State uint8

const (
	StateCreated State = iota
	StateAwaitingMatch
	StateCompleted
	StateRejected
	StateTimedOut
	StateCancelled
	StateLinkLost
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateAwaitingMatch:
		return "awaiting_match"
	case StateCompleted:
		return "completed"
	case StateRejected:
		return "rejected"
	case StateTimedOut:
		return "timed_out"
	case StateCancelled:
		return "cancelled"
	case StateLinkLost:
		return "link_lost"
	default:
		return fmt.Sprintf("state%d", uint8(s))
	}
}

func (s State) Terminal() bool {
	return s >= StateCompleted
}

// Phase splits two-phase commands into waiting for the SRSP confirmation
// and waiting for the AREQ result.
type Phase uint8

const (
	PhaseConfirm Phase = iota
	PhaseResult
)

func (p Phase) String() string {
	if p == PhaseResult {
		return "result"
	}
	return "confirm"
}

// Request is what the caller hands the manager for one command.
type Request struct {
	Command schema.Descriptor
	Fields  protocol.Fields
	// Wire is the encoded frame re-sent on every attempt.
	Wire []byte
	// Result overrides the callback predicate derived from CallbackMatch.
	Result protocol.Predicate
}

// Transaction is one outstanding command.
type Transaction struct {
	ID       uint64
	Command  schema.Descriptor
	Fields   protocol.Fields
	Wire     []byte
	State    State
	Phase    Phase
	Attempts int

	CreatedAt  time.Time
	LastSentAt time.Time
	Deadline   time.Time

	Confirm protocol.Message
	Result  protocol.Message
	Err     error

	confirm protocol.Predicate
	result  protocol.Predicate
}

// Retry is a request the caller must write again.
type Retry struct {
	ID      uint64
	Command string
	Wire    []byte
	Attempt int
}

// Outcome reports what a received message did to the table.
type Outcome struct {
	Matched bool
	// Txn is the transaction the message matched.
	Txn *Transaction
	// Finished is set when the match moved Txn to a terminal state.
	Finished bool
}

// Info is a read-only view for diagnostics.
type Info struct {
	ID       uint64    `json:"id"`
	Command  string    `json:"command"`
	State    string    `json:"state"`
	Phase    string    `json:"phase"`
	Attempts int       `json:"attempts"`
	Created  time.Time `json:"created"`
	Deadline time.Time `json:"deadline,omitempty"`
}

// Manager owns the pending transaction table of one link.
type Manager struct {
	cfg     Config
	reg     *schema.Registry
	pending outbox
	nextID  uint64
	rng     *rand.Rand
}

func NewManager(cfg Config, reg *schema.Registry) *Manager {
	return &Manager{
		cfg: cfg.WithDefaults(),
		reg: reg,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (m *Manager) Config() Config { return m.cfg }

// Register adds a transaction in the Created state.
func (m *Manager) Register(req Request, now time.Time) (*Transaction, error) {
	d := req.Command
	if d.Reply == schema.ReplyNone {
		return nil, fmt.Errorf("session: %s expects no reply", d.Name)
	}
	if m.pending.len() >= m.cfg.MaxPending {
		log.Warn().Msgf("session.Manager.Register command=%s pending=%d cap reached", d.Name, m.pending.len())
		return nil, ErrTooManyPending
	}
	result := req.Result
	if d.Reply == schema.ReplyConfirmThenCallback && result == nil {
		var err error
		result, err = m.callbackPredicate(d, req.Fields)
		if err != nil {
			return nil, err
		}
	}
	m.nextID++
	t := &Transaction{
		ID:        m.nextID,
		Command:   d,
		Fields:    req.Fields,
		Wire:      req.Wire,
		State:     StateCreated,
		Phase:     PhaseConfirm,
		CreatedAt: now,
		confirm:   protocol.MatchHeader(d.ResponseHeader()),
		result:    result,
	}
	m.pending.add(t)
	log.Debug().Msgf("session.Manager.Register id=%d command=%s reply=%s", t.ID, d.Name, d.Reply)
	return t, nil
}

// callbackPredicate matches the AREQ result on the callback header and the
// request fields named by CallbackMatch.
func (m *Manager) callbackPredicate(d schema.Descriptor, fields protocol.Fields) (protocol.Predicate, error) {
	cb, err := m.reg.ByName(d.Callback)
	if err != nil {
		return nil, err
	}
	partial := make(protocol.Fields, 0, len(d.CallbackMatch))
	for _, pair := range d.MatchPairs() {
		v, ok := fields.Get(pair[0])
		if !ok {
			return nil, &protocol.EncodingError{Param: pair[0], Reason: "missing field"}
		}
		partial = append(partial, protocol.F(pair[1], v))
	}
	return protocol.MatchPartial(cb.Header, partial), nil
}

// MarkSent records the first write of a transaction.
func (m *Manager) MarkSent(id uint64, now time.Time) error {
	t, ok := m.pending.get(id)
	if !ok {
		return fmt.Errorf("%w: id=%d", ErrUnknownID, id)
	}
	if t.State != StateCreated {
		return nil
	}
	t.State = StateAwaitingMatch
	t.Attempts = 1
	t.LastSentAt = now
	t.Deadline = now.Add(AttemptTimeout(m.cfg, 1, m.rng))
	return nil
}

// Match offers msg to pending transactions in creation order. The first
// transaction whose current phase accepts msg consumes it.
func (m *Manager) Match(msg protocol.Message, now time.Time) Outcome {
	for _, t := range m.pending.items {
		if t.State.Terminal() {
			continue
		}
		if t.Phase == PhaseConfirm && m.matchRPCError(t, msg) {
			code, _ := msg.Fields.Uint("ErrorCode")
			m.finish(t, StateRejected, &CommandRejectedError{Command: t.Command.Name, Status: uint8(code), RPC: true}, now)
			return Outcome{Matched: true, Txn: t, Finished: true}
		}
		switch t.Phase {
		case PhaseConfirm:
			// The callback can overtake its SRSP; hold it until the confirmation.
			if t.result != nil && !t.Result.Known && msg.Known && t.result(msg) {
				t.Result = msg
				log.Debug().Msgf("session.Manager.Match id=%d command=%s result before confirmation", t.ID, t.Command.Name)
				return Outcome{Matched: true, Txn: t}
			}
			if !msg.Known || !t.confirm(msg) {
				continue
			}
			t.Confirm = msg
			if t.Command.Reply == schema.ReplySync {
				m.finish(t, StateCompleted, nil, now)
				return Outcome{Matched: true, Txn: t, Finished: true}
			}
			status, err := msg.Fields.Uint(schema.StatusParam)
			if err != nil || status != 0 {
				m.finish(t, StateRejected, &CommandRejectedError{Command: t.Command.Name, Status: uint8(status)}, now)
				return Outcome{Matched: true, Txn: t, Finished: true}
			}
			if t.Result.Known {
				m.finish(t, StateCompleted, nil, now)
				return Outcome{Matched: true, Txn: t, Finished: true}
			}
			t.Phase = PhaseResult
			t.State = StateAwaitingMatch
			t.Deadline = now.Add(m.cfg.ResultTimeout)
			log.Debug().Msgf("session.Manager.Match id=%d command=%s confirmed, awaiting result", t.ID, t.Command.Name)
			return Outcome{Matched: true, Txn: t}
		case PhaseResult:
			if !t.result(msg) {
				continue
			}
			t.Result = msg
			m.finish(t, StateCompleted, nil, now)
			return Outcome{Matched: true, Txn: t, Finished: true}
		}
	}
	return Outcome{}
}

func (m *Manager) matchRPCError(t *Transaction, msg protocol.Message) bool {
	if !msg.Known || msg.Command != schema.RPCErrorName || msg.Header.Type != protocol.SRSP {
		return false
	}
	raw, err := msg.Fields.Uint("RequestHeader")
	if err != nil {
		return false
	}
	return protocol.HeaderFromUint16(uint16(raw)) == t.Command.Header
}

// Expire handles every sent transaction whose deadline is not after now.
// Confirm-phase transactions with attempts left are returned for re-sending;
// the rest end TimedOut.
func (m *Manager) Expire(now time.Time) ([]Retry, []*Transaction) {
	var (
		retries  []Retry
		finished []*Transaction
	)
	for _, t := range append([]*Transaction(nil), m.pending.items...) {
		if t.State != StateAwaitingMatch || t.Deadline.After(now) {
			continue
		}
		if t.Phase == PhaseConfirm && t.Attempts < m.cfg.MaxAttempts {
			t.Attempts++
			t.LastSentAt = now
			t.Deadline = now.Add(AttemptTimeout(m.cfg, t.Attempts, m.rng))
			observability.RecordRetry(t.Command.Name)
			log.Warn().Msgf("session.Manager.Expire id=%d command=%s retry attempt=%d/%d", t.ID, t.Command.Name, t.Attempts, m.cfg.MaxAttempts)
			retries = append(retries, Retry{ID: t.ID, Command: t.Command.Name, Wire: t.Wire, Attempt: t.Attempts})
			continue
		}
		err := fmt.Errorf("%w: %s after %d attempt(s) in %s phase", ErrTimeout, t.Command.Name, t.Attempts, t.Phase)
		m.finish(t, StateTimedOut, err, now)
		finished = append(finished, t)
	}
	return retries, finished
}

// RequeueDelay is how soon a retry that could not be queued is tried again.
const RequeueDelay = 20 * time.Millisecond

// RetryDeferred takes back the attempt Expire counted for id when its frame
// never reached the write queue. The retry is offered again after
// RequeueDelay.
func (m *Manager) RetryDeferred(id uint64, now time.Time) bool {
	t, ok := m.pending.get(id)
	if !ok || t.State != StateAwaitingMatch || t.Phase != PhaseConfirm || t.Attempts <= 1 {
		return false
	}
	t.Attempts--
	t.Deadline = now.Add(RequeueDelay)
	log.Debug().Msgf("session.Manager.RetryDeferred id=%d command=%s attempts=%d", t.ID, t.Command.Name, t.Attempts)
	return true
}

// Cancel removes a transaction regardless of its state.
func (m *Manager) Cancel(id uint64, now time.Time) (*Transaction, bool) {
	t, ok := m.pending.get(id)
	if !ok {
		return nil, false
	}
	m.finish(t, StateCancelled, ErrCancelled, now)
	return t, true
}

// FailAll ends every pending transaction with err.
func (m *Manager) FailAll(err error, now time.Time) []*Transaction {
	items := m.pending.drain()
	for _, t := range items {
		t.State = StateLinkLost
		t.Err = err
		observability.RecordTransaction(t.Command.Name, t.State.String(), now.Sub(t.CreatedAt))
	}
	if len(items) > 0 {
		log.Warn().Msgf("session.Manager.FailAll failed=%d: %v", len(items), err)
	}
	return items
}

func (m *Manager) finish(t *Transaction, state State, err error, now time.Time) {
	t.State = state
	t.Err = err
	m.pending.remove(t.ID)
	observability.RecordTransaction(t.Command.Name, state.String(), now.Sub(t.CreatedAt))
	if err != nil {
		log.Warn().Msgf("session.Manager id=%d command=%s state=%s: %v", t.ID, t.Command.Name, state, err)
		return
	}
	log.Debug().Msgf("session.Manager id=%d command=%s state=%s attempts=%d", t.ID, t.Command.Name, state, t.Attempts)
}

// NextDeadline is the earliest deadline among sent transactions.
func (m *Manager) NextDeadline() (time.Time, bool) {
	return m.pending.earliest()
}

func (m *Manager) Len() int {
	return m.pending.len()
}

func (m *Manager) Snapshot() []Info {
	out := make([]Info, 0, m.pending.len())
	for _, t := range m.pending.items {
		out = append(out, Info{
			ID:       t.ID,
			Command:  t.Command.Name,
			State:    t.State.String(),
			Phase:    t.Phase.String(),
			Attempts: t.Attempts,
			Created:  t.CreatedAt,
			Deadline: t.Deadline,
		})
	}
	return out
}
