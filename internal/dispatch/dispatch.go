// Package dispatch fans unmatched messages out to registered listeners.
package dispatch

import (
	"github.com/danmuck/znplink/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Cardinality says whether a listener survives its first delivery.
type Cardinality uint8

const (
	Every Cardinality = iota
	Once
)

func (c Cardinality) String() string {
	if c == Once {
		return "once"
	}
	return "every"
}

type Handle uint64

// Listener is one registration.
type Listener struct {
	Handle      Handle
	Predicate   protocol.Predicate
	Cardinality Cardinality
	Deliver     func(protocol.Message)
}

// Registry keeps listeners in registration order. It is owned by a single
// goroutine and performs no locking.
type Registry struct {
	listeners []Listener
	next      Handle
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Subscribe registers deliver for messages accepted by pred. A nil pred
// accepts everything.
func (r *Registry) Subscribe(pred protocol.Predicate, card Cardinality, deliver func(protocol.Message)) Handle {
	if pred == nil {
		pred = protocol.MatchAny()
	}
	r.next++
	r.listeners = append(r.listeners, Listener{
		Handle:      r.next,
		Predicate:   pred,
		Cardinality: card,
		Deliver:     deliver,
	})
	log.Trace().Msgf("dispatch.Subscribe handle=%d cardinality=%s", r.next, card)
	return r.next
}

func (r *Registry) Unsubscribe(h Handle) bool {
	for i, l := range r.listeners {
		if l.Handle == h {
			r.listeners = append(r.listeners[:i], r.listeners[i+1:]...)
			return true
		}
	}
	return false
}

// Dispatch delivers msg to every matching listener in registration order and
// returns how many received it. One-shot listeners are removed once fired.
func (r *Registry) Dispatch(msg protocol.Message) int {
	delivered := 0
	kept := r.listeners[:0]
	for _, l := range r.listeners {
		if !l.Predicate(msg) {
			kept = append(kept, l)
			continue
		}
		l.Deliver(msg)
		delivered++
		if l.Cardinality != Once {
			kept = append(kept, l)
		}
	}
	for i := len(kept); i < len(r.listeners); i++ {
		r.listeners[i] = Listener{}
	}
	r.listeners = kept
	if delivered == 0 {
		log.Debug().Msgf("dispatch.Dispatch unclaimed frame=%s", msg)
	}
	return delivered
}

func (r *Registry) Len() int {
	return len(r.listeners)
}
