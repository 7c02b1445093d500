package session

import "time"

// outbox keeps pending transactions in creation order.
type outbox struct {
	items []*Transaction
}

func (o *outbox) add(t *Transaction) {
	o.items = append(o.items, t)
}

func (o *outbox) get(id uint64) (*Transaction, bool) {
	for _, t := range o.items {
		if t.ID == id {
			return t, true
		}
	}
	return nil, false
}

func (o *outbox) remove(id uint64) (*Transaction, bool) {
	for i, t := range o.items {
		if t.ID == id {
			copy(o.items[i:], o.items[i+1:])
			o.items[len(o.items)-1] = nil
			o.items = o.items[:len(o.items)-1]
			return t, true
		}
	}
	return nil, false
}

func (o *outbox) len() int {
	return len(o.items)
}

// earliest returns the soonest deadline among sent transactions.
func (o *outbox) earliest() (time.Time, bool) {
	var (
		next  time.Time
		found bool
	)
	for _, t := range o.items {
		if t.State != StateAwaitingMatch {
			continue
		}
		if !found || t.Deadline.Before(next) {
			next = t.Deadline
			found = true
		}
	}
	return next, found
}

func (o *outbox) drain() []*Transaction {
	out := o.items
	o.items = nil
	return out
}
