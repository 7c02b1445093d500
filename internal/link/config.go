package link

import (
	"time"

	"github.com/danmuck/znplink/internal/protocol/frame"
	"github.com/danmuck/znplink/internal/protocol/session"
	"github.com/danmuck/znplink/internal/transport"
)

// Config tunes one link.
type Config struct {
	Session   session.Config
	Transport transport.Config
	Limits    frame.Limits
	// CommandTimeout bounds a whole Issue call when the caller passes no
	// timeout of its own.
	CommandTimeout time.Duration
	// SubscriberBuffer is the channel depth of each Subscription.
	SubscriberBuffer int
}

func DefaultConfig() Config {
	return Config{
		Session:          session.DefaultConfig(),
		Transport:        transport.DefaultConfig(),
		Limits:           frame.DefaultLimits(),
		CommandTimeout:   15 * time.Second,
		SubscriberBuffer: 64,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	c.Session = c.Session.WithDefaults()
	if c.Limits.MaxData <= 0 {
		c.Limits = d.Limits
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = d.CommandTimeout
	}
	if c.SubscriberBuffer <= 0 {
		c.SubscriberBuffer = d.SubscriberBuffer
	}
	return c
}
