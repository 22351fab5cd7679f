package engine

import (
	"errors"
	"time"
)

const (
	DefaultMaxSurfaces    = 3
	DefaultTypingDebounce = 300 * time.Millisecond
	DefaultTypingTTL      = 3 * time.Second
	DefaultPollInterval   = 10 * time.Second
	DefaultRequestTimeout = 10 * time.Second
)

type Config struct {
	// UserID is the local user.
	UserID string

	// MaxSurfaces bounds the surfaces of a desktop manager.
	MaxSurfaces int

	// TypingDebounce delays the typing signal after the last input.
	TypingDebounce time.Duration

	// TypingTTL expires a remote typing entry without stop_typing.
	TypingTTL time.Duration

	// PollInterval of the fallback poller; zero disables polling.
	PollInterval time.Duration

	RequestTimeout time.Duration

	// Now is the clock; time.Now when nil.
	Now func() time.Time
}

func (c *Config) setDefaults() error {
	if c.UserID == "" {
		return errors.New("engine: user id is required")
	}
	if c.MaxSurfaces <= 0 {
		c.MaxSurfaces = DefaultMaxSurfaces
	}
	if c.TypingDebounce <= 0 {
		c.TypingDebounce = DefaultTypingDebounce
	}
	if c.TypingTTL <= 0 {
		c.TypingTTL = DefaultTypingTTL
	}
	if c.PollInterval < 0 {
		c.PollInterval = 0
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return nil
}
