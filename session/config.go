package session

import (
	"errors"
	"fmt"
	"time"
)

const (
	// StandardEldersCount is the number of elders a client aims to stay connected to.
	StandardEldersCount = 5
	// NumberOfRetries is the number of extra attempts made per elder.
	NumberOfRetries = 3
	// DefaultQueryTimeout bounds a single attempt to obtain a reply from an elder.
	DefaultQueryTimeout = 30 * time.Second
	// DefaultMaxRedirects caps the bootstrap redirect hops.
	DefaultMaxRedirects = 5

	eldersSlack               = 2
	defaultNotificationBuffer = 64
)

// Config tunes the protocol constants of a Session.
type Config struct {
	// EldersTarget is the connected elder count at which bootstrap is complete.
	EldersTarget int
	// EldersSlack is how far below EldersTarget connectivity may drop before it is fatal.
	EldersSlack int
	// Retries is the number of extra attempts per elder for connections and queries.
	Retries int
	// QueryTimeout bounds each attempt to connect to or get a reply from an elder.
	QueryTimeout time.Duration
	// MaxRedirects caps bootstrap redirect hops.
	MaxRedirects int
	// NotificationBuffer is the capacity of the notification channel.
	// Notifications are dropped while it is full.
	NotificationBuffer int
	// SimulatedPayouts enables the history tie-break between equally voted query
	// responses. Only meant for test networks with simulated payouts.
	SimulatedPayouts bool
}

// DefaultConfig returns the standard protocol constants.
func DefaultConfig() Config {
	return Config{
		EldersTarget:       StandardEldersCount,
		EldersSlack:        eldersSlack,
		Retries:            NumberOfRetries,
		QueryTimeout:       DefaultQueryTimeout,
		MaxRedirects:       DefaultMaxRedirects,
		NotificationBuffer: defaultNotificationBuffer,
	}
}

// MinElders is the smallest connected elder count a Session accepts.
func (c Config) MinElders() int {
	return max(c.EldersTarget-c.EldersSlack, 1)
}

// Validate checks the Config for values the protocol can't run with.
func (c Config) Validate() error {
	var err error
	if c.EldersTarget <= 0 {
		err = errors.Join(err, fmt.Errorf("elders target must be positive, got %d", c.EldersTarget))
	}
	if c.EldersSlack < 0 || c.EldersSlack >= c.EldersTarget {
		err = errors.Join(err, fmt.Errorf("elders slack must be within [0, %d), got %d", c.EldersTarget, c.EldersSlack))
	}
	if c.Retries < 0 {
		err = errors.Join(err, fmt.Errorf("retries must not be negative, got %d", c.Retries))
	}
	if c.QueryTimeout <= 0 {
		err = errors.Join(err, fmt.Errorf("query timeout must be positive, got %s", c.QueryTimeout))
	}
	if c.MaxRedirects < 0 {
		err = errors.Join(err, fmt.Errorf("max redirects must not be negative, got %d", c.MaxRedirects))
	}
	if c.NotificationBuffer < 0 {
		err = errors.Join(err, fmt.Errorf("notification buffer must not be negative, got %d", c.NotificationBuffer))
	}
	return err
}
