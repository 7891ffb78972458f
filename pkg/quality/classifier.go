// Package quality derives the discrete freshness state the dashboard uses
// to label each source's data.
package quality

import "time"

// State is the freshness bucket for one source's data.
type State string

// Freshness states, ordered from best to worst.
const (
	StateFresh       State = "fresh"
	StateRecent      State = "recent"
	StateStale       State = "stale"
	StateOutdated    State = "outdated"
	StateUnavailable State = "unavailable"
)

// Bucket thresholds. A boundary value belongs to the less fresh bucket:
// exactly one hour old classifies as recent, not fresh.
const (
	FreshWithin  = time.Hour
	RecentWithin = 24 * time.Hour
	StaleWithin  = 7 * 24 * time.Hour
)

// Classifier computes freshness states. The clock is injectable for tests.
type Classifier struct {
	now func() time.Time
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithClock substitutes the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Classifier) {
		c.now = now
	}
}

// NewClassifier builds a classifier.
func NewClassifier(opts ...Option) *Classifier {
	c := &Classifier{now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify maps the time of the last successful fetch to a State. A nil
// fetchedAt means no successful fetch exists and classifies as unavailable.
func (c *Classifier) Classify(fetchedAt *time.Time) State {
	if fetchedAt == nil {
		return StateUnavailable
	}
	elapsed := c.now().Sub(*fetchedAt)
	switch {
	case elapsed < FreshWithin:
		return StateFresh
	case elapsed < RecentWithin:
		return StateRecent
	case elapsed < StaleWithin:
		return StateStale
	default:
		return StateOutdated
	}
}
