// Package mood holds the shared mood record: the user's self-reported
// cooking energy and the time after which it has to be picked again.
package mood

import (
	"errors"
	"strings"
	"time"
)

// Value is a mood level. The zero Value means no mood is set.
type Value string

const (
	Unset   Value = ""
	Bad     Value = "bad"
	Neutral Value = "neutral"
	Good    Value = "good"

	// Placeholder is the neutral-default icon shown before a pick. It is a
	// valid input to the selection flow but is never stored.
	Placeholder Value = "default"
)

// ErrInvalidMood is returned when a value outside bad/neutral/good is stored.
var ErrInvalidMood = errors.New("invalid mood value")

// Valid reports whether v can be stored.
func (v Value) Valid() bool {
	switch v {
	case Bad, Neutral, Good:
		return true
	}
	return false
}

// Parse maps user input onto a Value. It accepts the stored values, the
// placeholder and a few aliases used by clients.
func Parse(raw string) (Value, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "bad", "negative", "low":
		return Bad, nil
	case "neutral", "ok":
		return Neutral, nil
	case "good", "positive", "high":
		return Good, nil
	case "default", "placeholder", "skip":
		return Placeholder, nil
	}
	return Unset, ErrInvalidMood
}

// Record is the mood currently held by a store.
type Record struct {
	Mood       Value     `json:"mood,omitempty"`
	SelectedAt time.Time `json:"selectedAt,omitzero"`
	ExpiresAt  time.Time `json:"expiresAt,omitzero"`
}

// Set reports whether the record carries a mood.
func (r Record) Set() bool {
	return r.Mood != Unset
}

// ExpiredAt reports whether the record is expired at now. Expiry is
// inclusive: a record whose ExpiresAt equals now is expired.
func (r Record) ExpiredAt(now time.Time) bool {
	return r.Set() && !r.ExpiresAt.After(now)
}

// RemainingAt returns the time left before expiry, never negative.
func (r Record) RemainingAt(now time.Time) time.Duration {
	if !r.Set() {
		return 0
	}
	if d := r.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}
