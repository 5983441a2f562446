package commands

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrAccessDenied is returned when access control rejects the caller.
	ErrAccessDenied = errors.New("commands: access denied")
	// ErrAlreadyMonitoring is returned by Start when the caller already watches the token.
	ErrAlreadyMonitoring = errors.New("commands: already monitoring this token")
	// ErrTokenUnavailable is returned when no baseline price could be obtained.
	ErrTokenUnavailable = errors.New("commands: price unavailable for token")
	// ErrNotMonitoring is returned by Stop for an unknown token.
	ErrNotMonitoring = errors.New("commands: not monitoring this token")
	// ErrAdminOnly is returned for admin commands issued by regular callers.
	ErrAdminOnly = errors.New("commands: admin only")
	// ErrNotConfirmed is returned when a removal could not be persisted.
	ErrNotConfirmed = errors.New("commands: change not persisted")
	// ErrEmptyMessage is returned by Broadcast without text.
	ErrEmptyMessage = errors.New("commands: empty message")
	// ErrNoMonitors is returned by StopAll when the caller has nothing to stop.
	ErrNoMonitors = errors.New("commands: no active monitors")
)

// RateLimitedError carries the wait before the caller may retry.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("commands: rate limited, retry after %s", e.RetryAfter)
}

// Seconds is the wait rounded up to whole seconds, at least one.
func (e *RateLimitedError) Seconds() int {
	secs := int(math.Ceil(e.RetryAfter.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// MonitorLimitError is returned when the caller holds the maximum number of monitors.
type MonitorLimitError struct {
	Current int
	Max     int
}

func (e *MonitorLimitError) Error() string {
	return fmt.Sprintf("commands: monitor limit reached (%d/%d)", e.Current, e.Max)
}

// InvalidTokenError explains why a token was rejected.
type InvalidTokenError struct {
	Token  string
	Reason string
}

func (e *InvalidTokenError) Error() string {
	return fmt.Sprintf("commands: invalid token: %s", e.Reason)
}

// UserMessage renders err as text suitable for the caller.
func UserMessage(err error) string {
	var rl *RateLimitedError
	var ml *MonitorLimitError
	var it *InvalidTokenError

	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAccessDenied):
		return "This bot is private and not accepting new users."
	case errors.As(err, &rl):
		return fmt.Sprintf("You're sending commands too quickly. Please wait %d second(s).", rl.Seconds())
	case errors.As(err, &ml):
		return fmt.Sprintf("You've reached the maximum of %d active monitors.\n\nUse /status to see your monitors and /stop <CA> to remove one.", ml.Max)
	case errors.As(err, &it):
		return fmt.Sprintf("That does not look like a token address: %s", it.Reason)
	case errors.Is(err, ErrAlreadyMonitoring):
		return "Already monitoring this token!"
	case errors.Is(err, ErrTokenUnavailable):
		return "Could not fetch price for this token. It may not be listed or have no liquidity."
	case errors.Is(err, ErrNotMonitoring):
		return "Not currently monitoring this token."
	case errors.Is(err, ErrNoMonitors):
		return "You have no active monitors."
	case errors.Is(err, ErrAdminOnly):
		return "This command is only available to admins."
	case errors.Is(err, ErrNotConfirmed):
		return "The change could not be saved. Please try again."
	case errors.Is(err, ErrEmptyMessage):
		return "Usage: /broadcast <message>"
	default:
		return "Something went wrong. Please try again later."
	}
}
