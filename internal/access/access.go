// Package access decides which callers may use the command surface.
package access

import (
	"fmt"
	"strings"
)

// Mode selects the admission policy.
type Mode string

const (
	// ModePrivate admits only the allow list; allowed users are admins.
	ModePrivate Mode = "private"
	// ModePublic admits everyone and has no admins.
	ModePublic Mode = "public"
	// ModeCommunity admits everyone; listed users get admin features.
	ModeCommunity Mode = "community"
)

const denialMessage = "This bot is private and not accepting new users."

// ParseMode validates a configured mode string.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModePrivate, ModePublic, ModeCommunity:
		return m, nil
	default:
		return "", fmt.Errorf("unknown access mode %q", s)
	}
}

// Result is the outcome of Check.
type Result struct {
	Allowed bool
	IsAdmin bool
	Reason  string
}

// Control holds the configured lists.
type Control struct {
	mode    Mode
	allowed map[string]struct{}
	admins  map[string]struct{}
}

// New builds a Control. Blank ids are ignored.
func New(mode Mode, allowed, admins []string) *Control {
	return &Control{
		mode:    mode,
		allowed: toSet(allowed),
		admins:  toSet(admins),
	}
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id != "" {
			set[id] = struct{}{}
		}
	}
	return set
}

// Mode returns the configured mode.
func (c *Control) Mode() Mode { return c.mode }

// Check decides whether caller may issue commands.
func (c *Control) Check(caller string) Result {
	isAdmin := c.IsAdmin(caller)

	switch c.mode {
	case ModePrivate:
		if _, ok := c.allowed[caller]; ok {
			return Result{Allowed: true, IsAdmin: isAdmin}
		}
		return Result{Reason: denialMessage}
	case ModePublic:
		return Result{Allowed: true}
	case ModeCommunity:
		return Result{Allowed: true, IsAdmin: isAdmin}
	default:
		return Result{Reason: "Invalid access mode."}
	}
}

// IsAdmin reports whether caller gets admin commands.
func (c *Control) IsAdmin(caller string) bool {
	if c.mode == ModePublic {
		return false
	}
	if _, ok := c.admins[caller]; ok {
		return true
	}
	_, ok := c.allowed[caller]
	return ok
}

// HasAdminFeatures reports whether admin commands exist in this mode.
func (c *Control) HasAdminFeatures() bool {
	return c.mode == ModePrivate || c.mode == ModeCommunity
}

// DenialMessage is shown to rejected callers. It reveals nothing about the lists.
func (c *Control) DenialMessage() string {
	return denialMessage
}

// SanitizeID shortens a caller id for logs.
func SanitizeID(id string) string {
	r := []rune(id)
	if len(r) <= 6 {
		if len(r) <= 2 {
			return id + "***"
		}
		return string(r[:2]) + "***"
	}
	return string(r[:4]) + "..." + string(r[len(r)-2:])
}
