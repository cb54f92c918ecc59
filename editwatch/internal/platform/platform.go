// Package platform derives capability flags from the editing surface's
// user agent and holds the live composition state reported by the capture
// agent.
package platform

import (
	"strings"
	"sync/atomic"

	"github.com/hazyhaar/editkit/editwatch/internal/coalesce"
)

// IsFirefox reports whether ua belongs to a Gecko Firefox build.
// SeaMonkey and other Gecko browsers do not carry the Firefox token.
func IsFirefox(ua string) bool {
	return strings.Contains(ua, "Firefox/") && !strings.Contains(ua, "SeaMonkey/")
}

// NeedsCompatibility reports whether ua's native mutation stream has to be
// debounced: legacy Internet Explorer (MSIE, Trident) and EdgeHTML.
func NeedsCompatibility(ua string) bool {
	switch {
	case strings.Contains(ua, "MSIE "),
		strings.Contains(ua, "Trident/"),
		strings.Contains(ua, "Edge/"):
		return true
	}
	return false
}

// CompatMode is the configured compatibility policy.
type CompatMode string

const (
	CompatAuto CompatMode = "auto"
	CompatOn   CompatMode = "on"
	CompatOff  CompatMode = "off"
)

// Resolve returns the compatibility flag for ua under mode.
func (m CompatMode) Resolve(ua string) bool {
	switch m {
	case CompatOn:
		return true
	case CompatOff:
		return false
	default:
		return NeedsCompatibility(ua)
	}
}

// State is the runtime flag set of one editing session. Sources write it,
// the coalescer reads it through coalesce.Flags. Safe for concurrent use.
type State struct {
	compat    atomic.Bool
	composing atomic.Bool
	firefox   atomic.Bool
	ua        atomic.Value // string
}

// NewState returns a State with every flag cleared.
func NewState() *State {
	s := &State{}
	s.ua.Store("")
	return s
}

// SetUserAgent records ua and derives the Firefox flag. The compatibility
// flag is left alone: it is fixed when observation starts.
func (s *State) SetUserAgent(ua string) {
	s.ua.Store(ua)
	s.firefox.Store(IsFirefox(ua))
}

// UserAgent returns the last recorded user agent.
func (s *State) UserAgent() string {
	v, _ := s.ua.Load().(string)
	return v
}

func (s *State) SetComposing(v bool)     { s.composing.Store(v) }
func (s *State) SetCompatibility(v bool) { s.compat.Store(v) }
func (s *State) SetFirefox(v bool)       { s.firefox.Store(v) }

// Policy implements coalesce.Flags.
func (s *State) Policy() coalesce.Policy {
	return coalesce.Policy{
		Compatibility: s.compat.Load(),
		Composing:     s.composing.Load(),
		Firefox:       s.firefox.Load(),
	}
}
