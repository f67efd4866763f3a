package schemas

import (
	"time"
)

// -- Browser Session Schemas --

// ProtocolFlags toggles transport protocols on the launched browser.
type ProtocolFlags struct {
	HTTP2 bool `json:"http2"`
	HTTP3 bool `json:"http3"`
}

// SessionConfig describes one browser launch. It is built once per acquisition
// attempt and must not be mutated after the session has started.
type SessionConfig struct {
	// UserAgent is passed to the browser at launch. Empty keeps the browser default.
	UserAgent string        `json:"user_agent,omitempty"`
	Timeout   time.Duration `json:"timeout"`
	Protocols ProtocolFlags `json:"protocols"`
	Headless  bool          `json:"headless"`
	// Proxy is an upstream proxy URL, optionally carrying credentials.
	Proxy string `json:"proxy,omitempty"`
	// VirtualDisplay runs a headed browser on an off-screen X server.
	VirtualDisplay bool `json:"virtual_display"`
}

// Mode returns the human readable launch mode.
func (c SessionConfig) Mode() string {
	switch {
	case c.Headless:
		return "headless"
	case c.VirtualDisplay:
		return "headed (virtual display)"
	default:
		return "headed"
	}
}

// -- Browser Artifact Schemas --

// CookieSameSite defines the SameSite attribute for cookies.
type CookieSameSite string

const (
	CookieSameSiteStrict CookieSameSite = "Strict"
	CookieSameSiteLax    CookieSameSite = "Lax"
	CookieSameSiteNone   CookieSameSite = "None"
)

// Cookie represents a browser cookie.
type Cookie struct {
	Name     string         `json:"name"`
	Value    string         `json:"value"`
	Domain   string         `json:"domain,omitempty"`
	Path     string         `json:"path,omitempty"`
	Expires  float64        `json:"expires,omitempty"`
	HTTPOnly bool           `json:"httpOnly,omitempty"`
	Secure   bool           `json:"secure,omitempty"`
	Session  bool           `json:"session,omitempty"`
	SameSite CookieSameSite `json:"sameSite,omitempty"`
}

// Widget is the interactive challenge element found inside the shadow root
// that hosts the challenge input.
type Widget struct {
	// BackendNodeID identifies the element for geometry and input dispatch.
	BackendNodeID int64  `json:"backend_node_id"`
	NodeName      string `json:"node_name"`
	// Hidden is set when the element carries an inline display: none.
	Hidden bool `json:"hidden"`
}
