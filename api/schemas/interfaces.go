package schemas

import (
	"context"
)

// -- Browser Interfaces --

// BrowserSession is one running browser tab. Implementations own the
// underlying process and release it in Close.
type BrowserSession interface {
	// Navigate loads the URL and returns once the automation layer reports the
	// navigation settled.
	Navigate(ctx context.Context, url string) error
	// Content returns the current rendered page markup.
	Content(ctx context.Context) (string, error)
	// Cookies returns every cookie visible to the current page.
	Cookies(ctx context.Context) ([]Cookie, error)
	// UserAgent returns the identity string the page itself observes.
	UserAgent(ctx context.Context) (string, error)
	// CurrentURL returns the URL of the main frame.
	CurrentURL(ctx context.Context) (string, error)
	// LocateWidget finds the first input on the page and resolves the first
	// element inside its parent's shadow root. A nil widget with a nil error
	// means the input or its shadow host is not there yet.
	LocateWidget(ctx context.Context) (*Widget, error)
	// ClickWidget clicks the widget at its visible position. It reports false
	// when the geometry cannot be resolved.
	ClickWidget(ctx context.Context, w *Widget) (bool, error)
	// Close releases the browser process and anything started with it.
	Close(ctx context.Context) error
}

// Launcher starts browser sessions.
type Launcher interface {
	Launch(ctx context.Context, cfg SessionConfig) (BrowserSession, error)
}

// IdentityProvider supplies a browser identity (user-agent) string.
type IdentityProvider interface {
	Choose(ctx context.Context) (string, error)
}
