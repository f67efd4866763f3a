// internal/browser/stealth.go
package browser

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

//go:embed evasions.js
var evasionsScript string

// Persona is the browser profile presented to the page.
type Persona struct {
	UserAgent string
	Platform  string
	Languages []string
}

// PersonaFor derives a consistent persona from a user-agent string.
func PersonaFor(userAgent string) Persona {
	return Persona{
		UserAgent: userAgent,
		Platform:  platformFor(userAgent),
		Languages: []string{"en-US", "en"},
	}
}

// platformFor maps a user-agent to the navigator.platform value Chrome reports with it.
func platformFor(userAgent string) string {
	switch {
	case strings.Contains(userAgent, "Windows"):
		return "Win32"
	case strings.Contains(userAgent, "Macintosh"), strings.Contains(userAgent, "Mac OS X"):
		return "MacIntel"
	case strings.Contains(userAgent, "Android"):
		return "Linux armv8l"
	case strings.Contains(userAgent, "Linux"), strings.Contains(userAgent, "X11"):
		return "Linux x86_64"
	default:
		return ""
	}
}

func (p Persona) acceptLanguage() string {
	if len(p.Languages) == 0 {
		return ""
	}
	parts := []string{p.Languages[0]}
	for _, l := range p.Languages[1:] {
		parts = append(parts, l+";q=0.9")
	}
	return strings.Join(parts, ",")
}

// applyStealth returns the actions that align the tab with the persona and
// install the evasion script for every new document.
func applyStealth(p Persona, logger *zap.Logger) chromedp.Tasks {
	logger.Debug("Applying browser stealth persona",
		zap.String("userAgent", p.UserAgent),
		zap.String("platform", p.Platform),
	)

	tasks := chromedp.Tasks{
		chromedp.ActionFunc(func(ctx context.Context) error {
			if _, err := page.AddScriptToEvaluateOnNewDocument(evasionsScript).Do(ctx); err != nil {
				return fmt.Errorf("failed to inject evasions script: %w", err)
			}
			return nil
		}),
	}

	if p.UserAgent != "" {
		override := emulation.SetUserAgentOverride(p.UserAgent).WithAcceptLanguage(p.acceptLanguage())
		if p.Platform != "" {
			override = override.WithPlatform(p.Platform)
		}
		tasks = append(tasks, override)
	}
	return tasks
}
