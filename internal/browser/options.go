// internal/browser/options.go
package browser

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/cfclear/api/schemas"
	"github.com/xkilldash9x/cfclear/internal/config"
)

// flag is one Chrome command line switch. A false value removes the switch.
type flag struct {
	Name  string
	Value interface{}
}

// launchFlags assembles the switches for one session. proxyServer is the
// credential-free value for --proxy-server, empty for a direct connection.
func launchFlags(cfg config.BrowserConfig, sc schemas.SessionConfig, proxyServer string, goos string) []flag {
	flags := []flag{
		// chromedp's defaults turn this on; it exposes navigator.webdriver.
		{"enable-automation", false},
		{"disable-blink-features", "AutomationControlled"},
		{"disable-extensions", true},
	}

	if sc.Headless {
		flags = append(flags, flag{"headless", "new"}, flag{"disable-gpu", true})
	} else {
		flags = append(flags, flag{"headless", false})
	}

	if sc.UserAgent != "" {
		flags = append(flags, flag{"user-agent", sc.UserAgent})
	}
	if !sc.Protocols.HTTP2 {
		flags = append(flags, flag{"disable-http2", true})
	}
	if !sc.Protocols.HTTP3 {
		flags = append(flags, flag{"disable-quic", true})
	}
	if proxyServer != "" {
		flags = append(flags, flag{"proxy-server", proxyServer})
	}
	if cfg.WindowWidth > 0 && cfg.WindowHeight > 0 {
		flags = append(flags, flag{"window-size", fmt.Sprintf("%d,%d", cfg.WindowWidth, cfg.WindowHeight)})
	}

	// Add custom arguments from config.yaml.
	for _, arg := range cfg.Args {
		name, value, hasValue := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		if name == "" {
			continue
		}
		if hasValue {
			flags = append(flags, flag{name, value})
		} else {
			flags = append(flags, flag{name, true})
		}
	}

	// Containers on Linux usually lack the namespaces the sandbox needs.
	if goos == "linux" {
		flags = append(flags,
			flag{"no-sandbox", true},
			flag{"disable-dev-shm-usage", true},
			flag{"disable-setuid-sandbox", true},
		)
	}
	return flags
}

// allocatorOptions turns the flags into chromedp options on top of chromedp's defaults.
func allocatorOptions(cfg config.BrowserConfig, flags []flag, env []string) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	for _, f := range flags {
		opts = append(opts, chromedp.Flag(f.Name, f.Value))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if len(env) > 0 {
		opts = append(opts, chromedp.Env(env...))
	}
	return opts
}

// DefaultAllocatorOptions returns the chromedp options for a session on this platform.
func DefaultAllocatorOptions(cfg config.BrowserConfig, sc schemas.SessionConfig, proxyServer string) []chromedp.ExecAllocatorOption {
	return allocatorOptions(cfg, launchFlags(cfg, sc, proxyServer, runtime.GOOS), nil)
}
