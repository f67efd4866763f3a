// Package challenge classifies the interstitial served by the bot mitigation layer.
package challenge

import (
	"fmt"
	"strings"
)

// Platform is the interaction mode of the challenge currently served.
type Platform string

const (
	// NonInteractive challenges resolve through JavaScript alone.
	NonInteractive Platform = "non-interactive"
	// Managed challenges may or may not ask for interaction.
	Managed Platform = "managed"
	// Interactive challenges need the widget to be clicked.
	Interactive Platform = "interactive"
)

// Platforms lists every platform in detection order.
var Platforms = []Platform{NonInteractive, Managed, Interactive}

// Marker returns the configuration literal the challenge page embeds for p.
func (p Platform) Marker() string {
	return fmt.Sprintf("cType: '%s'", string(p))
}

// RequiresInteraction reports whether the platform is only passed by clicking the widget.
func (p Platform) RequiresInteraction() bool {
	return p == Interactive
}

func (p Platform) String() string {
	return string(p)
}

// Detect scans page content for a platform marker. Platforms are checked in
// the order of Platforms and the first hit wins.
func Detect(content string) (Platform, bool) {
	for _, p := range Platforms {
		if strings.Contains(content, p.Marker()) {
			return p, true
		}
	}
	return "", false
}
