package challenge

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func page(body string) string {
	return "<html><head><script>window._cf_chl_opt = {" + body + "};</script></head><body></body></html>"
}

func TestDetect(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		want     Platform
		detected bool
	}{
		{"interactive", page("cvId: '3', cType: 'interactive', cRay: 'abc'"), Interactive, true},
		{"managed", page("cType: 'managed'"), Managed, true},
		{"non-interactive", page("cType: 'non-interactive'"), NonInteractive, true},
		{"no marker", "<html><body>Hello</body></html>", "", false},
		{"empty content", "", "", false},
		{"marker with double quotes is not matched", page(`cType: "interactive"`), "", false},
		{"multiple markers resolve by enumeration order", page("cType: 'interactive', cType: 'managed'"), Managed, true},
		{"all markers", page("cType: 'interactive' cType: 'managed' cType: 'non-interactive'"), NonInteractive, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Detect(tt.content)
			assert.Equal(t, tt.detected, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPlatform(t *testing.T) {
	assert.Equal(t, "cType: 'managed'", Managed.Marker())
	assert.Equal(t, "interactive", Interactive.String())
	assert.True(t, Interactive.RequiresInteraction())
	assert.False(t, Managed.RequiresInteraction())
	assert.False(t, NonInteractive.RequiresInteraction())
	assert.Equal(t, []Platform{NonInteractive, Managed, Interactive}, Platforms)
}
