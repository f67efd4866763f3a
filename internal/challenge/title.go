package challenge

import (
	"strings"

	"golang.org/x/net/html"
)

// Title returns the text of the first <title> element, trimmed. Interstitials
// are recognisable by it ("Just a moment...") even when the marker is absent.
func Title(content string) string {
	z := html.NewTokenizer(strings.NewReader(content))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return ""
		case html.StartTagToken:
			name, _ := z.TagName()
			if string(name) != "title" {
				continue
			}
			var b strings.Builder
			for {
				tt := z.Next()
				if tt != html.TextToken {
					return strings.TrimSpace(b.String())
				}
				b.Write(z.Text())
			}
		}
	}
}
