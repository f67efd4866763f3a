// Package clearance finds the clearance token in a cookie jar and renders
// jars to the Cookie header form.
package clearance

import (
	"strings"

	"github.com/xkilldash9x/cfclear/api/schemas"
)

// CookieName is the cookie issued once a client passes the challenge.
const CookieName = "cf_clearance"

const separator = "; "

// Extract returns the clearance cookie if the jar carries one.
func Extract(cookies []schemas.Cookie) (schemas.Cookie, bool) {
	for _, c := range cookies {
		if c.Name == CookieName {
			return c, true
		}
	}
	return schemas.Cookie{}, false
}

// Render joins every cookie as name=value in input order.
func Render(cookies []schemas.Cookie) string {
	var sb strings.Builder
	for i, c := range cookies {
		if i > 0 {
			sb.WriteString(separator)
		}
		sb.WriteString(c.Name)
		sb.WriteByte('=')
		sb.WriteString(c.Value)
	}
	return sb.String()
}

// Parse splits a rendered cookie string back into name/value pairs. Values
// may contain '='; only the first one separates name from value.
func Parse(s string) []schemas.Cookie {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, separator)
	cookies := make([]schemas.Cookie, 0, len(parts))
	for _, part := range parts {
		name, value, _ := strings.Cut(part, "=")
		cookies = append(cookies, schemas.Cookie{Name: name, Value: value})
	}
	return cookies
}
