package handlers

import "strings"

// extractCookieToken pulls the named cookie's value out of a raw Cookie
// header. Returns "" when the cookie is absent.
func extractCookieToken(cookieHeader, cookieName string) string {
	_, rest, found := strings.Cut(cookieHeader, cookieName+"=")
	if !found {
		return ""
	}
	value, _, _ := strings.Cut(rest, ";")
	return value
}
