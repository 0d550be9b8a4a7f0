package relay

import (
	"net"
	"net/http"
	"strings"
)

// The upstream API is strict about the scheme casing, so the relay is too:
// exactly "Bearer" followed by a single space.
const bearerPrefix = "Bearer "

// bearerToken returns the credential following the Bearer prefix of the
// Authorization header, or ok=false when the header is missing or carries a
// different scheme.
func bearerToken(h http.Header) (string, bool) {
	token, ok := strings.CutPrefix(h.Get("Authorization"), bearerPrefix)
	if !ok {
		return "", false
	}
	return token, true
}

func requestIsLoopback(r *http.Request) bool {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return false
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return strings.EqualFold(host, "localhost")
}
