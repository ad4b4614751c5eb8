package middleware

import (
	"net"
	"net/http"
	"strings"

	"gateguard/types"
)

// capturedHeaders is the fixed header subset copied into the request
// snapshot; the engine never sees the rest.
var capturedHeaders = []string{"User-Agent", "Referer"}

// ClientIP extracts the originating client address. With trustXFF set the
// first X-Forwarded-For hop wins, otherwise RemoteAddr.
func ClientIP(r *http.Request, trustXFF bool) string {
	if trustXFF {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first := strings.TrimSpace(strings.Split(xff, ",")[0])
			if first != "" {
				return first
			}
		}
	}

	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}

// BuildRequestContext takes the read-only snapshot the engine evaluates.
// priorStatus is the status of this client's previous response, zero when
// unknown.
func BuildRequestContext(r *http.Request, countryHeader string, trustXFF bool, priorStatus int) *types.RequestContext {
	headers := make(map[string]string, len(capturedHeaders))
	for _, name := range capturedHeaders {
		if v := r.Header.Get(name); v != "" {
			headers[name] = v
		}
	}

	bodySize := r.ContentLength
	if bodySize < 0 {
		bodySize = 0
	}

	return &types.RequestContext{
		SourceIP:            ClientIP(r, trustXFF),
		Path:                r.URL.Path,
		Method:              r.Method,
		CountryCode:         strings.ToUpper(r.Header.Get(countryHeader)),
		Headers:             headers,
		BodySizeBytes:       bodySize,
		URILength:           len(r.URL.RequestURI()),
		PriorResponseStatus: priorStatus,
	}
}
