// Package proxy is the streaming reverse proxy: it parses the incoming
// request's route, tees response bytes to the client while feeding a
// parallel copy to internal/parser, and runs the decoded events through
// internal/pipeline before handing them to the writers. Grounded on the
// teacher's internal/proxy package (ServeHTTP lifecycle, router.go's route
// grammar, forwarder.go's header handling) but diverges deliberately from
// its buffer-then-forward strategy — see proxy.go's ServeHTTP.
package proxy

import (
	"strings"

	"github.com/aspy-proxy/aspy/internal/parser"
)

// Route is the parsed shape of an incoming proxy request.
//
// Grammar: /[<client-id>]/<upstream-subpath>
//
//	/dev-1/v1/messages            → ClientID="dev-1", UpstreamPath="/v1/messages"
//	/v1/chat/completions          → ClientID="", UpstreamPath="/v1/chat/completions" (bare proxy)
//
// Unlike the teacher's mandatory "/provider/{key}/agent/{id}/..." grammar,
// the client id segment here is optional and resolved against configured
// clients — an unrecognized first segment is not assumed to be an agent id,
// it's rejected (§6's "unknown segment with no bare-proxy fallback → 404").
type Route struct {
	ClientID     string
	UpstreamPath string
	Format       parser.Format
}

// ParseRoute splits the request path into an optional client id and the
// upstream subpath. It does not itself decide whether ClientID names a
// configured client — that's the caller's job, since only the caller knows
// the configured client set and whether bare-proxy fallback is enabled.
func ParseRoute(path string) Route {
	path = strings.TrimPrefix(path, "/")
	parts := strings.SplitN(path, "/", 2)

	first := parts[0]
	rest := ""
	if len(parts) > 1 {
		rest = parts[1]
	}

	// A first segment that looks like an API path itself (starts with "v"
	// followed by a digit, e.g. "v1") is never a client id — this is how a
	// bare-proxy request with no client segment is told apart from one.
	if looksLikeAPIVersion(first) {
		return Route{ClientID: "", UpstreamPath: "/" + path, Format: detectFormat("/" + path)}
	}

	upstreamPath := "/" + rest
	return Route{ClientID: first, UpstreamPath: upstreamPath, Format: detectFormat(upstreamPath)}
}

func looksLikeAPIVersion(segment string) bool {
	return len(segment) >= 2 && segment[0] == 'v' && segment[1] >= '0' && segment[1] <= '9'
}

// detectFormat determines the wire format from the upstream API path,
// exactly as the teacher's detectAPIType does, generalized to the parser
// package's Format enum.
func detectFormat(apiPath string) parser.Format {
	switch {
	case strings.HasPrefix(apiPath, "/v1/messages"):
		return parser.FormatAnthropic
	case strings.HasPrefix(apiPath, "/v1/chat/completions"):
		return parser.FormatOpenAI
	case strings.HasPrefix(apiPath, "/v1/responses"):
		return parser.FormatOpenAI
	default:
		return parser.FormatUnknown
	}
}
