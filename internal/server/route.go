package server

import (
	"net/http"
	"strings"
)

// routeKind is the closed set of things a request on an MCP path can be.
type routeKind int

const (
	routeBadRequest routeKind = iota
	routeHandshake
	routeContinue
	routeStream
	routeTeardown
)

func (k routeKind) String() string {
	switch k {
	case routeHandshake:
		return "handshake"
	case routeContinue:
		return "continue"
	case routeStream:
		return "stream"
	case routeTeardown:
		return "teardown"
	default:
		return "bad-request"
	}
}

// route is the result of classifying a request.
type route struct {
	kind      routeKind
	sessionID string
}

// sessionIDFrom returns the session id of r: the Mcp-Session-Id header
// first, then the session_id or sessionId query parameter. A query-only id
// is copied into the header so downstream code sees a single place.
func sessionIDFrom(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(HeaderSessionID)); id != "" {
		return id
	}
	q := r.URL.Query()
	for _, key := range []string{"session_id", "sessionId"} {
		if id := strings.TrimSpace(q.Get(key)); id != "" {
			r.Header.Set(HeaderSessionID, id)
			return id
		}
	}
	return ""
}

// classify decides what r is. A present session id always wins over the
// shape of the body; a POST without one is a handshake candidate whose body
// is checked after authentication.
func classify(r *http.Request) route {
	id := sessionIDFrom(r)
	if id == "" {
		if r.Method == http.MethodPost {
			return route{kind: routeHandshake}
		}
		return route{kind: routeBadRequest}
	}

	switch r.Method {
	case http.MethodPost:
		return route{kind: routeContinue, sessionID: id}
	case http.MethodGet:
		return route{kind: routeStream, sessionID: id}
	case http.MethodDelete:
		return route{kind: routeTeardown, sessionID: id}
	default:
		return route{kind: routeBadRequest, sessionID: id}
	}
}
