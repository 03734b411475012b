// Package auth implements the websocket handshake preconditions: origin
// allow-list, subprotocol parsing, one-time tickets and per-user throttling.
package auth

import (
	"strings"

	"github.com/leozinhoszg/zerion/internal/protocol"
)

// OriginChecker is an exact-match origin allow-list.
type OriginChecker struct {
	allowed map[string]struct{}
}

// NewOriginChecker creates a checker for the given origins.
func NewOriginChecker(origins []string) *OriginChecker {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		if o = strings.TrimSpace(o); o != "" {
			allowed[o] = struct{}{}
		}
	}
	return &OriginChecker{allowed: allowed}
}

// Allowed reports whether origin may open a connection. Empty origins never may.
func (c *OriginChecker) Allowed(origin string) bool {
	if origin == "" {
		return false
	}
	_, ok := c.allowed[origin]
	return ok
}

// ParseSubprotocols splits Sec-WebSocket-Protocol header values into tokens.
func ParseSubprotocols(values []string) []string {
	var out []string
	for _, v := range values {
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// ExtractTicket returns the ticket carried in an "auth.<ticket>" token.
// ok is false unless the zerion subprotocol is offered and a non-empty
// ticket is present.
func ExtractTicket(protocols []string) (string, bool) {
	var hasProto bool
	var ticket string
	for _, p := range protocols {
		switch {
		case p == protocol.Subprotocol:
			hasProto = true
		case ticket == "" && strings.HasPrefix(p, protocol.TicketPrefix):
			ticket = strings.TrimPrefix(p, protocol.TicketPrefix)
		}
	}
	if !hasProto || ticket == "" {
		return "", false
	}
	return ticket, true
}
