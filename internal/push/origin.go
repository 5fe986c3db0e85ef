package push

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/Tyrowin/pushgate/internal/logging"
)

// OriginPolicy decides which browser origins may open a push channel.
// "*" allows every origin. Requests without an Origin header are refused.
type OriginPolicy struct {
	allowAll bool
	allowed  map[string]struct{}
	log      logging.Logger
}

func NewOriginPolicy(origins []string, log logging.Logger) *OriginPolicy {
	p := &OriginPolicy{allowed: make(map[string]struct{}, len(origins)), log: log}

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		switch {
		case trimmed == "":
			continue
		case trimmed == "*":
			p.allowAll = true
		default:
			normalized, ok := normalizeOrigin(trimmed)
			if !ok {
				log.Warn(context.Background(), "ignoring invalid origin", "origin", origin)
				continue
			}
			p.allowed[normalized] = struct{}{}
		}
	}
	return p
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}

// Allow is suitable as websocket.Upgrader.CheckOrigin.
func (p *OriginPolicy) Allow(r *http.Request) bool {
	header := r.Header.Get("Origin")
	if header != "" {
		if p.allowAll {
			return true
		}
		if normalized, ok := normalizeOrigin(header); ok {
			if _, exists := p.allowed[normalized]; exists {
				return true
			}
		}
	}

	p.log.Warn(r.Context(), "blocked push channel from disallowed origin", "origin", header, "remote", r.RemoteAddr)
	return false
}
