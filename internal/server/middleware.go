package server

import (
	"net/http"
	"strings"

	"github.com/julienschmidt/httprouter"

	"github.com/Tyrowin/pushgate/internal/session"
)

// sessionHandle is an httprouter handle that runs only for requests carrying
// a token for the user's current session.
type sessionHandle func(w http.ResponseWriter, r *http.Request, ps httprouter.Params, sess session.Session)

func (s *Server) requireSession(next sessionHandle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, msgNotAuthenticated)
			return
		}
		sess, err := s.authorize(r, token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, msgNotAuthenticated)
			return
		}
		next(w, r, ps, sess)
	}
}

// authorize accepts a token only while it names the user's current
// Authenticated session. Tokens from an earlier login are stale.
func (s *Server) authorize(r *http.Request, token string) (session.Session, error) {
	username, sessionID, err := s.tokens.Parse(token)
	if err != nil {
		s.log.Debug(r.Context(), "rejected token", "error", err, "remote", r.RemoteAddr)
		return session.Session{}, err
	}
	sess, err := s.sessions.Authorize(username, sessionID)
	if err != nil {
		s.log.Debug(r.Context(), "rejected session", "user", username, "error", err)
		return session.Session{}, err
	}
	return sess, nil
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// channelToken also accepts ?token= since browsers cannot set headers on a
// WebSocket upgrade.
func channelToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	return bearerToken(r)
}
