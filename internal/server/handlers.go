package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/julienschmidt/httprouter"

	"github.com/Tyrowin/pushgate/internal/common"
	"github.com/Tyrowin/pushgate/internal/session"
)

const maxBodyBytes = 1 << 20

const (
	msgRegistered       = "Registration successful! Please log in."
	msgLoggedIn         = "Login successful!"
	msgLoggedOut        = "Logout successful!"
	msgProfile          = "Profile settings"
	msgGroups           = "Interest groups"
	msgDelivered        = "Message delivered"
	msgUsernameTaken    = "Username already taken"
	msgMissingFields    = "Username and password are required"
	msgUsernameTooLong  = "Username is too long"
	msgInvalidBody      = "Invalid request body"
	msgInvalidUsername  = "Invalid username"
	msgInvalidPassword  = "Invalid password"
	msgNotAuthenticated = "Not authenticated"
	msgNoChannel        = "No active channel"
	msgInternal         = "Internal server error"
	msgHealthy          = "pushgate server is running!"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, messageResponse{Message: msg})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("trailing data after JSON body")
	}
	return nil
}

// handleRegister takes {"username", "password", ...fields}. Every extra field
// must be a string and is stored as a profile field.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var body map[string]any
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}

	username, password, fields, err := splitRegistration(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}

	err = s.auth.Register(r.Context(), username, password, fields)
	switch {
	case err == nil:
		writeMessage(w, http.StatusOK, msgRegistered)
	case errors.Is(err, common.ErrDuplicateUsername):
		writeError(w, http.StatusBadRequest, msgUsernameTaken)
	case errors.Is(err, common.ErrUsernameTooLong):
		writeError(w, http.StatusBadRequest, msgUsernameTooLong)
	case errors.Is(err, common.ErrValidation):
		writeError(w, http.StatusBadRequest, msgMissingFields)
	default:
		s.log.Error(r.Context(), "registration failed", "user", username, "error", err)
		writeError(w, http.StatusInternalServerError, msgInternal)
	}
}

func splitRegistration(body map[string]any) (username, password string, fields map[string]string, err error) {
	fields = make(map[string]string, len(body))
	for key, raw := range body {
		value, ok := raw.(string)
		if !ok && raw != nil {
			return "", "", nil, fmt.Errorf("field %q is not a string", key)
		}
		switch key {
		case "username":
			username = value
		case "password":
			password = value
		default:
			fields[key] = value
		}
	}
	return username, password, fields, nil
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req credentialsRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}

	sess, err := s.auth.Login(r.Context(), req.Username, req.Password)
	switch {
	case errors.Is(err, common.ErrUnknownUser):
		writeError(w, http.StatusBadRequest, msgInvalidUsername)
		return
	case errors.Is(err, common.ErrBadCredential):
		writeError(w, http.StatusBadRequest, msgInvalidPassword)
		return
	case err != nil:
		s.log.Error(r.Context(), "login failed", "user", req.Username, "error", err)
		writeError(w, http.StatusInternalServerError, msgInternal)
		return
	}

	token, err := s.tokens.Issue(sess.Username, sess.ID)
	if err != nil {
		s.log.Error(r.Context(), "issuing token failed", "user", sess.Username, "error", err)
		writeError(w, http.StatusInternalServerError, msgInternal)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: msgLoggedIn, Token: token})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request, _ httprouter.Params, sess session.Session) {
	if err := s.sessions.MarkLoggedOut(sess.Username); err != nil {
		if errors.Is(err, common.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, msgNotAuthenticated)
			return
		}
		s.log.Error(r.Context(), "logout failed", "user", sess.Username, "error", err)
		writeError(w, http.StatusInternalServerError, msgInternal)
		return
	}
	s.log.Info(r.Context(), "user logged out", "user", sess.Username)
	writeMessage(w, http.StatusOK, msgLoggedOut)
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request, _ httprouter.Params, sess session.Session) {
	fields, err := s.auth.Profile(r.Context(), sess.Username)
	if err != nil {
		s.log.Error(r.Context(), "loading profile failed", "user", sess.Username, "error", err)
		writeError(w, http.StatusInternalServerError, msgInternal)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: msgProfile, Profile: fields})
}

func (s *Server) handleGroups(w http.ResponseWriter, _ *http.Request, _ httprouter.Params, _ session.Session) {
	writeMessage(w, http.StatusOK, msgGroups)
}

// handlePush delivers {"content"} to the named user's bound channel as a
// Delivery from the caller. Delivery is best effort.
func (s *Server) handlePush(w http.ResponseWriter, r *http.Request, ps httprouter.Params, sess session.Session) {
	var req pushRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}

	target := ps.ByName("username")
	payload, err := json.Marshal(Delivery{From: sess.Username, Content: req.Content})
	if err != nil {
		writeError(w, http.StatusInternalServerError, msgInternal)
		return
	}

	err = s.sessions.Push(target, payload)
	switch {
	case err == nil:
		writeMessage(w, http.StatusOK, msgDelivered)
	case errors.Is(err, common.ErrNotFound), errors.Is(err, common.ErrChannelClosed):
		writeError(w, http.StatusNotFound, msgNoChannel)
	default:
		s.log.Error(r.Context(), "push failed", "from", sess.Username, "to", target, "error", err)
		writeError(w, http.StatusInternalServerError, msgInternal)
	}
}

// handleWebSocket opens a push channel. With a valid token the channel is
// bound to the caller's session; without one it stays anonymous.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var sess session.Session
	if token := channelToken(r); token != "" {
		var err error
		if sess, err = s.authorize(r, token); err != nil {
			writeError(w, http.StatusUnauthorized, msgNotAuthenticated)
			return
		}
	}

	conn, err := s.channels.Accept(w, r)
	if err != nil {
		// the upgrader has already replied
		s.log.Warn(r.Context(), "push channel upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	if sess.Username == "" {
		return
	}

	// a login after the token check replaces the session; its channel must win
	if err := s.sessions.BindSession(sess.Username, sess.ID, conn); err != nil {
		s.log.Warn(r.Context(), "binding push channel failed", "user", sess.Username, "channel", conn.ID(), "error", err)
		_ = conn.Close()
		return
	}
	s.log.Info(r.Context(), "push channel bound", "user", sess.Username, "channel", conn.ID(), "remote", conn.Addr())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = io.WriteString(w, msgHealthy)
}
