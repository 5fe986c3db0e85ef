package server

import (
	"context"
	"net/http"

	"github.com/julienschmidt/httprouter"

	"github.com/Tyrowin/pushgate/internal/logging"
	"github.com/Tyrowin/pushgate/internal/push"
	"github.com/Tyrowin/pushgate/internal/session"
)

// Authenticator registers users, checks their credentials and reads profiles.
type Authenticator interface {
	Register(ctx context.Context, username, rawPassword string, fields map[string]string) error
	Login(ctx context.Context, username, rawPassword string) (session.Session, error)
	Profile(ctx context.Context, username string) (map[string]string, error)
}

// Sessions is the part of the session registry the handlers use.
type Sessions interface {
	MarkLoggedOut(username string) error
	BindSession(username, sessionID string, ch session.Channel) error
	Authorize(username, sessionID string) (session.Session, error)
	Push(username string, payload []byte) error
}

// Tokens issues and validates session tokens.
type Tokens interface {
	Issue(username, sessionID string) (string, error)
	Parse(token string) (username, sessionID string, err error)
}

// Channels upgrades requests into open push channels.
type Channels interface {
	Accept(w http.ResponseWriter, r *http.Request) (*push.Conn, error)
}

type Deps struct {
	Auth     Authenticator
	Sessions Sessions
	Tokens   Tokens
	Channels Channels
}

// Server routes the HTTP surface onto its dependencies.
type Server struct {
	auth     Authenticator
	sessions Sessions
	tokens   Tokens
	channels Channels
	log      logging.Logger
	router   *httprouter.Router
}

func New(deps Deps, log logging.Logger) *Server {
	s := &Server{
		auth:     deps.Auth,
		sessions: deps.Sessions,
		tokens:   deps.Tokens,
		channels: deps.Channels,
		log:      log,
		router:   httprouter.New(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
