package server

import "net/http"

func (s *Server) setupRoutes() {
	s.router.GET("/", s.handleHealth)
	s.router.GET("/health", s.handleHealth)

	s.router.POST("/register", s.handleRegister)
	s.router.POST("/login", s.handleLogin)
	s.router.POST("/logout", s.requireSession(s.handleLogout))
	s.router.GET("/profile", s.requireSession(s.handleProfile))
	s.router.GET("/groups", s.requireSession(s.handleGroups))
	s.router.POST("/push/:username", s.requireSession(s.handlePush))

	s.router.GET("/ws", s.handleWebSocket)

	s.router.NotFound = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	})
	s.router.MethodNotAllowed = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})
	s.router.PanicHandler = func(w http.ResponseWriter, r *http.Request, v any) {
		s.log.Error(r.Context(), "handler panicked", "path", r.URL.Path, "panic", v)
		writeError(w, http.StatusInternalServerError, msgInternal)
	}
}
