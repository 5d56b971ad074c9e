package server

import "net/http"

// SetupRoutes configures and returns an HTTP ServeMux with all application routes.
func (s *Server) SetupRoutes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.HealthHandler)
	mux.HandleFunc("POST /api/logout", s.LogoutHandler)
	mux.HandleFunc("GET /ws/{room_id}", s.WebSocketHandler)
	return mux
}
