package server

// setupRoutes configures all API routes. Everything is a GET: this
// surface is a read-only window into the session.
func (s *Server) setupRoutes() {
	r := s.router

	r.Get("/status", s.getStatus)
	r.Get("/room", s.getRoom)
	r.Get("/tree", s.getTree)
	r.Get("/presence", s.getPresence)
	r.Get("/documents", s.getDocuments)

	// Event streaming (SSE)
	r.Get("/events", s.streamEvents)
}
