package web

import (
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/kozaktomas/class-attendance/internal/web/handlers"
)

// requestTimeout bounds every non-websocket request.
const requestTimeout = 90 * time.Second

func (s *Server) setupRoutes() {
	recognitionHandler := handlers.NewRecognitionHandler(s.deps.Service, s.config.UploadDir, s.logger)
	attendanceHandler := handlers.NewAttendanceHandler(s.deps.Service, s.logger)
	identitiesHandler := handlers.NewIdentitiesHandler(s.deps.Service, s.config.UploadDir, s.logger)
	healthHandler := handlers.NewHealthHandler(s.deps.Database, s.deps.Detector, s.logger)

	s.router.Handle("/metrics", s.deps.Metrics.Handler())

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", healthHandler.Check)

		// Long lived websocket, no request timeout
		r.Get("/recognition/ws", recognitionHandler.WebSocket)

		r.Group(func(r chi.Router) {
			r.Use(chiMiddleware.Timeout(requestTimeout))

			// Recognition
			r.Post("/recognition/batch", recognitionHandler.Batch)
			r.Post("/recognition/stream", recognitionHandler.Stream)

			// Attendance ledger
			r.Get("/attendance", attendanceHandler.List)
			r.Post("/attendance/override", attendanceHandler.Override)
			r.Post("/attendance/present", attendanceHandler.Present)

			// Identities
			r.Get("/identities/export", identitiesHandler.Export)
			r.Post("/identities/enroll", identitiesHandler.Enroll)
			r.Get("/sections", identitiesHandler.Sections)
			r.Get("/unknown-faces", identitiesHandler.UnknownFaces)
		})
	})
}
