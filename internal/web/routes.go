package web

import (
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kozaktomas/school-attendance/internal/web/handlers"
	"github.com/kozaktomas/school-attendance/internal/web/middleware"
)

func (s *Server) setupRoutes() {
	healthHandler := handlers.NewHealthHandler(s.services.DB)
	scanHandler := handlers.NewScanHandler(s.services.Resolver, s.services.Attendance)
	attendanceHandler := handlers.NewAttendanceHandler(s.services.Attendance)
	enrollmentsHandler := handlers.NewEnrollmentsHandler(s.services.Enrollment, s.config.Biometric.Enabled)

	// No auth required
	s.router.Get("/api/v1/health", healthHandler.Check)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RequireScanner(s.config.Auth.JWTSecret, s.config.Auth.JWTIssuer))

		// Scanners
		r.Post("/attendance/entry", scanHandler.Entry)
		r.Post("/attendance/exit", scanHandler.Exit)
		r.Get("/biometric/status", enrollmentsHandler.Status)

		// Admin clients
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAdmin)

			r.Get("/attendance", attendanceHandler.List)

			r.Post("/enrollments", enrollmentsHandler.Create)
			r.Post("/enrollments/retry", enrollmentsHandler.Retry)
			r.Post("/enrollments/photo-updated", enrollmentsHandler.PhotoUpdated)
			r.Get("/enrollments/{kind}/{id}", enrollmentsHandler.Get)
			r.Post("/enrollments/{kind}/{id}/reenroll", enrollmentsHandler.Reenroll)
			r.Delete("/enrollments/{kind}/{id}", enrollmentsHandler.Delete)
		})
	})
}
