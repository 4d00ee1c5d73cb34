package web

import (
	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/rollcall/internal/web/handlers"
	"github.com/kozaktomas/rollcall/internal/web/middleware"
)

func (s *Server) setupRoutes() {
	personsHandler := handlers.NewPersonsHandler(s.engine, s.service)
	coursesHandler := handlers.NewCoursesHandler(s.engine)
	sessionsHandler := handlers.NewSessionsHandler(s.engine, s.service)
	facesHandler := handlers.NewFacesHandler(s.engine, s.service)
	statsHandler := handlers.NewStatsHandler(s.config, s.engine, s.service)

	// Health check
	s.router.Get("/api/v1/health", handlers.HealthCheck)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/config", statsHandler.Config)
		r.Get("/stats", statsHandler.Get)

		// Persons
		r.Get("/persons", personsHandler.List)
		r.Post("/persons", personsHandler.Create)
		r.Get("/persons/{id}", personsHandler.Get)
		r.Put("/persons/{id}", personsHandler.Update)
		r.Delete("/persons/{id}", personsHandler.Delete)
		r.Get("/persons/{id}/courses", personsHandler.Courses)
		r.Get("/persons/{id}/faces", facesHandler.List)
		r.Post("/persons/{id}/faces", facesHandler.Add)
		r.Put("/persons/{id}/faces", facesHandler.Replace)

		// Acting person
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireActor)
			r.Get("/me", personsHandler.Me)
			r.Post("/me/enroll", personsHandler.EnrollMe)
			r.Post("/me/unenroll", personsHandler.UnenrollMe)
		})

		// Courses
		r.Get("/courses", coursesHandler.List)
		r.Post("/courses", coursesHandler.Create)
		r.Route("/courses/{course}", func(r chi.Router) {
			r.Get("/", coursesHandler.Get)
			r.Put("/", coursesHandler.Rename)
			r.Delete("/", coursesHandler.Delete)

			r.Get("/enrollments", coursesHandler.Enrollments)
			r.Post("/enrollments", coursesHandler.Enroll)
			r.Delete("/enrollments/{person}", coursesHandler.Unenroll)

			r.Post("/identify", facesHandler.Identify)
			r.Post("/rank", facesHandler.Rank)

			// Lectures and sections
			r.Get("/{kind}", sessionsHandler.List)
			r.Get("/{kind}/{name}", sessionsHandler.Get)
			r.Get("/{kind}/{name}/attendance", sessionsHandler.Attendance)

			// Staff only: professors manage lectures, TAs manage sections
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireActor)
				r.Post("/{kind}", sessionsHandler.Create)
				r.Delete("/{kind}/{name}", sessionsHandler.Delete)
				r.Post("/{kind}/{name}/attendance", sessionsHandler.TakeAttendance)
				r.Put("/{kind}/{name}/attendance/{person}", sessionsHandler.Mark)
			})
		})
	})
}
