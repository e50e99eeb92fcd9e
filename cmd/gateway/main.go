package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	api "github.com/open-course/opencourse-lms/internal/api/http"
	"github.com/open-course/opencourse-lms/internal/audit"
	auth "github.com/open-course/opencourse-lms/internal/auth/middleware"
	"github.com/open-course/opencourse-lms/internal/catalog"
	"github.com/open-course/opencourse-lms/internal/config"
	"github.com/open-course/opencourse-lms/internal/db"
	"github.com/open-course/opencourse-lms/internal/enroll"
	"github.com/open-course/opencourse-lms/internal/grading"
	"github.com/open-course/opencourse-lms/internal/rbac"
	"github.com/open-course/opencourse-lms/internal/storage"
)

func main() {
	cfg := config.FromEnv()

	// --- DB ---
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dbh, err := db.Open(ctx, db.Driver(cfg.DBDriver), cfg.DBDSN)
	if err != nil {
		log.Fatalf("db open failed: %v", err)
	}

	courses := catalog.NewSQLStore(dbh, cfg.DBDriver)
	enrollments := enroll.NewSQLStore(dbh, cfg.DBDriver)
	events := audit.NewEventLog(dbh)
	svc := enroll.NewService(enrollments, courses, grading.NewEngine(), events)
	reconciler := enroll.NewReconciler(enrollments, events)

	// periodic drift sweep; the per-request path stays synchronous
	go reconciler.Run(context.Background(), cfg.ReconcileInterval)

	bs, err := storage.NewFSStore(cfg.BlobBasePath)
	if err != nil {
		log.Fatalf("blob store: %v", err)
	}

	authSvc := auth.NewAuthService(cfg.AuthSecret)

	// --- Router ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	origins := cfg.CORSOriginsOffline
	if cfg.Mode == config.ModeOnline {
		origins = cfg.CORSOriginsOnline
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Post("/auth/login", auth.LoginHandler(authSvc, dbh, cfg.AdminUser, cfg.AdminPassHash))

	// Protected API (JWT → role in context → RBAC)
	r.Group(func(pr chi.Router) {
		pr.Use(auth.JWTMiddleware(authSvc))
		pr.Use(auth.AttachRoleFromDB(dbh, cfg.Mode == config.ModeOffline))

		// Catalog
		pr.With(rbac.Require("course:view")).
			Get("/courses", api.ListCoursesHandler(courses))
		pr.With(rbac.Require("course:view")).
			Get("/courses/{courseID}", api.GetCourseHandler(courses, svc))
		pr.With(rbac.Require("course:create")).
			Post("/courses", api.CreateCourseHandler(courses))
		pr.With(rbac.Require("course:delete")).
			Delete("/courses/{courseID}", api.DeleteCourseHandler(courses))
		pr.With(rbac.Require("course:view")).
			Get("/courses/{courseID}/exam", api.GetExamHandler(courses))
		pr.With(rbac.Require("question:edit")).
			Post("/courses/{courseID}/questions", api.PutQuestionHandler(courses))
		pr.With(rbac.Require("question:edit")).
			Delete("/questions/{questionID}", api.DeleteQuestionHandler(courses))
		pr.With(rbac.Require("question:edit")).
			Post("/questions/{questionID}/choices", api.PutChoiceHandler(courses))
		pr.With(rbac.Require("question:edit")).
			Delete("/choices/{choiceID}", api.DeleteChoiceHandler(courses))
		pr.With(rbac.Require("course:edit")).
			Post("/courses/{courseID}/image", api.UploadCourseImageHandler(courses, bs))
		pr.With(rbac.Require("course:view")).
			Get("/courses/{courseID}/image", api.GetCourseImageHandler(courses, bs))

		// Enrollment
		pr.With(rbac.Require("enrollment:create")).
			Post("/courses/{courseID}/enroll", api.EnrollHandler(svc))
		pr.With(rbac.RequireAny("enrollment:remove-own", "enrollment:view-all")).
			Delete("/enrollments/{enrollmentID}", api.UnenrollHandler(svc))
		pr.With(rbac.Require("enrollment:rate")).
			Put("/enrollments/{enrollmentID}/rating", api.RateHandler(svc))
		pr.With(rbac.Require("course:view")).
			Get("/courses/{courseID}/stats", api.CourseStatsHandler(svc))
		pr.With(rbac.Require("course:view")).
			Get("/courses/{courseID}/enrollment", api.MyEnrollmentHandler(svc))
		pr.With(rbac.RequireAny("submission:view", "submission:view-all")).
			Get("/enrollments/{enrollmentID}/progress", api.ProgressHandler(svc))

		// Exam attempts
		pr.With(rbac.Require("submission:create")).
			Post("/enrollments/{enrollmentID}/submissions", api.StartSubmissionHandler(svc))
		pr.With(rbac.RequireAny("submission:view", "submission:view-all")).
			Get("/enrollments/{enrollmentID}/submissions", api.ListSubmissionsHandler(svc))
		pr.With(rbac.Require("submission:save")).
			Post("/submissions/{submissionID}/selections", api.SaveSelectionsHandler(svc))
		pr.With(rbac.Require("submission:submit")).
			Post("/submissions/{submissionID}/submit", api.SubmitHandler(svc))
		pr.With(rbac.RequireAny("submission:view", "submission:view-all")).
			Get("/submissions/{submissionID}", api.GetSubmissionHandler(svc))

		// Admin
		pr.With(rbac.Require("admin:reconcile")).
			Post("/admin/reconcile", api.ReconcileHandler(reconciler))
	})

	log.Printf("gateway listening on %s (mode=%s, db=%s)", cfg.HTTPAddr, cfg.Mode, cfg.DBDriver)
	if err := http.ListenAndServe(cfg.HTTPAddr, r); err != nil {
		log.Println("server:", err)
		os.Exit(1)
	}
}
