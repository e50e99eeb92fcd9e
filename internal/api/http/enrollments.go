package http

import (
	nethttp "net/http"

	"github.com/go-chi/chi/v5"

	authmw "github.com/open-course/opencourse-lms/internal/auth/middleware"
	"github.com/open-course/opencourse-lms/internal/enroll"
	"github.com/open-course/opencourse-lms/internal/rbac"
)

func EnrollHandler(svc *enroll.Service) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		sub := authmw.SubjectFromContext(r.Context())
		if sub == "" {
			nethttp.Error(w, "unauthorized", nethttp.StatusUnauthorized)
			return
		}
		var req struct {
			Mode string `json:"mode"`
		}
		_ = decode(r, &req) // body optional; default mode applies
		e, err := svc.RecordEnrollment(r.Context(), chi.URLParam(r, "courseID"), sub, req.Mode)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, nethttp.StatusCreated, e)
	}
}

// UnenrollHandler removes an enrollment. Learners may remove only their
// own; enrollment:view-all roles may remove any.
func UnenrollHandler(svc *enroll.Service) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		id := chi.URLParam(r, "enrollmentID")
		e, err := svc.GetEnrollment(r.Context(), id)
		if err != nil {
			writeErr(w, err)
			return
		}
		if !ownsOrManages(r, e.UserID) {
			nethttp.Error(w, "forbidden", nethttp.StatusForbidden)
			return
		}
		if err := svc.RemoveEnrollment(r.Context(), id); err != nil {
			writeErr(w, err)
			return
		}
		w.WriteHeader(nethttp.StatusNoContent)
	}
}

func RateHandler(svc *enroll.Service) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		id := chi.URLParam(r, "enrollmentID")
		e, err := svc.GetEnrollment(r.Context(), id)
		if err != nil {
			writeErr(w, err)
			return
		}
		if !ownsOrManages(r, e.UserID) {
			nethttp.Error(w, "forbidden", nethttp.StatusForbidden)
			return
		}
		var req struct {
			Rating float64 `json:"rating"`
		}
		if err := decode(r, &req); err != nil {
			nethttp.Error(w, "bad json", nethttp.StatusBadRequest)
			return
		}
		if err := svc.SetRating(r.Context(), id, req.Rating); err != nil {
			writeErr(w, err)
			return
		}
		updated, err := svc.GetEnrollment(r.Context(), id)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, nethttp.StatusOK, updated)
	}
}

// CourseStatsHandler exposes the committed aggregates.
func CourseStatsHandler(svc *enroll.Service) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		agg, err := svc.CourseStats(r.Context(), chi.URLParam(r, "courseID"))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, nethttp.StatusOK, agg)
	}
}

func MyEnrollmentHandler(svc *enroll.Service) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		sub := authmw.SubjectFromContext(r.Context())
		e, err := svc.FindEnrollment(r.Context(), sub, chi.URLParam(r, "courseID"))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, nethttp.StatusOK, e)
	}
}

func ProgressHandler(svc *enroll.Service) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		id := chi.URLParam(r, "enrollmentID")
		e, err := svc.GetEnrollment(r.Context(), id)
		if err != nil {
			writeErr(w, err)
			return
		}
		if !ownsOrManages(r, e.UserID) {
			nethttp.Error(w, "forbidden", nethttp.StatusForbidden)
			return
		}
		p, err := svc.Progress(r.Context(), id)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, nethttp.StatusOK, map[string]int{"progress_percent": p})
	}
}

// ReconcileHandler triggers a full aggregate sweep on demand (admin).
func ReconcileHandler(rec *enroll.Reconciler) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		reports, err := rec.ReconcileAll(r.Context())
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, nethttp.StatusOK, map[string]any{"corrected": len(reports), "reports": reports})
	}
}

func ownsOrManages(r *nethttp.Request, ownerID string) bool {
	sub := authmw.SubjectFromContext(r.Context())
	if sub != "" && sub == ownerID {
		return true
	}
	role := rbac.RoleFromContext(r.Context())
	return rbac.NewChecker(nil).Has(role, "enrollment:view-all")
}
