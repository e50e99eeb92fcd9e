package http

import (
	nethttp "net/http"

	"github.com/go-chi/chi/v5"

	"github.com/open-course/opencourse-lms/internal/enroll"
)

func StartSubmissionHandler(svc *enroll.Service) nethttp.HandlerFunc {
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
		sub, err := svc.StartSubmission(r.Context(), id)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, nethttp.StatusCreated, sub)
	}
}

func SaveSelectionsHandler(svc *enroll.Service) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		id := chi.URLParam(r, "submissionID")
		if !submissionOwned(r, svc, id) {
			nethttp.Error(w, "forbidden", nethttp.StatusForbidden)
			return
		}
		var req struct {
			Selections map[string][]string `json:"selections"`
		}
		if err := decode(r, &req); err != nil || req.Selections == nil {
			nethttp.Error(w, "bad json", nethttp.StatusBadRequest)
			return
		}
		sub, err := svc.SaveSelections(r.Context(), id, req.Selections)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, nethttp.StatusOK, sub)
	}
}

// SubmitHandler grades the submission; resubmitting a graded attempt
// returns the stored result.
func SubmitHandler(svc *enroll.Service) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		id := chi.URLParam(r, "submissionID")
		if !submissionOwned(r, svc, id) {
			nethttp.Error(w, "forbidden", nethttp.StatusForbidden)
			return
		}
		sub, err := svc.Submit(r.Context(), id)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, nethttp.StatusOK, sub)
	}
}

func GetSubmissionHandler(svc *enroll.Service) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		id := chi.URLParam(r, "submissionID")
		if !submissionOwned(r, svc, id) {
			nethttp.Error(w, "forbidden", nethttp.StatusForbidden)
			return
		}
		sub, err := svc.GetSubmission(r.Context(), id)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, nethttp.StatusOK, sub)
	}
}

func ListSubmissionsHandler(svc *enroll.Service) nethttp.HandlerFunc {
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
		subs, err := svc.ListSubmissions(r.Context(), id)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, nethttp.StatusOK, subs)
	}
}

func submissionOwned(r *nethttp.Request, svc *enroll.Service, submissionID string) bool {
	sub, err := svc.GetSubmission(r.Context(), submissionID)
	if err != nil {
		// let the handler surface the not-found
		return true
	}
	e, err := svc.GetEnrollment(r.Context(), sub.EnrollmentID)
	if err != nil {
		return true
	}
	return ownsOrManages(r, e.UserID)
}
