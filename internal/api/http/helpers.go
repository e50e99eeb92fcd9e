package http

import (
	"encoding/json"
	"errors"
	nethttp "net/http"

	"github.com/open-course/opencourse-lms/internal/catalog"
	"github.com/open-course/opencourse-lms/internal/enroll"
	"github.com/open-course/opencourse-lms/internal/grading"
)

func writeJSON(w nethttp.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w nethttp.ResponseWriter, err error) {
	writeJSON(w, errStatus(err), map[string]string{"error": err.Error()})
}

// errStatus maps domain errors onto HTTP statuses. Structural input
// errors surface to the caller; everything else is a 500.
func errStatus(err error) int {
	var malformed *grading.MalformedSubmission
	switch {
	case errors.Is(err, catalog.ErrCourseNotFound),
		errors.Is(err, catalog.ErrQuestionNotFound),
		errors.Is(err, catalog.ErrChoiceNotFound),
		errors.Is(err, enroll.ErrEnrollmentNotFound),
		errors.Is(err, enroll.ErrSubmissionNotFound):
		return nethttp.StatusNotFound
	case errors.Is(err, enroll.ErrDuplicateEnrollment),
		errors.Is(err, enroll.ErrSubmissionGraded):
		return nethttp.StatusConflict
	case errors.Is(err, enroll.ErrInvalidRating):
		return nethttp.StatusBadRequest
	case errors.As(err, &malformed):
		return nethttp.StatusUnprocessableEntity
	default:
		return nethttp.StatusInternalServerError
	}
}

func decode(r *nethttp.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}
