package http

import (
	"io"
	nethttp "net/http"
	"path"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/open-course/opencourse-lms/internal/catalog"
	"github.com/open-course/opencourse-lms/internal/enroll"
	"github.com/open-course/opencourse-lms/internal/storage"
)

// Handlers only — routes remain in main.go

func CreateCourseHandler(store catalog.Store) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		var req struct {
			Name        string `json:"name"`
			Description string `json:"description"`
			PubDate     int64  `json:"pub_date"`
			IsActive    *bool  `json:"is_active"`
		}
		if err := decode(r, &req); err != nil || strings.TrimSpace(req.Name) == "" {
			nethttp.Error(w, "bad json", nethttp.StatusBadRequest)
			return
		}
		active := true
		if req.IsActive != nil {
			active = *req.IsActive
		}
		c := catalog.Course{
			ID:          uuid.NewString(),
			Name:        req.Name,
			Description: req.Description,
			PubDate:     req.PubDate,
			IsActive:    active,
		}
		if err := store.PutCourse(r.Context(), c); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, nethttp.StatusCreated, c)
	}
}

func ListCoursesHandler(store catalog.Store) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		opts := catalog.ListOpts{
			Q:          strings.TrimSpace(r.URL.Query().Get("q")),
			ActiveOnly: r.URL.Query().Get("active") == "1",
		}
		if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
			opts.Limit = v
		}
		if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v >= 0 {
			opts.Offset = v
		}
		out, err := store.ListCourses(r.Context(), opts)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, nethttp.StatusOK, out)
	}
}

// GetCourseHandler returns the course with aggregates read through the
// enroll service so the response reflects committed enrollment state.
func GetCourseHandler(store catalog.Store, svc *enroll.Service) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		id := chi.URLParam(r, "courseID")
		c, err := store.GetCourse(r.Context(), id)
		if err != nil {
			writeErr(w, err)
			return
		}
		if agg, err := svc.CourseStats(r.Context(), id); err == nil {
			c.TotalEnrollment = agg.TotalEnrollment
			c.AverageRating = agg.AverageRating
		}
		writeJSON(w, nethttp.StatusOK, c)
	}
}

func DeleteCourseHandler(store catalog.Store) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if err := store.DeleteCourse(r.Context(), chi.URLParam(r, "courseID")); err != nil {
			writeErr(w, err)
			return
		}
		w.WriteHeader(nethttp.StatusNoContent)
	}
}

// GetExamHandler serves the course's question set with correctness flags
// stripped, for learners taking the exam.
func GetExamHandler(store catalog.Store) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		qs, err := store.CourseQuestions(r.Context(), chi.URLParam(r, "courseID"))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, nethttp.StatusOK, map[string]any{
			"questions":  catalog.StripAnswers(qs),
			"max_points": catalog.MaxPoints(qs),
		})
	}
}

func PutQuestionHandler(store catalog.Store) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		var req struct {
			ID     string  `json:"id"`
			Text   string  `json:"text"`
			Points float64 `json:"points"`
		}
		if err := decode(r, &req); err != nil {
			nethttp.Error(w, "bad json", nethttp.StatusBadRequest)
			return
		}
		if req.Points < 0 {
			nethttp.Error(w, "points must be non-negative", nethttp.StatusBadRequest)
			return
		}
		if req.ID == "" {
			req.ID = uuid.NewString()
		}
		q := catalog.Question{ID: req.ID, CourseID: chi.URLParam(r, "courseID"), Text: req.Text, Points: req.Points}
		if err := store.PutQuestion(r.Context(), q); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, nethttp.StatusCreated, q)
	}
}

func DeleteQuestionHandler(store catalog.Store) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if err := store.DeleteQuestion(r.Context(), chi.URLParam(r, "questionID")); err != nil {
			writeErr(w, err)
			return
		}
		w.WriteHeader(nethttp.StatusNoContent)
	}
}

func PutChoiceHandler(store catalog.Store) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		var req struct {
			ID        string `json:"id"`
			Text      string `json:"text"`
			IsCorrect bool   `json:"is_correct"`
		}
		if err := decode(r, &req); err != nil {
			nethttp.Error(w, "bad json", nethttp.StatusBadRequest)
			return
		}
		if req.ID == "" {
			req.ID = uuid.NewString()
		}
		c := catalog.Choice{ID: req.ID, QuestionID: chi.URLParam(r, "questionID"), Text: req.Text, IsCorrect: req.IsCorrect}
		if err := store.PutChoice(r.Context(), c); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, nethttp.StatusCreated, c)
	}
}

func DeleteChoiceHandler(store catalog.Store) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if err := store.DeleteChoice(r.Context(), chi.URLParam(r, "choiceID")); err != nil {
			writeErr(w, err)
			return
		}
		w.WriteHeader(nethttp.StatusNoContent)
	}
}

func UploadCourseImageHandler(store catalog.Store, blobs storage.BlobStore) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		courseID := chi.URLParam(r, "courseID")
		if _, err := store.GetCourse(r.Context(), courseID); err != nil {
			writeErr(w, err)
			return
		}
		f, hdr, err := r.FormFile("image")
		if err != nil {
			nethttp.Error(w, "image file required", nethttp.StatusBadRequest)
			return
		}
		defer f.Close()
		key := path.Join("course_images", courseID, path.Base(hdr.Filename))
		if _, err := blobs.Put(key, f); err != nil {
			writeErr(w, err)
			return
		}
		if err := store.SetCourseImage(r.Context(), courseID, key); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, nethttp.StatusCreated, map[string]string{"image_key": key})
	}
}

func GetCourseImageHandler(store catalog.Store, blobs storage.BlobStore) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		c, err := store.GetCourse(r.Context(), chi.URLParam(r, "courseID"))
		if err != nil {
			writeErr(w, err)
			return
		}
		if c.ImageKey == "" {
			nethttp.Error(w, "no image", nethttp.StatusNotFound)
			return
		}
		rc, err := blobs.Get(c.ImageKey)
		if err != nil {
			nethttp.Error(w, "no image", nethttp.StatusNotFound)
			return
		}
		defer rc.Close()
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = io.Copy(w, rc)
	}
}
