package enroll

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/open-course/opencourse-lms/internal/audit"
	"github.com/open-course/opencourse-lms/internal/catalog"
	"github.com/open-course/opencourse-lms/internal/grading"
)

// Service drives the enrollment and submission lifecycle and invokes the
// grading engine. It is the only writer of course aggregates.
type Service struct {
	store   Store
	courses catalog.Store
	engine  *grading.Engine
	events  audit.Recorder
}

func NewService(store Store, courses catalog.Store, engine *grading.Engine, events audit.Recorder) *Service {
	return &Service{store: store, courses: courses, engine: engine, events: events}
}

func validMode(mode string) bool {
	switch mode {
	case ModeAudit, ModeHonor, ModeBeta, ModeVerified:
		return true
	}
	return false
}

func (s *Service) RecordEnrollment(ctx context.Context, courseID, userID, mode string) (Enrollment, error) {
	if mode == "" {
		mode = ModeAudit
	}
	if !validMode(mode) {
		return Enrollment{}, fmt.Errorf("unknown enrollment mode %q", mode)
	}
	if _, err := s.courses.GetCourse(ctx, courseID); err != nil {
		return Enrollment{}, err
	}
	e := Enrollment{
		ID:       uuid.NewString(),
		UserID:   userID,
		CourseID: courseID,
		Mode:     mode,
	}
	if err := s.store.CreateEnrollment(ctx, e); err != nil {
		return Enrollment{}, err
	}
	created, err := s.store.GetEnrollment(ctx, e.ID)
	if err != nil {
		return Enrollment{}, err
	}
	audit.Record(ctx, s.events, audit.EventEnrollmentCreated, created.ID,
		map[string]string{"user_id": userID, "course_id": courseID, "mode": mode})
	return created, nil
}

func (s *Service) RemoveEnrollment(ctx context.Context, enrollmentID string) error {
	e, err := s.store.GetEnrollment(ctx, enrollmentID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteEnrollment(ctx, enrollmentID); err != nil {
		return err
	}
	audit.Record(ctx, s.events, audit.EventEnrollmentRemoved, enrollmentID,
		map[string]string{"user_id": e.UserID, "course_id": e.CourseID})
	return nil
}

func (s *Service) SetRating(ctx context.Context, enrollmentID string, rating float64) error {
	if rating < 0 || rating > 5 {
		return ErrInvalidRating
	}
	e, err := s.store.GetEnrollment(ctx, enrollmentID)
	if err != nil {
		return err
	}
	if err := s.store.SetRating(ctx, enrollmentID, rating); err != nil {
		return err
	}
	audit.Record(ctx, s.events, audit.EventRatingChanged, enrollmentID,
		map[string]any{"course_id": e.CourseID, "rating": rating})
	return nil
}

func (s *Service) GetEnrollment(ctx context.Context, enrollmentID string) (Enrollment, error) {
	return s.store.GetEnrollment(ctx, enrollmentID)
}

func (s *Service) FindEnrollment(ctx context.Context, userID, courseID string) (Enrollment, error) {
	return s.store.FindEnrollment(ctx, userID, courseID)
}

// CourseStats reads the committed aggregate values.
func (s *Service) CourseStats(ctx context.Context, courseID string) (Aggregates, error) {
	if _, err := s.courses.GetCourse(ctx, courseID); err != nil {
		return Aggregates{}, err
	}
	return s.store.CourseAggregates(ctx, courseID)
}

// StartSubmission opens a fresh attempt for the enrollment. Retakes
// always produce a new submission; open attempts are never reused.
func (s *Service) StartSubmission(ctx context.Context, enrollmentID string) (Submission, error) {
	if _, err := s.store.GetEnrollment(ctx, enrollmentID); err != nil {
		return Submission{}, err
	}
	sub := Submission{
		ID:           uuid.NewString(),
		EnrollmentID: enrollmentID,
		Selections:   map[string][]string{},
	}
	if err := s.store.CreateSubmission(ctx, sub); err != nil {
		return Submission{}, err
	}
	return s.store.GetSubmission(ctx, sub.ID)
}

func (s *Service) SaveSelections(ctx context.Context, submissionID string, selections map[string][]string) (Submission, error) {
	return s.store.SaveSelections(ctx, submissionID, selections)
}

func (s *Service) GetSubmission(ctx context.Context, submissionID string) (Submission, error) {
	return s.store.GetSubmission(ctx, submissionID)
}

func (s *Service) ListSubmissions(ctx context.Context, enrollmentID string) ([]Submission, error) {
	return s.store.ListSubmissions(ctx, enrollmentID)
}

// Submit grades the submission against the course's current question set
// and records the score exactly once. Submitting an already graded
// submission returns the stored result unchanged, so the call is
// idempotent from the caller's point of view.
func (s *Service) Submit(ctx context.Context, submissionID string) (Submission, error) {
	sub, err := s.store.GetSubmission(ctx, submissionID)
	if err != nil {
		return Submission{}, err
	}
	if sub.Graded() {
		return sub, nil
	}
	e, err := s.store.GetEnrollment(ctx, sub.EnrollmentID)
	if err != nil {
		return Submission{}, err
	}
	questions, err := s.courses.CourseQuestions(ctx, e.CourseID)
	if err != nil {
		return Submission{}, err
	}
	res, err := s.engine.Grade(questions, sub.Selections)
	if err != nil {
		// MalformedSubmission: no score is written
		return Submission{}, err
	}
	graded, err := s.store.MarkGraded(ctx, submissionID, res)
	if errors.Is(err, ErrSubmissionGraded) {
		// lost the race against a concurrent submit; the stored score wins
		return s.store.GetSubmission(ctx, submissionID)
	}
	if err != nil {
		return Submission{}, err
	}
	audit.Record(ctx, s.events, audit.EventSubmissionGraded, submissionID,
		map[string]any{"enrollment_id": sub.EnrollmentID, "total": res.TotalPoints, "max": res.MaxPoints})
	return graded, nil
}

// Progress approximates course completion for an enrollment as the share
// of course questions answered across all of its submissions.
func (s *Service) Progress(ctx context.Context, enrollmentID string) (int, error) {
	e, err := s.store.GetEnrollment(ctx, enrollmentID)
	if err != nil {
		return 0, err
	}
	questions, err := s.courses.CourseQuestions(ctx, e.CourseID)
	if err != nil {
		return 0, err
	}
	if len(questions) == 0 {
		return 0, nil
	}
	subs, err := s.store.ListSubmissions(ctx, enrollmentID)
	if err != nil {
		return 0, err
	}
	answered := map[string]struct{}{}
	for _, sub := range subs {
		for qid, choices := range sub.Selections {
			if len(choices) > 0 {
				answered[qid] = struct{}{}
			}
		}
	}
	// only count questions that still exist on the course
	n := 0
	for _, q := range questions {
		if _, ok := answered[q.ID]; ok {
			n++
		}
	}
	return n * 100 / len(questions), nil
}
