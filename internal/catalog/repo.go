package catalog

import (
	"context"
	"errors"
)

var (
	ErrCourseNotFound   = errors.New("course not found")
	ErrQuestionNotFound = errors.New("question not found")
	ErrChoiceNotFound   = errors.New("choice not found")
)

type ListOpts struct {
	Q          string // name substring filter
	ActiveOnly bool
	Limit      int
	Offset     int
}

// Store is the authoring-side persistence contract. Aggregate fields on
// Course (total_enrollment, average_rating) are read through here but
// written only by the enroll package.
type Store interface {
	PutCourse(ctx context.Context, c Course) error
	GetCourse(ctx context.Context, id string) (Course, error)
	ListCourses(ctx context.Context, opts ListOpts) ([]CourseSummary, error)
	DeleteCourse(ctx context.Context, id string) error
	SetCourseImage(ctx context.Context, id, imageKey string) error

	PutQuestion(ctx context.Context, q Question) error
	GetQuestion(ctx context.Context, id string) (Question, error)
	// CourseQuestions returns all questions for a course with their
	// choices attached, correctness flags included.
	CourseQuestions(ctx context.Context, courseID string) ([]Question, error)
	DeleteQuestion(ctx context.Context, id string) error

	PutChoice(ctx context.Context, c Choice) error
	DeleteChoice(ctx context.Context, id string) error
}

// MaxPoints sums the point values of a course's questions.
func MaxPoints(qs []Question) float64 {
	total := 0.0
	for _, q := range qs {
		total += q.Points
	}
	return total
}

// StripAnswers removes correctness flags before serving questions to
// learners.
func StripAnswers(qs []Question) []Question {
	out := make([]Question, len(qs))
	for i, q := range qs {
		cq := q
		cq.Choices = make([]Choice, len(q.Choices))
		for j, c := range q.Choices {
			cc := c
			cc.IsCorrect = false
			cq.Choices[j] = cc
		}
		out[i] = cq
	}
	return out
}
