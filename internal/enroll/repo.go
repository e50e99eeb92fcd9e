package enroll

import (
	"context"

	"github.com/open-course/opencourse-lms/internal/grading"
)

// Store is the persistence contract for enrollments, submissions, and
// course aggregates.
//
// Aggregate contract: CreateEnrollment, DeleteEnrollment, and SetRating
// each leave the course's cached total_enrollment and average_rating
// equal to a recomputation over the enrollment set, and concurrent calls
// against the same course must serialize their read-modify-write (the
// SQL store uses one transaction per mutation with an atomic counter
// update; the memory store a mutex).
type Store interface {
	CreateEnrollment(ctx context.Context, e Enrollment) error
	GetEnrollment(ctx context.Context, id string) (Enrollment, error)
	FindEnrollment(ctx context.Context, userID, courseID string) (Enrollment, error)
	DeleteEnrollment(ctx context.Context, id string) error
	SetRating(ctx context.Context, id string, rating float64) error
	ListCourseEnrollments(ctx context.Context, courseID string) ([]Enrollment, error)

	// CourseAggregates returns the cached aggregate values as committed;
	// callers never observe an in-flight update.
	CourseAggregates(ctx context.Context, courseID string) (Aggregates, error)
	// RecomputeAggregates rebuilds the cached values from the enrollment
	// set and reports whether the cache had drifted.
	RecomputeAggregates(ctx context.Context, courseID string) (stored, actual Aggregates, drifted bool, err error)
	CourseIDs(ctx context.Context) ([]string, error)

	CreateSubmission(ctx context.Context, s Submission) error
	GetSubmission(ctx context.Context, id string) (Submission, error)
	SaveSelections(ctx context.Context, id string, selections map[string][]string) (Submission, error)
	// MarkGraded records the grading result exactly once; a second call
	// for the same submission returns ErrSubmissionGraded.
	MarkGraded(ctx context.Context, id string, res grading.Result) (Submission, error)
	ListSubmissions(ctx context.Context, enrollmentID string) ([]Submission, error)
}
