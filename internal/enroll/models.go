package enroll

import (
	"errors"

	"github.com/open-course/opencourse-lms/internal/catalog"
	"github.com/open-course/opencourse-lms/internal/grading"
)

// Enrollment modes, mirroring the access tiers a deployment may sell.
const (
	ModeAudit    = "audit"
	ModeHonor    = "honor"
	ModeBeta     = "beta"
	ModeVerified = "verified"
)

// Submission states. A submission starts open, is graded exactly once,
// and never transitions back.
const (
	StatusOpen   = "open"
	StatusGraded = "graded"
)

var (
	ErrDuplicateEnrollment = errors.New("enrollment already exists for user and course")
	ErrEnrollmentNotFound  = errors.New("enrollment not found")
	ErrSubmissionNotFound  = errors.New("submission not found")
	ErrSubmissionGraded    = errors.New("submission already graded")
	ErrInvalidRating       = errors.New("rating must be between 0 and 5")
)

type Enrollment struct {
	ID         string   `json:"id"`
	UserID     string   `json:"user_id"`
	CourseID   string   `json:"course_id"`
	Mode       string   `json:"mode"`
	Rating     *float64 `json:"rating,omitempty"`
	EnrolledAt int64    `json:"enrolled_at"`
	catalog.Timestamps
}

type Submission struct {
	ID           string              `json:"id"`
	EnrollmentID string              `json:"enrollment_id"`
	Status       string              `json:"status"`
	Selections   map[string][]string `json:"selections"` // questionID -> selected choice IDs
	TotalScore   float64             `json:"total_score"`
	MaxScore     float64             `json:"max_score"`
	Result       *grading.Result     `json:"result,omitempty"` // set once graded
	CreatedAt    int64               `json:"created_at"`
	GradedAt     int64               `json:"graded_at,omitempty"`
}

func (s Submission) Graded() bool { return s.Status == StatusGraded }

// Aggregates are the denormalized course-level statistics whose source
// of truth is the enrollment set.
type Aggregates struct {
	CourseID        string  `json:"course_id"`
	TotalEnrollment int     `json:"total_enrollment"`
	AverageRating   float64 `json:"average_rating"` // over rated enrollments; 0 when none
	RatedCount      int     `json:"rated_count"`
}
