package enroll

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/open-course/opencourse-lms/internal/grading"
)

// memoryStore keeps everything behind one mutex, which also serializes
// the per-course aggregate read-modify-write.
type memoryStore struct {
	mu          sync.RWMutex
	enrollments map[string]Enrollment
	byUserCrs   map[string]string // userID|courseID -> enrollmentID
	aggregates  map[string]Aggregates
	submissions map[string]Submission
}

func NewInMemoryStore() Store {
	return &memoryStore{
		enrollments: map[string]Enrollment{},
		byUserCrs:   map[string]string{},
		aggregates:  map[string]Aggregates{},
		submissions: map[string]Submission{},
	}
}

func pairKey(userID, courseID string) string { return userID + "|" + courseID }

func (m *memoryStore) CreateEnrollment(_ context.Context, e Enrollment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byUserCrs[pairKey(e.UserID, e.CourseID)]; ok {
		return ErrDuplicateEnrollment
	}
	now := time.Now().Unix()
	e.CreatedAt = now
	e.UpdatedAt = now
	if e.EnrolledAt == 0 {
		e.EnrolledAt = now
	}
	m.enrollments[e.ID] = e
	m.byUserCrs[pairKey(e.UserID, e.CourseID)] = e.ID

	agg := m.aggregates[e.CourseID]
	agg.CourseID = e.CourseID
	agg.TotalEnrollment++
	m.refreshAverageLocked(&agg)
	m.aggregates[e.CourseID] = agg
	return nil
}

func (m *memoryStore) GetEnrollment(_ context.Context, id string) (Enrollment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.enrollments[id]
	if !ok {
		return Enrollment{}, ErrEnrollmentNotFound
	}
	return e, nil
}

func (m *memoryStore) FindEnrollment(_ context.Context, userID, courseID string) (Enrollment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byUserCrs[pairKey(userID, courseID)]
	if !ok {
		return Enrollment{}, ErrEnrollmentNotFound
	}
	return m.enrollments[id], nil
}

func (m *memoryStore) DeleteEnrollment(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.enrollments[id]
	if !ok {
		return ErrEnrollmentNotFound
	}
	delete(m.enrollments, id)
	delete(m.byUserCrs, pairKey(e.UserID, e.CourseID))
	for sid, s := range m.submissions {
		if s.EnrollmentID == id {
			delete(m.submissions, sid)
		}
	}

	agg := m.aggregates[e.CourseID]
	if agg.TotalEnrollment > 0 {
		agg.TotalEnrollment--
	}
	m.refreshAverageLocked(&agg)
	m.aggregates[e.CourseID] = agg
	return nil
}

func (m *memoryStore) SetRating(_ context.Context, id string, rating float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.enrollments[id]
	if !ok {
		return ErrEnrollmentNotFound
	}
	e.Rating = &rating
	e.UpdatedAt = time.Now().Unix()
	m.enrollments[id] = e

	agg := m.aggregates[e.CourseID]
	agg.CourseID = e.CourseID
	m.refreshAverageLocked(&agg)
	m.aggregates[e.CourseID] = agg
	return nil
}

func (m *memoryStore) ListCourseEnrollments(_ context.Context, courseID string) ([]Enrollment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Enrollment
	for _, e := range m.enrollments {
		if e.CourseID == courseID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EnrolledAt > out[j].EnrolledAt })
	return out, nil
}

func (m *memoryStore) CourseAggregates(_ context.Context, courseID string) (Aggregates, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	agg, ok := m.aggregates[courseID]
	if !ok {
		return Aggregates{CourseID: courseID}, nil
	}
	return agg, nil
}

func (m *memoryStore) RecomputeAggregates(_ context.Context, courseID string) (Aggregates, Aggregates, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.aggregates[courseID]
	if !ok {
		stored = Aggregates{CourseID: courseID}
	}
	actual := Aggregates{CourseID: courseID}
	for _, e := range m.enrollments {
		if e.CourseID != courseID {
			continue
		}
		actual.TotalEnrollment++
		if e.Rating != nil {
			actual.RatedCount++
			actual.AverageRating += *e.Rating
		}
	}
	if actual.RatedCount > 0 {
		actual.AverageRating /= float64(actual.RatedCount)
	}
	drifted := stored.TotalEnrollment != actual.TotalEnrollment ||
		math.Abs(stored.AverageRating-actual.AverageRating) > 1e-9
	m.aggregates[courseID] = actual
	return stored, actual, drifted, nil
}

func (m *memoryStore) CourseIDs(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.aggregates))
	for id := range m.aggregates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// refreshAverageLocked recomputes the rated-only average for agg's course.
// Caller holds the write lock.
func (m *memoryStore) refreshAverageLocked(agg *Aggregates) {
	sum := 0.0
	n := 0
	for _, e := range m.enrollments {
		if e.CourseID == agg.CourseID && e.Rating != nil {
			sum += *e.Rating
			n++
		}
	}
	agg.RatedCount = n
	if n == 0 {
		agg.AverageRating = 0
		return
	}
	agg.AverageRating = sum / float64(n)
}

func (m *memoryStore) CreateSubmission(_ context.Context, s Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.enrollments[s.EnrollmentID]; !ok {
		return ErrEnrollmentNotFound
	}
	if s.CreatedAt == 0 {
		s.CreatedAt = time.Now().Unix()
	}
	if s.Selections == nil {
		s.Selections = map[string][]string{}
	}
	s.Status = StatusOpen
	m.submissions[s.ID] = s
	return nil
}

func (m *memoryStore) GetSubmission(_ context.Context, id string) (Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.submissions[id]
	if !ok {
		return Submission{}, ErrSubmissionNotFound
	}
	return s, nil
}

func (m *memoryStore) SaveSelections(_ context.Context, id string, selections map[string][]string) (Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.submissions[id]
	if !ok {
		return Submission{}, ErrSubmissionNotFound
	}
	if s.Graded() {
		return Submission{}, ErrSubmissionGraded
	}
	for qid, choices := range selections {
		s.Selections[qid] = append([]string(nil), choices...)
	}
	m.submissions[id] = s
	return s, nil
}

func (m *memoryStore) MarkGraded(_ context.Context, id string, res grading.Result) (Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.submissions[id]
	if !ok {
		return Submission{}, ErrSubmissionNotFound
	}
	if s.Graded() {
		return Submission{}, ErrSubmissionGraded
	}
	s.Status = StatusGraded
	s.TotalScore = res.TotalPoints
	s.MaxScore = res.MaxPoints
	s.Result = &res
	s.GradedAt = time.Now().Unix()
	m.submissions[id] = s
	return s, nil
}

func (m *memoryStore) ListSubmissions(_ context.Context, enrollmentID string) ([]Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Submission
	for _, s := range m.submissions {
		if s.EnrollmentID == enrollmentID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt > out[j].CreatedAt
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}
