package catalog

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

type memoryStore struct {
	mu        sync.RWMutex
	courses   map[string]Course
	questions map[string]Question // choices embedded
}

// NewInMemoryStore is used in offline/dev wiring and by tests.
func NewInMemoryStore() Store {
	return &memoryStore{
		courses:   map[string]Course{},
		questions: map[string]Question{},
	}
}

func (m *memoryStore) PutCourse(_ context.Context, c Course) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().Unix()
	if prev, ok := m.courses[c.ID]; ok {
		c.CreatedAt = prev.CreatedAt
		// aggregates are owned by the enroll side; keep them on edits
		c.TotalEnrollment = prev.TotalEnrollment
		c.AverageRating = prev.AverageRating
	} else {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	m.courses[c.ID] = c
	return nil
}

func (m *memoryStore) GetCourse(_ context.Context, id string) (Course, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.courses[id]
	if !ok {
		return Course{}, ErrCourseNotFound
	}
	return c, nil
}

func (m *memoryStore) ListCourses(_ context.Context, opts ListOpts) ([]CourseSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []CourseSummary
	for _, c := range m.courses {
		if opts.ActiveOnly && !c.IsActive {
			continue
		}
		if opts.Q != "" && !strings.Contains(strings.ToLower(c.Name), strings.ToLower(opts.Q)) {
			continue
		}
		out = append(out, CourseSummary{ID: c.ID, Name: c.Name, TotalEnrollment: c.TotalEnrollment, AverageRating: c.AverageRating})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (m *memoryStore) DeleteCourse(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.courses[id]; !ok {
		return ErrCourseNotFound
	}
	delete(m.courses, id)
	for qid, q := range m.questions {
		if q.CourseID == id {
			delete(m.questions, qid)
		}
	}
	return nil
}

func (m *memoryStore) SetCourseImage(_ context.Context, id, imageKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.courses[id]
	if !ok {
		return ErrCourseNotFound
	}
	c.ImageKey = imageKey
	c.UpdatedAt = time.Now().Unix()
	m.courses[id] = c
	return nil
}

func (m *memoryStore) PutQuestion(_ context.Context, q Question) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.courses[q.CourseID]; !ok {
		return ErrCourseNotFound
	}
	now := time.Now().Unix()
	if prev, ok := m.questions[q.ID]; ok {
		q.CreatedAt = prev.CreatedAt
		if q.Choices == nil {
			q.Choices = prev.Choices
		}
	} else {
		q.CreatedAt = now
	}
	q.UpdatedAt = now
	m.questions[q.ID] = q
	return nil
}

func (m *memoryStore) GetQuestion(_ context.Context, id string) (Question, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.questions[id]
	if !ok {
		return Question{}, ErrQuestionNotFound
	}
	return q, nil
}

func (m *memoryStore) CourseQuestions(_ context.Context, courseID string) ([]Question, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.courses[courseID]; !ok {
		return nil, ErrCourseNotFound
	}
	var out []Question
	for _, q := range m.questions {
		if q.CourseID == courseID {
			out = append(out, q)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt || (out[i].CreatedAt == out[j].CreatedAt && out[i].ID < out[j].ID) })
	return out, nil
}

func (m *memoryStore) DeleteQuestion(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.questions[id]; !ok {
		return ErrQuestionNotFound
	}
	// choices are embedded, so the cascade is implicit here
	delete(m.questions, id)
	return nil
}

func (m *memoryStore) PutChoice(_ context.Context, c Choice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.questions[c.QuestionID]
	if !ok {
		return ErrQuestionNotFound
	}
	now := time.Now().Unix()
	for i, existing := range q.Choices {
		if existing.ID == c.ID {
			c.CreatedAt = existing.CreatedAt
			c.UpdatedAt = now
			q.Choices[i] = c
			m.questions[c.QuestionID] = q
			return nil
		}
	}
	c.CreatedAt = now
	c.UpdatedAt = now
	q.Choices = append(q.Choices, c)
	m.questions[c.QuestionID] = q
	return nil
}

func (m *memoryStore) DeleteChoice(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for qid, q := range m.questions {
		for i, c := range q.Choices {
			if c.ID == id {
				q.Choices = append(q.Choices[:i], q.Choices[i+1:]...)
				m.questions[qid] = q
				return nil
			}
		}
	}
	return ErrChoiceNotFound
}
