package catalog

// Timestamps carries the shared audit fields embedded in every entity.
type Timestamps struct {
	CreatedAt int64 `json:"created_at,omitempty"`
	UpdatedAt int64 `json:"updated_at,omitempty"`
}

type Choice struct {
	ID         string `json:"id"`
	QuestionID string `json:"question_id"`
	Text       string `json:"text"`
	IsCorrect  bool   `json:"is_correct,omitempty"` // stripped when serving learners
	Timestamps
}

type Question struct {
	ID       string   `json:"id"`
	CourseID string   `json:"course_id"`
	Text     string   `json:"text"`
	Points   float64  `json:"points"`
	Choices  []Choice `json:"choices,omitempty"`
	Timestamps
}

// CorrectChoiceIDs returns the IDs of choices flagged correct.
func (q Question) CorrectChoiceIDs() []string {
	var out []string
	for _, c := range q.Choices {
		if c.IsCorrect {
			out = append(out, c.ID)
		}
	}
	return out
}

// Gradable reports whether the question has at least one correct choice
// configured. Ungradable questions contribute zero points regardless of
// what the learner selects.
func (q Question) Gradable() bool {
	for _, c := range q.Choices {
		if c.IsCorrect {
			return true
		}
	}
	return false
}

type Course struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	ImageKey    string `json:"image_key,omitempty"`
	PubDate     int64  `json:"pub_date,omitempty"` // unix; zero means unpublished
	IsActive    bool   `json:"is_active"`

	// Denormalized aggregates. Source of truth is the enrollment set;
	// maintained by the enroll package under its consistency contract.
	TotalEnrollment int     `json:"total_enrollment"`
	AverageRating   float64 `json:"average_rating"`

	Timestamps
}

// Published reports whether the course is visible to learners at ts.
func (c Course) Published(ts int64) bool {
	return c.PubDate > 0 && c.PubDate <= ts
}

type CourseSummary struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	TotalEnrollment int     `json:"total_enrollment"`
	AverageRating   float64 `json:"average_rating"`
}
