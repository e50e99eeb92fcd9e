package grading

import (
	"fmt"

	"github.com/open-course/opencourse-lms/internal/catalog"
)

// MalformedSubmission reports selection data that references questions or
// choices outside the graded question set. Grading aborts; no partial
// result is produced.
type MalformedSubmission struct {
	Reason string
}

func (e *MalformedSubmission) Error() string {
	return "malformed submission: " + e.Reason
}

// QuestionResult is the per-question breakdown returned to callers for
// result display.
type QuestionResult struct {
	QuestionID string  `json:"question_id"`
	Earned     float64 `json:"earned"`
	MaxPoints  float64 `json:"max_points"`
	Correct    bool    `json:"correct"`
}

type Result struct {
	TotalPoints float64          `json:"total_points"`
	MaxPoints   float64          `json:"max_points"`
	// Percentage is nil when MaxPoints is zero (undefined, not 0).
	Percentage  *float64         `json:"percentage,omitempty"`
	PerQuestion []QuestionResult `json:"per_question"`
}

// Engine scores a fixed question set against a learner's selections.
// Scoring is strict all-or-nothing: a question earns its full point value
// iff the selected choice set equals the configured correct set exactly.
type Engine struct{}

func NewEngine() *Engine { return &Engine{} }

// Grade is a pure function of the question set and the selections; it
// touches no store and mutates nothing, so regrading the same inputs
// always yields the same result.
func (e *Engine) Grade(questions []catalog.Question, selections map[string][]string) (Result, error) {
	byID := make(map[string]catalog.Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}
	for qid, choiceIDs := range selections {
		q, ok := byID[qid]
		if !ok {
			return Result{}, &MalformedSubmission{Reason: fmt.Sprintf("unknown question %q", qid)}
		}
		valid := toSet(choiceIDList(q))
		for _, cid := range choiceIDs {
			if _, ok := valid[cid]; !ok {
				return Result{}, &MalformedSubmission{Reason: fmt.Sprintf("choice %q does not belong to question %q", cid, qid)}
			}
		}
	}

	res := Result{PerQuestion: make([]QuestionResult, 0, len(questions))}
	for _, q := range questions {
		qr := QuestionResult{QuestionID: q.ID, MaxPoints: q.Points}
		correct := toSet(q.CorrectChoiceIDs())
		selected := toSet(selections[q.ID])
		// A question with no correct choice configured is an authoring
		// error; it is ungradable and never awards points.
		if len(correct) > 0 && setEqual(correct, selected) {
			qr.Correct = true
			qr.Earned = q.Points
		}
		res.TotalPoints += qr.Earned
		res.MaxPoints += q.Points
		res.PerQuestion = append(res.PerQuestion, qr)
	}
	if res.MaxPoints > 0 {
		pct := res.TotalPoints / res.MaxPoints * 100
		res.Percentage = &pct
	}
	return res, nil
}

func choiceIDList(q catalog.Question) []string {
	out := make([]string, 0, len(q.Choices))
	for _, c := range q.Choices {
		out = append(out, c.ID)
	}
	return out
}

func toSet(arr []string) map[string]struct{} {
	m := make(map[string]struct{}, len(arr))
	for _, s := range arr {
		m[s] = struct{}{}
	}
	return m
}

func setEqual(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}
