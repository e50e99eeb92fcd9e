package grading

import (
	"errors"
	"reflect"
	"testing"

	"github.com/open-course/opencourse-lms/internal/catalog"
)

func mkQuestion(id string, points float64, correct []string, incorrect []string) catalog.Question {
	q := catalog.Question{ID: id, Points: points}
	for _, cid := range correct {
		q.Choices = append(q.Choices, catalog.Choice{ID: cid, QuestionID: id, IsCorrect: true})
	}
	for _, cid := range incorrect {
		q.Choices = append(q.Choices, catalog.Choice{ID: cid, QuestionID: id})
	}
	return q
}

func TestGradeExactMatchOnly(t *testing.T) {
	// 10-point question, correct choices {A, C}, distractor B
	qs := []catalog.Question{mkQuestion("q1", 10, []string{"A", "C"}, []string{"B"})}
	e := NewEngine()

	cases := []struct {
		name     string
		selected []string
		earned   float64
		correct  bool
	}{
		{"exact", []string{"A", "C"}, 10, true},
		{"order insensitive", []string{"C", "A"}, 10, true},
		{"missing one", []string{"A"}, 0, false},
		{"superset", []string{"A", "B", "C"}, 0, false},
		{"wrong only", []string{"B"}, 0, false},
		{"nothing selected", nil, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := e.Grade(qs, map[string][]string{"q1": tc.selected})
			if err != nil {
				t.Fatalf("grade: %v", err)
			}
			if res.TotalPoints != tc.earned {
				t.Fatalf("total = %v, want %v", res.TotalPoints, tc.earned)
			}
			if len(res.PerQuestion) != 1 || res.PerQuestion[0].Correct != tc.correct {
				t.Fatalf("per-question correct = %v, want %v", res.PerQuestion, tc.correct)
			}
		})
	}
}

func TestGradeSumAndPercentage(t *testing.T) {
	qs := []catalog.Question{
		mkQuestion("q1", 10, []string{"a"}, []string{"b"}),
		mkQuestion("q2", 5, []string{"c", "d"}, nil),
		mkQuestion("q3", 5, []string{"e"}, []string{"f"}),
	}
	sel := map[string][]string{
		"q1": {"a"},
		"q2": {"c"}, // incomplete
		"q3": {"e"},
	}
	res, err := NewEngine().Grade(qs, sel)
	if err != nil {
		t.Fatalf("grade: %v", err)
	}
	sum := 0.0
	for _, qr := range res.PerQuestion {
		sum += qr.Earned
	}
	if res.TotalPoints != sum {
		t.Fatalf("total %v != per-question sum %v", res.TotalPoints, sum)
	}
	if res.TotalPoints != 15 || res.MaxPoints != 20 {
		t.Fatalf("got %v/%v, want 15/20", res.TotalPoints, res.MaxPoints)
	}
	if res.Percentage == nil || *res.Percentage != 75 {
		t.Fatalf("percentage = %v, want 75", res.Percentage)
	}
}

func TestGradeIdempotent(t *testing.T) {
	qs := []catalog.Question{
		mkQuestion("q1", 3, []string{"a", "b"}, []string{"c"}),
		mkQuestion("q2", 7, []string{"d"}, nil),
	}
	sel := map[string][]string{"q1": {"b", "a"}, "q2": {"d"}}
	e := NewEngine()
	first, err := e.Grade(qs, sel)
	if err != nil {
		t.Fatalf("grade: %v", err)
	}
	second, err := e.Grade(qs, sel)
	if err != nil {
		t.Fatalf("regrade: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("regrade differs: %+v vs %+v", first, second)
	}
}

func TestGradeUngradableQuestion(t *testing.T) {
	// no correct choice configured: contributes zero regardless of selection
	qs := []catalog.Question{mkQuestion("q1", 10, nil, []string{"a", "b"})}
	for _, sel := range []map[string][]string{
		{},
		{"q1": {}},
		{"q1": {"a"}},
		{"q1": {"a", "b"}},
	} {
		res, err := NewEngine().Grade(qs, sel)
		if err != nil {
			t.Fatalf("grade: %v", err)
		}
		if res.TotalPoints != 0 || res.PerQuestion[0].Correct {
			t.Fatalf("ungradable question awarded points: %+v", res)
		}
	}
}

func TestGradeZeroMaxPointsPercentageUndefined(t *testing.T) {
	qs := []catalog.Question{mkQuestion("q1", 0, []string{"a"}, nil)}
	res, err := NewEngine().Grade(qs, map[string][]string{"q1": {"a"}})
	if err != nil {
		t.Fatalf("grade: %v", err)
	}
	if res.Percentage != nil {
		t.Fatalf("percentage should be undefined when max is 0, got %v", *res.Percentage)
	}
	if !res.PerQuestion[0].Correct {
		t.Fatalf("zero-point question should still be marked correct")
	}
}

func TestGradeEmptyQuestionSet(t *testing.T) {
	res, err := NewEngine().Grade(nil, nil)
	if err != nil {
		t.Fatalf("grade: %v", err)
	}
	if res.TotalPoints != 0 || res.MaxPoints != 0 || res.Percentage != nil {
		t.Fatalf("unexpected result for empty set: %+v", res)
	}
}

func TestGradeMalformedSubmission(t *testing.T) {
	qs := []catalog.Question{mkQuestion("q1", 10, []string{"a"}, []string{"b"})}
	e := NewEngine()

	// unknown question
	_, err := e.Grade(qs, map[string][]string{"q9": {"a"}})
	var malformed *MalformedSubmission
	if !errors.As(err, &malformed) {
		t.Fatalf("want MalformedSubmission for unknown question, got %v", err)
	}

	// choice from another question
	_, err = e.Grade(qs, map[string][]string{"q1": {"zz"}})
	if !errors.As(err, &malformed) {
		t.Fatalf("want MalformedSubmission for foreign choice, got %v", err)
	}
}
