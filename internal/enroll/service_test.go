package enroll

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/open-course/opencourse-lms/internal/audit"
	"github.com/open-course/opencourse-lms/internal/catalog"
	"github.com/open-course/opencourse-lms/internal/grading"
)

func newTestService(t *testing.T) (*Service, catalog.Store, *memoryStore, *audit.MemoryLog) {
	t.Helper()
	courses := catalog.NewInMemoryStore()
	store := NewInMemoryStore().(*memoryStore)
	events := audit.NewMemoryLog()
	svc := NewService(store, courses, grading.NewEngine(), events)
	return svc, courses, store, events
}

func seedCourse(t *testing.T, courses catalog.Store, id string) {
	t.Helper()
	if err := courses.PutCourse(context.Background(), catalog.Course{ID: id, Name: "Course " + id, IsActive: true}); err != nil {
		t.Fatalf("seed course: %v", err)
	}
}

func seedExamQuestion(t *testing.T, courses catalog.Store, courseID, qid string, points float64, correct, incorrect []string) {
	t.Helper()
	ctx := context.Background()
	if err := courses.PutQuestion(ctx, catalog.Question{ID: qid, CourseID: courseID, Text: "q", Points: points}); err != nil {
		t.Fatalf("seed question: %v", err)
	}
	for _, cid := range correct {
		if err := courses.PutChoice(ctx, catalog.Choice{ID: cid, QuestionID: qid, Text: cid, IsCorrect: true}); err != nil {
			t.Fatalf("seed choice: %v", err)
		}
	}
	for _, cid := range incorrect {
		if err := courses.PutChoice(ctx, catalog.Choice{ID: cid, QuestionID: qid, Text: cid}); err != nil {
			t.Fatalf("seed choice: %v", err)
		}
	}
}

func TestEnrollmentAggregates(t *testing.T) {
	svc, courses, _, _ := newTestService(t)
	ctx := context.Background()
	seedCourse(t, courses, "c1")

	// three learners enroll: ratings 4, 5, and none
	e1, err := svc.RecordEnrollment(ctx, "c1", "alice", ModeHonor)
	if err != nil {
		t.Fatalf("enroll alice: %v", err)
	}
	e2, err := svc.RecordEnrollment(ctx, "c1", "bob", "")
	if err != nil {
		t.Fatalf("enroll bob: %v", err)
	}
	if _, err := svc.RecordEnrollment(ctx, "c1", "carol", ModeAudit); err != nil {
		t.Fatalf("enroll carol: %v", err)
	}
	if err := svc.SetRating(ctx, e1.ID, 4); err != nil {
		t.Fatalf("rate e1: %v", err)
	}
	if err := svc.SetRating(ctx, e2.ID, 5); err != nil {
		t.Fatalf("rate e2: %v", err)
	}

	agg, err := svc.CourseStats(ctx, "c1")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if agg.TotalEnrollment != 3 || agg.AverageRating != 4.5 || agg.RatedCount != 2 {
		t.Fatalf("after enrolls: %+v, want total=3 avg=4.5 rated=2", agg)
	}

	// the rating-4 learner unenrolls
	if err := svc.RemoveEnrollment(ctx, e1.ID); err != nil {
		t.Fatalf("unenroll: %v", err)
	}
	agg, err = svc.CourseStats(ctx, "c1")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if agg.TotalEnrollment != 2 || agg.AverageRating != 5.0 {
		t.Fatalf("after unenroll: %+v, want total=2 avg=5.0", agg)
	}
}

func TestDuplicateEnrollmentRejected(t *testing.T) {
	svc, courses, _, _ := newTestService(t)
	ctx := context.Background()
	seedCourse(t, courses, "c1")

	if _, err := svc.RecordEnrollment(ctx, "c1", "alice", ""); err != nil {
		t.Fatalf("first enroll: %v", err)
	}
	_, err := svc.RecordEnrollment(ctx, "c1", "alice", "")
	if !errors.Is(err, ErrDuplicateEnrollment) {
		t.Fatalf("want ErrDuplicateEnrollment, got %v", err)
	}
	// rejection must not touch the aggregate
	agg, _ := svc.CourseStats(ctx, "c1")
	if agg.TotalEnrollment != 1 {
		t.Fatalf("total = %d after rejected duplicate, want 1", agg.TotalEnrollment)
	}
}

func TestRatingValidation(t *testing.T) {
	svc, courses, _, _ := newTestService(t)
	ctx := context.Background()
	seedCourse(t, courses, "c1")
	e, _ := svc.RecordEnrollment(ctx, "c1", "alice", "")
	for _, bad := range []float64{-1, 5.5, 100} {
		if err := svc.SetRating(ctx, e.ID, bad); !errors.Is(err, ErrInvalidRating) {
			t.Fatalf("rating %v: want ErrInvalidRating, got %v", bad, err)
		}
	}
}

func TestConcurrentEnrollNoLostUpdates(t *testing.T) {
	svc, courses, _, _ := newTestService(t)
	ctx := context.Background()
	seedCourse(t, courses, "c1")

	const n = 64
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := svc.RecordEnrollment(ctx, "c1", fmt.Sprintf("user-%d", i), ""); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("enroll failed: %v", err)
	}

	agg, err := svc.CourseStats(ctx, "c1")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if agg.TotalEnrollment != n {
		t.Fatalf("total = %d, want %d", agg.TotalEnrollment, n)
	}
	list, _ := svc.store.ListCourseEnrollments(ctx, "c1")
	if len(list) != n {
		t.Fatalf("live count = %d, want %d", len(list), n)
	}
}

func TestSubmissionLifecycle(t *testing.T) {
	svc, courses, _, events := newTestService(t)
	ctx := context.Background()
	seedCourse(t, courses, "c1")
	seedExamQuestion(t, courses, "c1", "q1", 10, []string{"A", "C"}, []string{"B"})
	e, _ := svc.RecordEnrollment(ctx, "c1", "alice", "")

	sub, err := svc.StartSubmission(ctx, e.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if sub.Status != StatusOpen {
		t.Fatalf("status = %q, want open", sub.Status)
	}
	if _, err := svc.SaveSelections(ctx, sub.ID, map[string][]string{"q1": {"A", "C"}}); err != nil {
		t.Fatalf("save: %v", err)
	}

	graded, err := svc.Submit(ctx, sub.ID)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if graded.Status != StatusGraded || graded.TotalScore != 10 || graded.MaxScore != 10 {
		t.Fatalf("graded = %+v, want 10/10 graded", graded)
	}
	if graded.Result == nil || !graded.Result.PerQuestion[0].Correct {
		t.Fatalf("missing per-question breakdown: %+v", graded.Result)
	}

	// graded is terminal: selections immutable, score fixed
	if _, err := svc.SaveSelections(ctx, sub.ID, map[string][]string{"q1": {"B"}}); !errors.Is(err, ErrSubmissionGraded) {
		t.Fatalf("save after grade: want ErrSubmissionGraded, got %v", err)
	}
	again, err := svc.Submit(ctx, sub.ID)
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if again.TotalScore != graded.TotalScore || again.GradedAt != graded.GradedAt {
		t.Fatalf("resubmit changed the record: %+v vs %+v", again, graded)
	}

	// retake: a fresh submission, graded independently
	retake, err := svc.StartSubmission(ctx, e.ID)
	if err != nil {
		t.Fatalf("retake: %v", err)
	}
	if _, err := svc.SaveSelections(ctx, retake.ID, map[string][]string{"q1": {"A"}}); err != nil {
		t.Fatalf("save retake: %v", err)
	}
	gradedRetake, err := svc.Submit(ctx, retake.ID)
	if err != nil {
		t.Fatalf("submit retake: %v", err)
	}
	if gradedRetake.TotalScore != 0 {
		t.Fatalf("retake score = %v, want 0 (incomplete selection)", gradedRetake.TotalScore)
	}

	subs, _ := svc.ListSubmissions(ctx, e.ID)
	if len(subs) != 2 {
		t.Fatalf("submissions = %d, want 2", len(subs))
	}

	var gradedEvents int
	for _, ev := range events.Events() {
		if ev.Type == audit.EventSubmissionGraded {
			gradedEvents++
		}
	}
	if gradedEvents != 2 {
		t.Fatalf("graded audit events = %d, want 2", gradedEvents)
	}
}

func TestSubmitMalformedWritesNoScore(t *testing.T) {
	svc, courses, _, _ := newTestService(t)
	ctx := context.Background()
	seedCourse(t, courses, "c1")
	seedExamQuestion(t, courses, "c1", "q1", 10, []string{"A"}, []string{"B"})
	e, _ := svc.RecordEnrollment(ctx, "c1", "alice", "")
	sub, _ := svc.StartSubmission(ctx, e.ID)

	// choice from outside the course's question set
	if _, err := svc.SaveSelections(ctx, sub.ID, map[string][]string{"q1": {"ZZ"}}); err != nil {
		t.Fatalf("save: %v", err)
	}
	_, err := svc.Submit(ctx, sub.ID)
	var malformed *grading.MalformedSubmission
	if !errors.As(err, &malformed) {
		t.Fatalf("want MalformedSubmission, got %v", err)
	}
	got, _ := svc.GetSubmission(ctx, sub.ID)
	if got.Graded() || got.TotalScore != 0 {
		t.Fatalf("score written on malformed submission: %+v", got)
	}
}

func TestChoiceEditsDoNotRegradePastSubmissions(t *testing.T) {
	svc, courses, _, _ := newTestService(t)
	ctx := context.Background()
	seedCourse(t, courses, "c1")
	seedExamQuestion(t, courses, "c1", "q1", 10, []string{"A"}, []string{"B"})
	e, _ := svc.RecordEnrollment(ctx, "c1", "alice", "")
	sub, _ := svc.StartSubmission(ctx, e.ID)
	if _, err := svc.SaveSelections(ctx, sub.ID, map[string][]string{"q1": {"A"}}); err != nil {
		t.Fatalf("save: %v", err)
	}
	graded, err := svc.Submit(ctx, sub.ID)
	if err != nil || graded.TotalScore != 10 {
		t.Fatalf("submit: score=%v err=%v", graded.TotalScore, err)
	}

	// flip the answer key after the fact
	if err := courses.PutChoice(ctx, catalog.Choice{ID: "A", QuestionID: "q1", Text: "A", IsCorrect: false}); err != nil {
		t.Fatalf("edit choice: %v", err)
	}
	if err := courses.PutChoice(ctx, catalog.Choice{ID: "B", QuestionID: "q1", Text: "B", IsCorrect: true}); err != nil {
		t.Fatalf("edit choice: %v", err)
	}

	got, _ := svc.GetSubmission(ctx, sub.ID)
	if got.TotalScore != 10 {
		t.Fatalf("past submission regraded: score=%v", got.TotalScore)
	}
}

func TestProgress(t *testing.T) {
	svc, courses, _, _ := newTestService(t)
	ctx := context.Background()
	seedCourse(t, courses, "c1")
	seedExamQuestion(t, courses, "c1", "q1", 5, []string{"a"}, nil)
	seedExamQuestion(t, courses, "c1", "q2", 5, []string{"b"}, nil)
	seedExamQuestion(t, courses, "c1", "q3", 5, []string{"c"}, nil)
	seedExamQuestion(t, courses, "c1", "q4", 5, []string{"d"}, nil)
	e, _ := svc.RecordEnrollment(ctx, "c1", "alice", "")

	p, err := svc.Progress(ctx, e.ID)
	if err != nil || p != 0 {
		t.Fatalf("initial progress = %d err=%v, want 0", p, err)
	}
	sub, _ := svc.StartSubmission(ctx, e.ID)
	if _, err := svc.SaveSelections(ctx, sub.ID, map[string][]string{"q1": {"a"}, "q3": {"c"}}); err != nil {
		t.Fatalf("save: %v", err)
	}
	p, err = svc.Progress(ctx, e.ID)
	if err != nil || p != 50 {
		t.Fatalf("progress = %d err=%v, want 50", p, err)
	}
}

func TestReconcilerCorrectsDrift(t *testing.T) {
	svc, courses, store, events := newTestService(t)
	ctx := context.Background()
	seedCourse(t, courses, "c1")
	e1, _ := svc.RecordEnrollment(ctx, "c1", "alice", "")
	if _, err := svc.RecordEnrollment(ctx, "c1", "bob", ""); err != nil {
		t.Fatalf("enroll: %v", err)
	}
	if err := svc.SetRating(ctx, e1.ID, 3); err != nil {
		t.Fatalf("rate: %v", err)
	}

	// simulate skew in the cached aggregate
	store.mu.Lock()
	agg := store.aggregates["c1"]
	agg.TotalEnrollment = 99
	agg.AverageRating = 1.0
	store.aggregates["c1"] = agg
	store.mu.Unlock()

	rec := NewReconciler(store, events)
	rep, err := rec.ReconcileCourse(ctx, "c1")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if rep == nil || rep.Stored.TotalEnrollment != 99 || rep.Actual.TotalEnrollment != 2 {
		t.Fatalf("drift report = %+v", rep)
	}
	agg2, _ := svc.CourseStats(ctx, "c1")
	if agg2.TotalEnrollment != 2 || agg2.AverageRating != 3.0 {
		t.Fatalf("aggregates after reconcile = %+v", agg2)
	}

	// consistent cache yields no report
	rep, err = rec.ReconcileCourse(ctx, "c1")
	if err != nil || rep != nil {
		t.Fatalf("second reconcile: rep=%+v err=%v", rep, err)
	}

	var driftEvents int
	for _, ev := range events.Events() {
		if ev.Type == audit.EventDriftCorrected {
			driftEvents++
		}
	}
	if driftEvents != 1 {
		t.Fatalf("drift audit events = %d, want 1", driftEvents)
	}
}
