package enroll_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/open-course/opencourse-lms/internal/audit"
	"github.com/open-course/opencourse-lms/internal/catalog"
	"github.com/open-course/opencourse-lms/internal/db"
	"github.com/open-course/opencourse-lms/internal/enroll"
	"github.com/open-course/opencourse-lms/internal/grading"

	_ "modernc.org/sqlite" // driver for "sqlite"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	h, err := sql.Open("sqlite", "file:"+t.Name()+"?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// a shared-cache memory db disappears with its last connection
	h.SetMaxOpenConns(1)
	if err := db.EnsureSchema(context.Background(), h, db.DriverSQLite); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

func seedSQLCourse(t *testing.T, courses *catalog.SQLStore, id string) {
	t.Helper()
	ctx := context.Background()
	if err := courses.PutCourse(ctx, catalog.Course{ID: id, Name: "Course " + id, IsActive: true}); err != nil {
		t.Fatalf("seed course: %v", err)
	}
}

func TestSQLStoreAggregateMaintenance(t *testing.T) {
	h := openTestDB(t)
	courses := catalog.NewSQLStore(h, "sqlite")
	store := enroll.NewSQLStore(h, "sqlite")
	svc := enroll.NewService(store, courses, grading.NewEngine(), audit.NewEventLog(h))
	ctx := context.Background()
	seedSQLCourse(t, courses, "c1")

	e1, err := svc.RecordEnrollment(ctx, "c1", "alice", enroll.ModeHonor)
	if err != nil {
		t.Fatalf("enroll: %v", err)
	}
	e2, err := svc.RecordEnrollment(ctx, "c1", "bob", "")
	if err != nil {
		t.Fatalf("enroll: %v", err)
	}
	if _, err := svc.RecordEnrollment(ctx, "c1", "carol", ""); err != nil {
		t.Fatalf("enroll: %v", err)
	}
	if err := svc.SetRating(ctx, e1.ID, 4); err != nil {
		t.Fatalf("rate: %v", err)
	}
	if err := svc.SetRating(ctx, e2.ID, 5); err != nil {
		t.Fatalf("rate: %v", err)
	}

	agg, err := svc.CourseStats(ctx, "c1")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if agg.TotalEnrollment != 3 || agg.AverageRating != 4.5 {
		t.Fatalf("aggregates = %+v, want total=3 avg=4.5", agg)
	}
	// cached values on the course row agree
	c, err := courses.GetCourse(ctx, "c1")
	if err != nil {
		t.Fatalf("get course: %v", err)
	}
	if c.TotalEnrollment != 3 || c.AverageRating != 4.5 {
		t.Fatalf("course row = %d/%v, want 3/4.5", c.TotalEnrollment, c.AverageRating)
	}

	if err := svc.RemoveEnrollment(ctx, e1.ID); err != nil {
		t.Fatalf("unenroll: %v", err)
	}
	agg, _ = svc.CourseStats(ctx, "c1")
	if agg.TotalEnrollment != 2 || agg.AverageRating != 5.0 {
		t.Fatalf("after unenroll = %+v, want total=2 avg=5.0", agg)
	}

	// duplicate pair rejected without touching the aggregate
	if _, err := svc.RecordEnrollment(ctx, "c1", "bob", ""); !errors.Is(err, enroll.ErrDuplicateEnrollment) {
		t.Fatalf("want ErrDuplicateEnrollment, got %v", err)
	}
	agg, _ = svc.CourseStats(ctx, "c1")
	if agg.TotalEnrollment != 2 {
		t.Fatalf("total after rejected duplicate = %d, want 2", agg.TotalEnrollment)
	}
}

func TestSQLStoreSubmissionFlow(t *testing.T) {
	h := openTestDB(t)
	courses := catalog.NewSQLStore(h, "sqlite")
	store := enroll.NewSQLStore(h, "sqlite")
	svc := enroll.NewService(store, courses, grading.NewEngine(), audit.NewEventLog(h))
	ctx := context.Background()
	seedSQLCourse(t, courses, "c1")

	if err := courses.PutQuestion(ctx, catalog.Question{ID: "q1", CourseID: "c1", Text: "capitals", Points: 10}); err != nil {
		t.Fatalf("question: %v", err)
	}
	for _, c := range []catalog.Choice{
		{ID: "A", QuestionID: "q1", Text: "Paris", IsCorrect: true},
		{ID: "B", QuestionID: "q1", Text: "Lyon"},
		{ID: "C", QuestionID: "q1", Text: "Reykjavik", IsCorrect: true},
	} {
		if err := courses.PutChoice(ctx, c); err != nil {
			t.Fatalf("choice: %v", err)
		}
	}

	e, err := svc.RecordEnrollment(ctx, "c1", "alice", "")
	if err != nil {
		t.Fatalf("enroll: %v", err)
	}
	sub, err := svc.StartSubmission(ctx, e.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := svc.SaveSelections(ctx, sub.ID, map[string][]string{"q1": {"C", "A"}}); err != nil {
		t.Fatalf("save: %v", err)
	}
	graded, err := svc.Submit(ctx, sub.ID)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if graded.TotalScore != 10 || graded.MaxScore != 10 || !graded.Graded() {
		t.Fatalf("graded = %+v", graded)
	}

	// breakdown round-trips through result_json
	reread, err := svc.GetSubmission(ctx, sub.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if reread.Result == nil || len(reread.Result.PerQuestion) != 1 || !reread.Result.PerQuestion[0].Correct {
		t.Fatalf("stored result = %+v", reread.Result)
	}
	if reread.Result.Percentage == nil || *reread.Result.Percentage != 100 {
		t.Fatalf("stored percentage = %v", reread.Result.Percentage)
	}

	if _, err := svc.SaveSelections(ctx, sub.ID, map[string][]string{"q1": {"B"}}); !errors.Is(err, enroll.ErrSubmissionGraded) {
		t.Fatalf("save after grade: %v", err)
	}

	// question cascade: deleting the course's question removes its choices
	if err := courses.DeleteQuestion(ctx, "q1"); err != nil {
		t.Fatalf("delete question: %v", err)
	}
	var n int
	if err := h.QueryRow(`SELECT COUNT(*) FROM choices WHERE question_id='q1'`).Scan(&n); err != nil {
		t.Fatalf("count choices: %v", err)
	}
	if n != 0 {
		t.Fatalf("choices not cascaded: %d left", n)
	}
	// the past submission keeps its score
	kept, _ := svc.GetSubmission(ctx, sub.ID)
	if kept.TotalScore != 10 {
		t.Fatalf("submission score changed after authoring edit: %v", kept.TotalScore)
	}
}

func TestSQLStoreReconcilerCorrectsDrift(t *testing.T) {
	h := openTestDB(t)
	courses := catalog.NewSQLStore(h, "sqlite")
	store := enroll.NewSQLStore(h, "sqlite")
	events := audit.NewMemoryLog()
	svc := enroll.NewService(store, courses, grading.NewEngine(), events)
	ctx := context.Background()
	seedSQLCourse(t, courses, "c1")

	e, err := svc.RecordEnrollment(ctx, "c1", "alice", "")
	if err != nil {
		t.Fatalf("enroll: %v", err)
	}
	if err := svc.SetRating(ctx, e.ID, 4); err != nil {
		t.Fatalf("rate: %v", err)
	}

	// skew the cached aggregate behind the store's back
	if _, err := h.Exec(`UPDATE courses SET total_enrollment=7, average_rating=2 WHERE id='c1'`); err != nil {
		t.Fatalf("skew: %v", err)
	}

	rec := enroll.NewReconciler(store, events)
	reports, err := rec.ReconcileAll(ctx)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(reports) != 1 || reports[0].Actual.TotalEnrollment != 1 || reports[0].Actual.AverageRating != 4 {
		t.Fatalf("reports = %+v", reports)
	}
	agg, _ := svc.CourseStats(ctx, "c1")
	if agg.TotalEnrollment != 1 || agg.AverageRating != 4 {
		t.Fatalf("aggregates after reconcile = %+v", agg)
	}
}
