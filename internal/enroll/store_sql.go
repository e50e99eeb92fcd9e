package enroll

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/open-course/opencourse-lms/internal/grading"
)

type SQLStore struct {
	db     *sql.DB
	driver string // "sqlite" or "postgres"
}

func NewSQLStore(db *sql.DB, driver string) *SQLStore {
	return &SQLStore{db: db, driver: driver}
}

// CreateEnrollment inserts the enrollment and adjusts the course
// aggregates in the same transaction. The counter bump is a single
// atomic UPDATE, so concurrent enrollments against one course cannot
// lose updates.
func (s *SQLStore) CreateEnrollment(ctx context.Context, e Enrollment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exist int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM enrollments WHERE user_id=$1 AND course_id=$2`,
		e.UserID, e.CourseID).Scan(&exist)
	if err == nil {
		return ErrDuplicateEnrollment
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	now := time.Now().Unix()
	if e.EnrolledAt == 0 {
		e.EnrolledAt = now
	}
	var rating any
	if e.Rating != nil {
		rating = *e.Rating
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO enrollments (id,user_id,course_id,mode,rating,enrolled_at,created_at,updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$7)`,
		e.ID, e.UserID, e.CourseID, e.Mode, rating, e.EnrolledAt, now); err != nil {
		// the unique index backstops the racy pre-check above
		if isUniqueViolation(err) {
			return ErrDuplicateEnrollment
		}
		return err
	}

	if _, err := tx.ExecContext(ctx, `UPDATE courses SET total_enrollment = total_enrollment + 1, updated_at=$1 WHERE id=$2`,
		now, e.CourseID); err != nil {
		return err
	}
	if err := refreshAverage(ctx, tx, e.CourseID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLStore) GetEnrollment(ctx context.Context, id string) (Enrollment, error) {
	return scanEnrollment(s.db.QueryRowContext(ctx,
		`SELECT id,user_id,course_id,mode,rating,enrolled_at,created_at,updated_at FROM enrollments WHERE id=$1`, id))
}

func (s *SQLStore) FindEnrollment(ctx context.Context, userID, courseID string) (Enrollment, error) {
	return scanEnrollment(s.db.QueryRowContext(ctx,
		`SELECT id,user_id,course_id,mode,rating,enrolled_at,created_at,updated_at FROM enrollments WHERE user_id=$1 AND course_id=$2`,
		userID, courseID))
}

func (s *SQLStore) DeleteEnrollment(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var courseID string
	if err := tx.QueryRowContext(ctx, `SELECT course_id FROM enrollments WHERE id=$1`, id).Scan(&courseID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrEnrollmentNotFound
		}
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM enrollments WHERE id=$1`, id); err != nil {
		return err
	}
	// floor at zero in case the counter had drifted low
	if _, err := tx.ExecContext(ctx, `UPDATE courses
		SET total_enrollment = CASE WHEN total_enrollment > 0 THEN total_enrollment - 1 ELSE 0 END,
		    updated_at=$1
		WHERE id=$2`, time.Now().Unix(), courseID); err != nil {
		return err
	}
	if err := refreshAverage(ctx, tx, courseID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLStore) SetRating(ctx context.Context, id string, rating float64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var courseID string
	if err := tx.QueryRowContext(ctx, `SELECT course_id FROM enrollments WHERE id=$1`, id).Scan(&courseID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrEnrollmentNotFound
		}
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE enrollments SET rating=$1, updated_at=$2 WHERE id=$3`,
		rating, time.Now().Unix(), id); err != nil {
		return err
	}
	if err := refreshAverage(ctx, tx, courseID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLStore) ListCourseEnrollments(ctx context.Context, courseID string) ([]Enrollment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id,user_id,course_id,mode,rating,enrolled_at,created_at,updated_at
		 FROM enrollments WHERE course_id=$1 ORDER BY enrolled_at DESC, id`, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Enrollment
	for rows.Next() {
		e, err := scanEnrollment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLStore) CourseAggregates(ctx context.Context, courseID string) (Aggregates, error) {
	agg := Aggregates{CourseID: courseID}
	err := s.db.QueryRowContext(ctx,
		`SELECT total_enrollment, average_rating,
		        (SELECT COUNT(*) FROM enrollments WHERE course_id=$1 AND rating IS NOT NULL)
		 FROM courses WHERE id=$1`, courseID).
		Scan(&agg.TotalEnrollment, &agg.AverageRating, &agg.RatedCount)
	if errors.Is(err, sql.ErrNoRows) {
		return Aggregates{}, errors.New("course not found")
	}
	return agg, err
}

func (s *SQLStore) RecomputeAggregates(ctx context.Context, courseID string) (Aggregates, Aggregates, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Aggregates{}, Aggregates{}, false, err
	}
	defer tx.Rollback()

	stored := Aggregates{CourseID: courseID}
	if err := tx.QueryRowContext(ctx, `SELECT total_enrollment, average_rating FROM courses WHERE id=$1`, courseID).
		Scan(&stored.TotalEnrollment, &stored.AverageRating); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Aggregates{}, Aggregates{}, false, errors.New("course not found")
		}
		return Aggregates{}, Aggregates{}, false, err
	}

	actual := Aggregates{CourseID: courseID}
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*),
			COALESCE(AVG(CASE WHEN rating IS NOT NULL THEN rating END), 0),
			COUNT(rating)
		FROM enrollments WHERE course_id=$1`, courseID).
		Scan(&actual.TotalEnrollment, &actual.AverageRating, &actual.RatedCount); err != nil {
		return Aggregates{}, Aggregates{}, false, err
	}

	drifted := stored.TotalEnrollment != actual.TotalEnrollment ||
		math.Abs(stored.AverageRating-actual.AverageRating) > 1e-9
	if drifted {
		if _, err := tx.ExecContext(ctx, `UPDATE courses SET total_enrollment=$1, average_rating=$2, updated_at=$3 WHERE id=$4`,
			actual.TotalEnrollment, actual.AverageRating, time.Now().Unix(), courseID); err != nil {
			return Aggregates{}, Aggregates{}, false, err
		}
	}
	if err := tx.Commit(); err != nil {
		return Aggregates{}, Aggregates{}, false, err
	}
	return stored, actual, drifted, nil
}

func (s *SQLStore) CourseIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM courses ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *SQLStore) CreateSubmission(ctx context.Context, sub Submission) error {
	var exist int
	if err := s.db.QueryRowContext(ctx, `SELECT 1 FROM enrollments WHERE id=$1`, sub.EnrollmentID).Scan(&exist); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrEnrollmentNotFound
		}
		return err
	}
	if sub.Selections == nil {
		sub.Selections = map[string][]string{}
	}
	buf, err := json.Marshal(sub.Selections)
	if err != nil {
		return err
	}
	if sub.CreatedAt == 0 {
		sub.CreatedAt = time.Now().Unix()
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO submissions (id,enrollment_id,status,selections_json,total_score,max_score,created_at)
		VALUES ($1,$2,'open',$3,0,0,$4)`,
		sub.ID, sub.EnrollmentID, string(buf), sub.CreatedAt)
	return err
}

func (s *SQLStore) GetSubmission(ctx context.Context, id string) (Submission, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id,enrollment_id,status,selections_json,total_score,max_score,result_json,created_at,graded_at
		FROM submissions WHERE id=$1`, id)
	var sub Submission
	var selJSON, resJSON string
	var gradedAt sql.NullInt64
	if err := row.Scan(&sub.ID, &sub.EnrollmentID, &sub.Status, &selJSON, &sub.TotalScore, &sub.MaxScore,
		&resJSON, &sub.CreatedAt, &gradedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Submission{}, ErrSubmissionNotFound
		}
		return Submission{}, err
	}
	if err := json.Unmarshal([]byte(selJSON), &sub.Selections); err != nil {
		sub.Selections = map[string][]string{}
	}
	if resJSON != "" {
		var res grading.Result
		if err := json.Unmarshal([]byte(resJSON), &res); err == nil {
			sub.Result = &res
		}
	}
	if gradedAt.Valid {
		sub.GradedAt = gradedAt.Int64
	}
	return sub, nil
}

func (s *SQLStore) SaveSelections(ctx context.Context, id string, selections map[string][]string) (Submission, error) {
	sub, err := s.GetSubmission(ctx, id)
	if err != nil {
		return Submission{}, err
	}
	if sub.Graded() {
		return Submission{}, ErrSubmissionGraded
	}
	for qid, choices := range selections {
		sub.Selections[qid] = append([]string(nil), choices...)
	}
	buf, err := json.Marshal(sub.Selections)
	if err != nil {
		return Submission{}, err
	}
	// guard the open state in the WHERE clause so a concurrent grade
	// cannot be overwritten
	res, err := s.db.ExecContext(ctx, `UPDATE submissions SET selections_json=$1 WHERE id=$2 AND status='open'`,
		string(buf), id)
	if err != nil {
		return Submission{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Submission{}, ErrSubmissionGraded
	}
	return s.GetSubmission(ctx, id)
}

func (s *SQLStore) MarkGraded(ctx context.Context, id string, gres grading.Result) (Submission, error) {
	sub, err := s.GetSubmission(ctx, id)
	if err != nil {
		return Submission{}, err
	}
	if sub.Graded() {
		return Submission{}, ErrSubmissionGraded
	}
	buf, err := json.Marshal(gres)
	if err != nil {
		return Submission{}, err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE submissions
		SET status='graded', total_score=$1, max_score=$2, result_json=$3, graded_at=$4
		WHERE id=$5 AND status='open'`,
		gres.TotalPoints, gres.MaxPoints, string(buf), time.Now().Unix(), id)
	if err != nil {
		return Submission{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Submission{}, ErrSubmissionGraded
	}
	return s.GetSubmission(ctx, id)
}

func (s *SQLStore) ListSubmissions(ctx context.Context, enrollmentID string) ([]Submission, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM submissions WHERE enrollment_id=$1 ORDER BY created_at DESC, id DESC`, enrollmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make([]Submission, 0, len(ids))
	for _, id := range ids {
		sub, err := s.GetSubmission(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, nil
}

// refreshAverage recomputes the rated-only average inside the caller's
// transaction.
func refreshAverage(ctx context.Context, tx *sql.Tx, courseID string) error {
	_, err := tx.ExecContext(ctx, `UPDATE courses SET average_rating = COALESCE(
			(SELECT AVG(rating) FROM enrollments WHERE course_id=$1 AND rating IS NOT NULL), 0)
		WHERE id=$1`, courseID)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEnrollment(row rowScanner) (Enrollment, error) {
	var e Enrollment
	var rating sql.NullFloat64
	if err := row.Scan(&e.ID, &e.UserID, &e.CourseID, &e.Mode, &rating, &e.EnrolledAt, &e.CreatedAt, &e.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Enrollment{}, ErrEnrollmentNotFound
		}
		return Enrollment{}, err
	}
	if rating.Valid {
		r := rating.Float64
		e.Rating = &r
	}
	return e, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || // sqlite
		strings.Contains(msg, "duplicate key") // postgres
}
