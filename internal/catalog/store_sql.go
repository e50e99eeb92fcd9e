package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type SQLStore struct {
	db     *sql.DB
	driver string // "sqlite" or "postgres"
}

func NewSQLStore(db *sql.DB, driver string) *SQLStore {
	return &SQLStore{db: db, driver: driver}
}

func (s *SQLStore) PutCourse(ctx context.Context, c Course) error {
	now := time.Now().Unix()
	_, err := s.db.ExecContext(ctx, `INSERT INTO courses (id,name,description,image_key,pub_date,is_active,total_enrollment,average_rating,created_at,updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,0,0,$7,$7)
		ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, description=EXCLUDED.description,
			pub_date=EXCLUDED.pub_date, is_active=EXCLUDED.is_active, updated_at=EXCLUDED.updated_at`,
		c.ID, c.Name, c.Description, c.ImageKey, c.PubDate, c.IsActive, now)
	return err
}

func (s *SQLStore) GetCourse(ctx context.Context, id string) (Course, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id,name,description,image_key,pub_date,is_active,total_enrollment,average_rating,created_at,updated_at
		FROM courses WHERE id=$1`, id)
	var c Course
	if err := row.Scan(&c.ID, &c.Name, &c.Description, &c.ImageKey, &c.PubDate, &c.IsActive,
		&c.TotalEnrollment, &c.AverageRating, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Course{}, ErrCourseNotFound
		}
		return Course{}, err
	}
	return c, nil
}

func (s *SQLStore) ListCourses(ctx context.Context, opts ListOpts) ([]CourseSummary, error) {
	limit := opts.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	sqlStr := `SELECT id,name,total_enrollment,average_rating FROM courses WHERE 1=1`
	var args []any
	if opts.Q != "" {
		args = append(args, "%"+opts.Q+"%")
		sqlStr += fmt.Sprintf(" AND name LIKE $%d", len(args))
	}
	if opts.ActiveOnly {
		sqlStr += " AND is_active"
	}
	args = append(args, limit, opts.Offset)
	sqlStr += fmt.Sprintf(" ORDER BY name LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CourseSummary
	for rows.Next() {
		var c CourseSummary
		if err := rows.Scan(&c.ID, &c.Name, &c.TotalEnrollment, &c.AverageRating); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLStore) DeleteCourse(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM courses WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrCourseNotFound
	}
	// questions, choices, enrollments, submissions go via ON DELETE CASCADE
	return nil
}

func (s *SQLStore) SetCourseImage(ctx context.Context, id, imageKey string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE courses SET image_key=$1, updated_at=$2 WHERE id=$3`,
		imageKey, time.Now().Unix(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrCourseNotFound
	}
	return nil
}

func (s *SQLStore) PutQuestion(ctx context.Context, q Question) error {
	if q.Points < 0 {
		return errors.New("question points must be non-negative")
	}
	var exist int
	if err := s.db.QueryRowContext(ctx, `SELECT 1 FROM courses WHERE id=$1`, q.CourseID).Scan(&exist); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrCourseNotFound
		}
		return err
	}
	now := time.Now().Unix()
	_, err := s.db.ExecContext(ctx, `INSERT INTO questions (id,course_id,text,points,created_at,updated_at)
		VALUES ($1,$2,$3,$4,$5,$5)
		ON CONFLICT (id) DO UPDATE SET text=EXCLUDED.text, points=EXCLUDED.points, updated_at=EXCLUDED.updated_at`,
		q.ID, q.CourseID, q.Text, q.Points, now)
	return err
}

func (s *SQLStore) GetQuestion(ctx context.Context, id string) (Question, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id,course_id,text,points,created_at,updated_at FROM questions WHERE id=$1`, id)
	var q Question
	if err := row.Scan(&q.ID, &q.CourseID, &q.Text, &q.Points, &q.CreatedAt, &q.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Question{}, ErrQuestionNotFound
		}
		return Question{}, err
	}
	choices, err := s.questionChoices(ctx, id)
	if err != nil {
		return Question{}, err
	}
	q.Choices = choices
	return q, nil
}

func (s *SQLStore) CourseQuestions(ctx context.Context, courseID string) ([]Question, error) {
	var exist int
	if err := s.db.QueryRowContext(ctx, `SELECT 1 FROM courses WHERE id=$1`, courseID).Scan(&exist); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCourseNotFound
		}
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id,course_id,text,points,created_at,updated_at
		FROM questions WHERE course_id=$1 ORDER BY created_at, id`, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Question
	idx := map[string]int{}
	for rows.Next() {
		var q Question
		if err := rows.Scan(&q.ID, &q.CourseID, &q.Text, &q.Points, &q.CreatedAt, &q.UpdatedAt); err != nil {
			return nil, err
		}
		idx[q.ID] = len(out)
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	crows, err := s.db.QueryContext(ctx, `SELECT c.id,c.question_id,c.text,c.is_correct,c.created_at,c.updated_at
		FROM choices c JOIN questions q ON q.id=c.question_id
		WHERE q.course_id=$1 ORDER BY c.created_at, c.id`, courseID)
	if err != nil {
		return nil, err
	}
	defer crows.Close()
	for crows.Next() {
		var c Choice
		if err := crows.Scan(&c.ID, &c.QuestionID, &c.Text, &c.IsCorrect, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		if i, ok := idx[c.QuestionID]; ok {
			out[i].Choices = append(out[i].Choices, c)
		}
	}
	return out, crows.Err()
}

func (s *SQLStore) DeleteQuestion(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM questions WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrQuestionNotFound
	}
	return nil
}

func (s *SQLStore) PutChoice(ctx context.Context, c Choice) error {
	var exist int
	if err := s.db.QueryRowContext(ctx, `SELECT 1 FROM questions WHERE id=$1`, c.QuestionID).Scan(&exist); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrQuestionNotFound
		}
		return err
	}
	now := time.Now().Unix()
	_, err := s.db.ExecContext(ctx, `INSERT INTO choices (id,question_id,text,is_correct,created_at,updated_at)
		VALUES ($1,$2,$3,$4,$5,$5)
		ON CONFLICT (id) DO UPDATE SET text=EXCLUDED.text, is_correct=EXCLUDED.is_correct, updated_at=EXCLUDED.updated_at`,
		c.ID, c.QuestionID, c.Text, c.IsCorrect, now)
	return err
}

func (s *SQLStore) DeleteChoice(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM choices WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrChoiceNotFound
	}
	return nil
}

func (s *SQLStore) questionChoices(ctx context.Context, questionID string) ([]Choice, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id,question_id,text,is_correct,created_at,updated_at
		FROM choices WHERE question_id=$1 ORDER BY created_at, id`, questionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Choice
	for rows.Next() {
		var c Choice
		if err := rows.Scan(&c.ID, &c.QuestionID, &c.Text, &c.IsCorrect, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
