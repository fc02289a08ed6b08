package exam

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/mind-engage/mindengage-exams/internal/apperrors"
	"github.com/mind-engage/mindengage-exams/internal/db"
)

// SQLCatalog serves the catalog from the exams/questions/choices tables.
type SQLCatalog struct {
	db  *sql.DB
	sb  sq.StatementBuilderType
	now func() time.Time
}

func NewSQLCatalog(d *sql.DB) *SQLCatalog {
	return &SQLCatalog{
		db:  d,
		sb:  sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		now: time.Now,
	}
}

// PutExam inserts e (ID == 0) or updates it in place, returning the stored exam.
func (s *SQLCatalog) PutExam(ctx context.Context, e Exam) (Exam, error) {
	if err := e.Validate(); err != nil {
		return Exam{}, err
	}
	qj, err := json.Marshal(e.Questions)
	if err != nil {
		return Exam{}, err
	}
	if e.Questions == nil {
		qj = []byte("[]")
	}
	var maxAttempt any
	if e.MaxAttempt > 0 {
		maxAttempt = e.MaxAttempt
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}

	if e.ID == 0 {
		err = s.db.QueryRowContext(ctx, `INSERT INTO exams
			(creator_id,title,note,duration,total_question,earliest_start_time,latest_start_time,max_attempt,is_public,list_question,created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11) RETURNING id`,
			e.CreatorID, e.Title, e.Note, e.Duration, e.TotalQuestion,
			msPtr(e.EarliestStartTime), msPtr(e.LatestStartTime), maxAttempt, e.IsPublic,
			string(qj), e.CreatedAt.UnixMilli()).Scan(&e.ID)
		if err != nil {
			return Exam{}, fmt.Errorf("insert exam: %w", err)
		}
		return e, nil
	}
	res, err := s.db.ExecContext(ctx, `UPDATE exams SET
		creator_id=$1, title=$2, note=$3, duration=$4, total_question=$5, earliest_start_time=$6,
		latest_start_time=$7, max_attempt=$8, is_public=$9, list_question=$10
		WHERE id=$11`,
		e.CreatorID, e.Title, e.Note, e.Duration, e.TotalQuestion,
		msPtr(e.EarliestStartTime), msPtr(e.LatestStartTime), maxAttempt, e.IsPublic,
		string(qj), e.ID)
	if err != nil {
		return Exam{}, fmt.Errorf("update exam: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Exam{}, apperrors.New(apperrors.ErrExamNotFound)
	}
	return e, nil
}

// PutQuestion inserts q together with its choices and returns it with ids assigned.
func (s *SQLCatalog) PutQuestion(ctx context.Context, q Question) (Question, error) {
	if q.Type == "" {
		q.Type = "single_choice"
	}
	err := db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, `INSERT INTO questions (creator_id,content,description,type,score,created_at)
			VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`,
			q.CreatorID, q.Content, q.Description, q.Type, q.Score, s.now().UnixMilli()).Scan(&q.ID); err != nil {
			return fmt.Errorf("insert question: %w", err)
		}
		for i := range q.Choices {
			c := &q.Choices[i]
			c.QuestionID = q.ID
			if err := tx.QueryRowContext(ctx, `INSERT INTO choices (question_id,position,content,explanation,is_correct)
				VALUES ($1,$2,$3,$4,$5) RETURNING id`,
				q.ID, i, c.Content, c.Explanation, c.IsCorrect).Scan(&c.ID); err != nil {
				return fmt.Errorf("insert choice: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return Question{}, err
	}
	return q, nil
}

// DeleteQuestion removes a question and its choices.
func (s *SQLCatalog) DeleteQuestion(ctx context.Context, id int64) error {
	return db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM choices WHERE question_id=$1`, id); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM questions WHERE id=$1`, id)
		return err
	})
}

func (s *SQLCatalog) GetExam(ctx context.Context, id int64) (Exam, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id,creator_id,title,note,duration,total_question,
		earliest_start_time,latest_start_time,max_attempt,is_public,list_question,created_at
		FROM exams WHERE id=$1`, id)
	var (
		e                Exam
		earliest, latest sql.NullInt64
		maxAttempt       sql.NullInt64
		qjson            string
		createdAt        int64
	)
	if err := row.Scan(&e.ID, &e.CreatorID, &e.Title, &e.Note, &e.Duration, &e.TotalQuestion,
		&earliest, &latest, &maxAttempt, &e.IsPublic, &qjson, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Exam{}, apperrors.New(apperrors.ErrExamNotFound)
		}
		return Exam{}, err
	}
	if err := json.Unmarshal([]byte(qjson), &e.Questions); err != nil {
		return Exam{}, fmt.Errorf("exam %d list_question: %w", e.ID, err)
	}
	e.EarliestStartTime = fromMs(earliest)
	e.LatestStartTime = fromMs(latest)
	e.MaxAttempt = int(maxAttempt.Int64)
	e.CreatedAt = time.UnixMilli(createdAt)
	return e, nil
}

func (s *SQLCatalog) ListQuestions(ctx context.Context, ids []int64) ([]Question, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := s.sb.
		Select("id", "creator_id", "content", "description", "type", "score").
		From("questions").
		Where(sq.Eq{"id": ids}).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	var (
		out   []Question
		index = map[int64]int{}
	)
	for rows.Next() {
		var q Question
		if err := rows.Scan(&q.ID, &q.CreatorID, &q.Content, &q.Description, &q.Type, &q.Score); err != nil {
			rows.Close()
			return nil, err
		}
		index[q.ID] = len(out)
		out = append(out, q)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return out, nil
	}

	found := make([]int64, 0, len(out))
	for _, q := range out {
		found = append(found, q.ID)
	}
	query, args, err = s.sb.
		Select("id", "question_id", "content", "explanation", "is_correct").
		From("choices").
		Where(sq.Eq{"question_id": found}).
		OrderBy("question_id", "position", "id").
		ToSql()
	if err != nil {
		return nil, err
	}
	crows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list choices: %w", err)
	}
	defer crows.Close()
	for crows.Next() {
		var c Choice
		if err := crows.Scan(&c.ID, &c.QuestionID, &c.Content, &c.Explanation, &c.IsCorrect); err != nil {
			return nil, err
		}
		if i, ok := index[c.QuestionID]; ok {
			out[i].Choices = append(out[i].Choices, c)
		}
	}
	return out, crows.Err()
}

func msPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func fromMs(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64)
	return &t
}

// CountExams reports how many exams exist; used to seed an empty catalog once.
func (s *SQLCatalog) CountExams(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM exams`).Scan(&n)
	return n, err
}
