package attempt

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
	syncx "github.com/mind-engage/mindengage-exams/internal/sync"
)

const attemptColumns = `id,exam_id,user_id,started_at,duration,finished_at,deleted_at,list_answer,
	total_question,correct_question,wrong_question,score,job_id,version,created_at,updated_at`

// deadline expression in unix ms, valid on both SQLite and Postgres
const deadlineExpr = `started_at + CAST(duration AS BIGINT) * 60000`

type SQLStore struct {
	db     *sql.DB
	sb     sq.StatementBuilderType
	events *syncx.EventRepo
}

func NewSQLStore(d *sql.DB, events *syncx.EventRepo) *SQLStore {
	if events == nil {
		events = syncx.NewEventRepo("")
	}
	return &SQLStore{
		db:     d,
		sb:     sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		events: events,
	}
}

func (s *SQLStore) Create(ctx context.Context, a *Attempt, bind BindFunc) error {
	slots, err := json.Marshal(a.Slots)
	if err != nil {
		return err
	}
	if a.Slots == nil {
		slots = []byte("[]")
	}
	if a.Version == 0 {
		a.Version = 1
	}
	return db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `INSERT INTO exam_attempts
			(exam_id,user_id,started_at,duration,list_answer,version,created_at,updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`,
			a.ExamID, a.UserID, a.StartedAt.UnixMilli(), a.Duration, string(slots), a.Version,
			a.CreatedAt.UnixMilli(), a.UpdatedAt.UnixMilli()).Scan(&a.ID)
		if err != nil {
			if db.IsUniqueViolation(err, "exam_attempts_one_open") {
				return apperrors.New(apperrors.ErrAttemptInProgress)
			}
			return fmt.Errorf("insert attempt: %w", err)
		}
		jobID, err := bind(ctx, a)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE exam_attempts SET job_id=$1 WHERE id=$2`, jobID, a.ID); err != nil {
			return fmt.Errorf("store job id: %w", err)
		}
		a.JobID = jobID
		return s.events.Append(ctx, tx, syncx.AttemptCreated, a.ID, map[string]any{
			"exam_id":  a.ExamID,
			"user_id":  a.UserID,
			"deadline": a.Deadline().UnixMilli(),
			"job_id":   jobID,
		})
	})
}

func (s *SQLStore) Get(ctx context.Context, id, userID int64) (*Attempt, error) {
	q := `SELECT ` + attemptColumns + ` FROM exam_attempts WHERE id=$1 AND deleted_at IS NULL`
	args := []any{id}
	if userID != 0 {
		q += ` AND user_id=$2`
		args = append(args, userID)
	}
	a, err := scanAttempt(s.db.QueryRowContext(ctx, q, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.New(apperrors.ErrAttemptNotFound)
	}
	return a, err
}

func (s *SQLStore) FindOngoing(ctx context.Context, examID, userID int64) (*Attempt, error) {
	a, err := scanAttempt(s.db.QueryRowContext(ctx, `SELECT `+attemptColumns+` FROM exam_attempts
		WHERE exam_id=$1 AND user_id=$2 AND finished_at IS NULL AND deleted_at IS NULL
		ORDER BY id DESC LIMIT 1`, examID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

func (s *SQLStore) SaveAnswers(ctx context.Context, a *Attempt, now time.Time) (bool, error) {
	slots, err := json.Marshal(a.Slots)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE exam_attempts
		SET list_answer=$1, version=version+1, updated_at=$2
		WHERE id=$3 AND version=$4 AND finished_at IS NULL AND deleted_at IS NULL
		  AND `+deadlineExpr+` > $5`,
		string(slots), now.UnixMilli(), a.ID, a.Version, now.UnixMilli())
	if err != nil {
		return false, fmt.Errorf("save answers: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		a.Version++
		a.UpdatedAt = now
	}
	return n == 1, nil
}

func (s *SQLStore) Finalize(ctx context.Context, a *Attempt, opts FinalizeOpts) (bool, error) {
	if a.FinishedAt == nil {
		return false, errors.New("finalize: attempt has no finished_at")
	}
	slots, err := json.Marshal(a.Slots)
	if err != nil {
		return false, err
	}
	q := `UPDATE exam_attempts
		SET list_answer=$1, finished_at=$2, total_question=$3, correct_question=$4,
		    wrong_question=$5, score=$6, version=version+1, updated_at=$7
		WHERE id=$8 AND version=$9 AND finished_at IS NULL AND deleted_at IS NULL`
	args := []any{string(slots), a.FinishedAt.UnixMilli(), a.TotalQuestion, a.CorrectQuestion,
		a.WrongQuestion, a.Score, opts.Now.UnixMilli(), a.ID, a.Version}
	if opts.EnforceDeadline {
		q += ` AND ` + deadlineExpr + ` > $10`
		args = append(args, opts.Now.UnixMilli())
	}

	won := false
	err = db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return fmt.Errorf("finalize: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		won = true
		return s.events.Append(ctx, tx, syncx.AttemptFinished, a.ID, map[string]any{
			"by":               opts.By,
			"score":            a.Score,
			"correct_question": a.CorrectQuestion,
			"wrong_question":   a.WrongQuestion,
			"total_question":   a.TotalQuestion,
		})
	})
	if err != nil {
		return false, err
	}
	if won {
		a.Version++
		a.UpdatedAt = opts.Now
	}
	return won, nil
}

func (s *SQLStore) CountFinished(ctx context.Context, examID, userID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM exam_attempts
		WHERE exam_id=$1 AND user_id=$2 AND finished_at IS NOT NULL`, examID, userID).Scan(&n)
	return n, err
}

func (s *SQLStore) SoftDelete(ctx context.Context, id, userID int64, now time.Time) (*Attempt, error) {
	var out *Attempt
	err := db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		a, err := scanAttempt(tx.QueryRowContext(ctx, `SELECT `+attemptColumns+` FROM exam_attempts
			WHERE id=$1 AND user_id=$2 AND deleted_at IS NULL`, id, userID))
		if errors.Is(err, sql.ErrNoRows) {
			return apperrors.New(apperrors.ErrAttemptNotFound)
		}
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `UPDATE exam_attempts
			SET deleted_at=$1, updated_at=$1, version=version+1
			WHERE id=$2 AND deleted_at IS NULL`, now.UnixMilli(), id)
		if err != nil {
			return fmt.Errorf("soft delete: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return apperrors.New(apperrors.ErrAttemptNotFound)
		}
		a.DeletedAt = &now
		a.Version++
		out = a
		return s.events.Append(ctx, tx, syncx.AttemptDeleted, id, map[string]any{
			"user_id":  userID,
			"finished": a.IsFinished(),
		})
	})
	return out, err
}

func (s *SQLStore) List(ctx context.Context, opts ListOpts) ([]Listed, int, error) {
	where := sq.And{sq.Eq{"a.deleted_at": nil}}
	if opts.ExamID != 0 {
		where = append(where, sq.Eq{"a.exam_id": opts.ExamID})
	}
	if opts.UserID != 0 {
		where = append(where, sq.Eq{"a.user_id": opts.UserID})
	}
	if opts.IsFinished != nil {
		if *opts.IsFinished {
			where = append(where, sq.NotEq{"a.finished_at": nil})
		} else {
			where = append(where, sq.Eq{"a.finished_at": nil})
		}
	}

	var total int
	cq, cargs, err := s.sb.Select("COUNT(*)").From("exam_attempts a").Where(where).ToSql()
	if err != nil {
		return nil, 0, err
	}
	if err := s.db.QueryRowContext(ctx, cq, cargs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count attempts: %w", err)
	}

	limit := opts.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}
	query, args, err := s.sb.
		Select("a.id", "a.exam_id", "COALESCE(e.title, '')", "a.user_id", "a.started_at", "a.duration",
			"a.finished_at", "a.total_question", "a.correct_question", "a.wrong_question", "a.score").
		From("exam_attempts a").
		LeftJoin("exams e ON e.id = a.exam_id").
		Where(where).
		OrderBy("a.started_at DESC", "a.id DESC").
		Limit(uint64(limit)).
		Offset(uint64(offset)).
		ToSql()
	if err != nil {
		return nil, 0, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	var out []Listed
	for rows.Next() {
		var (
			l                 Listed
			startedAt         int64
			finishedAt        sql.NullInt64
			tot, right, wrong sql.NullInt64
			score             sql.NullFloat64
		)
		if err := rows.Scan(&l.ID, &l.ExamID, &l.ExamTitle, &l.UserID, &startedAt, &l.Duration,
			&finishedAt, &tot, &right, &wrong, &score); err != nil {
			return nil, 0, err
		}
		l.StartedAt = time.UnixMilli(startedAt)
		l.FinishedAt = msTime(finishedAt)
		l.TotalQuestion, l.CorrectQuestion, l.WrongQuestion = intPtr(tot), intPtr(right), intPtr(wrong)
		l.Score = floatPtr(score)
		out = append(out, l)
	}
	return out, total, rows.Err()
}

func (s *SQLStore) ListOverdue(ctx context.Context, cutoff time.Time, limit int) ([]int64, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM exam_attempts
		WHERE finished_at IS NULL AND deleted_at IS NULL AND `+deadlineExpr+` <= $1
		ORDER BY id LIMIT $2`, cutoff.UnixMilli(), limit)
	if err != nil {
		return nil, fmt.Errorf("list overdue: %w", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAttempt(r rowScanner) (*Attempt, error) {
	var (
		a                         Attempt
		startedAt, createdAt, upd int64
		finishedAt, deletedAt     sql.NullInt64
		slots                     string
		total, correct, wrong     sql.NullInt64
		score                     sql.NullFloat64
	)
	if err := r.Scan(&a.ID, &a.ExamID, &a.UserID, &startedAt, &a.Duration, &finishedAt, &deletedAt, &slots,
		&total, &correct, &wrong, &score, &a.JobID, &a.Version, &createdAt, &upd); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(slots), &a.Slots); err != nil {
		return nil, fmt.Errorf("attempt %d list_answer: %w", a.ID, err)
	}
	a.StartedAt = time.UnixMilli(startedAt)
	a.CreatedAt = time.UnixMilli(createdAt)
	a.UpdatedAt = time.UnixMilli(upd)
	a.FinishedAt = msTime(finishedAt)
	a.DeletedAt = msTime(deletedAt)
	a.TotalQuestion, a.CorrectQuestion, a.WrongQuestion = intPtr(total), intPtr(correct), intPtr(wrong)
	a.Score = floatPtr(score)
	return &a, nil
}

func msTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64)
	return &t
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
