package attempt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mind-engage/mindengage-exams/internal/apperrors"
	"github.com/mind-engage/mindengage-exams/internal/db"
	"github.com/mind-engage/mindengage-exams/internal/exam"
	"github.com/mind-engage/mindengage-exams/internal/schedule"
	syncx "github.com/mind-engage/mindengage-exams/internal/sync"
)

type enqueued struct {
	id      string
	name    string
	payload []byte
	opts    schedule.EnqueueOptions
}

type fakeScheduler struct {
	mu        sync.Mutex
	next      int
	jobs      []enqueued
	cancelled []string
	failWith  error
}

func (f *fakeScheduler) Enqueue(_ context.Context, name string, payload []byte, opts schedule.EnqueueOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return "", f.failWith
	}
	f.next++
	id := fmt.Sprintf("job-%d", f.next)
	f.jobs = append(f.jobs, enqueued{id: id, name: name, payload: payload, opts: opts})
	return id, nil
}

func (f *fakeScheduler) Cancel(_ context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, jobID)
	return nil
}

func (f *fakeScheduler) wasCancelled(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.cancelled {
		if c == id {
			return true
		}
	}
	return false
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

var t0 = time.UnixMilli(1_800_000_000_000)

const (
	creatorID = 100
	studentID = 7
)

type env struct {
	svc    *Service
	store  *SQLStore
	cat    *exam.MemoryCatalog
	sched  *fakeScheduler
	clock  *clock
	events *syncx.EventRepo
	db     db.Querier

	exam    exam.Exam
	qA, qB  exam.Question
	rightA  int64
	wrongB  int64
	rightB  int64
	choiceA []int64
}

// newEnv seeds an exam of duration 30 with question A (score 2) and B (score 3).
func newEnv(t *testing.T, mutate ...func(*exam.Exam)) *env {
	t.Helper()
	d, err := db.Open(context.Background(), db.DriverSQLite, "file:"+t.Name()+"?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	e := &env{
		cat:    exam.NewInMemoryCatalog(),
		sched:  &fakeScheduler{},
		clock:  &clock{t: t0},
		events: syncx.NewEventRepo("test"),
		db:     d,
	}
	e.store = NewSQLStore(d, e.events)

	e.qA = e.cat.PutQuestion(exam.Question{
		Content: "2+2?", Type: "single_choice", Score: 1,
		Choices: []exam.Choice{
			{Content: "4", IsCorrect: true, Explanation: "arithmetic"},
			{Content: "5"},
			{Content: "22"},
		},
	})
	e.qB = e.cat.PutQuestion(exam.Question{
		Content: "capital of France?", Type: "single_choice", Score: 1,
		Choices: []exam.Choice{{Content: "Paris", IsCorrect: true}, {Content: "Lyon"}},
	})
	e.rightA = e.qA.Choices[0].ID
	e.rightB, e.wrongB = e.qB.Choices[0].ID, e.qB.Choices[1].ID
	for _, c := range e.qA.Choices {
		e.choiceA = append(e.choiceA, c.ID)
	}

	ex := exam.Exam{
		CreatorID: creatorID,
		Title:     "General",
		Duration:  30,
		Questions: []exam.QuestionRef{{QuestionID: e.qA.ID, Score: 2}, {QuestionID: e.qB.ID, Score: 3}},
	}
	for _, m := range mutate {
		m(&ex)
	}
	if e.exam, err = e.cat.PutExam(ex); err != nil {
		t.Fatalf("PutExam: %v", err)
	}

	e.svc = NewService(e.store, e.cat, e.sched,
		WithClock(e.clock.Now),
		WithShuffle(func(int, func(i, j int)) {}),
	)
	return e
}

func (e *env) create(t *testing.T, userID int64) *View {
	t.Helper()
	v, err := e.svc.CreateAttempt(context.Background(), e.exam.ID, userID)
	if err != nil {
		t.Fatalf("CreateAttempt: %v", err)
	}
	return v
}

func (e *env) finishedEvents(t *testing.T) int {
	t.Helper()
	evs, err := e.events.Since(context.Background(), e.db, 0, 1000)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	n := 0
	for _, ev := range evs {
		if ev.Type == syncx.AttemptFinished {
			n++
		}
	}
	return n
}

func pick(id int64) *int64 { return &id }

func TestCreateAttemptSnapshotAndSchedule(t *testing.T) {
	e := newEnv(t)
	v := e.create(t, studentID)

	a := v.Attempt
	if a.ID == 0 || a.JobID != "job-1" || a.Duration != 30 || !a.StartedAt.Equal(t0) {
		t.Fatalf("unexpected attempt: %+v", a)
	}
	if len(a.Slots) != 2 || a.Slots[0].Order != 1 || a.Slots[1].Order != 2 {
		t.Fatalf("slots = %+v", a.Slots)
	}
	if a.Slots[0].Score != 2 || a.Slots[1].Score != 3 || len(a.Slots[0].ChoiceIDs) != 0 {
		t.Fatalf("slot scores = %+v", a.Slots)
	}
	if v.TotalScore != 5 || v.IsFinished || !v.Deadline.Equal(t0.Add(30*time.Minute)) {
		t.Fatalf("view = %+v", v)
	}
	for _, q := range v.Questions {
		for _, c := range q.Choices {
			if c.IsCorrect != nil || c.Explanation != "" {
				t.Fatalf("answer key leaked on create: %+v", c)
			}
		}
	}

	if len(e.sched.jobs) != 1 {
		t.Fatalf("want 1 job, got %d", len(e.sched.jobs))
	}
	job := e.sched.jobs[0]
	if job.name != JobSubmitExam || job.opts.Delay != 30*time.Minute || job.opts.MaxAttempts != schedule.DefaultMaxAttempts {
		t.Fatalf("job = %+v", job)
	}
	var p submitPayload
	if err := json.Unmarshal(job.payload, &p); err != nil || p.ID != a.ID {
		t.Fatalf("payload = %s (%v)", job.payload, err)
	}

	stored, err := e.store.Get(context.Background(), a.ID, studentID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.JobID != "job-1" || len(stored.Slots) != 2 || stored.Slots[1].QuestionID != e.qB.ID {
		t.Fatalf("stored = %+v", stored)
	}
}

func TestCreateAttemptShufflesSnapshot(t *testing.T) {
	e := newEnv(t)
	e.svc.shuffle = func(n int, swap func(i, j int)) { swap(0, n-1) }
	v := e.create(t, studentID)
	if v.Attempt.Slots[0].QuestionID != e.qB.ID || v.Attempt.Slots[0].Order != 1 || v.Attempt.Slots[0].Score != 3 {
		t.Fatalf("slots = %+v", v.Attempt.Slots)
	}
	if v.Questions[0].ID != e.qB.ID {
		t.Fatalf("view order = %+v", v.Questions)
	}
}

func TestCreateAttemptExamNotFound(t *testing.T) {
	e := newEnv(t)
	_, err := e.svc.CreateAttempt(context.Background(), 9999, studentID)
	if !errors.Is(err, apperrors.ErrExamNotFound) {
		t.Fatalf("want exam_not_found, got %v", err)
	}
}

func TestCreateAttemptRejectsOngoing(t *testing.T) {
	e := newEnv(t)
	v := e.create(t, studentID)

	_, err := e.svc.CreateAttempt(context.Background(), e.exam.ID, studentID)
	if !errors.Is(err, apperrors.ErrAttemptInProgress) {
		t.Fatalf("want in progress, got %v", err)
	}
	if got := apperrors.Details(err)["attempt_id"]; got != v.Attempt.ID {
		t.Fatalf("details attempt_id = %v", got)
	}

	ongoing, err := e.svc.GetOngoingAttempt(context.Background(), e.exam.ID, studentID)
	if err != nil || ongoing == nil || ongoing.ID != v.Attempt.ID {
		t.Fatalf("ongoing = %+v, %v", ongoing, err)
	}
}

func TestQuotaCountsSoftDeletedAttempts(t *testing.T) {
	e := newEnv(t, func(ex *exam.Exam) { ex.MaxAttempt = 2 })
	ctx := context.Background()

	first := e.create(t, studentID)
	if _, err := e.svc.Submit(ctx, first.Attempt.ID, studentID, nil); err != nil {
		t.Fatalf("submit 1: %v", err)
	}
	second := e.create(t, studentID)
	if _, err := e.svc.Submit(ctx, second.Attempt.ID, studentID, nil); err != nil {
		t.Fatalf("submit 2: %v", err)
	}
	if err := e.svc.Destroy(ctx, second.Attempt.ID, studentID); err != nil {
		t.Fatalf("destroy: %v", err)
	}

	_, err := e.svc.CreateAttempt(ctx, e.exam.ID, studentID)
	if !errors.Is(err, apperrors.ErrNoMoreTurns) {
		t.Fatalf("want no_more_turns, got %v", err)
	}
	d := apperrors.Details(err)
	if d["current_attempts"] != 2 || d["max_attempts"] != 2 {
		t.Fatalf("details = %v", d)
	}

	// the exam creator is not bound by the quota
	if _, err := e.svc.CreateAttempt(ctx, e.exam.ID, creatorID); err != nil {
		t.Fatalf("creator create: %v", err)
	}
}

func TestCreateAttemptAfterLatestStart(t *testing.T) {
	latest := t0.Add(-time.Minute)
	e := newEnv(t, func(ex *exam.Exam) { ex.LatestStartTime = &latest })

	_, err := e.svc.CreateAttempt(context.Background(), e.exam.ID, studentID)
	if !errors.Is(err, apperrors.ErrOverdueDoingExam) {
		t.Fatalf("want overdue, got %v", err)
	}
	if _, err := e.svc.CreateAttempt(context.Background(), e.exam.ID, creatorID); err != nil {
		t.Fatalf("creator should bypass window: %v", err)
	}
}

func TestCreateAttemptAtExactLatestStart(t *testing.T) {
	latest := t0
	e := newEnv(t, func(ex *exam.Exam) { ex.LatestStartTime = &latest })
	_, err := e.svc.CreateAttempt(context.Background(), e.exam.ID, studentID)
	if !errors.Is(err, apperrors.ErrOverdueDoingExam) {
		t.Fatalf("want overdue at the boundary, got %v", err)
	}
}

func TestCreateAttemptMissingQuestion(t *testing.T) {
	e := newEnv(t, func(ex *exam.Exam) {
		ex.Questions = append(ex.Questions, exam.QuestionRef{QuestionID: 9999, Score: 1})
	})
	_, err := e.svc.CreateAttempt(context.Background(), e.exam.ID, studentID)
	if !errors.Is(err, apperrors.ErrExistInvalidQuestion) {
		t.Fatalf("want exist_invalid_question, got %v", err)
	}
	if len(e.sched.jobs) != 0 {
		t.Fatalf("nothing should be scheduled")
	}
	if a, _ := e.svc.GetOngoingAttempt(context.Background(), e.exam.ID, studentID); a != nil {
		t.Fatalf("attempt should not exist: %+v", a)
	}
}

func TestCreateAttemptRollsBackWhenSchedulingFails(t *testing.T) {
	e := newEnv(t)
	e.sched.failWith = errors.New("redis down")

	_, err := e.svc.CreateAttempt(context.Background(), e.exam.ID, studentID)
	if !errors.Is(err, apperrors.ErrSchedulerUnavailable) {
		t.Fatalf("want scheduler_unavailable, got %v", err)
	}
	if a, _ := e.svc.GetOngoingAttempt(context.Background(), e.exam.ID, studentID); a != nil {
		t.Fatalf("attempt without deadline must not exist: %+v", a)
	}

	e.sched.failWith = nil
	e.create(t, studentID)
}

func TestSaveAnswersMergesSlots(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	v := e.create(t, studentID)

	if _, err := e.svc.SaveAnswers(ctx, v.Attempt.ID, studentID, []AnswerInput{
		{QuestionID: e.qA.ID, ChoiceID: pick(e.rightA)},
	}); err != nil {
		t.Fatalf("save A: %v", err)
	}
	a, err := e.svc.SaveAnswers(ctx, v.Attempt.ID, studentID, []AnswerInput{
		{QuestionID: e.qB.ID, ChoiceIDs: []int64{e.wrongB}},
		{QuestionID: 12345, ChoiceIDs: []int64{1}},
	})
	if err != nil {
		t.Fatalf("save B: %v", err)
	}
	if len(a.Slots[0].ChoiceIDs) != 1 || a.Slots[0].ChoiceIDs[0] != e.rightA {
		t.Fatalf("A lost: %+v", a.Slots)
	}
	if len(a.Slots[1].ChoiceIDs) != 1 || a.Slots[1].ChoiceIDs[0] != e.wrongB {
		t.Fatalf("B not saved: %+v", a.Slots)
	}
	if len(a.Slots) != 2 {
		t.Fatalf("unknown question added a slot: %+v", a.Slots)
	}
}

func TestSaveAnswersAfterDeadlineLeavesSlots(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	v := e.create(t, studentID)
	if _, err := e.svc.SaveAnswers(ctx, v.Attempt.ID, studentID, []AnswerInput{
		{QuestionID: e.qA.ID, ChoiceID: pick(e.rightA)},
	}); err != nil {
		t.Fatalf("save: %v", err)
	}

	e.clock.Advance(30 * time.Minute)
	_, err := e.svc.SaveAnswers(ctx, v.Attempt.ID, studentID, []AnswerInput{
		{QuestionID: e.qA.ID, ChoiceID: pick(e.choiceA[1])},
	})
	if !errors.Is(err, apperrors.ErrSubmissionClosed) {
		t.Fatalf("want submission closed, got %v", err)
	}
	stored, _ := e.store.Get(ctx, v.Attempt.ID, studentID)
	if got := stored.Slots[0].ChoiceIDs; len(got) != 1 || got[0] != e.rightA {
		t.Fatalf("slots changed after close: %+v", stored.Slots)
	}

	_, err = e.svc.Submit(ctx, v.Attempt.ID, studentID, nil)
	if !errors.Is(err, apperrors.ErrSubmissionClosed) {
		t.Fatalf("late manual submit: want closed, got %v", err)
	}
}

func TestSaveAnswersOtherUser(t *testing.T) {
	e := newEnv(t)
	v := e.create(t, studentID)
	_, err := e.svc.SaveAnswers(context.Background(), v.Attempt.ID, 8, nil)
	if !errors.Is(err, apperrors.ErrAttemptNotFound) {
		t.Fatalf("want not found, got %v", err)
	}
}

func TestSubmitGradesEndToEnd(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	v := e.create(t, studentID)
	e.clock.Advance(10 * time.Minute)

	a, err := e.svc.Submit(ctx, v.Attempt.ID, studentID, []AnswerInput{
		{QuestionID: e.qA.ID, ChoiceID: pick(e.rightA)},
		{QuestionID: e.qB.ID, ChoiceID: pick(e.wrongB)},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if *a.CorrectQuestion != 1 || *a.WrongQuestion != 1 || *a.Score != 2 || *a.TotalQuestion != 2 {
		t.Fatalf("graded = correct %d wrong %d score %v total %d",
			*a.CorrectQuestion, *a.WrongQuestion, *a.Score, *a.TotalQuestion)
	}
	if !a.FinishedAt.Equal(t0.Add(10 * time.Minute)) {
		t.Fatalf("finished_at = %v", a.FinishedAt)
	}
	if !e.sched.wasCancelled(v.Attempt.JobID) {
		t.Fatalf("deadline job should be cancelled")
	}

	stored, _ := e.store.Get(ctx, a.ID, studentID)
	if stored.Score == nil || *stored.Score != 2 || stored.FinishedAt == nil {
		t.Fatalf("stored = %+v", stored)
	}
}

func TestSubmitUnansweredCountsInTotal(t *testing.T) {
	e := newEnv(t)
	v := e.create(t, studentID)
	a, err := e.svc.Submit(context.Background(), v.Attempt.ID, studentID, []AnswerInput{
		{QuestionID: e.qA.ID, ChoiceID: pick(e.rightA)},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if *a.CorrectQuestion != 1 || *a.WrongQuestion != 0 || *a.TotalQuestion != 2 || *a.Score != 2 {
		t.Fatalf("graded = %d/%d/%d %v", *a.CorrectQuestion, *a.WrongQuestion, *a.TotalQuestion, *a.Score)
	}
}

func TestGradingUsesLiveAnswerKey(t *testing.T) {
	e := newEnv(t)
	v := e.create(t, studentID)

	// the key for B is corrected after the attempt started
	fixed := e.qB
	fixed.Choices = []exam.Choice{
		{ID: e.rightB, QuestionID: e.qB.ID, Content: "Paris"},
		{ID: e.wrongB, QuestionID: e.qB.ID, Content: "Lyon", IsCorrect: true},
	}
	e.cat.PutQuestion(fixed)

	a, err := e.svc.Submit(context.Background(), v.Attempt.ID, studentID, []AnswerInput{
		{QuestionID: e.qB.ID, ChoiceID: pick(e.wrongB)},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if *a.CorrectQuestion != 1 || *a.Score != 3 {
		t.Fatalf("live key not used: correct %d score %v", *a.CorrectQuestion, *a.Score)
	}
}

func TestGradingSkipsQuestionRemovedFromCatalog(t *testing.T) {
	e := newEnv(t)
	v := e.create(t, studentID)
	e.cat.DeleteQuestion(e.qB.ID)

	a, err := e.svc.Submit(context.Background(), v.Attempt.ID, studentID, []AnswerInput{
		{QuestionID: e.qA.ID, ChoiceID: pick(e.rightA)},
		{QuestionID: e.qB.ID, ChoiceID: pick(e.wrongB)},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if *a.TotalQuestion != 1 || *a.CorrectQuestion != 1 || *a.WrongQuestion != 0 {
		t.Fatalf("graded = %d/%d/%d", *a.TotalQuestion, *a.CorrectQuestion, *a.WrongQuestion)
	}
}

func TestSystemSubmitIsIdempotent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	v := e.create(t, studentID)
	if _, err := e.svc.SaveAnswers(ctx, v.Attempt.ID, studentID, []AnswerInput{
		{QuestionID: e.qA.ID, ChoiceID: pick(e.rightA)},
	}); err != nil {
		t.Fatalf("save: %v", err)
	}

	e.clock.Advance(31 * time.Minute)
	if err := e.svc.SystemSubmit(ctx, v.Attempt.ID); err != nil {
		t.Fatalf("first: %v", err)
	}
	first, _ := e.store.Get(ctx, v.Attempt.ID, 0)

	e.clock.Advance(time.Minute)
	if err := e.svc.SystemSubmit(ctx, v.Attempt.ID); err != nil {
		t.Fatalf("second: %v", err)
	}
	second, _ := e.store.Get(ctx, v.Attempt.ID, 0)

	if !first.FinishedAt.Equal(t0.Add(30 * time.Minute)) {
		t.Fatalf("finished_at should be the deadline, got %v", first.FinishedAt)
	}
	if !second.FinishedAt.Equal(*first.FinishedAt) || *second.Score != *first.Score || *first.Score != 2 {
		t.Fatalf("second run changed result: %+v vs %+v", second, first)
	}
	if n := e.finishedEvents(t); n != 1 {
		t.Fatalf("want 1 grading write, got %d", n)
	}

	_, err := e.svc.Submit(ctx, v.Attempt.ID, studentID, nil)
	if !errors.Is(err, apperrors.ErrSubmissionClosed) {
		t.Fatalf("submit after system close: want closed, got %v", err)
	}
}

func TestSystemSubmitUnknownAttempt(t *testing.T) {
	e := newEnv(t)
	if err := e.svc.SystemSubmit(context.Background(), 424242); err != nil {
		t.Fatalf("unknown attempt should be a no-op, got %v", err)
	}
}

func TestManualAndSystemSubmitRace(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	v := e.create(t, studentID)
	e.clock.Advance(5 * time.Minute)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, errs[i] = e.svc.Submit(ctx, v.Attempt.ID, studentID, []AnswerInput{
					{QuestionID: e.qA.ID, ChoiceID: pick(e.rightA)},
				})
				return
			}
			errs[i] = e.svc.SystemSubmit(ctx, v.Attempt.ID)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil && !errors.Is(err, apperrors.ErrSubmissionClosed) && !errors.Is(err, errContention) {
			t.Fatalf("closer %d: %v", i, err)
		}
	}
	if n := e.finishedEvents(t); n != 1 {
		t.Fatalf("want exactly one grading write, got %d", n)
	}
	stored, _ := e.store.Get(ctx, v.Attempt.ID, 0)
	if stored.FinishedAt == nil || stored.Score == nil {
		t.Fatalf("attempt not finished: %+v", stored)
	}
}

func TestSnapshotStableWhenExamChanges(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	v := e.create(t, studentID)

	extra := e.cat.PutQuestion(exam.Question{Content: "new", Type: "single_choice", Score: 1,
		Choices: []exam.Choice{{Content: "x", IsCorrect: true}}})
	ex := e.exam
	ex.Questions = append(ex.Questions, exam.QuestionRef{QuestionID: extra.ID, Score: 5})
	if _, err := e.cat.PutExam(ex); err != nil {
		t.Fatalf("PutExam: %v", err)
	}

	stored, _ := e.store.Get(ctx, v.Attempt.ID, studentID)
	if len(stored.Slots) != 2 {
		t.Fatalf("snapshot changed: %+v", stored.Slots)
	}
	view, err := e.svc.Detail(ctx, v.Attempt.ID, studentID)
	if err != nil {
		t.Fatalf("Detail: %v", err)
	}
	if len(view.Questions) != 2 || view.TotalScore != 5 {
		t.Fatalf("view = %+v", view)
	}
}

func TestDetailMasksAnswerKeyUntilFinished(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	v := e.create(t, studentID)
	if _, err := e.svc.SaveAnswers(ctx, v.Attempt.ID, studentID, []AnswerInput{
		{QuestionID: e.qA.ID, ChoiceID: pick(e.choiceA[1])},
	}); err != nil {
		t.Fatalf("save: %v", err)
	}

	open, err := e.svc.Detail(ctx, v.Attempt.ID, studentID)
	if err != nil {
		t.Fatalf("Detail: %v", err)
	}
	if open.Exam.Title != "General" || open.IsFinished {
		t.Fatalf("open view = %+v", open)
	}
	qa := open.Questions[0]
	if !qa.Choices[1].IsSelected || qa.Choices[0].IsSelected {
		t.Fatalf("selection = %+v", qa.Choices)
	}
	for _, c := range qa.Choices {
		if c.IsCorrect != nil || c.Explanation != "" {
			t.Fatalf("answer key leaked: %+v", c)
		}
	}

	_, err = e.svc.DetailAfterSubmit(ctx, v.Attempt.ID, studentID)
	if !errors.Is(err, apperrors.ErrAttemptNotFinished) {
		t.Fatalf("want not finished, got %v", err)
	}

	if _, err := e.svc.Submit(ctx, v.Attempt.ID, studentID, nil); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	done, err := e.svc.DetailAfterSubmit(ctx, v.Attempt.ID, studentID)
	if err != nil {
		t.Fatalf("DetailAfterSubmit: %v", err)
	}
	c0 := done.Questions[0].Choices[0]
	if c0.IsCorrect == nil || !*c0.IsCorrect || c0.Explanation != "arithmetic" {
		t.Fatalf("key not revealed: %+v", c0)
	}
	if c1 := done.Questions[0].Choices[1]; c1.IsCorrect == nil || *c1.IsCorrect || !c1.IsSelected {
		t.Fatalf("choice 1 = %+v", c1)
	}
}

func TestDetailOtherUserUnauthorized(t *testing.T) {
	e := newEnv(t)
	v := e.create(t, studentID)
	_, err := e.svc.Detail(context.Background(), v.Attempt.ID, 8)
	if !errors.Is(err, apperrors.ErrAttemptUnauthorized) {
		t.Fatalf("want unauthorized, got %v", err)
	}
	_, err = e.svc.DetailAfterSubmit(context.Background(), v.Attempt.ID, 8)
	if !errors.Is(err, apperrors.ErrAttemptUnauthorized) {
		t.Fatalf("want unauthorized, got %v", err)
	}
}

func TestDetailMissingQuestionPlaceholder(t *testing.T) {
	e := newEnv(t)
	v := e.create(t, studentID)
	e.cat.DeleteQuestion(e.qA.ID)

	view, err := e.svc.Detail(context.Background(), v.Attempt.ID, studentID)
	if err != nil {
		t.Fatalf("Detail: %v", err)
	}
	if !view.Questions[0].Missing || view.Questions[0].Score != 2 || view.TotalScore != 5 {
		t.Fatalf("placeholder = %+v", view.Questions[0])
	}
}

func TestDestroyCancelsPendingJob(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	v := e.create(t, studentID)

	if err := e.svc.Destroy(ctx, v.Attempt.ID, 8); !errors.Is(err, apperrors.ErrAttemptNotFound) {
		t.Fatalf("other user destroy: %v", err)
	}
	if err := e.svc.Destroy(ctx, v.Attempt.ID, studentID); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if !e.sched.wasCancelled(v.Attempt.JobID) {
		t.Fatalf("job not cancelled")
	}
	if _, err := e.store.Get(ctx, v.Attempt.ID, studentID); !errors.Is(err, apperrors.ErrAttemptNotFound) {
		t.Fatalf("deleted attempt still visible: %v", err)
	}
	// a late firing job is harmless
	if err := e.svc.SystemSubmit(ctx, v.Attempt.ID); err != nil {
		t.Fatalf("SystemSubmit on deleted: %v", err)
	}
	if n, _ := e.store.CountFinished(ctx, e.exam.ID, studentID); n != 0 {
		t.Fatalf("deleted open attempt must not count, got %d", n)
	}
	// the open slot is free again
	e.create(t, studentID)
}

func TestListAttempts(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	a1 := e.create(t, studentID)
	if _, err := e.svc.Submit(ctx, a1.Attempt.ID, studentID, nil); err != nil {
		t.Fatalf("submit: %v", err)
	}
	e.clock.Advance(time.Minute)
	e.create(t, studentID)
	e.create(t, 8)

	page, err := e.svc.ListAttempts(ctx, ListOpts{UserID: studentID})
	if err != nil {
		t.Fatalf("ListAttempts: %v", err)
	}
	if page.Total != 2 || len(page.Items) != 2 || page.Limit != 50 {
		t.Fatalf("page = %+v", page)
	}
	// exams live in the memory catalog here, so the join yields no title
	if page.Items[0].IsFinished || !page.Items[1].IsFinished || page.Items[1].ExamTitle != "" {
		t.Fatalf("items = %+v", page.Items)
	}
	if page.Items[1].Score == nil || *page.Items[1].Score != 0 {
		t.Fatalf("score = %v", page.Items[1].Score)
	}

	finished := true
	page, err = e.svc.ListAttempts(ctx, ListOpts{ExamID: e.exam.ID, IsFinished: &finished})
	if err != nil {
		t.Fatalf("ListAttempts finished: %v", err)
	}
	if page.Total != 1 || page.Items[0].ID != a1.Attempt.ID {
		t.Fatalf("finished page = %+v", page)
	}

	page, _ = e.svc.ListAttempts(ctx, ListOpts{Limit: 1, Offset: 1})
	if page.Total != 3 || len(page.Items) != 1 || page.Offset != 1 {
		t.Fatalf("paged = %+v", page)
	}
}

func TestSweepOverdue(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	v := e.create(t, studentID)

	e.clock.Advance(30*time.Minute + 10*time.Second)
	n, err := e.svc.SweepOverdue(ctx, 30*time.Second)
	if err != nil || n != 0 {
		t.Fatalf("inside grace: n=%d err=%v", n, err)
	}

	e.clock.Advance(time.Minute)
	n, err = e.svc.SweepOverdue(ctx, 30*time.Second)
	if err != nil || n != 1 {
		t.Fatalf("sweep: n=%d err=%v", n, err)
	}
	stored, _ := e.store.Get(ctx, v.Attempt.ID, 0)
	if stored.FinishedAt == nil || !stored.FinishedAt.Equal(t0.Add(30*time.Minute)) {
		t.Fatalf("finished_at = %v", stored.FinishedAt)
	}
}

func TestCreateFinalizesExpiredOngoingAttempt(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	old := e.create(t, studentID)

	e.clock.Advance(45 * time.Minute)
	fresh := e.create(t, studentID)
	if fresh.Attempt.ID == old.Attempt.ID {
		t.Fatalf("expected a new attempt")
	}
	stored, _ := e.store.Get(ctx, old.Attempt.ID, 0)
	if stored.FinishedAt == nil {
		t.Fatalf("expired attempt should be finalized")
	}
}

func TestSubmitJobHandler(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	reg := schedule.NewRegistry(e.svc.log)
	e.svc.RegisterJobs(reg)

	v := e.create(t, studentID)
	job := schedule.Job{ID: v.Attempt.JobID, Name: JobSubmitExam, Payload: e.sched.jobs[0].payload, Attempt: 1, MaxAttempts: 3}
	if err := reg.Dispatch(ctx, job); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	stored, _ := e.store.Get(ctx, v.Attempt.ID, 0)
	if stored.FinishedAt == nil {
		t.Fatalf("job did not finish the attempt")
	}

	bad := schedule.Job{ID: "x", Name: JobSubmitExam, Payload: []byte("{"), Attempt: 1}
	if err := reg.Dispatch(ctx, bad); err != nil {
		t.Fatalf("bad payload should be dropped, got %v", err)
	}
}

func TestSubmitJobRetriesOnCatalogFailure(t *testing.T) {
	e := newEnv(t)
	v := e.create(t, studentID)
	e.svc.catalog = failingCatalog{e.cat}

	err := e.svc.handleSubmitJob(context.Background(), schedule.Job{ID: "j", Name: JobSubmitExam,
		Payload: []byte(fmt.Sprintf(`{"id":%d}`, v.Attempt.ID)), Attempt: 1})
	if err == nil {
		t.Fatalf("catalog outage should surface for redelivery")
	}
	stored, _ := e.store.Get(context.Background(), v.Attempt.ID, 0)
	if stored.FinishedAt != nil {
		t.Fatalf("attempt must stay open")
	}
}

type failingCatalog struct{ *exam.MemoryCatalog }

func (failingCatalog) ListQuestions(context.Context, []int64) ([]exam.Question, error) {
	return nil, errors.New("catalog unavailable")
}
