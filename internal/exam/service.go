package exam

import (
	"context"
	"sync"

	"github.com/mind-engage/mindengage-exams/internal/apperrors"
)

// Catalog is the read side of the question bank consumed by the attempt lifecycle.
type Catalog interface {
	GetExam(ctx context.Context, id int64) (Exam, error)
	// ListQuestions returns the questions that exist among ids, with choices.
	// Unknown ids are silently absent from the result.
	ListQuestions(ctx context.Context, ids []int64) ([]Question, error)
}

// MemoryCatalog is an in-process Catalog used in offline demos and tests.
type MemoryCatalog struct {
	mu        sync.RWMutex
	exams     map[int64]Exam
	questions map[int64]Question
	nextID    int64
}

func NewInMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{
		exams:     map[int64]Exam{},
		questions: map[int64]Question{},
	}
}

func (m *MemoryCatalog) PutExam(e Exam) (Exam, error) {
	if err := e.Validate(); err != nil {
		return Exam{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == 0 {
		m.nextID++
		e.ID = m.nextID
	}
	e.Questions = append([]QuestionRef(nil), e.Questions...)
	m.exams[e.ID] = e
	return e, nil
}

func (m *MemoryCatalog) PutQuestion(q Question) Question {
	m.mu.Lock()
	defer m.mu.Unlock()
	if q.ID == 0 {
		m.nextID++
		q.ID = m.nextID
	}
	choices := make([]Choice, len(q.Choices))
	for i, c := range q.Choices {
		if c.ID == 0 {
			m.nextID++
			c.ID = m.nextID
		}
		c.QuestionID = q.ID
		choices[i] = c
	}
	q.Choices = choices
	m.questions[q.ID] = q
	return q
}

// DeleteQuestion removes a question from the bank; exams keep referencing it.
func (m *MemoryCatalog) DeleteQuestion(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.questions, id)
}

func (m *MemoryCatalog) GetExam(_ context.Context, id int64) (Exam, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.exams[id]
	if !ok {
		return Exam{}, apperrors.New(apperrors.ErrExamNotFound)
	}
	e.Questions = append([]QuestionRef(nil), e.Questions...)
	return e, nil
}

func (m *MemoryCatalog) ListQuestions(_ context.Context, ids []int64) ([]Question, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[int64]bool, len(ids))
	out := make([]Question, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if q, ok := m.questions[id]; ok {
			q.Choices = append([]Choice(nil), q.Choices...)
			out = append(out, q)
		}
	}
	return out, nil
}
