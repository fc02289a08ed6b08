package exam

import (
	"context"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"
)

// Seed is a YAML fixture of questions and the exams built from them.
// Exams reference questions by key since ids are assigned on insert.
type Seed struct {
	Questions []SeedQuestion `yaml:"questions"`
	Exams     []SeedExam     `yaml:"exams"`
}

type SeedQuestion struct {
	Key         string       `yaml:"key"`
	Content     string       `yaml:"content"`
	Description string       `yaml:"description"`
	Type        string       `yaml:"type"`
	Score       float64      `yaml:"score"`
	Choices     []SeedChoice `yaml:"choices"`
}

type SeedChoice struct {
	Content     string `yaml:"content"`
	Explanation string `yaml:"explanation"`
	Correct     bool   `yaml:"correct"`
}

type SeedExam struct {
	Title             string     `yaml:"title"`
	Note              string     `yaml:"note"`
	CreatorID         int64      `yaml:"creator_id"`
	Duration          int        `yaml:"duration"`
	MaxAttempt        int        `yaml:"max_attempt"`
	IsPublic          bool       `yaml:"is_public"`
	EarliestStartTime *time.Time `yaml:"earliest_start_time"`
	LatestStartTime   *time.Time `yaml:"latest_start_time"`
	Questions         []SeedRef  `yaml:"questions"`
}

type SeedRef struct {
	Key   string  `yaml:"key"`
	Score float64 `yaml:"score"`
}

// CatalogWriter is the write side used to load fixtures.
type CatalogWriter interface {
	PutQuestion(ctx context.Context, q Question) (Question, error)
	PutExam(ctx context.Context, e Exam) (Exam, error)
}

// LoadSeed decodes a YAML fixture from r and inserts it through w.
// It returns the number of exams created.
func LoadSeed(ctx context.Context, r io.Reader, w CatalogWriter) (int, error) {
	var s Seed
	if err := yaml.NewDecoder(r).Decode(&s); err != nil {
		return 0, fmt.Errorf("decode seed: %w", err)
	}

	ids := make(map[string]int64, len(s.Questions))
	for _, sq := range s.Questions {
		if sq.Key == "" {
			return 0, fmt.Errorf("seed question %q has no key", sq.Content)
		}
		if _, dup := ids[sq.Key]; dup {
			return 0, fmt.Errorf("duplicate seed question key %q", sq.Key)
		}
		q := Question{Content: sq.Content, Description: sq.Description, Type: sq.Type, Score: sq.Score}
		if q.Type == "" {
			q.Type = "single_choice"
		}
		for _, c := range sq.Choices {
			q.Choices = append(q.Choices, Choice{Content: c.Content, Explanation: c.Explanation, IsCorrect: c.Correct})
		}
		saved, err := w.PutQuestion(ctx, q)
		if err != nil {
			return 0, fmt.Errorf("seed question %q: %w", sq.Key, err)
		}
		ids[sq.Key] = saved.ID
	}

	n := 0
	for _, se := range s.Exams {
		e := Exam{
			Title:             se.Title,
			Note:              se.Note,
			CreatorID:         se.CreatorID,
			Duration:          se.Duration,
			MaxAttempt:        se.MaxAttempt,
			IsPublic:          se.IsPublic,
			EarliestStartTime: se.EarliestStartTime,
			LatestStartTime:   se.LatestStartTime,
		}
		for _, ref := range se.Questions {
			id, ok := ids[ref.Key]
			if !ok {
				return n, fmt.Errorf("exam %q references unknown question %q", se.Title, ref.Key)
			}
			e.Questions = append(e.Questions, QuestionRef{QuestionID: id, Score: ref.Score})
		}
		if _, err := w.PutExam(ctx, e); err != nil {
			return n, fmt.Errorf("seed exam %q: %w", se.Title, err)
		}
		n++
	}
	return n, nil
}
