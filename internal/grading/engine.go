package grading

// Q is a minimal view of a question needed for grading.
type Q struct {
	ID      int64
	Type    string
	Score   float64
	Correct []int64 // correct choice ids, fresh from the catalog
}

// Outcome of grading a single question.
type Outcome int

const (
	Skipped Outcome = iota
	Correct
	Wrong
)

func (o Outcome) String() string {
	switch o {
	case Correct:
		return "correct"
	case Wrong:
		return "wrong"
	default:
		return "skipped"
	}
}

// Result aggregates the outcome of an attempt.
type Result struct {
	TotalQuestion int
	Correct       int
	Wrong         int
	Score         float64
	Outcomes      map[int64]Outcome
}

// Strategy grades a single question.
type Strategy interface {
	Grade(q Q, selected []int64) Outcome
}

// Grader routes by question type to the correct Strategy.
type Grader struct {
	strategies map[string]Strategy
	fallback   Strategy
}

type Option func(*Grader)

// WithStrategy installs s for questions of type typ.
func WithStrategy(typ string, s Strategy) Option {
	return func(g *Grader) { g.strategies[typ] = s }
}

// NewDefaultGrader grades every choice question by exact set equality.
func NewDefaultGrader(opts ...Option) *Grader {
	g := &Grader{
		strategies: map[string]Strategy{
			"single_choice":   exactSetStrategy{},
			"multiple_choice": exactSetStrategy{},
		},
		fallback: exactSetStrategy{},
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Grade scores questions against selected choice ids keyed by question id.
// TotalQuestion counts every question passed in; a question is neither correct
// nor wrong when its selection or its correct set is empty.
func (g *Grader) Grade(questions []Q, selected map[int64][]int64) Result {
	res := Result{
		TotalQuestion: len(questions),
		Outcomes:      make(map[int64]Outcome, len(questions)),
	}
	for _, q := range questions {
		s, ok := g.strategies[q.Type]
		if !ok {
			s = g.fallback
		}
		out := s.Grade(q, selected[q.ID])
		res.Outcomes[q.ID] = out
		switch out {
		case Correct:
			res.Correct++
			res.Score += q.Score
		case Wrong:
			res.Wrong++
		}
	}
	return res
}

type exactSetStrategy struct{}

func (exactSetStrategy) Grade(q Q, selected []int64) Outcome {
	if len(selected) == 0 || len(q.Correct) == 0 {
		return Skipped
	}
	if setEqual(toSet(selected), toSet(q.Correct)) {
		return Correct
	}
	return Wrong
}

// helpers

func toSet(arr []int64) map[int64]struct{} {
	m := make(map[int64]struct{}, len(arr))
	for _, s := range arr {
		m[s] = struct{}{}
	}
	return m
}

func setEqual(a, b map[int64]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}
