package attempt

import (
	"reflect"
	"testing"
	"time"
)

func TestMergeAnswers(t *testing.T) {
	slots := []AnswerSlot{
		{QuestionID: 1, Order: 1, Score: 2, ChoiceIDs: []int64{10}},
		{QuestionID: 2, Order: 2, Score: 3},
	}
	one := int64(21)
	got := mergeAnswers(slots, []AnswerInput{
		{QuestionID: 2, ChoiceID: &one, ChoiceIDs: []int64{22, 21, 22}},
		{QuestionID: 99, ChoiceIDs: []int64{5}},
	})
	if !reflect.DeepEqual(got[0].ChoiceIDs, []int64{10}) {
		t.Fatalf("untouched slot changed: %+v", got[0])
	}
	if !reflect.DeepEqual(got[1].ChoiceIDs, []int64{21, 22}) {
		t.Fatalf("merged slot = %+v", got[1])
	}
	if slots[1].ChoiceIDs != nil {
		t.Fatalf("input slots mutated")
	}

	cleared := mergeAnswers(got, []AnswerInput{{QuestionID: 1}})
	if len(cleared[0].ChoiceIDs) != 0 {
		t.Fatalf("empty entry should clear: %+v", cleared[0])
	}

	last := mergeAnswers(slots, []AnswerInput{
		{QuestionID: 1, ChoiceIDs: []int64{11}},
		{QuestionID: 1, ChoiceIDs: []int64{12}},
	})
	if !reflect.DeepEqual(last[0].ChoiceIDs, []int64{12}) {
		t.Fatalf("last entry should win: %+v", last[0])
	}
}

func TestAcceptsAnswers(t *testing.T) {
	start := time.Date(2027, 1, 1, 9, 0, 0, 0, time.UTC)
	a := &Attempt{StartedAt: start, Duration: 30}

	if !a.AcceptsAnswers(start.Add(29 * time.Minute)) {
		t.Fatalf("should accept before deadline")
	}
	if a.AcceptsAnswers(start.Add(30 * time.Minute)) {
		t.Fatalf("deadline is exclusive")
	}
	done := start.Add(time.Minute)
	a.FinishedAt = &done
	if a.AcceptsAnswers(start.Add(2 * time.Minute)) {
		t.Fatalf("finished attempt should be closed")
	}
}
