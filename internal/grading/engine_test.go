package grading

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pavelanni/examshield/internal/model"
)

func mcq(id, key string, points int) model.Question {
	return model.Question{ID: id, Type: model.TypeMultipleChoice, Text: id, CorrectAnswer: model.Scalar(key), Points: points}
}

func answer(id string, a model.Answer) model.StudentAnswer {
	return model.StudentAnswer{QuestionID: id, Answer: a}
}

func mustGrade(t *testing.T, qs []model.Question, as []model.StudentAnswer) model.Result {
	t.Helper()
	res, err := New().Grade(qs, as)
	require.NoError(t, err)
	return res
}

func TestGradeEmptyExam(t *testing.T) {
	res := mustGrade(t, nil, []model.StudentAnswer{answer("q1", model.Scalar("x"))})
	require.Equal(t, 0, res.Score)
	require.Equal(t, 0, res.MaxScore)
	require.Equal(t, 0.0, res.Percentage)
	require.NotNil(t, res.GradedAnswers)
	require.Empty(t, res.GradedAnswers)

	out, err := json.Marshal(res)
	require.NoError(t, err)
	require.JSONEq(t, `{"score":0,"max_score":0,"percentage":0,"graded_answers":[]}`, string(out))
}

func TestGradeMCQWithShortAnswer(t *testing.T) {
	qs := []model.Question{
		mcq("q1", "4", 5),
		{ID: "q2", Type: model.TypeShortAnswer, Text: "Explain", Points: 10},
	}
	as := []model.StudentAnswer{
		answer("q1", model.Scalar("4")),
		answer("q2", model.Scalar("because of reasons")),
	}

	res := mustGrade(t, qs, as)
	require.Equal(t, 5, res.Score)
	require.Equal(t, 5, res.MaxScore)
	require.Equal(t, 100.0, res.Percentage)
	require.Len(t, res.GradedAnswers, 1)
	require.Equal(t, []string{"q2"}, res.ManualReview)
}

func TestGradeShortAnswerWithKeyIsNotAutoGraded(t *testing.T) {
	qs := []model.Question{
		{ID: "q1", Type: model.TypeShortAnswer, Text: "Capital?", CorrectAnswer: model.Scalar("Paris"), Points: 3},
	}
	res := mustGrade(t, qs, []model.StudentAnswer{answer("q1", model.Scalar("Paris"))})
	require.Equal(t, 0, res.MaxScore)
	require.Empty(t, res.GradedAnswers)
	require.Equal(t, []string{"q1"}, res.ManualReview)
}

func TestGradeEmptyKeysNeverCount(t *testing.T) {
	for _, typ := range model.QuestionTypes {
		for name, key := range map[string]model.Answer{
			"null":         {},
			"empty string": model.Scalar(""),
			"empty list":   model.Multi(),
		} {
			t.Run(string(typ)+"/"+name, func(t *testing.T) {
				qs := []model.Question{{ID: "q", Type: typ, Text: "t", CorrectAnswer: key, Points: 7}}
				res := mustGrade(t, qs, []model.StudentAnswer{answer("q", model.Scalar(""))})
				require.Equal(t, 0, res.MaxScore)
				require.Equal(t, 0, res.Score)
				require.Empty(t, res.GradedAnswers)
			})
		}
	}
}

func TestGradeComparisons(t *testing.T) {
	tests := []struct {
		name    string
		typ     model.QuestionType
		key     model.Answer
		answer  model.Answer
		correct bool
	}{
		{"case and whitespace", model.TypeFillBlank, model.Scalar("Paris"), model.Scalar(" paris "), true},
		{"wrong text", model.TypeFillBlank, model.Scalar("Paris"), model.Scalar("Lyon"), false},
		{"true false", model.TypeTrueFalse, model.Scalar("True"), model.Scalar("true"), true},
		{"numeric equivalent", model.TypeNumeric, model.Scalar("4"), model.Scalar("4.0"), true},
		{"numeric padded", model.TypeNumeric, model.Scalar(" 2.50 "), model.Scalar("2.5"), true},
		{"numeric word", model.TypeNumeric, model.Scalar("4"), model.Scalar("four"), false},
		{"numeric bad key", model.TypeNumeric, model.Scalar("four"), model.Scalar("four"), false},
		{"numeric different", model.TypeNumeric, model.Scalar("4"), model.Scalar("4.01"), false},
		{"numeric single element list", model.TypeNumeric, model.Scalar("10"), model.Multi("1e1"), true},
		{"numeric hex answer", model.TypeNumeric, model.Scalar("4"), model.Scalar("0x1p2"), false},
		{"numeric signed hex answer", model.TypeNumeric, model.Scalar("-4"), model.Scalar("-0X1P2"), false},
		{"numeric hex key", model.TypeNumeric, model.Scalar("0x10"), model.Scalar("16"), false},
		{"numeric signed exponent", model.TypeNumeric, model.Scalar("-400"), model.Scalar("-4e2"), true},
		{"scalar key vs single element list", model.TypeMultipleChoice, model.Scalar("B"), model.Multi(" b"), true},
		{"scalar key vs longer list", model.TypeMultipleChoice, model.Scalar("B"), model.Multi("B", "C"), false},
		{"no unicode folding", model.TypeFillBlank, model.Scalar("café"), model.Scalar("cafe\u0301"), false},
		{"multi reordered", model.TypeMultipleSelect, model.Multi("a", "b"), model.Multi("b", "a"), true},
		{"multi json string", model.TypeMultipleSelect, model.Multi("a", "b"), model.Scalar(`["B", "A"]`), true},
		{"multi delimited", model.TypeMultipleSelect, model.Multi("A", "B", "C"), model.Scalar("C||A||B"), true},
		{"multi delimited blanks dropped", model.TypeMultipleSelect, model.Multi("A", "B"), model.Scalar("A|| ||B||"), true},
		{"multi single raw value", model.TypeMultipleSelect, model.Multi("A"), model.Scalar(" a "), true},
		{"multi missing one", model.TypeMultipleSelect, model.Multi("A", "B"), model.Multi("A"), false},
		{"multi extra one", model.TypeMultipleSelect, model.Multi("A", "B"), model.Multi("A", "B", "C"), false},
		{"multi duplicates are counted", model.TypeMultipleSelect, model.Multi("A", "B"), model.Multi("A", "A"), false},
		{"multi malformed json", model.TypeMultipleSelect, model.Multi("A", "B"), model.Scalar(`["A", "B"`), false},
		{"multi json non-list", model.TypeMultipleSelect, model.Multi("A"), model.Scalar(`{"a":1}`), false},
		{"multi numbers in json", model.TypeMultipleSelect, model.Multi("1", "2"), model.Scalar(`[2, 1]`), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			qs := []model.Question{{ID: "q", Type: tt.typ, Text: "t", CorrectAnswer: tt.key, Points: 4}}
			res := mustGrade(t, qs, []model.StudentAnswer{answer("q", tt.answer)})
			require.Len(t, res.GradedAnswers, 1)
			require.Equal(t, tt.correct, res.GradedAnswers[0].IsCorrect)
			require.Equal(t, 4, res.MaxScore)
			if tt.correct {
				require.Equal(t, 4, res.Score)
			} else {
				require.Equal(t, 0, res.Score)
			}
		})
	}
}

func TestGradeMultiSelectDelimitedScenario(t *testing.T) {
	qs := []model.Question{
		{ID: "ms", Type: model.TypeMultipleSelect, Text: "Pick", CorrectAnswer: model.Multi("A", "B", "C"), Points: 10},
	}
	res := mustGrade(t, qs, []model.StudentAnswer{answer("ms", model.Scalar("C||A||B"))})
	require.True(t, res.GradedAnswers[0].IsCorrect)
	require.Equal(t, 10, res.Score)
	require.Equal(t, 100.0, res.Percentage)
}

func TestGradeUnanswered(t *testing.T) {
	qs := []model.Question{mcq("q1", "a", 2), mcq("q2", "b", 3)}
	res := mustGrade(t, qs, []model.StudentAnswer{answer("q1", model.Scalar("a"))})

	require.Equal(t, 2, res.Score)
	require.Equal(t, 5, res.MaxScore)
	require.InDelta(t, 40.0, res.Percentage, 1e-9)
	require.Len(t, res.GradedAnswers, 2)
	require.Equal(t, "q2", res.GradedAnswers[1].QuestionID)
	require.False(t, res.GradedAnswers[1].IsCorrect)
	require.Nil(t, res.GradedAnswers[1].Answer)
}

func TestGradeNullAnswerIsUnanswered(t *testing.T) {
	res := mustGrade(t, []model.Question{mcq("q1", "a", 1)}, []model.StudentAnswer{answer("q1", model.Answer{})})
	require.Nil(t, res.GradedAnswers[0].Answer)
	require.False(t, res.GradedAnswers[0].IsCorrect)
	require.Equal(t, 1, res.MaxScore)
}

func TestGradeFirstDuplicateWins(t *testing.T) {
	qs := []model.Question{mcq("q1", "a", 1)}

	res := mustGrade(t, qs, []model.StudentAnswer{
		answer("q1", model.Scalar("a")),
		answer("q1", model.Scalar("b")),
	})
	require.True(t, res.GradedAnswers[0].IsCorrect)

	res = mustGrade(t, qs, []model.StudentAnswer{
		answer("q1", model.Scalar("b")),
		answer("q1", model.Scalar("a")),
	})
	require.False(t, res.GradedAnswers[0].IsCorrect)
}

func TestGradeStoredAnswerForm(t *testing.T) {
	qs := []model.Question{
		{ID: "ms", Type: model.TypeMultipleSelect, Text: "t", CorrectAnswer: model.Multi("A", "B"), Points: 1},
		mcq("q", "x", 1),
	}
	res := mustGrade(t, qs, []model.StudentAnswer{
		answer("ms", model.Multi("B", "A")),
		answer("q", model.Scalar(" X ")),
	})
	require.Equal(t, `["B","A"]`, *res.GradedAnswers[0].Answer)
	require.Equal(t, " X ", *res.GradedAnswers[1].Answer)
}

func TestGradeIdempotent(t *testing.T) {
	qs := []model.Question{
		mcq("q1", "4", 5),
		{ID: "q2", Type: model.TypeMultipleSelect, Text: "t", CorrectAnswer: model.Multi("x", "y"), Points: 2},
		{ID: "q3", Type: model.TypeNumeric, Text: "t", CorrectAnswer: model.Scalar("3.5"), Points: 1},
	}
	as := []model.StudentAnswer{
		answer("q2", model.Scalar("y||x")),
		answer("q3", model.Scalar("abc")),
	}

	e := New()
	first, err := e.Grade(qs, as)
	require.NoError(t, err)
	second, err := e.Grade(qs, as)
	require.NoError(t, err)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestGradeInvalidQuestionSet(t *testing.T) {
	tests := []struct {
		name string
		qs   []model.Question
	}{
		{"missing id", []model.Question{{Type: model.TypeMultipleChoice, CorrectAnswer: model.Scalar("a"), Points: 1}}},
		{"zero points", []model.Question{{ID: "q", Type: model.TypeMultipleChoice, CorrectAnswer: model.Scalar("a")}}},
		{"unknown type", []model.Question{{ID: "q", Type: "essay", Points: 1}}},
		{"duplicate id", []model.Question{mcq("q", "a", 1), mcq("q", "b", 1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New().Grade(tt.qs, nil)
			require.ErrorIs(t, err, ErrInvalidQuestion)
		})
	}
}

func TestGradeJSONSubmission(t *testing.T) {
	qs := []model.Question{
		{ID: "ms", Type: model.TypeMultipleSelect, Text: "t", CorrectAnswer: model.Multi("A", "B"), Points: 2},
		{ID: "n", Type: model.TypeNumeric, Text: "t", CorrectAnswer: model.Scalar("4"), Points: 3},
		mcq("tf", "true", 1),
	}
	var as []model.StudentAnswer
	payload := `[
		{"question_id": "ms", "answer": ["b", "a"]},
		{"question_id": "n", "answer": 4.0},
		{"question_id": "tf", "answer": true},
		{"answer": "orphan"}
	]`
	require.NoError(t, json.Unmarshal([]byte(payload), &as))

	res := mustGrade(t, qs, as)
	require.Equal(t, 6, res.Score)
	require.Equal(t, 6, res.MaxScore)
}
