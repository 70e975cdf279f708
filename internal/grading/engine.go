// Package grading scores exam submissions against an exam's answer key.
//
// Grading is pure: the same question set and answers always produce the same
// Result, and an Engine may be shared by any number of goroutines.
package grading

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/pavelanni/examshield/internal/model"
)

// ErrInvalidQuestion marks a question set that cannot be graded: a question
// without id, with non-positive points, of unknown type, or a repeated id.
var ErrInvalidQuestion = errors.New("invalid exam question")

// Engine grades submissions. The zero value is not usable; call New.
type Engine struct {
	validate *validator.Validate
}

// New creates a grading engine.
func New() *Engine {
	return &Engine{validate: validator.New(validator.WithRequiredStructEnabled())}
}

// AutoGraded reports whether q is scored by the engine. Short-answer questions
// and questions without an answer key are left for manual review.
func AutoGraded(q model.Question) bool {
	return q.Type != model.TypeShortAnswer && !q.CorrectAnswer.IsEmpty()
}

// Check verifies the structural integrity of an exam's question set.
func (e *Engine) Check(questions []model.Question) error {
	seen := make(map[string]struct{}, len(questions))
	for i, q := range questions {
		if err := e.validate.StructPartial(q, "ID", "Type", "Points"); err != nil {
			return fmt.Errorf("%w: question %d (%q): %v", ErrInvalidQuestion, i, q.ID, err)
		}
		if _, dup := seen[q.ID]; dup {
			return fmt.Errorf("%w: duplicate question id %q", ErrInvalidQuestion, q.ID)
		}
		seen[q.ID] = struct{}{}
	}
	return nil
}

// Grade scores answers against questions, in question order.
//
// Malformed or missing answers are scored as wrong and never produce an
// error. The only error is ErrInvalidQuestion, returned when the question set
// itself is broken.
func (e *Engine) Grade(questions []model.Question, answers []model.StudentAnswer) (model.Result, error) {
	if err := e.Check(questions); err != nil {
		return model.Result{}, err
	}

	res := model.Result{GradedAnswers: []model.GradedAnswer{}}
	for _, q := range questions {
		if !AutoGraded(q) {
			res.ManualReview = append(res.ManualReview, q.ID)
			continue
		}
		res.MaxScore += q.Points

		sa, ok := FindAnswer(answers, q.ID)
		if !ok || sa.Answer.Kind == model.AnswerNone {
			res.GradedAnswers = append(res.GradedAnswers, model.GradedAnswer{QuestionID: q.ID})
			continue
		}

		correct := safeIsCorrect(q, sa.Answer)
		if correct {
			res.Score += q.Points
		}
		stored := sa.Answer.String()
		res.GradedAnswers = append(res.GradedAnswers, model.GradedAnswer{
			QuestionID: q.ID,
			Answer:     &stored,
			IsCorrect:  correct,
		})
	}

	if res.MaxScore > 0 {
		res.Percentage = float64(res.Score) / float64(res.MaxScore) * 100
	}
	return res, nil
}

// FindAnswer returns the first answer for questionID. Later duplicates are
// ignored.
func FindAnswer(answers []model.StudentAnswer, questionID string) (model.StudentAnswer, bool) {
	for _, a := range answers {
		if a.QuestionID == questionID {
			return a, true
		}
	}
	return model.StudentAnswer{}, false
}

// safeIsCorrect confines any failure while comparing one answer to that
// question.
func safeIsCorrect(q model.Question, ans model.Answer) (correct bool) {
	defer func() {
		if r := recover(); r != nil {
			correct = false
		}
	}()
	return isCorrect(q, ans)
}

func isCorrect(q model.Question, ans model.Answer) bool {
	if q.CorrectAnswer.Kind == model.AnswerMulti {
		return sameSet(q.CorrectAnswer.Values, decodeList(ans))
	}

	got, ok := scalarOf(ans)
	if !ok {
		return false
	}
	if q.Type == model.TypeNumeric {
		return numericEqual(q.CorrectAnswer.Value, got)
	}
	return normalize(q.CorrectAnswer.Value) == normalize(got)
}
