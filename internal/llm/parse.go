package llm

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/pavelanni/examshield/internal/model"
)

// Extracted is a question proposed by the model, ready to be placed in an exam.
type Extracted struct {
	model.Question
	Difficulty string `json:"difficulty"`
}

type rawQuestion struct {
	Type          string          `json:"type"`
	QuestionText  string          `json:"question_text"`
	Options       model.Answer    `json:"options"`
	CorrectAnswer model.Answer    `json:"correct_answer"`
	Points        json.RawMessage `json:"points"`
	Difficulty    string          `json:"difficulty"`
}

const minQuestionRunes = 5

var difficulties = []string{"easy", "medium", "hard"}

// ParseExtraction decodes a model response into normalized questions. The
// response may be a JSON array or an object with a "questions" array, and may
// be wrapped in a markdown code fence. Items that cannot be used are skipped.
func ParseExtraction(raw string) ([]Extracted, error) {
	text := stripFences(raw)

	var items []json.RawMessage
	if strings.HasPrefix(text, "[") {
		if err := json.Unmarshal([]byte(text), &items); err != nil {
			return nil, fmt.Errorf("parse extraction response: %w", err)
		}
	} else {
		var wrapper struct {
			Questions []json.RawMessage `json:"questions"`
		}
		if err := json.Unmarshal([]byte(text), &wrapper); err != nil {
			return nil, fmt.Errorf("parse extraction response: %w", err)
		}
		items = wrapper.Questions
	}

	var out []Extracted
	for _, item := range items {
		var rq rawQuestion
		if err := json.Unmarshal(item, &rq); err != nil {
			continue
		}
		q, ok := normalizeQuestion(rq)
		if !ok {
			continue
		}
		q.ID = "q" + strconv.Itoa(len(out)+1)
		out = append(out, q)
	}
	if len(out) == 0 {
		return nil, ErrNoQuestions
	}
	return out, nil
}

func normalizeQuestion(rq rawQuestion) (Extracted, bool) {
	text := strings.TrimSpace(rq.QuestionText)
	if utf8.RuneCountInString(text) < minQuestionRunes {
		return Extracted{}, false
	}

	typ := model.QuestionType(strings.ToLower(strings.TrimSpace(rq.Type)))
	if !slices.Contains(model.QuestionTypes, typ) {
		typ = model.TypeMultipleChoice
	}

	difficulty := strings.ToLower(strings.TrimSpace(rq.Difficulty))
	if !slices.Contains(difficulties, difficulty) {
		difficulty = "medium"
	}

	var options []string
	switch rq.Options.Kind {
	case model.AnswerMulti:
		options = rq.Options.Values
	case model.AnswerScalar:
		if rq.Options.Value != "" {
			options = []string{rq.Options.Value}
		}
	}

	return Extracted{
		Question: model.Question{
			Type:          typ,
			Text:          text,
			Options:       options,
			CorrectAnswer: rq.CorrectAnswer,
			Points:        parsePoints(rq.Points),
		},
		Difficulty: difficulty,
	}, true
}

// parsePoints accepts a JSON number or numeric string and clamps it to
// 1..100. Anything else is 1.
func parsePoints(raw json.RawMessage) int {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || f < 1 {
		return 1
	}
	if f > 100 {
		return 100
	}
	return int(f)
}

// stripFences removes a markdown code fence around a JSON payload.
func stripFences(raw string) string {
	text := raw
	if _, after, ok := strings.Cut(text, "```json"); ok {
		text, _, _ = strings.Cut(after, "```")
	} else if _, after, ok := strings.Cut(text, "```"); ok {
		text, _, _ = strings.Cut(after, "```")
	}
	return strings.TrimSpace(text)
}
