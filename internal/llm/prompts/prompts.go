package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"

	"github.com/pavelanni/examshield/internal/model"
)

const (
	// MaxSourceRunes caps the text sent for question extraction.
	MaxSourceRunes = 4000
	// MaxAnswerRunes caps a student answer sent for review.
	MaxAnswerRunes = 10000
)

// delimiterTagRegex matches the tags that fence untrusted input in the templates.
var delimiterTagRegex = regexp.MustCompile(`(?i)</?\s*(student-answer|source-text|system-instructions)\b[^>]*>`)

//go:embed templates/*.txt
var templateFS embed.FS

var (
	loadOnce        sync.Once
	loadErr         error
	extractTemplate *template.Template
	reviewTemplate  *template.Template
)

// ErrEmptyText is returned when nothing is left to extract from after cleaning.
var ErrEmptyText = errors.New("source text is empty")

// ExtractData holds template data for the question extraction prompt.
type ExtractData struct {
	Text         string
	MaxQuestions int
	Types        []model.QuestionType
}

// ReviewData holds template data for the manual review prompt.
type ReviewData struct {
	QuestionText string
	MaxPoints    int
	ModelAnswer  string
	Answer       string
}

// Load parses the embedded prompt templates once.
func Load() error {
	loadOnce.Do(func() {
		extractTemplate, loadErr = parse("templates/extract.txt")
		if loadErr != nil {
			return
		}
		reviewTemplate, loadErr = parse("templates/review.txt")
	})
	return loadErr
}

func parse(name string) (*template.Template, error) {
	content, err := templateFS.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read prompt file %s: %w", name, err)
	}
	tmpl, err := template.New(name).Parse(string(content))
	if err != nil {
		return nil, fmt.Errorf("parse prompt template %s: %w", name, err)
	}
	return tmpl, nil
}

// BuildExtractPrompt builds the prompt asking for questions found in text.
func BuildExtractPrompt(text string, maxQuestions int) (string, error) {
	if err := Load(); err != nil {
		return "", err
	}
	clean := SanitizeSource(text)
	if clean == "" {
		return "", ErrEmptyText
	}

	var buf bytes.Buffer
	err := extractTemplate.Execute(&buf, ExtractData{
		Text:         clean,
		MaxQuestions: maxQuestions,
		Types:        model.QuestionTypes,
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

// BuildReviewPrompt builds the prompt asking for a suggested score of a
// student's free-text answer.
func BuildReviewPrompt(q model.Question, answer string) (string, error) {
	if err := Load(); err != nil {
		return "", err
	}

	var buf bytes.Buffer
	err := reviewTemplate.Execute(&buf, ReviewData{
		QuestionText: q.Text,
		MaxPoints:    q.Points,
		ModelAnswer:  q.CorrectAnswer.String(),
		Answer:       sanitizeAnswer(answer),
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

// SanitizeSource cleans text pasted by a tutor before it is sent for
// extraction: NUL bytes, invalid UTF-8 and delimiter tags are removed and the
// result is capped at MaxSourceRunes.
func SanitizeSource(text string) string {
	text = strings.ReplaceAll(text, "\x00", "")
	text = strings.ToValidUTF8(text, "")
	text = delimiterTagRegex.ReplaceAllString(text, "")
	text = truncateRunes(text, MaxSourceRunes)
	return strings.TrimSpace(text)
}

func sanitizeAnswer(answer string) string {
	answer = strings.ReplaceAll(answer, "\x00", "")
	answer = delimiterTagRegex.ReplaceAllString(answer, "")
	answer = strings.TrimSpace(answer)

	if answer == "" {
		return "[No answer provided]"
	}

	if utf8.RuneCountInString(answer) > MaxAnswerRunes {
		answer = truncateRunes(answer, MaxAnswerRunes) + "\n\n[Answer truncated due to length]"
	}

	return answer
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
