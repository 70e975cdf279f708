package store

import (
	"context"
	"fmt"
	"math"

	"github.com/pavelanni/examshield/internal/model"
)

// ExamAnalytics summarizes the submissions of an exam. Scores are
// percentages; the average is rounded to two decimals.
func (s *Store) ExamAnalytics(ctx context.Context, examID string) (model.Analytics, error) {
	subs, err := s.ListSubmissions(ctx, examID)
	if err != nil {
		return model.Analytics{}, fmt.Errorf("list submissions: %w", err)
	}

	var a model.Analytics
	if len(subs) == 0 {
		return a, nil
	}

	a.TotalAttempts = len(subs)
	a.CompletionRate = 100
	a.HighestScore = subs[0].Percentage
	a.LowestScore = subs[0].Percentage
	var sum float64
	for _, sub := range subs {
		sum += sub.Percentage
		a.HighestScore = math.Max(a.HighestScore, sub.Percentage)
		a.LowestScore = math.Min(a.LowestScore, sub.Percentage)
		if sub.Flagged {
			a.FlaggedCount++
		}
	}
	a.AverageScore = math.Round(sum/float64(len(subs))*100) / 100
	return a, nil
}

// ExportSubmissions builds export-ready results for every submission of an
// exam, oldest first.
func (s *Store) ExportSubmissions(ctx context.Context, examID string) (model.ExamExport, error) {
	exam, err := s.GetExam(ctx, examID)
	if err != nil {
		return model.ExamExport{}, err
	}
	subs, err := s.ListSubmissions(ctx, examID)
	if err != nil {
		return model.ExamExport{}, fmt.Errorf("list submissions: %w", err)
	}

	export := model.ExamExport{
		ExamID:         exam.ID,
		Title:          exam.Title,
		ExportedAt:     now(),
		NumQuestions:   len(exam.Questions),
		RequiredFields: nonNil(exam.RequiredFields),
		Results:        make([]model.StudentResult, 0, len(subs)),
	}
	for i := len(subs) - 1; i >= 0; i-- {
		sub := subs[i]
		answers, err := s.answersForSubmission(ctx, sub.ID)
		if err != nil {
			return model.ExamExport{}, fmt.Errorf("answers of %q: %w", sub.ID, err)
		}
		export.Results = append(export.Results, model.StudentResult{
			SubmissionID: sub.ID,
			StudentData:  sub.StudentData,
			Score:        sub.Score,
			MaxScore:     sub.MaxScore,
			Percentage:   sub.Percentage,
			FinalScore:   sub.FinalScore,
			Violations:   len(sub.Violations),
			Flagged:      sub.Flagged,
			SubmittedAt:  sub.SubmittedAt,
			Answers:      answers,
		})
	}
	return export, nil
}
