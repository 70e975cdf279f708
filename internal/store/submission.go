package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pavelanni/examshield/internal/model"
)

const submissionColumns = `id, exam_id, student_data, score, max_score, percentage, manual_score, final_score,
	violations, browser_info, manual_answers, ip_address, flagged, submitted_at, reviewed_at`

// CreateSubmission writes a graded submission and all of its graded answers.
func (s *Store) CreateSubmission(ctx context.Context, sub model.Submission) error {
	student, err := json.Marshal(sub.StudentData)
	if err != nil {
		return fmt.Errorf("encode student data: %w", err)
	}
	violations, err := json.Marshal(nonNil(sub.Violations))
	if err != nil {
		return fmt.Errorf("encode violations: %w", err)
	}
	browser, err := json.Marshal(sub.BrowserInfo)
	if err != nil {
		return fmt.Errorf("encode browser info: %w", err)
	}
	manual, err := json.Marshal(sub.ManualAnswers)
	if err != nil {
		return fmt.Errorf("encode manual answers: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO submissions (id, exam_id, student_data, score, max_score, percentage,
			violations, browser_info, manual_answers, ip_address, flagged, submitted_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.ExamID, string(student), sub.Score, sub.MaxScore, sub.Percentage,
		string(violations), string(browser), string(manual), sub.IPAddress, sub.Flagged, sub.SubmittedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}

	for i, ga := range sub.Answers {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO submission_answers (submission_id, position, question_id, answer, is_correct)
			 VALUES (?, ?, ?, ?, ?)`,
			sub.ID, i, ga.QuestionID, ga.Answer, ga.IsCorrect,
		)
		if err != nil {
			return fmt.Errorf("insert answer %q: %w", ga.QuestionID, err)
		}
	}

	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubmission(row rowScanner) (model.Submission, error) {
	var (
		sub                                  model.Submission
		student, violations, browser, manual string
	)
	err := row.Scan(&sub.ID, &sub.ExamID, &student, &sub.Score, &sub.MaxScore, &sub.Percentage,
		&sub.ManualScore, &sub.FinalScore, &violations, &browser, &manual, &sub.IPAddress, &sub.Flagged,
		&sub.SubmittedAt, &sub.ReviewedAt)
	if err != nil {
		return sub, err
	}
	if err := json.Unmarshal([]byte(student), &sub.StudentData); err != nil {
		return sub, fmt.Errorf("decode student data: %w", err)
	}
	if err := json.Unmarshal([]byte(violations), &sub.Violations); err != nil {
		return sub, fmt.Errorf("decode violations: %w", err)
	}
	if err := json.Unmarshal([]byte(browser), &sub.BrowserInfo); err != nil {
		return sub, fmt.Errorf("decode browser info: %w", err)
	}
	if err := json.Unmarshal([]byte(manual), &sub.ManualAnswers); err != nil {
		return sub, fmt.Errorf("decode manual answers: %w", err)
	}
	return sub, nil
}

// GetSubmission returns a submission with its graded answers.
func (s *Store) GetSubmission(ctx context.Context, id string) (model.Submission, error) {
	sub, err := scanSubmission(s.db.QueryRowContext(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Submission{}, fmt.Errorf("submission %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Submission{}, err
	}
	sub.Answers, err = s.answersForSubmission(ctx, id)
	if err != nil {
		return model.Submission{}, err
	}
	return sub, nil
}

func (s *Store) answersForSubmission(ctx context.Context, submissionID string) ([]model.GradedAnswer, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT question_id, answer, is_correct FROM submission_answers
		 WHERE submission_id = ? ORDER BY position`, submissionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	answers := []model.GradedAnswer{}
	for rows.Next() {
		var ga model.GradedAnswer
		if err := rows.Scan(&ga.QuestionID, &ga.Answer, &ga.IsCorrect); err != nil {
			return nil, err
		}
		answers = append(answers, ga)
	}
	return answers, rows.Err()
}

// ListSubmissions returns the submissions of an exam, newest first. Graded
// answers are not loaded.
func (s *Store) ListSubmissions(ctx context.Context, examID string) ([]model.Submission, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE exam_id = ? ORDER BY submitted_at DESC, id`, examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	subs := []model.Submission{}
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// ReviewSubmission records the manually awarded points and the resulting
// final percentage of a submission.
func (s *Store) ReviewSubmission(ctx context.Context, id string, manualScore int, finalScore float64, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE submissions SET manual_score = ?, final_score = ?, reviewed_at = ? WHERE id = ?`,
		manualScore, finalScore, at.UTC(), id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("submission %q: %w", id, ErrNotFound)
	}
	return nil
}
