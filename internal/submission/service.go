// Package submission accepts student attempts, grades them against the stored
// exam and persists the result.
package submission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/pavelanni/examshield/internal/grading"
	"github.com/pavelanni/examshield/internal/metrics"
	"github.com/pavelanni/examshield/internal/model"
	"github.com/pavelanni/examshield/internal/store"
)

var (
	ErrExamNotFound       = errors.New("exam not found")
	ErrExamInactive       = errors.New("exam is not active")
	ErrExamNotStarted     = errors.New("exam has not started yet")
	ErrExamEnded          = errors.New("exam has ended")
	ErrSubmissionNotFound = errors.New("submission not found")
	ErrInvalidRequest     = errors.New("invalid submission")
	ErrInvalidReview      = errors.New("invalid review")
)

// Repository is the persistence the service needs.
type Repository interface {
	GetExam(ctx context.Context, id string) (model.Exam, error)
	CreateSubmission(ctx context.Context, sub model.Submission) error
	GetSubmission(ctx context.Context, id string) (model.Submission, error)
	ReviewSubmission(ctx context.Context, id string, manualScore int, finalScore float64, at time.Time) error
}

// Request is the student's submission envelope.
type Request struct {
	StudentData map[string]string     `json:"student_data" validate:"required"`
	Answers     []model.StudentAnswer `json:"answers"`
	Violations  []model.Violation     `json:"violations" validate:"dive"`
	BrowserInfo map[string]any        `json:"browser_info"`
	IPAddress   string                `json:"-"`
}

// Receipt is returned to the student after a submission is stored.
// GradedAnswers is only set when the exam shows results immediately.
type Receipt struct {
	SubmissionID    string               `json:"submission_id"`
	Score           int                  `json:"score"`
	MaxScore        int                  `json:"max_score"`
	Percentage      float64              `json:"percentage"`
	Flagged         bool                 `json:"flagged"`
	ViolationsCount int                  `json:"violations_count"`
	GradedAnswers   []model.GradedAnswer `json:"graded_answers,omitempty"`
}

// Service grades and stores submissions.
type Service struct {
	repo     Repository
	engine   *grading.Engine
	validate *validator.Validate
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
}

// Option customises a Service.
type Option func(*Service)

// WithClock overrides the time source used for availability windows.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the logger; slog.Default is used otherwise.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithIDGenerator overrides how submission ids are generated.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

// NewService creates a submission service backed by repo.
func NewService(repo Repository, engine *grading.Engine, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		engine:   engine,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   slog.Default(),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Available reports whether exam accepts attempts at the current time.
func (s *Service) Available(exam model.Exam) error {
	if !exam.IsActive {
		return ErrExamInactive
	}
	now := s.now()
	if st := exam.Settings.StartTime; st != nil && now.Before(*st) {
		return ErrExamNotStarted
	}
	if et := exam.Settings.EndTime; et != nil && now.After(*et) {
		return ErrExamEnded
	}
	return nil
}

// LoadExam fetches an exam and maps a missing row to ErrExamNotFound.
func (s *Service) LoadExam(ctx context.Context, examID string) (model.Exam, error) {
	exam, err := s.repo.GetExam(ctx, examID)
	if errors.Is(err, store.ErrNotFound) {
		return model.Exam{}, ErrExamNotFound
	}
	if err != nil {
		return model.Exam{}, fmt.Errorf("load exam: %w", err)
	}
	return exam, nil
}

// Submit grades req against the stored exam and records the attempt.
func (s *Service) Submit(ctx context.Context, examID string, req Request) (Receipt, error) {
	exam, err := s.LoadExam(ctx, examID)
	if err != nil {
		return Receipt{}, s.reject(examID, err)
	}
	if err := s.Available(exam); err != nil {
		return Receipt{}, s.reject(examID, err)
	}
	if err := s.checkRequest(exam, req); err != nil {
		return Receipt{}, s.reject(examID, err)
	}

	start := time.Now()
	res, err := s.engine.Grade(exam.Questions, req.Answers)
	if err != nil {
		return Receipt{}, fmt.Errorf("grade exam %q: %w", examID, err)
	}
	metrics.GradingDuration().Observe(time.Since(start).Seconds())

	sub := model.Submission{
		ID:          s.newID(),
		ExamID:      examID,
		StudentData: req.StudentData,
		Score:       res.Score,
		MaxScore:    res.MaxScore,
		Percentage:  res.Percentage,
		Violations:  req.Violations,
		BrowserInfo: req.BrowserInfo,
		IPAddress:   req.IPAddress,
		Flagged:     flagged(len(req.Violations), exam.Settings.MaxViolations),
		SubmittedAt: s.now().UTC(),
		Answers:     res.GradedAnswers,
	}
	if len(res.ManualReview) > 0 {
		sub.ManualAnswers = make(map[string]string, len(res.ManualReview))
		for _, id := range res.ManualReview {
			if sa, ok := grading.FindAnswer(req.Answers, id); ok && sa.Answer.Kind != model.AnswerNone {
				sub.ManualAnswers[id] = sa.Answer.String()
			}
		}
	}
	if err := s.repo.CreateSubmission(ctx, sub); err != nil {
		return Receipt{}, fmt.Errorf("store submission: %w", err)
	}

	outcome := "graded"
	if sub.Flagged {
		outcome = "flagged"
	}
	metrics.Submissions().WithLabelValues(outcome).Inc()
	metrics.ScorePercent().Observe(res.Percentage)
	s.logger.Info("submission graded",
		"exam_id", examID,
		"submission_id", sub.ID,
		"score", res.Score,
		"max_score", res.MaxScore,
		"flagged", sub.Flagged,
		"manual_review", len(res.ManualReview),
	)

	receipt := Receipt{
		SubmissionID:    sub.ID,
		Score:           res.Score,
		MaxScore:        res.MaxScore,
		Percentage:      res.Percentage,
		Flagged:         sub.Flagged,
		ViolationsCount: len(req.Violations),
	}
	if exam.Settings.ShowResultsImmediately {
		receipt.GradedAnswers = res.GradedAnswers
	}
	return receipt, nil
}

func (s *Service) reject(examID string, err error) error {
	metrics.Submissions().WithLabelValues("rejected").Inc()
	s.logger.Warn("submission rejected", "exam_id", examID, "error", err)
	return err
}

func (s *Service) checkRequest(exam model.Exam, req Request) error {
	if err := s.validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	var missing []string
	for _, f := range exam.RequiredFields {
		if strings.TrimSpace(req.StudentData[f]) == "" {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing student fields %s", ErrInvalidRequest, strings.Join(missing, ", "))
	}
	return nil
}

// flagged marks an attempt once it reaches the violation limit. An attempt
// without violations is never flagged.
func flagged(violations, limit int) bool {
	return violations > 0 && violations >= limit
}

// Review records points awarded by the tutor for questions that need manual
// review and stores the combined final percentage. Awards are keyed by
// question id and must be between zero and the question's points.
func (s *Service) Review(ctx context.Context, submissionID string, awards map[string]int) (model.Submission, error) {
	sub, err := s.repo.GetSubmission(ctx, submissionID)
	if errors.Is(err, store.ErrNotFound) {
		return model.Submission{}, ErrSubmissionNotFound
	}
	if err != nil {
		return model.Submission{}, fmt.Errorf("load submission: %w", err)
	}
	exam, err := s.LoadExam(ctx, sub.ExamID)
	if err != nil {
		return model.Submission{}, err
	}

	manualMax, manual := 0, 0
	pending := make(map[string]int, len(awards))
	for id, pts := range awards {
		pending[id] = pts
	}
	for _, q := range exam.Questions {
		if grading.AutoGraded(q) {
			continue
		}
		manualMax += q.Points
		pts, ok := pending[q.ID]
		if !ok {
			continue
		}
		if pts < 0 || pts > q.Points {
			return model.Submission{}, fmt.Errorf("%w: %d points for %q, allowed 0..%d", ErrInvalidReview, pts, q.ID, q.Points)
		}
		manual += pts
		delete(pending, q.ID)
	}
	for id := range pending {
		return model.Submission{}, fmt.Errorf("%w: question %q is not awaiting manual review", ErrInvalidReview, id)
	}

	var final float64
	if total := sub.MaxScore + manualMax; total > 0 {
		final = math.Round(float64(sub.Score+manual)/float64(total)*10000) / 100
	}
	at := s.now().UTC()
	if err := s.repo.ReviewSubmission(ctx, submissionID, manual, final, at); err != nil {
		return model.Submission{}, fmt.Errorf("store review: %w", err)
	}

	s.logger.Info("submission reviewed", "submission_id", submissionID, "manual_score", manual, "final_score", final)
	sub.ManualScore = &manual
	sub.FinalScore = &final
	sub.ReviewedAt = &at
	return sub, nil
}
