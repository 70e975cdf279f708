package store

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/pavelanni/examshield/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testExam(id string) model.Exam {
	limit := 30
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	settings := model.DefaultSettings()
	settings.TimeLimitMinutes = &limit
	settings.StartTime = &start
	return model.Exam{
		ID:             id,
		Title:          "Geography " + id,
		Description:    "Capitals and rivers",
		RequiredFields: []string{"name", "email"},
		Settings:       settings,
		CreatedAt:      time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC),
		IsActive:       true,
		Questions: []model.Question{
			{ID: "q1", Type: model.TypeMultipleChoice, Text: "Capital of France?", Options: []string{"Paris", "Lyon"}, CorrectAnswer: model.Scalar("Paris"), Points: 2},
			{ID: "q2", Type: model.TypeMultipleSelect, Text: "Rivers of Egypt?", Options: []string{"Nile", "Amazon"}, CorrectAnswer: model.Multi("Nile"), Points: 3},
			{ID: "q3", Type: model.TypeShortAnswer, Text: "Why do cities grow near rivers?", Points: 5},
		},
	}
}

func createTestExam(t *testing.T, s *Store, id string) model.Exam {
	t.Helper()
	exam := testExam(id)
	if err := s.CreateExam(context.Background(), exam); err != nil {
		t.Fatalf("CreateExam: %v", err)
	}
	return exam
}

func testSubmission(id, examID string, pct float64, flagged bool, at time.Time) model.Submission {
	yes := "Paris"
	return model.Submission{
		ID:          id,
		ExamID:      examID,
		StudentData: map[string]string{"name": "Student " + id},
		Score:       int(pct / 20),
		MaxScore:    5,
		Percentage:  pct,
		Violations:  []model.Violation{{Type: "tab_switch", Timestamp: at}},
		BrowserInfo: map[string]any{"ua": "test"},
		IPAddress:   "10.0.0.1",
		Flagged:     flagged,
		SubmittedAt: at,
		Answers: []model.GradedAnswer{
			{QuestionID: "q1", Answer: &yes, IsCorrect: true},
			{QuestionID: "q2"},
		},
	}
}

func TestExamRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	want := createTestExam(t, s, "e1")

	got, err := s.GetExam(ctx, "e1")
	if err != nil {
		t.Fatalf("GetExam: %v", err)
	}
	if got.Title != want.Title || !got.IsActive {
		t.Errorf("unexpected exam %+v", got)
	}
	if !got.CreatedAt.Equal(want.CreatedAt) {
		t.Errorf("created_at = %v, want %v", got.CreatedAt, want.CreatedAt)
	}
	if len(got.RequiredFields) != 2 || got.RequiredFields[1] != "email" {
		t.Errorf("required fields = %v", got.RequiredFields)
	}
	if got.Settings.MaxViolations != 3 || got.Settings.TimeLimitMinutes == nil || *got.Settings.TimeLimitMinutes != 30 {
		t.Errorf("settings = %+v", got.Settings)
	}
	if got.Settings.StartTime == nil || !got.Settings.StartTime.Equal(*want.Settings.StartTime) {
		t.Errorf("start time = %v", got.Settings.StartTime)
	}

	if len(got.Questions) != 3 {
		t.Fatalf("expected 3 questions, got %d", len(got.Questions))
	}
	for i, q := range got.Questions {
		if q.ID != want.Questions[i].ID {
			t.Errorf("question %d = %q, want %q (order must be kept)", i, q.ID, want.Questions[i].ID)
		}
	}
	if got.Questions[0].CorrectAnswer.Kind != model.AnswerScalar || got.Questions[0].CorrectAnswer.Value != "Paris" {
		t.Errorf("q1 key = %+v", got.Questions[0].CorrectAnswer)
	}
	if got.Questions[1].CorrectAnswer.Kind != model.AnswerMulti || len(got.Questions[1].CorrectAnswer.Values) != 1 {
		t.Errorf("q2 key = %+v", got.Questions[1].CorrectAnswer)
	}
	if got.Questions[2].CorrectAnswer.Kind != model.AnswerNone {
		t.Errorf("q3 key = %+v, want none", got.Questions[2].CorrectAnswer)
	}
}

func TestGetExamNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetExam(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateExamDuplicateQuestionRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	exam := testExam("dup")
	exam.Questions = append(exam.Questions, exam.Questions[0])

	if err := s.CreateExam(ctx, exam); err == nil {
		t.Fatal("expected error for duplicate question id")
	}
	if _, err := s.GetExam(ctx, "dup"); !errors.Is(err, ErrNotFound) {
		t.Errorf("exam row should have been rolled back, got %v", err)
	}
}

func TestListAndDeactivateExams(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	list, err := s.ListExams(ctx)
	if err != nil {
		t.Fatalf("ListExams: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected empty list, got %d", len(list))
	}

	createTestExam(t, s, "e1")
	createTestExam(t, s, "e2")
	list, _ = s.ListExams(ctx)
	if len(list) != 2 {
		t.Fatalf("expected 2 exams, got %d", len(list))
	}

	if err := s.DeactivateExam(ctx, "e1"); err != nil {
		t.Fatalf("DeactivateExam: %v", err)
	}
	got, _ := s.GetExam(ctx, "e1")
	if got.IsActive {
		t.Error("expected e1 to be inactive")
	}
	if err := s.DeactivateExam(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSubmissionLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createTestExam(t, s, "e1")

	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	if err := s.CreateSubmission(ctx, testSubmission("s1", "e1", 40, false, at)); err != nil {
		t.Fatalf("CreateSubmission: %v", err)
	}

	sub, err := s.GetSubmission(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSubmission: %v", err)
	}
	if sub.Percentage != 40 || sub.StudentData["name"] != "Student s1" || sub.IPAddress != "10.0.0.1" {
		t.Errorf("unexpected submission %+v", sub)
	}
	if len(sub.Violations) != 1 || sub.Violations[0].Type != "tab_switch" {
		t.Errorf("violations = %+v", sub.Violations)
	}
	if sub.ManualScore != nil || sub.FinalScore != nil || sub.ReviewedAt != nil {
		t.Error("new submission should not be reviewed")
	}
	if len(sub.Answers) != 2 {
		t.Fatalf("expected 2 answers, got %d", len(sub.Answers))
	}
	if sub.Answers[0].Answer == nil || *sub.Answers[0].Answer != "Paris" || !sub.Answers[0].IsCorrect {
		t.Errorf("answer 0 = %+v", sub.Answers[0])
	}
	if sub.Answers[1].Answer != nil {
		t.Errorf("unanswered question should stay NULL, got %q", *sub.Answers[1].Answer)
	}

	reviewed := at.Add(time.Hour)
	if err := s.ReviewSubmission(ctx, "s1", 4, 60, reviewed); err != nil {
		t.Fatalf("ReviewSubmission: %v", err)
	}
	sub, _ = s.GetSubmission(ctx, "s1")
	if sub.ManualScore == nil || *sub.ManualScore != 4 {
		t.Errorf("manual score = %v", sub.ManualScore)
	}
	if sub.FinalScore == nil || *sub.FinalScore != 60 {
		t.Errorf("final score = %v", sub.FinalScore)
	}
	if sub.ReviewedAt == nil || !sub.ReviewedAt.Equal(reviewed) {
		t.Errorf("reviewed at = %v", sub.ReviewedAt)
	}

	if err := s.ReviewSubmission(ctx, "nope", 1, 1, reviewed); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.GetSubmission(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListSubmissionsNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createTestExam(t, s, "e1")
	createTestExam(t, s, "e2")

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		if err := s.CreateSubmission(ctx, testSubmission(id, "e1", 50, false, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("CreateSubmission %s: %v", id, err)
		}
	}
	if err := s.CreateSubmission(ctx, testSubmission("other", "e2", 50, false, base)); err != nil {
		t.Fatalf("CreateSubmission: %v", err)
	}

	subs, err := s.ListSubmissions(ctx, "e1")
	if err != nil {
		t.Fatalf("ListSubmissions: %v", err)
	}
	if len(subs) != 3 {
		t.Fatalf("expected 3 submissions, got %d", len(subs))
	}
	if subs[0].ID != "c" || subs[2].ID != "a" {
		t.Errorf("unexpected order %s, %s, %s", subs[0].ID, subs[1].ID, subs[2].ID)
	}
}

func TestExamAnalytics(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createTestExam(t, s, "e1")

	a, err := s.ExamAnalytics(ctx, "e1")
	if err != nil {
		t.Fatalf("ExamAnalytics: %v", err)
	}
	if a != (model.Analytics{}) {
		t.Errorf("expected zero analytics, got %+v", a)
	}

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, pct := range []float64{100, 40, 33.333} {
		sub := testSubmission(string(rune('a'+i)), "e1", pct, i == 1, base.Add(time.Duration(i)*time.Minute))
		if err := s.CreateSubmission(ctx, sub); err != nil {
			t.Fatalf("CreateSubmission: %v", err)
		}
	}

	a, err = s.ExamAnalytics(ctx, "e1")
	if err != nil {
		t.Fatalf("ExamAnalytics: %v", err)
	}
	want := model.Analytics{
		TotalAttempts:  3,
		AverageScore:   57.78,
		FlaggedCount:   1,
		CompletionRate: 100,
		HighestScore:   100,
		LowestScore:    33.333,
	}
	if a != want {
		t.Errorf("analytics = %+v, want %+v", a, want)
	}
}

func TestViolationLog(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	at := time.Date(2026, 3, 1, 10, 5, 0, 0, time.UTC)
	first, err := s.LogViolation(ctx, "e1", model.Violation{Type: "fullscreen_exit", Timestamp: at, Details: "esc"})
	if err != nil {
		t.Fatalf("LogViolation: %v", err)
	}
	if first.ID == 0 {
		t.Error("expected an id")
	}
	second, err := s.LogViolation(ctx, "e1", model.Violation{Type: "copy"})
	if err != nil {
		t.Fatalf("LogViolation: %v", err)
	}
	if second.Violation.Timestamp.IsZero() {
		t.Error("missing timestamp should default to the log time")
	}

	logs, err := s.ListViolations(ctx, "e1")
	if err != nil {
		t.Fatalf("ListViolations: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("expected 2 logs, got %d", len(logs))
	}
	if logs[0].Violation.Type != "fullscreen_exit" || logs[0].Violation.Details != "esc" || !logs[0].Violation.Timestamp.Equal(at) {
		t.Errorf("log 0 = %+v", logs[0])
	}

	other, _ := s.ListViolations(ctx, "e2")
	if len(other) != 0 {
		t.Errorf("expected no logs for e2, got %d", len(other))
	}
}

func TestExportSubmissions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createTestExam(t, s, "e1")

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s.CreateSubmission(ctx, testSubmission("s1", "e1", 40, false, base))
	s.CreateSubmission(ctx, testSubmission("s2", "e1", 80, true, base.Add(time.Minute)))

	export, err := s.ExportSubmissions(ctx, "e1")
	if err != nil {
		t.Fatalf("ExportSubmissions: %v", err)
	}
	if export.Title != "Geography e1" || export.NumQuestions != 3 {
		t.Errorf("unexpected header %+v", export)
	}
	if len(export.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(export.Results))
	}
	if export.Results[0].SubmissionID != "s1" || export.Results[1].SubmissionID != "s2" {
		t.Errorf("results should be oldest first")
	}
	if export.Results[1].Violations != 1 || !export.Results[1].Flagged {
		t.Errorf("result 1 = %+v", export.Results[1])
	}
	if len(export.Results[0].Answers) != 2 {
		t.Errorf("expected answers in export, got %d", len(export.Results[0].Answers))
	}

	if _, err := s.ExportSubmissions(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestImportedFileHash(t *testing.T) {
	s := newTestStore(t)

	// Missing file returns empty string.
	hash, err := s.GetImportedFileHash("/some/exam.json")
	if err != nil {
		t.Fatalf("GetImportedFileHash: %v", err)
	}
	if hash != "" {
		t.Errorf("expected empty hash, got %q", hash)
	}

	if err := s.SetImportedFileHash("/some/exam.json", "abc123"); err != nil {
		t.Fatalf("SetImportedFileHash: %v", err)
	}
	hash, _ = s.GetImportedFileHash("/some/exam.json")
	if hash != "abc123" {
		t.Errorf("expected 'abc123', got %q", hash)
	}

	// Update existing.
	if err := s.SetImportedFileHash("/some/exam.json", "def456"); err != nil {
		t.Fatalf("SetImportedFileHash update: %v", err)
	}
	hash, _ = s.GetImportedFileHash("/some/exam.json")
	if hash != "def456" {
		t.Errorf("expected 'def456', got %q", hash)
	}
}

func TestFileDatabaseConcurrentSubmissions(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "exams.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	var mode string
	if err := s.db.QueryRow(`PRAGMA journal_mode`).Scan(&mode); err != nil {
		t.Fatalf("journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}
	var timeout int
	if err := s.db.QueryRow(`PRAGMA busy_timeout`).Scan(&timeout); err != nil {
		t.Fatalf("busy_timeout: %v", err)
	}
	if timeout != 5000 {
		t.Errorf("busy_timeout = %d, want 5000", timeout)
	}

	createTestExam(t, s, "e1")
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	const n = 50
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub := testSubmission("s"+strconv.Itoa(i), "e1", 60, false, at)
			errs <- s.CreateSubmission(context.Background(), sub)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("CreateSubmission: %v", err)
		}
	}

	subs, err := s.ListSubmissions(context.Background(), "e1")
	if err != nil {
		t.Fatalf("ListSubmissions: %v", err)
	}
	if len(subs) != n {
		t.Errorf("stored %d submissions, want %d", len(subs), n)
	}
}
