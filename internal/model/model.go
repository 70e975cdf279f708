package model

import (
	"time"
)

// QuestionType identifies how a question is answered and graded.
type QuestionType string

const (
	TypeMultipleChoice QuestionType = "multiple_choice"
	TypeTrueFalse      QuestionType = "true_false"
	TypeFillBlank      QuestionType = "fill_blank"
	TypeShortAnswer    QuestionType = "short_answer"
	TypeNumeric        QuestionType = "numeric"
	TypeMultipleSelect QuestionType = "multiple_select"
)

// QuestionTypes lists every supported question type.
var QuestionTypes = []QuestionType{
	TypeMultipleChoice,
	TypeTrueFalse,
	TypeFillBlank,
	TypeShortAnswer,
	TypeNumeric,
	TypeMultipleSelect,
}

// Question is one item of an exam together with its answer key.
type Question struct {
	ID               string       `json:"id" validate:"required"`
	Type             QuestionType `json:"type" validate:"oneof=multiple_choice true_false fill_blank short_answer numeric multiple_select"`
	Text             string       `json:"question_text" validate:"required"`
	Options          []string     `json:"options,omitempty"`
	CorrectAnswer    Answer       `json:"correct_answer"`
	Points           int          `json:"points" validate:"gt=0"`
	RandomizeOptions bool         `json:"randomize_options"`
}

// ExamSettings controls proctoring and availability of an exam.
type ExamSettings struct {
	RequireFullscreen      bool       `json:"require_fullscreen"`
	DetectTabSwitch        bool       `json:"detect_tab_switch"`
	DisableCopyPaste       bool       `json:"disable_copy_paste"`
	DisableRightClick      bool       `json:"disable_right_click"`
	MaxViolations          int        `json:"max_violations" validate:"gte=0"`
	RandomizeQuestions     bool       `json:"randomize_questions"`
	ShowResultsImmediately bool       `json:"show_results_immediately"`
	TimeLimitMinutes       *int       `json:"time_limit_minutes,omitempty" validate:"omitempty,gt=0"`
	StartTime              *time.Time `json:"start_time,omitempty"`
	EndTime                *time.Time `json:"end_time,omitempty"`
}

// DefaultSettings mirrors the settings a tutor gets when none are supplied.
func DefaultSettings() ExamSettings {
	return ExamSettings{
		RequireFullscreen:  true,
		DetectTabSwitch:    true,
		DisableCopyPaste:   true,
		DisableRightClick:  true,
		MaxViolations:      3,
		RandomizeQuestions: true,
	}
}

// Exam is a tutor-authored exam.
type Exam struct {
	ID             string       `json:"id"`
	Title          string       `json:"title" validate:"required"`
	Description    string       `json:"description"`
	RequiredFields []string     `json:"required_fields"`
	Questions      []Question   `json:"questions" validate:"required,min=1,dive"`
	Settings       ExamSettings `json:"settings"`
	CreatedAt      time.Time    `json:"created_at"`
	IsActive       bool         `json:"is_active"`
}

// Public returns a copy of the exam with every answer key removed.
func (e Exam) Public() Exam {
	out := e
	out.Questions = make([]Question, len(e.Questions))
	for i, q := range e.Questions {
		q.CorrectAnswer = Answer{}
		out.Questions[i] = q
	}
	return out
}

// StudentAnswer is one submitted answer. Answer may arrive as a string, a
// list, or a string holding an encoded list.
type StudentAnswer struct {
	QuestionID       string `json:"question_id"`
	Answer           Answer `json:"answer"`
	TimeSpentSeconds int    `json:"time_spent_seconds"`
}

// GradedAnswer is the per-question outcome of grading. Answer is nil when
// the student left the question unanswered.
type GradedAnswer struct {
	QuestionID string  `json:"question_id"`
	Answer     *string `json:"answer"`
	IsCorrect  bool    `json:"is_correct"`
}

// Result is the outcome of grading one submission.
type Result struct {
	Score         int            `json:"score"`
	MaxScore      int            `json:"max_score"`
	Percentage    float64        `json:"percentage"`
	GradedAnswers []GradedAnswer `json:"graded_answers"`
	ManualReview  []string       `json:"manual_review,omitempty"`
}

// Violation is a proctoring event reported by the exam client.
type Violation struct {
	Type      string    `json:"type" validate:"required"`
	Timestamp time.Time `json:"timestamp"`
	Details   string    `json:"details,omitempty"`
}

// Submission is a graded, stored exam attempt.
type Submission struct {
	ID            string            `json:"id"`
	ExamID        string            `json:"exam_id"`
	StudentData   map[string]string `json:"student_data"`
	Score         int               `json:"score"`
	MaxScore      int               `json:"max_score"`
	Percentage    float64           `json:"percentage"`
	ManualScore   *int              `json:"manual_score,omitempty"`
	FinalScore    *float64          `json:"final_score,omitempty"`
	Violations    []Violation       `json:"violations"`
	BrowserInfo   map[string]any    `json:"browser_info,omitempty"`
	IPAddress     string            `json:"ip_address,omitempty"`
	Flagged       bool              `json:"flagged"`
	SubmittedAt   time.Time         `json:"submitted_at"`
	ReviewedAt    *time.Time        `json:"reviewed_at,omitempty"`
	Answers       []GradedAnswer    `json:"answers,omitempty"`
	// ManualAnswers holds the raw answers to questions awaiting manual review.
	ManualAnswers map[string]string `json:"manual_answers,omitempty"`
}

// Analytics aggregates the submissions of one exam.
type Analytics struct {
	TotalAttempts  int     `json:"total_attempts"`
	AverageScore   float64 `json:"average_score"`
	FlaggedCount   int     `json:"flagged_count"`
	CompletionRate float64 `json:"completion_rate"`
	HighestScore   float64 `json:"highest_score"`
	LowestScore    float64 `json:"lowest_score"`
}

// ViolationLog is a violation reported outside of a submission.
type ViolationLog struct {
	ID        int64     `json:"id"`
	ExamID    string    `json:"exam_id"`
	Violation Violation `json:"violation"`
	LoggedAt  time.Time `json:"logged_at"`
}

// ServerConfig holds runtime parameters of the HTTP server set via CLI flags.
type ServerConfig struct {
	AllowedOrigins []string
	Lang           string
	BasePath       string // URL prefix for sub-path deployments (e.g. "/exams")
}
