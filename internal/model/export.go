package model

import "time"

// ExamExport is the top-level JSON structure for exam result export.
type ExamExport struct {
	ExamID         string          `json:"exam_id"`
	Title          string          `json:"title"`
	ExportedAt     time.Time       `json:"exported_at"`
	NumQuestions   int             `json:"num_questions"`
	RequiredFields []string        `json:"required_fields"`
	Results        []StudentResult `json:"results"`
}

// StudentResult holds one student's graded submission for export.
type StudentResult struct {
	SubmissionID string            `json:"submission_id"`
	StudentData  map[string]string `json:"student_data"`
	Score        int               `json:"score"`
	MaxScore     int               `json:"max_score"`
	Percentage   float64           `json:"percentage"`
	FinalScore   *float64          `json:"final_score,omitempty"`
	Violations   int               `json:"violations"`
	Flagged      bool              `json:"flagged"`
	SubmittedAt  time.Time         `json:"submitted_at"`
	Answers      []GradedAnswer    `json:"answers"`
}
