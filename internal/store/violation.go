package store

import (
	"context"

	"github.com/pavelanni/examshield/internal/model"
)

// LogViolation records a proctoring event reported while an exam is in
// progress. The violation is kept even if no submission follows.
func (s *Store) LogViolation(ctx context.Context, examID string, v model.Violation) (model.ViolationLog, error) {
	entry := model.ViolationLog{ExamID: examID, Violation: v, LoggedAt: now()}
	if entry.Violation.Timestamp.IsZero() {
		entry.Violation.Timestamp = entry.LoggedAt
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO violation_logs (exam_id, type, details, occurred_at, logged_at) VALUES (?, ?, ?, ?, ?)`,
		examID, v.Type, v.Details, entry.Violation.Timestamp.UTC(), entry.LoggedAt,
	)
	if err != nil {
		return model.ViolationLog{}, err
	}
	entry.ID, err = res.LastInsertId()
	return entry, err
}

// ListViolations returns the logged violations of an exam in arrival order.
func (s *Store) ListViolations(ctx context.Context, examID string) ([]model.ViolationLog, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, exam_id, type, details, occurred_at, logged_at
		 FROM violation_logs WHERE exam_id = ? ORDER BY id`, examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	logs := []model.ViolationLog{}
	for rows.Next() {
		var l model.ViolationLog
		if err := rows.Scan(&l.ID, &l.ExamID, &l.Violation.Type, &l.Violation.Details, &l.Violation.Timestamp, &l.LoggedAt); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
