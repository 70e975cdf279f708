package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pavelanni/examshield/internal/model"

	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when a requested exam or submission does not exist.
	ErrNotFound = errors.New("not found")
	// ErrExamInUse is returned when an exam that already has submissions is edited.
	ErrExamInUse = errors.New("exam has submissions")
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	// Pragmas run on every new connection. Immediate transactions take the
	// write lock up front so concurrent writers wait on busy_timeout.
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// An in-memory database lives per connection.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS exams (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		required_fields TEXT NOT NULL DEFAULT '[]',
		settings TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS questions (
		exam_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		id TEXT NOT NULL,
		type TEXT NOT NULL,
		text TEXT NOT NULL,
		options TEXT NOT NULL DEFAULT '[]',
		correct_answer TEXT NOT NULL DEFAULT 'null',
		points INTEGER NOT NULL DEFAULT 1,
		randomize_options INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (exam_id, id),
		FOREIGN KEY (exam_id) REFERENCES exams(id)
	);

	CREATE TABLE IF NOT EXISTS submissions (
		id TEXT PRIMARY KEY,
		exam_id TEXT NOT NULL,
		student_data TEXT NOT NULL DEFAULT '{}',
		score INTEGER NOT NULL DEFAULT 0,
		max_score INTEGER NOT NULL DEFAULT 0,
		percentage REAL NOT NULL DEFAULT 0,
		manual_score INTEGER,
		final_score REAL,
		violations TEXT NOT NULL DEFAULT '[]',
		browser_info TEXT NOT NULL DEFAULT '{}',
		manual_answers TEXT NOT NULL DEFAULT '{}',
		ip_address TEXT NOT NULL DEFAULT '',
		flagged INTEGER NOT NULL DEFAULT 0,
		submitted_at DATETIME NOT NULL,
		reviewed_at DATETIME,
		FOREIGN KEY (exam_id) REFERENCES exams(id)
	);

	CREATE INDEX IF NOT EXISTS idx_submissions_exam ON submissions(exam_id, submitted_at);

	CREATE TABLE IF NOT EXISTS submission_answers (
		submission_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		question_id TEXT NOT NULL,
		answer TEXT,
		is_correct INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (submission_id, position),
		FOREIGN KEY (submission_id) REFERENCES submissions(id)
	);

	CREATE TABLE IF NOT EXISTS violation_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		exam_id TEXT NOT NULL,
		type TEXT NOT NULL,
		details TEXT NOT NULL DEFAULT '',
		occurred_at DATETIME NOT NULL,
		logged_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS imported_files (
		path TEXT PRIMARY KEY,
		hash TEXT NOT NULL,
		imported_at DATETIME NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateExam stores an exam and its questions in one transaction.
func (s *Store) CreateExam(ctx context.Context, exam model.Exam) error {
	fields, err := json.Marshal(nonNil(exam.RequiredFields))
	if err != nil {
		return fmt.Errorf("encode required fields: %w", err)
	}
	settings, err := json.Marshal(exam.Settings)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO exams (id, title, description, required_fields, settings, created_at, is_active)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		exam.ID, exam.Title, exam.Description, string(fields), string(settings), exam.CreatedAt.UTC(), exam.IsActive,
	)
	if err != nil {
		return fmt.Errorf("insert exam: %w", err)
	}

	if err := insertQuestions(ctx, tx, exam); err != nil {
		return err
	}
	return tx.Commit()
}

// UpdateExam replaces the definition and questions of an exam. The id,
// creation time and active flag are kept. Exams that already have
// submissions are refused with ErrExamInUse so stored grades stay consistent
// with the questions they were graded against.
func (s *Store) UpdateExam(ctx context.Context, exam model.Exam) error {
	fields, err := json.Marshal(nonNil(exam.RequiredFields))
	if err != nil {
		return fmt.Errorf("encode required fields: %w", err)
	}
	settings, err := json.Marshal(exam.Settings)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var submissions int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM submissions WHERE exam_id = ?`, exam.ID,
	).Scan(&submissions); err != nil {
		return fmt.Errorf("count submissions: %w", err)
	}
	if submissions > 0 {
		return fmt.Errorf("exam %q has %d submissions: %w", exam.ID, submissions, ErrExamInUse)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE exams SET title = ?, description = ?, required_fields = ?, settings = ? WHERE id = ?`,
		exam.Title, exam.Description, string(fields), string(settings), exam.ID,
	)
	if err != nil {
		return fmt.Errorf("update exam: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("exam %q: %w", exam.ID, ErrNotFound)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM questions WHERE exam_id = ?`, exam.ID); err != nil {
		return fmt.Errorf("delete questions: %w", err)
	}
	if err := insertQuestions(ctx, tx, exam); err != nil {
		return err
	}
	return tx.Commit()
}

func insertQuestions(ctx context.Context, tx *sql.Tx, exam model.Exam) error {
	for i, q := range exam.Questions {
		opts, err := json.Marshal(nonNil(q.Options))
		if err != nil {
			return fmt.Errorf("encode options of %q: %w", q.ID, err)
		}
		key, err := json.Marshal(q.CorrectAnswer)
		if err != nil {
			return fmt.Errorf("encode answer key of %q: %w", q.ID, err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO questions (exam_id, position, id, type, text, options, correct_answer, points, randomize_options)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			exam.ID, i, q.ID, q.Type, q.Text, string(opts), string(key), q.Points, q.RandomizeOptions,
		)
		if err != nil {
			return fmt.Errorf("insert question %q: %w", q.ID, err)
		}
	}
	return nil
}

// GetExam returns an exam with its questions, answer keys included.
func (s *Store) GetExam(ctx context.Context, id string) (model.Exam, error) {
	var (
		exam             model.Exam
		fields, settings string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, description, required_fields, settings, created_at, is_active FROM exams WHERE id = ?`, id,
	).Scan(&exam.ID, &exam.Title, &exam.Description, &fields, &settings, &exam.CreatedAt, &exam.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Exam{}, fmt.Errorf("exam %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Exam{}, err
	}
	if err := json.Unmarshal([]byte(fields), &exam.RequiredFields); err != nil {
		return model.Exam{}, fmt.Errorf("decode required fields: %w", err)
	}
	if err := json.Unmarshal([]byte(settings), &exam.Settings); err != nil {
		return model.Exam{}, fmt.Errorf("decode settings: %w", err)
	}

	exam.Questions, err = s.QuestionsForExam(ctx, id)
	if err != nil {
		return model.Exam{}, err
	}
	return exam, nil
}

// ListExams returns all exams, newest first, without their questions.
func (s *Store) ListExams(ctx context.Context) ([]model.Exam, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, description, required_fields, settings, created_at, is_active
		 FROM exams ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	exams := []model.Exam{}
	for rows.Next() {
		var (
			e                model.Exam
			fields, settings string
		)
		if err := rows.Scan(&e.ID, &e.Title, &e.Description, &fields, &settings, &e.CreatedAt, &e.IsActive); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(fields), &e.RequiredFields); err != nil {
			return nil, fmt.Errorf("decode required fields of %q: %w", e.ID, err)
		}
		if err := json.Unmarshal([]byte(settings), &e.Settings); err != nil {
			return nil, fmt.Errorf("decode settings of %q: %w", e.ID, err)
		}
		exams = append(exams, e)
	}
	return exams, rows.Err()
}

// DeactivateExam closes an exam for new submissions.
func (s *Store) DeactivateExam(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE exams SET is_active = 0 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("exam %q: %w", id, ErrNotFound)
	}
	return nil
}

// QuestionsForExam returns the questions of an exam in authoring order.
func (s *Store) QuestionsForExam(ctx context.Context, examID string) ([]model.Question, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, type, text, options, correct_answer, points, randomize_options
		 FROM questions WHERE exam_id = ? ORDER BY position`, examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	questions := []model.Question{}
	for rows.Next() {
		var (
			q         model.Question
			opts, key string
		)
		if err := rows.Scan(&q.ID, &q.Type, &q.Text, &opts, &key, &q.Points, &q.RandomizeOptions); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(opts), &q.Options); err != nil {
			return nil, fmt.Errorf("decode options of %q: %w", q.ID, err)
		}
		if err := json.Unmarshal([]byte(key), &q.CorrectAnswer); err != nil {
			return nil, fmt.Errorf("decode answer key of %q: %w", q.ID, err)
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// now is the timestamp source for rows written by the store itself.
var now = func() time.Time { return time.Now().UTC() }
