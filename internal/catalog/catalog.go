// Package catalog creates exams from tutor-authored definitions, either one
// at a time or from exam files.
package catalog

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/pavelanni/examshield/internal/grading"
	"github.com/pavelanni/examshield/internal/metrics"
	"github.com/pavelanni/examshield/internal/model"
)

// ErrInvalidExam wraps every reason an exam definition is rejected.
var ErrInvalidExam = errors.New("invalid exam")

// Store is the persistence the catalog needs.
type Store interface {
	CreateExam(ctx context.Context, exam model.Exam) error
	GetExam(ctx context.Context, id string) (model.Exam, error)
	UpdateExam(ctx context.Context, exam model.Exam) error
	GetImportedFileHash(path string) (string, error)
	SetImportedFileHash(path, hash string) error
}

// Definition is an exam as written by a tutor. Settings default to
// model.DefaultSettings when omitted, and questions without an id get one.
type Definition struct {
	Title          string              `json:"title"`
	Description    string              `json:"description"`
	RequiredFields []string            `json:"required_fields"`
	Questions      []model.Question    `json:"questions"`
	Settings       *model.ExamSettings `json:"settings,omitempty"`
}

// ImportResult reports what happened to one exam file.
type ImportResult struct {
	ExamIDs   []string `json:"exam_ids"`
	Questions int      `json:"questions"`
	Duplicate bool     `json:"duplicate"`
}

// Catalog validates and stores exams.
type Catalog struct {
	store    Store
	engine   *grading.Engine
	validate *validator.Validate
	now      func() time.Time
	newID    func() string
}

// New creates a catalog backed by s.
func New(s Store, engine *grading.Engine) *Catalog {
	return &Catalog{
		store:    s,
		engine:   engine,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Build turns a definition into a validated, active exam without storing it.
func (c *Catalog) Build(def Definition) (model.Exam, error) {
	settings := model.DefaultSettings()
	if def.Settings != nil {
		settings = *def.Settings
	}
	exam := model.Exam{
		ID:             c.newID(),
		Title:          def.Title,
		Description:    def.Description,
		RequiredFields: def.RequiredFields,
		Questions:      make([]model.Question, len(def.Questions)),
		Settings:       settings,
		CreatedAt:      c.now().UTC(),
		IsActive:       true,
	}
	for i, q := range def.Questions {
		if q.ID == "" {
			q.ID = c.newID()
		}
		exam.Questions[i] = q
	}

	if err := c.validate.Struct(exam); err != nil {
		return model.Exam{}, fmt.Errorf("%w: %v", ErrInvalidExam, err)
	}
	if err := c.engine.Check(exam.Questions); err != nil {
		return model.Exam{}, fmt.Errorf("%w: %v", ErrInvalidExam, err)
	}
	if st, et := settings.StartTime, settings.EndTime; st != nil && et != nil && !et.After(*st) {
		return model.Exam{}, fmt.Errorf("%w: end_time must be after start_time", ErrInvalidExam)
	}
	return exam, nil
}

// Create validates and stores a new exam.
func (c *Catalog) Create(ctx context.Context, def Definition) (model.Exam, error) {
	exam, err := c.Build(def)
	if err != nil {
		return model.Exam{}, err
	}
	if err := c.store.CreateExam(ctx, exam); err != nil {
		return model.Exam{}, fmt.Errorf("store exam: %w", err)
	}
	metrics.QuestionsImported().Add(float64(len(exam.Questions)))
	slog.Info("exam created", "exam_id", exam.ID, "title", exam.Title, "questions", len(exam.Questions))
	return exam, nil
}

// Update replaces the definition of an existing exam after validating it the
// same way Create does. The exam keeps its id, creation time and active flag.
// Exams that already have submissions cannot be edited (store.ErrExamInUse);
// create a new exam instead.
func (c *Catalog) Update(ctx context.Context, examID string, def Definition) (model.Exam, error) {
	current, err := c.store.GetExam(ctx, examID)
	if err != nil {
		return model.Exam{}, err
	}
	exam, err := c.Build(def)
	if err != nil {
		return model.Exam{}, err
	}
	exam.ID = current.ID
	exam.CreatedAt = current.CreatedAt
	exam.IsActive = current.IsActive

	if err := c.store.UpdateExam(ctx, exam); err != nil {
		return model.Exam{}, fmt.Errorf("update exam: %w", err)
	}
	slog.Info("exam updated", "exam_id", exam.ID, "title", exam.Title, "questions", len(exam.Questions))
	return exam, nil
}

// ImportFile creates the exams held in an exam file: one definition or a JSON
// array of them. A file whose content hash was already imported under the
// same name is skipped.
func (c *Catalog) ImportFile(ctx context.Context, name string, data []byte) (ImportResult, error) {
	hash := sha256sum(data)
	storedHash, err := c.store.GetImportedFileHash(name)
	if err != nil {
		return ImportResult{}, fmt.Errorf("check import status for %s: %w", name, err)
	}
	if storedHash == hash {
		slog.Info("exam file unchanged, skipping", "file", name)
		return ImportResult{Duplicate: true}, nil
	}

	defs, err := DecodeDefinitions(data)
	if err != nil {
		return ImportResult{}, fmt.Errorf("%w: parse %s: %v", ErrInvalidExam, name, err)
	}

	// Validate everything before storing anything.
	exams := make([]model.Exam, 0, len(defs))
	for i, def := range defs {
		exam, err := c.Build(def)
		if err != nil {
			return ImportResult{}, fmt.Errorf("exam %d of %s: %w", i+1, name, err)
		}
		exams = append(exams, exam)
	}

	var res ImportResult
	for _, exam := range exams {
		if err := c.store.CreateExam(ctx, exam); err != nil {
			return res, fmt.Errorf("store exam from %s: %w", name, err)
		}
		res.ExamIDs = append(res.ExamIDs, exam.ID)
		res.Questions += len(exam.Questions)
	}
	metrics.QuestionsImported().Add(float64(res.Questions))

	if err := c.store.SetImportedFileHash(name, hash); err != nil {
		return res, fmt.Errorf("record import for %s: %w", name, err)
	}
	if storedHash != "" {
		slog.Warn("exam file changed since last import, stored as new exams", "file", name)
	}
	slog.Info("imported exams", "file", name, "exams", len(res.ExamIDs), "questions", res.Questions)
	return res, nil
}

// DecodeDefinitions reads an exam file: one definition or a non-empty JSON
// array of them.
func DecodeDefinitions(data []byte) ([]Definition, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var defs []Definition
		if err := json.Unmarshal(trimmed, &defs); err != nil {
			return nil, err
		}
		if len(defs) == 0 {
			return nil, errors.New("no exams in file")
		}
		return defs, nil
	}
	var def Definition
	if err := json.Unmarshal(trimmed, &def); err != nil {
		return nil, err
	}
	return []Definition{def}, nil
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
