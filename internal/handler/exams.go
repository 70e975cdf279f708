package handler

import (
	"errors"
	"io"
	"math/rand/v2"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/examshield/internal/catalog"
	appI18n "github.com/pavelanni/examshield/internal/i18n"
	"github.com/pavelanni/examshield/internal/metrics"
	"github.com/pavelanni/examshield/internal/model"
)

const maxUploadBytes = 10 << 20

func (h *Handler) handleCreateExam(w http.ResponseWriter, r *http.Request) {
	var def catalog.Definition
	if !decodeJSON(w, r, &def) {
		return
	}
	exam, err := h.catalog.Create(r.Context(), def)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, exam)
}

func (h *Handler) handleUpdateExam(w http.ResponseWriter, r *http.Request) {
	var def catalog.Definition
	if !decodeJSON(w, r, &def) {
		return
	}
	exam, err := h.catalog.Update(r.Context(), chi.URLParam(r, "examID"), def)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, exam)
}

func (h *Handler) handleListExams(w http.ResponseWriter, r *http.Request) {
	exams, err := h.store.ListExams(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, exams)
}

// handleImportExams accepts an exam file as multipart field "exam_file".
func (h *Handler) handleImportExams(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondMessage(w, r, http.StatusRequestEntityTooLarge, "ErrTooLarge")
			return
		}
		respondMessage(w, r, http.StatusBadRequest, "ErrNoFile")
		return
	}
	file, header, err := r.FormFile("exam_file")
	if err != nil {
		respondMessage(w, r, http.StatusBadRequest, "ErrNoFile")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		respondError(w, r, err)
		return
	}

	res, err := h.catalog.ImportFile(r.Context(), header.Filename, data)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if res.Duplicate {
		respondJSON(w, http.StatusOK, map[string]any{
			"message":   appI18n.T(r.Context(), "UploadDuplicate"),
			"duplicate": true,
		})
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{
		"message":   appI18n.Tp(r.Context(), "ExamsImported", len(res.ExamIDs)),
		"exam_ids":  res.ExamIDs,
		"questions": res.Questions,
	})
}

func (h *Handler) handleGetExam(w http.ResponseWriter, r *http.Request) {
	exam, err := h.submissions.LoadExam(r.Context(), chi.URLParam(r, "examID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, exam)
}

func (h *Handler) handleDeactivateExam(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeactivateExam(r.Context(), chi.URLParam(r, "examID")); err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": appI18n.T(r.Context(), "ExamDeactivated")})
}

// handlePublicExam serves the exam a student sees: no answer keys, and
// questions and options shuffled when the exam asks for it.
func (h *Handler) handlePublicExam(w http.ResponseWriter, r *http.Request) {
	exam, err := h.submissions.LoadExam(r.Context(), chi.URLParam(r, "examID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	if err := h.submissions.Available(exam); err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, shuffled(exam.Public()))
}

func shuffled(exam model.Exam) model.Exam {
	if exam.Settings.RandomizeQuestions {
		rand.Shuffle(len(exam.Questions), func(i, j int) {
			exam.Questions[i], exam.Questions[j] = exam.Questions[j], exam.Questions[i]
		})
	}
	for i, q := range exam.Questions {
		if !q.RandomizeOptions || len(q.Options) < 2 {
			continue
		}
		opts := slices.Clone(q.Options)
		rand.Shuffle(len(opts), func(a, b int) { opts[a], opts[b] = opts[b], opts[a] })
		exam.Questions[i].Options = opts
	}
	return exam
}

func (h *Handler) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	examID := chi.URLParam(r, "examID")
	if _, err := h.submissions.LoadExam(r.Context(), examID); err != nil {
		respondError(w, r, err)
		return
	}
	stats, err := h.store.ExamAnalytics(r.Context(), examID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	examID := chi.URLParam(r, "examID")
	export, err := h.store.ExportSubmissions(r.Context(), examID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="exam-`+examID+`-results.json"`)
	respondJSON(w, http.StatusOK, export)
}

func (h *Handler) handleLogViolation(w http.ResponseWriter, r *http.Request) {
	examID := chi.URLParam(r, "examID")
	var v model.Violation
	if !decodeJSON(w, r, &v) {
		return
	}
	if v.Type == "" {
		respondMessage(w, r, http.StatusBadRequest, "ErrInvalidViolation")
		return
	}
	if _, err := h.submissions.LoadExam(r.Context(), examID); err != nil {
		respondError(w, r, err)
		return
	}
	entry, err := h.store.LogViolation(r.Context(), examID, v)
	if err != nil {
		respondError(w, r, err)
		return
	}
	metrics.Violations().WithLabelValues(v.Type).Inc()
	respondJSON(w, http.StatusCreated, map[string]any{
		"message":   appI18n.T(r.Context(), "ViolationLogged"),
		"violation": entry,
	})
}

func (h *Handler) handleListViolations(w http.ResponseWriter, r *http.Request) {
	examID := chi.URLParam(r, "examID")
	if _, err := h.submissions.LoadExam(r.Context(), examID); err != nil {
		respondError(w, r, err)
		return
	}
	logs, err := h.store.ListViolations(r.Context(), examID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, logs)
}
