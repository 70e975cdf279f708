package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/pavelanni/examshield/internal/catalog"
	appI18n "github.com/pavelanni/examshield/internal/i18n"
	"github.com/pavelanni/examshield/internal/store"
	"github.com/pavelanni/examshield/internal/submission"
)

const maxBodyBytes = 1 << 20

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func respondMessage(w http.ResponseWriter, r *http.Request, status int, msgID string) {
	respondJSON(w, status, map[string]string{"error": appI18n.T(r.Context(), msgID)})
}

func respondDetail(w http.ResponseWriter, r *http.Request, status int, msgID string, err error) {
	msg := appI18n.Td(r.Context(), msgID, map[string]any{"Detail": err.Error()})
	respondJSON(w, status, map[string]string{"error": msg})
}

// decodeJSON reads a size-limited JSON body into v and writes the error
// response itself when it fails.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondMessage(w, r, http.StatusRequestEntityTooLarge, "ErrTooLarge")
			return false
		}
		respondMessage(w, r, http.StatusBadRequest, "ErrInvalidJSON")
		return false
	}
	return true
}

// respondError maps domain errors to status codes and localized messages.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, submission.ErrExamNotFound):
		respondMessage(w, r, http.StatusNotFound, "ErrExamNotFound")
	case errors.Is(err, submission.ErrSubmissionNotFound):
		respondMessage(w, r, http.StatusNotFound, "ErrSubmissionNotFound")
	case errors.Is(err, store.ErrNotFound):
		respondMessage(w, r, http.StatusNotFound, "ErrExamNotFound")
	case errors.Is(err, store.ErrExamInUse):
		respondMessage(w, r, http.StatusConflict, "ErrExamInUse")
	case errors.Is(err, submission.ErrExamInactive):
		respondMessage(w, r, http.StatusForbidden, "ErrExamInactive")
	case errors.Is(err, submission.ErrExamNotStarted):
		respondMessage(w, r, http.StatusForbidden, "ErrExamNotStarted")
	case errors.Is(err, submission.ErrExamEnded):
		respondMessage(w, r, http.StatusForbidden, "ErrExamEnded")
	case errors.Is(err, submission.ErrInvalidRequest):
		respondDetail(w, r, http.StatusBadRequest, "ErrInvalidRequest", err)
	case errors.Is(err, submission.ErrInvalidReview):
		respondDetail(w, r, http.StatusBadRequest, "ErrInvalidReview", err)
	case errors.Is(err, catalog.ErrInvalidExam):
		respondDetail(w, r, http.StatusBadRequest, "ErrInvalidExam", err)
	default:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		respondMessage(w, r, http.StatusInternalServerError, "ErrInternal")
	}
}
