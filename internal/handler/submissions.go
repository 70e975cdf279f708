package handler

import (
	"errors"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/examshield/internal/grading"
	"github.com/pavelanni/examshield/internal/llm"
	"github.com/pavelanni/examshield/internal/store"
	"github.com/pavelanni/examshield/internal/submission"
)

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submission.Request
	if !decodeJSON(w, r, &req) {
		return
	}
	req.IPAddress = clientIP(r)

	receipt, err := h.submissions.Submit(r.Context(), chi.URLParam(r, "examID"), req)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, receipt)
}

// clientIP strips the port from RemoteAddr, which middleware.RealIP has
// already replaced with the forwarded address when one was sent.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (h *Handler) handleListAttempts(w http.ResponseWriter, r *http.Request) {
	examID := chi.URLParam(r, "examID")
	if _, err := h.submissions.LoadExam(r.Context(), examID); err != nil {
		respondError(w, r, err)
		return
	}
	subs, err := h.store.ListSubmissions(r.Context(), examID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, subs)
}

func (h *Handler) handleGetSubmission(w http.ResponseWriter, r *http.Request) {
	sub, err := h.store.GetSubmission(r.Context(), chi.URLParam(r, "submissionID"))
	if errors.Is(err, store.ErrNotFound) {
		err = submission.ErrSubmissionNotFound
	}
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, sub)
}

type reviewRequest struct {
	Awards map[string]int `json:"awards"`
}

func (h *Handler) handleReview(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sub, err := h.submissions.Review(r.Context(), chi.URLParam(r, "submissionID"), req.Awards)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, sub)
}

// handleSuggestions asks the reviewer for a score on every stored free-text
// answer of a submission. Suggestions are advisory and never stored.
func (h *Handler) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	if h.reviewer == nil {
		respondMessage(w, r, http.StatusServiceUnavailable, "ErrReviewerUnavailable")
		return
	}
	sub, err := h.store.GetSubmission(r.Context(), chi.URLParam(r, "submissionID"))
	if errors.Is(err, store.ErrNotFound) {
		err = submission.ErrSubmissionNotFound
	}
	if err != nil {
		respondError(w, r, err)
		return
	}
	exam, err := h.submissions.LoadExam(r.Context(), sub.ExamID)
	if err != nil {
		respondError(w, r, err)
		return
	}

	suggestions := []llm.Suggestion{}
	for _, q := range exam.Questions {
		if grading.AutoGraded(q) {
			continue
		}
		answer, ok := sub.ManualAnswers[q.ID]
		if !ok {
			continue
		}
		s, err := h.reviewer.SuggestScore(r.Context(), q, answer)
		if err != nil {
			respondError(w, r, err)
			return
		}
		suggestions = append(suggestions, s)
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"submission_id": sub.ID,
		"suggestions":   suggestions,
	})
}
