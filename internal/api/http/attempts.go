package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/mindengage-exams/internal/attempt"
	auth "github.com/mind-engage/mindengage-exams/internal/auth/middleware"
	"github.com/mind-engage/mindengage-exams/internal/rbac"
)

// AttemptService is the attempt lifecycle as seen by the HTTP layer.
type AttemptService interface {
	CreateAttempt(ctx context.Context, examID, userID int64) (*attempt.View, error)
	GetOngoingAttempt(ctx context.Context, examID, userID int64) (*attempt.Attempt, error)
	SaveAnswers(ctx context.Context, attemptID, userID int64, answers []attempt.AnswerInput) (*attempt.Attempt, error)
	Submit(ctx context.Context, attemptID, userID int64, answers []attempt.AnswerInput) (*attempt.Attempt, error)
	Detail(ctx context.Context, attemptID, userID int64) (*attempt.View, error)
	DetailAfterSubmit(ctx context.Context, attemptID, userID int64) (*attempt.View, error)
	Destroy(ctx context.Context, attemptID, userID int64) error
	ListAttempts(ctx context.Context, opts attempt.ListOpts) (*attempt.Page, error)
}

type createAttemptRequest struct {
	ExamID int64 `json:"exam_id" validate:"required,gt=0"`
}

type answersRequest struct {
	Answers []attempt.AnswerInput `json:"list_answer" validate:"dive"`
}

// MountAttempts registers the attempt routes on r. r must already run JWTMiddleware.
func MountAttempts(r chi.Router, svc AttemptService) {
	r.With(rbac.Require("attempt:create")).Post("/", CreateAttemptHandler(svc))
	r.With(rbac.RequireAny("attempt:view-own", "attempt:view-all")).Get("/", ListAttemptsHandler(svc))
	r.With(rbac.Require("attempt:view-own")).Get("/ongoing", OngoingAttemptHandler(svc))
	r.Route("/{attemptID}", func(ar chi.Router) {
		ar.With(rbac.Require("attempt:save")).Post("/answer", SaveAnswersHandler(svc))
		ar.With(rbac.Require("attempt:submit")).Post("/submit", SubmitAttemptHandler(svc))
		ar.With(rbac.Require("attempt:view-own")).Get("/exams", AttemptDetailHandler(svc))
		ar.With(rbac.Require("attempt:view-own")).Get("/result", AttemptResultHandler(svc))
		ar.With(rbac.Require("attempt:delete-own")).Delete("/", DeleteAttemptHandler(svc))
	})
}

// POST /exam-attempts {exam_id}
func CreateAttemptHandler(svc AttemptService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			writeJSON(w, http.StatusUnauthorized, errorBody{Code: "unauthenticated", Message: "no user"})
			return
		}
		var req createAttemptRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		v, err := svc.CreateAttempt(r.Context(), req.ExamID, userID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, v)
	}
}

// GET /exam-attempts/ongoing?exam_id=
func OngoingAttemptHandler(svc AttemptService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			writeJSON(w, http.StatusUnauthorized, errorBody{Code: "unauthenticated", Message: "no user"})
			return
		}
		examID, err := parseID(r.URL.Query().Get("exam_id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		a, err := svc.GetOngoingAttempt(r.Context(), examID, userID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		// null body when there is nothing to resume
		writeJSON(w, http.StatusOK, a)
	}
}

// POST /exam-attempts/{attemptID}/answer {list_answer}
func SaveAnswersHandler(svc AttemptService) http.HandlerFunc {
	return withAnswers(func(w http.ResponseWriter, r *http.Request, id, userID int64, answers []attempt.AnswerInput) {
		a, err := svc.SaveAnswers(r.Context(), id, userID, answers)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, a)
	})
}

// POST /exam-attempts/{attemptID}/submit {list_answer}
func SubmitAttemptHandler(svc AttemptService) http.HandlerFunc {
	return withAnswers(func(w http.ResponseWriter, r *http.Request, id, userID int64, answers []attempt.AnswerInput) {
		a, err := svc.Submit(r.Context(), id, userID, answers)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, a)
	})
}

// GET /exam-attempts/{attemptID}/exams
func AttemptDetailHandler(svc AttemptService) http.HandlerFunc {
	return withAttempt(func(w http.ResponseWriter, r *http.Request, id, userID int64) {
		v, err := svc.Detail(r.Context(), id, userID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, v)
	})
}

// GET /exam-attempts/{attemptID}/result
func AttemptResultHandler(svc AttemptService) http.HandlerFunc {
	return withAttempt(func(w http.ResponseWriter, r *http.Request, id, userID int64) {
		v, err := svc.DetailAfterSubmit(r.Context(), id, userID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, v)
	})
}

// DELETE /exam-attempts/{attemptID}
func DeleteAttemptHandler(svc AttemptService) http.HandlerFunc {
	return withAttempt(func(w http.ResponseWriter, r *http.Request, id, userID int64) {
		if err := svc.Destroy(r.Context(), id, userID); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

type attemptHandler func(w http.ResponseWriter, r *http.Request, attemptID, userID int64)

func withAttempt(next attemptHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			writeJSON(w, http.StatusUnauthorized, errorBody{Code: "unauthenticated", Message: "no user"})
			return
		}
		id, err := parseID(chi.URLParam(r, "attemptID"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		next(w, r, id, userID)
	}
}

func withAnswers(next func(w http.ResponseWriter, r *http.Request, id, userID int64, answers []attempt.AnswerInput)) http.HandlerFunc {
	return withAttempt(func(w http.ResponseWriter, r *http.Request, id, userID int64) {
		var req answersRequest
		if r.ContentLength != 0 {
			if err := decodeBody(r, &req); err != nil {
				writeError(w, r, err)
				return
			}
		}
		next(w, r, id, userID, req.Answers)
	})
}
