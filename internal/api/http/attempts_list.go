package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/mind-engage/mindengage-exams/internal/attempt"
	auth "github.com/mind-engage/mindengage-exams/internal/auth/middleware"
	"github.com/mind-engage/mindengage-exams/internal/rbac"
)

// GET /exam-attempts?exam_id=...&user_id=...&is_finished=true&limit=50&offset=0
// RBAC:
// - role with attempt:view-all can filter by any user_id
// - otherwise user_id is forced to the caller
func ListAttemptsHandler(svc AttemptService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sub, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			writeJSON(w, http.StatusUnauthorized, errorBody{Code: "unauthenticated", Message: "no user"})
			return
		}
		q := r.URL.Query()

		opts := attempt.ListOpts{
			Limit:  parseIntDefault(q.Get("limit"), 50),
			Offset: parseIntDefault(q.Get("offset"), 0),
		}
		if s := strings.TrimSpace(q.Get("exam_id")); s != "" {
			id, err := parseID(s)
			if err != nil {
				writeError(w, r, err)
				return
			}
			opts.ExamID = id
		}
		if s := strings.TrimSpace(q.Get("is_finished")); s != "" {
			if b, err := strconv.ParseBool(s); err == nil {
				opts.IsFinished = &b
			}
		}

		opts.UserID = sub
		if rbac.Can(r, "attempt:view-all") {
			opts.UserID = 0
			if s := strings.TrimSpace(q.Get("user_id")); s != "" {
				id, err := parseID(s)
				if err != nil {
					writeError(w, r, err)
					return
				}
				opts.UserID = id
			}
		}

		page, err := svc.ListAttempts(r.Context(), opts)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, page)
	}
}
